package kis

import (
	"fmt"
	"strings"
	"time"
)

// QuotaError is returned when a token refresh is requested before the
// issuance quota window has elapsed (발급은 1일 1회 제한).
// It is never retried automatically; callers decide whether to wait.
type QuotaError struct {
	Wait       time.Duration // remaining time until refresh is allowed
	LastIssued time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf(
		"token refresh limited to once per day: retry in %.1fh (last issued %s)",
		e.Wait.Hours(), e.LastIssued.Format("2006-01-02 15:04:05"),
	)
}

// APIError is a failure reported by the KIS response envelope or an HTTP
// error status, with the upstream message extracted where possible.
type APIError struct {
	StatusCode int    // HTTP status (0 when the envelope itself failed)
	Code       string // msg_cd
	Msg        string // msg1
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("kis api error: %s - %s", e.Code, e.Msg)
	}
	if e.Msg != "" {
		return fmt.Sprintf("kis api error (status %d): %s", e.StatusCode, e.Msg)
	}
	return fmt.Sprintf("kis api error (status %d)", e.StatusCode)
}

// expiryMarkers are message fragments that indicate an expired/invalid token
// inside an HTTP 200 envelope. EGW00123 is the gateway's expiry code.
var expiryMarkers = []string{
	"egw00123",
	"token",
	"만료",
	"유효하지 않은",
}

// indicatesExpiry reports whether an envelope failure message points at an
// expired or invalid access token.
func indicatesExpiry(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range expiryMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
