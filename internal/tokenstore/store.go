package tokenstore

import (
	"context"
	"errors"
	"time"
)

// validityMargin is subtracted from the formal expiry when judging whether a
// token is still usable. API 엔드포인트가 만료 직전 토큰을 거부하는 경우 대비.
const validityMargin = 10 * time.Minute

// ErrNotFound is returned when a store holds no token or credentials.
var ErrNotFound = errors.New("tokenstore: not found")

// Token is the persisted OAuth access token.
// Schema: {access_token, issued_at, expires_at} (RFC3339 timestamps).
type Token struct {
	AccessToken string    `json:"access_token"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the token is within its usable window.
func (t *Token) Valid(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return now.Before(t.ExpiresAt.Add(-validityMargin))
}

// Remaining returns the time left until formal expiry (negative when expired).
func (t *Token) Remaining(now time.Time) time.Duration {
	if t == nil {
		return 0
	}
	return t.ExpiresAt.Sub(now)
}

// CredentialSource tags where credentials were resolved from.
type CredentialSource string

const (
	SourceRemoteShared     CredentialSource = "remote-shared"
	SourceLocalEnvironment CredentialSource = "local-environment"
)

// Credentials is the KIS app key pair plus optional account number.
type Credentials struct {
	AppKey    string           `json:"app_key"`
	AppSecret string           `json:"app_secret"`
	AccountNo string           `json:"account_no,omitempty"`
	Source    CredentialSource `json:"-"`
}

// Complete reports whether the required key pair is present.
func (c *Credentials) Complete() bool {
	return c != nil && c.AppKey != "" && c.AppSecret != ""
}

// Store is one token persistence backend. Stores are tried in priority
// order; each holds at most one token, so the first hit wins.
type Store interface {
	Name() string
	GetToken(ctx context.Context) (*Token, error)
	PutToken(ctx context.Context, tok *Token) error
}

// CredentialStore additionally holds a shared credential pair.
// 환경변수로 들어온 자격증명은 여기로 write-through 된다 (cache warming).
type CredentialStore interface {
	Store
	GetCredentials(ctx context.Context) (*Credentials, error)
	PutCredentials(ctx context.Context, creds *Credentials) error
}
