package kis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/wonny/kisradar/pkg/httputil"
	"github.com/wonny/kisradar/pkg/logger"
)

// maxAuthRetries bounds the refresh-and-retry cycle on auth failure.
// 재발급은 호출당 최대 1회만 시도한다 (무한 루프 방지).
const maxAuthRetries = 1

// Client executes authenticated KIS REST calls.
// ⭐ SSOT: 모든 KIS API 호출은 이 클라이언트를 경유
//
// Auth failure handling: 401 또는 토큰 만료 응답 시 토큰을 재발급하고
// 같은 요청을 한 번만 재시도한다. 재발급이 쿼터에 걸리면 그대로 실패.
type Client struct {
	session    *Session
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
}

// NewClient wires a request executor onto the given session.
func NewClient(session *Session, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		session:    session,
		httpClient: httpClient,
		logger:     log,
		baseURL:    session.cfg.BaseURL,
	}
}

// Session exposes the underlying session for token inspection.
func (c *Client) Session() *Session {
	return c.session
}

// Call performs a GET against the given API path with KIS headers and
// decodes the response envelope. A nil envelope error means rt_cd == "0".
func (c *Client) Call(ctx context.Context, path, trID string, params map[string]string) (*Envelope, error) {
	for attempt := 0; ; attempt++ {
		env, err := c.callOnce(ctx, path, trID, params)
		if err == nil {
			return env, nil
		}

		if attempt >= maxAuthRetries || !isAuthFailure(err) {
			return nil, err
		}

		c.logger.WithError(err).WithField("tr_id", trID).Warn("auth failure, refreshing token and retrying once")
		if _, refreshErr := c.session.Refresh(ctx); refreshErr != nil {
			var qe *QuotaError
			if errors.As(refreshErr, &qe) {
				return nil, fmt.Errorf("token expired and reissue blocked: %w", refreshErr)
			}
			return nil, fmt.Errorf("token refresh failed: %w", refreshErr)
		}
	}
}

// callOnce is a single request/decode cycle, no refresh.
func (c *Client) callOnce(ctx context.Context, path, trID string, params map[string]string) (*Envelope, error) {
	token, err := c.session.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, v)
		}
		reqURL += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("appkey", c.session.creds.AppKey)
	req.Header.Set("appsecret", c.session.creds.AppSecret)
	req.Header.Set("tr_id", trID)
	req.Header.Set("custtype", "P")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed (%s): %w", trID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response (%s): %w", trID, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &APIError{StatusCode: resp.StatusCode, Msg: string(body)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Msg: string(body)}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode response (%s): %w", trID, err)
	}

	if !env.OK() {
		return nil, &APIError{StatusCode: resp.StatusCode, Code: env.MsgCd, Msg: env.Msg1}
	}

	return &env, nil
}

// isAuthFailure reports whether the error warrants a token refresh: a plain
// 401, or a 200-envelope whose message indicates token expiry (EGW00123 등).
func isAuthFailure(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusUnauthorized {
		return true
	}
	return indicatesExpiry(apiErr.Code) || indicatesExpiry(apiErr.Msg)
}
