package kis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/wonny/kisradar/internal/tokenstore"
	"github.com/wonny/kisradar/pkg/config"
	"github.com/wonny/kisradar/pkg/httputil"
	"github.com/wonny/kisradar/pkg/logger"
)

// refreshQuota is the minimum interval between token issuances.
// 발급 제한은 1일 1회이므로 1시간 여유를 두고 23시간으로 판단한다.
const refreshQuota = 23 * time.Hour

// defaultExpiresIn is assumed when the token response omits expires_in.
const defaultExpiresIn = 86400

// Session owns the KIS authentication lifecycle: credential resolution,
// token cache cascade, and quota-guarded refresh.
// ⭐ SSOT: 토큰 발급/캐시는 이 세션에서만
//
// Token policy (토큰 관리 정책):
//  1. 캐시된 토큰이 있으면 만료 여부와 관계없이 먼저 사용
//  2. API 호출 실패(401) 시에만 재발급 시도
//  3. 재발급은 23시간 쿼터로 보호
type Session struct {
	cfg        config.KISConfig
	httpClient *httputil.Client
	logger     *logger.Logger
	stores     []tokenstore.Store // priority order, remote first

	creds *tokenstore.Credentials

	mu    sync.Mutex // single-flight refresh
	token *tokenstore.Token

	now func() time.Time // injectable clock
}

// NewSession resolves credentials, loads any cached token from the store
// cascade and returns a ready session. Stores are tried in the given order
// (remote-shared first, local file last).
func NewSession(cfg config.KISConfig, httpClient *httputil.Client, log *logger.Logger, stores ...tokenstore.Store) (*Session, error) {
	s := &Session{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     log,
		stores:     stores,
		now:        time.Now,
	}

	if err := s.resolveCredentials(context.Background()); err != nil {
		return nil, err
	}

	s.loadCachedToken(context.Background())

	return s, nil
}

// resolveCredentials tries the remote shared store first, then the
// environment. Environment-sourced credentials are written through to the
// remote store when one is reachable (cache warming).
func (s *Session) resolveCredentials(ctx context.Context) error {
	var remote tokenstore.CredentialStore
	for _, st := range s.stores {
		cs, ok := st.(tokenstore.CredentialStore)
		if !ok {
			continue
		}
		remote = cs
		creds, err := cs.GetCredentials(ctx)
		if err == nil && creds.Complete() {
			s.creds = creds
			s.logger.WithField("source", creds.Source).Info("KIS credentials resolved")
			return nil
		}
		if err != nil && !errors.Is(err, tokenstore.ErrNotFound) {
			s.logger.WithError(err).Warn("remote credential read failed")
		}
	}

	creds := tokenstore.CredentialsFromConfig(s.cfg)
	if creds == nil {
		return fmt.Errorf("KIS credentials not found in shared store or environment (KIS_APP_KEY/KIS_APP_SECRET)")
	}
	s.creds = creds
	s.logger.WithField("source", creds.Source).Info("KIS credentials resolved")

	// Write-through sync so other hosts can share the pair.
	if remote != nil {
		if err := remote.PutCredentials(ctx, creds); err != nil {
			s.logger.WithError(err).Warn("credential write-through to shared store failed")
		}
	}

	return nil
}

// loadCachedToken walks the cascade and keeps the first token found, valid
// or not (만료되어도 일단 사용을 시도한다).
func (s *Session) loadCachedToken(ctx context.Context) {
	for _, st := range s.stores {
		tok, err := st.GetToken(ctx)
		if err != nil {
			if !errors.Is(err, tokenstore.ErrNotFound) {
				s.logger.WithError(err).WithField("store", st.Name()).Warn("token cache read failed")
			}
			continue
		}

		s.token = tok
		if tok.Valid(s.now()) {
			s.logger.WithFields(map[string]interface{}{
				"store":           st.Name(),
				"remaining_hours": tok.Remaining(s.now()).Hours(),
			}).Info("cached token loaded")
		} else {
			s.logger.WithField("store", st.Name()).Warn("cached token loaded (expired, will refresh on first 401)")
		}
		return
	}
}

// Credentials returns the resolved credential pair.
func (s *Session) Credentials() *tokenstore.Credentials {
	return s.creds
}

// Acquire returns the access token. A cached token is returned
// unconditionally, even past its computed expiry: refresh is a scarce
// resource, so the call is allowed to fail and trigger a 401-driven refresh
// instead of refreshing pre-emptively.
func (s *Session) Acquire(ctx context.Context) (string, error) {
	s.mu.Lock()
	tok := s.token
	s.mu.Unlock()

	if tok != nil && tok.AccessToken != "" {
		return tok.AccessToken, nil
	}

	return s.Refresh(ctx)
}

// Refresh issues a new token, guarded by the issuance quota. On success the
// token is persisted to every configured store, remote-first, local file
// always also written.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != nil && !s.token.IssuedAt.IsZero() {
		elapsed := now.Sub(s.token.IssuedAt)
		if elapsed < refreshQuota {
			return "", &QuotaError{
				Wait:       refreshQuota - elapsed,
				LastIssued: s.token.IssuedAt,
			}
		}
	}

	s.logger.Warn("issuing new KIS access token (1일 1회 제한)")

	tok, err := s.requestToken(ctx)
	if err != nil {
		return "", err
	}

	s.token = tok
	s.persistToken(ctx, tok)

	s.logger.WithFields(map[string]interface{}{
		"expires_at": tok.ExpiresAt,
	}).Info("KIS access token issued")

	return tok.AccessToken, nil
}

// requestToken performs the OAuth issuance call.
func (s *Session) requestToken(ctx context.Context) (*tokenstore.Token, error) {
	url := fmt.Sprintf("%s/oauth2/tokenP", s.cfg.BaseURL)
	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     s.creds.AppKey,
		"appsecret":  s.creds.AppSecret,
	}

	resp, err := s.httpClient.PostJSON(ctx, url, body)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	expiresIn := tokenResp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}

	issued := s.now()
	return &tokenstore.Token{
		AccessToken: tokenResp.AccessToken,
		IssuedAt:    issued,
		ExpiresAt:   issued.Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// persistToken writes the token to all stores. Store failures degrade to
// warnings: the in-memory token stays usable for this run.
func (s *Session) persistToken(ctx context.Context, tok *tokenstore.Token) {
	for _, st := range s.stores {
		if err := st.PutToken(ctx, tok); err != nil {
			s.logger.WithError(err).WithField("store", st.Name()).Warn("token persist failed")
		}
	}
}

// TokenStatus describes the current session token for operators.
type TokenStatus struct {
	HasToken       bool       `json:"has_token"`
	IsValid        bool       `json:"is_valid"`
	CanRefresh     bool       `json:"can_refresh"`
	IssuedAt       *time.Time `json:"issued_at,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	RemainingHours float64    `json:"remaining_hours"`
}

// Status reports the token state without touching the network.
func (s *Session) Status() TokenStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st := TokenStatus{CanRefresh: true}

	if s.token == nil {
		return st
	}

	st.HasToken = s.token.AccessToken != ""
	st.IsValid = s.token.Valid(now)
	if !s.token.IssuedAt.IsZero() {
		issued := s.token.IssuedAt
		st.IssuedAt = &issued
		st.CanRefresh = now.Sub(issued) >= refreshQuota
	}
	expires := s.token.ExpiresAt
	st.ExpiresAt = &expires
	if remaining := s.token.Remaining(now); remaining > 0 {
		st.RemainingHours = remaining.Hours()
	}

	return st
}
