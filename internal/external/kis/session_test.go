package kis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/kisradar/internal/tokenstore"
	"github.com/wonny/kisradar/pkg/config"
	"github.com/wonny/kisradar/pkg/httputil"
	"github.com/wonny/kisradar/pkg/logger"
)

// memStore is an in-memory token store for tests.
type memStore struct {
	name  string
	token *tokenstore.Token
	creds *tokenstore.Credentials
	puts  int
}

func (m *memStore) Name() string { return m.name }

func (m *memStore) GetToken(_ context.Context) (*tokenstore.Token, error) {
	if m.token == nil {
		return nil, tokenstore.ErrNotFound
	}
	return m.token, nil
}

func (m *memStore) PutToken(_ context.Context, tok *tokenstore.Token) error {
	m.token = tok
	m.puts++
	return nil
}

func (m *memStore) GetCredentials(_ context.Context) (*tokenstore.Credentials, error) {
	if m.creds == nil {
		return nil, tokenstore.ErrNotFound
	}
	return m.creds, nil
}

func (m *memStore) PutCredentials(_ context.Context, creds *tokenstore.Credentials) error {
	m.creds = creds
	return nil
}

func testKISConfig(baseURL string) config.KISConfig {
	return config.KISConfig{
		AppKey:    "test-app-key",
		AppSecret: "test-app-secret",
		BaseURL:   baseURL,
	}
}

func newTestSession(t *testing.T, baseURL string, stores ...tokenstore.Store) *Session {
	t.Helper()
	log := logger.NewNop()
	httpClient := httputil.New(log).DisableRetry()
	s, err := NewSession(testKISConfig(baseURL), httpClient, log, stores...)
	require.NoError(t, err)
	return s
}

func TestSessionAcquireReturnsCachedTokenEvenExpired(t *testing.T) {
	issued := time.Now().Add(-30 * time.Hour)
	store := &memStore{
		name: "mem",
		token: &tokenstore.Token{
			AccessToken: "expired-but-cached",
			IssuedAt:    issued,
			ExpiresAt:   issued.Add(24 * time.Hour),
		},
	}

	s := newTestSession(t, "http://unused.invalid", store)

	// 만료된 토큰이라도 네트워크 없이 그대로 반환
	got, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "expired-but-cached", got)
}

func TestSessionRefreshQuota(t *testing.T) {
	issued := time.Now().Add(-2 * time.Hour)
	store := &memStore{
		name: "mem",
		token: &tokenstore.Token{
			AccessToken: "fresh",
			IssuedAt:    issued,
			ExpiresAt:   issued.Add(24 * time.Hour),
		},
	}

	s := newTestSession(t, "http://unused.invalid", store)

	// 발급 후 23시간 이내 재발급은 네트워크 호출 없이 거부
	_, err := s.Refresh(context.Background())
	var qe *QuotaError
	require.True(t, errors.As(err, &qe))
	assert.True(t, qe.Wait > 20*time.Hour)
	assert.True(t, qe.Wait <= 21*time.Hour)
	assert.True(t, qe.LastIssued.Equal(issued))
}

func TestSessionRefreshIssuesAndPersists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth2/tokenP", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"brand-new","token_type":"Bearer","expires_in":86400}`))
	}))
	defer server.Close()

	issued := time.Now().Add(-25 * time.Hour)
	remote := &memStore{
		name: "remote-shared",
		token: &tokenstore.Token{
			AccessToken: "old",
			IssuedAt:    issued,
			ExpiresAt:   issued.Add(24 * time.Hour),
		},
	}
	local := &memStore{name: "local-file"}

	s := newTestSession(t, server.URL, remote, local)

	got, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "brand-new", got)

	// 모든 스토어에 저장
	assert.Equal(t, "brand-new", remote.token.AccessToken)
	require.NotNil(t, local.token)
	assert.Equal(t, "brand-new", local.token.AccessToken)
}

func TestSessionCredentialsFromRemoteStore(t *testing.T) {
	remote := &memStore{
		name: "remote-shared",
		creds: &tokenstore.Credentials{
			AppKey:    "remote-key",
			AppSecret: "remote-secret",
			Source:    tokenstore.SourceRemoteShared,
		},
	}

	log := logger.NewNop()
	httpClient := httputil.New(log).DisableRetry()
	// 환경 자격증명 없이 원격만으로 해소
	cfg := config.KISConfig{BaseURL: "http://unused.invalid"}
	s, err := NewSession(cfg, httpClient, log, remote)
	require.NoError(t, err)
	assert.Equal(t, "remote-key", s.Credentials().AppKey)
	assert.Equal(t, tokenstore.SourceRemoteShared, s.Credentials().Source)
}

func TestSessionCredentialWriteThrough(t *testing.T) {
	remote := &memStore{name: "remote-shared"}
	s := newTestSession(t, "http://unused.invalid", remote)

	// 환경 자격증명이 원격 스토어로 동기화된다
	require.NotNil(t, remote.creds)
	assert.Equal(t, "test-app-key", remote.creds.AppKey)
	assert.Equal(t, tokenstore.SourceLocalEnvironment, s.Credentials().Source)
}

func TestSessionStatus(t *testing.T) {
	issued := time.Now().Add(-1 * time.Hour)
	store := &memStore{
		name: "mem",
		token: &tokenstore.Token{
			AccessToken: "t",
			IssuedAt:    issued,
			ExpiresAt:   issued.Add(24 * time.Hour),
		},
	}

	s := newTestSession(t, "http://unused.invalid", store)

	st := s.Status()
	assert.True(t, st.HasToken)
	assert.True(t, st.IsValid)
	assert.False(t, st.CanRefresh)
	assert.True(t, st.RemainingHours > 22)
}
