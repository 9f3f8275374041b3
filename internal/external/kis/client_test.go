package kis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/kisradar/internal/tokenstore"
	"github.com/wonny/kisradar/pkg/httputil"
	"github.com/wonny/kisradar/pkg/logger"
)

func storeWithToken(token string, issuedAgo time.Duration) *memStore {
	issued := time.Now().Add(-issuedAgo)
	return &memStore{
		name: "mem",
		token: &tokenstore.Token{
			AccessToken: token,
			IssuedAt:    issued,
			ExpiresAt:   issued.Add(24 * time.Hour),
		},
	}
}

func newTestClient(t *testing.T, baseURL string, store tokenstore.Store) *Client {
	t.Helper()
	log := logger.NewNop()
	httpClient := httputil.New(log).DisableRetry()
	session, err := NewSession(testKISConfig(baseURL), httpClient, log, store)
	require.NoError(t, err)
	return NewClient(session, httpClient, log)
}

func TestClientCallSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer good-token", r.Header.Get("authorization"))
		assert.Equal(t, "test-app-key", r.Header.Get("appkey"))
		assert.Equal(t, "FHKST01010100", r.Header.Get("tr_id"))
		assert.Equal(t, "P", r.Header.Get("custtype"))
		assert.Equal(t, "005930", r.URL.Query().Get("FID_INPUT_ISCD"))

		w.Write([]byte(`{"rt_cd":"0","msg_cd":"MCA00000","msg1":"정상처리","output":{"stck_prpr":"71000"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, storeWithToken("good-token", time.Hour))

	env, err := client.Call(context.Background(), "/uapi/domestic-stock/v1/quotations/inquire-price",
		"FHKST01010100", map[string]string{"FID_INPUT_ISCD": "005930"})
	require.NoError(t, err)
	assert.True(t, env.OK())
	assert.NotEmpty(t, env.Output)
}

func TestClientRetriesOnceOn401(t *testing.T) {
	var apiCalls, tokenCalls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			atomic.AddInt32(&tokenCalls, 1)
			w.Write([]byte(`{"access_token":"reissued","expires_in":86400}`))
			return
		}

		n := atomic.AddInt32(&apiCalls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		assert.Equal(t, "Bearer reissued", r.Header.Get("authorization"))
		w.Write([]byte(`{"rt_cd":"0","msg_cd":"MCA00000","msg1":"정상처리","output":{}}`))
	}))
	defer server.Close()

	// 발급 쿼터가 풀린 오래된 토큰
	client := newTestClient(t, server.URL, storeWithToken("stale", 25*time.Hour))

	env, err := client.Call(context.Background(), "/test", "TRID", nil)
	require.NoError(t, err)
	assert.True(t, env.OK())
	assert.Equal(t, int32(2), atomic.LoadInt32(&apiCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}

func TestClientRetriesOnEnvelopeExpiry(t *testing.T) {
	var apiCalls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			w.Write([]byte(`{"access_token":"reissued","expires_in":86400}`))
			return
		}

		if atomic.AddInt32(&apiCalls, 1) == 1 {
			// HTTP 200이지만 토큰 만료를 알리는 envelope
			w.Write([]byte(`{"rt_cd":"1","msg_cd":"EGW00123","msg1":"기간이 만료된 token 입니다."}`))
			return
		}
		w.Write([]byte(`{"rt_cd":"0","msg_cd":"MCA00000","msg1":"정상처리","output":{}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, storeWithToken("stale", 25*time.Hour))

	env, err := client.Call(context.Background(), "/test", "TRID", nil)
	require.NoError(t, err)
	assert.True(t, env.OK())
	assert.Equal(t, int32(2), atomic.LoadInt32(&apiCalls))
}

func TestClientNeverRetriesTwice(t *testing.T) {
	var apiCalls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth2/tokenP" {
			w.Write([]byte(`{"access_token":"reissued","expires_in":86400}`))
			return
		}
		atomic.AddInt32(&apiCalls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, storeWithToken("stale", 25*time.Hour))

	_, err := client.Call(context.Background(), "/test", "TRID", nil)
	require.Error(t, err)
	// 최초 1회 + 재발급 후 1회, 그 이상은 없다
	assert.Equal(t, int32(2), atomic.LoadInt32(&apiCalls))
}

func TestClientQuotaBlockedRefreshFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	// 1시간 전 발급 → 재발급 쿼터에 걸림
	client := newTestClient(t, server.URL, storeWithToken("recent", time.Hour))

	_, err := client.Call(context.Background(), "/test", "TRID", nil)
	require.Error(t, err)

	var qe *QuotaError
	assert.True(t, errors.As(err, &qe))
}

func TestClientAPIErrorOnEnvelopeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rt_cd":"1","msg_cd":"OPSQ2001","msg1":"조회할 자료가 없습니다."}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, storeWithToken("good", time.Hour))

	_, err := client.Call(context.Background(), "/test", "TRID", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "OPSQ2001", apiErr.Code)
}

func TestIndicatesExpiry(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"EGW00123", true},
		{"기간이 만료된 token 입니다.", true},
		{"유효하지 않은 token 입니다.", true},
		{"조회할 자료가 없습니다.", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, indicatesExpiry(tt.msg), tt.msg)
	}
}
