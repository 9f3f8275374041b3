package tokenstore

import (
	"context"
	"fmt"

	"github.com/wonny/kisradar/pkg/redis"
)

const (
	tokenKey       = "token"
	credentialsKey = "credentials"
)

// RedisStore is the remote shared store. Several machines share one KIS app
// key, so the token and credentials live in Redis and every host reads the
// same issuance (1일 1회 발급 제한을 호스트 수만큼 소모하지 않기 위함).
type RedisStore struct {
	cache *redis.Cache
}

// NewRedisStore creates a Redis-backed token/credential store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		cache: redis.NewCache(client, "kisradar"),
	}
}

// Name identifies the store in logs.
func (s *RedisStore) Name() string {
	return "remote-shared"
}

// GetToken returns the shared token, expired or not.
func (s *RedisStore) GetToken(ctx context.Context) (*Token, error) {
	var tok Token
	found, err := s.cache.Get(ctx, tokenKey, &tok)
	if err != nil {
		return nil, fmt.Errorf("remote token read: %w", err)
	}
	if !found || tok.AccessToken == "" {
		return nil, ErrNotFound
	}
	return &tok, nil
}

// PutToken stores the shared token.
func (s *RedisStore) PutToken(ctx context.Context, tok *Token) error {
	if err := s.cache.Set(ctx, tokenKey, tok, redis.TTLToken); err != nil {
		return fmt.Errorf("remote token write: %w", err)
	}
	return nil
}

// GetCredentials returns the shared credential pair.
func (s *RedisStore) GetCredentials(ctx context.Context) (*Credentials, error) {
	var creds Credentials
	found, err := s.cache.Get(ctx, credentialsKey, &creds)
	if err != nil {
		return nil, fmt.Errorf("remote credentials read: %w", err)
	}
	if !found || !creds.Complete() {
		return nil, ErrNotFound
	}
	creds.Source = SourceRemoteShared
	return &creds, nil
}

// PutCredentials stores the credential pair (no TTL: 키는 수동 회전).
func (s *RedisStore) PutCredentials(ctx context.Context, creds *Credentials) error {
	if err := s.cache.Set(ctx, credentialsKey, creds, 0); err != nil {
		return fmt.Errorf("remote credentials write: %w", err)
	}
	return nil
}
