package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists the token to a local JSON file. It is the fallback leg
// of the store cascade and is always written on refresh.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed token store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Name identifies the store in logs.
func (s *FileStore) Name() string {
	return "local-file"
}

// GetToken loads the cached token, expired or not.
func (s *FileStore) GetToken(_ context.Context) (*Token, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read token cache: %w", err)
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token cache: %w", err)
	}

	if tok.AccessToken == "" {
		return nil, ErrNotFound
	}

	return &tok, nil
}

// PutToken writes the token cache, creating parent directories as needed.
func (s *FileStore) PutToken(_ context.Context, tok *Token) error {
	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create token cache dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token cache: %w", err)
	}

	// 0600: 토큰은 비밀값
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}

	return nil
}
