// Package secrets abstracts the external secret store the credential
// provider fetches backend credentials from.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Store is the external secret store collaborator. All errors are treated as
// resolution failures by the credential provider.
type Store interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

// EnvStore resolves secrets from environment variables. The key is upper-cased
// with dashes replaced, e.g. "tunnel-backend-creds" -> "SECRET_TUNNEL_BACKEND_CREDS".
type EnvStore struct {
	Prefix string
}

func NewEnvStore() *EnvStore {
	return &EnvStore{Prefix: "SECRET_"}
}

func (s *EnvStore) GetSecret(_ context.Context, key string) (string, error) {
	name := s.Prefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("secret %s not found (env %s unset)", key, name)
	}
	return value, nil
}

// FileStore resolves secrets from a JSON file of key -> material. The file is
// read once on first use.
type FileStore struct {
	path string

	once    sync.Once
	loadErr error
	values  map[string]string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) GetSecret(_ context.Context, key string) (string, error) {
	s.once.Do(func() {
		data, err := os.ReadFile(s.path)
		if err != nil {
			s.loadErr = fmt.Errorf("failed to read secrets file: %w", err)
			return
		}
		if err := json.Unmarshal(data, &s.values); err != nil {
			s.loadErr = fmt.Errorf("invalid secrets file format: %w", err)
		}
	})
	if s.loadErr != nil {
		return "", s.loadErr
	}
	value, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("secret %s not found in %s", key, s.path)
	}
	return value, nil
}

// Func adapts a function to the Store interface. Used by tests.
type Func func(ctx context.Context, key string) (string, error)

func (f Func) GetSecret(ctx context.Context, key string) (string, error) {
	return f(ctx, key)
}
