package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvStore_KeyMapping(t *testing.T) {
	t.Setenv("SECRET_TUNNEL_BACKEND_CREDS", "material-1")

	s := NewEnvStore()
	value, err := s.GetSecret(context.Background(), "tunnel-backend.creds")
	require.NoError(t, err)
	require.Equal(t, "material-1", value)
}

func TestEnvStore_MissingKey(t *testing.T) {
	s := NewEnvStore()
	_, err := s.GetSecret(context.Background(), "no-such-secret-here")
	require.Error(t, err)
}

func TestFileStore(t *testing.T) {
	file := filepath.Join(t.TempDir(), "secrets.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"internet-creds":"material-a","tunnel-creds":"material-b"}`), 0o600))

	s := NewFileStore(file)

	value, err := s.GetSecret(context.Background(), "internet-creds")
	require.NoError(t, err)
	require.Equal(t, "material-a", value)

	_, err = s.GetSecret(context.Background(), "ghost")
	require.Error(t, err)
}

func TestFileStore_InvalidFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "secrets.json")
	require.NoError(t, os.WriteFile(file, []byte(`not json`), 0o600))

	s := NewFileStore(file)
	_, err := s.GetSecret(context.Background(), "anything")
	require.Error(t, err)
}
