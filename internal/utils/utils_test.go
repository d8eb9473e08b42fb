package utils

import (
	"crypto/tls"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSNFromEnv(t *testing.T) {
	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_PORT", "5433")
	t.Setenv("PG_USER", "mm")
	t.Setenv("PG_PASSWORD", "secret")
	t.Setenv("PG_DB", "")
	t.Setenv("PG_SSLMODE", "")
	assert.Equal(t, "postgres://mm:secret@db:5433/memories?sslmode=disable", BuildPostgresDSNFromEnv())
}

func TestEnvInt(t *testing.T) {
	t.Setenv("X_N", "12")
	t.Setenv("X_BAD", "nope")
	assert.Equal(t, 12, EnvInt("X_N", 1))
	assert.Equal(t, 1, EnvInt("X_BAD", 1))
	assert.Equal(t, 7, EnvInt("X_UNSET_FOR_TEST", 7))
}

func TestOpenRedisDisabled(t *testing.T) {
	t.Setenv("REDIS_ENABLED", "false")
	assert.Nil(t, OpenRedisFromEnv())
}

func TestEnsureSelfSignedCert(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "certs", "server.crt")
	key := filepath.Join(dir, "certs", "server.key")
	require.NoError(t, EnsureSelfSignedCert(cert, key, "memory-map.local"))
	_, err := tls.LoadX509KeyPair(cert, key)
	require.NoError(t, err)
	// 已存在时不重新生成
	require.NoError(t, EnsureSelfSignedCert(cert, key, "other"))
}
