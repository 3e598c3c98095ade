package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_ENABLE_VERIFICATION", "false")

	cfg, err := Load("test-version")
	require.NoError(t, err)

	assert.Equal(t, "3460", cfg.Port)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "test-version", cfg.Version)
	assert.Equal(t, "_fixing", cfg.Repair.FixingTableSuffix)
	assert.Equal(t, "_repair_audit", cfg.Repair.AuditTableSuffix)
	assert.Equal(t, int64(10000), cfg.Repair.SampleSize)
	assert.Equal(t, 1200*time.Millisecond, cfg.Repair.LogFlushInterval())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AUTH_ENABLE_VERIFICATION", "false")
	t.Setenv("PGHOST", "db.internal")
	t.Setenv("PGPASSWORD", "s3cret")
	t.Setenv("DATASOURCE_TYPE", "mssql")
	t.Setenv("REPAIR_LOG_FLUSH_INTERVAL_MS", "500")

	cfg, err := Load("v1")
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "mssql", cfg.Datasource.Type)
	assert.Equal(t, 500*time.Millisecond, cfg.Repair.LogFlushInterval())
	assert.Contains(t, cfg.Database.URL(), "s3cret")
}

func TestLoadRequiresJWKSWhenVerifying(t *testing.T) {
	t.Setenv("AUTH_ENABLE_VERIFICATION", "true")
	t.Setenv("JWKS_ENDPOINTS", "")

	_, err := Load("v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWKS")
}

func TestParseJWKSEndpoints(t *testing.T) {
	endpoints, err := parseJWKSEndpoints("https://issuer.one=https://issuer.one/jwks, https://issuer.two=https://issuer.two/keys")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"https://issuer.one": "https://issuer.one/jwks",
		"https://issuer.two": "https://issuer.two/keys",
	}, endpoints)

	_, err = parseJWKSEndpoints("no-equals-sign")
	require.Error(t, err)
}
