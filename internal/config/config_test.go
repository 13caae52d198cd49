// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadConfigWithoutEnvFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	chdir(t, t.TempDir())

	t.Setenv("DATABASE_URL", "postgres://localhost:5432/safarypto?sslmode=disable")
	t.Setenv("ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")

	cfg, err := LoadConfig()
	require.NoError(t, err, "environment-only deployments must start without a .env file")
	assert.Equal(t, "postgres://localhost:5432/safarypto?sslmode=disable", cfg.DatabaseURL)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.EncryptionKey)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "https://sandbox.safaricom.co.ke", cfg.Mpesa.BaseURL)
	assert.EqualValues(t, 1, cfg.Chain.ChainID)
}

func TestLoadConfigReadsEnvFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	chdir(t, dir)

	contents := "LISTEN_ADDR=:9090\nMPESA_BUSINESS_SHORTCODE=174379\nDEBUG=true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(contents), 0o600))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "174379", cfg.Mpesa.ShortCode)
	assert.True(t, cfg.Debug)
}
