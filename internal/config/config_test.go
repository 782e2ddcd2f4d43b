package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("PORT", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "UNDEFINED", cfg.Asaas.BillingType)
	assert.Equal(t, 3, cfg.Asaas.DueDays)
	assert.Equal(t, "body", cfg.D4Sign.HMACMode)
	assert.Equal(t, 3, cfg.D4Sign.DownloadRetries)
	assert.Equal(t, 2*time.Second, cfg.D4Sign.RetryDelay)
	assert.Equal(t, 5*time.Second, cfg.Signing.WorkerInterval)
	assert.Equal(t, 30*time.Minute, cfg.Signing.BackoffMax)
	assert.Equal(t, "FIN", cfg.Policies.NumberPrefix)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("SIGNING_MAX_ATTEMPTS", "3")
	t.Setenv("D4SIGN_AUTO_SIGN", "true")
	t.Setenv("D4SIGN_HMAC_MODE", "UUID")
	t.Setenv("D4SIGN_DOWNLOAD_RETRIES", "5")
	t.Setenv("D4SIGN_INTERNAL_SIGNERS", "emissao@corretora.com.br:4, diretoria@corretora.com.br:1")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 3, cfg.Signing.MaxAttempts)
	assert.True(t, cfg.D4Sign.AutoSign)
	assert.Equal(t, "uuid", cfg.D4Sign.HMACMode)
	assert.Equal(t, 5, cfg.D4Sign.DownloadRetries)
	require.Len(t, cfg.D4Sign.InternalSigners, 2)
	assert.Equal(t, "diretoria@corretora.com.br", cfg.D4Sign.InternalSigners[1].Email)
	assert.Equal(t, "1", cfg.D4Sign.InternalSigners[1].Act)
}

func TestParseInternalSigners(t *testing.T) {
	got := ParseInternalSigners("a@x.com, ,b@x.com:1,:4")
	assert.Equal(t, []InternalSigner{{Email: "a@x.com", Act: "4"}, {Email: "b@x.com", Act: "1"}}, got)
	assert.Nil(t, ParseInternalSigners(""))
}
