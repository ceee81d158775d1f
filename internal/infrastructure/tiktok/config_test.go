package tiktok

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("TIKTOK_APP_KEY", "key")
	t.Setenv("TIKTOK_APP_SECRET", "secret")

	cfg := ConfigFromEnv()

	assert.Equal(t, "key", cfg.AppKey)
	assert.Equal(t, "https://open-api.tiktokglobalshop.com", cfg.BaseURL)
	assert.Equal(t, "https://auth.tiktok-shops.com", cfg.AuthBaseURL)
	assert.Equal(t, "/finance/202309/statement_transactions/search", cfg.StatementTransactionsPath)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"statement_type", "type", "transaction_type"}, cfg.TypeFieldOrder)
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("TIKTOK_API_BASE_URL", "https://sandbox.example.com")
	t.Setenv("TIKTOK_API_TIMEOUT", "10s")
	t.Setenv("SYNC_TYPE_FIELDS", "fee_type, statement_type ,")

	cfg := ConfigFromEnv()

	assert.Equal(t, "https://sandbox.example.com", cfg.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"fee_type", "statement_type"}, cfg.TypeFieldOrder)
}
