package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "CACHE_TTL", "LEDGER_ALLOW_SHORT", "OPTION_CONTRACT_SIZE",
		"OPTION_PREMIUM_MULTIPLIER", "IMPORT_BATCH_SIZE", "IMPORTS_PER_SECOND", "CORS_ORIGINS"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.True(t, cfg.AllowShort)
	assert.Equal(t, "100", cfg.ContractSize.String())
	assert.Equal(t, "1", cfg.PremiumMultiplier.String())
	assert.Equal(t, 500, cfg.ImportBatchSize)
	assert.Equal(t, 1.0, cfg.ImportsPerSec)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LEDGER_ALLOW_SHORT", "false")
	t.Setenv("OPTION_PREMIUM_MULTIPLIER", "100")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("IMPORTS_PER_SECOND", "0.5")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.ImportsPerSec)
	assert.False(t, cfg.AllowShort)
	assert.Equal(t, "100", cfg.PremiumMultiplier.String())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"CACHE_TTL":                 "soon",
		"LEDGER_ALLOW_SHORT":        "maybe",
		"OPTION_CONTRACT_SIZE":      "-5",
		"IMPORT_BATCH_SIZE":         "0",
		"IMPORT_BATCHES_PER_SECOND": "x",
		"IMPORTS_PER_SECOND":        "0",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
