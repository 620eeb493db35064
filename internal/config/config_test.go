package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PRIVATE_KEY", testKey)
	t.Setenv("ACCOUNT_INDEX", "699528")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://mainnet.zklighter.elliot.ai", cfg.APIURL)
	assert.Equal(t, int64(699528), cfg.AccountIndex)
	assert.Equal(t, uint8(4), cfg.APIKeyIndex)
	assert.Equal(t, "ETH", cfg.Market)
	assert.Equal(t, int64(0), cfg.MarketIndex)
	assert.Equal(t, int32(2), cfg.PriceDecimals)
	assert.Equal(t, int32(4), cfg.SizeDecimals)
	assert.Equal(t, int64(10), cfg.ProbeSizeUnits)
	assert.Equal(t, int64(100), cfg.FallbackSizeUnits)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5*time.Second, cfg.FillTimeout)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Empty(t, cfg.Brokers())
	assert.False(t, cfg.Watch)
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("PRIVATE_KEY", "")
	t.Setenv("ACCOUNT_INDEX", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PRIVATE_KEY")

	t.Setenv("PRIVATE_KEY", testKey)
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACCOUNT_INDEX")
}

func TestLoadMarketSuggestion(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MARKET", "ETJ")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "ETH"`)
}

func TestLoadUnknownMarketWithoutSuggestion(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MARKET", "ZZZZZZ")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown market")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoadMarketCaseInsensitive(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MARKET", "btc")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cfg.MarketIndex)
	assert.Equal(t, int32(1), cfg.PriceDecimals)
}

func TestLoadFromFile(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "probe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"market: SOL\nack_timeout: 3s\nlog_format: json\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cfg.MarketIndex)
	assert.Equal(t, 3*time.Second, cfg.AckTimeout)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	setRequiredEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestBrokersSplitting(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("KAFKA_BROKERS", "one:9092, two:9092 ,")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"one:9092", "two:9092"}, cfg.Brokers())
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOG_LEVEL", "loud")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLoadWatchNeedsInterval(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WATCH", "true")
	t.Setenv("WATCH_INTERVAL", "0s")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch_interval")
}

func TestSlippageDecimal(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.005", cfg.SlippageDecimal().String())
}
