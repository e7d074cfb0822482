package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("RECENT_TRADES", "25")
	t.Setenv("WITHDRAW_MAX_RETRIES", "0")
	t.Setenv("WITHDRAW_RETRY_DELAY_MS", "5")

	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.Equal(t, ":9999", cfg.API.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 25, cfg.Venue.RecentTrades)
	assert.Equal(t, uint64(0), cfg.Venue.WithdrawMaxRetries)
	assert.Equal(t, 5*time.Millisecond, cfg.Venue.WithdrawRetryDelay)
}

func TestLoadFromDotEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DATA_DIR=/tmp/dex-test-data\n"), 0o644))
	t.Setenv("DATA_DIR", "") // make sure the variable is restored after the test
	require.NoError(t, os.Unsetenv("DATA_DIR"))

	cfg := LoadFromEnv(envFile)
	assert.Equal(t, "/tmp/dex-test-data", cfg.Storage.DataDir)
}

func TestLoadRegistry(t *testing.T) {
	t.Setenv("BAT_TOKEN", "0x0D8775F648430679A709E98d2b0Cb6250d2887EF")
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base: DAI
assets:
  - symbol: DAI
    token: "0x6B175474E89094C44Da98b954EedeAC495271d0F"
    decimals: 18
  - symbol: BAT
    token: "${BAT_TOKEN}"
    decimals: 18
  - symbol: USDC
    token: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
    decimals: 6
`), 0o644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, asset.Symbol("DAI"), reg.Base())
	assert.Equal(t, 3, reg.Count())

	bat, err := reg.Resolve("BAT")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x0D8775F648430679A709E98d2b0Cb6250d2887EF"), bat.Token)

	usdc, err := reg.Resolve("USDC")
	require.NoError(t, err)
	assert.Equal(t, int32(6), usdc.Decimals)
}

func TestLoadRegistryErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	_, err := LoadRegistry(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)

	_, err = LoadRegistry(write("bad.yaml", "base: [unclosed"))
	assert.Error(t, err)

	_, err = LoadRegistry(write("nobase.yaml", "base: DAI\nassets:\n  - symbol: BAT\n"))
	assert.Error(t, err)

	_, err = LoadRegistry(write("badtoken.yaml", "base: DAI\nassets:\n  - symbol: DAI\n    token: nothex\n"))
	assert.Error(t, err)
}

func TestDefaultRegistry(t *testing.T) {
	reg, err := LoadRegistry("")
	require.NoError(t, err)
	assert.Equal(t, asset.Symbol("DAI"), reg.Base())
	assert.Equal(t, []asset.Symbol{"BAT", "REP"}, reg.Tradable())
}
