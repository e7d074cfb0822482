package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type API struct {
	Addr string
}

type Storage struct {
	// DataDir holds the Pebble database. Empty keeps balances in memory only.
	DataDir  string
	LogFile  string
	LogLevel string
}

type Kafka struct {
	// Brokers empty disables trade publishing
	Brokers    []string
	TradeTopic string
}

type Venue struct {
	RegistryFile       string
	RecentTrades       int
	WithdrawMaxRetries uint64
	WithdrawRetryDelay time.Duration

	// FaucetAccounts are funded with FaucetAmount whole tokens of every asset at startup (devnet)
	FaucetAccounts []string
	FaucetAmount   uint64
}

type Config struct {
	API     API
	Storage Storage
	Kafka   Kafka
	Venue   Venue
}

func Default() Config {
	return Config{
		API: API{Addr: ":8080"},
		Storage: Storage{
			DataDir:  "data/pebble",
			LogFile:  "data/logs/dexd.log",
			LogLevel: "info",
		},
		Kafka: Kafka{TradeTopic: "hyperdex.trades"},
		Venue: Venue{
			RecentTrades:       100,
			WithdrawMaxRetries: 3,
			WithdrawRetryDelay: 100 * time.Millisecond,
			FaucetAmount:       1000,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.Storage.DataDir = getEnv("DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.LogFile = getEnv("LOG_FILE", cfg.Storage.LogFile)
	cfg.Storage.LogLevel = getEnv("LOG_LEVEL", cfg.Storage.LogLevel)
	cfg.Venue.RegistryFile = getEnv("REGISTRY_FILE", cfg.Venue.RegistryFile)
	cfg.Kafka.TradeTopic = getEnv("KAFKA_TRADE_TOPIC", cfg.Kafka.TradeTopic)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}

	if accounts := os.Getenv("FAUCET_ACCOUNTS"); accounts != "" {
		cfg.Venue.FaucetAccounts = splitList(accounts)
	}
	if n := os.Getenv("FAUCET_AMOUNT"); n != "" {
		if v, err := strconv.ParseUint(n, 10, 64); err == nil {
			cfg.Venue.FaucetAmount = v
		}
	}

	if n := os.Getenv("RECENT_TRADES"); n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 {
			cfg.Venue.RecentTrades = v
		}
	}
	if n := os.Getenv("WITHDRAW_MAX_RETRIES"); n != "" {
		if v, err := strconv.ParseUint(n, 10, 64); err == nil {
			cfg.Venue.WithdrawMaxRetries = v
		}
	}
	if ms := os.Getenv("WITHDRAW_RETRY_DELAY_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil && v > 0 {
			cfg.Venue.WithdrawRetryDelay = time.Duration(v) * time.Millisecond
		}
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
