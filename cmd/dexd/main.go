package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperdex/params"
	"github.com/uhyunpark/hyperdex/pkg/api"
	"github.com/uhyunpark/hyperdex/pkg/app/core/asset"
	"github.com/uhyunpark/hyperdex/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperdex/pkg/app/core/matching"
	"github.com/uhyunpark/hyperdex/pkg/app/dex"
	"github.com/uhyunpark/hyperdex/pkg/custody"
	"github.com/uhyunpark/hyperdex/pkg/events"
	"github.com/uhyunpark/hyperdex/pkg/storage"
	"github.com/uhyunpark/hyperdex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Storage.LogFile, cfg.Storage.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Storage.LogFile)

	registry, err := params.LoadRegistry(cfg.Venue.RegistryFile)
	if err != nil {
		sugar.Fatalw("registry_load_failed", "err", err)
	}
	sugar.Infow("registry_loaded", "base", registry.Base(), "tradable", registry.Tradable())

	// ---- Persistence (optional) ----
	var (
		store   *storage.PebbleStore
		ledgerS ledger.Store
		nonceS  api.NonceStore
	)
	if cfg.Storage.DataDir != "" {
		store, err = storage.NewPebbleStore(cfg.Storage.DataDir)
		if err != nil {
			sugar.Fatalw("pebble_open_failed", "dir", cfg.Storage.DataDir, "err", err)
		}
		defer store.Close()
		ledgerS = store
		nonceS = store
		sugar.Infow("pebble_opened", "dir", cfg.Storage.DataDir)
	} else {
		sugar.Warn("no DATA_DIR, balances are kept in memory only")
	}

	// ---- Core ----
	l, err := ledger.New(registry, ledgerS, logger.Named("ledger"))
	if err != nil {
		sugar.Fatalw("ledger_init_failed", "err", err)
	}
	engine := matching.NewEngine(registry, l, logger.Named("matching"))

	vault := custody.NewVault()
	fundFaucetAccounts(sugar, vault, registry, cfg.Venue)

	venue := dex.New(engine, vault, dex.Options{
		RecentTrades:    cfg.Venue.RecentTrades,
		WithdrawRetries: cfg.Venue.WithdrawMaxRetries,
		RetryInterval:   cfg.Venue.WithdrawRetryDelay,
	}, logger.Named("dex"))

	// restored balances are backed by tokens custody already holds
	if err := venue.SeedCustody(vault); err != nil {
		sugar.Fatalw("custody_seed_failed", "err", err)
	}

	if store != nil {
		lastTrade, lastOrder, err := store.LastIDs()
		if err != nil {
			sugar.Fatalw("trade_journal_scan_failed", "err", err)
		}
		engine.ResumeIDs(lastTrade, lastOrder)

		for _, sym := range registry.Tradable() {
			trades, err := store.LoadRecentTrades(sym, cfg.Venue.RecentTrades)
			if err != nil {
				sugar.Warnw("recent_trades_load_failed", "asset", sym, "err", err)
				continue
			}
			venue.Restore(trades)
		}

		engine.OnTrade(func(t matching.Trade) {
			if err := store.SaveTrade(t); err != nil {
				logger.Error("trade_journal_write_failed", zap.Uint64("trade_id", t.ID), zap.Error(err))
			}
		})
		sugar.Infow("trade_journal_restored", "last_trade_id", lastTrade, "last_order_id", lastOrder)
	}

	// ---- Trade events (optional) ----
	if len(cfg.Kafka.Brokers) > 0 {
		pub := events.NewPublisher(events.PublisherConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.TradeTopic,
		}, logger.Named("kafka"))
		defer pub.Close()
		engine.OnTrade(pub.Listener())
		sugar.Infow("kafka_publisher_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.TradeTopic)
	}

	// ---- API ----
	server, err := api.NewServer(venue, nonceS, logger.Named("api"))
	if err != nil {
		sugar.Fatalw("api_init_failed", "err", err)
	}
	engine.OnTrade(server.BroadcastTrade)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.API.Addr)
		if err := server.Start(cfg.API.Addr); err != nil {
			sugar.Errorw("api_server_error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	sugar.Info("shutdown_requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_error", "err", err)
	}
	sugar.Info("node_stopped")
}

// fundFaucetAccounts mints devnet wallet balances so accounts can deposit
func fundFaucetAccounts(sugar *zap.SugaredLogger, vault *custody.Vault, registry *asset.Registry, cfg params.Venue) {
	for _, acc := range cfg.FaucetAccounts {
		if !common.IsHexAddress(acc) {
			sugar.Warnw("faucet_account_invalid", "account", acc)
			continue
		}
		trader := common.HexToAddress(acc)
		for _, a := range registry.List() {
			scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(a.Decimals)), nil)
			whole := new(big.Int).Mul(new(big.Int).SetUint64(cfg.FaucetAmount), scale)
			amount, overflow := uint256.FromBig(whole)
			if overflow {
				sugar.Warnw("faucet_amount_overflow", "asset", a.Symbol)
				continue
			}
			if err := vault.Faucet(trader, a.Token, amount); err != nil {
				sugar.Warnw("faucet_failed", "account", acc, "asset", a.Symbol, "err", err)
			}
		}
		sugar.Infow("faucet_funded", "account", trader.Hex(), "amount", cfg.FaucetAmount)
	}
}
