package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/fintech-exchange/params"
	"github.com/uhyunpark/fintech-exchange/pkg/api"
	"github.com/uhyunpark/fintech-exchange/pkg/app/exchange"
	"github.com/uhyunpark/fintech-exchange/pkg/storage"
	"github.com/uhyunpark/fintech-exchange/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	logger, err := newLogger(cfg.Storage.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	opts := []exchange.Option{
		exchange.WithLogger(logger),
		exchange.WithAutoListing(cfg.Exchange.DefaultQuote),
		exchange.WithSelfTradePrevention(cfg.Exchange.SelfTradePrevention),
		exchange.WithPreTradeCheck(cfg.Exchange.PreTradeCheck),
	}

	if cfg.Exchange.MarketsFile != "" {
		markets, err := params.LoadMarkets(cfg.Exchange.MarketsFile)
		if err != nil {
			sugar.Fatalw("markets_load_failed", "file", cfg.Exchange.MarketsFile, "err", err)
		}
		opts = append(opts, exchange.WithMarkets(markets...))
		sugar.Infow("markets_loaded", "file", cfg.Exchange.MarketsFile, "count", len(markets))
	}

	var journal *storage.Journal
	if cfg.Storage.JournalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.JournalPath), 0755); err != nil {
			sugar.Fatalw("journal_dir_failed", "path", cfg.Storage.JournalPath, "err", err)
		}
		journal, err = storage.OpenJournal(cfg.Storage.JournalPath)
		if err != nil {
			sugar.Fatalw("journal_open_failed", "path", cfg.Storage.JournalPath, "err", err)
		}
		defer journal.Close()
		opts = append(opts, exchange.WithJournal(journal))
		sugar.Infow("journal_enabled", "path", cfg.Storage.JournalPath)
	}

	hub := api.NewHub(logger, cfg.API.BookDepth)
	opts = append(opts, exchange.WithListener(hub))

	ex, err := exchange.New(opts...)
	if err != nil {
		sugar.Fatalw("exchange_init_failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)

	serverOpts := []api.Option{api.WithCORSOrigins(cfg.API.CORSOrigins...)}
	if journal != nil {
		serverOpts = append(serverOpts, api.WithTradeHistory(journal))
	}
	apiServer := api.NewServer(ex, hub, logger, serverOpts...)

	errc := make(chan error, 1)
	go func() { errc <- apiServer.Start(cfg.API.Addr) }()

	sugar.Infow("exchange_started",
		"addr", cfg.API.Addr,
		"markets", len(ex.Markets()),
		"default_quote", cfg.Exchange.DefaultQuote,
		"self_trade_prevention", cfg.Exchange.SelfTradePrevention)

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			sugar.Errorw("api_server_failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
	if err := ex.Ledger().Verify(); err != nil {
		sugar.Errorw("ledger_verify_failed", "err", err)
	}
	sugar.Infow("exchange_stopped", "tx_records", ex.Ledger().Len())
}

func newLogger(logFile string) (*zap.Logger, error) {
	if logFile == "" {
		return util.NewLogger()
	}
	return util.NewLoggerWithFile(logFile)
}
