package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/uhyunpark/fintech-exchange/params"
	"github.com/uhyunpark/fintech-exchange/pkg/app/exchange"
	"github.com/uhyunpark/fintech-exchange/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	// Console logs would interleave with the prompt; only log to a file when asked.
	opts := []exchange.Option{
		exchange.WithAutoListing(cfg.Exchange.DefaultQuote),
		exchange.WithSelfTradePrevention(cfg.Exchange.SelfTradePrevention),
		exchange.WithPreTradeCheck(cfg.Exchange.PreTradeCheck),
	}
	if cfg.Storage.LogFile != "" {
		logger, err := util.NewFileLogger(cfg.Storage.LogFile)
		if err != nil {
			log.Fatalf("logger: %v", err)
		}
		defer logger.Sync()
		opts = append(opts, exchange.WithLogger(logger))
	}
	if cfg.Exchange.MarketsFile != "" {
		markets, err := params.LoadMarkets(cfg.Exchange.MarketsFile)
		if err != nil {
			log.Fatalf("markets: %v", err)
		}
		opts = append(opts, exchange.WithMarkets(markets...))
	}

	ex, err := exchange.New(opts...)
	if err != nil {
		log.Fatalf("exchange: %v", err)
	}

	fmt.Println("Exchange CLI. Type `help` for commands.")
	newREPL(ex, os.Stdin, os.Stdout).Run(context.Background())
}
