package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type API struct {
	Addr        string
	CORSOrigins []string
	// BookDepth limits the levels per side pushed to websocket clients; 0 is all.
	BookDepth int
}

type Storage struct {
	// JournalPath is the Pebble directory of the audit journal. Empty disables it.
	JournalPath string
	LogFile     string
}

type Exchange struct {
	MarketsFile string
	// DefaultQuote is the quote asset of symbols listed on first order.
	// Empty rejects orders for symbols missing from MarketsFile.
	DefaultQuote        string
	SelfTradePrevention bool
	PreTradeCheck       bool
}

type Config struct {
	API      API
	Storage  Storage
	Exchange Exchange
}

func Default() Config {
	return Config{
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
			BookDepth:   20,
		},
		Storage: Storage{
			JournalPath: "data/journal",
			LogFile:     "",
		},
		Exchange: Exchange{
			MarketsFile:         "",
			DefaultQuote:        "USD",
			SelfTradePrevention: false,
			PreTradeCheck:       false,
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
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("API_CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = splitList(origins)
	}
	if depth := os.Getenv("API_BOOK_DEPTH"); depth != "" {
		if n, err := strconv.Atoi(depth); err == nil && n >= 0 {
			cfg.API.BookDepth = n
		}
	}

	// Set to empty to disable
	if path, ok := os.LookupEnv("JOURNAL_PATH"); ok {
		cfg.Storage.JournalPath = path
	}
	cfg.Storage.LogFile = getEnv("LOG_FILE", cfg.Storage.LogFile)

	cfg.Exchange.MarketsFile = getEnv("MARKETS_FILE", cfg.Exchange.MarketsFile)
	if quote, ok := os.LookupEnv("DEFAULT_QUOTE_ASSET"); ok {
		cfg.Exchange.DefaultQuote = strings.TrimSpace(quote)
	}
	if stp := os.Getenv("SELF_TRADE_PREVENTION"); stp != "" {
		cfg.Exchange.SelfTradePrevention = stp == "true"
	}
	if check := os.Getenv("PRE_TRADE_CHECK"); check != "" {
		cfg.Exchange.PreTradeCheck = check == "true"
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

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
