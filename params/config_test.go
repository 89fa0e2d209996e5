package params

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

var envKeys = []string{
	"API_ADDR", "API_CORS_ORIGINS", "API_BOOK_DEPTH", "JOURNAL_PATH", "LOG_FILE",
	"MARKETS_FILE", "DEFAULT_QUOTE_ASSET", "SELF_TRADE_PREVENTION", "PRE_TRADE_CHECK",
}

// clearEnv unsets every key LoadFromEnv reads and restores them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	if got := LoadFromEnv(missingEnvFile(t)); !reflect.DeepEqual(got, Default()) {
		t.Errorf("LoadFromEnv = %+v, want defaults %+v", got, Default())
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_ADDR", ":9090")
	t.Setenv("API_CORS_ORIGINS", "http://a.example, http://b.example,")
	t.Setenv("API_BOOK_DEPTH", "5")
	t.Setenv("JOURNAL_PATH", "")
	t.Setenv("DEFAULT_QUOTE_ASSET", " EUR ")
	t.Setenv("SELF_TRADE_PREVENTION", "true")
	t.Setenv("PRE_TRADE_CHECK", "yes")

	cfg := LoadFromEnv(missingEnvFile(t))
	if cfg.API.Addr != ":9090" || cfg.API.BookDepth != 5 {
		t.Errorf("api = %+v", cfg.API)
	}
	if want := []string{"http://a.example", "http://b.example"}; !reflect.DeepEqual(cfg.API.CORSOrigins, want) {
		t.Errorf("origins = %q, want %q", cfg.API.CORSOrigins, want)
	}
	if cfg.Storage.JournalPath != "" {
		t.Errorf("journal path = %q, want disabled", cfg.Storage.JournalPath)
	}
	if cfg.Exchange.DefaultQuote != "EUR" || !cfg.Exchange.SelfTradePrevention || cfg.Exchange.PreTradeCheck {
		t.Errorf("exchange = %+v", cfg.Exchange)
	}
}

func TestLoadFromEnvIgnoresBadDepth(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_BOOK_DEPTH", "-3")
	if got := LoadFromEnv(missingEnvFile(t)).API.BookDepth; got != Default().API.BookDepth {
		t.Errorf("depth = %d, want default", got)
	}
}

func TestLoadFromEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("API_ADDR=:7000\nMARKETS_FILE=markets.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MARKETS_FILE", "from-env.yaml")

	cfg := LoadFromEnv(path)
	if cfg.API.Addr != ":7000" {
		t.Errorf("addr = %q, want value from file", cfg.API.Addr)
	}
	if cfg.Exchange.MarketsFile != "from-env.yaml" {
		t.Errorf("markets file = %q, environment must win over .env", cfg.Exchange.MarketsFile)
	}
}
