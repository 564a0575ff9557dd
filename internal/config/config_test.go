package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func watchFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.Duration("debounce", 2*time.Second, "")
	flags.Duration("poll-interval", time.Minute, "")
	return flags
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", watchFlags())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChunkSize != 999 {
		t.Fatalf("chunk size default: %d", cfg.ChunkSize)
	}
	if cfg.Debounce != 2*time.Second {
		t.Fatalf("debounce default: %s", cfg.Debounce)
	}
	if cfg.PollInterval != time.Minute {
		t.Fatalf("poll interval default: %s", cfg.PollInterval)
	}
}

func TestLoadWatchTunablesFromEnv(t *testing.T) {
	t.Setenv("SUPPLYTRACE_DEBOUNCE", "7s")
	t.Setenv("SUPPLYTRACE_POLL_INTERVAL", "90s")

	cfg, err := Load("", watchFlags())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Debounce != 7*time.Second {
		t.Fatalf("debounce from env: %s", cfg.Debounce)
	}
	if cfg.PollInterval != 90*time.Second {
		t.Fatalf("poll interval from env: %s", cfg.PollInterval)
	}
}

func TestLoadFlagOverridesDefault(t *testing.T) {
	flags := watchFlags()
	if err := flags.Set("poll-interval", "30s"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Fatalf("poll interval from flag: %s", cfg.PollInterval)
	}
}
