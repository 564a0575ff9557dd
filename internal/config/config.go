package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL          string
	WSURL           string
	ContractAddress string
	DeployBlock     uint64

	ChunkSize              uint64
	ChunkConcurrency       int
	InterChunkDelay        time.Duration
	BackoffBase            time.Duration
	BackoffMax             time.Duration
	MaxAttempts            int
	MaxConsecutiveFailures int
	CallTimeout            time.Duration

	Cooldown     time.Duration
	Debounce     time.Duration
	PollInterval time.Duration
	RecentWindow uint64
	CacheTTL     time.Duration
	CacheDir     string
	RedisURL     string

	PGDSN       string
	MetricsAddr string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SUPPLYTRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("chunk-size", uint64(999))
	v.SetDefault("chunk-concurrency", 3)
	v.SetDefault("inter-chunk-delay", 200*time.Millisecond)
	v.SetDefault("backoff-base", 5*time.Second)
	v.SetDefault("backoff-max", 30*time.Second)
	v.SetDefault("max-attempts", 5)
	v.SetDefault("max-consecutive-failures", 3)
	v.SetDefault("call-timeout", 20*time.Second)
	v.SetDefault("cooldown", 5*time.Second)
	v.SetDefault("debounce", 2*time.Second)
	v.SetDefault("poll-interval", time.Minute)
	v.SetDefault("recent-window", uint64(5000))
	v.SetDefault("cache-ttl", 24*time.Hour)
	v.SetDefault("cache-dir", "./data/cache")
	v.SetDefault("metrics-addr", "")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:          v.GetString("rpc"),
		WSURL:           v.GetString("ws"),
		ContractAddress: v.GetString("contract"),
		DeployBlock:     v.GetUint64("deploy-block"),

		ChunkSize:              v.GetUint64("chunk-size"),
		ChunkConcurrency:       v.GetInt("chunk-concurrency"),
		InterChunkDelay:        v.GetDuration("inter-chunk-delay"),
		BackoffBase:            v.GetDuration("backoff-base"),
		BackoffMax:             v.GetDuration("backoff-max"),
		MaxAttempts:            v.GetInt("max-attempts"),
		MaxConsecutiveFailures: v.GetInt("max-consecutive-failures"),
		CallTimeout:            v.GetDuration("call-timeout"),

		Cooldown:     v.GetDuration("cooldown"),
		Debounce:     v.GetDuration("debounce"),
		PollInterval: v.GetDuration("poll-interval"),
		RecentWindow: v.GetUint64("recent-window"),
		CacheTTL:     v.GetDuration("cache-ttl"),
		CacheDir:     v.GetString("cache-dir"),
		RedisURL:     v.GetString("redis-url"),

		PGDSN:       v.GetString("pg-dsn"),
		MetricsAddr: v.GetString("metrics-addr"),
		LogLevel:    v.GetString("log-level"),
	}

	return cfg, nil
}
