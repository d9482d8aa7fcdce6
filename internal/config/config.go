package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/HsGalaxy/gptload-go/internal/core/domain"
	"github.com/HsGalaxy/gptload-go/internal/core/ports"
)

const (
	DefaultListenAddr          = "0.0.0.0:8080"
	DefaultRequestTimeoutMs    = 120_000
	DefaultDataDir             = "./data"
	DefaultMaxRequestBodyBytes = 10 << 20 // 10MiB, well past a chat completion body

	DefaultFileWriteDelay = 150 * time.Millisecond
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults, mirroring
// the ban durations of ports.DefaultBanConfig so a config file only needs
// to override what it cares about.
func DefaultConfig() *Config {
	ban := ports.DefaultBanConfig()

	return &Config{
		ListenAddr:          DefaultListenAddr,
		WorkerThreads:       runtime.NumCPU(),
		RequestTimeoutMs:    DefaultRequestTimeoutMs,
		MaxRequestBodyBytes: DefaultMaxRequestBodyBytes,
		DataDir:             DefaultDataDir,
		Ban: BanConfig{
			RateLimitMs:    ban.RateLimitMs,
			AuthErrorMs:    ban.AuthErrorMs,
			ServerErrorMs:  ban.ServerErrorMs,
			NetworkErrorMs: ban.NetworkErrorMs,
			MaxBackoffPow:  ban.MaxBackoffPow,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Theme:      "default",
			FileOutput: true,
			LogDir:     "./logs",
			Pretty:     true,
		},
	}
}

// Load reads the TOML config file and environment overrides, decodes them
// into Config, validates the result, and (if onConfigChange is non-nil)
// starts a debounced file watch that re-invokes the callback on change.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("GPTLOAD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("GPTLOAD_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return // ignore rapid-fire duplicate fsnotify events
			}
			lastReload = now

			// on some platforms this fires before the write is flushed
			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}

// Validate enforces the config invariants: admin
// tokens are mandatory (an admin surface with no tokens is an open admin
// surface), upstream ids are unique, and weights are positive.
func (c *Config) Validate() error {
	if len(c.AdminTokens) == 0 {
		return domain.NewConfigValidationError("admin_tokens", c.AdminTokens, "must be non-empty")
	}
	if c.ListenAddr == "" {
		return domain.NewConfigValidationError("listen_addr", c.ListenAddr, "must not be empty")
	}
	if c.WorkerThreads <= 0 {
		c.WorkerThreads = runtime.NumCPU()
	}
	if c.RequestTimeoutMs <= 0 {
		c.RequestTimeoutMs = DefaultRequestTimeoutMs
	}
	if c.MaxRequestBodyBytes <= 0 {
		c.MaxRequestBodyBytes = DefaultMaxRequestBodyBytes
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Ban.MaxBackoffPow <= 0 {
		c.Ban.MaxBackoffPow = ports.DefaultBanConfig().MaxBackoffPow
	}

	seen := make(map[string]struct{}, len(c.Upstreams))
	for _, u := range c.Upstreams {
		if u.ID == "" {
			return domain.NewConfigValidationError("upstreams[].id", u.ID, "must not be empty")
		}
		if _, dup := seen[u.ID]; dup {
			return domain.NewConfigValidationError("upstreams[].id", u.ID, "duplicate id")
		}
		seen[u.ID] = struct{}{}
		if u.BaseURL == "" {
			return domain.NewConfigValidationError("upstreams[].base_url", u.BaseURL, fmt.Sprintf("upstream %q: must not be empty", u.ID))
		}
		if u.Weight < 1 {
			return domain.NewConfigValidationError("upstreams[].weight", u.Weight, fmt.Sprintf("upstream %q: weight must be >= 1", u.ID))
		}
	}

	return nil
}
