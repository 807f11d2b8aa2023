package clusterlib

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// envConfig loads configuration from environment variables under an
// optional prefix: GetString/MustGetString/GetDuration/GetInt,
// the handful of getters clusterlib.Config actually
// needs (no server/database/auth grab-bag,
// since this module has no HTTP server, database, or auth surface of
// its own).
type envConfig struct {
	prefix string
}

func newEnvConfig(prefix string) *envConfig {
	return &envConfig{prefix: prefix}
}

func (ec *envConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

func (ec *envConfig) GetString(key, defaultValue string) string {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		return value
	}
	return defaultValue
}

func (ec *envConfig) MustGetString(key string) (string, error) {
	fullKey := ec.buildKey(key)
	value := os.Getenv(fullKey)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s not set", fullKey)
	}
	return value, nil
}

func (ec *envConfig) GetInt(key string, defaultValue int) int {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (ec *envConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Config carries the library's configuration: a store connect string,
// a session timeout, and an optional log configuration path.
type Config struct {
	// StoreConnect is the backing store's connect string. A non-empty
	// value is treated as a filesystem path to a bbolt database file
	// (store.OpenBoltBacking); empty means a purely in-memory store with
	// no durability, the right default for tests and short-lived
	// processes.
	StoreConnect string
	// SessionTimeout is the configured store session timeout. It is
	// loaded and carried on Config only: no clusterlib component reads
	// it, and ephemeral state (lock bids, queue elements) is removed by
	// the store's ExpireSession, not on this timeout.
	SessionTimeout time.Duration
	// LogConfigPath optionally names a file controlling clog's level/
	// format; clusterlib does not parse it itself, it is surfaced for
	// an embedder's own logging setup.
	LogConfigPath string
	// EventWorkers sizes the event pipeline's user-callback worker pool
	// (event.New's workerCount). Defaults to 4.
	EventWorkers int
	// PeriodicTick bounds the periodic runner's scheduling resolution.
	// Zero uses periodic.DefaultTick.
	PeriodicTick time.Duration
	// LockRedisURL optionally points the lock manager's cross-process
	// bid mirror (lock.RedisBidRegistry) at a Redis instance.
	// Empty disables the mirror; the store-backed
	// bid ledger remains the sole correctness-bearing source either way.
	LockRedisURL string
}

// DefaultConfig returns a Config with an in-memory store, a 30s session
// timeout, and 4 event workers — the defaults a short-lived test or demo
// process wants without setting any environment variable.
func DefaultConfig() Config {
	return Config{
		SessionTimeout: 30 * time.Second,
		EventWorkers:   4,
	}
}

// LoadConfig builds a Config by layering, highest precedence first:
// environment variables under prefix, then an optional file named by
// <prefix>_CONFIG_FILE (plain CONFIG_FILE when prefix is empty) read
// through Viper,
// then DefaultConfig: env wins over file, file wins over defaults.
// There is no flag layer, since clusterlib ships as a library with no
// command-line surface of its own.
func LoadConfig(prefix string) (Config, error) {
	cfg := DefaultConfig()
	env := newEnvConfig(prefix)

	v := viper.New()
	v.SetConfigType("yaml")
	if path := env.GetString("CONFIG_FILE", ""); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
		cfg.StoreConnect = v.GetString("store_connect")
		if d := v.GetDuration("session_timeout"); d > 0 {
			cfg.SessionTimeout = d
		}
		cfg.LogConfigPath = v.GetString("log_config_path")
		if w := v.GetInt("event_workers"); w > 0 {
			cfg.EventWorkers = w
		}
		if t := v.GetDuration("periodic_tick"); t > 0 {
			cfg.PeriodicTick = t
		}
		cfg.LockRedisURL = v.GetString("lock_redis_url")
	}

	cfg.StoreConnect = env.GetString("STORE_CONNECT", cfg.StoreConnect)
	cfg.SessionTimeout = env.GetDuration("SESSION_TIMEOUT", cfg.SessionTimeout)
	cfg.LogConfigPath = env.GetString("LOG_CONFIG_PATH", cfg.LogConfigPath)
	cfg.EventWorkers = env.GetInt("EVENT_WORKERS", cfg.EventWorkers)
	cfg.PeriodicTick = env.GetDuration("PERIODIC_TICK", cfg.PeriodicTick)
	cfg.LockRedisURL = env.GetString("LOCK_REDIS_URL", cfg.LockRedisURL)

	return cfg, nil
}
