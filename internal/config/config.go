// Package config loads and validates application configuration.
//
// Values come from three layers, lowest precedence first: built-in defaults,
// an optional YAML file named by CONFIG_FILE, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values for the server and the notify job.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Defaults to "8080".
	Port string `yaml:"port" validate:"required,numeric"`

	// DatabaseURL is the Postgres connection string. Required.
	DatabaseURL string `yaml:"database_url"`

	// LogLevel controls the minimum log level. Defaults to "info".
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// CORSOrigins is the list of allowed cross-origin request origins.
	CORSOrigins []string `yaml:"cors_origins" validate:"dive,url"`

	// MigrateOnStart applies pending migrations before serving.
	MigrateOnStart bool `yaml:"migrate_on_start"`

	// CronSecret guards the /internal endpoints. Empty disables them.
	CronSecret string `yaml:"cron_secret"`

	// VAPID application server identity. The private key is required; the
	// public key, when set, must match it.
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	VAPIDSubject    string `yaml:"vapid_subject" validate:"omitempty,startswith=mailto:|startswith=https://"`

	// Arrival sources. At least one of ArrivalsURL and TripUpdatesURL is required.
	ArrivalsURL    string        `yaml:"arrivals_url" validate:"omitempty,url"`
	TripUpdatesURL string        `yaml:"trip_updates_url" validate:"omitempty,url"`
	AlertsURL      string        `yaml:"alerts_url" validate:"omitempty,url"`
	FeedAuthHeader string        `yaml:"feed_auth_header"`
	FeedAuthValue  string        `yaml:"feed_auth_value"`
	FeedCacheTTL   time.Duration `yaml:"feed_cache_ttl" validate:"gte=0s"`

	// Dispatch timing.
	CycleBudget    time.Duration `yaml:"cycle_budget" validate:"gte=0s"`
	PollInterval   time.Duration `yaml:"poll_interval" validate:"gt=0s"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout" validate:"gt=0s"`
	PushTimeout    time.Duration `yaml:"push_timeout" validate:"gt=0s"`
	PushTTL        time.Duration `yaml:"push_ttl" validate:"gte=0s"`
	Cooldown       time.Duration `yaml:"cooldown" validate:"gt=0s"`
	AlertRetention time.Duration `yaml:"alert_retention" validate:"gte=0s"`
	MaxConcurrency int           `yaml:"max_concurrency" validate:"min=1,max=64"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Port:           "8080",
		LogLevel:       "info",
		CORSOrigins:    []string{"http://localhost:5173"},
		FeedCacheTTL:   10 * time.Second,
		CycleBudget:    55 * time.Second,
		PollInterval:   15 * time.Second,
		FetchTimeout:   10 * time.Second,
		PushTimeout:    15 * time.Second,
		PushTTL:        5 * time.Minute,
		Cooldown:       20 * time.Minute,
		AlertRetention: 24 * time.Hour,
		MaxConcurrency: 8,
	}
}

// Load builds a Config from defaults, CONFIG_FILE and the environment.
// Returns an error listing any required values that are not set, or the
// first invalid value.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	var missing []string
	for _, req := range []struct{ key, val string }{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"VAPID_PRIVATE_KEY", cfg.VAPIDPrivateKey},
		{"VAPID_SUBJECT", cfg.VAPIDSubject},
	} {
		if req.val == "" {
			missing = append(missing, req.key)
		}
	}
	if cfg.ArrivalsURL == "" && cfg.TripUpdatesURL == "" {
		missing = append(missing, "ARRIVALS_URL or TRIP_UPDATES_URL")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required configuration not set: %s", strings.Join(missing, ", "))
	}

	if err := validator.New().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return Config{}, fmt.Errorf("invalid configuration: %s failed %s", verrs[0].Field(), verrs[0].Tag())
		}
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overwrites cfg with every environment variable that is set.
func applyEnv(cfg *Config) error {
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	cfg.CronSecret = getEnv("CRON_SECRET", cfg.CronSecret)
	cfg.VAPIDPublicKey = getEnv("VAPID_PUBLIC_KEY", cfg.VAPIDPublicKey)
	cfg.VAPIDPrivateKey = getEnv("VAPID_PRIVATE_KEY", cfg.VAPIDPrivateKey)
	cfg.VAPIDSubject = getEnv("VAPID_SUBJECT", cfg.VAPIDSubject)
	cfg.ArrivalsURL = getEnv("ARRIVALS_URL", cfg.ArrivalsURL)
	cfg.TripUpdatesURL = getEnv("TRIP_UPDATES_URL", cfg.TripUpdatesURL)
	cfg.AlertsURL = getEnv("ALERTS_URL", cfg.AlertsURL)
	cfg.FeedAuthHeader = getEnv("FEED_AUTH_HEADER", cfg.FeedAuthHeader)
	cfg.FeedAuthValue = getEnv("FEED_AUTH_VALUE", cfg.FeedAuthValue)

	var err error
	if cfg.MigrateOnStart, err = getBool("MIGRATE_ON_START", cfg.MigrateOnStart); err != nil {
		return err
	}
	if cfg.MaxConcurrency, err = getInt("MAX_CONCURRENCY", cfg.MaxConcurrency); err != nil {
		return err
	}
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"FEED_CACHE_TTL", &cfg.FeedCacheTTL},
		{"CYCLE_BUDGET", &cfg.CycleBudget},
		{"POLL_INTERVAL", &cfg.PollInterval},
		{"FETCH_TIMEOUT", &cfg.FetchTimeout},
		{"PUSH_TIMEOUT", &cfg.PushTimeout},
		{"PUSH_TTL", &cfg.PushTTL},
		{"COOLDOWN", &cfg.Cooldown},
		{"ALERT_RETENTION", &cfg.AlertRetention},
	} {
		if *d.dst, err = getDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	return nil
}

// getEnv returns the value of the environment variable named by key,
// or fallback if the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// splitCSV splits a comma-separated string into a trimmed slice, ignoring empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
