package cliconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/digestship/internal/app"
	"github.com/bft-labs/digestship/internal/domain"
)

// Default feed endpoints.
const (
	DefaultPublicURL       = "ws://54.36.109.38:9000/subscribe"
	DefaultSubscribeMethod = "flashcheckpoint_subscribeFlashCheckpoints"
	DefaultRelayURL        = "wss://sui.validator.giverep.com/wss"
)

// Default database settings.
const (
	DefaultDBDriver = "mysql"
	DefaultDBHost   = "192.168.199.125"
	DefaultDBPort   = 3306
	DefaultDBName   = "jw-eco-stage"
	DefaultDBUser   = "stage_eco"
)

// DefaultRecentCacheSize is the default number of persisted digests remembered.
const DefaultRecentCacheSize = 100000

// Config holds CLI configuration for one digestship instance.
type Config struct {
	// Feed is "public" or "relay", chosen by the subcommand
	Feed string

	DBDriver       string
	DBDSN          string
	DBHost         string
	DBPort         int
	DBName         string
	DBUser         string
	DBPassword     string
	DBMaxOpenConns int
	Table          string

	FlushInterval   time.Duration
	MaxBatchSize    int
	WriteTimeout    time.Duration
	RecentCacheSize int
	SpillDir        string

	PublicURL       string
	SubscribeMethod string
	RelayURL        string
	APIKey          string
	APIKeyMode      string

	ConnectTimeout      time.Duration
	IdleTimeout         time.Duration
	ReconnectBase       time.Duration
	ReconnectMax        time.Duration
	ReconnectMaxAttempt int

	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		DBDriver:            DefaultDBDriver,
		DBHost:              DefaultDBHost,
		DBPort:              DefaultDBPort,
		DBName:              DefaultDBName,
		DBUser:              DefaultDBUser,
		DBMaxOpenConns:      10,
		FlushInterval:       app.DefaultFlushInterval,
		MaxBatchSize:        app.DefaultMaxBatchSize,
		WriteTimeout:        app.DefaultWriteTimeout,
		RecentCacheSize:     DefaultRecentCacheSize,
		PublicURL:           DefaultPublicURL,
		SubscribeMethod:     DefaultSubscribeMethod,
		RelayURL:            DefaultRelayURL,
		APIKeyMode:          string(domain.AuthHeader),
		ConnectTimeout:      app.DefaultConnectTimeout,
		ReconnectBase:       app.DefaultBackoffBase,
		ReconnectMax:        app.DefaultBackoffMax,
		ReconnectMaxAttempt: app.DefaultBackoffMaxAttempt,
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// Validate checks the configuration for errors and sets derived defaults.
// All errors wrap domain.ErrInvalidConfig or domain.ErrMissingCredential.
func (c *Config) Validate() error {
	switch c.Feed {
	case "public", "relay":
	default:
		return fmt.Errorf("%w: unknown feed %q", domain.ErrInvalidConfig, c.Feed)
	}

	switch c.DBDriver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("%w: unknown db driver %q (expected: mysql|postgres|sqlite)", domain.ErrInvalidConfig, c.DBDriver)
	}
	if c.DBDSN == "" {
		if c.DBDriver != "mysql" {
			return fmt.Errorf("%w: db-dsn is required for driver %s", domain.ErrInvalidConfig, c.DBDriver)
		}
		if c.DBPassword == "" {
			return fmt.Errorf("%w: db password (MYSQL_PASSWORD) is required", domain.ErrMissingCredential)
		}
		if c.DBPort <= 0 || c.DBPort > 65535 {
			return fmt.Errorf("%w: db port %d out of range", domain.ErrInvalidConfig, c.DBPort)
		}
	}

	if c.FlushInterval <= 0 {
		return fmt.Errorf("%w: flush interval must be positive", domain.ErrInvalidConfig)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: max batch size must be positive", domain.ErrInvalidConfig)
	}
	if c.RecentCacheSize < 0 {
		return fmt.Errorf("%w: recent cache size must not be negative", domain.ErrInvalidConfig)
	}

	if c.Feed == "relay" {
		if c.APIKey == "" {
			return fmt.Errorf("%w: relay api key (RELAY_API_KEY) is required", domain.ErrMissingCredential)
		}
		if _, err := domain.ParseAuthMode(c.APIKeyMode); err != nil {
			return err
		}
	}
	if c.FeedURL() == "" {
		return fmt.Errorf("%w: %s feed url is required", domain.ErrInvalidConfig, c.Feed)
	}
	if c.Feed == "public" && c.SubscribeMethod == "" {
		return fmt.Errorf("%w: subscribe method is required", domain.ErrInvalidConfig)
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect timeout must be positive", domain.ErrInvalidConfig)
	}
	if err := c.Backoff().Validate(); err != nil {
		return err
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", domain.ErrInvalidConfig, c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", domain.ErrInvalidConfig, c.LogFormat)
	}

	if c.Table == "" {
		c.Table = c.Feed + "_tx_digest"
	}
	return nil
}

// FeedURL returns the endpoint of the configured feed.
func (c *Config) FeedURL() string {
	if c.Feed == "relay" {
		return c.RelayURL
	}
	return c.PublicURL
}

// Target returns the dial target of the configured feed.
func (c *Config) Target() domain.FeedTarget {
	t := domain.FeedTarget{
		URL:            c.FeedURL(),
		ConnectTimeout: c.ConnectTimeout,
	}
	if c.Feed == "relay" {
		t.APIKey = c.APIKey
		t.AuthMode, _ = domain.ParseAuthMode(c.APIKeyMode)
	}
	return t
}

// Backoff returns the reconnect backoff settings.
func (c *Config) Backoff() app.BackoffConfig {
	return app.BackoffConfig{
		Base:       c.ReconnectBase,
		Max:        c.ReconnectMax,
		MaxAttempt: c.ReconnectMaxAttempt,
	}
}

// Masked returns a copy safe to log.
func (c Config) Masked() Config {
	c.DBPassword = mask(c.DBPassword)
	c.APIKey = mask(c.APIKey)
	if c.DBDSN != "" {
		c.DBDSN = "*****"
	}
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "*****"
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setIntPtr sets an int value, zero included, if present and flag not changed.
func (s *configSetter) setIntPtr(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", domain.ErrInvalidConfig, flag, err)
	}
	*dst = d
	return nil
}

// setMillisFromString parses a plain millisecond count.
func (s *configSetter) setMillisFromString(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || ms <= 0 {
		return fmt.Errorf("%w: parse %s: invalid millisecond value %q", domain.ErrInvalidConfig, flag, value)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", domain.ErrInvalidConfig, flag, err)
	}
	if i < 0 {
		return fmt.Errorf("%w: parse %s: negative value %d", domain.ErrInvalidConfig, flag, i)
	}
	*dst = i
	return nil
}

// flagFields copies the field bound to each flag.
var flagFields = map[string]func(dst, src *Config){
	"db-driver":             func(d, s *Config) { d.DBDriver = s.DBDriver },
	"db-dsn":                func(d, s *Config) { d.DBDSN = s.DBDSN },
	"db-host":               func(d, s *Config) { d.DBHost = s.DBHost },
	"db-port":               func(d, s *Config) { d.DBPort = s.DBPort },
	"db-name":               func(d, s *Config) { d.DBName = s.DBName },
	"db-user":               func(d, s *Config) { d.DBUser = s.DBUser },
	"db-password":           func(d, s *Config) { d.DBPassword = s.DBPassword },
	"db-max-open-conns":     func(d, s *Config) { d.DBMaxOpenConns = s.DBMaxOpenConns },
	"table":                 func(d, s *Config) { d.Table = s.Table },
	"flush-interval":        func(d, s *Config) { d.FlushInterval = s.FlushInterval },
	"max-batch-size":        func(d, s *Config) { d.MaxBatchSize = s.MaxBatchSize },
	"write-timeout":         func(d, s *Config) { d.WriteTimeout = s.WriteTimeout },
	"recent-cache-size":     func(d, s *Config) { d.RecentCacheSize = s.RecentCacheSize },
	"spill-dir":             func(d, s *Config) { d.SpillDir = s.SpillDir },
	"public-url":            func(d, s *Config) { d.PublicURL = s.PublicURL },
	"subscribe-method":      func(d, s *Config) { d.SubscribeMethod = s.SubscribeMethod },
	"relay-url":             func(d, s *Config) { d.RelayURL = s.RelayURL },
	"api-key":               func(d, s *Config) { d.APIKey = s.APIKey },
	"api-key-mode":          func(d, s *Config) { d.APIKeyMode = s.APIKeyMode },
	"connect-timeout":       func(d, s *Config) { d.ConnectTimeout = s.ConnectTimeout },
	"idle-timeout":          func(d, s *Config) { d.IdleTimeout = s.IdleTimeout },
	"reconnect-base":        func(d, s *Config) { d.ReconnectBase = s.ReconnectBase },
	"reconnect-max":         func(d, s *Config) { d.ReconnectMax = s.ReconnectMax },
	"reconnect-max-attempt": func(d, s *Config) { d.ReconnectMaxAttempt = s.ReconnectMaxAttempt },
	"log-level":             func(d, s *Config) { d.LogLevel = s.LogLevel },
	"log-format":            func(d, s *Config) { d.LogFormat = s.LogFormat },
	"metrics-addr":          func(d, s *Config) { d.MetricsAddr = s.MetricsAddr },
}

// applyFlags copies the values of the changed flags from src into dst.
func applyFlags(dst *Config, src Config, changed map[string]bool) {
	for flag, set := range changed {
		if copyField, ok := flagFields[flag]; ok && set {
			copyField(dst, &src)
		}
	}
}
