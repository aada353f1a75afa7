package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/bft-labs/digestship/internal/domain"
)

// FileConfig mirrors Config but uses strings for durations to make the file
// TOML and YAML friendly.
type FileConfig struct {
	DBDriver       string `toml:"db_driver" yaml:"db_driver"`
	DBDSN          string `toml:"db_dsn" yaml:"db_dsn"`
	DBHost         string `toml:"db_host" yaml:"db_host"`
	DBPort         int    `toml:"db_port" yaml:"db_port"`
	DBName         string `toml:"db_name" yaml:"db_name"`
	DBUser         string `toml:"db_user" yaml:"db_user"`
	DBPassword     string `toml:"db_password" yaml:"db_password"`
	DBMaxOpenConns int    `toml:"db_max_open_conns" yaml:"db_max_open_conns"`
	Table          string `toml:"table" yaml:"table"`

	FlushInterval   string `toml:"flush_interval" yaml:"flush_interval"`
	MaxBatchSize    int    `toml:"max_batch_size" yaml:"max_batch_size"`
	WriteTimeout    string `toml:"write_timeout" yaml:"write_timeout"`
	RecentCacheSize *int   `toml:"recent_cache_size" yaml:"recent_cache_size"`
	SpillDir        string `toml:"spill_dir" yaml:"spill_dir"`

	PublicURL       string `toml:"public_url" yaml:"public_url"`
	SubscribeMethod string `toml:"subscribe_method" yaml:"subscribe_method"`
	RelayURL        string `toml:"relay_url" yaml:"relay_url"`
	APIKey          string `toml:"api_key" yaml:"api_key"`
	APIKeyMode      string `toml:"api_key_mode" yaml:"api_key_mode"`

	ConnectTimeout      string `toml:"connect_timeout" yaml:"connect_timeout"`
	IdleTimeout         string `toml:"idle_timeout" yaml:"idle_timeout"`
	ReconnectBase       string `toml:"reconnect_base" yaml:"reconnect_base"`
	ReconnectMax        string `toml:"reconnect_max" yaml:"reconnect_max"`
	ReconnectMaxAttempt int    `toml:"reconnect_max_attempt" yaml:"reconnect_max_attempt"`

	LogLevel    string `toml:"log_level" yaml:"log_level"`
	LogFormat   string `toml:"log_format" yaml:"log_format"`
	MetricsAddr string `toml:"metrics_addr" yaml:"metrics_addr"`
}

// LoadFileConfig reads a config file. Files ending in .yaml or .yml are
// parsed as YAML, everything else as TOML.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	default:
		err = toml.Unmarshal(b, &fc)
	}
	if err != nil {
		return fc, fmt.Errorf("%w: parse %s: %v", domain.ErrInvalidConfig, path, err)
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.digestship/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".digestship", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("db-driver", fc.DBDriver, &cfg.DBDriver)
	s.setString("db-dsn", fc.DBDSN, &cfg.DBDSN)
	s.setString("db-host", fc.DBHost, &cfg.DBHost)
	s.setInt("db-port", fc.DBPort, &cfg.DBPort)
	s.setString("db-name", fc.DBName, &cfg.DBName)
	s.setString("db-user", fc.DBUser, &cfg.DBUser)
	s.setString("db-password", fc.DBPassword, &cfg.DBPassword)
	s.setInt("db-max-open-conns", fc.DBMaxOpenConns, &cfg.DBMaxOpenConns)
	s.setString("table", fc.Table, &cfg.Table)

	s.setInt("max-batch-size", fc.MaxBatchSize, &cfg.MaxBatchSize)
	s.setIntPtr("recent-cache-size", fc.RecentCacheSize, &cfg.RecentCacheSize)
	s.setString("spill-dir", fc.SpillDir, &cfg.SpillDir)

	s.setString("public-url", fc.PublicURL, &cfg.PublicURL)
	s.setString("subscribe-method", fc.SubscribeMethod, &cfg.SubscribeMethod)
	s.setString("relay-url", fc.RelayURL, &cfg.RelayURL)
	s.setString("api-key", fc.APIKey, &cfg.APIKey)
	s.setString("api-key-mode", fc.APIKeyMode, &cfg.APIKeyMode)
	s.setInt("reconnect-max-attempt", fc.ReconnectMaxAttempt, &cfg.ReconnectMaxAttempt)

	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"flush-interval", fc.FlushInterval, &cfg.FlushInterval},
		{"write-timeout", fc.WriteTimeout, &cfg.WriteTimeout},
		{"connect-timeout", fc.ConnectTimeout, &cfg.ConnectTimeout},
		{"idle-timeout", fc.IdleTimeout, &cfg.IdleTimeout},
		{"reconnect-base", fc.ReconnectBase, &cfg.ReconnectBase},
		{"reconnect-max", fc.ReconnectMax, &cfg.ReconnectMax},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
