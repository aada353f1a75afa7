package cliconfig

import (
	"os"
	"time"
)

// legacyEnv maps the variable names of earlier deployments to flags.
// DIGESTSHIP_* variables take precedence over them.
var legacyEnv = []struct {
	name string
	flag string
}{
	{"MYSQL_HOST", "db-host"},
	{"MYSQL_PORT", "db-port"},
	{"MYSQL_DATABASE", "db-name"},
	{"MYSQL_USER", "db-user"},
	{"MYSQL_PASSWORD", "db-password"},
	{"PUBLIC_WS_URL", "public-url"},
	{"PUBLIC_WS_SUBSCRIBE_METHOD", "subscribe-method"},
	{"RELAY_WSS_URL", "relay-url"},
	{"RELAY_API_KEY", "api-key"},
	{"RELAY_API_KEY_MODE", "api-key-mode"},
	{"DB_FLUSH_INTERVAL_MS", "flush-interval"},
	{"DB_MAX_BATCH_SIZE", "max-batch-size"},
}

// ApplyEnvConfig applies configuration from environment variables: first the
// legacy names, then DIGESTSHIP_*. It respects flags that have been
// explicitly set (changed map). Returns error if any environment variable
// has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	if err := applyLegacyEnv(cfg, changed); err != nil {
		return err
	}

	s := newConfigSetter(changed)

	s.setString("db-driver", os.Getenv("DIGESTSHIP_DB_DRIVER"), &cfg.DBDriver)
	s.setString("db-dsn", os.Getenv("DIGESTSHIP_DB_DSN"), &cfg.DBDSN)
	s.setString("db-host", os.Getenv("DIGESTSHIP_DB_HOST"), &cfg.DBHost)
	s.setString("db-name", os.Getenv("DIGESTSHIP_DB_NAME"), &cfg.DBName)
	s.setString("db-user", os.Getenv("DIGESTSHIP_DB_USER"), &cfg.DBUser)
	s.setString("db-password", os.Getenv("DIGESTSHIP_DB_PASSWORD"), &cfg.DBPassword)
	s.setString("table", os.Getenv("DIGESTSHIP_TABLE"), &cfg.Table)
	s.setString("spill-dir", os.Getenv("DIGESTSHIP_SPILL_DIR"), &cfg.SpillDir)
	s.setString("public-url", os.Getenv("DIGESTSHIP_PUBLIC_URL"), &cfg.PublicURL)
	s.setString("subscribe-method", os.Getenv("DIGESTSHIP_SUBSCRIBE_METHOD"), &cfg.SubscribeMethod)
	s.setString("relay-url", os.Getenv("DIGESTSHIP_RELAY_URL"), &cfg.RelayURL)
	s.setString("api-key", os.Getenv("DIGESTSHIP_API_KEY"), &cfg.APIKey)
	s.setString("api-key-mode", os.Getenv("DIGESTSHIP_API_KEY_MODE"), &cfg.APIKeyMode)
	s.setString("log-level", os.Getenv("DIGESTSHIP_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", os.Getenv("DIGESTSHIP_LOG_FORMAT"), &cfg.LogFormat)
	s.setString("metrics-addr", os.Getenv("DIGESTSHIP_METRICS_ADDR"), &cfg.MetricsAddr)

	ints := []struct {
		flag string
		env  string
		dst  *int
	}{
		{"db-port", "DIGESTSHIP_DB_PORT", &cfg.DBPort},
		{"db-max-open-conns", "DIGESTSHIP_DB_MAX_OPEN_CONNS", &cfg.DBMaxOpenConns},
		{"max-batch-size", "DIGESTSHIP_MAX_BATCH_SIZE", &cfg.MaxBatchSize},
		{"recent-cache-size", "DIGESTSHIP_RECENT_CACHE_SIZE", &cfg.RecentCacheSize},
		{"reconnect-max-attempt", "DIGESTSHIP_RECONNECT_MAX_ATTEMPT", &cfg.ReconnectMaxAttempt},
	}
	for _, i := range ints {
		if err := s.setIntFromString(i.flag, os.Getenv(i.env), i.dst); err != nil {
			return err
		}
	}

	durations := []struct {
		flag string
		env  string
		dst  *time.Duration
	}{
		{"flush-interval", "DIGESTSHIP_FLUSH_INTERVAL", &cfg.FlushInterval},
		{"write-timeout", "DIGESTSHIP_WRITE_TIMEOUT", &cfg.WriteTimeout},
		{"connect-timeout", "DIGESTSHIP_CONNECT_TIMEOUT", &cfg.ConnectTimeout},
		{"idle-timeout", "DIGESTSHIP_IDLE_TIMEOUT", &cfg.IdleTimeout},
		{"reconnect-base", "DIGESTSHIP_RECONNECT_BASE", &cfg.ReconnectBase},
		{"reconnect-max", "DIGESTSHIP_RECONNECT_MAX", &cfg.ReconnectMax},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, os.Getenv(d.env), d.dst); err != nil {
			return err
		}
	}

	return nil
}

func applyLegacyEnv(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	for _, e := range legacyEnv {
		value := os.Getenv(e.name)
		var err error
		switch e.flag {
		case "db-host":
			s.setString(e.flag, value, &cfg.DBHost)
		case "db-port":
			err = s.setIntFromString(e.flag, value, &cfg.DBPort)
		case "db-name":
			s.setString(e.flag, value, &cfg.DBName)
		case "db-user":
			s.setString(e.flag, value, &cfg.DBUser)
		case "db-password":
			s.setString(e.flag, value, &cfg.DBPassword)
		case "public-url":
			s.setString(e.flag, value, &cfg.PublicURL)
		case "subscribe-method":
			s.setString(e.flag, value, &cfg.SubscribeMethod)
		case "relay-url":
			s.setString(e.flag, value, &cfg.RelayURL)
		case "api-key":
			s.setString(e.flag, value, &cfg.APIKey)
		case "api-key-mode":
			s.setString(e.flag, value, &cfg.APIKeyMode)
		case "flush-interval":
			err = s.setMillisFromString(e.flag, value, &cfg.FlushInterval)
		case "max-batch-size":
			err = s.setIntFromString(e.flag, value, &cfg.MaxBatchSize)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
