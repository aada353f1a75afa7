package cliconfig

import (
	"errors"
	"testing"
	"time"

	"github.com/bft-labs/digestship/internal/domain"
)

func validPublic() Config {
	cfg := DefaultConfig()
	cfg.Feed = "public"
	cfg.DBPassword = "secret"
	return cfg
}

func validRelay() Config {
	cfg := DefaultConfig()
	cfg.Feed = "relay"
	cfg.DBPassword = "secret"
	cfg.APIKey = "k"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.FlushInterval != time.Second {
		t.Errorf("FlushInterval = %v, want 1s", cfg.FlushInterval)
	}
	if cfg.MaxBatchSize != 200 {
		t.Errorf("MaxBatchSize = %v, want 200", cfg.MaxBatchSize)
	}
	if cfg.DBDriver != "mysql" || cfg.DBPort != 3306 {
		t.Errorf("db = %s:%d, want mysql:3306", cfg.DBDriver, cfg.DBPort)
	}
	if cfg.APIKeyMode != "header" {
		t.Errorf("APIKeyMode = %q, want header", cfg.APIKeyMode)
	}
	if cfg.ReconnectBase != time.Second || cfg.ReconnectMax != 30*time.Second {
		t.Errorf("reconnect = %v..%v, want 1s..30s", cfg.ReconnectBase, cfg.ReconnectMax)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		base      func() Config
		wantErr   error
		wantTable string
	}{
		{
			name:      "valid public",
			base:      validPublic,
			wantTable: "public_tx_digest",
		},
		{
			name:      "valid relay",
			base:      validRelay,
			wantTable: "relay_tx_digest",
		},
		{
			name:      "explicit table kept",
			base:      validPublic,
			mutate:    func(c *Config) { c.Table = "digests" },
			wantTable: "digests",
		},
		{
			name:    "unknown feed",
			base:    validPublic,
			mutate:  func(c *Config) { c.Feed = "private" },
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "missing db password",
			base:    validPublic,
			mutate:  func(c *Config) { c.DBPassword = "" },
			wantErr: domain.ErrMissingCredential,
		},
		{
			name: "dsn replaces password",
			base: validPublic,
			mutate: func(c *Config) {
				c.DBPassword = ""
				c.DBDSN = "user:pw@tcp(db:3306)/eco"
			},
			wantTable: "public_tx_digest",
		},
		{
			name:    "sqlite needs dsn",
			base:    validPublic,
			mutate:  func(c *Config) { c.DBDriver = "sqlite" },
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "unknown driver",
			base:    validPublic,
			mutate:  func(c *Config) { c.DBDriver = "oracle" },
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "port out of range",
			base:    validPublic,
			mutate:  func(c *Config) { c.DBPort = 70000 },
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "zero flush interval",
			base:    validPublic,
			mutate:  func(c *Config) { c.FlushInterval = 0 },
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "zero batch size",
			base:    validPublic,
			mutate:  func(c *Config) { c.MaxBatchSize = 0 },
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "negative recent cache",
			base:    validPublic,
			mutate:  func(c *Config) { c.RecentCacheSize = -1 },
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "relay without key",
			base:    validRelay,
			mutate:  func(c *Config) { c.APIKey = "" },
			wantErr: domain.ErrMissingCredential,
		},
		{
			name:    "relay with bad key mode",
			base:    validRelay,
			mutate:  func(c *Config) { c.APIKeyMode = "cookie" },
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:      "public ignores key mode",
			base:      validPublic,
			mutate:    func(c *Config) { c.APIKeyMode = "cookie" },
			wantTable: "public_tx_digest",
		},
		{
			name:    "public without subscribe method",
			base:    validPublic,
			mutate:  func(c *Config) { c.SubscribeMethod = "" },
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "relay without url",
			base:    validRelay,
			mutate:  func(c *Config) { c.RelayURL = "" },
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "reconnect max below base",
			base:    validPublic,
			mutate:  func(c *Config) { c.ReconnectMax = time.Millisecond },
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "bad log level",
			base:    validPublic,
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "bad log format",
			base:    validPublic,
			mutate:  func(c *Config) { c.LogFormat = "xml" },
			wantErr: domain.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.base()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if cfg.Table != tt.wantTable {
				t.Errorf("Table = %q, want %q", cfg.Table, tt.wantTable)
			}
		})
	}
}

func TestConfig_Target(t *testing.T) {
	pub := validPublic()
	if got := pub.Target(); got.URL != DefaultPublicURL || got.APIKey != "" {
		t.Errorf("public Target() = %+v", got)
	}

	relay := validRelay()
	relay.APIKeyMode = "query"
	got := relay.Target()
	if got.URL != DefaultRelayURL {
		t.Errorf("URL = %q, want %q", got.URL, DefaultRelayURL)
	}
	if got.APIKey != "k" || got.AuthMode != domain.AuthQuery {
		t.Errorf("auth = %q/%v, want k/query", got.APIKey, got.AuthMode)
	}
	if got.ConnectTimeout != relay.ConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", got.ConnectTimeout, relay.ConnectTimeout)
	}
}

func TestConfig_Masked(t *testing.T) {
	cfg := validRelay()
	cfg.DBDSN = "user:pw@tcp(db)/x"

	m := cfg.Masked()
	if m.DBPassword == "secret" || m.APIKey == "k" || m.DBDSN == cfg.DBDSN {
		t.Errorf("Masked() leaked secrets: %+v", m)
	}
	if cfg.DBPassword != "secret" {
		t.Error("Masked() modified the receiver")
	}
	if DefaultConfig().Masked().APIKey != "" {
		t.Error("empty secret should stay empty")
	}
}
