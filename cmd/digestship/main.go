package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/digestship/internal/adapters/cache"
	"github.com/bft-labs/digestship/internal/adapters/fs"
	logAdapter "github.com/bft-labs/digestship/internal/adapters/log"
	"github.com/bft-labs/digestship/internal/adapters/store"
	"github.com/bft-labs/digestship/internal/adapters/ws"
	"github.com/bft-labs/digestship/internal/app"
	"github.com/bft-labs/digestship/internal/cliconfig"
	"github.com/bft-labs/digestship/internal/domain"
	"github.com/bft-labs/digestship/internal/feed"
	"github.com/bft-labs/digestship/internal/metrics"
	"github.com/bft-labs/digestship/internal/ports"
	"github.com/bft-labs/digestship/internal/version"
)

const helpDescription = `
Subscribe to a Sui transaction feed and record every transaction digest it
announces into a relational table, once.

Two instances exist:
  public   the public checkpoint feed, stored in public_tx_digest
  relay    the authenticated relay feed, stored in relay_tx_digest

Configuration is layered: defaults, then the config file
($HOME/.digestship/config.toml or --config, TOML or YAML), then environment
variables (MYSQL_*, PUBLIC_WS_*, RELAY_*, DB_* and DIGESTSHIP_*), then flags.
flush_interval, max_batch_size and log_level are reloaded when the config
file changes.
`

var exampleUsage = strings.TrimSpace(`
  MYSQL_PASSWORD=... digestship public
  RELAY_API_KEY=... MYSQL_PASSWORD=... digestship relay --api-key-mode query
  digestship relay --config /etc/digestship/relay.yaml --metrics-addr :9102
`)

// slowQueryThreshold makes inserts slower than this log at warn.
const slowQueryThreshold = 2 * time.Second

func getVersion() string {
	if version.Version != "dev" {
		return version.Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version.Version
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	bootLog, _ := logAdapter.NewZerologAdapter(logAdapter.Options{})

	root := &cobra.Command{
		Use:          "digestship",
		Short:        "Record Sui transaction digests from a push feed into a relational table",
		Long:         strings.TrimSpace(helpDescription),
		Example:      exampleUsage,
		Version:      fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
	}

	for _, v := range []feed.Variant{feed.Public, feed.Relay} {
		v := v
		root.AddCommand(&cobra.Command{
			Use:   v.Name,
			Short: fmt.Sprintf("Ingest the %s feed into %s", v.Name, v.DefaultTable),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg.Feed = v.Name
				return run(cmd, &cfg, cfgPath, v)
			},
		})
	}

	f := root.PersistentFlags()
	f.StringVar(&cfgPath, "config", "", "path to config file, .toml or .yaml (default: $HOME/.digestship/config.toml)")

	f.StringVar(&cfg.DBDriver, "db-driver", cfg.DBDriver, "database driver (mysql|postgres|sqlite)")
	f.StringVar(&cfg.DBDSN, "db-dsn", cfg.DBDSN, "database DSN; replaces the db-host/port/name/user/password settings")
	f.StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "MySQL host")
	f.IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "MySQL port")
	f.StringVar(&cfg.DBName, "db-name", cfg.DBName, "MySQL database")
	f.StringVar(&cfg.DBUser, "db-user", cfg.DBUser, "MySQL user")
	f.StringVar(&cfg.DBPassword, "db-password", cfg.DBPassword, "MySQL password (prefer MYSQL_PASSWORD)")
	f.IntVar(&cfg.DBMaxOpenConns, "db-max-open-conns", cfg.DBMaxOpenConns, "connection pool size")
	f.StringVar(&cfg.Table, "table", cfg.Table, "destination table (default: <feed>_tx_digest)")

	f.DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "periodic flush interval")
	f.IntVar(&cfg.MaxBatchSize, "max-batch-size", cfg.MaxBatchSize, "pending digests that trigger an early flush")
	f.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "timeout of a single bulk insert")
	f.IntVar(&cfg.RecentCacheSize, "recent-cache-size", cfg.RecentCacheSize, "persisted digests remembered to skip re-enqueueing (0 = off)")
	f.StringVar(&cfg.SpillDir, "spill-dir", cfg.SpillDir, "directory that keeps undelivered digests across restarts (empty = off)")

	f.StringVar(&cfg.PublicURL, "public-url", cfg.PublicURL, "public feed endpoint")
	f.StringVar(&cfg.SubscribeMethod, "subscribe-method", cfg.SubscribeMethod, "public feed subscribe method")
	f.StringVar(&cfg.RelayURL, "relay-url", cfg.RelayURL, "relay feed endpoint")
	f.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "relay API key (prefer RELAY_API_KEY)")
	f.StringVar(&cfg.APIKeyMode, "api-key-mode", cfg.APIKeyMode, "relay API key placement (header|query)")

	f.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "opening handshake timeout")
	f.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "drop a silent connection after this long (0 = never)")
	f.DurationVar(&cfg.ReconnectBase, "reconnect-base", cfg.ReconnectBase, "first reconnect delay")
	f.DurationVar(&cfg.ReconnectMax, "reconnect-max", cfg.ReconnectMax, "maximum reconnect delay")
	f.IntVar(&cfg.ReconnectMaxAttempt, "reconnect-max-attempt", cfg.ReconnectMaxAttempt, "attempt counter cap")
	if err := f.MarkHidden("reconnect-max-attempt"); err != nil {
		bootLog.Info("failed to hide reconnect-max-attempt flag", ports.Err(err))
	}

	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (console|json)")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "listen address for /metrics, /healthz and /readyz (empty = off)")

	if err := root.Execute(); err != nil {
		bootLog.Error("digestship", ports.Err(err))
		os.Exit(1)
	}
}

// loadConfig layers the config file and the environment under the flags
// given on the command line. It returns the changed-flag set and the config
// file actually read ("" if none).
func loadConfig(cmd *cobra.Command, cfg *cliconfig.Config, cfgPath string) (map[string]bool, string, error) {
	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return nil, "", fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return nil, "", err
		}
	} else if cfgPath != "" {
		return nil, "", fmt.Errorf("%w: config file %s not found", domain.ErrInvalidConfig, cfgPath)
	} else {
		cfgFile = ""
	}

	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return changed, cfgFile, nil
}

func run(cmd *cobra.Command, cfg *cliconfig.Config, cfgPath string, v feed.Variant) error {
	changed, cfgFile, err := loadConfig(cmd, cfg, cfgPath)
	if err != nil {
		return err
	}

	root, err := logAdapter.NewZerologAdapter(logAdapter.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	log := root.With(ports.String("feed", v.Name), ports.String("table", cfg.Table))
	log.Info("configuration", ports.Any("config", cfg.Masked()), ports.String("config_file", cfgFile))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	dsn := cfg.DBDSN
	if dsn == "" {
		dsn = store.MySQLDSN(cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.DBUser, cfg.DBPassword)
	}
	st, err := store.Open(ctx, store.Config{
		Driver:        cfg.DBDriver,
		DSN:           dsn,
		MaxOpenConns:  cfg.DBMaxOpenConns,
		SlowThreshold: slowQueryThreshold,
	}, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("close store", ports.Err(err))
		}
	}()

	m := metrics.New()
	fm := m.Feed(v.Name)

	opts := []app.WriterOption{
		app.WithWriterLogger(log),
		app.WithWriterEmitter(fm),
	}
	recent, err := cache.NewRecentSet(cfg.RecentCacheSize)
	if err != nil {
		return err
	}
	if recent != nil {
		opts = append(opts, app.WithRecentSet(recent))
	}
	if cfg.SpillDir != "" {
		opts = append(opts, app.WithPendingRepository(fs.NewSpillRepository(cfg.SpillDir)))
	}

	writer := app.NewWriter(st, app.WriterConfig{
		Table:         cfg.Table,
		FlushInterval: cfg.FlushInterval,
		MaxBatchSize:  cfg.MaxBatchSize,
		WriteTimeout:  cfg.WriteTimeout,
	}, opts...)
	if err := m.TrackPending(v.Name, writer.Pending); err != nil {
		return err
	}

	var sub *domain.SubscribeRequest
	if v.Subscribes {
		sub = domain.NewSubscribeRequest(cfg.SubscribeMethod)
	}
	dialer := ws.NewDialer(ws.Options{
		IdleTimeout: cfg.IdleTimeout,
		UserAgent:   version.UserAgent(),
	})
	client := app.NewClient(app.ClientConfig{
		Feed:      v.Name,
		Target:    cfg.Target(),
		Subscribe: sub,
		Backoff:   cfg.Backoff(),
	}, dialer, v.Extractor, writer, log, fm)

	sup := app.NewSupervisor(v.Name, writer, client, log, nil)

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr, metrics.NewRouter(m, sup), log)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("metrics server shutdown", ports.Err(err))
			}
		}()
	}

	if cfgFile != "" {
		w := cliconfig.NewWatcher(cfgFile, *cfg, changed, log, func(r cliconfig.Reloadable) error {
			if err := root.SetLevel(r.LogLevel); err != nil {
				return err
			}
			writer.SetLimits(r.FlushInterval, r.MaxBatchSize)
			return nil
		})
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("config watcher stopped", ports.Err(err))
			}
		}()
	}

	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start %s: %w", v.Name, err)
	}

	// Watch for a crashed supervisor
	doneCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if sup.Status() == app.StateCrashed {
					close(doneCh)
					return
				}
			}
		}
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received signal, stopping...", ports.String("signal", sig.String()))
	case <-doneCh:
		runErr = fmt.Errorf("%s feed client crashed", v.Name)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer stopCancel()
	err = sup.Stop(stopCtx)
	switch {
	case errors.Is(err, domain.ErrNotRunning):
		// Crashed: the client is gone but pending digests still get a final flush.
		if err := writer.Stop(stopCtx); err != nil {
			log.Error("final flush failed", ports.Int("pending", writer.Pending()), ports.Err(err))
		}
	case err != nil:
		return fmt.Errorf("stop %s: %w", v.Name, err)
	}
	log.Info("stopped", ports.Int("pending", writer.Pending()))
	return runErr
}
