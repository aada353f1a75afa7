package cliconfig

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/digestship/internal/ports"
)

const reloadDebounce = 100 * time.Millisecond

// Reloadable is the subset of Config that can change without a restart.
type Reloadable struct {
	FlushInterval time.Duration
	MaxBatchSize  int
	LogLevel      string
}

// Watcher reloads a config file when it changes on disk. Only the Reloadable
// settings are applied; any other difference is logged as requiring a restart.
type Watcher struct {
	path     string
	changed  map[string]bool
	onReload func(Reloadable) error
	logger   ports.Logger

	// flags holds the startup values of the flags named in changed.
	flags Config

	mu       sync.Mutex
	current  Config
	debounce *time.Timer
}

// NewWatcher creates a watcher for path. current is the configuration the
// process started with; changed holds the flags set on the command line,
// which keep precedence over the file.
func NewWatcher(path string, current Config, changed map[string]bool, logger ports.Logger, onReload func(Reloadable) error) *Watcher {
	return &Watcher{
		path:     path,
		changed:  changed,
		onReload: onReload,
		logger:   logger,
		flags:    current,
		current:  current,
	}
}

// Run watches the config file's directory until ctx is cancelled.
// Editors often replace files by rename, so the directory is watched and
// events are filtered by name.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	name := filepath.Base(w.path)

	defer w.stopDebounce()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload(reloadDebounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", ports.Err(err))
		}
	}
}

func (w *Watcher) scheduleReload(delay time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(delay, w.reload)
}

func (w *Watcher) stopDebounce() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
}

func (w *Watcher) reload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	fc, err := LoadFileConfig(w.path)
	if err != nil {
		w.logger.Warn("config reload skipped", ports.String("path", w.path), ports.Err(err))
		return
	}

	next, err := w.layer(fc)
	if err != nil {
		w.logger.Warn("config reload skipped", ports.String("path", w.path), ports.Err(err))
		return
	}

	for _, key := range restartRequired(w.current, next) {
		w.logger.Warn("config change requires restart", ports.String("key", key))
	}

	r := Reloadable{
		FlushInterval: next.FlushInterval,
		MaxBatchSize:  next.MaxBatchSize,
		LogLevel:      next.LogLevel,
	}
	if err := w.onReload(r); err != nil {
		w.logger.Warn("config reload rejected", ports.Err(err))
		return
	}

	// Non-reloadable keys keep their running values so the warning repeats
	// until the process is restarted.
	w.current.FlushInterval = next.FlushInterval
	w.current.MaxBatchSize = next.MaxBatchSize
	w.current.LogLevel = next.LogLevel

	w.logger.Info("config reloaded",
		ports.Duration("flush_interval", r.FlushInterval),
		ports.Int("max_batch_size", r.MaxBatchSize),
		ports.String("log_level", r.LogLevel),
	)
}

// layer rebuilds the configuration in startup order: defaults, file,
// environment, then the flags given on the command line.
func (w *Watcher) layer(fc FileConfig) (Config, error) {
	next := DefaultConfig()
	next.Feed = w.current.Feed
	if err := ApplyFileConfig(&next, fc, w.changed); err != nil {
		return next, err
	}
	if err := ApplyEnvConfig(&next, w.changed); err != nil {
		return next, err
	}
	applyFlags(&next, w.flags, w.changed)
	return next, next.Validate()
}

// restartRequired lists the file keys whose values differ between a and b
// but cannot be applied to a running process.
func restartRequired(a, b Config) []string {
	var keys []string
	check := func(key string, differ bool) {
		if differ {
			keys = append(keys, key)
		}
	}
	check("db_driver", a.DBDriver != b.DBDriver)
	check("db_dsn", a.DBDSN != b.DBDSN)
	check("db_host", a.DBHost != b.DBHost)
	check("db_port", a.DBPort != b.DBPort)
	check("db_name", a.DBName != b.DBName)
	check("db_user", a.DBUser != b.DBUser)
	check("db_password", a.DBPassword != b.DBPassword)
	check("db_max_open_conns", a.DBMaxOpenConns != b.DBMaxOpenConns)
	check("table", a.Table != b.Table)
	check("write_timeout", a.WriteTimeout != b.WriteTimeout)
	check("recent_cache_size", a.RecentCacheSize != b.RecentCacheSize)
	check("spill_dir", a.SpillDir != b.SpillDir)
	check("public_url", a.PublicURL != b.PublicURL)
	check("subscribe_method", a.SubscribeMethod != b.SubscribeMethod)
	check("relay_url", a.RelayURL != b.RelayURL)
	check("api_key", a.APIKey != b.APIKey)
	check("api_key_mode", a.APIKeyMode != b.APIKeyMode)
	check("connect_timeout", a.ConnectTimeout != b.ConnectTimeout)
	check("idle_timeout", a.IdleTimeout != b.IdleTimeout)
	check("reconnect_base", a.ReconnectBase != b.ReconnectBase)
	check("reconnect_max", a.ReconnectMax != b.ReconnectMax)
	check("reconnect_max_attempt", a.ReconnectMaxAttempt != b.ReconnectMaxAttempt)
	check("log_format", a.LogFormat != b.LogFormat)
	check("metrics_addr", a.MetricsAddr != b.MetricsAddr)
	return keys
}
