// Package store persists digest batches through gorm.
package store

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bft-labs/digestship/internal/domain"
	"github.com/bft-labs/digestship/internal/ports"
)

// Supported drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Default pool settings.
const (
	DefaultMaxOpenConns    = 10
	DefaultConnMaxLifetime = time.Hour
	DefaultPingTimeout     = 5 * time.Second
)

var tableName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Config describes how to reach the destination database.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration

	// SlowThreshold makes statements slower than this log at warn (0 = never).
	SlowThreshold time.Duration
}

// MySQLDSN builds a MySQL DSN using utf8mb4 and native password auth.
func MySQLDSN(host string, port int, database, user, password string) string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", host, port)
	cfg.DBName = database
	cfg.User = user
	cfg.Passwd = password
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Store implements ports.DigestStore on a gorm connection pool.
type Store struct {
	db     *gorm.DB
	driver string
}

// digestRow is the single-column shape written to every digest table.
type digestRow struct {
	TxDigest string `gorm:"column:tx_digest"`
}

// Open builds the connection pool without requiring the database to be up.
// Only an unusable configuration is an error: an unreachable server is
// logged at warn and surfaces later as a failed InsertIgnore.
func Open(ctx context.Context, cfg Config, logger ports.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverMySQL, "":
		cfg.Driver = DriverMySQL
		dialector = gormmysql.New(gormmysql.Config{
			DSN:                       cfg.DSN,
			SkipInitializeWithVersion: true,
		})
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: unknown database driver %q (expected: mysql|postgres|sqlite)", domain.ErrInvalidConfig, cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newGormLogger(logger, cfg.SlowThreshold),
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpenConns
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)

	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = DefaultConnMaxLifetime
	}
	sqlDB.SetConnMaxLifetime(lifetime)

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = DefaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil && logger != nil {
		logger.Warn("database not reachable yet; inserts will be retried",
			ports.String("driver", cfg.Driver),
			ports.Err(classify(err)),
		)
	}

	return &Store{db: db, driver: cfg.Driver}, nil
}

// InsertIgnore writes every digest of batch into table as one statement,
// silently skipping digests already present. It returns the number of rows
// actually inserted. Failures are returned as *domain.StoreError.
func (s *Store) InsertIgnore(ctx context.Context, table string, batch *domain.Batch) (int64, error) {
	if !tableName.MatchString(table) {
		return 0, fmt.Errorf("%w: invalid table name %q", domain.ErrInvalidConfig, table)
	}
	if batch.Empty() {
		return 0, nil
	}

	rows := make([]digestRow, len(batch.Digests))
	for i, d := range batch.Digests {
		rows[i] = digestRow{TxDigest: d}
	}

	tx := s.db.WithContext(ctx).Table(table)
	if s.driver == DriverMySQL {
		tx = tx.Clauses(clause.Insert{Modifier: "IGNORE"})
	} else {
		tx = tx.Clauses(clause.OnConflict{DoNothing: true})
	}

	res := tx.Create(&rows)
	if res.Error != nil {
		return 0, classify(res.Error)
	}
	return res.RowsAffected, nil
}

// DB exposes the underlying gorm handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ ports.DigestStore = (*Store)(nil)
