package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bft-labs/digestship/internal/ports"
)

// gormLogger routes gorm's logging into ports.Logger.
// Failed statements log at debug; the writer reports them itself.
type gormLogger struct {
	log   ports.Logger
	level logger.LogLevel
	slow  time.Duration
}

func newGormLogger(log ports.Logger, slow time.Duration) *gormLogger {
	return &gormLogger{log: log, level: logger.Warn, slow: slow}
}

func (g *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *g
	clone.level = level
	return &clone
}

func (g *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if g.log != nil && g.level >= logger.Info {
		g.log.Info(fmt.Sprintf(msg, data...), ports.String("component", "gorm"))
	}
}

func (g *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if g.log != nil && g.level >= logger.Warn {
		g.log.Warn(fmt.Sprintf(msg, data...), ports.String("component", "gorm"))
	}
}

func (g *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if g.log != nil && g.level >= logger.Error {
		g.log.Error(fmt.Sprintf(msg, data...), ports.String("component", "gorm"))
	}
}

func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.log == nil || g.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		g.log.Debug("statement failed",
			ports.String("component", "gorm"),
			ports.String("sql", sql),
			ports.Int64("rows", rows),
			ports.Duration("elapsed", elapsed),
			ports.Err(err),
		)
	case g.slow > 0 && elapsed > g.slow && g.level >= logger.Warn:
		sql, rows := fc()
		g.log.Warn("slow statement",
			ports.String("component", "gorm"),
			ports.String("sql", sql),
			ports.Int64("rows", rows),
			ports.Duration("elapsed", elapsed),
			ports.Duration("threshold", g.slow),
		)
	case g.level >= logger.Info:
		sql, rows := fc()
		g.log.Debug("statement",
			ports.String("component", "gorm"),
			ports.String("sql", sql),
			ports.Int64("rows", rows),
			ports.Duration("elapsed", elapsed),
		)
	}
}
