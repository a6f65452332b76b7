package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger routes GORM statements to zap with the workflow fields of the
// request context.
//
// Two outcomes are routine in the stock ledger and are not logged as errors:
// a missing row, which repositories turn into NOT_FOUND, and a duplicate key,
// which is how a replayed idempotency id surfaces. A guarded UPDATE that
// matches no row is an optimistic-lock miss and is logged at info so retry
// storms stay visible.
type GormLogger struct {
	logger        *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// GormLoggerOption configures a GormLogger
type GormLoggerOption func(*GormLogger)

// WithSlowThreshold sets the duration above which a statement logs at warn.
// Zero disables slow statement logging.
func WithSlowThreshold(threshold time.Duration) GormLoggerOption {
	return func(l *GormLogger) {
		l.slowThreshold = threshold
	}
}

// NewGormLogger creates a GormLogger at level
func NewGormLogger(zapLogger *zap.Logger, level gormlogger.LogLevel, opts ...GormLoggerOption) *GormLogger {
	gl := &GormLogger{
		logger:        zapLogger.Named("gorm"),
		level:         level,
		slowThreshold: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(gl)
	}
	return gl
}

// LogMode implements gormlogger.Interface
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.level = level
	return &c
}

// Info implements gormlogger.Interface
func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.sugar(ctx).Infof(msg, data...)
	}
}

// Warn implements gormlogger.Interface
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.sugar(ctx).Warnf(msg, data...)
	}
}

// Error implements gormlogger.Interface
func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.sugar(ctx).Errorf(msg, data...)
	}
}

func (l *GormLogger) sugar(ctx context.Context) *zap.SugaredLogger {
	return l.logger.With(ContextFields(ctx)...).Sugar()
}

// Trace implements gormlogger.Interface
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	if errors.Is(err, gormlogger.ErrRecordNotFound) {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	verb, table := statementOf(sql)
	fields := append([]zap.Field{
		zap.String("statement", verb),
		zap.String("table", table),
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", sql),
	}, ContextFields(ctx)...)

	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		if l.level >= gormlogger.Info {
			l.logger.Debug("SQL duplicate key", fields...)
		}

	case err != nil:
		if l.level >= gormlogger.Error {
			l.logger.Error("SQL error", append(fields, zap.Error(err))...)
		}

	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		l.logger.Warn("SQL slow statement", append(fields, zap.Duration("threshold", l.slowThreshold))...)

	case verb == "UPDATE" && rows == 0 && l.level >= gormlogger.Warn:
		l.logger.Info("SQL guarded update matched no row", fields...)

	case l.level >= gormlogger.Info:
		l.logger.Debug("SQL statement", fields...)
	}
}

// statementOf returns the verb and target table of a single SQL statement,
// or empty strings when the statement is not a plain DML/SELECT
func statementOf(sql string) (verb, table string) {
	words := strings.Fields(sql)
	if len(words) == 0 {
		return "", ""
	}
	verb = strings.ToUpper(words[0])
	var marker string
	switch verb {
	case "SELECT", "DELETE":
		marker = "FROM"
	case "INSERT":
		marker = "INTO"
	case "UPDATE":
		if len(words) > 1 {
			return verb, unquote(words[1])
		}
		return verb, ""
	default:
		return verb, ""
	}
	for i, w := range words[:len(words)-1] {
		if strings.EqualFold(w, marker) {
			return verb, unquote(words[i+1])
		}
	}
	return verb, ""
}

func unquote(name string) string {
	return strings.Trim(name, "\"`();")
}

// MapGormLogLevel maps a config level to a GORM log level; unknown values are warn
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
