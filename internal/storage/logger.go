package storage

import (
	"context"
	"errors"
	"time"

	"cdpmock/internal/ctxkeys"
	"cdpmock/internal/logger"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultSlowThreshold 超过该耗时的 SQL 记为慢查询
const DefaultSlowThreshold = 200 * time.Millisecond

// sqlLogger 将 GORM 日志转发到应用日志，附带触发持久化的操作名
type sqlLogger struct {
	log   logger.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newSQLLogger(l logger.Logger, level gormlogger.LogLevel, slow time.Duration) *sqlLogger {
	if slow <= 0 {
		slow = DefaultSlowThreshold
	}
	return &sqlLogger{log: l, level: level, slow: slow}
}

func (l *sqlLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *sqlLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.log.Info(msg, l.fields(ctx, "data", data)...)
	}
}

func (l *sqlLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.log.Warn(msg, l.fields(ctx, "data", data)...)
	}
}

func (l *sqlLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.log.Error(msg, l.fields(ctx, "data", data)...)
	}
}

// Trace 记录单条 SQL；记录不存在不算错误
func (l *sqlLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.log.Err(err, "存储写入失败", l.fields(ctx, "sql", sql, "rows", rows, "elapsed", elapsed)...)
	case elapsed > l.slow && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.log.Warn("存储操作过慢", l.fields(ctx, "sql", sql, "rows", rows, "elapsed", elapsed, "threshold", l.slow)...)
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.log.Debug("存储操作", l.fields(ctx, "sql", sql, "rows", rows, "elapsed", elapsed)...)
	}
}

func (l *sqlLogger) fields(ctx context.Context, kv ...any) []any {
	if op, ok := ctx.Value(ctxkeys.OpKey{}).(string); ok {
		kv = append(kv, "op", op)
	}
	return kv
}
