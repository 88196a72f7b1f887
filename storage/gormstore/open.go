package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mengeric/finsync/logging"
)

// Open 按驱动名打开数据库：postgres 或 sqlite（纯 Go，开发与测试用）。
func Open(driver, dsn string) (*gorm.DB, error) {
	var (
		dialector gorm.Dialector
		memory    bool
	)
	switch driver {
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	case "sqlite", "":
		dsn, memory = sqliteDSN(dsn)
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(200 * time.Millisecond)})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if IsSQLite(driver) {
		if sqlDB, err := db.DB(); err == nil {
			// 共享缓存内存库按表加锁且不等待，只能单连接
			if memory {
				sqlDB.SetMaxOpenConns(1)
			} else {
				sqlDB.SetMaxOpenConns(sqlitePoolSize)
			}
		}
	}
	return db, nil
}

// sqlitePoolSize 文件库连接数：一个导入事务，其余供归档与查询。
const sqlitePoolSize = 4

// IsSQLite 驱动名是否为 SQLite。
func IsSQLite(driver string) bool { return driver == "sqlite" || driver == "" }

// sqliteDSN 为文件库补齐 WAL 与 busy_timeout，返回是否为内存库。
// WAL 下读不阻塞写事务；写者之间靠 busy_timeout 排队。
func sqliteDSN(dsn string) (string, bool) {
	if dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return dsn, true
	}
	var add []string
	if !strings.Contains(dsn, "journal_mode") {
		add = append(add, "_pragma=journal_mode(WAL)")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		add = append(add, "_pragma=busy_timeout(5000)")
	}
	if len(add) == 0 {
		return dsn, false
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(add, "&"), false
}

// gormLogger 把 GORM 日志转到 logging 门面；只输出慢查询与错误。
type gormLogger struct {
	level logger.LogLevel
	slow  time.Duration
}

func newGormLogger(slow time.Duration) logger.Interface {
	return &gormLogger{level: logger.Warn, slow: slow}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *gormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Info {
		logging.L().Infof(ctx, msg, args...)
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Warn {
		logging.L().Warnf(ctx, msg, args...)
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Error {
		logging.L().Errorf(ctx, msg, args...)
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		query, rows := fc()
		logging.L().Error(ctx, "sql failed", "elapsed", elapsed, "rows", rows, "sql", query, "err", err)
	case l.slow > 0 && elapsed > l.slow && l.level >= logger.Warn:
		query, rows := fc()
		logging.L().Warn(ctx, "slow sql", "elapsed", elapsed, "rows", rows, "sql", query)
	case l.level >= logger.Info:
		query, rows := fc()
		logging.L().Debug(ctx, "sql", "elapsed", elapsed, "rows", rows, "sql", query)
	}
}
