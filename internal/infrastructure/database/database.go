package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"campuspay/internal/config"
	"campuspay/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open 按配置的驱动建立连接并配置连接池
//
// sqlite 只允许一个连接：内存库在多连接下各自独立，文件库并发写会返回 SQLITE_BUSY
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  NewLogger(cfg.LogLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败(%s): %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 DB 失败: %w", err)
	}

	// 连接池配置
	if strings.EqualFold(cfg.Driver, DriverSQLite) {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	slog.Info("[Database] 数据库连接成功", "driver", cfg.Driver)
	return db, nil
}

// AutoMigrate 自动迁移表结构
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		return fmt.Errorf("自动迁移表结构失败: %w", err)
	}
	return nil
}

// Ping 健康检查
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverMySQL, "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
				cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		}
		return mysql.Open(dsn), nil
	case DriverPostgres:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
				cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database)
		}
		return postgres.Open(dsn), nil
	case DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = cfg.Database + ".db"
		}
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
}

// NewLogger gorm 日志输出到 slog
func NewLogger(level string) logger.Interface {
	return logger.New(slogWriter{}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  parseLogLevel(level),
		IgnoreRecordNotFoundError: true,
	})
}

type slogWriter struct{}

func (slogWriter) Printf(format string, args ...interface{}) {
	slog.Info("[Gorm] " + fmt.Sprintf(format, args...))
}

func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
