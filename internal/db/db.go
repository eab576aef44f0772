package db

import (
	"strings"
	"time"

	"chathub/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Dialector 根据 DSN 选择驱动：postgres 连接串走 Postgres，其余视为 SQLite 文件路径。
func Dialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// Connect 负责建立数据库连接，并带有简单的重试来等待容器就绪。
func Connect(dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(Dialector(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				if gdb.Dialector.Name() == "sqlite" {
					// SQLite 只允许单写者
					sqlDB.SetMaxOpenConns(1)
				} else {
					sqlDB.SetMaxIdleConns(5)
					sqlDB.SetMaxOpenConns(20)
				}
				sqlDB.SetConnMaxLifetime(connMaxLifetime(gdb.Dialector.Name()))
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// connMaxLifetime 返回连接最长存活时间，0 表示不回收。
// SQLite 只有一个连接，回收它会丢掉 :memory: 数据库的全部内容。
func connMaxLifetime(dialect string) time.Duration {
	if dialect == "sqlite" {
		return 0
	}
	return time.Hour
}

// Migrate 自动迁移消息与房间两张表。
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.Room{}, &models.Message{})
}
