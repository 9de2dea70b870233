package db

import (
	"fmt"
	"time"

	"chatrelay/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect 按驱动建立连接。postgres 带简单重试以等待容器就绪；sqlite 只允许一个连接，
// 这样 `:memory:` 数据库在整个进程内是同一个。
func Connect(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "sqlite":
		return connectSQLite(dsn)
	case "", "postgres":
		return connectPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

func connectPostgres(dsn string) (*gorm.DB, error) {
	var gdb *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		gdb, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
		if err == nil {
			sqlDB, err2 := gdb.DB()
			if err2 == nil {
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetMaxOpenConns(20)
				sqlDB.SetConnMaxLifetime(time.Hour)
				return gdb, nil
			}
			err = err2
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

func connectSQLite(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return gdb, nil
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&models.User{}, &models.Room{}, &models.Membership{}, &models.Message{})
}

// SeedRooms 在房间表为空时创建默认房间。
func SeedRooms(gdb *gorm.DB, titles []string) error {
	var count int64
	if err := gdb.Model(&models.Room{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 || len(titles) == 0 {
		return nil
	}
	rooms := make([]models.Room, 0, len(titles))
	for _, t := range titles {
		rooms = append(rooms, models.Room{Title: t})
	}
	if err := gdb.Create(&rooms).Error; err != nil {
		return fmt.Errorf("seed rooms: %w", err)
	}
	return nil
}
