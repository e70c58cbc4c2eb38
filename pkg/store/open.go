package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/LingByte/LingMeet/pkg/models"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	sqlite3 "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Dialector maps a driver name to its gorm dialector.
// "sqlite" is the pure Go driver, "sqlite3" the cgo one.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case "sqlite":
		return sqlite.Open(dsn), nil
	case "sqlite3":
		return sqlite3.Open(dsn), nil
	case "postgres", "postgresql", "pg":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "", "none":
		return nil, ErrNotConfigured
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}

// Open connects and tunes the pool. SQLite is pinned to one connection so
// concurrent writers queue instead of failing with "database is locked".
func Open(driver, dsn string, level gormlogger.LogLevel) (*gorm.DB, error) {
	if dsn == "" {
		return nil, ErrNotConfigured
	}
	dialector, err := Dialector(driver, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormlogger.Default.LogMode(level),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(strings.ToLower(driver), "sqlite") {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

// Migrate creates the waiting_users and signals tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.WaitingUser{}, &models.Signal{})
}
