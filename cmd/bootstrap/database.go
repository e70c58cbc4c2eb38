package bootstrap

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/LingByte/LingMeet/pkg/config"
	"github.com/LingByte/LingMeet/pkg/logger"
	"github.com/LingByte/LingMeet/pkg/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Options struct {
	AutoMigrate bool // create or update the waiting_users and signals tables
	Verbose     bool // log every SQL statement
}

// SetupDatabase opens the configured store. It returns store.ErrNotConfigured
// when no driver or DSN is set so the caller can run without one.
func SetupDatabase(w io.Writer, opts *Options) (*gorm.DB, error) {
	cfg := config.GlobalConfig
	if !cfg.StoreConfigured() {
		return nil, store.ErrNotConfigured
	}
	level := gormlogger.Warn
	if opts != nil && opts.Verbose {
		level = gormlogger.Info
	}
	db, err := store.Open(cfg.DBDriver, cfg.DSN, level)
	if err != nil {
		return nil, err
	}
	if opts != nil && opts.AutoMigrate {
		if err := store.Migrate(db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		fmt.Fprintf(w, "database migrated (%s)\n", cfg.DBDriver)
	}
	return db, nil
}

// SetupNotifier picks Redis pub/sub when REDIS_ADDR is set and the
// in-process notifier otherwise. A Redis that cannot be reached falls back
// to in-process delivery; polling still covers other processes.
func SetupNotifier(ctx context.Context) store.Notifier {
	cfg := config.GlobalConfig.Redis
	if cfg.Addr == "" {
		return store.NewLocalNotifier()
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := store.ConnectRedis(dialCtx, cfg.Addr, cfg.Password, cfg.DB)
	if err != nil {
		logger.Warn("redis unavailable, using in-process notifier", zap.String("addr", cfg.Addr), zap.Error(err))
		return store.NewLocalNotifier()
	}
	logger.Info("redis notifier connected", zap.String("addr", cfg.Addr), zap.String("prefix", cfg.Prefix))
	return store.NewRedisNotifier(client, cfg.Prefix)
}
