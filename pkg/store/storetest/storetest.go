// Package storetest builds throwaway in-memory stores for tests.
package storetest

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/LingByte/LingMeet/pkg/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var seq atomic.Int64

// NewDB opens a private, migrated in-memory SQLite database.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:lingmeet_%d?mode=memory&cache=shared", seq.Add(1))
	db, err := store.Open("sqlite", dsn, gormlogger.Silent)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// New returns a GormStore over NewDB wired to an in-process notifier.
func New(t testing.TB, opts ...store.Option) (*store.GormStore, *store.LocalNotifier) {
	t.Helper()
	n := store.NewLocalNotifier()
	t.Cleanup(func() { _ = n.Close() })
	opts = append([]store.Option{store.WithLogger(zap.NewNop())}, opts...)
	return store.NewGormStore(NewDB(t), n, opts...), n
}

// NewWithNotifier is New with a caller supplied notifier.
func NewWithNotifier(t testing.TB, n store.Notifier, opts ...store.Option) *store.GormStore {
	t.Helper()
	opts = append([]store.Option{store.WithLogger(zap.NewNop())}, opts...)
	return store.NewGormStore(NewDB(t), n, opts...)
}
