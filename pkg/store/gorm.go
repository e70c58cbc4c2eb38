package store

import (
	"context"
	"time"

	apperrors "github.com/LingByte/LingMeet/pkg/errors"
	"github.com/LingByte/LingMeet/pkg/logger"
	"github.com/LingByte/LingMeet/pkg/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps rows in a relational database and fans inserts out through a Notifier.
type GormStore struct {
	db       *gorm.DB
	notifier Notifier
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*GormStore)

func WithClock(now func() time.Time) Option {
	return func(s *GormStore) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *GormStore) { s.log = l }
}

func NewGormStore(db *gorm.DB, notifier Notifier, opts ...Option) *GormStore {
	s := &GormStore{
		db:       db,
		notifier: notifier,
		now:      time.Now,
		log:      logger.Named("store"),
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func transient(op string, err error) error {
	return apperrors.WrapError(apperrors.ErrCodeTransientStore, err).WithDetails("op", op)
}

func (s *GormStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) UpsertWaiting(ctx context.Context, handle string, at time.Time) error {
	if at.IsZero() {
		at = s.now()
	}
	row := models.WaitingUser{UserID: handle, CreatedAt: at.UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"created_at"}),
	}).Create(&row).Error
	if err != nil {
		return transient("upsert_waiting", err)
	}
	return nil
}

func (s *GormStore) DeleteWaiting(ctx context.Context, handle string) error {
	err := s.db.WithContext(ctx).Where("user_id = ?", handle).Delete(&models.WaitingUser{}).Error
	if err != nil {
		return transient("delete_waiting", err)
	}
	return nil
}

func (s *GormStore) ListWaiting(ctx context.Context, q WaitingQuery) ([]models.WaitingUser, error) {
	tx := s.db.WithContext(ctx).Model(&models.WaitingUser{})
	if q.Exclude != "" {
		tx = tx.Where("user_id <> ?", q.Exclude)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("created_at >= ?", q.Since.UTC())
	}
	tx = tx.Order("created_at DESC").Order("user_id DESC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var rows []models.WaitingUser
	if err := tx.Find(&rows).Error; err != nil {
		return nil, transient("list_waiting", err)
	}
	return rows, nil
}

func (s *GormStore) DeleteWaitingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&models.WaitingUser{})
	if res.Error != nil {
		return 0, transient("sweep_waiting", res.Error)
	}
	return res.RowsAffected, nil
}

// InsertSignal appends sig and then notifies subscribers of its room.
// A failed notification is logged only; pollers still see the row.
func (s *GormStore) InsertSignal(ctx context.Context, sig *models.Signal) error {
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = s.now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(sig).Error; err != nil {
		return transient("insert_signal", err)
	}
	if err := s.notifier.Publish(ctx, *sig); err != nil {
		s.log.Warn("signal notification failed",
			zap.String("room", sig.RoomID), zap.String("signal_id", sig.ID), zap.Error(err))
	}
	return nil
}

func (s *GormStore) signalScope(ctx context.Context, q SignalQuery) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&models.Signal{})
	if q.ID != "" {
		tx = tx.Where("id = ?", q.ID)
	}
	if q.RoomID != "" {
		tx = tx.Where("room_id = ?", q.RoomID)
	}
	if q.SenderID != "" {
		tx = tx.Where("sender_id = ?", q.SenderID)
	}
	if q.ExcludeSender != "" {
		tx = tx.Where("sender_id <> ?", q.ExcludeSender)
	}
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	return tx
}

func (s *GormStore) ListSignals(ctx context.Context, q SignalQuery) ([]models.Signal, error) {
	if !q.scoped() {
		return nil, ErrUnscopedQuery
	}
	tx := s.signalScope(ctx, q)
	if q.Newest {
		tx = tx.Order("created_at DESC").Order("id DESC")
	} else {
		tx = tx.Order("created_at ASC").Order("id ASC")
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var rows []models.Signal
	if err := tx.Find(&rows).Error; err != nil {
		return nil, transient("list_signals", err)
	}
	return rows, nil
}

func (s *GormStore) DeleteSignals(ctx context.Context, q SignalQuery) (int64, error) {
	if !q.scoped() {
		return 0, ErrUnscopedQuery
	}
	res := s.signalScope(ctx, q).Delete(&models.Signal{})
	if res.Error != nil {
		return 0, transient("delete_signals", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) Subscribe(ctx context.Context, roomID string) (Subscription, error) {
	return s.notifier.Subscribe(ctx, roomID)
}
