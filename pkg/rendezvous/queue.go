package rendezvous

import (
	"context"
	"time"

	"github.com/LingByte/LingMeet/pkg/constants"
	"github.com/LingByte/LingMeet/pkg/logger"
	"github.com/LingByte/LingMeet/pkg/metrics"
	"github.com/LingByte/LingMeet/pkg/store"
	"go.uber.org/zap"
)

// Queue is this client's view of the waiting pool.
type Queue struct {
	store   store.Store
	ttl     time.Duration
	now     func() time.Time
	log     *zap.Logger
	metrics *metrics.Metrics
}

type QueueOption func(*Queue)

func WithTTL(ttl time.Duration) QueueOption {
	return func(q *Queue) {
		if ttl > 0 {
			q.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

func WithQueueLogger(l *zap.Logger) QueueOption {
	return func(q *Queue) { q.log = l }
}

func WithQueueMetrics(m *metrics.Metrics) QueueOption {
	return func(q *Queue) { q.metrics = m }
}

func NewQueue(s store.Store, opts ...QueueOption) *Queue {
	q := &Queue{
		store: s,
		ttl:   constants.DefaultWaitingTTL,
		now:   time.Now,
		log:   logger.Named("queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) TTL() time.Duration {
	return q.ttl
}

// Enqueue upserts handle with a fresh timestamp.
func (q *Queue) Enqueue(ctx context.Context, handle string) error {
	if err := q.store.UpsertWaiting(ctx, handle, q.now()); err != nil {
		q.metrics.StoreError("upsert_waiting")
		return err
	}
	return nil
}

// FindPartner returns the most recently enqueued live entry other than handle.
// Rows older than the TTL are ignored whether or not they were swept yet.
// A partner whose room key would start with the invite prefix is refused.
func (q *Queue) FindPartner(ctx context.Context, handle string) (string, bool, error) {
	rows, err := q.store.ListWaiting(ctx, store.WaitingQuery{
		Exclude: handle,
		Since:   q.now().Add(-q.ttl),
		Limit:   1,
	})
	if err != nil {
		q.metrics.StoreError("list_waiting")
		return "", false, err
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	partner := rows[0].UserID
	// a pairing room must never read as somebody's invite room
	if IsInviteRoom(RoomKey(handle, partner)) {
		q.log.Warn("ignoring partner with a reserved handle", zap.String("handle", handle), zap.String("partner", partner))
		return "", false, nil
	}
	return partner, true, nil
}

// SweepStale deletes every entry past the TTL.
func (q *Queue) SweepStale(ctx context.Context) (int64, error) {
	n, err := q.store.DeleteWaitingBefore(ctx, q.now().Add(-q.ttl))
	if err != nil {
		q.metrics.StoreError("sweep_waiting")
		return 0, err
	}
	q.metrics.WaitingSwept(n)
	if n > 0 {
		q.log.Debug("swept stale waiting entries", zap.Int64("count", n))
	}
	return n, nil
}

// Leave removes handle from the pool. Failure is logged, never returned.
func (q *Queue) Leave(ctx context.Context, handle string) {
	if err := q.store.DeleteWaiting(ctx, handle); err != nil {
		q.metrics.StoreError("delete_waiting")
		q.log.Warn("leave waiting pool failed", zap.String("handle", handle), zap.Error(err))
	}
}
