package rendezvous

import (
	"context"
	"time"

	"github.com/LingByte/LingMeet/pkg/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper runs Queue.SweepStale on a cron schedule such as "@every 30s".
type Sweeper struct {
	queue *Queue
	cron  *cron.Cron
	log   *zap.Logger
}

func NewSweeper(q *Queue, schedule string) (*Sweeper, error) {
	s := &Sweeper{
		queue: q,
		cron:  cron.New(),
		log:   logger.Named("sweeper"),
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.queue.SweepStale(ctx); err != nil {
		s.log.Warn("sweep failed", zap.Error(err))
	}
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
