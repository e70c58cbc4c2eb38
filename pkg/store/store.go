// Package store is the rendezvous persistence layer: the waiting pool, the
// append-only signal log and best-effort insert notifications.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/LingByte/LingMeet/pkg/models"
)

var (
	ErrNotConfigured = errors.New("store is not configured")
	ErrUnscopedQuery = errors.New("signal query needs an id or a room")
	ErrClosed        = errors.New("subscription closed")
)

// WaitingQuery selects candidate partners, newest first.
type WaitingQuery struct {
	Exclude string
	Since   time.Time
	Limit   int
}

// SignalQuery filters the signal log. Oldest first unless Newest is set.
type SignalQuery struct {
	ID            string
	RoomID        string
	SenderID      string
	ExcludeSender string
	Type          models.SignalType
	Newest        bool
	Limit         int
}

func (q SignalQuery) scoped() bool {
	return q.ID != "" || q.RoomID != ""
}

// Subscription delivers inserted signals for one room until closed.
// Delivery is at-least-once at best; a subscriber must also poll.
type Subscription interface {
	Signals() <-chan models.Signal
	Close() error
}

// Store is what the rendezvous components need from the relational store.
type Store interface {
	Ping(ctx context.Context) error

	UpsertWaiting(ctx context.Context, handle string, at time.Time) error
	DeleteWaiting(ctx context.Context, handle string) error
	ListWaiting(ctx context.Context, q WaitingQuery) ([]models.WaitingUser, error)
	DeleteWaitingBefore(ctx context.Context, cutoff time.Time) (int64, error)

	InsertSignal(ctx context.Context, sig *models.Signal) error
	ListSignals(ctx context.Context, q SignalQuery) ([]models.Signal, error)
	DeleteSignals(ctx context.Context, q SignalQuery) (int64, error)

	Subscribe(ctx context.Context, roomID string) (Subscription, error)
}
