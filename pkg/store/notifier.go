package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/LingByte/LingMeet/pkg/constants"
	"github.com/LingByte/LingMeet/pkg/models"
)

// Notifier carries "a signal row was inserted" events to room subscribers.
type Notifier interface {
	Publish(ctx context.Context, sig models.Signal) error
	Subscribe(ctx context.Context, roomID string) (Subscription, error)
	Close() error
}

// LocalNotifier fans out in process. A subscriber whose buffer is full misses
// the event, which mirrors a lossy push channel.
type LocalNotifier struct {
	mu      sync.RWMutex
	rooms   map[string]map[*localSub]struct{}
	dropped atomic.Int64
	closed  bool
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{rooms: make(map[string]map[*localSub]struct{})}
}

type localSub struct {
	n      *LocalNotifier
	room   string
	ch     chan models.Signal
	closed bool
}

func (s *localSub) Signals() <-chan models.Signal { return s.ch }

func (s *localSub) Close() error {
	s.n.remove(s)
	return nil
}

func (n *LocalNotifier) Publish(_ context.Context, sig models.Signal) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrClosed
	}
	for sub := range n.rooms[sig.RoomID] {
		select {
		case sub.ch <- sig:
		default:
			n.dropped.Add(1)
		}
	}
	return nil
}

func (n *LocalNotifier) Subscribe(_ context.Context, roomID string) (Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}
	sub := &localSub{n: n, room: roomID, ch: make(chan models.Signal, constants.NotifierBufferSize)}
	if n.rooms[roomID] == nil {
		n.rooms[roomID] = make(map[*localSub]struct{})
	}
	n.rooms[roomID][sub] = struct{}{}
	return sub, nil
}

func (n *LocalNotifier) remove(sub *localSub) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	delete(n.rooms[sub.room], sub)
	if len(n.rooms[sub.room]) == 0 {
		delete(n.rooms, sub.room)
	}
	close(sub.ch)
}

// Subscribers counts live subscriptions for a room.
func (n *LocalNotifier) Subscribers(roomID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.rooms[roomID])
}

// Dropped counts events lost to full subscriber buffers.
func (n *LocalNotifier) Dropped() int64 {
	return n.dropped.Load()
}

func (n *LocalNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	for room, subs := range n.rooms {
		for sub := range subs {
			sub.closed = true
			close(sub.ch)
		}
		delete(n.rooms, room)
	}
	return nil
}

// NopNotifier never delivers anything. Subscribers rely on polling alone.
type NopNotifier struct{}

type nopSub struct {
	ch   chan models.Signal
	once sync.Once
}

func (s *nopSub) Signals() <-chan models.Signal { return s.ch }

func (s *nopSub) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}

func (NopNotifier) Publish(context.Context, models.Signal) error { return nil }

func (NopNotifier) Subscribe(context.Context, string) (Subscription, error) {
	return &nopSub{ch: make(chan models.Signal)}, nil
}

func (NopNotifier) Close() error { return nil }
