// Package controller drives one client through matchmaking, negotiation and
// the connected call. Every state change happens on a single event loop;
// timers, push subscriptions and peer callbacks only post work to it.
package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/LingByte/LingMeet/pkg/constants"
	apperrors "github.com/LingByte/LingMeet/pkg/errors"
	"github.com/LingByte/LingMeet/pkg/identity"
	"github.com/LingByte/LingMeet/pkg/logger"
	"github.com/LingByte/LingMeet/pkg/metrics"
	"github.com/LingByte/LingMeet/pkg/rendezvous"
	"github.com/LingByte/LingMeet/pkg/store"
	"github.com/LingByte/LingMeet/pkg/webrtc/rtcmedia"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("controller closed")

const (
	pingTimeout    = 5 * time.Second
	cleanupTimeout = 5 * time.Second
)

// Options tune a Controller. Zero values fall back to the defaults in constants.
type Options struct {
	WaitingTTL         time.Duration
	MatchPollInterval  time.Duration
	SignalPollInterval time.Duration
	RetryDebounce      time.Duration
	Constraints        rtcmedia.Constraints
	Identity           identity.Generator
	Logger             *zap.Logger
	Metrics            *metrics.Metrics
	Clock              func() time.Time
}

func (o *Options) defaults() {
	if o.WaitingTTL <= 0 {
		o.WaitingTTL = constants.DefaultWaitingTTL
	}
	if o.MatchPollInterval <= 0 {
		o.MatchPollInterval = constants.DefaultMatchPollInterval
	}
	if o.SignalPollInterval <= 0 {
		o.SignalPollInterval = constants.DefaultSignalPollInterval
	}
	if o.RetryDebounce <= 0 {
		o.RetryDebounce = constants.DefaultRetryDebounce
	}
	if !o.Constraints.Audio && !o.Constraints.Video {
		o.Constraints = rtcmedia.Constraints{Audio: true, Video: true}
	}
	if o.Identity == nil {
		o.Identity = identity.UUIDGenerator{}
	}
	if o.Logger == nil {
		o.Logger = logger.Named("controller")
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

type event struct {
	gen uint64 // 0 is not bound to an attempt
	fn  func()
}

type Controller struct {
	store   store.Store
	queue   *rendezvous.Queue
	invites *rendezvous.Invites
	media   rtcmedia.MediaSource
	peers   PeerFactory
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics

	events    chan event
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// loop-owned
	state     State
	local     *rtcmedia.LocalStream
	att       *attempt
	gen       uint64
	searching bool
	stopped   bool
	retry     *time.Timer
	messages  []Message
	reason    apperrors.ErrorCode

	snapMu sync.RWMutex
	snap   Snapshot
	subs   map[chan Snapshot]struct{}
}

// New starts the controller's loop in the idle state. s may be nil when no
// store is configured; Start then reports config_required.
func New(s store.Store, media rtcmedia.MediaSource, peers PeerFactory, opts Options) *Controller {
	opts.defaults()
	c := &Controller{
		store:   s,
		media:   media,
		peers:   peers,
		opts:    opts,
		log:     opts.Logger,
		metrics: opts.Metrics,
		events:  make(chan event, constants.EventQueueSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		state:   StateIdle,
		subs:    make(map[chan Snapshot]struct{}),
	}
	if s != nil {
		c.queue = rendezvous.NewQueue(s,
			rendezvous.WithTTL(opts.WaitingTTL),
			rendezvous.WithClock(opts.Clock),
			rendezvous.WithQueueLogger(c.log.Named("queue")),
			rendezvous.WithQueueMetrics(opts.Metrics),
		)
		c.invites = rendezvous.NewInvites(s, c.log.Named("invites"), opts.Metrics)
	}
	c.metrics.SetState(string(StateIdle), allStates)
	c.snap = c.buildSnapshot()
	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			c.cancelRetry()
			c.teardown("shutdown")
			if c.local != nil {
				c.local.Stop()
				c.local = nil
			}
			return
		case ev := <-c.events:
			if ev.gen != 0 && (c.att == nil || c.att.gen != ev.gen || c.att.torndown) {
				continue
			}
			c.run(ev.fn)
		}
	}
}

func (c *Controller) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("event handler panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// call runs fn on the loop and waits for it.
func (c *Controller) call(fn func()) error {
	finished := make(chan struct{})
	ev := event{fn: func() {
		defer close(finished)
		fn()
	}}
	select {
	case c.events <- ev:
	case <-c.done:
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// post queues fn for the attempt gen without waiting.
func (c *Controller) post(gen uint64, fn func()) {
	select {
	case c.events <- event{gen: gen, fn: fn}:
	case <-c.done:
	}
}

// every posts fn each d until ctx ends.
func (c *Controller) every(ctx context.Context, d time.Duration, gen uint64, fn func()) {
	go func() {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.post(gen, fn)
			}
		}
	}()
}

// Start acquires media, joins the pool and begins searching. A call while a
// search is already running does nothing; a call from any other state
// abandons the current match first.
func (c *Controller) Start() error {
	var err error
	if cerr := c.call(func() { err = c.start() }); cerr != nil {
		return cerr
	}
	return err
}

// Skip leaves the current partner and searches for a new one.
func (c *Controller) Skip() error {
	var err error
	if cerr := c.call(func() {
		c.cancelRetry()
		c.teardown("skip")
		c.searching = false
		err = c.start()
	}); cerr != nil {
		return cerr
	}
	return err
}

// Disconnect ends the session and returns to idle without searching again.
func (c *Controller) Disconnect() error {
	return c.call(func() {
		c.stopped = true
		c.searching = false
		c.cancelRetry()
		c.teardown("disconnect")
		c.setState(StateIdle)
	})
}

// ToggleCamera flips the local video track and returns whether it is now on.
func (c *Controller) ToggleCamera() (bool, error) {
	return c.toggle(func(s *rtcmedia.LocalStream) (bool, bool) { return s.ToggleVideo(), s.HasVideo() }, "video")
}

// ToggleMic flips the local audio track and returns whether it is now on.
func (c *Controller) ToggleMic() (bool, error) {
	return c.toggle(func(s *rtcmedia.LocalStream) (bool, bool) { return s.ToggleAudio(), s.HasAudio() }, "audio")
}

func (c *Controller) toggle(flip func(*rtcmedia.LocalStream) (bool, bool), kind string) (bool, error) {
	var on bool
	var err error
	cerr := c.call(func() {
		if c.local == nil {
			err = apperrors.NewAppError(apperrors.ErrCodeDeviceUnavailable, "no local media").WithDetails("kind", kind)
			return
		}
		var has bool
		on, has = flip(c.local)
		if !has {
			err = apperrors.NewAppError(apperrors.ErrCodeDeviceUnavailable, "no local "+kind+" track").WithDetails("kind", kind)
			return
		}
		c.log.Debug("local track toggled", zap.String("kind", kind), zap.Bool("enabled", on))
		c.publish()
	})
	if cerr != nil {
		return false, cerr
	}
	return on, err
}

// SendMessage writes text to the partner over the chat channel and records it.
func (c *Controller) SendMessage(text string) error {
	if strings.TrimSpace(text) == "" {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "message is empty")
	}
	if len(text) > constants.MaxChatMessageLen {
		return apperrors.NewAppErrorf(apperrors.ErrCodeInvalidInput, "message longer than %d bytes", constants.MaxChatMessageLen)
	}
	var err error
	if cerr := c.call(func() { err = c.sendMessage(text) }); cerr != nil {
		return cerr
	}
	return err
}

func (c *Controller) sendMessage(text string) error {
	att := c.att
	if att == nil || att.peer == nil {
		return apperrors.NewAppError(apperrors.ErrCodeChannelNotOpen, "no partner connected")
	}
	if err := att.peer.SendText(text); err != nil {
		if errors.Is(err, rtcmedia.ErrChannelNotOpen) {
			return apperrors.NewAppError(apperrors.ErrCodeChannelNotOpen, "chat channel is not open").WithCause(err)
		}
		return apperrors.WrapError(apperrors.ErrCodeInternal, err)
	}
	c.messages = append(c.messages, Message{Text: text, Direction: DirectionMe, SentAt: c.opts.Clock()})
	c.publish()
	return nil
}

// Snapshot returns the latest published view.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// State is a shortcut for Snapshot().State.
func (c *Controller) State() State {
	return c.Snapshot().State
}

// Subscribe returns a channel that receives the current snapshot and every
// later one. A slow reader misses intermediate snapshots, never the latest
// state for long. cancel releases the channel.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, constants.SnapshotBufferSize)
	c.snapMu.Lock()
	select {
	case <-c.done:
		c.snapMu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	c.subs[ch] = struct{}{}
	ch <- c.snap
	c.snapMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.snapMu.Lock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
			c.snapMu.Unlock()
		})
	}
}

// Close tears down any match, stops local media and ends the loop.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		<-c.done
		c.snapMu.Lock()
		for ch := range c.subs {
			close(ch)
		}
		c.subs = map[chan Snapshot]struct{}{}
		c.snapMu.Unlock()
	})
	return nil
}

func (c *Controller) setState(s State) {
	c.reason = ""
	c.changeState(s)
}

// failState enters s and records the error code that caused it.
func (c *Controller) failState(s State, code apperrors.ErrorCode) {
	c.reason = code
	c.changeState(s)
}

func (c *Controller) changeState(s State) {
	if c.state != s {
		c.log.Info("state changed", zap.String("from", string(c.state)), zap.String("to", string(s)))
		c.state = s
		c.metrics.SetState(string(s), allStates)
	}
	c.publish()
}

func (c *Controller) buildSnapshot() Snapshot {
	snap := Snapshot{
		State:        c.state,
		Reason:       c.reason,
		RemoteTracks: []rtcmedia.TrackInfo{},
		Messages:     append([]Message{}, c.messages...),
	}
	if c.local != nil {
		snap.LocalStream = constants.DefaultStreamID
		snap.Video = c.local.VideoEnabled()
		snap.Audio = c.local.AudioEnabled()
	}
	if att := c.att; att != nil {
		snap.Handle = att.handle
		snap.Partner = att.partner
		snap.Room = att.room
		snap.Role = att.role
		snap.ChatOpen = att.chatOpen
		if att.peer != nil {
			snap.RemoteTracks = append(snap.RemoteTracks, att.peer.RemoteTracks()...)
		}
	}
	return snap
}

func (c *Controller) publish() {
	snap := c.buildSnapshot()
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	c.snap = snap
	for ch := range c.subs {
		select {
		case ch <- snap:
		default:
			// drop the oldest so the newest always lands
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (c *Controller) cancelRetry() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

// scheduleRetry starts a new search after the debounce unless the match
// recovers or is replaced first.
func (c *Controller) scheduleRetry(gen uint64) {
	c.cancelRetry()
	c.retry = time.AfterFunc(c.opts.RetryDebounce, func() {
		c.post(gen, func() {
			c.retry = nil
			if c.stopped || c.state != StateDisconnected {
				return
			}
			c.log.Info("retrying after lost partner")
			if err := c.start(); err != nil {
				c.log.Warn("automatic retry failed", zap.Error(err))
			}
		})
	})
}
