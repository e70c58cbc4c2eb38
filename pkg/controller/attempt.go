package controller

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/LingByte/LingMeet/pkg/errors"
	"github.com/LingByte/LingMeet/pkg/metrics"
	"github.com/LingByte/LingMeet/pkg/models"
	"github.com/LingByte/LingMeet/pkg/rendezvous"
	"github.com/LingByte/LingMeet/pkg/signaling"
	"github.com/LingByte/LingMeet/pkg/store"
	"github.com/LingByte/LingMeet/pkg/webrtc/rtcmedia"
	"github.com/LingByte/LingMeet/pkg/webrtc/rtcmedia/session"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// attempt is one pass from searching to teardown. Everything it owns is
// released by teardown; events carrying an older gen are discarded.
type attempt struct {
	gen      uint64
	handle   string
	ctx      context.Context
	cancel   context.CancelFunc
	torndown bool

	enqueued   bool
	enqueuedAt time.Time
	stopMatch  context.CancelFunc
	inviteSub  store.Subscription
	invited    []string

	partner string
	room    string
	role    rendezvous.Role

	peer           Peer
	exchange       *signaling.Exchange
	stopSignalPoll context.CancelFunc
	connected      bool
	chatOpen       bool
	log            *zap.Logger
}

func (a *attempt) stopMatching() {
	if a.stopMatch != nil {
		a.stopMatch()
		a.stopMatch = nil
	}
	if a.inviteSub != nil {
		_ = a.inviteSub.Close()
		a.inviteSub = nil
	}
}

func (a *attempt) stopPolling() {
	if a.stopSignalPoll != nil {
		a.stopSignalPoll()
		a.stopSignalPoll = nil
	}
}

func (c *Controller) start() error {
	if c.searching {
		c.log.Debug("start ignored, search already running")
		return nil
	}
	c.stopped = false
	c.cancelRetry()
	c.teardown("restart")

	if c.store == nil {
		c.failState(StateConfigRequired, apperrors.ErrCodeConfigurationMissing)
		return apperrors.NewAppError(apperrors.ErrCodeConfigurationMissing, "store is not configured")
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	err := c.store.Ping(pingCtx)
	cancel()
	if err != nil {
		c.log.Error("store unreachable", zap.Error(err))
		c.failState(StateConfigRequired, apperrors.ErrCodeConfigurationMissing)
		return apperrors.NewAppError(apperrors.ErrCodeConfigurationMissing, "store is unreachable").WithCause(err)
	}

	if err := c.acquireMedia(); err != nil {
		code := apperrors.ErrCodeDeviceUnavailable
		if appErr, ok := apperrors.AsAppError(err); ok {
			code = appErr.Code
		}
		c.failState(StateCameraRequired, code)
		return err
	}

	c.gen++
	ctx, cancelAtt := context.WithCancel(context.Background())
	att := &attempt{
		gen:    c.gen,
		handle: c.opts.Identity.NewHandle(),
		ctx:    ctx,
		cancel: cancelAtt,
	}
	att.log = c.log.With(zap.String("handle", att.handle), zap.Uint64("attempt", att.gen))
	c.att = att
	c.messages = nil
	c.searching = true
	c.setState(StateSearching)
	att.log.Info("searching for a partner")

	if sub, err := c.invites.Subscribe(ctx, att.handle); err != nil {
		att.log.Warn("invite push unavailable, relying on polling", zap.Error(err))
	} else {
		att.inviteSub = sub
		go c.forward(ctx, att.gen, sub.Signals(), func(sig models.Signal) { c.onInvitePush(att, sig) })
	}

	c.matchTick(att)
	if !att.torndown && att.room == "" {
		matchCtx, stop := context.WithCancel(ctx)
		att.stopMatch = stop
		c.every(matchCtx, c.opts.MatchPollInterval, att.gen, func() { c.matchTick(att) })
	}
	return nil
}

// acquireMedia keeps one local stream for the life of the controller.
func (c *Controller) acquireMedia() error {
	if c.local != nil {
		select {
		case <-c.local.Done():
			c.local = nil
		default:
			return nil
		}
	}
	if c.media == nil {
		return apperrors.NewAppError(apperrors.ErrCodeDeviceUnavailable, "no media source")
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	local, err := c.media.Acquire(ctx, c.opts.Constraints)
	if err != nil {
		c.log.Warn("media acquisition failed", zap.Error(err))
		if errors.Is(err, rtcmedia.ErrPermissionDenied) {
			return apperrors.NewAppError(apperrors.ErrCodePermissionDenied, "camera or microphone access denied").WithCause(err)
		}
		return apperrors.NewAppError(apperrors.ErrCodeDeviceUnavailable, "camera or microphone unavailable").WithCause(err)
	}
	c.local = local
	return nil
}

// matchTick checks for an invite, keeps the waiting entry fresh and tries to
// claim the newest other waiter. A store error skips the tick.
func (c *Controller) matchTick(att *attempt) {
	if att.torndown || att.room != "" {
		return
	}
	ctx := att.ctx

	partner, ok, err := c.invites.Check(ctx, att.handle)
	if err != nil {
		att.log.Warn("invite check failed", zap.Error(err))
		return
	}
	if ok {
		c.connect(att, partner, metrics.PathInvite)
		return
	}

	now := c.opts.Clock()
	if !att.enqueued || now.Sub(att.enqueuedAt) > c.opts.WaitingTTL/2 {
		if err := c.queue.Enqueue(ctx, att.handle); err != nil {
			att.log.Warn("enqueue failed, retrying next tick", zap.Error(err))
		} else {
			att.enqueued = true
			att.enqueuedAt = now
		}
	}

	partner, ok, err = c.queue.FindPartner(ctx, att.handle)
	if err != nil {
		att.log.Warn("partner lookup failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	if _, err := c.invites.Send(ctx, att.handle, partner); err != nil {
		att.log.Warn("invite failed, retrying next tick", zap.String("partner", partner), zap.Error(err))
		return
	}
	att.invited = append(att.invited, partner)
	c.queue.Leave(ctx, partner)
	c.connect(att, partner, metrics.PathPoll)
}

func (c *Controller) onInvitePush(att *attempt, sig models.Signal) {
	if att.room != "" {
		return
	}
	partner, err := c.invites.Consume(att.ctx, att.handle, sig)
	if err != nil {
		att.log.Warn("ignoring pushed invite", zap.String("signal_id", sig.ID), zap.Error(err))
		return
	}
	c.connect(att, partner, metrics.PathPush)
}

// connect enters the room with partner. Only the first discovery wins.
func (c *Controller) connect(att *attempt, partner, path string) {
	if att.torndown || att.room != "" || partner == att.handle {
		return
	}
	att.stopMatching()
	att.partner = partner
	att.room = rendezvous.RoomKey(att.handle, partner)
	att.role = rendezvous.RoleOf(att.handle, partner)
	att.log = att.log.With(zap.String("room", att.room), zap.String("role", string(att.role)))
	c.searching = false
	c.metrics.Match(path)
	att.log.Info("partner found", zap.String("partner", partner), zap.String("path", path))
	c.setState(StateConnecting)

	peer, err := c.peers(c.local, att.role == rendezvous.RoleOfferer, c.peerEvents(att))
	if err != nil {
		att.log.Error("peer setup failed", zap.Error(err))
		c.peerLost(att, "peer setup failed")
		return
	}
	att.peer = peer
	att.exchange = signaling.New(c.store, peer, att.handle, partner,
		signaling.WithLogger(c.log.Named("signaling")),
		signaling.WithMetrics(c.metrics),
	)

	if ch, err := att.exchange.Subscribe(att.ctx); err != nil {
		att.log.Warn("signal push unavailable, relying on polling", zap.Error(err))
	} else {
		go c.forward(att.ctx, att.gen, ch, func(sig models.Signal) { c.onRoomSignal(att, sig) })
	}
	pollCtx, stop := context.WithCancel(att.ctx)
	att.stopSignalPoll = stop
	c.every(pollCtx, c.opts.SignalPollInterval, att.gen, func() { c.signalTick(att) })

	c.queue.Leave(att.ctx, att.handle)
	att.enqueued = false

	if err := att.exchange.Begin(att.ctx); err != nil {
		att.log.Warn("offer not delivered yet", zap.Error(err))
	}
	c.publish()
}

func (c *Controller) forward(ctx context.Context, gen uint64, ch <-chan models.Signal, handle func(models.Signal)) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			c.post(gen, func() { handle(sig) })
		}
	}
}

func (c *Controller) onRoomSignal(att *attempt, sig models.Signal) {
	if att.exchange == nil {
		return
	}
	if err := att.exchange.Handle(att.ctx, sig, metrics.ViaPush); err != nil {
		att.log.Warn("pushed signal rejected", zap.Error(err))
	}
}

func (c *Controller) signalTick(att *attempt) {
	if att.exchange == nil || att.connected {
		att.stopPolling()
		return
	}
	n, err := att.exchange.Poll(att.ctx)
	if err != nil {
		att.log.Warn("signal poll failed", zap.Error(err))
		return
	}
	if n > 0 {
		att.log.Debug("signals polled", zap.Int("count", n))
	}
}

func (c *Controller) peerEvents(att *attempt) session.Events {
	gen := att.gen
	return session.Events{
		OnCandidate: func(cand webrtc.ICECandidateInit) {
			c.post(gen, func() {
				if att.exchange != nil {
					_ = att.exchange.PublishCandidate(att.ctx, cand)
				}
			})
		},
		OnTrack: func(info rtcmedia.TrackInfo) {
			c.post(gen, func() {
				att.log.Info("partner stream attached", zap.String("kind", info.Kind))
				c.markConnected(att)
			})
		},
		OnICEState: func(s webrtc.ICEConnectionState) {
			c.post(gen, func() { c.onICEState(att, s) })
		},
		OnChatOpen: func() {
			c.post(gen, func() {
				att.chatOpen = true
				c.publish()
			})
		},
		OnChatMessage: func(text string) {
			c.post(gen, func() {
				c.messages = append(c.messages, Message{Text: text, Direction: DirectionStranger, SentAt: c.opts.Clock()})
				c.publish()
			})
		},
		OnChatClose: func() {
			c.post(gen, func() {
				att.chatOpen = false
				c.publish()
			})
		},
	}
}

func (c *Controller) onICEState(att *attempt, s webrtc.ICEConnectionState) {
	switch s {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		c.markConnected(att)
	case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed:
		c.peerLost(att, "ice "+s.String())
	}
}

func (c *Controller) markConnected(att *attempt) {
	c.cancelRetry()
	if !att.connected {
		att.connected = true
		att.stopPolling()
		att.log.Info("connected to partner")
	}
	c.setState(StateConnected)
}

// peerLost reports the drop and schedules a fresh search unless the user
// disconnected or the connection recovers within the debounce.
func (c *Controller) peerLost(att *attempt, reason string) {
	att.log.Warn("partner lost", zap.Error(apperrors.NewAppError(apperrors.ErrCodePeerDisconnected, reason)))
	c.failState(StateDisconnected, apperrors.ErrCodePeerDisconnected)
	if c.stopped {
		return
	}
	c.scheduleRetry(att.gen)
}

// teardown releases the current attempt: timers, subscriptions, the peer,
// the waiting entry, invites and the room's signal rows.
func (c *Controller) teardown(reason string) {
	att := c.att
	if att == nil {
		return
	}
	c.att = nil
	att.torndown = true
	att.cancel()
	att.stopMatching()
	att.stopPolling()

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if att.peer != nil {
		if err := att.peer.Close(); err != nil {
			att.log.Warn("close peer failed", zap.Error(err))
		}
	}
	if att.exchange != nil {
		att.exchange.Close(ctx)
	}
	c.queue.Leave(ctx, att.handle)
	c.invites.Clear(ctx, att.handle)
	for _, p := range att.invited {
		c.invites.Retract(ctx, att.handle, p)
	}
	c.messages = nil
	att.log.Info("attempt torn down", zap.String("reason", reason))
	c.publish()
}
