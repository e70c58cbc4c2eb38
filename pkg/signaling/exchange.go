// Package signaling drives the offer/answer/ICE exchange for one room over the
// shared store. Signals arrive twice (push and poll) and are applied once.
package signaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/LingByte/LingMeet/pkg/constants"
	apperrors "github.com/LingByte/LingMeet/pkg/errors"
	"github.com/LingByte/LingMeet/pkg/logger"
	"github.com/LingByte/LingMeet/pkg/metrics"
	"github.com/LingByte/LingMeet/pkg/models"
	"github.com/LingByte/LingMeet/pkg/rendezvous"
	"github.com/LingByte/LingMeet/pkg/store"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var (
	ErrUnexpectedSignal = errors.New("unexpected signal")
	ErrClosed           = errors.New("exchange closed")
)

// Peer is the part of the connection object the exchange drives.
// CreateOffer and CreateAnswer also apply the result as the local description.
type Peer interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(candidate webrtc.ICECandidateInit) error
}

// Phase is how far this side of the negotiation has come.
type Phase int

const (
	PhaseAwaitingRemote Phase = iota
	PhaseRemoteSet
	PhaseAnswerSent
	PhaseICEFlowing
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingRemote:
		return "awaiting_remote_description"
	case PhaseRemoteSet:
		return "remote_description_set"
	case PhaseAnswerSent:
		return "answer_sent"
	case PhaseICEFlowing:
		return "ice_flowing"
	}
	return "unknown"
}

type outgoing struct {
	sig      *models.Signal
	attempts int
}

// Exchange is one side of one room. It is not safe for concurrent use; the
// owner serialises calls (the controller runs them on its event loop).
type Exchange struct {
	store   store.Store
	peer    Peer
	self    string
	partner string
	room    string
	role    rendezvous.Role

	phase     Phase
	processed map[string]struct{}
	pending   []webrtc.ICECandidateInit
	outbox    []*outgoing
	sub       store.Subscription
	closed    bool

	log     *zap.Logger
	metrics *metrics.Metrics
}

type Option func(*Exchange)

func WithLogger(l *zap.Logger) Option {
	return func(e *Exchange) { e.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Exchange) { e.metrics = m }
}

// New prepares the exchange between self and partner. Room and role follow
// from the two handles alone, so both sides agree without talking.
func New(s store.Store, peer Peer, self, partner string, opts ...Option) *Exchange {
	e := &Exchange{
		store:     s,
		peer:      peer,
		self:      self,
		partner:   partner,
		room:      rendezvous.RoomKey(self, partner),
		role:      rendezvous.RoleOf(self, partner),
		processed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logger.Named("signaling")
	}
	e.log = e.log.With(zap.String("room", e.room), zap.String("handle", self), zap.String("role", string(e.role)))
	return e
}

func (e *Exchange) Room() string          { return e.room }
func (e *Exchange) Role() rendezvous.Role { return e.role }
func (e *Exchange) Phase() Phase          { return e.phase }
func (e *Exchange) Partner() string       { return e.partner }

// Pending is the number of buffered remote candidates.
func (e *Exchange) Pending() int { return len(e.pending) }

// Subscribe opens the push path for the room. A failure leaves polling as the
// only delivery path and is not fatal.
func (e *Exchange) Subscribe(ctx context.Context) (<-chan models.Signal, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if e.sub != nil {
		return e.sub.Signals(), nil
	}
	sub, err := e.store.Subscribe(ctx, e.room)
	if err != nil {
		return nil, err
	}
	e.sub = sub
	return sub.Signals(), nil
}

// Begin sends the offer when this side is the offerer. The answerer waits.
func (e *Exchange) Begin(ctx context.Context) error {
	if e.closed {
		return ErrClosed
	}
	if e.role != rendezvous.RoleOfferer {
		return nil
	}
	offer, err := e.peer.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	e.log.Info("offer created")
	return e.publish(ctx, models.OfferPayload{SDP: offer})
}

// PublishCandidate forwards one locally gathered candidate.
func (e *Exchange) PublishCandidate(ctx context.Context, c webrtc.ICECandidateInit) error {
	if e.closed {
		return ErrClosed
	}
	return e.publish(ctx, models.CandidatePayload{Candidate: c})
}

func (e *Exchange) publish(ctx context.Context, p models.Payload) error {
	sig, err := models.NewSignal(e.room, e.self, p)
	if err != nil {
		return err
	}
	if err := e.store.InsertSignal(ctx, sig); err != nil {
		e.metrics.StoreError("insert_signal")
		e.outbox = append(e.outbox, &outgoing{sig: sig, attempts: 1})
		e.log.Warn("publish failed, will retry on next poll",
			zap.String("type", string(sig.Type)), zap.String("signal_id", sig.ID), zap.Error(err))
		return err
	}
	e.metrics.SignalPublished(string(sig.Type))
	return nil
}

// flushOutbox retries signals whose first insert failed, in order.
func (e *Exchange) flushOutbox(ctx context.Context) {
	queue := e.outbox
	e.outbox = nil
	for i, out := range queue {
		err := e.store.InsertSignal(ctx, out.sig)
		if err == nil {
			e.metrics.SignalPublished(string(out.sig.Type))
			continue
		}
		e.metrics.StoreError("insert_signal")
		out.attempts++
		if out.attempts >= constants.MaxPublishAttempts {
			e.log.Error("giving up on signal",
				zap.String("type", string(out.sig.Type)), zap.String("signal_id", out.sig.ID), zap.Error(err))
			continue
		}
		// later signals must not overtake one that is still queued
		e.outbox = append(e.outbox, queue[i:]...)
		return
	}
}

// Unsent counts signals waiting for a publish retry.
func (e *Exchange) Unsent() int { return len(e.outbox) }

// Poll reads every signal the partner wrote to the room, oldest first, and
// feeds each through Handle. Per-signal failures are logged and skipped.
func (e *Exchange) Poll(ctx context.Context) (int, error) {
	if e.closed {
		return 0, ErrClosed
	}
	if len(e.outbox) > 0 {
		e.flushOutbox(ctx)
	}
	rows, err := e.store.ListSignals(ctx, store.SignalQuery{
		RoomID:        e.room,
		ExcludeSender: e.self,
	})
	if err != nil {
		e.metrics.StoreError("list_signals")
		return 0, err
	}
	applied := 0
	for _, sig := range rows {
		ok, err := e.handle(ctx, sig, metrics.ViaPoll)
		if err != nil {
			e.log.Warn("dropping signal", zap.String("signal_id", sig.ID), zap.String("type", string(sig.Type)), zap.Error(err))
			continue
		}
		if ok {
			applied++
		}
	}
	return applied, nil
}

// Handle applies sig once. Repeats of an id, whichever path they come by,
// are ignored. Errors are SIGNALING_PROTOCOL app errors; the signal stays
// consumed so it is never retried.
func (e *Exchange) Handle(ctx context.Context, sig models.Signal, via string) error {
	_, err := e.handle(ctx, sig, via)
	return err
}

func (e *Exchange) handle(ctx context.Context, sig models.Signal, via string) (bool, error) {
	if e.closed {
		return false, ErrClosed
	}
	if sig.ID == "" {
		e.metrics.SignalDropped("no_id")
		return false, protocolError(fmt.Errorf("%w: signal without id", ErrUnexpectedSignal), sig)
	}
	if sig.SenderID == e.self {
		return false, nil
	}
	if sig.RoomID != e.room {
		e.metrics.SignalDropped("wrong_room")
		return false, protocolError(fmt.Errorf("%w: room %s", ErrUnexpectedSignal, sig.RoomID), sig)
	}
	if _, seen := e.processed[sig.ID]; seen {
		e.metrics.SignalDuplicate(via)
		return false, nil
	}
	e.processed[sig.ID] = struct{}{}

	p, err := sig.Decode()
	if err != nil {
		e.metrics.SignalDropped("malformed")
		return false, protocolError(err, sig)
	}

	switch v := p.(type) {
	case models.OfferPayload:
		err = e.onOffer(ctx, v)
	case models.AnswerPayload:
		err = e.onAnswer(v)
	case models.CandidatePayload:
		err = e.onCandidate(v)
	case models.InvitePayload:
		err = fmt.Errorf("%w: invite in a pairing room", ErrUnexpectedSignal)
	default:
		err = fmt.Errorf("%w: %T", ErrUnexpectedSignal, p)
	}
	if err != nil {
		if errors.Is(err, ErrUnexpectedSignal) {
			e.metrics.SignalDropped("unexpected")
		} else {
			e.metrics.SignalDropped("apply_failed")
		}
		return false, protocolError(err, sig)
	}
	e.metrics.SignalApplied(string(sig.Type), via)
	e.log.Debug("signal applied", zap.String("signal_id", sig.ID), zap.String("type", string(sig.Type)),
		zap.String("via", via), zap.Stringer("phase", e.phase))
	return true, nil
}

func (e *Exchange) onOffer(ctx context.Context, p models.OfferPayload) error {
	if e.role != rendezvous.RoleAnswerer {
		return fmt.Errorf("%w: offer received by the offerer", ErrUnexpectedSignal)
	}
	if e.phase != PhaseAwaitingRemote {
		return fmt.Errorf("%w: second offer in phase %s", ErrUnexpectedSignal, e.phase)
	}
	if err := e.peer.SetRemoteDescription(p.SDP); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	e.phase = PhaseRemoteSet
	e.flushPending()

	answer, err := e.peer.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	// a failed insert sits in the outbox and goes out with the next poll
	_ = e.publish(ctx, models.AnswerPayload{SDP: answer})
	e.phase = PhaseAnswerSent
	return nil
}

func (e *Exchange) onAnswer(p models.AnswerPayload) error {
	if e.role != rendezvous.RoleOfferer {
		return fmt.Errorf("%w: answer received by the answerer", ErrUnexpectedSignal)
	}
	if e.phase != PhaseAwaitingRemote {
		return fmt.Errorf("%w: second answer in phase %s", ErrUnexpectedSignal, e.phase)
	}
	if err := e.peer.SetRemoteDescription(p.SDP); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	e.phase = PhaseRemoteSet
	if e.flushPending() > 0 {
		e.phase = PhaseICEFlowing
	}
	return nil
}

func (e *Exchange) onCandidate(p models.CandidatePayload) error {
	if !e.peer.HasRemoteDescription() {
		e.pending = append(e.pending, p.Candidate)
		return nil
	}
	if err := e.peer.AddICECandidate(p.Candidate); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	e.phase = PhaseICEFlowing
	return nil
}

// flushPending applies buffered candidates in arrival order and reports how
// many the peer accepted. One bad candidate does not stop the rest. The phase
// is left to the caller.
func (e *Exchange) flushPending() int {
	if len(e.pending) == 0 || !e.peer.HasRemoteDescription() {
		return 0
	}
	pending := e.pending
	e.pending = nil
	applied := 0
	for _, c := range pending {
		if err := e.peer.AddICECandidate(c); err != nil {
			e.log.Warn("buffered candidate rejected", zap.String("candidate", c.Candidate), zap.Error(err))
			continue
		}
		applied++
	}
	e.log.Debug("flushed buffered candidates", zap.Int("count", len(pending)), zap.Int("applied", applied))
	return applied
}

// Close deletes the room's rows, ends the push subscription and forgets all
// per-room state. Store failures are logged only. Safe to call twice.
func (e *Exchange) Close(ctx context.Context) {
	if e.closed {
		return
	}
	e.closed = true
	if e.sub != nil {
		if err := e.sub.Close(); err != nil {
			e.log.Debug("close subscription", zap.Error(err))
		}
		e.sub = nil
	}
	if _, err := e.store.DeleteSignals(ctx, store.SignalQuery{RoomID: e.room}); err != nil {
		e.metrics.StoreError("delete_signals")
		e.log.Warn("delete room signals failed", zap.Error(err))
	}
	e.processed = make(map[string]struct{})
	e.pending = nil
	e.outbox = nil
}

func (e *Exchange) Closed() bool { return e.closed }

func protocolError(err error, sig models.Signal) error {
	return apperrors.WrapError(apperrors.ErrCodeSignalingProtocol, err).
		WithDetails("signal_id", sig.ID).
		WithDetails("type", string(sig.Type))
}
