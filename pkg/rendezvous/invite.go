package rendezvous

import (
	"context"
	"errors"
	"fmt"

	"github.com/LingByte/LingMeet/pkg/logger"
	"github.com/LingByte/LingMeet/pkg/metrics"
	"github.com/LingByte/LingMeet/pkg/models"
	"github.com/LingByte/LingMeet/pkg/store"
	"go.uber.org/zap"
)

var ErrNotAnInvite = errors.New("signal is not an invite for this client")

// Invites is the push-first pairing path. A client that picked a partner from
// the pool tells the partner directly instead of waiting for its next poll.
type Invites struct {
	store   store.Store
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewInvites(s store.Store, log *zap.Logger, m *metrics.Metrics) *Invites {
	if log == nil {
		log = logger.Named("invites")
	}
	return &Invites{store: s, log: log, metrics: m}
}

// Send writes an invite from -> to carrying from's handle.
func (i *Invites) Send(ctx context.Context, from, to string) (*models.Signal, error) {
	sig, err := models.NewSignal(InviteRoom(to), from, models.InvitePayload{PartnerID: from})
	if err != nil {
		return nil, err
	}
	if err := i.store.InsertSignal(ctx, sig); err != nil {
		i.metrics.StoreError("insert_signal")
		return nil, err
	}
	i.metrics.SignalPublished(string(models.SignalInvite))
	return sig, nil
}

// Subscribe watches invites addressed to self.
func (i *Invites) Subscribe(ctx context.Context, self string) (store.Subscription, error) {
	return i.store.Subscribe(ctx, InviteRoom(self))
}

// Check looks for the newest pending invite addressed to self and consumes it.
func (i *Invites) Check(ctx context.Context, self string) (string, bool, error) {
	rows, err := i.store.ListSignals(ctx, store.SignalQuery{
		RoomID:        InviteRoom(self),
		ExcludeSender: self,
		Type:          models.SignalInvite,
		Newest:        true,
		Limit:         1,
	})
	if err != nil {
		i.metrics.StoreError("list_signals")
		return "", false, err
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	partner, err := i.Consume(ctx, self, rows[0])
	if err != nil {
		return "", false, err
	}
	return partner, true, nil
}

// Consume validates an invite for self and deletes its row.
func (i *Invites) Consume(ctx context.Context, self string, sig models.Signal) (string, error) {
	if sig.Type != models.SignalInvite || sig.RoomID != InviteRoom(self) || sig.SenderID == self {
		i.metrics.SignalDropped("unexpected")
		return "", fmt.Errorf("%w: %s in %s", ErrNotAnInvite, sig.Type, sig.RoomID)
	}
	p, err := sig.Decode()
	if err != nil {
		i.metrics.SignalDropped("malformed")
		return "", err
	}
	partner := p.(models.InvitePayload).PartnerID
	if partner == self {
		i.metrics.SignalDropped("self_invite")
		return "", fmt.Errorf("%w: invite names the receiver", models.ErrMalformedPayload)
	}
	if _, err := i.store.DeleteSignals(ctx, store.SignalQuery{ID: sig.ID}); err != nil {
		i.metrics.StoreError("delete_signals")
		i.log.Warn("consume invite failed", zap.String("signal_id", sig.ID), zap.Error(err))
	}
	return partner, nil
}

// Clear drops every invite addressed to self. Best-effort.
func (i *Invites) Clear(ctx context.Context, self string) {
	if _, err := i.store.DeleteSignals(ctx, store.SignalQuery{RoomID: InviteRoom(self)}); err != nil {
		i.metrics.StoreError("delete_signals")
		i.log.Warn("clear invites failed", zap.String("handle", self), zap.Error(err))
	}
}

// Retract drops invites from sent to to. Best-effort.
func (i *Invites) Retract(ctx context.Context, from, to string) {
	if _, err := i.store.DeleteSignals(ctx, store.SignalQuery{RoomID: InviteRoom(to), SenderID: from}); err != nil {
		i.metrics.StoreError("delete_signals")
		i.log.Warn("retract invite failed", zap.String("from", from), zap.String("to", to), zap.Error(err))
	}
}
