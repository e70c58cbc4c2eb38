package store

import (
	"context"
	"testing"
	"time"

	"github.com/LingByte/LingMeet/pkg/constants"
	"github.com/LingByte/LingMeet/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalNotifier_RoomScoped(t *testing.T) {
	n := NewLocalNotifier()
	defer n.Close()
	ctx := context.Background()

	mine, err := n.Subscribe(ctx, "a1-b2")
	require.NoError(t, err)
	other, err := n.Subscribe(ctx, "c3-d4")
	require.NoError(t, err)

	require.NoError(t, n.Publish(ctx, models.Signal{ID: "s1", RoomID: "a1-b2"}))

	select {
	case sig := <-mine.Signals():
		assert.Equal(t, "s1", sig.ID)
	case <-time.After(time.Second):
		t.Fatal("expected delivery")
	}
	select {
	case sig := <-other.Signals():
		t.Fatalf("unexpected delivery %v", sig)
	default:
	}
}

func TestLocalNotifier_CloseUnsubscribes(t *testing.T) {
	n := NewLocalNotifier()
	ctx := context.Background()

	sub, err := n.Subscribe(ctx, "room")
	require.NoError(t, err)
	assert.Equal(t, 1, n.Subscribers("room"))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, n.Subscribers("room"))
	_, open := <-sub.Signals()
	assert.False(t, open)

	require.NoError(t, n.Publish(ctx, models.Signal{ID: "late", RoomID: "room"}))
	require.NoError(t, n.Close())
	assert.ErrorIs(t, n.Publish(ctx, models.Signal{RoomID: "room"}), ErrClosed)
}

func TestLocalNotifier_FullBufferDrops(t *testing.T) {
	n := NewLocalNotifier()
	defer n.Close()
	ctx := context.Background()

	sub, err := n.Subscribe(ctx, "room")
	require.NoError(t, err)
	for i := 0; i < constants.NotifierBufferSize+3; i++ {
		require.NoError(t, n.Publish(ctx, models.Signal{RoomID: "room"}))
	}
	assert.EqualValues(t, 3, n.Dropped())
	assert.Len(t, sub.Signals(), constants.NotifierBufferSize)
}

func TestNopNotifier(t *testing.T) {
	var n NopNotifier
	sub, err := n.Subscribe(context.Background(), "room")
	require.NoError(t, err)
	require.NoError(t, n.Publish(context.Background(), models.Signal{RoomID: "room"}))
	select {
	case <-sub.Signals():
		t.Fatal("nop notifier delivered")
	default:
	}
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}

func TestRedisNotifier_Channel(t *testing.T) {
	n := NewRedisNotifier(nil, "")
	assert.Equal(t, constants.DefaultRedisPrefix+"a1-b2", n.channel("a1-b2"))
}
