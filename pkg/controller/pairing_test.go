package controller

import (
	"testing"
	"time"

	"github.com/LingByte/LingMeet/pkg/rendezvous"
	"github.com/LingByte/LingMeet/pkg/store/storetest"
	"github.com/LingByte/LingMeet/pkg/webrtc/rtcmedia"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestController_PionPairing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping peer connection test in short mode")
	}
	s, _ := storetest.New(t)

	opt := rtcmedia.DefaultWebRTCOption()
	opt.ICEServers = nil
	opt.IncludeLoopback = true
	src := rtcmedia.SyntheticSource{Option: opt}
	peers := PionPeers(opt, zap.NewNop())

	newPion := func(handle string) *Controller {
		o := testOptions(handle)
		o.SignalPollInterval = 50 * time.Millisecond
		c := New(s, src, peers, o)
		t.Cleanup(func() { _ = c.Close() })
		return c
	}
	a, b := newPion("a1"), newPion("b2")

	require.NoError(t, a.Start())
	require.NoError(t, b.Start())

	for _, c := range []*Controller{a, b} {
		require.Eventually(t, func() bool {
			snap := c.Snapshot()
			return snap.State == StateConnected && snap.ChatOpen && snap.HasRemoteStream()
		}, 30*time.Second, 50*time.Millisecond, "handle %s stuck in %s", c.Snapshot().Handle, c.State())
	}
	assert.Equal(t, rendezvous.RoleOfferer, b.Snapshot().Role)
	assert.Equal(t, "audio", a.Snapshot().RemoteTracks[0].Kind)

	require.NoError(t, a.SendMessage("hello"))
	require.NoError(t, a.SendMessage("are you there"))
	require.Eventually(t, func() bool { return len(b.Snapshot().Messages) == 2 }, 10*time.Second, 20*time.Millisecond)
	got := b.Snapshot().Messages
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, "are you there", got[1].Text)
	assert.Equal(t, DirectionStranger, got[0].Direction)

	// the partner notices the hang-up and goes back to searching
	require.NoError(t, a.Disconnect())
	require.Eventually(t, func() bool { return b.State() == StateSearching }, 60*time.Second, 100*time.Millisecond)
	assert.NotEqual(t, "b2", b.Snapshot().Handle)
}
