package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/LingByte/LingMeet/pkg/errors"
	"github.com/LingByte/LingMeet/pkg/identity"
	"github.com/LingByte/LingMeet/pkg/rendezvous"
	"github.com/LingByte/LingMeet/pkg/store"
	"github.com/LingByte/LingMeet/pkg/store/storetest"
	"github.com/LingByte/LingMeet/pkg/webrtc/rtcmedia"
	"github.com/LingByte/LingMeet/pkg/webrtc/rtcmedia/session"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// fakePeer negotiates instantly: once it holds both descriptions it reports
// ICE connected and an open chat channel.
type fakePeer struct {
	mu         sync.Mutex
	offerer    bool
	ev         session.Events
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	sent       []string
	chatOpen   bool
	closed     bool
	connected  bool
}

func (p *fakePeer) fire(fn func()) {
	go func() {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if !closed {
			fn()
		}
	}()
}

// maybeConnect must be called with mu held.
func (p *fakePeer) maybeConnect() {
	if p.local == nil || p.remote == nil || p.connected {
		return
	}
	p.connected = true
	p.chatOpen = true
	p.fire(func() {
		if p.ev.OnICEState != nil {
			p.ev.OnICEState(webrtc.ICEConnectionStateConnected)
		}
		if p.ev.OnChatOpen != nil {
			p.ev.OnChatOpen()
		}
	})
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.SessionDescription{}, session.ErrClosed
	}
	d := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 fake offer"}
	p.local = &d
	p.fire(func() {
		if p.ev.OnCandidate != nil {
			p.ev.OnCandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host"})
		}
	})
	return d, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	d := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 fake answer"}
	p.local = &d
	p.maybeConnect()
	return d, nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote != nil {
		return errors.New("remote description already set")
	}
	p.remote = &desc
	p.maybeConnect()
	return nil
}

func (p *fakePeer) HasRemoteDescription() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote != nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) SendText(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.chatOpen || p.closed {
		return rtcmedia.ErrChannelNotOpen
	}
	p.sent = append(p.sent, text)
	return nil
}

func (p *fakePeer) RemoteTracks() []rtcmedia.TrackInfo { return nil }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.chatOpen = false
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type peerLab struct {
	mu    sync.Mutex
	peers []*fakePeer
	fail  error
}

func (l *peerLab) factory(_ *rtcmedia.LocalStream, offerer bool, ev session.Events) (Peer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return nil, l.fail
	}
	p := &fakePeer{offerer: offerer, ev: ev}
	l.peers = append(l.peers, p)
	return p, nil
}

func (l *peerLab) last() *fakePeer {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.peers) == 0 {
		return nil
	}
	return l.peers[len(l.peers)-1]
}

func (l *peerLab) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.peers)
}

func testOptions(handles ...string) Options {
	return Options{
		MatchPollInterval:  20 * time.Millisecond,
		SignalPollInterval: 20 * time.Millisecond,
		RetryDebounce:      30 * time.Millisecond,
		Constraints:        rtcmedia.Constraints{Audio: true},
		Identity:           identity.NewSequence(handles...),
		Logger:             zap.NewNop(),
	}
}

func newClient(t *testing.T, s store.Store, opts Options) (*Controller, *peerLab) {
	t.Helper()
	lab := &peerLab{}
	src := rtcmedia.SyntheticSource{Option: rtcmedia.DefaultWebRTCOption()}
	c := New(s, src, lab.factory, opts)
	t.Cleanup(func() { _ = c.Close() })
	return c, lab
}

func waitState(t *testing.T, c *Controller, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, waitFor, tick,
		"want %s, have %s", want, c.State())
}

func waitingHandles(t *testing.T, s store.Store) []string {
	t.Helper()
	rows, err := s.ListWaiting(context.Background(), store.WaitingQuery{})
	require.NoError(t, err)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.UserID)
	}
	return out
}

func roomRows(t *testing.T, s store.Store, room string) int {
	t.Helper()
	rows, err := s.ListSignals(context.Background(), store.SignalQuery{RoomID: room})
	require.NoError(t, err)
	return len(rows)
}

func pair(t *testing.T, s store.Store) (a, b *Controller, labA, labB *peerLab) {
	t.Helper()
	a, labA = newClient(t, s, testOptions("a1"))
	b, labB = newClient(t, s, testOptions("b2"))
	require.NoError(t, a.Start())
	waitState(t, a, StateSearching)
	require.NoError(t, b.Start())
	waitState(t, a, StateConnected)
	waitState(t, b, StateConnected)
	return a, b, labA, labB
}

func TestController_StartsIdle(t *testing.T) {
	s, _ := storetest.New(t)
	c, _ := newClient(t, s, testOptions("a1"))

	snap := c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.Handle)
	assert.Empty(t, snap.Messages)
	assert.False(t, snap.HasRemoteStream())
}

func TestController_PairsTwoClients(t *testing.T) {
	s, _ := storetest.New(t)
	a, b, labA, labB := pair(t, s)

	sa, sb := a.Snapshot(), b.Snapshot()
	assert.Equal(t, "a1-b2", sa.Room)
	assert.Equal(t, sa.Room, sb.Room)
	assert.Equal(t, "b2", sa.Partner)
	assert.Equal(t, "a1", sb.Partner)
	assert.Equal(t, rendezvous.RoleAnswerer, sa.Role)
	assert.Equal(t, rendezvous.RoleOfferer, sb.Role)
	assert.True(t, labB.last().offerer)
	assert.False(t, labA.last().offerer)
	assert.Equal(t, 1, labA.count())
	assert.Equal(t, 1, labB.count())

	// both sides left the pool on entering the room
	assert.Empty(t, waitingHandles(t, s))
	// the answerer received the offerer's candidate
	assert.Eventually(t, func() bool {
		p := labA.last()
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.candidates) > 0
	}, waitFor, tick)
}

func TestController_StartIsSingleFlight(t *testing.T) {
	s, _ := storetest.New(t)
	c, _ := newClient(t, s, testOptions("a1", "a2"))

	require.NoError(t, c.Start())
	require.NoError(t, c.Start())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Start())
		}()
	}
	wg.Wait()

	assert.Equal(t, "a1", c.Snapshot().Handle)
	assert.Equal(t, []string{"a1"}, waitingHandles(t, s))
}

func TestController_DisconnectLeavesNoRows(t *testing.T) {
	s, _ := storetest.New(t)
	a, b, labA, labB := pair(t, s)

	require.NoError(t, a.Disconnect())
	require.NoError(t, b.Disconnect())

	assert.Equal(t, StateIdle, a.State())
	assert.Equal(t, StateIdle, b.State())
	assert.True(t, labA.last().isClosed())
	assert.True(t, labB.last().isClosed())
	assert.Empty(t, waitingHandles(t, s))
	assert.Zero(t, roomRows(t, s, "a1-b2"))
	assert.Zero(t, roomRows(t, s, rendezvous.InviteRoom("a1")))
	assert.Zero(t, roomRows(t, s, rendezvous.InviteRoom("b2")))
	assert.Empty(t, a.Snapshot().Room)
}

func TestController_DoublePairing(t *testing.T) {
	s, _ := storetest.New(t)
	ctx := context.Background()
	// both are already in the pool, so each first tick picks the other
	now := time.Now()
	require.NoError(t, s.UpsertWaiting(ctx, "a1", now))
	require.NoError(t, s.UpsertWaiting(ctx, "b2", now))

	a, labA := newClient(t, s, testOptions("a1"))
	b, labB := newClient(t, s, testOptions("b2"))

	var wg sync.WaitGroup
	for _, c := range []*Controller{a, b} {
		wg.Add(1)
		go func(c *Controller) {
			defer wg.Done()
			assert.NoError(t, c.Start())
		}(c)
	}
	wg.Wait()

	waitState(t, a, StateConnected)
	waitState(t, b, StateConnected)
	assert.Equal(t, "a1-b2", a.Snapshot().Room)
	assert.Equal(t, "a1-b2", b.Snapshot().Room)
	assert.Equal(t, 1, labA.count())
	assert.Equal(t, 1, labB.count())
	assert.True(t, labB.last().offerer)
	assert.False(t, labA.last().offerer)

	require.NoError(t, a.Disconnect())
	require.NoError(t, b.Disconnect())
	assert.Empty(t, waitingHandles(t, s))
	assert.Zero(t, roomRows(t, s, "a1-b2"))
	assert.Zero(t, roomRows(t, s, rendezvous.InviteRoom("a1")))
	assert.Zero(t, roomRows(t, s, rendezvous.InviteRoom("b2")))
}

func TestController_SkipStartsOver(t *testing.T) {
	s, _ := storetest.New(t)
	a, _, labA, _ := pair(t, s)

	require.NoError(t, a.Skip())

	snap := a.Snapshot()
	assert.Equal(t, StateSearching, snap.State)
	assert.NotEqual(t, "a1", snap.Handle)
	assert.Empty(t, snap.Room)
	assert.True(t, labA.last().isClosed())
	assert.Zero(t, roomRows(t, s, "a1-b2"))
	assert.NotContains(t, waitingHandles(t, s), "a1")
}

func TestController_RetriesAfterPeerFailure(t *testing.T) {
	s, _ := storetest.New(t)
	a, b, labA, _ := pair(t, s)

	labA.last().ev.OnICEState(webrtc.ICEConnectionStateFailed)
	waitState(t, a, StateSearching)
	assert.NotEqual(t, "a1", a.Snapshot().Handle)
	assert.Equal(t, 1, labA.count())
	assert.True(t, labA.last().isClosed())

	// the partner is unaffected until its own connection reports the loss
	assert.Equal(t, StateConnected, b.State())
}

func TestController_RecoveryCancelsRetry(t *testing.T) {
	s, _ := storetest.New(t)
	opts := testOptions("a1")
	opts.RetryDebounce = 300 * time.Millisecond
	a, labA := newClient(t, s, opts)
	b, _ := newClient(t, s, testOptions("b2"))
	require.NoError(t, a.Start())
	waitState(t, a, StateSearching)
	require.NoError(t, b.Start())
	waitState(t, a, StateConnected)

	ev := labA.last().ev
	ev.OnICEState(webrtc.ICEConnectionStateDisconnected)
	waitState(t, a, StateDisconnected)
	assert.Equal(t, apperrors.ErrCodePeerDisconnected, a.Snapshot().Reason)
	ev.OnICEState(webrtc.ICEConnectionStateConnected)
	waitState(t, a, StateConnected)
	assert.Empty(t, a.Snapshot().Reason)

	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, StateConnected, a.State())
	assert.Equal(t, "a1", a.Snapshot().Handle)
	assert.Equal(t, 1, labA.count())
}

func TestController_DisconnectSuppressesRetry(t *testing.T) {
	s, _ := storetest.New(t)
	a, _, labA, _ := pair(t, s)

	ev := labA.last().ev
	ev.OnICEState(webrtc.ICEConnectionStateFailed)
	require.NoError(t, a.Disconnect())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateIdle, a.State())
	assert.Equal(t, 1, labA.count())
}

func TestController_PairsWithoutPush(t *testing.T) {
	s := storetest.NewWithNotifier(t, store.NopNotifier{})
	a, b, _, _ := pair(t, s)

	assert.Equal(t, a.Snapshot().Room, b.Snapshot().Room)
	assert.Empty(t, waitingHandles(t, s))
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestController_LongSearchStaysEligible(t *testing.T) {
	s, _ := storetest.New(t)
	ctx := context.Background()
	clock := &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	opts := testOptions("a1")
	opts.WaitingTTL = time.Minute
	opts.Clock = clock.Now
	c, _ := newClient(t, s, opts)
	observer := rendezvous.NewQueue(s, rendezvous.WithTTL(time.Minute), rendezvous.WithClock(clock.Now),
		rendezvous.WithQueueLogger(zap.NewNop()))

	enqueuedAt := func() time.Time {
		rows, err := s.ListWaiting(ctx, store.WaitingQuery{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		return rows[0].CreatedAt
	}

	require.NoError(t, c.Start())
	first := enqueuedAt()

	// past half the TTL the next tick re-upserts the entry
	clock.Advance(40 * time.Second)
	require.Eventually(t, func() bool { return enqueuedAt().After(first) }, waitFor, tick)

	// the first timestamp is now past the TTL, the refreshed one is not
	clock.Advance(40 * time.Second)
	partner, ok, err := observer.FindPartner(ctx, "zz")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a1", partner)
	assert.Equal(t, StateSearching, c.State())
}

func TestController_MediaFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code apperrors.ErrorCode
	}{
		{name: "denied", err: rtcmedia.ErrPermissionDenied, code: apperrors.ErrCodePermissionDenied},
		{name: "unavailable", err: rtcmedia.ErrDeviceUnavailable, code: apperrors.ErrCodeDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := storetest.New(t)
			lab := &peerLab{}
			c := New(s, rtcmedia.DeniedSource{Err: tt.err}, lab.factory, testOptions("a1"))
			defer c.Close()

			err := c.Start()
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.code))
			assert.Equal(t, StateCameraRequired, c.State())
			assert.Equal(t, tt.code, c.Snapshot().Reason)
			assert.Empty(t, waitingHandles(t, s))
			assert.Zero(t, lab.count())
		})
	}
}

type unreachableStore struct {
	store.Store
}

func (unreachableStore) Ping(context.Context) error {
	return errors.New("connection refused")
}

func TestController_ConfigRequired(t *testing.T) {
	s, _ := storetest.New(t)
	tests := []struct {
		name  string
		store store.Store
	}{
		{name: "no store", store: nil},
		{name: "unreachable", store: unreachableStore{Store: s}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lab := &peerLab{}
			c := New(tt.store, rtcmedia.SyntheticSource{}, lab.factory, testOptions("a1"))
			defer c.Close()

			err := c.Start()
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConfigurationMissing))
			assert.Equal(t, StateConfigRequired, c.State())
			assert.Equal(t, apperrors.ErrCodeConfigurationMissing, c.Snapshot().Reason)
		})
	}
}

func TestController_PeerSetupFailureRetries(t *testing.T) {
	s, _ := storetest.New(t)
	a, labA := newClient(t, s, testOptions("a1", "a3"))
	b, _ := newClient(t, s, testOptions("b2"))
	labA.fail = errors.New("no codecs")

	require.NoError(t, a.Start())
	waitState(t, a, StateSearching)
	require.NoError(t, b.Start())

	require.Eventually(t, func() bool { return a.Snapshot().Handle == "a3" }, waitFor, tick)
	assert.Equal(t, StateSearching, a.State())
}

func TestController_Chat(t *testing.T) {
	s, _ := storetest.New(t)
	c, _ := newClient(t, s, testOptions("a1"))

	err := c.SendMessage("hello")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeChannelNotOpen))

	a, _, labA, _ := pair(t, s)
	require.Eventually(t, func() bool { return a.Snapshot().ChatOpen }, waitFor, tick)

	for _, bad := range []string{"", "   "} {
		assert.True(t, apperrors.HasCode(a.SendMessage(bad), apperrors.ErrCodeInvalidInput))
	}
	require.NoError(t, a.SendMessage("hi there"))
	labA.last().ev.OnChatMessage("hello stranger")

	require.Eventually(t, func() bool { return len(a.Snapshot().Messages) == 2 }, waitFor, tick)
	msgs := a.Snapshot().Messages
	assert.Equal(t, Message{Text: "hi there", Direction: DirectionMe, SentAt: msgs[0].SentAt}, msgs[0])
	assert.Equal(t, DirectionStranger, msgs[1].Direction)
	assert.Equal(t, "hello stranger", msgs[1].Text)
	assert.Equal(t, []string{"hi there"}, labA.last().sent)

	// history belongs to the match
	require.NoError(t, a.Skip())
	assert.Empty(t, a.Snapshot().Messages)
}

func TestController_ToggleTracks(t *testing.T) {
	s, _ := storetest.New(t)
	opts := testOptions("a1")
	opts.Constraints = rtcmedia.Constraints{Audio: true, Video: true}
	c, _ := newClient(t, s, opts)

	_, err := c.ToggleCamera()
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDeviceUnavailable))

	require.NoError(t, c.Start())
	snap := c.Snapshot()
	assert.True(t, snap.Video)
	assert.True(t, snap.Audio)

	on, err := c.ToggleCamera()
	require.NoError(t, err)
	assert.False(t, on)
	assert.False(t, c.Snapshot().Video)

	on, err = c.ToggleMic()
	require.NoError(t, err)
	assert.False(t, on)
	on, err = c.ToggleMic()
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, c.Snapshot().Audio)
}

func TestController_Subscribe(t *testing.T) {
	s, _ := storetest.New(t)
	c, _ := newClient(t, s, testOptions("a1"))

	ch, cancel := c.Subscribe()
	first := <-ch
	assert.Equal(t, StateIdle, first.State)

	require.NoError(t, c.Start())
	require.Eventually(t, func() bool {
		for {
			select {
			case snap := <-ch:
				if snap.State == StateSearching {
					return true
				}
			default:
				return false
			}
		}
	}, waitFor, tick)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestController_Close(t *testing.T) {
	s, _ := storetest.New(t)
	c, _ := newClient(t, s, testOptions("a1"))
	require.NoError(t, c.Start())
	ch, _ := c.Subscribe()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Start(), ErrClosed)
	assert.ErrorIs(t, c.Disconnect(), ErrClosed)
	assert.Empty(t, waitingHandles(t, s))
	for range ch {
	}
}
