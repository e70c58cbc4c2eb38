package rtcmedia

import (
	"sync"
	"testing"

	"github.com/LingByte/LingMeet/pkg/constants"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnection(t *testing.T) {
	opt := WebRTCOption{
		StreamID:   constants.DefaultStreamID,
		VideoCodec: constants.CodecVP8,
		AudioCodec: constants.CodecOPUS,
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}

	conn := NewConnection(opt)
	assert.NotNil(t, conn)
	assert.Equal(t, opt, conn.opt)
	assert.Equal(t, opt.ICEServers, conn.config.ICEServers)
	assert.Nil(t, conn.pc)
}

func TestConnection_Create(t *testing.T) {
	conn := NewConnection(DefaultWebRTCOption())
	require.NoError(t, conn.Create())
	defer conn.Close()
	assert.NotNil(t, conn.pc)
}

func TestConnection_StatesBeforeCreate(t *testing.T) {
	conn := NewConnection(WebRTCOption{})

	// 未创建连接时返回零值
	assert.Equal(t, webrtc.PeerConnectionStateNew, conn.GetState())
	assert.Equal(t, webrtc.ICEConnectionStateNew, conn.GetICEState())
	assert.Equal(t, webrtc.SignalingStateStable, conn.GetSignalingState())
	assert.Nil(t, conn.LocalDescription())
	assert.Nil(t, conn.RemoteDescription())

	require.NoError(t, conn.Create())
	defer conn.Close()
	assert.Equal(t, webrtc.PeerConnectionStateNew, conn.GetState())
	assert.Equal(t, webrtc.SignalingStateStable, conn.GetSignalingState())
}

func TestConnection_MethodsWithoutPeer(t *testing.T) {
	conn := NewConnection(WebRTCOption{})

	_, err := conn.CreateOffer(nil)
	assert.ErrorIs(t, err, ErrNoPeerConnection)
	_, err = conn.CreateAnswer(nil)
	assert.ErrorIs(t, err, ErrNoPeerConnection)
	assert.ErrorIs(t, conn.SetLocalDescription(webrtc.SessionDescription{}), ErrNoPeerConnection)
	assert.ErrorIs(t, conn.SetRemoteDescription(webrtc.SessionDescription{}), ErrNoPeerConnection)
	assert.ErrorIs(t, conn.AddICECandidate(webrtc.ICECandidateInit{Candidate: "x"}), ErrNoPeerConnection)
	assert.ErrorIs(t, conn.AddRecvOnly(webrtc.RTPCodecTypeVideo), ErrNoPeerConnection)
	_, err = conn.CreateDataChannel("chat", nil)
	assert.ErrorIs(t, err, ErrNoPeerConnection)

	// 回调注册在无连接时不应 panic
	conn.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {})
	conn.OnICECandidate(func(webrtc.ICECandidateInit) {})
	conn.OnICEConnectionStateChange(func(webrtc.ICEConnectionState) {})
	conn.OnDataChannel(func(*webrtc.DataChannel) {})
}

func TestConnection_OfferAnswerRoundTrip(t *testing.T) {
	offerer := NewConnection(WebRTCOption{})
	require.NoError(t, offerer.Create())
	defer offerer.Close()
	answerer := NewConnection(WebRTCOption{})
	require.NoError(t, answerer.Create())
	defer answerer.Close()

	_, err := offerer.CreateDataChannel(constants.ChatChannelLabel, nil)
	require.NoError(t, err)
	require.NoError(t, offerer.AddRecvOnly(webrtc.RTPCodecTypeAudio))

	offer, err := offerer.CreateOffer(nil)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	require.NoError(t, offerer.SetLocalDescription(offer))
	assert.Equal(t, webrtc.SignalingStateHaveLocalOffer, offerer.GetSignalingState())

	// 没有远程描述时无法创建 answer
	_, err = answerer.CreateAnswer(nil)
	assert.Error(t, err)

	require.NoError(t, answerer.SetRemoteDescription(offer))
	require.NotNil(t, answerer.RemoteDescription())
	answer, err := answerer.CreateAnswer(nil)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	require.NoError(t, answerer.SetLocalDescription(answer))

	require.NoError(t, offerer.SetRemoteDescription(answer))
	assert.Equal(t, webrtc.SignalingStateStable, offerer.GetSignalingState())
}

func TestConnection_AddTrack(t *testing.T) {
	conn := NewConnection(DefaultWebRTCOption())
	require.NoError(t, conn.Create())
	defer conn.Close()

	stream, err := NewLocalStream(Constraints{Audio: true, Video: true}, DefaultWebRTCOption())
	require.NoError(t, err)
	for _, track := range stream.Tracks() {
		sender, err := conn.AddTrack(track)
		require.NoError(t, err)
		assert.NotNil(t, sender)
	}
}

func TestConnection_Close(t *testing.T) {
	conn := NewConnection(WebRTCOption{})

	// 未创建时关闭
	assert.NoError(t, conn.Close())

	require.NoError(t, conn.Create())
	assert.NoError(t, conn.Close())
	assert.Nil(t, conn.pc)

	// 再次关闭也不会出错
	assert.NoError(t, conn.Close())
	_, err := conn.CreateOffer(nil)
	assert.ErrorIs(t, err, ErrNoPeerConnection)
}

func TestConnection_ConcurrentAccess(t *testing.T) {
	conn := NewConnection(WebRTCOption{})
	require.NoError(t, conn.Create())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = conn.GetState()
			_ = conn.GetICEState()
			_ = conn.RemoteDescription()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = conn.Close()
	}()
	wg.Wait()
}

func BenchmarkConnection_Create(b *testing.B) {
	opt := DefaultWebRTCOption()
	for i := 0; i < b.N; i++ {
		conn := NewConnection(opt)
		if err := conn.Create(); err != nil {
			b.Fatal(err)
		}
		_ = conn.Close()
	}
}
