package rtcmedia

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LingByte/LingMeet/pkg/constants"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalStream_Kinds(t *testing.T) {
	tests := []struct {
		name      string
		c         Constraints
		wantKinds []webrtc.RTPCodecType
	}{
		{"audio and video", Constraints{Audio: true, Video: true}, []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo}},
		{"audio only", Constraints{Audio: true}, []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}},
		{"video only", Constraints{Video: true}, []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo}},
		{"nothing", Constraints{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewLocalStream(tt.c, DefaultWebRTCOption())
			require.NoError(t, err)
			var kinds []webrtc.RTPCodecType
			for _, track := range s.Tracks() {
				kinds = append(kinds, track.Kind())
				assert.Equal(t, s.ID, track.StreamID())
			}
			assert.Equal(t, tt.wantKinds, kinds)
			assert.Equal(t, tt.c.Audio, s.AudioEnabled())
			assert.Equal(t, tt.c.Video, s.VideoEnabled())
		})
	}
}

func TestLocalStream_Toggle(t *testing.T) {
	s, err := NewLocalStream(Constraints{Audio: true, Video: true}, DefaultWebRTCOption())
	require.NoError(t, err)

	assert.False(t, s.ToggleVideo())
	assert.False(t, s.VideoEnabled())
	assert.True(t, s.AudioEnabled())
	assert.True(t, s.ToggleVideo())

	assert.False(t, s.ToggleAudio())
	assert.False(t, s.AudioEnabled())

	// 关闭麦克风后写入被静默丢弃
	assert.NoError(t, s.WriteAudio(media.Sample{Data: opusSilence, Duration: 20 * time.Millisecond}))

	noVideo, err := NewLocalStream(Constraints{Audio: true}, DefaultWebRTCOption())
	require.NoError(t, err)
	assert.False(t, noVideo.ToggleVideo())
	assert.False(t, noVideo.VideoEnabled())
}

func TestLocalStream_StopIsIdempotent(t *testing.T) {
	s, err := NewLocalStream(Constraints{Audio: true}, WebRTCOption{})
	require.NoError(t, err)
	s.Stop()
	s.Stop()
	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestSyntheticSource_Acquire(t *testing.T) {
	ctx := context.Background()
	src := SyntheticSource{Option: DefaultWebRTCOption(), FrameInterval: 5 * time.Millisecond}

	s, err := src.Acquire(ctx, Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	defer s.Stop()
	assert.True(t, s.HasAudio())
	assert.True(t, s.HasVideo())

	_, err = src.Acquire(ctx, Constraints{})
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	pcmu := SyntheticSource{Option: WebRTCOption{AudioCodec: constants.CodecPCMU}}
	_, err = pcmu.Acquire(ctx, Constraints{Audio: true})
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = src.Acquire(cancelled, Constraints{Audio: true})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeniedSource(t *testing.T) {
	_, err := DeniedSource{}.Acquire(context.Background(), Constraints{Audio: true})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	custom := errors.New("no camera attached")
	_, err = DeniedSource{Err: custom}.Acquire(context.Background(), Constraints{Video: true})
	assert.ErrorIs(t, err, custom)
}

func TestDefaultICEServers(t *testing.T) {
	servers := DefaultICEServers("", "")
	require.Len(t, servers, 5)
	assert.Equal(t, "stun:stun.l.google.com:19302", servers[0].URLs[0])
	turn := servers[4]
	assert.Equal(t, constants.DefaultTURNUser, turn.Username)
	assert.Contains(t, turn.URLs, "turns:openrelay.metered.ca:443?transport=tcp")

	custom := ICEServersFromURLs([]string{"stun:stun.example.org:3478", "turn:relay.example.org:3478"}, "u", "p")
	require.Len(t, custom, 2)
	assert.Empty(t, custom[0].Username)
	assert.Equal(t, "u", custom[1].Username)
	assert.Equal(t, "p", custom[1].Credential)
}
