package rtcmedia

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LingByte/LingMeet/pkg/constants"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

var (
	ErrPermissionDenied  = errors.New("media permission denied")
	ErrDeviceUnavailable = errors.New("media device unavailable")
)

// Constraints says which kinds of local media to acquire.
type Constraints struct {
	Video bool
	Audio bool
}

// MediaSource is the local camera/microphone capability.
type MediaSource interface {
	Acquire(ctx context.Context, c Constraints) (*LocalStream, error)
}

// LocalStream is the set of local tracks attached to every peer connection.
type LocalStream struct {
	ID    string
	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	audioEnabled atomic.Bool
	videoEnabled atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
}

// NewLocalStream creates static-sample tracks for the requested kinds.
func NewLocalStream(c Constraints, opt WebRTCOption) (*LocalStream, error) {
	prefix := opt.StreamID
	if prefix == "" {
		prefix = constants.DefaultStreamID
	}
	s := &LocalStream{
		ID:   prefix + "-" + uuid.NewString()[:8],
		stop: make(chan struct{}),
	}
	if c.Audio {
		codec := opt.AudioCodec
		if codec == "" {
			codec = constants.CodecOPUS
		}
		track, err := webrtc.NewTrackLocalStaticSample(CodecParameters(codec).RTPCodecCapability, "audio", s.ID)
		if err != nil {
			return nil, err
		}
		s.audio = track
		s.audioEnabled.Store(true)
	}
	if c.Video {
		codec := opt.VideoCodec
		if !IsVideoCodec(codec) {
			codec = constants.CodecH264
		}
		track, err := webrtc.NewTrackLocalStaticSample(CodecParameters(codec).RTPCodecCapability, "video", s.ID)
		if err != nil {
			return nil, err
		}
		s.video = track
		s.videoEnabled.Store(true)
	}
	return s, nil
}

// Tracks lists the tracks to add to a peer connection, audio first.
func (s *LocalStream) Tracks() []webrtc.TrackLocal {
	var out []webrtc.TrackLocal
	if s.audio != nil {
		out = append(out, s.audio)
	}
	if s.video != nil {
		out = append(out, s.video)
	}
	return out
}

func (s *LocalStream) HasVideo() bool { return s.video != nil }
func (s *LocalStream) HasAudio() bool { return s.audio != nil }

func (s *LocalStream) VideoEnabled() bool { return s.video != nil && s.videoEnabled.Load() }
func (s *LocalStream) AudioEnabled() bool { return s.audio != nil && s.audioEnabled.Load() }

// ToggleVideo flips the camera flag and returns the new value.
func (s *LocalStream) ToggleVideo() bool {
	if s.video == nil {
		return false
	}
	return toggle(&s.videoEnabled)
}

// ToggleAudio flips the microphone flag and returns the new value.
func (s *LocalStream) ToggleAudio() bool {
	if s.audio == nil {
		return false
	}
	return toggle(&s.audioEnabled)
}

func toggle(b *atomic.Bool) bool {
	for {
		old := b.Load()
		if b.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// WriteAudio sends one audio sample unless the microphone is off.
func (s *LocalStream) WriteAudio(sample media.Sample) error {
	if !s.AudioEnabled() {
		return nil
	}
	return s.audio.WriteSample(sample)
}

// WriteVideo sends one video sample unless the camera is off.
func (s *LocalStream) WriteVideo(sample media.Sample) error {
	if !s.VideoEnabled() {
		return nil
	}
	return s.video.WriteSample(sample)
}

// Done is closed by Stop.
func (s *LocalStream) Done() <-chan struct{} { return s.stop }

func (s *LocalStream) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// SyntheticSource stands in for a camera and microphone on headless hosts.
// It emits Opus silence so the remote side sees a live audio track.
type SyntheticSource struct {
	Option        WebRTCOption
	FrameInterval time.Duration
}

func (src SyntheticSource) Acquire(ctx context.Context, c Constraints) (*LocalStream, error) {
	if !c.Video && !c.Audio {
		return nil, ErrDeviceUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Audio && src.Option.AudioCodec != "" && src.Option.AudioCodec != constants.CodecOPUS {
		return nil, ErrDeviceUnavailable
	}
	s, err := NewLocalStream(c, src.Option)
	if err != nil {
		return nil, err
	}
	if s.HasAudio() {
		interval := src.FrameInterval
		if interval <= 0 {
			interval = 20 * time.Millisecond
		}
		go pumpSilence(s, interval)
	}
	return s, nil
}

func pumpSilence(s *LocalStream, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.Done():
			return
		case <-ticker.C:
			_ = s.WriteAudio(media.Sample{Data: opusSilence, Duration: interval})
		}
	}
}

// DeniedSource always fails, as when the user refuses camera access.
type DeniedSource struct {
	Err error
}

func (d DeniedSource) Acquire(context.Context, Constraints) (*LocalStream, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	return nil, ErrPermissionDenied
}
