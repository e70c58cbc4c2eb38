// Package session owns the peer connection for one match: local tracks,
// the partner's stream, the chat channel and connectivity events.
package session

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/LingByte/LingMeet/pkg/constants"
	"github.com/LingByte/LingMeet/pkg/logger"
	"github.com/LingByte/LingMeet/pkg/webrtc/rtcmedia"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("peer session closed")

// Events are produced from pion's goroutines. Handlers must not block; the
// controller turns each one into a message on its event queue.
type Events struct {
	OnCandidate   func(webrtc.ICECandidateInit)
	OnTrack       func(rtcmedia.TrackInfo)
	OnICEState    func(webrtc.ICEConnectionState)
	OnChatOpen    func()
	OnChatMessage func(string)
	OnChatClose   func()
}

// Session is one peer connection between two matched clients.
type Session struct {
	conn    *rtcmedia.Connection
	local   *rtcmedia.LocalStream
	remote  *rtcmedia.RemoteStream
	offerer bool
	events  Events
	log     *zap.Logger

	mu     sync.RWMutex
	chat   *rtcmedia.ChatChannel
	closed atomic.Bool
}

// New creates the connection and attaches local tracks before any
// negotiation. The offerer also opens the chat channel; the answerer accepts
// it when offered. local may be nil or carry no tracks.
func New(opt rtcmedia.WebRTCOption, local *rtcmedia.LocalStream, offerer bool, ev Events, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = logger.Named("peer")
	}
	s := &Session{
		conn:    rtcmedia.NewConnection(opt),
		local:   local,
		remote:  rtcmedia.NewRemoteStream(),
		offerer: offerer,
		events:  ev,
		log:     log,
	}
	if err := s.conn.Create(); err != nil {
		return nil, err
	}

	s.conn.OnICECandidate(s.onCandidate)
	s.conn.OnTrack(s.onTrack)
	s.conn.OnICEConnectionStateChange(s.onICEState)
	s.conn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != constants.ChatChannelLabel {
			s.log.Warn("ignoring unknown data channel", zap.String("label", dc.Label()))
			return
		}
		s.attachChat(dc)
	})

	if err := s.addLocalTracks(); err != nil {
		_ = s.conn.Close()
		return nil, err
	}

	if offerer {
		ordered := true
		dc, err := s.conn.CreateDataChannel(constants.ChatChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			_ = s.conn.Close()
			return nil, err
		}
		s.attachChat(dc)
	}
	return s, nil
}

func (s *Session) addLocalTracks() error {
	hasAudio, hasVideo := false, false
	if s.local != nil {
		for _, track := range s.local.Tracks() {
			sender, err := s.conn.AddTrack(track)
			if err != nil {
				return err
			}
			switch track.Kind() {
			case webrtc.RTPCodecTypeAudio:
				hasAudio = true
			case webrtc.RTPCodecTypeVideo:
				hasVideo = true
			}
			go drainRTCP(sender)
		}
	}
	if !s.offerer {
		return nil
	}
	// the offer decides which m-lines exist, so reserve the kinds we do not send
	if !hasAudio {
		if err := s.conn.AddRecvOnly(webrtc.RTPCodecTypeAudio); err != nil {
			return err
		}
	}
	if !hasVideo {
		if err := s.conn.AddRecvOnly(webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	return nil
}

// drainRTCP keeps the sender's interceptors running until the track is removed.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (s *Session) attachChat(dc *webrtc.DataChannel) {
	chat := rtcmedia.NewChatChannel(dc,
		func() {
			s.log.Debug("chat channel open")
			if !s.closed.Load() && s.events.OnChatOpen != nil {
				s.events.OnChatOpen()
			}
		},
		func(text string) {
			if !s.closed.Load() && s.events.OnChatMessage != nil {
				s.events.OnChatMessage(text)
			}
		},
		func() {
			s.log.Debug("chat channel closed")
			if !s.closed.Load() && s.events.OnChatClose != nil {
				s.events.OnChatClose()
			}
		},
	)
	s.mu.Lock()
	s.chat = chat
	s.mu.Unlock()
}

func (s *Session) onCandidate(c webrtc.ICECandidateInit) {
	if s.closed.Load() || s.events.OnCandidate == nil {
		return
	}
	s.events.OnCandidate(c)
}

func (s *Session) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	if s.closed.Load() {
		return
	}
	info, added := s.remote.Add(track)
	s.log.Info("remote track received", zap.String("kind", info.Kind), zap.String("codec", info.Codec))
	if added && s.events.OnTrack != nil {
		s.events.OnTrack(info)
	}
	s.remote.Drain(track)
}

func (s *Session) onICEState(state webrtc.ICEConnectionState) {
	s.log.Debug("ice state", zap.String("state", state.String()))
	if s.closed.Load() || s.events.OnICEState == nil {
		return
	}
	s.events.OnICEState(state)
}

func (s *Session) Offerer() bool { return s.offerer }

// CreateOffer creates the offer and applies it locally.
func (s *Session) CreateOffer() (webrtc.SessionDescription, error) {
	if s.closed.Load() {
		return webrtc.SessionDescription{}, ErrClosed
	}
	offer, err := s.conn.CreateOffer(nil)
	if err != nil {
		return offer, err
	}
	if err := s.conn.SetLocalDescription(offer); err != nil {
		return offer, err
	}
	return offer, nil
}

// CreateAnswer creates the answer to the applied remote offer and applies it locally.
func (s *Session) CreateAnswer() (webrtc.SessionDescription, error) {
	if s.closed.Load() {
		return webrtc.SessionDescription{}, ErrClosed
	}
	answer, err := s.conn.CreateAnswer(nil)
	if err != nil {
		return answer, err
	}
	if err := s.conn.SetLocalDescription(answer); err != nil {
		return answer, err
	}
	return answer, nil
}

func (s *Session) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.conn.SetRemoteDescription(desc)
}

func (s *Session) HasRemoteDescription() bool {
	return s.conn.RemoteDescription() != nil
}

func (s *Session) AddICECandidate(c webrtc.ICECandidateInit) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.conn.AddICECandidate(c)
}

// SendText writes one chat message. It fails with rtcmedia.ErrChannelNotOpen
// until the channel has opened.
func (s *Session) SendText(text string) error {
	s.mu.RLock()
	chat := s.chat
	s.mu.RUnlock()
	if chat == nil {
		return rtcmedia.ErrChannelNotOpen
	}
	return chat.Send(text)
}

func (s *Session) ChatOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chat != nil && s.chat.IsOpen()
}

func (s *Session) Remote() *rtcmedia.RemoteStream { return s.remote }

func (s *Session) RemoteTracks() []rtcmedia.TrackInfo { return s.remote.Tracks() }

func (s *Session) ICEState() webrtc.ICEConnectionState { return s.conn.GetICEState() }

func (s *Session) State() webrtc.PeerConnectionState { return s.conn.GetState() }

// Close silences every event first, then tears the connection down.
// The local stream is left running for the next match.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	chat := s.chat
	s.chat = nil
	s.mu.Unlock()
	if chat != nil {
		_ = chat.Close()
	}
	return s.conn.Close()
}
