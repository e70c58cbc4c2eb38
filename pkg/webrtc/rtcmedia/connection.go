package rtcmedia

import (
	"errors"
	"sync"

	"github.com/LingByte/LingMeet/pkg/logger"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

var ErrNoPeerConnection = errors.New("peer connection is nil")

// Connection wraps one pion PeerConnection. Every method is safe before
// Create and after Close; they then return ErrNoPeerConnection or a zero value.
type Connection struct {
	opt    WebRTCOption
	pc     *webrtc.PeerConnection
	config webrtc.Configuration
	mu     sync.RWMutex
	log    *zap.Logger
}

// NewConnection prepares a connection; nothing is allocated until Create.
func NewConnection(opt WebRTCOption) *Connection {
	return &Connection{
		opt: opt,
		config: webrtc.Configuration{
			ICEServers: opt.ICEServers,
		},
		log: logger.Named("rtc"),
	}
}

// NewAPI builds the pion API with the codec set and ICE settings from opt.
func NewAPI(opt WebRTCOption) (*webrtc.API, error) {
	m, err := GetMediaEngine(opt.VideoCodec)
	if err != nil {
		return nil, err
	}
	se := webrtc.SettingEngine{}
	if opt.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)), nil
}

// Create allocates the underlying PeerConnection.
func (c *Connection) Create() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	api, err := NewAPI(c.opt)
	if err != nil {
		return err
	}
	pc, err := api.NewPeerConnection(c.config)
	if err != nil {
		c.log.Error("failed to create peer connection", zap.Error(err))
		return err
	}
	c.pc = pc
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Debug("peer connection state changed", zap.String("state", state.String()))
	})
	return nil
}

func (c *Connection) peer() *webrtc.PeerConnection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pc
}

// GetState returns the aggregate peer connection state
func (c *Connection) GetState() webrtc.PeerConnectionState {
	if pc := c.peer(); pc != nil {
		return pc.ConnectionState()
	}
	return webrtc.PeerConnectionStateNew
}

// GetICEState returns the ICE transport state
func (c *Connection) GetICEState() webrtc.ICEConnectionState {
	if pc := c.peer(); pc != nil {
		return pc.ICEConnectionState()
	}
	return webrtc.ICEConnectionStateNew
}

func (c *Connection) GetSignalingState() webrtc.SignalingState {
	if pc := c.peer(); pc != nil {
		return pc.SignalingState()
	}
	return webrtc.SignalingStateStable
}

func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	if pc := c.peer(); pc != nil {
		return pc.LocalDescription()
	}
	return nil
}

// RemoteDescription is nil until a remote offer or answer has been applied.
func (c *Connection) RemoteDescription() *webrtc.SessionDescription {
	if pc := c.peer(); pc != nil {
		return pc.RemoteDescription()
	}
	return nil
}

func (c *Connection) SetLocalDescription(desc webrtc.SessionDescription) error {
	pc := c.peer()
	if pc == nil {
		return ErrNoPeerConnection
	}
	return pc.SetLocalDescription(desc)
}

func (c *Connection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	pc := c.peer()
	if pc == nil {
		return ErrNoPeerConnection
	}
	return pc.SetRemoteDescription(desc)
}

func (c *Connection) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	pc := c.peer()
	if pc == nil {
		return webrtc.SessionDescription{}, ErrNoPeerConnection
	}
	return pc.CreateOffer(options)
}

func (c *Connection) CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	pc := c.peer()
	if pc == nil {
		return webrtc.SessionDescription{}, ErrNoPeerConnection
	}
	return pc.CreateAnswer(options)
}

func (c *Connection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	pc := c.peer()
	if pc == nil {
		return ErrNoPeerConnection
	}
	return pc.AddICECandidate(candidate)
}

func (c *Connection) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	pc := c.peer()
	if pc == nil {
		return nil, ErrNoPeerConnection
	}
	return pc.AddTrack(track)
}

// AddRecvOnly reserves a receive-only transceiver so the partner's media of
// that kind is negotiated even when this side has no such local track.
func (c *Connection) AddRecvOnly(kind webrtc.RTPCodecType) error {
	pc := c.peer()
	if pc == nil {
		return ErrNoPeerConnection
	}
	_, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
	return err
}

func (c *Connection) CreateDataChannel(label string, init *webrtc.DataChannelInit) (*webrtc.DataChannel, error) {
	pc := c.peer()
	if pc == nil {
		return nil, ErrNoPeerConnection
	}
	return pc.CreateDataChannel(label, init)
}

func (c *Connection) OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	if pc := c.peer(); pc != nil {
		pc.OnTrack(f)
	}
}

// OnICECandidate fires once per gathered candidate; the end-of-gathering nil is filtered out.
func (c *Connection) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	if pc := c.peer(); pc != nil {
		pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
			if candidate == nil {
				return
			}
			f(candidate.ToJSON())
		})
	}
}

func (c *Connection) OnICEConnectionStateChange(f func(webrtc.ICEConnectionState)) {
	if pc := c.peer(); pc != nil {
		pc.OnICEConnectionStateChange(f)
	}
}

func (c *Connection) OnDataChannel(f func(*webrtc.DataChannel)) {
	if pc := c.peer(); pc != nil {
		pc.OnDataChannel(f)
	}
}

// Close releases the PeerConnection. Safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	pc := c.pc
	c.pc = nil
	c.mu.Unlock()

	if pc == nil {
		return nil
	}
	return pc.Close()
}
