package controller

import (
	"github.com/LingByte/LingMeet/pkg/signaling"
	"github.com/LingByte/LingMeet/pkg/webrtc/rtcmedia"
	"github.com/LingByte/LingMeet/pkg/webrtc/rtcmedia/session"
	"go.uber.org/zap"
)

// Peer is the connection object for one match as the controller sees it.
type Peer interface {
	signaling.Peer
	SendText(text string) error
	RemoteTracks() []rtcmedia.TrackInfo
	Close() error
}

// PeerFactory creates the connection for a new room. local may be nil.
type PeerFactory func(local *rtcmedia.LocalStream, offerer bool, ev session.Events) (Peer, error)

// PionPeers builds real peer sessions with opt.
func PionPeers(opt rtcmedia.WebRTCOption, log *zap.Logger) PeerFactory {
	return func(local *rtcmedia.LocalStream, offerer bool, ev session.Events) (Peer, error) {
		s, err := session.New(opt, local, offerer, ev, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
