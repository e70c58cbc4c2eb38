package rtcmedia

import (
	"fmt"
	"strings"

	"github.com/LingByte/LingMeet/pkg/constants"
	"github.com/pion/webrtc/v3"
)

// WebRTCOption configures every peer connection the client creates
type WebRTCOption struct {
	ICEServers      []webrtc.ICEServer `json:"iceServers"`
	StreamID        string             `json:"streamId"`
	VideoCodec      string             `json:"videoCodec"`
	AudioCodec      string             `json:"audioCodec"`
	IncludeLoopback bool               `json:"includeLoopback"`
}

// DefaultICEServers is Google's public STUN plus the openrelay TURN relays.
func DefaultICEServers(username, credential string) []webrtc.ICEServer {
	if username == "" {
		username = constants.DefaultTURNUser
	}
	if credential == "" {
		credential = constants.DefaultTURNCred
	}
	return []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
		{URLs: []string{"stun:stun2.l.google.com:19302"}},
		{URLs: []string{"stun:stun3.l.google.com:19302"}},
		{
			URLs: []string{
				"turn:openrelay.metered.ca:80",
				"turn:openrelay.metered.ca:443",
				"turn:openrelay.metered.ca:80?transport=tcp",
				"turn:openrelay.metered.ca:443?transport=tcp",
				"turns:openrelay.metered.ca:443?transport=tcp",
			},
			Username:   username,
			Credential: credential,
		},
	}
}

// ICEServersFromURLs builds one ICEServer per URL; turn/turns entries get the credentials.
func ICEServersFromURLs(urls []string, username, credential string) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		s := webrtc.ICEServer{URLs: []string{u}}
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			s.Username = username
			s.Credential = credential
		}
		servers = append(servers, s)
	}
	return servers
}

func DefaultWebRTCOption() WebRTCOption {
	return WebRTCOption{
		ICEServers: DefaultICEServers("", ""),
		StreamID:   constants.DefaultStreamID,
		VideoCodec: constants.CodecH264,
		AudioCodec: constants.CodecOPUS,
	}
}

func (o WebRTCOption) String() string {
	return fmt.Sprintf("WebRTCOption{ICEServers: %d, StreamID: %s, Video: %s, Audio: %s, Loopback: %v}",
		len(o.ICEServers), o.StreamID, o.VideoCodec, o.AudioCodec, o.IncludeLoopback)
}
