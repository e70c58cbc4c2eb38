package rtcmedia

import (
	"github.com/LingByte/LingMeet/pkg/constants"
	"github.com/pion/webrtc/v3"
)

// CodecParameters returns the RTP parameters for a codec name; unknown names map to PCMU.
func CodecParameters(codecName string) webrtc.RTPCodecParameters {
	switch codecName {
	case constants.CodecOPUS:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			PayloadType:        111,
		}
	case constants.CodecH264:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeH264,
				ClockRate:   90000,
				SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
			},
			PayloadType: 102,
		}
	case constants.CodecVP8:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			PayloadType:        96,
		}
	case constants.CodecVP9:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000, SDPFmtpLine: "profile-id=0"},
			PayloadType:        98,
		}
	default:
		return webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
			PayloadType:        0,
		}
	}
}

// IsVideoCodec reports whether codecName names a video codec.
func IsVideoCodec(codecName string) bool {
	switch codecName {
	case constants.CodecH264, constants.CodecVP8, constants.CodecVP9:
		return true
	}
	return false
}

// GetMediaEngine registers audio and video codecs. Registration order is
// preference order, so the preferred video codec goes first.
func GetMediaEngine(preferredVideo string) (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}

	for _, name := range []string{constants.CodecOPUS, constants.CodecPCMU} {
		if err := m.RegisterCodec(CodecParameters(name), webrtc.RTPCodecTypeAudio); err != nil {
			return nil, err
		}
	}

	video := []string{constants.CodecH264, constants.CodecVP8, constants.CodecVP9}
	if IsVideoCodec(preferredVideo) {
		ordered := []string{preferredVideo}
		for _, name := range video {
			if name != preferredVideo {
				ordered = append(ordered, name)
			}
		}
		video = ordered
	}
	for _, name := range video {
		if err := m.RegisterCodec(CodecParameters(name), webrtc.RTPCodecTypeVideo); err != nil {
			return nil, err
		}
	}
	return m, nil
}
