package rtcmedia

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// TrackInfo describes one remote track.
type TrackInfo struct {
	ID       string `json:"id"`
	StreamID string `json:"stream_id"`
	Kind     string `json:"kind"`
	Codec    string `json:"codec"`
}

func trackInfo(t *webrtc.TrackRemote) TrackInfo {
	return TrackInfo{
		ID:       t.ID(),
		StreamID: t.StreamID(),
		Kind:     t.Kind().String(),
		Codec:    t.Codec().MimeType,
	}
}

// RemoteStream is the partner's media as assembled from arriving tracks.
type RemoteStream struct {
	mu      sync.RWMutex
	tracks  map[string]*webrtc.TrackRemote
	order   []string
	packets map[string]uint64
}

func NewRemoteStream() *RemoteStream {
	return &RemoteStream{
		tracks:  make(map[string]*webrtc.TrackRemote),
		packets: make(map[string]uint64),
	}
}

// Add records t and reports whether it was new.
func (r *RemoteStream) Add(t *webrtc.TrackRemote) (TrackInfo, bool) {
	info := trackInfo(t)
	key := info.Kind + ":" + info.ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tracks[key]; ok {
		return info, false
	}
	r.tracks[key] = t
	r.order = append(r.order, key)
	return info, true
}

// Drain reads RTP from t until it ends, counting packets. Rendering is
// out of process, so payloads are discarded.
func (r *RemoteStream) Drain(t *webrtc.TrackRemote) {
	key := t.Kind().String() + ":" + t.ID()
	for {
		if _, _, err := t.ReadRTP(); err != nil {
			return
		}
		r.mu.Lock()
		r.packets[key]++
		r.mu.Unlock()
	}
}

// Tracks returns info for every track in arrival order.
func (r *RemoteStream) Tracks() []TrackInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TrackInfo, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, trackInfo(r.tracks[key]))
	}
	return out
}

func (r *RemoteStream) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Packets is the number of RTP packets received across all tracks.
func (r *RemoteStream) Packets() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n uint64
	for _, c := range r.packets {
		n += c
	}
	return n
}
