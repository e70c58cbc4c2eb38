package controller

import (
	"time"

	apperrors "github.com/LingByte/LingMeet/pkg/errors"
	"github.com/LingByte/LingMeet/pkg/rendezvous"
	"github.com/LingByte/LingMeet/pkg/webrtc/rtcmedia"
)

// State is what the UI shows for the session.
type State string

const (
	StateIdle           State = "idle"
	StateSearching      State = "searching"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateDisconnected   State = "disconnected"
	StateCameraRequired State = "camera_required"
	StateConfigRequired State = "config_required"
)

var allStates = []string{
	string(StateIdle),
	string(StateSearching),
	string(StateConnecting),
	string(StateConnected),
	string(StateDisconnected),
	string(StateCameraRequired),
	string(StateConfigRequired),
}

// Direction tells who wrote a chat message.
type Direction string

const (
	DirectionMe       Direction = "me"
	DirectionStranger Direction = "stranger"
)

type Message struct {
	Text      string    `json:"text"`
	Direction Direction `json:"direction"`
	SentAt    time.Time `json:"sent_at"`
}

// Snapshot is an immutable view of the session for observers. Reason is set
// while the state was entered because of a failure.
type Snapshot struct {
	State        State                `json:"state"`
	Reason       apperrors.ErrorCode  `json:"reason,omitempty"`
	Handle       string               `json:"handle,omitempty"`
	Partner      string               `json:"partner,omitempty"`
	Room         string               `json:"room,omitempty"`
	Role         rendezvous.Role      `json:"role,omitempty"`
	LocalStream  string               `json:"local_stream,omitempty"`
	Video        bool                 `json:"video"`
	Audio        bool                 `json:"audio"`
	ChatOpen     bool                 `json:"chat_open"`
	RemoteTracks []rtcmedia.TrackInfo `json:"remote_tracks"`
	Messages     []Message            `json:"messages"`
}

// HasRemoteStream reports whether any partner track has arrived.
func (s Snapshot) HasRemoteStream() bool {
	return len(s.RemoteTracks) > 0
}
