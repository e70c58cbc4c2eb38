// Package protocol defines the JSON frames exchanged with the UI over /ws.
package protocol

// MessageType names a frame. Commands flow UI -> server; the rest flow back.
type MessageType string

// Server frames
const (
	MessageTypeSnapshot MessageType = "snapshot"
	MessageTypeAck      MessageType = "ack"
	MessageTypeError    MessageType = "error"
)

// Commands
const (
	MessageTypeStart        MessageType = "start"
	MessageTypeSkip         MessageType = "skip"
	MessageTypeDisconnect   MessageType = "disconnect"
	MessageTypeToggleCamera MessageType = "toggle_camera"
	MessageTypeToggleMic    MessageType = "toggle_mic"
	MessageTypeSendMessage  MessageType = "send_message"
)

// IsCommand reports whether t is accepted from the UI.
func (t MessageType) IsCommand() bool {
	switch t {
	case MessageTypeStart, MessageTypeSkip, MessageTypeDisconnect,
		MessageTypeToggleCamera, MessageTypeToggleMic, MessageTypeSendMessage:
		return true
	}
	return false
}

// ControlMessage is one websocket frame. ID is chosen by the UI and echoed
// on the ack or error for that command.
type ControlMessage struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id,omitempty"`
	Text    string      `json:"text,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AckPayload carries the new flag for toggles.
type AckPayload struct {
	Enabled *bool `json:"enabled,omitempty"`
}

func NewSnapshotMessage(snapshot interface{}) *ControlMessage {
	return &ControlMessage{Type: MessageTypeSnapshot, Payload: snapshot}
}

func NewAckMessage(id string, enabled *bool) *ControlMessage {
	msg := &ControlMessage{Type: MessageTypeAck, ID: id}
	if enabled != nil {
		msg.Payload = AckPayload{Enabled: enabled}
	}
	return msg
}

func NewErrorMessage(id, code, message string) *ControlMessage {
	return &ControlMessage{
		Type:    MessageTypeError,
		ID:      id,
		Payload: ErrorPayload{Code: code, Message: message},
	}
}
