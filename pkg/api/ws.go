package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/LingByte/LingMeet/pkg/controller"
	apperrors "github.com/LingByte/LingMeet/pkg/errors"
	"github.com/LingByte/LingMeet/pkg/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	maxFrame   = 16 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Websocket streams snapshots to the UI and accepts commands on the same socket.
func (h *Handlers) Websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	snaps, cancel := h.session.Subscribe()
	out := make(chan *protocol.ControlMessage, 16)
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		h.writePump(conn, snaps, out, done)
	}()
	h.readPump(conn, out, done, stopped)
	cancel()
	<-stopped
}

// writePump is the only writer on conn.
func (h *Handlers) writePump(conn *websocket.Conn, snaps <-chan controller.Snapshot, out <-chan *protocol.ControlMessage, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	write := func(msg *protocol.ControlMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			h.log.Debug("websocket write failed", zap.Error(err))
			return false
		}
		return true
	}
	for {
		select {
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case snap, ok := <-snaps:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"), time.Now().Add(writeWait))
				return
			}
			if !write(protocol.NewSnapshotMessage(snap)) {
				return
			}
		case msg := <-out:
			if !write(msg) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handlers) readPump(conn *websocket.Conn, out chan<- *protocol.ControlMessage, done chan struct{}, stopped <-chan struct{}) {
	defer close(done)
	conn.SetReadLimit(maxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		var msg protocol.ControlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(out, stopped, protocol.NewErrorMessage("", string(apperrors.ErrCodeInvalidInput), "malformed frame"))
			continue
		}
		h.reply(out, stopped, h.dispatch(msg))
	}
}

func (h *Handlers) reply(out chan<- *protocol.ControlMessage, stopped <-chan struct{}, msg *protocol.ControlMessage) {
	select {
	case out <- msg:
	case <-stopped:
	}
}

// dispatch runs one command and builds its ack or error frame.
func (h *Handlers) dispatch(msg protocol.ControlMessage) *protocol.ControlMessage {
	var (
		err     error
		enabled *bool
	)
	switch msg.Type {
	case protocol.MessageTypeStart:
		err = h.session.Start()
	case protocol.MessageTypeSkip:
		err = h.session.Skip()
	case protocol.MessageTypeDisconnect:
		err = h.session.Disconnect()
	case protocol.MessageTypeToggleCamera:
		var on bool
		on, err = h.session.ToggleCamera()
		enabled = &on
	case protocol.MessageTypeToggleMic:
		var on bool
		on, err = h.session.ToggleMic()
		enabled = &on
	case protocol.MessageTypeSendMessage:
		err = h.session.SendMessage(msg.Text)
	default:
		err = apperrors.NewAppErrorf(apperrors.ErrCodeInvalidInput, "unknown command %q", msg.Type)
	}
	if err != nil {
		code, text := apperrors.ErrCodeInternal, err.Error()
		if appErr, ok := apperrors.AsAppError(err); ok {
			code, text = appErr.Code, appErr.Message
		}
		return protocol.NewErrorMessage(msg.ID, string(code), text)
	}
	return protocol.NewAckMessage(msg.ID, enabled)
}
