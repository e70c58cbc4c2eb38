package rtcmedia

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v3"
)

var ErrChannelNotOpen = errors.New("chat channel is not open")

// ChatChannel is the ordered, reliable text channel between the two peers.
type ChatChannel struct {
	mu sync.RWMutex
	dc *webrtc.DataChannel
}

// NewChatChannel wires dc's callbacks. Any of the handlers may be nil.
func NewChatChannel(dc *webrtc.DataChannel, onOpen func(), onMessage func(string), onClose func()) *ChatChannel {
	c := &ChatChannel{dc: dc}
	dc.OnOpen(func() {
		if onOpen != nil {
			onOpen()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if onMessage != nil && msg.IsString {
			onMessage(string(msg.Data))
		}
	})
	dc.OnClose(func() {
		if onClose != nil {
			onClose()
		}
	})
	return c
}

func (c *ChatChannel) Label() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.dc == nil {
		return ""
	}
	return c.dc.Label()
}

func (c *ChatChannel) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dc != nil && c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Send writes text; it fails with ErrChannelNotOpen until the channel opens.
func (c *ChatChannel) Send(text string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.dc == nil || c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return c.dc.SendText(text)
}

func (c *ChatChannel) Close() error {
	c.mu.Lock()
	dc := c.dc
	c.dc = nil
	c.mu.Unlock()
	if dc == nil {
		return nil
	}
	return dc.Close()
}
