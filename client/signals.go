package client

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"codefusion/protocol"
)

// SendChat posts a chat line to the room under this client's username.
func (c *Client) SendChat(text string) error {
	self, _ := c.Self()
	body, err := json.Marshal(protocol.ChatMessage{
		ID:        ulid.Make().String(),
		Message:   text,
		Username:  self.Username,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return c.send(protocol.SendMessage, protocol.ChatPayload{Message: body})
}

// SetOnline flags this participant online or offline for the room.
func (c *Client) SetOnline(online bool) error {
	if online {
		return c.send(protocol.UserOnline, nil)
	}
	return c.send(protocol.UserOffline, nil)
}

func (c *Client) StartTyping(cursor int) error {
	return c.send(protocol.TypingStart, protocol.TypingStartPayload{CursorPosition: cursor})
}

func (c *Client) PauseTyping() error {
	return c.send(protocol.TypingPause, nil)
}

// RequestDrawing asks the room for the current drawing. Members holding
// one answer directly.
func (c *Client) RequestDrawing() error {
	return c.send(protocol.RequestDrawing, nil)
}

// UpdateDrawing replaces the local drawing and broadcasts it.
func (c *Client) UpdateDrawing(snapshot json.RawMessage) error {
	c.setDrawing(snapshot)
	return c.send(protocol.DrawingUpdate, protocol.DrawingUpdatePayload{Snapshot: snapshot})
}
