package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"codefusion/pkg/logger"
	"codefusion/protocol"
	"codefusion/workspace"
)

func (c *Client) handle(msg protocol.Message) {
	var err error
	switch {
	case msg.Type == protocol.JoinAccepted:
		var p protocol.JoinAcceptedPayload
		if p, err = protocol.Decode[protocol.JoinAcceptedPayload](msg.Payload); err == nil {
			c.mu.Lock()
			self := p.Participant
			c.self = &self
			c.participants = p.Participants
			c.mu.Unlock()
			c.finishJoin(joinResult{accepted: p})
		}

	case msg.Type == protocol.UsernameExists:
		c.finishJoin(joinResult{err: ErrUsernameExists})

	case msg.Type == protocol.Error:
		var p protocol.ErrorPayload
		if p, err = protocol.Decode[protocol.ErrorPayload](msg.Payload); err == nil {
			logger.Sugar.Warnf("Server error: %s", p.Message)
			c.finishJoin(joinResult{err: fmt.Errorf("client: join refused: %s", p.Message)})
		}

	case msg.Type == protocol.UserJoined:
		var p protocol.ParticipantPayload
		if p, err = protocol.Decode[protocol.ParticipantPayload](msg.Payload); err == nil {
			c.upsert(p.Participant)
			c.welcome(p.Participant.ConnectionID)
		}

	case msg.Type == protocol.UserDisconnected:
		var p protocol.ParticipantPayload
		if p, err = protocol.Decode[protocol.ParticipantPayload](msg.Payload); err == nil {
			c.remove(p.Participant.ConnectionID)
		}

	case msg.Type == protocol.SyncFileStructure:
		var p protocol.SyncFileStructurePayload
		if p, err = protocol.DecodeSyncFileStructure(msg.Payload); err == nil {
			c.adopt(p.Snapshot, msg.ConnectionID)
		}

	case protocol.IsWorkspaceEvent(msg.Type):
		var op workspace.Op
		if op, err = protocol.DecodeOp(msg.Type, msg.Payload); err == nil {
			if applyErr := c.Workspace.Apply(op); applyErr != nil {
				if errors.Is(applyErr, workspace.ErrNotFound) {
					logger.Sugar.Debugf("Skipping %s from %s: %v", msg.Type, msg.ConnectionID, applyErr)
				} else {
					logger.Sugar.Warnf("Applying %s from %s: %v", msg.Type, msg.ConnectionID, applyErr)
				}
			}
		}

	case msg.Type == protocol.UserOnline, msg.Type == protocol.UserOffline:
		var p protocol.ConnectionPayload
		if p, err = protocol.Decode[protocol.ConnectionPayload](msg.Payload); err == nil {
			status := protocol.StatusOnline
			if msg.Type == protocol.UserOffline {
				status = protocol.StatusOffline
			}
			c.update(p.ConnectionID, func(rec *protocol.Participant) { rec.Status = status })
		}

	case msg.Type == protocol.TypingStart, msg.Type == protocol.TypingPause:
		var p protocol.ParticipantPayload
		if p, err = protocol.Decode[protocol.ParticipantPayload](msg.Payload); err == nil {
			c.upsert(p.Participant)
		}

	case msg.Type == protocol.ReceiveMessage:
		var p protocol.ChatPayload
		if p, err = protocol.Decode[protocol.ChatPayload](msg.Payload); err == nil {
			var m protocol.ChatMessage
			if json.Unmarshal(p.Message, &m) == nil {
				c.mu.Lock()
				c.chat = append(c.chat, m)
				c.mu.Unlock()
			}
		}

	case msg.Type == protocol.RequestDrawing:
		var p protocol.ConnectionPayload
		if p, err = protocol.Decode[protocol.ConnectionPayload](msg.Payload); err == nil && !c.isSelf(p.ConnectionID) {
			c.shareDrawing(p.ConnectionID)
		}

	case msg.Type == protocol.SyncDrawing:
		var p protocol.SyncDrawingPayload
		if p, err = protocol.Decode[protocol.SyncDrawingPayload](msg.Payload); err == nil {
			c.setDrawing(p.DrawingData)
		}

	case msg.Type == protocol.DrawingUpdate:
		var p protocol.DrawingUpdatePayload
		// our own update comes back too; the local drawing is already newer
		if p, err = protocol.Decode[protocol.DrawingUpdatePayload](msg.Payload); err == nil && !c.isSelf(msg.ConnectionID) {
			c.setDrawing(p.Snapshot)
		}

	default:
		logger.Sugar.Debugf("Ignoring unknown event %q", msg.Type)
		return
	}

	if err != nil {
		logger.Sugar.Warnf("Bad %s from server: %v", msg.Type, err)
		return
	}
	c.publish(Event{Type: msg.Type, From: msg.ConnectionID, Payload: msg.Payload})
}

// adopt restores the room's snapshot on the read goroutine, so every op
// relayed after it is applied on top of it. Once the client is ready later
// snapshots are ignored.
func (c *Client) adopt(snap workspace.Snapshot, from string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		logger.Sugar.Debugf("Ignoring extra snapshot from %s", from)
		return
	}
	c.Workspace.Restore(snap)
	c.ready = true
	select {
	case c.snaps <- struct{}{}:
	default:
	}
}

func (c *Client) finishJoin(res joinResult) {
	c.mu.Lock()
	waiting := c.joining
	c.joining = false
	c.mu.Unlock()
	if !waiting {
		return
	}
	select {
	case c.joins <- res:
	default:
		logger.Sugar.Debugf("Join result with nobody waiting: %v", res.err)
	}
}

// welcome answers a newcomer with this replica's snapshot and the current
// drawing. The server forwards only the first snapshot it receives.
func (c *Client) welcome(connID string) {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()
	if !ready {
		return
	}
	// Queued under Share, so every op the snapshot already holds is queued
	// ahead of it and is superseded by the newcomer's restore.
	c.Workspace.Share(func(snap workspace.Snapshot) {
		if err := c.send(protocol.SyncFileStructure, protocol.SyncFileStructurePayload{Snapshot: snap, ConnectionID: connID}); err != nil {
			logger.Sugar.Warnf("Sending snapshot to %s: %v", connID, err)
		}
	})
	c.shareDrawing(connID)
}

func (c *Client) shareDrawing(connID string) {
	drawing := c.Drawing()
	if len(drawing) == 0 {
		return
	}
	if err := c.send(protocol.SyncDrawing, protocol.SyncDrawingPayload{DrawingData: drawing, ConnectionID: connID}); err != nil {
		logger.Sugar.Warnf("Sending drawing to %s: %v", connID, err)
	}
}

func (c *Client) isSelf(connID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self != nil && c.self.ConnectionID == connID
}

func (c *Client) setDrawing(data json.RawMessage) {
	c.mu.Lock()
	c.drawing = append(json.RawMessage(nil), data...)
	c.mu.Unlock()
}

func (c *Client) upsert(p protocol.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.self != nil && c.self.ConnectionID == p.ConnectionID {
		*c.self = p
	}
	for i := range c.participants {
		if c.participants[i].ConnectionID == p.ConnectionID {
			c.participants[i] = p
			return
		}
	}
	c.participants = append(c.participants, p)
}

func (c *Client) update(connID string, fn func(*protocol.Participant)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.self != nil && c.self.ConnectionID == connID {
		fn(c.self)
	}
	for i := range c.participants {
		if c.participants[i].ConnectionID == connID {
			fn(&c.participants[i])
			return
		}
	}
}

func (c *Client) remove(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.participants {
		if c.participants[i].ConnectionID == connID {
			c.participants = append(c.participants[:i:i], c.participants[i+1:]...)
			return
		}
	}
}
