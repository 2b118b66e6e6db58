package socket

import (
	"errors"

	"codefusion/pkg/logger"
	"codefusion/protocol"
)

// dispatch routes one inbound message. Everything but join-request needs a
// joined connection.
func (h *Hub) dispatch(c *Client, msg protocol.Message) {
	if msg.Type == protocol.JoinRequest {
		h.handleJoin(c, msg.Payload)
		return
	}

	self, ok := h.registry.Find(c.ID)
	if !ok {
		logger.Sugar.Warnf("Connection %s sent %s before joining", c.ID, msg.Type)
		c.sendError("join a room first")
		return
	}

	switch {
	case msg.Type == protocol.SyncFileStructure:
		h.handleSyncFileStructure(c, msg.Payload)
	case protocol.IsWorkspaceEvent(msg.Type):
		h.relayOp(c, self.RoomID, msg)
	default:
		h.relaySignal(c, self.RoomID, msg)
	}
}

// relayOp forwards a workspace operation to the rest of the room with its
// payload untouched. The sender already applied it locally.
func (h *Hub) relayOp(c *Client, roomID string, msg protocol.Message) {
	if _, err := protocol.DecodeOp(msg.Type, msg.Payload); err != nil {
		logger.Sugar.Warnf("Dropping %s from %s: %v", msg.Type, c.ID, err)
		c.sendError("invalid " + string(msg.Type) + " payload")
		return
	}
	data, err := relayed(msg.Type, c.ID, msg.Payload)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s: %v", msg.Type, err)
		return
	}
	h.broadcastRaw(roomID, c.ID, data)
}

// relaySignal handles the ephemeral events: presence flags, chat, typing
// and drawing. All of them reach the whole room, sender included, except
// sync-drawing which goes to the one connection that asked.
func (h *Hub) relaySignal(c *Client, roomID string, msg protocol.Message) {
	var err error
	switch msg.Type {
	case protocol.UserOnline, protocol.UserOffline:
		status := protocol.StatusOnline
		if msg.Type == protocol.UserOffline {
			status = protocol.StatusOffline
		}
		if _, err = h.registry.SetStatus(c.ID, status); err == nil {
			h.broadcast(roomID, "", msg.Type, protocol.ConnectionPayload{ConnectionID: c.ID})
		}

	case protocol.SendMessage:
		var p protocol.ChatPayload
		if p, err = protocol.Decode[protocol.ChatPayload](msg.Payload); err == nil {
			if len(p.Message) == 0 || string(p.Message) == "null" {
				err = errors.New("message is required")
				break
			}
			h.broadcast(roomID, "", protocol.ReceiveMessage, p)
		}

	case protocol.TypingStart:
		var p protocol.TypingStartPayload
		if p, err = protocol.DecodeTypingStart(msg.Payload); err == nil {
			h.typing(c, roomID, true, p.CursorPosition)
		}

	case protocol.TypingPause:
		h.typing(c, roomID, false, 0)

	case protocol.RequestDrawing:
		h.broadcast(roomID, "", protocol.RequestDrawing, protocol.ConnectionPayload{ConnectionID: c.ID})

	case protocol.SyncDrawing:
		var p protocol.SyncDrawingPayload
		if p, err = protocol.DecodeSyncDrawing(msg.Payload); err == nil {
			if !h.rooms.SameRoom(c.ID, p.ConnectionID) {
				logger.Sugar.Warnf("Dropping drawing from %s to %s: not in the same room", c.ID, p.ConnectionID)
				return
			}
			h.send(p.ConnectionID, protocol.SyncDrawing, protocol.SyncDrawingPayload{DrawingData: p.DrawingData})
		}

	case protocol.DrawingUpdate:
		if _, err = protocol.Decode[protocol.DrawingUpdatePayload](msg.Payload); err == nil {
			data, merr := relayed(msg.Type, c.ID, msg.Payload)
			if merr != nil {
				logger.Sugar.Errorf("Error marshalling %s: %v", msg.Type, merr)
				return
			}
			h.broadcastRaw(roomID, "", data)
		}

	default:
		logger.Sugar.Warnf("Unknown event %q from %s", msg.Type, c.ID)
		c.sendError("unknown event " + string(msg.Type))
		return
	}

	if err != nil {
		logger.Sugar.Warnf("Dropping %s from %s: %v", msg.Type, c.ID, err)
		c.sendError("invalid " + string(msg.Type) + " payload")
	}
}

func (h *Hub) typing(c *Client, roomID string, typing bool, cursor int) {
	p, err := h.registry.SetTyping(c.ID, typing, cursor)
	if err != nil {
		logger.Sugar.Warnf("Typing update for %s: %v", c.ID, err)
		return
	}
	event := protocol.TypingPause
	if typing {
		event = protocol.TypingStart
	}
	h.broadcast(roomID, "", event, protocol.ParticipantPayload{Participant: p})
}
