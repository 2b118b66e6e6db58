package socket

import (
	"encoding/json"
	"errors"

	"codefusion/internal/presence"
	"codefusion/pkg/logger"
	"codefusion/protocol"
)

// handleJoin admits a client to a room. Existing members hear about the
// newcomer before the newcomer gets the member list, and one of them is
// expected to answer with a workspace snapshot.
func (h *Hub) handleJoin(c *Client, raw json.RawMessage) {
	req, err := protocol.DecodeJoinRequest(raw)
	if err != nil {
		logger.Sugar.Warnf("Bad join-request from %s: %v", c.ID, err)
		c.sendError("roomId is required")
		return
	}
	if req.Username == "" {
		req.Username = c.Account
	}
	if req.Username == "" {
		c.sendError("username is required")
		return
	}
	// A joined connection repeating its own name hears username-exists like
	// anyone else; asking for another room or name is an error.
	joined := c.state == stateJoined
	if !joined {
		c.state = stateJoinRequested
	}

	p := presence.Participant{
		ConnectionID: c.ID,
		Username:     req.Username,
		RoomID:       req.RoomID,
		Status:       protocol.StatusOnline,
	}
	if err := h.registry.Admit(p); err != nil {
		switch {
		case errors.Is(err, presence.ErrUsernameExists):
			if !joined {
				c.state = stateRejected
			}
			logger.Sugar.Infof("Username %s already taken in room %s", p.Username, p.RoomID)
			h.send(c.ID, protocol.UsernameExists, nil)
		case errors.Is(err, presence.ErrAlreadyJoined):
			c.sendError("already joined a room")
		default:
			logger.Sugar.Warnf("Join of %s refused: %v", c.ID, err)
			c.sendError(err.Error())
		}
		return
	}
	c.state = stateJoined

	members := h.rooms.Members(p.RoomID)
	if len(members) > 1 {
		h.snapshots.expect(c.ID)
	}
	logger.Sugar.Infof("User %s joined room %s (%d members)", p.Username, p.RoomID, len(members))

	h.broadcast(p.RoomID, c.ID, protocol.UserJoined, protocol.ParticipantPayload{Participant: p})
	h.send(c.ID, protocol.JoinAccepted, protocol.JoinAcceptedPayload{Participant: p, Participants: members})
}

// handleSyncFileStructure forwards a member's snapshot to the newcomer it
// names, if the newcomer is in the sender's room and still waiting.
func (h *Hub) handleSyncFileStructure(c *Client, raw json.RawMessage) {
	p, err := protocol.DecodeSyncFileStructure(raw)
	if err != nil {
		logger.Sugar.Warnf("Bad sync-file-structure from %s: %v", c.ID, err)
		c.sendError("invalid sync-file-structure payload")
		return
	}
	if !h.rooms.SameRoom(c.ID, p.ConnectionID) {
		logger.Sugar.Warnf("Dropping snapshot from %s to %s: not in the same room", c.ID, p.ConnectionID)
		return
	}
	if !h.snapshots.claim(p.ConnectionID) {
		logger.Sugar.Debugf("Dropping snapshot from %s: %s is not waiting for one", c.ID, p.ConnectionID)
		return
	}

	// Forward the nested values untouched, without the addressing field.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		logger.Sugar.Errorf("Error re-reading snapshot payload: %v", err)
		return
	}
	delete(fields, "connectionId")
	payload, err := json.Marshal(fields)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling snapshot payload: %v", err)
		return
	}
	data, err := relayed(protocol.SyncFileStructure, c.ID, payload)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling snapshot: %v", err)
		return
	}
	h.sendRaw(p.ConnectionID, data)
}
