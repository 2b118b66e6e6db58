// Package protocol defines the websocket envelope, the event names and the
// payload shape of every event exchanged between participants and the
// relay server.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"codefusion/workspace"
)

var (
	ErrUnknownEvent   = errors.New("protocol: unknown event")
	ErrInvalidPayload = errors.New("protocol: invalid payload")
)

type Event string

const (
	JoinRequest      Event = "join-request"
	UsernameExists   Event = "username-exists"
	JoinAccepted     Event = "join-accepted"
	UserJoined       Event = "user-joined"
	UserDisconnected Event = "user-disconnected"

	SyncFileStructure Event = "sync-file-structure"
	DirectoryCreated  Event = "directory-created"
	DirectoryUpdated  Event = "directory-updated"
	DirectoryRenamed  Event = "directory-renamed"
	DirectoryDeleted  Event = "directory-deleted"
	FileCreated       Event = "file-created"
	FileUpdated       Event = "file-updated"
	FileRenamed       Event = "file-renamed"
	FileDeleted       Event = "file-deleted"

	UserOnline     Event = "user-online"
	UserOffline    Event = "user-offline"
	SendMessage    Event = "send-message"
	ReceiveMessage Event = "receive-message"
	TypingStart    Event = "typing-start"
	TypingPause    Event = "typing-pause"
	RequestDrawing Event = "request-drawing"
	SyncDrawing    Event = "sync-drawing"
	DrawingUpdate  Event = "drawing-update"

	Error Event = "error"
)

// Message is the envelope of every frame. ConnectionID is stamped by the
// server with the sender's connection; whatever a client puts there is
// overwritten.
type Message struct {
	Type         Event           `json:"type"`
	ConnectionID string          `json:"connection_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// New builds a message with payload encoded as JSON.
func New(event Event, payload any) (Message, error) {
	msg := Message{Type: event}
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return msg, fmt.Errorf("protocol: encoding %s: %w", event, err)
	}
	msg.Payload = data
	return msg, nil
}

// Encode builds a message and returns its wire form.
func Encode(event Event, payload any) ([]byte, error) {
	msg, err := New(event, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// Status is a participant's connection status.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Participant is one connected user of a room as seen on the wire.
type Participant struct {
	ConnectionID   string  `json:"connectionId"`
	Username       string  `json:"username"`
	RoomID         string  `json:"roomId"`
	Status         Status  `json:"status"`
	CursorPosition int     `json:"cursorPosition"`
	Typing         bool    `json:"typing"`
	CurrentFile    *string `json:"currentFile"`
}

type JoinRequestPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type JoinAcceptedPayload struct {
	Participant  Participant   `json:"participant"`
	Participants []Participant `json:"participants"`
}

// ParticipantPayload carries user-joined, user-disconnected and the
// server-to-room typing events.
type ParticipantPayload struct {
	Participant Participant `json:"participant"`
}

// SyncFileStructurePayload is the join snapshot. ConnectionID names the
// recipient when a member sends it and is dropped when the server
// forwards it.
type SyncFileStructurePayload struct {
	workspace.Snapshot
	ConnectionID string `json:"connectionId,omitempty"`
}

// ConnectionPayload carries user-online, user-offline and the
// server-to-room request-drawing.
type ConnectionPayload struct {
	ConnectionID string `json:"connectionId"`
}

type ChatPayload struct {
	Message json.RawMessage `json:"message"`
}

// ChatMessage is the message body produced by participants. The server
// never looks inside it.
type ChatMessage struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

type TypingStartPayload struct {
	CursorPosition int `json:"cursorPosition"`
}

type SyncDrawingPayload struct {
	DrawingData  json.RawMessage `json:"drawingData"`
	ConnectionID string          `json:"connectionId,omitempty"`
}

type DrawingUpdatePayload struct {
	Snapshot json.RawMessage `json:"snapshot"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// DecodeJoinRequest decodes and normalizes a join request.
func DecodeJoinRequest(raw json.RawMessage) (JoinRequestPayload, error) {
	var p JoinRequestPayload
	if err := decode(raw, &p); err != nil {
		return p, err
	}
	p.RoomID = strings.TrimSpace(p.RoomID)
	p.Username = strings.TrimSpace(p.Username)
	if p.RoomID == "" {
		return p, fmt.Errorf("%w: roomId is required", ErrInvalidPayload)
	}
	return p, nil
}

func DecodeSyncFileStructure(raw json.RawMessage) (SyncFileStructurePayload, error) {
	var p SyncFileStructurePayload
	if err := decode(raw, &p); err != nil {
		return p, err
	}
	if err := p.FileStructure.Validate(); err != nil {
		return p, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !p.FileStructure.IsDirectory() {
		return p, fmt.Errorf("%w: fileStructure must be a directory", ErrInvalidPayload)
	}
	return p, nil
}

func DecodeTypingStart(raw json.RawMessage) (TypingStartPayload, error) {
	var p TypingStartPayload
	if err := decode(raw, &p); err != nil {
		return p, err
	}
	if p.CursorPosition < 0 {
		return p, fmt.Errorf("%w: cursorPosition must not be negative", ErrInvalidPayload)
	}
	return p, nil
}

func DecodeSyncDrawing(raw json.RawMessage) (SyncDrawingPayload, error) {
	var p SyncDrawingPayload
	if err := decode(raw, &p); err != nil {
		return p, err
	}
	if p.ConnectionID == "" {
		return p, fmt.Errorf("%w: connectionId is required", ErrInvalidPayload)
	}
	return p, nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Decode unmarshals a payload into its generic type and returns it.
func Decode[T any](raw json.RawMessage) (T, error) {
	var v T
	err := decode(raw, &v)
	return v, err
}
