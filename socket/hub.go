package socket

import (
	"encoding/json"
	"sync"
	"time"

	"codefusion/internal/presence"
	"codefusion/pkg/logger"
	"codefusion/protocol"
)

// Options tune a Hub. Zero values fall back to the defaults below.
type Options struct {
	SnapshotTimeout time.Duration
	MaxMessageSize  int64
	SendBuffer      int
	AllowedOrigins  []string
}

const (
	defaultSnapshotTimeout = 10 * time.Second
	defaultMaxMessageSize  = 16 << 20
	defaultSendBuffer      = 256
)

// Hub relays room-scoped events between connected clients. It never looks
// at workspace contents beyond validating payload shapes; every room's
// workspace lives in the clients.
type Hub struct {
	Unregister chan *Client

	registry  *presence.Registry
	rooms     *presence.Rooms
	snapshots *snapshotTracker
	opts      Options

	mu      sync.RWMutex
	clients map[string]*Client // connection id -> client
	quit    chan struct{}
	once    sync.Once
}

func NewHub(registry *presence.Registry, opts Options) *Hub {
	if opts.SnapshotTimeout <= 0 {
		opts.SnapshotTimeout = defaultSnapshotTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	return &Hub{
		Unregister: make(chan *Client),
		registry:   registry,
		rooms:      presence.NewRooms(registry),
		snapshots:  newSnapshotTracker(opts.SnapshotTimeout),
		opts:       opts,
		clients:    make(map[string]*Client),
		quit:       make(chan struct{}),
	}
}

// Run serializes connection teardown. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Unregister:
			h.disconnect(client)
		case <-h.quit:
			return
		}
	}
}

// Stop closes every connection and ends Run. Read pumps that are still
// shutting down find the hub gone and tear their client down themselves.
func (h *Hub) Stop() {
	h.once.Do(func() {
		close(h.quit)
		h.mu.RLock()
		defer h.mu.RUnlock()
		for _, client := range h.clients {
			client.Conn.Close()
		}
	})
}

// Participants lists the members of a room in join order.
func (h *Hub) Participants(roomID string) []presence.Participant {
	return h.rooms.Members(roomID)
}

func (h *Hub) attach(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
}

func (h *Hub) client(connID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	return c, ok
}

// disconnect tells the rest of the room that the client left while the
// client is still registered, and only then removes it.
func (h *Hub) disconnect(client *Client) {
	if p, ok := h.registry.Find(client.ID); ok {
		h.broadcast(p.RoomID, client.ID, protocol.UserDisconnected, protocol.ParticipantPayload{Participant: p})
		h.registry.Unregister(client.ID)
		logger.Sugar.Infof("User %s left room %s", p.Username, p.RoomID)
	}
	h.snapshots.drop(client.ID)

	h.mu.Lock()
	delete(h.clients, client.ID)
	h.mu.Unlock()
	client.close()
}

// broadcast sends an event to every member of a room except exclude.
func (h *Hub) broadcast(roomID, exclude string, event protocol.Event, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s broadcast: %v", event, err)
		return
	}
	h.broadcastRaw(roomID, exclude, data)
}

func (h *Hub) broadcastRaw(roomID, exclude string, data []byte) {
	for _, connID := range h.rooms.Targets(roomID, exclude) {
		h.sendRaw(connID, data)
	}
}

// send delivers an event to one connection.
func (h *Hub) send(connID string, event protocol.Event, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s: %v", event, err)
		return
	}
	h.sendRaw(connID, data)
}

func (h *Hub) sendRaw(connID string, data []byte) {
	client, ok := h.client(connID)
	if !ok {
		return
	}
	client.deliver(data)
}

// relayed wraps a verbatim payload in an envelope stamped with the sender.
func relayed(event protocol.Event, sender string, payload json.RawMessage) ([]byte, error) {
	return json.Marshal(protocol.Message{Type: event, ConnectionID: sender, Payload: payload})
}
