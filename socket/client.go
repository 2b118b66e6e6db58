package socket

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"codefusion/pkg/logger"
	"codefusion/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

type joinState int

const (
	stateConnected joinState = iota
	stateJoinRequested
	stateRejected
	stateJoined
)

// Client is one websocket connection. Account is the authenticated
// username, empty for anonymous connections.
type Client struct {
	Hub     *Hub
	Conn    *websocket.Conn
	ID      string
	Account string
	Send    chan []byte

	// only touched by the read pump, and by disconnect after it exits
	state joinState

	mu     sync.Mutex
	closed bool
}

func (h *Hub) upgrader() websocket.Upgrader {
	allowed := h.opts.AllowedOrigins
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(allowed) == 0 || origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
		},
	}
}

// ServeWs upgrades the request and starts the client's pumps. The client
// belongs to no room until it sends join-request.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, account string) {
	upgrader := hub.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	client := &Client{
		Hub:     hub,
		Conn:    conn,
		ID:      ulid.Make().String(),
		Account: account,
		Send:    make(chan []byte, hub.opts.SendBuffer),
	}
	hub.attach(client)
	logger.Sugar.Debugf("Connection %s opened (account %q)", client.ID, account)

	go client.writePump()
	go client.readPump()
}

// deliver queues data without blocking. A client whose buffer is full
// misses the frame.
func (c *Client) deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		logger.Sugar.Warnf("Send buffer full for connection %s; dropping frame", c.ID)
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) sendError(message string) {
	c.Hub.send(c.ID, protocol.Error, protocol.ErrorPayload{Message: message})
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.Unregister <- c:
		case <-c.Hub.quit:
			c.Hub.disconnect(c)
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Hub.opts.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, rawMessage, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}

		var msg protocol.Message
		if err := json.Unmarshal(rawMessage, &msg); err != nil {
			logger.Sugar.Errorf("Error unmarshalling message: %v", err)
			c.sendError("malformed message")
			continue
		}

		// Set server-authoritative fields to prevent spoofing.
		msg.ConnectionID = c.ID

		c.Hub.dispatch(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
