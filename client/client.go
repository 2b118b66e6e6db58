// Package client is a headless room participant. It keeps a local
// workspace replica in step with the room, answers newcomers with a
// snapshot, and exposes chat, typing, presence and drawing signals.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"codefusion/pkg/logger"
	"codefusion/protocol"
	"codefusion/workspace"
)

var (
	ErrSnapshotTimeout = errors.New("client: no workspace snapshot received in time")
	ErrUsernameExists  = errors.New("client: username already taken in room")
	ErrClosed          = errors.New("client: connection closed")
)

const (
	writeWait       = 10 * time.Second
	defaultTimeout  = 10 * time.Second
	eventBufferSize = 256
)

type Options struct {
	// URL of the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL   string
	Token string
	// SnapshotTimeout bounds how long Join waits for a member's snapshot.
	SnapshotTimeout time.Duration
	Dialer          *websocket.Dialer
}

// Event is a server event surfaced to the caller.
type Event struct {
	Type    protocol.Event
	From    string
	Payload json.RawMessage
}

type joinResult struct {
	accepted protocol.JoinAcceptedPayload
	err      error
}

type Client struct {
	Workspace *workspace.Workspace

	conn   *websocket.Conn
	opts   Options
	out    chan []byte
	events chan Event
	joins  chan joinResult
	snaps  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	mu           sync.Mutex
	joining      bool
	ready        bool
	self         *protocol.Participant
	participants []protocol.Participant
	chat         []protocol.ChatMessage
	drawing      json.RawMessage
}

// Dial connects to the server and starts the read and write loops. The
// client is in no room until Join.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.SnapshotTimeout <= 0 {
		opts.SnapshotTimeout = defaultTimeout
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	target, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("client: bad url: %w", err)
	}
	if opts.Token != "" {
		q := target.Query()
		q.Set("token", opts.Token)
		target.RawQuery = q.Encode()
	}

	conn, _, err := dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(loopCtx)
	c := &Client{
		conn:   conn,
		opts:   opts,
		out:    make(chan []byte, 256),
		events: make(chan Event, eventBufferSize),
		joins:  make(chan joinResult, 1),
		snaps:  make(chan struct{}, 1),
		ctx:    gctx,
		cancel: cancel,
		g:      g,
	}
	c.Workspace = workspace.New(workspace.EmitterFunc(c.emit))

	g.Go(c.readLoop)
	g.Go(c.writeLoop)
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})
	return c, nil
}

// Close disconnects and waits for the loops to finish.
func (c *Client) Close() error {
	c.cancel()
	err := c.g.Wait()
	if err == nil || errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.ctx.Done() }

// Wait blocks until the loops exit and returns the first error.
func (c *Client) Wait() error { return c.g.Wait() }

// Events delivers server events as they are handled. Events are dropped
// when nobody reads them.
func (c *Client) Events() <-chan Event { return c.events }

// Join asks to enter roomID. When other members are present it waits until
// a member's workspace snapshot has replaced the local workspace. If none
// arrives in time the local workspace (the default one unless the caller
// seeded it) is kept and ErrSnapshotTimeout is returned alongside the
// accepted join.
func (c *Client) Join(ctx context.Context, roomID, username string) (protocol.JoinAcceptedPayload, error) {
	c.mu.Lock()
	c.joining = true
	c.mu.Unlock()
	if err := c.send(protocol.JoinRequest, protocol.JoinRequestPayload{RoomID: roomID, Username: username}); err != nil {
		return protocol.JoinAcceptedPayload{}, err
	}

	var res joinResult
	select {
	case res = <-c.joins:
	case <-ctx.Done():
		return protocol.JoinAcceptedPayload{}, ctx.Err()
	case <-c.ctx.Done():
		return protocol.JoinAcceptedPayload{}, ErrClosed
	}
	if res.err != nil {
		return res.accepted, res.err
	}

	defer c.markReady()

	// alone in the room: the local workspace is the room's workspace
	if len(res.accepted.Participants) <= 1 {
		return res.accepted, nil
	}

	timer := time.NewTimer(c.opts.SnapshotTimeout)
	defer timer.Stop()
	select {
	case <-c.snaps:
		return res.accepted, nil
	case <-timer.C:
		if c.settle() {
			return res.accepted, nil
		}
		logger.Sugar.Warnf("No snapshot for room %s after %s; keeping the local workspace", roomID, c.opts.SnapshotTimeout)
		return res.accepted, ErrSnapshotTimeout
	case <-ctx.Done():
		return res.accepted, ctx.Err()
	case <-c.ctx.Done():
		return res.accepted, ErrClosed
	}
}

// settle stops waiting for a snapshot and reports whether one was adopted
// in the meantime.
func (c *Client) settle() bool {
	c.markReady()
	select {
	case <-c.snaps:
		return true
	default:
		return false
	}
}

// markReady lets the client answer later newcomers with its snapshot.
func (c *Client) markReady() {
	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
}

// Self returns this client's participant record once joined.
func (c *Client) Self() (protocol.Participant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.self == nil {
		return protocol.Participant{}, false
	}
	return *c.self, true
}

// Participants returns the room members as last seen, in join order.
func (c *Client) Participants() []protocol.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Participant(nil), c.participants...)
}

// Chat returns the messages received since joining.
func (c *Client) Chat() []protocol.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.ChatMessage(nil), c.chat...)
}

func (c *Client) Drawing() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drawing
}

// emit relays a local workspace operation to the room.
func (c *Client) emit(op workspace.Op) {
	msg, err := protocol.EncodeOp(op)
	if err != nil {
		logger.Sugar.Errorf("Error encoding %T: %v", op, err)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling %s: %v", msg.Type, err)
		return
	}
	if err := c.enqueue(data); err != nil {
		logger.Sugar.Warnf("Dropping %s: %v", msg.Type, err)
	}
}

func (c *Client) send(event protocol.Event, payload any) error {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

func (c *Client) enqueue(data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *Client) publish(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

func (c *Client) writeLoop() error {
	for {
		select {
		case data := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("client: write: %w", err)
			}
		case <-c.ctx.Done():
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return nil
		}
	}
}

func (c *Client) readLoop() error {
	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if c.ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrClosed
			}
			return fmt.Errorf("client: read: %w", err)
		}
		c.handle(msg)
	}
}
