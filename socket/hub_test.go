package socket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codefusion/internal/presence"
	"codefusion/protocol"
	"codefusion/workspace"
)

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(presence.NewRegistry(), Options{SnapshotTimeout: time.Second})
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r, r.URL.Query().Get("account"))
	}))
	t.Cleanup(func() {
		server.Close()
		hub.Stop()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "failed to connect")
	t.Cleanup(func() { conn.Close() })
	return conn
}

// Helper function to read messages from a WebSocket connection with a timeout.
func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	var msg protocol.Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err, "Failed to read message from WebSocket")
	require.NoError(t, json.Unmarshal(p, &msg), "Failed to unmarshal message JSON")
	return msg
}

func expect(t *testing.T, conn *websocket.Conn, event protocol.Event) protocol.Message {
	t.Helper()
	msg := readMessage(t, conn)
	require.Equal(t, event, msg.Type, "payload: %s", msg.Payload)
	return msg
}

func send(t *testing.T, conn *websocket.Conn, event protocol.Event, payload any) {
	t.Helper()
	data, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func sendRaw(t *testing.T, conn *websocket.Conn, event protocol.Event, payload string) {
	t.Helper()
	data, err := json.Marshal(protocol.Message{Type: event, Payload: json.RawMessage(payload)})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func join(t *testing.T, conn *websocket.Conn, room, username string) protocol.JoinAcceptedPayload {
	t.Helper()
	send(t, conn, protocol.JoinRequest, protocol.JoinRequestPayload{RoomID: room, Username: username})
	msg := expect(t, conn, protocol.JoinAccepted)
	p, err := protocol.Decode[protocol.JoinAcceptedPayload](msg.Payload)
	require.NoError(t, err)
	return p
}

func usernames(ps []protocol.Participant) []string {
	out := []string{}
	for _, p := range ps {
		out = append(out, p.Username)
	}
	return out
}

// chatMarker sends a chat line from conn; since chat reaches every member
// including the sender, reading it proves nothing else was queued before.
func chatMarker(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	send(t, conn, protocol.SendMessage, protocol.ChatPayload{Message: json.RawMessage(`"` + text + `"`)})
}

func expectChat(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	msg := expect(t, conn, protocol.ReceiveMessage)
	assert.JSONEq(t, `{"message":"`+text+`"}`, string(msg.Payload))
}

func TestJoinRejectsDuplicateUsername(t *testing.T) {
	_, url := newTestHub(t)
	x := dial(t, url)
	y := dial(t, url)

	accepted := join(t, x, "abc12", "alice")
	assert.Equal(t, "alice", accepted.Participant.Username)
	assert.Equal(t, protocol.StatusOnline, accepted.Participant.Status)
	assert.NotEmpty(t, accepted.Participant.ConnectionID)
	assert.Equal(t, []string{"alice"}, usernames(accepted.Participants))

	send(t, y, protocol.JoinRequest, protocol.JoinRequestPayload{RoomID: "abc12", Username: "alice"})
	expect(t, y, protocol.UsernameExists)

	// a rejected connection may try again under another name
	accepted = join(t, y, "abc12", "bob")
	assert.Equal(t, []string{"alice", "bob"}, usernames(accepted.Participants))

	// the first thing alice hears is bob, not the rejected attempt
	msg := expect(t, x, protocol.UserJoined)
	p, err := protocol.Decode[protocol.ParticipantPayload](msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, "bob", p.Participant.Username)
	assert.Equal(t, accepted.Participant.ConnectionID, p.Participant.ConnectionID)
}

func TestJoinValidation(t *testing.T) {
	_, url := newTestHub(t)
	x := dial(t, url)

	send(t, x, protocol.JoinRequest, protocol.JoinRequestPayload{Username: "alice"})
	expect(t, x, protocol.Error)

	send(t, x, protocol.JoinRequest, protocol.JoinRequestPayload{RoomID: "abc12"})
	expect(t, x, protocol.Error)

	chatMarker(t, x, "early")
	msg := expect(t, x, protocol.Error)
	assert.Contains(t, string(msg.Payload), "join a room first")

	join(t, x, "abc12", "alice")
	send(t, x, protocol.JoinRequest, protocol.JoinRequestPayload{RoomID: "other", Username: "carol"})
	expect(t, x, protocol.Error)
}

func TestRepeatedJoinGetsUsernameExists(t *testing.T) {
	hub, url := newTestHub(t)
	x := dial(t, url)
	join(t, x, "abc12", "alice")

	send(t, x, protocol.JoinRequest, protocol.JoinRequestPayload{RoomID: "abc12", Username: "alice"})
	expect(t, x, protocol.UsernameExists)

	send(t, x, protocol.JoinRequest, protocol.JoinRequestPayload{RoomID: "abc12", Username: "alicia"})
	msg := expect(t, x, protocol.Error)
	assert.Contains(t, string(msg.Payload), "already joined a room")

	// still a member under the original name
	chatMarker(t, x, "still-here")
	expectChat(t, x, "still-here")
	assert.Equal(t, []string{"alice"}, usernames(hub.Participants("abc12")))
}

func TestJoinFallsBackToAccountName(t *testing.T) {
	_, url := newTestHub(t)
	x := dial(t, url+"?account=dora")

	accepted := join(t, x, "abc12", "")
	assert.Equal(t, "dora", accepted.Participant.Username)
}

func TestSnapshotReachesNewcomer(t *testing.T) {
	_, url := newTestHub(t)
	x := dial(t, url)
	y := dial(t, url)
	xa := join(t, x, "abc12", "alice")
	ya := join(t, y, "abc12", "bob")
	expect(t, x, protocol.UserJoined)

	snap := workspace.Default()
	send(t, x, protocol.SyncFileStructure, protocol.SyncFileStructurePayload{Snapshot: snap, ConnectionID: ya.Participant.ConnectionID})

	msg := expect(t, y, protocol.SyncFileStructure)
	assert.Equal(t, xa.Participant.ConnectionID, msg.ConnectionID)
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &fields))
	assert.NotContains(t, fields, "connectionId")

	got, err := protocol.DecodeSyncFileStructure(msg.Payload)
	require.NoError(t, err)
	want, err := snap.Digest()
	require.NoError(t, err)
	have, err := got.Snapshot.Digest()
	require.NoError(t, err)
	assert.Equal(t, want, have)
}

func TestOnlyFirstSnapshotIsForwarded(t *testing.T) {
	_, url := newTestHub(t)
	x := dial(t, url)
	y := dial(t, url)
	z := dial(t, url)
	join(t, x, "abc12", "alice")
	join(t, y, "abc12", "bob")
	expect(t, x, protocol.UserJoined)
	za := join(t, z, "abc12", "carol")
	expect(t, x, protocol.UserJoined)
	expect(t, y, protocol.UserJoined)
	target := za.Participant.ConnectionID

	first := workspace.Default()
	first.FileStructure.Name = "first"
	send(t, x, protocol.SyncFileStructure, protocol.SyncFileStructurePayload{Snapshot: first, ConnectionID: target})
	msg := expect(t, z, protocol.SyncFileStructure)
	got, err := protocol.DecodeSyncFileStructure(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, "first", got.FileStructure.Name)

	second := workspace.Default()
	second.FileStructure.Name = "second"
	send(t, y, protocol.SyncFileStructure, protocol.SyncFileStructurePayload{Snapshot: second, ConnectionID: target})
	chatMarker(t, y, "after")
	expectChat(t, z, "after")
}

func TestSnapshotFromAnotherRoomIsDropped(t *testing.T) {
	_, url := newTestHub(t)
	x := dial(t, url)
	y := dial(t, url)
	o := dial(t, url)
	join(t, x, "abc12", "alice")
	join(t, o, "other", "mallory")
	ya := join(t, y, "abc12", "bob")
	expect(t, x, protocol.UserJoined)

	send(t, o, protocol.SyncFileStructure, protocol.SyncFileStructurePayload{Snapshot: workspace.Default(), ConnectionID: ya.Participant.ConnectionID})
	chatMarker(t, o, "mine")
	expectChat(t, o, "mine")
	chatMarker(t, x, "marker")
	expectChat(t, y, "marker")
}

func TestWorkspaceOpsRelayWithoutEcho(t *testing.T) {
	_, url := newTestHub(t)
	x := dial(t, url)
	y := dial(t, url)
	xa := join(t, x, "abc12", "alice")
	join(t, y, "abc12", "bob")
	expect(t, x, protocol.UserJoined)

	op := workspace.DirectoryCreate{ParentDirID: "root", NewDirectory: workspace.NewDirectory("src")}
	msg, err := protocol.EncodeOp(op)
	require.NoError(t, err)
	sendRaw(t, x, msg.Type, string(msg.Payload))

	got := expect(t, y, protocol.DirectoryCreated)
	assert.Equal(t, xa.Participant.ConnectionID, got.ConnectionID)
	assert.JSONEq(t, string(msg.Payload), string(got.Payload))
	decoded, err := protocol.DecodeOp(got.Type, got.Payload)
	require.NoError(t, err)
	assert.Equal(t, op, decoded)

	// the sender never gets its own operation back
	chatMarker(t, y, "marker")
	expectChat(t, x, "marker")
}

func TestInvalidOpIsRejected(t *testing.T) {
	_, url := newTestHub(t)
	x := dial(t, url)
	y := dial(t, url)
	join(t, x, "abc12", "alice")
	join(t, y, "abc12", "bob")
	expect(t, x, protocol.UserJoined)

	sendRaw(t, x, protocol.FileUpdated, `{}`)
	expect(t, x, protocol.Error)

	sendRaw(t, x, protocol.Event("no-such-event"), `{}`)
	expect(t, x, protocol.Error)

	chatMarker(t, x, "marker")
	expectChat(t, y, "marker")
}

func TestDisconnectNotifiesRoom(t *testing.T) {
	hub, url := newTestHub(t)
	x := dial(t, url)
	y := dial(t, url)
	join(t, x, "abc12", "alice")
	ya := join(t, y, "abc12", "bob")
	expect(t, x, protocol.UserJoined)

	require.NoError(t, y.Close())

	msg := expect(t, x, protocol.UserDisconnected)
	p, err := protocol.Decode[protocol.ParticipantPayload](msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, ya.Participant, p.Participant)

	assert.Eventually(t, func() bool { return len(hub.Participants("abc12")) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"alice"}, usernames(hub.Participants("abc12")))
}

func TestPresenceAndTypingSignals(t *testing.T) {
	_, url := newTestHub(t)
	x := dial(t, url)
	y := dial(t, url)
	xa := join(t, x, "abc12", "alice")
	join(t, y, "abc12", "bob")
	expect(t, x, protocol.UserJoined)
	xid := xa.Participant.ConnectionID

	sendRaw(t, x, protocol.UserOffline, `{"connectionId":"spoofed"}`)
	for _, conn := range []*websocket.Conn{x, y} {
		msg := expect(t, conn, protocol.UserOffline)
		assert.JSONEq(t, `{"connectionId":"`+xid+`"}`, string(msg.Payload))
	}

	send(t, x, protocol.TypingStart, protocol.TypingStartPayload{CursorPosition: 5})
	for _, conn := range []*websocket.Conn{x, y} {
		msg := expect(t, conn, protocol.TypingStart)
		p, err := protocol.Decode[protocol.ParticipantPayload](msg.Payload)
		require.NoError(t, err)
		assert.True(t, p.Participant.Typing)
		assert.Equal(t, 5, p.Participant.CursorPosition)
		assert.Equal(t, protocol.StatusOffline, p.Participant.Status)
	}

	send(t, x, protocol.TypingPause, nil)
	for _, conn := range []*websocket.Conn{x, y} {
		msg := expect(t, conn, protocol.TypingPause)
		p, err := protocol.Decode[protocol.ParticipantPayload](msg.Payload)
		require.NoError(t, err)
		assert.False(t, p.Participant.Typing)
	}

	send(t, x, protocol.TypingStart, protocol.TypingStartPayload{CursorPosition: -1})
	expect(t, x, protocol.Error)
}

func TestDrawingSignals(t *testing.T) {
	_, url := newTestHub(t)
	x := dial(t, url)
	y := dial(t, url)
	z := dial(t, url)
	join(t, x, "abc12", "alice")
	ya := join(t, y, "abc12", "bob")
	expect(t, x, protocol.UserJoined)
	join(t, z, "abc12", "carol")
	expect(t, x, protocol.UserJoined)
	expect(t, y, protocol.UserJoined)
	yid := ya.Participant.ConnectionID

	// the request reaches the whole room, requester included
	send(t, y, protocol.RequestDrawing, nil)
	for _, conn := range []*websocket.Conn{x, y, z} {
		msg := expect(t, conn, protocol.RequestDrawing)
		assert.JSONEq(t, `{"connectionId":"`+yid+`"}`, string(msg.Payload))
	}

	sendRaw(t, x, protocol.SyncDrawing, `{"drawingData":{"shapes":[1,2]},"connectionId":"`+yid+`"}`)
	msg := expect(t, y, protocol.SyncDrawing)
	assert.JSONEq(t, `{"drawingData":{"shapes":[1,2]}}`, string(msg.Payload))

	sendRaw(t, y, protocol.DrawingUpdate, `{"snapshot":{"shapes":[3]}}`)
	for _, conn := range []*websocket.Conn{x, y, z} {
		msg := expect(t, conn, protocol.DrawingUpdate)
		assert.JSONEq(t, `{"snapshot":{"shapes":[3]}}`, string(msg.Payload))
		assert.Equal(t, yid, msg.ConnectionID)
	}

	// the answer went to y only
	chatMarker(t, x, "marker")
	expectChat(t, x, "marker")
	expectChat(t, z, "marker")
	expectChat(t, y, "marker")
}

func TestSnapshotTrackerExpires(t *testing.T) {
	tr := newSnapshotTracker(20 * time.Millisecond)

	tr.expect("c1")
	assert.True(t, tr.claim("c1"))
	assert.False(t, tr.claim("c1"))

	tr.expect("c2")
	assert.Eventually(t, func() bool { return !tr.waiting("c2") }, time.Second, 5*time.Millisecond)
	assert.False(t, tr.claim("c2"))
}
