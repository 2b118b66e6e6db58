package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codefusion/protocol"
)

func participant(conn, room, name string) Participant {
	return Participant{ConnectionID: conn, RoomID: room, Username: name, Status: protocol.StatusOnline}
}

func TestAdmitRejectsDuplicateUsername(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Admit(participant("c1", "abc12", "alice")))

	assert.ErrorIs(t, r.Admit(participant("c2", "abc12", "alice")), ErrUsernameExists)
	// same name in another room is fine
	assert.NoError(t, r.Admit(participant("c3", "other", "alice")))
	// the same connection asking again hits the username check first
	assert.ErrorIs(t, r.Admit(participant("c1", "abc12", "alice")), ErrUsernameExists)
	assert.ErrorIs(t, r.Admit(participant("c1", "abc12", "carol")), ErrAlreadyJoined)

	assert.Len(t, r.ListByRoom("abc12"), 1)
}

func TestAdmitCountsOfflineParticipants(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Admit(participant("c1", "abc12", "alice")))
	_, err := r.SetStatus("c1", protocol.StatusOffline)
	require.NoError(t, err)

	assert.ErrorIs(t, r.Admit(participant("c2", "abc12", "alice")), ErrUsernameExists)
}

func TestConcurrentAdmitsAdmitOnlyOne(t *testing.T) {
	r := NewRegistry()
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := r.Admit(participant(fmt.Sprintf("c%d", i), "abc12", "alice")); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	assert.Len(t, r.ListByRoom("abc12"), 1)
}

func TestListByRoomKeepsJoinOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Admit(participant("c1", "abc12", "alice")))
	require.NoError(t, r.Admit(participant("c2", "abc12", "bob")))
	require.NoError(t, r.Admit(participant("c3", "abc12", "carol")))

	_, ok := r.Unregister("c2")
	require.True(t, ok)

	names := []string{}
	for _, p := range r.ListByRoom("abc12") {
		names = append(names, p.Username)
	}
	assert.Equal(t, []string{"alice", "carol"}, names)
}

func TestUnregisterTwiceIsHarmless(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Admit(participant("c1", "abc12", "alice")))

	p, ok := r.Unregister("c1")
	assert.True(t, ok)
	assert.Equal(t, "alice", p.Username)
	_, ok = r.Unregister("c1")
	assert.False(t, ok)

	assert.Empty(t, r.ListByRoom("abc12"))
	assert.Zero(t, r.Count())
	// the name is free again
	assert.NoError(t, r.Admit(participant("c2", "abc12", "alice")))
}

func TestTypingUpdates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Admit(participant("c1", "abc12", "alice")))

	p, err := r.SetTyping("c1", true, 42)
	require.NoError(t, err)
	assert.True(t, p.Typing)
	assert.Equal(t, 42, p.CursorPosition)

	p, err = r.SetTyping("c1", false, 0)
	require.NoError(t, err)
	assert.False(t, p.Typing)
	assert.Equal(t, 42, p.CursorPosition, "pausing keeps the last cursor")

	_, err = r.SetTyping("ghost", true, 1)
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestRooms(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Admit(participant("c1", "abc12", "alice")))
	require.NoError(t, r.Admit(participant("c2", "abc12", "bob")))
	require.NoError(t, r.Admit(participant("c3", "xyz", "carol")))
	rooms := NewRooms(r)

	room, ok := rooms.RoomOf("c2")
	assert.True(t, ok)
	assert.Equal(t, "abc12", room)
	assert.Equal(t, []string{"c2"}, rooms.Targets("abc12", "c1"))
	assert.Equal(t, []string{"c1", "c2"}, rooms.Targets("abc12", ""))
	assert.True(t, rooms.SameRoom("c1", "c2"))
	assert.False(t, rooms.SameRoom("c1", "c3"))
	assert.False(t, rooms.SameRoom("c1", "ghost"))
}
