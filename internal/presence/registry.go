// Package presence keeps the process-wide table of participants connected
// to rooms. The table lives only in memory and is lost on restart.
package presence

import (
	"errors"
	"sync"

	"codefusion/protocol"
)

var (
	ErrUsernameExists = errors.New("presence: username already taken in room")
	ErrAlreadyJoined  = errors.New("presence: connection already joined a room")
	ErrNotJoined      = errors.New("presence: connection has not joined a room")
)

// Participant is the registry's record of one connection.
type Participant = protocol.Participant

type room struct {
	members map[string]*Participant
	order   []string // connection ids in join order
}

// Registry indexes participants by room and by connection id. All
// read-modify-write operations run under one lock; readers get copies.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	byConn map[string]string // connection id -> room id
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]*room),
		byConn: make(map[string]string),
	}
}

// Admit registers p unless a participant of the room already uses the same
// username (ErrUsernameExists) or its connection already joined a room
// (ErrAlreadyJoined), checked in that order. Offline participants still
// hold their username. The check and the insert happen under the same
// lock, so two racing joins cannot both succeed.
func (r *Registry) Admit(p Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[p.RoomID]; ok {
		for _, m := range rm.members {
			if m.Username == p.Username {
				return ErrUsernameExists
			}
		}
	}
	if _, ok := r.byConn[p.ConnectionID]; ok {
		return ErrAlreadyJoined
	}
	r.insert(p)
	return nil
}

// Register adds p without the username check, replacing any earlier
// record of the same connection.
func (r *Registry) Register(p Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(p.ConnectionID)
	r.insert(p)
}

func (r *Registry) insert(p Participant) {
	rm, ok := r.rooms[p.RoomID]
	if !ok {
		rm = &room{members: make(map[string]*Participant)}
		r.rooms[p.RoomID] = rm
	}
	rec := p
	rm.members[p.ConnectionID] = &rec
	rm.order = append(rm.order, p.ConnectionID)
	r.byConn[p.ConnectionID] = p.RoomID
}

// Unregister removes the connection and returns its last record. Removing
// an unknown connection reports false, so a double disconnect is harmless.
func (r *Registry) Unregister(connID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remove(connID)
}

func (r *Registry) remove(connID string) (Participant, bool) {
	roomID, ok := r.byConn[connID]
	if !ok {
		return Participant{}, false
	}
	delete(r.byConn, connID)
	rm := r.rooms[roomID]
	p := *rm.members[connID]
	delete(rm.members, connID)
	for i, id := range rm.order {
		if id == connID {
			rm.order = append(rm.order[:i:i], rm.order[i+1:]...)
			break
		}
	}
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
	}
	return p, true
}

func (r *Registry) Find(connID string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.byConn[connID]
	if !ok {
		return Participant{}, false
	}
	return *r.rooms[roomID].members[connID], true
}

// ListByRoom returns the participants of a room in join order.
func (r *Registry) ListByRoom(roomID string) []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return []Participant{}
	}
	out := make([]Participant, 0, len(rm.order))
	for _, id := range rm.order {
		out = append(out, *rm.members[id])
	}
	return out
}

// Update applies fn to the connection's record and returns the result.
func (r *Registry) Update(connID string, fn func(*Participant)) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomID, ok := r.byConn[connID]
	if !ok {
		return Participant{}, ErrNotJoined
	}
	p := r.rooms[roomID].members[connID]
	fn(p)
	// the keys are fixed by the index
	p.ConnectionID = connID
	p.RoomID = roomID
	return *p, nil
}

// SetStatus marks a participant online or offline.
func (r *Registry) SetStatus(connID string, status protocol.Status) (Participant, error) {
	return r.Update(connID, func(p *Participant) { p.Status = status })
}

// SetTyping records the typing flag, and the cursor when typing starts.
func (r *Registry) SetTyping(connID string, typing bool, cursor int) (Participant, error) {
	return r.Update(connID, func(p *Participant) {
		p.Typing = typing
		if typing {
			p.CursorPosition = cursor
		}
	})
}

// Count returns the number of registered participants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
