package presence

// Rooms answers room-scoped lookups from the registry. It holds no state of
// its own.
type Rooms struct {
	registry *Registry
}

func NewRooms(registry *Registry) *Rooms {
	return &Rooms{registry: registry}
}

// RoomOf returns the room a connection has joined.
func (r *Rooms) RoomOf(connID string) (string, bool) {
	p, ok := r.registry.Find(connID)
	if !ok {
		return "", false
	}
	return p.RoomID, true
}

func (r *Rooms) Members(roomID string) []Participant {
	return r.registry.ListByRoom(roomID)
}

// Targets returns the connection ids of a room, leaving out exclude.
func (r *Rooms) Targets(roomID, exclude string) []string {
	members := r.registry.ListByRoom(roomID)
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m.ConnectionID != exclude {
			out = append(out, m.ConnectionID)
		}
	}
	return out
}

// SameRoom reports whether both connections joined the same room.
func (r *Rooms) SameRoom(a, b string) bool {
	ra, ok := r.RoomOf(a)
	if !ok {
		return false
	}
	rb, ok := r.RoomOf(b)
	return ok && ra == rb
}
