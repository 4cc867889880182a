package signaling

import "sync"

// Session is a live signaling connection registered in a room. Implemented by
// Client; tests use fakes.
type Session interface {
	// Enqueue offers an envelope to the session's outbound queue without
	// blocking. It reports whether the envelope was accepted.
	Enqueue(env Envelope) bool
	// Shutdown tears the connection down. It must be safe to call more than
	// once and from any goroutine.
	Shutdown()
}

type room struct {
	mu     sync.RWMutex
	peers  map[string]Session
	closed bool // set when the last peer left and the room was unlinked
}

// Registry is the process-local map of room id to connected signaling
// sessions. It is an injectable instance, not a package singleton; membership
// changes are serialized per room, so unrelated rooms never contend beyond the
// brief map lookup.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

// NewRegistry creates an empty room registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

func (r *Registry) room(roomID string) (*room, bool) {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	return rm, ok
}

// Join registers a session under (roomID, peerID) and returns the peer ids
// already present, so the caller can initiate negotiation with each. Joining
// again with the same peer id replaces the prior session (reconnect); the
// replaced session is shut down.
func (r *Registry) Join(roomID, peerID string, s Session) []string {
	var existing []string
	var replaced Session
	for {
		r.mu.Lock()
		rm, ok := r.rooms[roomID]
		if !ok {
			rm = &room{peers: make(map[string]Session)}
			r.rooms[roomID] = rm
		}
		r.mu.Unlock()

		rm.mu.Lock()
		if rm.closed {
			// Lost a race with the room's final leave; the map entry is gone.
			rm.mu.Unlock()
			continue
		}
		existing = existing[:0]
		for id := range rm.peers {
			if id == peerID {
				replaced = rm.peers[id]
				continue
			}
			existing = append(existing, id)
		}
		rm.peers[peerID] = s
		rm.mu.Unlock()
		break
	}
	if replaced != nil {
		// Outside the room lock: shutdown triggers the old connection's leave
		// path, which re-enters the registry.
		replaced.Shutdown()
	}
	return existing
}

// Leave deregisters the session if it is still the one registered for
// (roomID, peerID); a session replaced by a reconnect does not evict its
// successor. The room entry itself is removed once empty. Reports whether a
// removal happened.
func (r *Registry) Leave(roomID, peerID string, s Session) bool {
	rm, ok := r.room(roomID)
	if !ok {
		return false
	}
	rm.mu.Lock()
	current, present := rm.peers[peerID]
	removed := present && current == s
	if removed {
		delete(rm.peers, peerID)
	}
	empty := removed && len(rm.peers) == 0
	if empty {
		rm.closed = true
	}
	rm.mu.Unlock()

	if empty {
		r.mu.Lock()
		if r.rooms[roomID] == rm {
			delete(r.rooms, roomID)
		}
		r.mu.Unlock()
	}
	return removed
}

// Peers returns a snapshot of the peer ids in a room.
func (r *Registry) Peers(roomID string) []string {
	rm, ok := r.room(roomID)
	if !ok {
		return nil
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]string, 0, len(rm.peers))
	for id := range rm.peers {
		out = append(out, id)
	}
	return out
}

// Snapshot returns the room's sessions keyed by peer id at this instant.
func (r *Registry) Snapshot(roomID string) map[string]Session {
	rm, ok := r.room(roomID)
	if !ok {
		return nil
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make(map[string]Session, len(rm.peers))
	for id, s := range rm.peers {
		out[id] = s
	}
	return out
}
