package signaling

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession records envelopes and shutdowns; safe for concurrent use.
type fakeSession struct {
	mu       sync.Mutex
	received []Envelope
	shutdown bool
}

func (f *fakeSession) Enqueue(env Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, env)
	return true
}

func (f *fakeSession) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
}

func (f *fakeSession) envelopes() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Envelope, len(f.received))
	copy(out, f.received)
	return out
}

func (f *fakeSession) wasShutdown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shutdown
}

func TestRegistryJoinReturnsExistingPeers(t *testing.T) {
	r := NewRegistry()

	existing := r.Join("room-1", "a", &fakeSession{})
	assert.Empty(t, existing)

	existing = r.Join("room-1", "b", &fakeSession{})
	assert.ElementsMatch(t, []string{"a"}, existing)

	existing = r.Join("room-1", "c", &fakeSession{})
	assert.ElementsMatch(t, []string{"a", "b"}, existing)

	assert.ElementsMatch(t, []string{"a", "b", "c"}, r.Peers("room-1"))
}

func TestRegistryReconnectReplacesSession(t *testing.T) {
	r := NewRegistry()
	old := &fakeSession{}
	r.Join("room-1", "a", old)

	replacement := &fakeSession{}
	existing := r.Join("room-1", "a", replacement)
	assert.Empty(t, existing, "a replacing itself is not an existing peer")
	assert.True(t, old.wasShutdown())

	// The stale session's cleanup must not evict its successor.
	assert.False(t, r.Leave("room-1", "a", old))
	assert.Equal(t, replacement, r.Snapshot("room-1")["a"])

	assert.True(t, r.Leave("room-1", "a", replacement))
}

func TestRegistryLeaveRemovesEmptyRoom(t *testing.T) {
	r := NewRegistry()
	a := &fakeSession{}
	b := &fakeSession{}
	r.Join("room-1", "a", a)
	r.Join("room-1", "b", b)

	require.True(t, r.Leave("room-1", "a", a))
	assert.ElementsMatch(t, []string{"b"}, r.Peers("room-1"))

	require.True(t, r.Leave("room-1", "b", b))
	assert.Nil(t, r.Peers("room-1"))
	assert.Nil(t, r.Snapshot("room-1"))

	// Leaving twice, or from a room that is gone, is a no-op.
	assert.False(t, r.Leave("room-1", "b", b))
	assert.False(t, r.Leave("no-such-room", "x", &fakeSession{}))
}

func TestRegistryRoomsAreIndependent(t *testing.T) {
	r := NewRegistry()
	r.Join("room-1", "a", &fakeSession{})
	r.Join("room-2", "a", &fakeSession{})

	assert.ElementsMatch(t, []string{"a"}, r.Peers("room-1"))
	assert.ElementsMatch(t, []string{"a"}, r.Peers("room-2"))
}

func TestRegistryConcurrentChurn(t *testing.T) {
	r := NewRegistry()
	const workers = 32
	const rounds = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			peerID := string(rune('a' + id%26))
			roomID := []string{"room-1", "room-2"}[id%2]
			for j := 0; j < rounds; j++ {
				s := &fakeSession{}
				r.Join(roomID, peerID, s)
				r.Peers(roomID)
				r.Snapshot(roomID)
				r.Leave(roomID, peerID, s)
			}
		}(i)
	}
	wg.Wait()

	// Every worker left; both rooms must have been unlinked.
	assert.Nil(t, r.Peers("room-1"))
	assert.Nil(t, r.Peers("room-2"))
}
