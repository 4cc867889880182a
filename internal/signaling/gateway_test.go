package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedPresence struct {
	mu     sync.Mutex
	joined []string // "roomID/userID"
	left   []string
}

func (p *recordedPresence) PeerJoined(_ context.Context, roomID, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.joined = append(p.joined, roomID+"/"+userID)
}

func (p *recordedPresence) PeerLeft(_ context.Context, roomID, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.left = append(p.left, roomID+"/"+userID)
}

func (p *recordedPresence) snapshot() (joined, left []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.joined...), append([]string(nil), p.left...)
}

// tokenIsUser accepts any token of the form "user:<id>".
func tokenIsUser(token string) (string, error) {
	if id, ok := strings.CutPrefix(token, "user:"); ok {
		return id, nil
	}
	return "", errors.New("bad token")
}

type gatewayHarness struct {
	registry *Registry
	presence *recordedPresence
	server   *httptest.Server
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	registry := NewRegistry()
	presence := &recordedPresence{}
	gw := NewGateway(registry, presence, nil, nil, tokenIsUser, nil, Options{})

	r := gin.New()
	r.GET("/ws/meeting/:roomId", gw.ServeWs())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &gatewayHarness{registry: registry, presence: presence, server: srv}
}

func (h *gatewayHarness) dial(t *testing.T, roomID, peerID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") +
		fmt.Sprintf("/ws/meeting/%s?peer_id=%s&token=user:u-%s", roomID, peerID, peerID)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var env Envelope
	err := conn.ReadJSON(&env)
	require.Error(t, err, "unexpected envelope: %+v", env)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "timeout"))
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached: %s", msg)
}

func TestGatewayRejectsMissingParamsAndBadToken(t *testing.T) {
	h := newGatewayHarness(t)

	resp, err := http.Get(h.server.URL + "/ws/meeting/room-1") // no peer_id, no token
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(h.server.URL, "http")+"/ws/meeting/room-1?peer_id=a&token=junk", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGatewaySendsRosterOnConnect(t *testing.T) {
	h := newGatewayHarness(t)

	a := h.dial(t, "room-1", "a")
	env := readEnvelope(t, a)
	require.Equal(t, TypePeers, env.Type)
	var roster PeersPayload
	require.NoError(t, json.Unmarshal(env.Payload, &roster))
	assert.Empty(t, roster.Peers)

	b := h.dial(t, "room-1", "b")
	env = readEnvelope(t, b)
	require.Equal(t, TypePeers, env.Type)
	require.NoError(t, json.Unmarshal(env.Payload, &roster))
	assert.ElementsMatch(t, []string{"a"}, roster.Peers)

	joined, _ := h.presence.snapshot()
	assert.ElementsMatch(t, []string{"room-1/u-a", "room-1/u-b"}, joined)
}

func TestGatewayRelaysOffer(t *testing.T) {
	h := newGatewayHarness(t)
	a := h.dial(t, "room-1", "a")
	b := h.dial(t, "room-1", "b")
	readEnvelope(t, a) // rosters
	readEnvelope(t, b)

	require.NoError(t, a.WriteJSON(Envelope{
		Type:    TypeOffer,
		Sender:  "spoofed", // the server stamps the real sender
		Target:  "b",
		Payload: sdpPayload(t),
	}))

	env := readEnvelope(t, b)
	assert.Equal(t, TypeOffer, env.Type)
	assert.Equal(t, "a", env.Sender)
	assert.Equal(t, "b", env.Target)
	assert.NotZero(t, env.Timestamp)
}

func TestGatewayOfferToAbsentPeerDeliversNothing(t *testing.T) {
	h := newGatewayHarness(t)
	a := h.dial(t, "room-1", "a")
	b := h.dial(t, "room-1", "b")
	readEnvelope(t, a)
	readEnvelope(t, b)

	require.NoError(t, a.WriteJSON(Envelope{
		Type:    TypeOffer,
		Target:  "ghost",
		Payload: sdpPayload(t),
	}))
	expectSilence(t, b)
}

func TestGatewayInvalidEnvelopeNotifiesSenderOnly(t *testing.T) {
	h := newGatewayHarness(t)
	a := h.dial(t, "room-1", "a")
	b := h.dial(t, "room-1", "b")
	readEnvelope(t, a)
	readEnvelope(t, b)

	require.NoError(t, a.WriteJSON(Envelope{Type: "bogus"}))

	env := readEnvelope(t, a)
	require.Equal(t, TypeError, env.Type)
	var ep ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &ep))
	assert.Contains(t, ep.Error, "invalid envelope")
	expectSilence(t, b)
}

func TestGatewayChatBroadcast(t *testing.T) {
	h := newGatewayHarness(t)
	a := h.dial(t, "room-1", "a")
	b := h.dial(t, "room-1", "b")
	c := h.dial(t, "room-1", "c")
	readEnvelope(t, a)
	readEnvelope(t, b)
	readEnvelope(t, c)

	require.NoError(t, a.WriteJSON(Envelope{Type: TypeChat, Payload: json.RawMessage(`{"text":"hi"}`)}))

	for _, conn := range []*websocket.Conn{b, c} {
		env := readEnvelope(t, conn)
		assert.Equal(t, TypeChat, env.Type)
		assert.Equal(t, "a", env.Sender)
	}
	expectSilence(t, a)
}

func TestGatewayExplicitLeave(t *testing.T) {
	h := newGatewayHarness(t)
	a := h.dial(t, "room-1", "a")
	b := h.dial(t, "room-1", "b")
	readEnvelope(t, a)
	readEnvelope(t, b)

	require.NoError(t, a.WriteJSON(Envelope{Type: TypeLeave}))

	env := readEnvelope(t, b)
	assert.Equal(t, TypeLeave, env.Type)
	assert.Equal(t, "a", env.Sender)

	waitFor(t, func() bool {
		return len(h.registry.Peers("room-1")) == 1
	}, "room roster shrinks to b")
	assert.ElementsMatch(t, []string{"b"}, h.registry.Peers("room-1"))

	waitFor(t, func() bool {
		_, left := h.presence.snapshot()
		return len(left) == 1
	}, "presence records the departure")
	_, left := h.presence.snapshot()
	assert.Equal(t, []string{"room-1/u-a"}, left)
}

func TestGatewayTransportDropCleansUp(t *testing.T) {
	h := newGatewayHarness(t)
	a := h.dial(t, "room-1", "a")
	b := h.dial(t, "room-1", "b")
	readEnvelope(t, a)
	readEnvelope(t, b)

	require.NoError(t, a.Close()) // abrupt close, no leave envelope

	env := readEnvelope(t, b)
	assert.Equal(t, TypeLeave, env.Type)
	assert.Equal(t, "a", env.Sender)

	waitFor(t, func() bool {
		return len(h.registry.Peers("room-1")) == 1
	}, "dropped peer purged from registry")
}

func TestGatewayLastLeaveRemovesRoom(t *testing.T) {
	h := newGatewayHarness(t)
	a := h.dial(t, "room-1", "a")
	readEnvelope(t, a)

	require.NoError(t, a.WriteJSON(Envelope{Type: TypeLeave}))

	waitFor(t, func() bool {
		return h.registry.Peers("room-1") == nil
	}, "empty room unlinked")
}
