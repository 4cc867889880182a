package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// Connection states. A connection moves connecting -> joined -> closed;
// closing from any state runs the same leave cleanup exactly once.
const (
	stateConnecting = "connecting"
	stateJoined     = "joined"
	stateClosed     = "closed"
)

// Client is one live signaling connection: the RoomSession of a peer. It owns
// the websocket and pumps envelopes between the transport and the gateway.
type Client struct {
	RoomID string
	PeerID string
	UserID string

	gateway *Gateway
	conn    *websocket.Conn
	send    chan Envelope
	done    chan struct{}
	logger  *zap.Logger

	mu    sync.Mutex
	state string
	once  sync.Once
}

func newClient(g *Gateway, conn *websocket.Conn, roomID, peerID, userID string) *Client {
	return &Client{
		RoomID:  roomID,
		PeerID:  peerID,
		UserID:  userID,
		gateway: g,
		conn:    conn,
		send:    make(chan Envelope, g.sendBuffer),
		done:    make(chan struct{}),
		logger:  g.logger,
		state:   stateConnecting,
	}
}

func (c *Client) setState(s string) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the connection's lifecycle state.
func (c *Client) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Enqueue offers an envelope to the outbound queue without ever blocking the
// caller: a slow receiver must not stall the sender's loop. On overflow,
// non-critical envelopes (candidates, chat) are dropped; a critical
// offer/answer instead evicts the oldest queued non-critical envelope.
// Queued offers and answers are never discarded.
func (c *Client) Enqueue(env Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case c.send <- env:
		return true
	default:
	}
	if !env.Critical() {
		c.logger.Debug("outbound queue full, envelope dropped",
			zap.String("peer_id", c.PeerID), zap.String("type", string(env.Type)))
		return false
	}

	// The mutex keeps other producers out; the write pump only consumes, so
	// draining and refilling here cannot block or overfill.
	kept := make([]Envelope, 0, cap(c.send))
	evicted := false
drain:
	for {
		select {
		case queued := <-c.send:
			if !evicted && !queued.Critical() {
				evicted = true
				continue
			}
			kept = append(kept, queued)
		default:
			break drain
		}
	}
	for _, q := range kept {
		c.send <- q
	}
	if !evicted {
		c.logger.Warn("outbound queue full of negotiation envelopes, envelope refused",
			zap.String("peer_id", c.PeerID), zap.String("type", string(env.Type)))
		return false
	}
	c.send <- env
	return true
}

// Shutdown tears the connection down from any goroutine. The read pump exits
// on the closed socket and runs the shared leave cleanup.
func (c *Client) Shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// readPump suspends on the next inbound frame and dispatches it through the
// gateway until the envelope stream or the transport ends. Any exit, normal
// or abnormal, synthesizes the leave cleanup so a disconnect never leaks a
// registry entry.
func (c *Client) readPump(maxFrame int64) {
	defer func() {
		c.setState(stateClosed)
		c.gateway.disconnect(c)
		c.Shutdown()
	}()

	c.conn.SetReadLimit(maxFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if !c.gateway.dispatch(c, env) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Shutdown()
	}()

	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
