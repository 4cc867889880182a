package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin allow-list is enforced by the CORS layer in front
	},
}

// TokenValidator checks a connection token and returns the authenticated user id.
type TokenValidator func(token string) (userID string, err error)

// PresenceRecorder receives room join/leave events so the meeting record can
// track who is actually in the session. Implementations must not block on the
// relay's account; failures are theirs to log.
type PresenceRecorder interface {
	PeerJoined(ctx context.Context, roomID, userID string)
	PeerLeft(ctx context.Context, roomID, userID string)
}

// RoomPublisher fans broadcast envelopes out to other instances.
type RoomPublisher interface {
	PublishRoomEvent(roomID string, env Envelope) error
}

// RoomSubscriber delivers envelopes published for a room, across instances.
type RoomSubscriber interface {
	SubscribeRoom(roomID string, handler func(env Envelope)) (cancel func(), err error)
}

// Options configures a Gateway.
type Options struct {
	SendBuffer   int
	MaxFrameSize int
}

// Gateway accepts signaling connections scoped to a room, validates and routes
// inbound envelopes, and relays them to the right peers via the registry.
type Gateway struct {
	registry *Registry
	presence PresenceRecorder
	pub      RoomPublisher
	sub      RoomSubscriber
	validate TokenValidator
	logger   *zap.Logger

	sendBuffer int
	maxFrame   int64

	subMu sync.Mutex
	subs  map[string]func() // roomID -> cancel cross-instance subscription
}

// NewGateway creates a signaling gateway. presence, pub and sub may be nil;
// without pub/sub all relaying stays instance-local.
func NewGateway(registry *Registry, presence PresenceRecorder, pub RoomPublisher, sub RoomSubscriber, validate TokenValidator, logger *zap.Logger, opts Options) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = 65536
	}
	return &Gateway{
		registry:   registry,
		presence:   presence,
		pub:        pub,
		sub:        sub,
		validate:   validate,
		logger:     logger,
		sendBuffer: opts.SendBuffer,
		maxFrame:   int64(opts.MaxFrameSize),
		subs:       make(map[string]func()),
	}
}

// ServeWs handles GET /ws/meeting/:roomId?peer_id=&token=: upgrades the
// connection, registers it in the room and runs the client pumps.
func (g *Gateway) ServeWs() gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		peerID := c.Query("peer_id")
		token := c.Query("token")
		if roomID == "" || peerID == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "room id, peer_id and token required"})
			return
		}
		userID, err := g.validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			g.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := newClient(g, conn, roomID, peerID, userID)
		existing := g.registry.Join(roomID, peerID, client)
		g.ensureSubscription(roomID)
		client.setState(stateJoined)

		if g.presence != nil {
			g.presence.PeerJoined(c.Request.Context(), roomID, userID)
		}

		// Hand the caller the current roster so it can start negotiation.
		payload, _ := json.Marshal(PeersPayload{Peers: existing})
		client.Enqueue(Envelope{
			Type:      TypePeers,
			Sender:    roomID,
			Target:    peerID,
			Payload:   payload,
			Timestamp: time.Now().UnixMilli(),
		})

		g.logger.Info("peer connected",
			zap.String("room_id", roomID), zap.String("peer_id", peerID), zap.Int("peers_present", len(existing)))

		go client.writePump()
		client.readPump(g.maxFrame)
	}
}

// dispatch validates and routes one inbound envelope. It returns false when
// the connection should stop reading (an explicit leave).
func (g *Gateway) dispatch(c *Client, env Envelope) bool {
	env.Sender = c.PeerID // server-authoritative; clients cannot spoof peers
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}

	if env.Type == TypeLeave {
		// The shared cleanup path broadcasts the leave and deregisters, the
		// same as a transport drop.
		return false
	}

	if err := env.Validate(); err != nil {
		g.logger.Warn("envelope rejected",
			zap.String("room_id", c.RoomID), zap.String("peer_id", c.PeerID), zap.Error(err))
		g.notifyError(c, err)
		return true
	}

	g.relay(c.RoomID, env)
	return true
}

// relay fans a validated envelope out: broadcast-class envelopes go through
// the cross-instance publisher when one is wired (the subscription callback
// performs the single local fan-out); unicast negotiation envelopes are
// always instance-local, since a peer's transport lives on one instance.
func (g *Gateway) relay(roomID string, env Envelope) {
	switch env.Type {
	case TypeJoin, TypeChat, TypeLeave:
		if g.pub != nil {
			if err := g.pub.PublishRoomEvent(roomID, env); err == nil {
				return
			}
			g.logger.Warn("room publish failed, falling back to local broadcast",
				zap.String("room_id", roomID), zap.String("type", string(env.Type)))
		}
	}
	g.deliverLocal(roomID, env)
}

// deliverLocal routes an envelope against the local room snapshot and
// enqueues the resulting deliveries.
func (g *Gateway) deliverLocal(roomID string, env Envelope) {
	sessions := g.registry.Snapshot(roomID)
	peers := make([]string, 0, len(sessions))
	for id := range sessions {
		peers = append(peers, id)
	}

	deliveries, err := Route(env, peers)
	if err != nil {
		if errors.Is(err, ErrUnknownTarget) {
			g.logger.Warn("unknown target",
				zap.String("room_id", roomID), zap.String("sender", env.Sender),
				zap.String("target", env.Target), zap.String("type", string(env.Type)))
			return
		}
		g.logger.Warn("unroutable envelope", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	for _, d := range deliveries {
		s, ok := sessions[d.PeerID]
		if !ok {
			continue // peer left between snapshot and delivery
		}
		if !s.Enqueue(d.Envelope) && d.Envelope.Critical() {
			g.logger.Warn("critical envelope lost to a dead receiver",
				zap.String("room_id", roomID), zap.String("peer_id", d.PeerID),
				zap.String("type", string(d.Envelope.Type)))
		}
	}
}

func (g *Gateway) notifyError(c *Client, err error) {
	payload, _ := json.Marshal(ErrorPayload{Error: err.Error()})
	c.Enqueue(Envelope{
		Type:      TypeError,
		Sender:    c.RoomID,
		Target:    c.PeerID,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
}

// disconnect runs the shared leave cleanup: deregister, broadcast a
// synthesized leave to the remaining peers and record the departure. Called
// exactly once per connection from the read pump's exit path.
func (g *Gateway) disconnect(c *Client) {
	removed := g.registry.Leave(c.RoomID, c.PeerID, c)
	if !removed {
		// A reconnect already replaced this session; its successor owns the
		// registry entry and the roster is unchanged.
		return
	}

	g.relay(c.RoomID, Envelope{
		Type:      TypeLeave,
		Sender:    c.PeerID,
		Target:    TargetAll,
		Timestamp: time.Now().UnixMilli(),
	})
	if g.presence != nil {
		g.presence.PeerLeft(context.Background(), c.RoomID, c.UserID)
	}
	if len(g.registry.Peers(c.RoomID)) == 0 {
		g.dropSubscription(c.RoomID)
	}
	g.logger.Info("peer disconnected", zap.String("room_id", c.RoomID), zap.String("peer_id", c.PeerID))
}

// ensureSubscription starts the cross-instance subscription for a room on its
// first local join.
func (g *Gateway) ensureSubscription(roomID string) {
	if g.sub == nil {
		return
	}
	g.subMu.Lock()
	defer g.subMu.Unlock()
	if _, ok := g.subs[roomID]; ok {
		return
	}
	cancel, err := g.sub.SubscribeRoom(roomID, func(env Envelope) {
		g.deliverLocal(roomID, env)
	})
	if err != nil {
		g.logger.Warn("room subscription failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	g.subs[roomID] = cancel
}

// dropSubscription cancels the room's subscription once its last local peer left.
func (g *Gateway) dropSubscription(roomID string) {
	g.subMu.Lock()
	cancel, ok := g.subs[roomID]
	if ok {
		delete(g.subs, roomID)
	}
	g.subMu.Unlock()
	if ok {
		cancel()
	}
}
