// Package realtime pushes complaint lifecycle and escalation events to
// connected dashboard clients over WebSocket. With Redis enabled, events are
// mirrored through a pub/sub channel so clients on other instances see them
// too.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
)

const redisChannel = "complaint-engine:events"

// Event is the frame pushed to connected clients.
type Event struct {
	Kind            string     `json:"kind"`
	ComplaintID     string     `json:"complaint_id"`
	ComplaintNumber string     `json:"complaint_number"`
	Status          string     `json:"status"`
	PriorityBand    string     `json:"priority_band"`
	SeverityScore   int        `json:"severity_score"`
	EscalationLevel int        `json:"escalation_level"`
	OfficerID       *string    `json:"officer_id,omitempty"`
	SLADeadline     *time.Time `json:"sla_deadline,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
	Origin          string     `json:"origin,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans events out to WebSocket clients.
type Hub struct {
	logger *slog.Logger
	redis  *redis.Client

	// instanceID tags published frames so the pub/sub mirror can drop frames
	// this instance already broadcast locally.
	instanceID string

	register   chan *client
	unregister chan *client
	broadcast  chan []byte

	clients     map[*client]bool
	clientCount atomic.Int64

	shutdown chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin enforcement belongs to the gateway in front of this service.
		return true
	},
}

// NewHub creates the hub. redisClient may be nil for single-instance
// deployments.
func NewHub(redisClient *redis.Client, logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		redis:      redisClient,
		instanceID: uuid.NewString(),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		clients:    make(map[*client]bool),
		shutdown:   make(chan struct{}),
	}
}

// Start launches the fanout loop and, when Redis is configured, the pub/sub
// mirror.
func (h *Hub) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.run(ctx)

	if h.redis != nil {
		h.wg.Add(1)
		go h.subscribeRedis(ctx)
	}

	h.logger.Info("Realtime hub started", "redis_fanout", h.redis != nil)
}

// Stop disconnects all clients and drains the loops.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.shutdown) })
	h.wg.Wait()
	h.logger.Info("Realtime hub stopped")
}

// Emit pushes a lifecycle event to connected clients. It implements the
// pipeline's emitter hook.
func (h *Hub) Emit(ctx context.Context, kind string, c *database.Complaint) {
	h.push(ctx, kind, c)
}

// EscalationRaised pushes a committed escalation to connected clients. It
// implements the escalation runner's sink hook.
func (h *Hub) EscalationRaised(ctx context.Context, c *database.Complaint, record *database.EscalationRecord, eventKind string) {
	h.push(ctx, eventKind, c)
}

func (h *Hub) push(ctx context.Context, kind string, c *database.Complaint) {
	event := Event{
		Kind:            kind,
		ComplaintID:     c.ID,
		ComplaintNumber: c.ComplaintNumber,
		Status:          string(c.Status),
		PriorityBand:    string(c.PriorityBand),
		SeverityScore:   c.SeverityScore,
		EscalationLevel: c.EscalationLevel,
		OfficerID:       c.AssignedOfficerID,
		SLADeadline:     c.SLADeadline,
		Timestamp:       time.Now().UTC(),
		Origin:          h.instanceID,
	}

	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal realtime event", "kind", kind, "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("Realtime broadcast buffer full, dropping event",
			"kind", kind, "complaint_id", c.ID)
	}

	if h.redis != nil {
		if err := h.redis.Publish(ctx, redisChannel, data).Err(); err != nil {
			h.logger.Error("Failed to publish realtime event to Redis", "error", err)
		}
	}
}

// HandleWS upgrades the request and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}

	h.register <- c

	go h.writePump(c)
	go h.readPump(c)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.clientCount.Load())
}

func (h *Hub) run(ctx context.Context) {
	defer h.wg.Done()
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.shutdown:
			return
		case c := <-h.register:
			h.clients[c] = true
			h.clientCount.Store(int64(len(h.clients)))
			h.logger.Debug("Realtime client connected", "clients", len(h.clients))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.clientCount.Store(int64(len(h.clients)))
			h.logger.Debug("Realtime client disconnected", "clients", len(h.clients))
		case data := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.clientCount.Store(int64(len(h.clients)))
		}
	}
}

func (h *Hub) closeAll() {
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
	h.clientCount.Store(0)
}

func (h *Hub) subscribeRedis(ctx context.Context) {
	defer h.wg.Done()

	pubsub := h.redis.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.shutdown:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.relay([]byte(msg.Payload))
		}
	}
}

// relay enqueues a frame received from the pub/sub mirror. Frames this
// instance published are dropped; local clients already got them from push.
func (h *Hub) relay(payload []byte) {
	if gjson.GetBytes(payload, "origin").String() == h.instanceID {
		return
	}
	select {
	case h.broadcast <- payload:
	default:
	}
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("WebSocket read error", "error", err)
			}
			return
		}
		// The feed is one-way; inbound frames only refresh the deadline.
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// NewRedisClientOrNil builds the Redis client for the hub fanout, or nil
// when the fanout is disabled.
func NewRedisClientOrNil(cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}
