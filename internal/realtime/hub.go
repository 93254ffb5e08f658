package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/learnsphere/backend/internal/polling"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains conference_id -> set of connections and broadcasts protocol
// events to conference and host rooms. Uses Redis pub/sub for horizontal
// scaling: local broadcast + publish to Redis for other instances.
type Hub struct {
	// conferenceID -> map[clientID]*Client
	conferences map[uuid.UUID]map[string]*Client
	subs        map[uuid.UUID]func() // cancel Redis subscription per conference
	mu          sync.RWMutex
	logger      *zap.Logger
	redis       RedisPublisher
	redisSub    RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishConferenceEvent(conferenceID uuid.UUID, scope, event string, payload []byte) error
}

// RedisSubscriber subscribes to conference channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeConference(conferenceID uuid.UUID, handler func(scope, event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	return &Hub{
		conferences: make(map[uuid.UUID]map[string]*Client),
		subs:        make(map[uuid.UUID]func()),
		logger:      logger,
		redis:       redisPub,
		redisSub:    redisSub,
	}
}

// Join adds a client to a conference room with the given protocol role.
// Starts the Redis subscription for this conference if first client.
func (h *Hub) Join(c *Client, conferenceID uuid.UUID, role string) {
	h.mu.Lock()
	if h.conferences[conferenceID] == nil {
		h.conferences[conferenceID] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeConference(conferenceID, func(scope, event string, payload []byte) {
				h.deliver(conferenceID, scope, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[conferenceID] = cancel
			}
		}
	}
	h.conferences[conferenceID][c.ID] = c
	c.setRole(conferenceID, role)
	h.mu.Unlock()
	h.logger.Debug("client joined conference",
		zap.String("client_id", c.ID),
		zap.String("conference_id", conferenceID.String()),
		zap.String("role", role),
	)
}

// Leave removes a client from a conference room. Cancels the Redis
// subscription when the last client leaves.
func (h *Hub) Leave(c *Client, conferenceID uuid.UUID) {
	h.mu.Lock()
	if m, ok := h.conferences[conferenceID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.conferences, conferenceID)
			if cancel, ok := h.subs[conferenceID]; ok {
				cancel()
				delete(h.subs, conferenceID)
			}
		}
	}
	c.clearRole(conferenceID)
	h.mu.Unlock()
	h.logger.Debug("client left conference", zap.String("client_id", c.ID), zap.String("conference_id", conferenceID.String()))
}

// RemoveClient removes a client from every room it joined. Called on disconnect.
func (h *Hub) RemoveClient(c *Client) {
	for _, conferenceID := range c.joinedConferences() {
		h.Leave(c, conferenceID)
	}
}

// ToConference sends an event to all clients in a conference room, locally
// and via Redis for other instances.
func (h *Hub) ToConference(conferenceID uuid.UUID, event string, payload interface{}) {
	h.broadcast(conferenceID, scopeConference, event, payload)
}

// ToHost sends an event to the conference's host connections only.
func (h *Hub) ToHost(conferenceID uuid.UUID, event string, payload interface{}) {
	h.broadcast(conferenceID, scopeHost, event, payload)
}

func (h *Hub) broadcast(conferenceID uuid.UUID, scope, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.deliver(conferenceID, scope, event, json.RawMessage(data))
	if h.redis != nil {
		_ = h.redis.PublishConferenceEvent(conferenceID, scope, event, data)
	}
}

// deliver sends to local room members matching scope.
func (h *Hub) deliver(conferenceID uuid.UUID, scope, event string, data json.RawMessage) {
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.conferences[conferenceID]))
	for _, c := range h.conferences[conferenceID] {
		if scope == scopeHost && c.roleIn(conferenceID) != polling.RoleHost {
			continue
		}
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// RoomSize returns the number of connected clients in a conference room
// on this instance.
func (h *Hub) RoomSize(conferenceID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conferences[conferenceID])
}
