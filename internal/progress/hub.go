package progress

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/gmb-sync/internal/logging"
)

// Hub relays progress channels from Redis to websocket clients of the same user
type Hub struct {
	redis          *redis.Client
	originPatterns []string
	writeTimeout   time.Duration

	mu      sync.RWMutex
	clients map[string]map[*websocket.Conn]struct{}

	ready     chan struct{}
	readyOnce sync.Once
}

// NewHub creates a hub. originPatterns follows websocket.AcceptOptions.
func NewHub(client *redis.Client, originPatterns []string) *Hub {
	return &Hub{
		redis:          client,
		originPatterns: originPatterns,
		writeTimeout:   5 * time.Second,
		clients:        make(map[string]map[*websocket.Conn]struct{}),
		ready:          make(chan struct{}),
	}
}

// Ready is closed once the Redis subscription is active
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Run relays messages until ctx is cancelled
func (h *Hub) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	pubsub := h.redis.PSubscribe(ctx, ChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	h.readyOnce.Do(func() { close(h.ready) })
	logger.Info("[Hub] Subscribed to progress channels")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			userID := strings.TrimPrefix(msg.Channel, ChannelPrefix)
			h.deliver(ctx, userID, []byte(msg.Payload))
		}
	}
}

// ServeHTTP upgrades the request and streams the events of ?userId= until the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		logging.WithError(err).Warn("[Hub] WebSocket upgrade failed")
		return
	}

	h.add(userID, conn)
	defer h.remove(userID, conn)

	// Client messages are ignored; reading only detects disconnects.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

// ClientCount returns the number of connections of a user
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) add(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*websocket.Conn]struct{})
	}
	h.clients[userID][conn] = struct{}{}
	logging.WithFields(map[string]interface{}{
		"userId":  userID,
		"clients": len(h.clients[userID]),
	}).Debug("[Hub] Client connected")
}

func (h *Hub) remove(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	conns := h.clients[userID]
	_, exists := conns[conn]
	if exists {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, userID)
		}
	}
	h.mu.Unlock()

	if exists {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (h *Hub) deliver(ctx context.Context, userID string, payload []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
		err := conn.Write(writeCtx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			logging.WithError(err).WithField("userId", userID).Debug("[Hub] Dropping client after failed write")
			h.remove(userID, conn)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, conns := range h.clients {
		for conn := range conns {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(h.clients, userID)
	}
}
