package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/roomdesk/api/internal/notify"
	"go.uber.org/zap"
)

// allOrders is the subscription key for clients following every order.
const allOrders = ""

// Hub maintains the set of active clients and broadcasts order events to them.
// It implements notify.Publisher so the dispatcher can feed it like any other sink.
type Hub struct {
	// Registered clients keyed by the order they follow, allOrders for the full feed
	subs map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan notify.Event
	// done is closed once Run returns; register and unregister sends give up then
	done chan struct{}

	logger *zap.Logger

	// Mutex for thread-safe subscription access
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:       make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan notify.Event, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop and returns when ctx is cancelled,
// closing every client's send channel. Run must be called at most once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.subs[client.orderID] == nil {
				h.subs[client.orderID] = make(map[*Client]bool)
			}
			h.subs[client.orderID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case event := <-h.broadcast:
			message, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("marshal ws event", zap.String("kind", event.Kind), zap.Error(err))
				continue
			}

			h.mu.Lock()
			h.fanOut(allOrders, message)
			if event.OrderID != "" {
				h.fanOut(event.OrderID, message)
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for _, clients := range h.subs {
				for client := range clients {
					h.remove(client)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// fanOut sends message to every client following key. Slow clients whose
// buffer is full are dropped. Caller holds h.mu.
func (h *Hub) fanOut(key string, message []byte) {
	for client := range h.subs[key] {
		select {
		case client.send <- message:
		default:
			h.remove(client)
		}
	}
}

// remove unregisters client and cleans up empty subscriptions. Caller holds h.mu.
func (h *Hub) remove(client *Client) {
	clients, ok := h.subs[client.orderID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.subs, client.orderID)
	}
}

// join hands client to the running hub. It reports false once the hub has
// stopped.
func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// leave detaches client; after shutdown there is nothing left to detach from.
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues event for broadcast without blocking.
func (h *Hub) Publish(ctx context.Context, event notify.Event) error {
	select {
	case h.broadcast <- event:
		return nil
	default:
		return notify.ErrQueueFull
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.subs {
		n += len(clients)
	}
	return n
}
