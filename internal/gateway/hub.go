package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/text3d-worker/internal/connections"
)

const (
	pingPeriod     = 30 * time.Second
	writeWait      = 40 * time.Second
	pongWait       = 70 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Subscription is the subset of *redis.PubSub the hub uses
type Subscription interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
}

// Hub routes pub/sub messages to the sockets held by this gateway.
// Messages for one connection are written in the order they were published.
type Hub struct {
	sub     Subscription
	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub creates a hub on sub
func NewHub(sub Subscription) *Hub {
	return &Hub{sub: sub, clients: make(map[string]*client)}
}

func (h *Hub) add(ctx context.Context, c *client) error {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	return h.sub.Subscribe(ctx, connections.Channel(c.id))
}

func (h *Hub) remove(ctx context.Context, id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
	if err := h.sub.Unsubscribe(ctx, connections.Channel(id)); err != nil {
		log.Warn("failed to unsubscribe", "conn", id, "err", err)
	}
}

// Count returns the number of open sockets
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run forwards messages until ctx is done or the subscription closes
func (h *Hub) Run(ctx context.Context) {
	ch := h.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			id, ok := connections.ConnectionID(msg.Channel)
			if !ok {
				continue
			}
			if !h.deliver(id, []byte(msg.Payload)) {
				log.Debug("dropped message for closed socket", "conn", id)
			}
		}
	}
}

func (h *Hub) deliver(id string, data []byte) bool {
	h.mu.RLock()
	c := h.clients[id]
	h.mu.RUnlock()
	if c == nil {
		return false
	}
	return c.enqueue(data)
}

// client is one open socket. Only writePump writes to conn.
type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(id string, conn *websocket.Conn) *client {
	return &client{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// enqueue never blocks. A socket whose buffer is full is closed so the hub
// keeps serving the others.
func (c *client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		log.Warn("send buffer full, closing socket", "conn", c.id)
		c.close()
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("[gateway] ws write msg error: %v", err)
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[gateway] ws write ping error: %v", err)
				c.close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
