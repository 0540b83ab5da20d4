package overlay

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/metrics"
	"github.com/genricoloni/nowplaying/internal/store"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxClients  = 32
	sendBuffer  = 16
	writeWait   = 5 * time.Second
	messageType = "state"
)

// ErrTooManyClients is returned when the client limit is reached
var ErrTooManyClients = errors.New("too many overlay clients")

// Subscriber is the part of the store the hub listens to
type Subscriber interface {
	Subscribe(fn store.Listener) func()
}

// Message is pushed to every client after each store change
type Message struct {
	Type       string      `json:"type"`
	State      store.State `json:"state"`
	NowPlaying View        `json:"nowPlaying"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans store changes out to websocket clients. Views are built on the
// hub's own goroutine; changes that arrive while a view is being built are
// folded into the next one.
type Hub struct {
	logger    *zap.Logger
	store     Subscriber
	converter domain.ThumbnailConverter
	metrics   *metrics.Metrics
	notify    chan struct{}
	wg        sync.WaitGroup

	mu          sync.Mutex
	clients     map[*client]struct{}
	last        []byte
	pending     *store.State
	quit        chan struct{}
	unsubscribe func()
}

// NewHub creates a hub. Call Start to begin listening.
func NewHub(logger *zap.Logger, s Subscriber, conv domain.ThumbnailConverter, m *metrics.Metrics) *Hub {
	return &Hub{
		logger:    logger,
		store:     s,
		converter: conv,
		metrics:   m,
		notify:    make(chan struct{}, 1),
		clients:   make(map[*client]struct{}),
	}
}

// Start launches the broadcast loop and subscribes to the store
func (h *Hub) Start() {
	h.mu.Lock()
	if h.quit != nil {
		h.mu.Unlock()
		return
	}
	quit := make(chan struct{})
	h.quit = quit
	h.mu.Unlock()

	h.wg.Add(1)
	go h.run(quit)

	unsubscribe := h.store.Subscribe(h.onState)

	h.mu.Lock()
	h.unsubscribe = unsubscribe
	h.mu.Unlock()
}

// Stop unsubscribes, waits for the broadcast loop and disconnects every client
func (h *Hub) Stop() {
	h.mu.Lock()
	unsubscribe := h.unsubscribe
	h.unsubscribe = nil
	quit := h.quit
	h.quit = nil
	h.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if quit != nil {
		close(quit)
		h.wg.Wait()
	}

	h.mu.Lock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
		h.metrics.ClientDisconnected()
	}
	h.mu.Unlock()

	h.logger.Info("Overlay hub stopped")
}

// onState runs on the store's writer and must not block
func (h *Hub) onState(st store.State) {
	h.mu.Lock()
	h.pending = &st
	h.mu.Unlock()

	select {
	case h.notify <- struct{}{}:
	default:
	}
}

func (h *Hub) run(quit <-chan struct{}) {
	defer h.wg.Done()
	for {
		select {
		case <-quit:
			return
		case <-h.notify:
			h.flush()
		}
	}
}

// flush renders the latest pending state and sends it to every client
func (h *Hub) flush() {
	h.mu.Lock()
	st := h.pending
	h.pending = nil
	h.mu.Unlock()

	if st == nil {
		return
	}

	data, err := json.Marshal(Message{
		Type:       messageType,
		State:      *st,
		NowPlaying: BuildView(h.logger, h.converter, *st),
	})
	if err != nil {
		h.logger.Error("Failed to marshal overlay message", zap.Error(err))
		return
	}

	h.broadcast(data)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.last = data

	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}

	for _, c := range slow {
		h.logger.Warn("Disconnecting slow overlay client")
		c.close()
		delete(h.clients, c)
		h.metrics.ClientDisconnected()
	}
}

// add registers conn and queues the current state for it
func (h *Hub) add(conn *websocket.Conn) (*client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) >= maxClients {
		return nil, ErrTooManyClients
	}

	c := newClient(conn)
	h.clients[c] = struct{}{}
	h.metrics.ClientConnected()

	if h.last != nil {
		c.send <- h.last
	}

	h.logger.Debug("Overlay client connected", zap.Int("clients", len(h.clients)))
	return c, nil
}

// remove unregisters c and closes its connection
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	c.close()
	delete(h.clients, c)
	h.metrics.ClientDisconnected()

	h.logger.Debug("Overlay client disconnected", zap.Int("clients", len(h.clients)))
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
