// File: internal/stream/hub.go
package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/handcraft-labs/handcraft-event-listener/internal/ledger"
	"github.com/handcraft-labs/handcraft-event-listener/internal/metrics"
	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// Stream message types
const (
	MessageTypeEvent   = "event"
	MessageTypeWelcome = "welcome"
	MessageTypePing    = "ping"
	MessageTypePong    = "pong"
)

// StreamMessage is the envelope for every message pushed to subscribers
type StreamMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventMessage is the stream payload for one applied program event
type EventMessage struct {
	Event        *models.ProgramEvent      `json:"event"`
	Reward       *models.RewardTransaction `json:"reward,omitempty"`
	Subscription *models.Subscription      `json:"subscription,omitempty"`
}

// WelcomeMessage greets a freshly connected subscriber
type WelcomeMessage struct {
	Service string `json:"service"`
	Clients int    `json:"clients"`
}

// Hub fans applied events out to WebSocket subscribers. Slow clients whose
// send buffers fill up are dropped rather than allowed to stall the hub.
type Hub struct {
	logger         *logrus.Logger
	metricsManager *metrics.Manager

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan StreamMessage

	mu       sync.RWMutex
	running  bool
	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewHub creates an event stream hub
func NewHub() *Hub {
	return &Hub{
		logger:     utils.GetLogger(),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan StreamMessage, 256),
		stopChan:   make(chan struct{}),
	}
}

// SetMetricsManager attaches the metrics manager for client gauge updates
func (h *Hub) SetMetricsManager(manager *metrics.Manager) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metricsManager = manager
}

// Start launches the hub loop
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Stream hub already running", "")
	}

	h.logger.Info("Starting event stream hub")
	h.running = true

	h.wg.Add(1)
	go h.run(ctx)

	return nil
}

// Stop closes every client connection and stops the hub loop
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	h.mu.Unlock()

	h.logger.Info("Stopping event stream hub")
	h.stopOnce.Do(func() { close(h.stopChan) })
	h.wg.Wait()
	return nil
}

// IsRunning reports whether the hub loop is active
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast pushes one applied event to all subscribers. Satisfies the
// processor's broadcaster contract; never blocks the pipeline.
func (h *Hub) Broadcast(event *models.ProgramEvent, result *ledger.ApplyResult) {
	if !h.IsRunning() {
		return
	}

	payload := EventMessage{Event: event}
	if result != nil {
		payload.Reward = result.Reward
		payload.Subscription = result.Subscription
	}

	message := StreamMessage{
		Type:      MessageTypeEvent,
		Data:      payload,
		Timestamp: time.Now().UTC(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("Stream broadcast buffer full, dropping event message")
	}
}

// run owns the client set: registrations, departures, and fan-out
func (h *Hub) run(ctx context.Context) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case <-h.stopChan:
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.updateClientGauge(count)

			h.logger.WithFields(logrus.Fields{
				"remote_addr": client.remoteAddr,
				"clients":     count,
			}).Info("Stream client connected")

			client.enqueue(StreamMessage{
				Type:      MessageTypeWelcome,
				Data:      WelcomeMessage{Service: "handcraft-event-listener", Clients: count},
				Timestamp: time.Now().UTC(),
			})

		case client := <-h.unregister:
			h.dropClient(client, "disconnected")

		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

// fanOut delivers one message to every client, dropping any whose buffer
// is full
func (h *Hub) fanOut(message StreamMessage) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.enqueue(message) {
			h.dropClient(client, "send buffer full")
		}
	}
}

// dropClient removes a client from the set and closes its send channel
func (h *Hub) dropClient(client *Client, reason string) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	count := len(h.clients)
	h.mu.Unlock()

	client.closeSend()
	h.updateClientGauge(count)

	h.logger.WithFields(logrus.Fields{
		"remote_addr": client.remoteAddr,
		"clients":     count,
		"reason":      reason,
	}).Info("Stream client removed")
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.closeSend()
	}
	h.updateClientGauge(0)

	if len(clients) > 0 {
		h.logger.WithFields(logrus.Fields{
			"clients_closed": len(clients),
		}).Info("Closed all stream clients")
	}
}

func (h *Hub) updateClientGauge(count int) {
	h.mu.RLock()
	manager := h.metricsManager
	h.mu.RUnlock()
	if manager != nil {
		manager.GetPrometheusMetrics().UpdateStreamClients(count)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Subscribers authenticate at the HTTP layer; origins are not restricted
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleConnection upgrades an HTTP request to a WebSocket subscription
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	if !h.IsRunning() {
		return utils.NewAppError(utils.ErrCodeInternal, "Stream hub is not running", "")
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeConnection, "WebSocket upgrade failed", err.Error())
	}

	client := newClient(h, conn, r.RemoteAddr)

	select {
	case h.register <- client:
	case <-h.stopChan:
		conn.Close()
		return utils.NewAppError(utils.ErrCodeInternal, "Stream hub is shutting down", "")
	}

	client.start()
	return nil
}
