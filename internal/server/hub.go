package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/mediaconv/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	clientBacklog  = 256
	maxClientFrame = 4096
)

// WebSocketMessage is the frame sent to event stream clients
type WebSocketMessage struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// EventHub fans bus events out to websocket clients. A client that cannot
// keep up is disconnected rather than slowing the bus down.
type EventHub struct {
	upgrader websocket.Upgrader
	logger   hclog.Logger

	mu      sync.RWMutex
	clients map[string]*wsClient
}

type wsClient struct {
	id    string
	conn  *websocket.Conn
	send  chan WebSocketMessage
	types map[string]struct{} // empty means every type
	done  chan struct{}
	once  sync.Once
}

func (c *wsClient) wants(eventType string) bool {
	if len(c.types) == 0 {
		return true
	}
	_, ok := c.types[eventType]
	return ok
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

// NewEventHub creates an empty hub
func NewEventHub(logger hclog.Logger) *EventHub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &EventHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger.Named("event-hub"),
		clients: make(map[string]*wsClient),
	}
}

// Attach subscribes the hub to every event on bus
func (h *EventHub) Attach(ctx context.Context, bus events.EventBus) (*events.Subscription, error) {
	return bus.Subscribe(ctx, events.EventFilter{}, func(event events.Event) error {
		h.Broadcast(event)
		return nil
	})
}

// Broadcast queues event for every interested client
func (h *EventHub) Broadcast(event events.Event) {
	msg := WebSocketMessage{
		ID:        event.ID,
		Type:      string(event.Type),
		Source:    event.Source,
		Data:      event.Data,
		Timestamp: event.Timestamp.UnixMilli(),
	}

	var slow []*wsClient
	h.mu.RLock()
	for _, client := range h.clients {
		if !client.wants(msg.Type) {
			continue
		}
		select {
		case client.send <- msg:
		case <-client.done:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("Dropping slow websocket client", "client_id", client.id)
		h.unregister(client)
	}
}

// ServeWS upgrades the request and streams events until the client leaves.
// The optional types query parameter is a comma separated event type list.
func (h *EventHub) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		id:    "client-" + uuid.NewString(),
		conn:  conn,
		send:  make(chan WebSocketMessage, clientBacklog),
		types: parseTypes(c.Query("types")),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
	h.logger.Debug("Websocket client connected", "client_id", client.id)

	go h.writePump(client)
	h.readPump(client)
}

// ClientCount returns the number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *EventHub) Close() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[string]*wsClient)
	h.mu.Unlock()

	for _, client := range clients {
		client.close()
	}
}

func (h *EventHub) unregister(client *wsClient) {
	h.mu.Lock()
	delete(h.clients, client.id)
	h.mu.Unlock()
	client.close()
}

// readPump only handles control frames; clients are not expected to send data
func (h *EventHub) readPump(client *wsClient) {
	defer func() {
		h.unregister(client)
		h.logger.Debug("Websocket client disconnected", "client_id", client.id)
	}()

	client.conn.SetReadLimit(maxClientFrame)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on the connection
func (h *EventHub) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteJSON(msg); err != nil {
				h.unregister(client)
				return
			}

		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(client)
				return
			}

		case <-client.done:
			_ = client.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func parseTypes(raw string) map[string]struct{} {
	types := make(map[string]struct{})
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[t] = struct{}{}
		}
	}
	return types
}
