// Package ws broadcasts engine events (signals, order updates, executions,
// account snapshots) to websocket clients as JSON envelopes.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ajcrowley/tradesim/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 2048

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// Channel names clients can subscribe to.
const (
	ChannelSignals    = "signals"
	ChannelOrders     = "orders"
	ChannelExecutions = "executions"
	ChannelAccount    = "account"
)

var allChannels = []string{ChannelSignals, ChannelOrders, ChannelExecutions, ChannelAccount}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventSource is the engine surface the hub consumes.
type EventSource interface {
	OnSignal(fn func(domain.Signal)) func()
	OnOrderStatus(fn func(domain.Order)) func()
	OnExecution(fn func(domain.Execution)) func()
	OnAccountUpdated(fn func(domain.AccountSnapshot)) func()
}

// envelope is the JSON frame sent to clients.
type envelope struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

// subscribeMsg is the JSON message a client sends to change its channels.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// client represents a single websocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	subs map[string]bool
}

func (c *client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[channel]
}

func (c *client) setChannels(channels []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if on {
			c.subs[ch] = true
		} else {
			delete(c.subs, ch)
		}
	}
}

// broadcastMsg carries a serialized event and its source channel.
type broadcastMsg struct {
	channel string
	data    []byte
}

// Hub manages websocket clients and fans engine events out to them.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	detach     []func()
	logger     *slog.Logger
}

// NewHub creates a hub attached to the given event source.
func NewHub(source EventSource, logger *slog.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger.With(slog.String("component", "ws")),
	}
	h.detach = []func(){
		source.OnSignal(func(s domain.Signal) { h.publish(ChannelSignals, s) }),
		source.OnOrderStatus(func(o domain.Order) { h.publish(ChannelOrders, o) }),
		source.OnExecution(func(x domain.Execution) { h.publish(ChannelExecutions, x) }),
		source.OnAccountUpdated(func(s domain.AccountSnapshot) { h.publish(ChannelAccount, s) }),
	}
	return h
}

// publish serializes an event and queues a broadcast. Events are dropped
// when the broadcast queue is full so a slow hub never stalls the engine.
func (h *Hub) publish(channel string, data any) {
	payload, err := json.Marshal(envelope{Channel: channel, Data: data})
	if err != nil {
		h.logger.Warn("marshal event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	select {
	case h.broadcast <- broadcastMsg{channel: channel, data: payload}:
	default:
		h.logger.Warn("broadcast queue full, dropping event", slog.String("channel", channel))
	}
}

// Run processes registrations and broadcasts until ctx is cancelled, then
// detaches from the engine and closes every client.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("clients", count))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("clients", count))
		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.subscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Slow consumer, drop the frame rather than block.
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) shutdown() {
	for _, fn := range h.detach {
		fn()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// HandleWS upgrades the request and starts the client pumps. New clients
// start subscribed to every channel.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(allChannels)),
	}
	c.setChannels(allChannels, true)

	h.register <- c
	go c.writePump()
	go c.readPump()
}

// readPump consumes subscription messages until the connection drops.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg subscribeMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.setChannels(msg.Channels, true)
		case "unsubscribe":
			c.setChannels(msg.Channels, false)
		}
	}
}

// writePump drains the send channel and keeps the connection alive with
// pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
