// Package notify pushes committed balance changes to connected clients over
// websockets.
//
// A Hub keeps the open connections of every account. It implements
// wallet.Notifier, so the wallet service calls it after each commit. Delivery
// is best effort: a client that cannot keep up is disconnected rather than
// allowed to block the sender.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"quickpe/pkg/logging"
	"quickpe/pkg/money"
	"quickpe/pkg/wallet"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrClosed is returned by ServeWS after Close.
var ErrClosed = errors.New("notify: hub closed")

// Message types pushed to clients.
const (
	TypeTransferSent     = "transfer_sent"
	TypeTransferReceived = "transfer_received"
	TypeDeposit          = "deposit"
)

// Message is the JSON frame sent for one event.
type Message struct {
	Type          string       `json:"type"`
	TransactionID string       `json:"transactionId"`
	Amount        money.Amount `json:"amount"`
	Balance       money.Amount `json:"balance"`
	Counterparty  *uuid.UUID   `json:"counterparty,omitempty"`
	Description   string       `json:"description,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

// MessagesFor returns the message each party of event receives, keyed by
// account.
func MessagesFor(event wallet.Event) map[uuid.UUID]Message {
	base := Message{
		TransactionID: event.TransactionID,
		Amount:        event.Amount,
		Description:   event.Description,
		Timestamp:     event.At,
	}

	if event.Kind == wallet.KindDeposit || event.From == uuid.Nil {
		msg := base
		msg.Type = TypeDeposit
		msg.Balance = event.ToBalance
		return map[uuid.UUID]Message{event.To: msg}
	}

	from, to := event.From, event.To

	sent := base
	sent.Type = TypeTransferSent
	sent.Balance = event.FromBalance
	sent.Counterparty = &to

	received := base
	received.Type = TypeTransferReceived
	received.Balance = event.ToBalance
	received.Counterparty = &from

	return map[uuid.UUID]Message{from: sent, to: received}
}

// Config holds hub settings
type Config struct {
	// SendBuffer is the number of queued messages per connection before
	// the connection is dropped (default: 16)
	SendBuffer int

	// WriteTimeout bounds a single frame write (default: 10s)
	WriteTimeout time.Duration

	// PingInterval is how often idle connections are pinged (default: 30s)
	PingInterval time.Duration

	// AllowedOrigins restricts the Origin header. Empty allows all.
	AllowedOrigins []string
}

// DefaultConfig returns the default hub configuration
func DefaultConfig() Config {
	return Config{
		SendBuffer:   16,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Hub tracks websocket connections per account.
type Hub struct {
	config   Config
	upgrader websocket.Upgrader
	logger   *logging.Logger

	mu      sync.Mutex
	clients map[uuid.UUID]map[*client]struct{}
	closed  bool
	dropped int64
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// NewHub creates a hub.
func NewHub(config Config, opts ...Option) *Hub {
	def := DefaultConfig()
	if config.SendBuffer <= 0 {
		config.SendBuffer = def.SendBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}

	h := &Hub{
		config:  config,
		logger:  logging.Global(),
		clients: make(map[uuid.UUID]map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.Named("notify")

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request and subscribes the connection to events of
// accountID. On upgrade failure the upgrader has already written the HTTP
// error.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, accountID uuid.UUID) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return ErrClosed
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{
		hub:       h,
		conn:      conn,
		accountID: accountID,
		send:      make(chan []byte, h.config.SendBuffer),
	}
	if !h.add(c) {
		conn.Close()
		return ErrClosed
	}

	go c.writePump()
	go c.readPump()

	h.logger.Debug("client connected", zap.Stringer("account", accountID))
	return nil
}

// Notify implements wallet.Notifier.
func (h *Hub) Notify(ctx context.Context, event wallet.Event) error {
	for account, msg := range MessagesFor(event) {
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		h.broadcast(account, payload)
	}
	return nil
}

func (h *Hub) broadcast(account uuid.UUID, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients[account] {
		select {
		case c.send <- payload:
		default:
			h.dropped++
			h.removeLocked(c)
			h.logger.Warn("dropping slow client", zap.Stringer("account", account))
		}
	}
}

// Connections returns the number of open connections for an account.
func (h *Hub) Connections(account uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[account])
}

// Dropped returns how many connections were dropped for falling behind.
func (h *Hub) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close disconnects every client. Later ServeWS calls fail with ErrClosed.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for _, set := range h.clients {
		for c := range set {
			h.removeLocked(c)
		}
	}
	return nil
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	set, ok := h.clients[c.accountID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.accountID] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked closes c.send exactly once; the write pump then closes the
// connection.
func (h *Hub) removeLocked(c *client) {
	set := h.clients[c.accountID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.accountID)
	}
	close(c.send)
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	accountID uuid.UUID
	send      chan []byte
}

// readPump discards client frames and unregisters on disconnect.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.hub.config.PingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * c.hub.config.PingInterval))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.logger.Debug("websocket write failed", zap.Error(err))
				c.hub.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.remove(c)
				return
			}
		}
	}
}
