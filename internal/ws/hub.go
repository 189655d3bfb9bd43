package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/evetabi/managedwealth/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ──────────────────────────────────────────────────────────────────────────────
// Tunables
// ──────────────────────────────────────────────────────────────────────────────

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must be > pingInterval
	maxMessageSize = 512              // bytes; clients only send pongs
	sendBufferSize = 256              // messages in each client send channel
)

// TokenParser verifies a wallet token and returns the wallet address.
type TokenParser interface {
	ParseWalletToken(token string) (string, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Client
// ──────────────────────────────────────────────────────────────────────────────

// Client represents one connected WebSocket endpoint.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte // buffered outbound message queue
	wallet string      // "" = anonymous, receives broadcasts only
}

// outbound is a serialized message and its audience. An empty wallet
// addresses every client.
type outbound struct {
	wallet string
	data   []byte
}

// ──────────────────────────────────────────────────────────────────────────────
// Hub
// ──────────────────────────────────────────────────────────────────────────────

// Hub maintains the set of active clients and routes messages to the wallet
// they belong to. Run must be called in a dedicated goroutine before ServeWs
// is used. Hub implements service.Notifier.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	// channels consumed by Run()
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns

	// readers tracks live readPump goroutines.
	readers sync.WaitGroup

	tokens   TokenParser // nil = every connection is anonymous
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates a Hub ready to be started with Run().
func NewHub(tokens TokenParser, allowedOrigins []string, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 512),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		tokens:     tokens,
		logger:     logger.With("component", "ws_hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true // dev mode: allow all
				}
				origin := r.Header.Get("Origin")
				for _, o := range allowedOrigins {
					if o == "*" || o == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Run — hub event loop
// ──────────────────────────────────────────────────────────────────────────────

// Run processes registration, unregistration and outbound events
// sequentially until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if msg.wallet != "" && client.wallet != msg.wallet {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Client's buffer full — drop the message for this client.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// ConnectedCount returns the current number of connected clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ──────────────────────────────────────────────────────────────────────────────
// ServeWs — HTTP → WebSocket upgrade
// ──────────────────────────────────────────────────────────────────────────────

// ServeWs upgrades an HTTP request to a WebSocket connection. A valid wallet
// token in ?token= scopes the connection to that wallet's events; a present
// but invalid token is rejected with 401 before the upgrade.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	var wallet string
	if token := r.URL.Query().Get("token"); token != "" && h.tokens != nil {
		parsed, err := h.tokens.ParseWalletToken(token)
		if err != nil {
			http.Error(w, domain.ErrTokenInvalid.Error(), http.StatusUnauthorized)
			return
		}
		wallet = parsed
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		wallet: wallet,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	h.readers.Add(1)
	go client.writePump()
	go client.readPump()
}

// ──────────────────────────────────────────────────────────────────────────────
// Client pumps
// ──────────────────────────────────────────────────────────────────────────────

// writePump drains the client's send channel and writes messages to the
// WebSocket connection.  It also sends ping frames every pingInterval.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				// Hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only handles pongs; the protocol is server-push. When the
// connection drops the client is unregistered.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		c.hub.readers.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("unexpected close", "wallet", c.wallet, "error", err)
			}
			return
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// service.Notifier
// ──────────────────────────────────────────────────────────────────────────────

// SubscriptionCreated notifies the owning wallet.
func (h *Hub) SubscriptionCreated(sub *domain.Subscription) {
	h.sendJSON(sub.WalletAddress, SubscriptionCreatedMessage{
		Type:           MsgTypeSubscriptionCreated,
		SubscriptionID: sub.ID,
		ProductID:      sub.ProductID,
		TermID:         sub.TermID,
		Principal:      sub.Principal,
		Timestamp:      time.Now().UTC(),
	})
}

// SubscriptionStatus notifies the owning wallet of a state change.
func (h *Hub) SubscriptionStatus(wallet string, subscriptionID uuid.UUID, status domain.SubscriptionStatus) {
	h.sendJSON(wallet, SubscriptionStatusMessage{
		Type:           MsgTypeSubscriptionStatus,
		SubscriptionID: subscriptionID,
		Status:         status,
		Timestamp:      time.Now().UTC(),
	})
}

// NavUpdated notifies the owning wallet of a new snapshot.
func (h *Hub) NavUpdated(wallet string, snap *domain.NavSnapshot) {
	h.sendJSON(wallet, NavUpdatedMessage{
		Type:           MsgTypeNavUpdated,
		SubscriptionID: snap.SubscriptionID,
		Nav:            snap.Nav,
		Equity:         snap.Equity,
		Drawdown:       snap.Drawdown,
		SnapshotAt:     snap.SnapshotAt,
	})
}

// ProductStatus is broadcast to every client.
func (h *Hub) ProductStatus(productID uuid.UUID, slug string, status domain.ProductStatus) {
	h.sendJSON("", ProductStatusMessage{
		Type:      MsgTypeProductStatus,
		ProductID: productID,
		Slug:      slug,
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

// sendJSON is the common marshalling path. wallet "" broadcasts.
func (h *Hub) sendJSON(wallet string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("marshal error", "error", err)
		return
	}
	select {
	case h.broadcast <- outbound{wallet: domain.NormalizeWallet(wallet), data: data}:
	default:
		h.logger.Warn("broadcast channel full, message dropped")
	}
}
