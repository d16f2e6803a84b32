package websocket

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for dev simplicity
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a single connected dashboard, scoped to one tenant
type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	TenantID string
}

type tenantMessage struct {
	tenantID string
	payload  []byte
}

// Hub maintains the set of active clients per tenant and broadcasts events to them
type Hub struct {
	clients    map[string]map[*Client]bool
	broadcast  chan tenantMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
	log        zerolog.Logger
}

// NewHub initializes a new WS Hub instance
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan tenantMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[string]map[*Client]bool),
		log:        log,
	}
}

// Run starts the core dispatch loop for WebSocket events until Stop is called
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.TenantID] == nil {
				h.clients[client.TenantID] = make(map[*Client]bool)
			}
			h.clients[client.TenantID][client] = true
			h.mu.Unlock()
			h.log.Debug().Str("tenant_id", client.TenantID).Msg("websocket client connected")
		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.log.Debug().Str("tenant_id", client.TenantID).Msg("websocket client disconnected")
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.tenantID] {
				select {
				case client.Send <- msg.payload:
				default:
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends the Run loop
func (h *Hub) Stop() {
	close(h.done)
}

// remove must be called with mu held
func (h *Hub) remove(client *Client) {
	set := h.clients[client.TenantID]
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	close(client.Send)
	if len(set) == 0 {
		delete(h.clients, client.TenantID)
	}
}

// BroadcastToTenant queues message for every client of tenantID. It never
// blocks the caller; when the queue is full the message is dropped.
func (h *Hub) BroadcastToTenant(tenantID string, message []byte) {
	select {
	case h.broadcast <- tenantMessage{tenantID: tenantID, payload: message}:
	default:
		h.log.Warn().Str("tenant_id", tenantID).Msg("websocket broadcast queue full, dropping event")
	}
}

// ClientCount returns the number of connected clients for tenantID
func (h *Hub) ClientCount(tenantID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[tenantID])
}

// writePump handles writing messages from the Hub to the WebSocket connection
func (c *Client) writePump() {
	defer func() {
		_ = c.Conn.Close()
	}()
	for message := range c.Send {
		w, err := c.Conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		_, _ = w.Write(message)

		// Fast track writing queued messages
		n := len(c.Send)
		for i := 0; i < n; i++ {
			_, _ = w.Write([]byte{'\n'})
			_, _ = w.Write(<-c.Send)
		}

		if err := w.Close(); err != nil {
			return
		}
	}
	_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		_ = c.Conn.Close()
	}()
	for {
		_, _, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Warn().Err(err).Msg("websocket read failed")
			}
			break
		}
	}
}

// ServeWs upgrades an authenticated dashboard connection. The token is passed
// as a query parameter and must carry a tenant_id claim.
func ServeWs(hub *Hub, c *gin.Context, secret []byte) {
	tokenString := c.Query("token")
	if tokenString == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		hub.log.Info().Err(err).Msg("websocket connection rejected: invalid token")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	tenantID, _ := claims["tenant_id"].(string)
	if tenantID == "" {
		hub.log.Info().Msg("websocket connection rejected: missing tenant")
		c.AbortWithStatus(http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		hub.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	client := &Client{Hub: hub, Conn: conn, Send: make(chan []byte, 256), TenantID: tenantID}
	client.Hub.register <- client

	go client.writePump()
	go client.readPump()
}
