package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"screencopy/models"
	"screencopy/service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // 54 seconds

	// DefaultPickTimeout bounds how long a pick list waits for an answer.
	DefaultPickTimeout = 2 * time.Minute
)

var (
	ErrNoClients      = errors.New("no UI client connected")
	ErrPanelDisposed  = errors.New("panel disposed")
	errPickerTimedOut = errors.New("pick list timed out")
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 2 * 1024 * 1024, // 2MB for video frames
}

type Client struct {
	hub  *WebSocketHub
	conn *websocket.Conn
	send chan []byte
	// subscribed is guarded by hub.mu
	subscribed map[string]bool
}

// WebSocketHub is the UI bridge. It fans messages out to connected clients
// and implements service.Window on top of them.
type WebSocketHub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}
	mu         sync.RWMutex

	panels  map[string]*Panel
	pending map[string]chan int

	PickTimeout time.Duration
}

var _ service.Window = (*WebSocketHub)(nil)

func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		stopped:     make(chan struct{}),
		panels:      make(map[string]*Panel),
		pending:     make(map[string]chan int),
		PickTimeout: DefaultPickTimeout,
	}
}

// Run serves register and unregister requests until ctx is done.
func (h *WebSocketHub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Info().Int("total", total).Msg("Client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			var orphaned []*Panel
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				for panelID := range client.subscribed {
					if p, ok := h.panels[panelID]; ok && h.subscriberCountLocked(panelID) == 0 {
						orphaned = append(orphaned, p)
					}
				}
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Info().Int("total", total).Msg("Client disconnected")

			// The last viewer leaving disposes the panel.
			for _, p := range orphaned {
				log.Info().Str("panel_id", p.id).Msg("🪟 Last subscriber left, disposing panel")
				p.Dispose()
			}

		case <-ctx.Done():
			close(h.stopped)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of clients subscribed to a panel.
func (h *WebSocketHub) SubscriberCount(panelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.subscriberCountLocked(panelID)
}

func (h *WebSocketHub) subscriberCountLocked(panelID string) int {
	n := 0
	for client := range h.clients {
		if client.subscribed[panelID] {
			n++
		}
	}
	return n
}

// enqueue hands a message to a client, dropping the oldest queued message
// when the client falls behind. Callers hold h.mu.
func (c *Client) enqueue(message []byte) {
	select {
	case c.send <- message:
	default:
		// Channel full - drop oldest and try again (backpressure)
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- message:
		default:
			log.Warn().Msg("⚠️ Client channel full, skipping message")
		}
	}
}

// BroadcastToPanel sends a message to clients subscribed to a panel.
func (h *WebSocketHub) BroadcastToPanel(panelID string, message interface{}) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.subscribed[panelID] {
			client.enqueue(messageBytes)
		}
	}
}

// BroadcastToAll sends a message to all connected clients
func (h *WebSocketHub) BroadcastToAll(message interface{}) int {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal message")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.enqueue(messageBytes)
	}
	return len(h.clients)
}

func (h *WebSocketHub) ShowInformationMessage(ctx context.Context, message string) {
	log.Info().Str("message", message).Msg("ℹ️ Information message")
	h.BroadcastToAll(models.NotificationMessage{Type: models.MsgInfo, Message: message})
}

func (h *WebSocketHub) ShowErrorMessage(ctx context.Context, message string) {
	log.Warn().Str("message", message).Msg("🚨 Error message")
	h.BroadcastToAll(models.NotificationMessage{Type: models.MsgError, Message: message})
}

// ShowQuickPick broadcasts the pick list and waits for the first client to
// answer. An answer of -1, or no answer within PickTimeout, is a dismissal.
func (h *WebSocketHub) ShowQuickPick(ctx context.Context, items []models.QuickPickItem) (int, bool, error) {
	requestID := uuid.NewString()
	answer := make(chan int, 1)

	h.mu.Lock()
	h.pending[requestID] = answer
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.pending, requestID)
		h.mu.Unlock()
	}()

	sent := h.BroadcastToAll(models.QuickPickMessage{Type: models.MsgQuickPick, RequestID: requestID, Items: items})
	if sent == 0 {
		return -1, false, ErrNoClients
	}

	timeout := h.PickTimeout
	if timeout <= 0 {
		timeout = DefaultPickTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case index := <-answer:
		if index < 0 {
			return -1, false, nil
		}
		for _, item := range items {
			if item.Index == index {
				return index, true, nil
			}
		}
		log.Warn().Int("index", index).Str("request_id", requestID).Msg("⚠️ Pick answer out of range, treating as dismissed")
		return -1, false, nil
	case <-timer.C:
		log.Warn().Err(errPickerTimedOut).Str("request_id", requestID).Msg("⚠️ No answer to pick list")
		return -1, false, nil
	case <-ctx.Done():
		return -1, false, ctx.Err()
	}
}

func (h *WebSocketHub) resolvePick(requestID string, index int) {
	h.mu.RLock()
	answer, ok := h.pending[requestID]
	h.mu.RUnlock()
	if !ok {
		log.Debug().Str("request_id", requestID).Msg("Pick answer for unknown or finished request")
		return
	}
	select {
	case answer <- index:
	default:
		// Another client answered first.
	}
}

func (h *WebSocketHub) CreatePanel(ctx context.Context, title string) (service.Panel, error) {
	p := &Panel{
		id:    uuid.NewString(),
		title: title,
		hub:   h,
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	h.panels[p.id] = p
	h.mu.Unlock()

	log.Info().Str("panel_id", p.id).Str("title", title).Msg("🪟 Panel created")
	h.BroadcastToAll(models.PanelMessage{Type: models.MsgPanelCreated, PanelID: p.id, Title: title})
	return p, nil
}

// GetPanel looks up a live panel.
func (h *WebSocketHub) GetPanel(panelID string) (*Panel, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.panels[panelID]
	return p, ok
}

// DisposePanel disposes a live panel and reports whether it existed.
func (h *WebSocketHub) DisposePanel(panelID string) bool {
	p, ok := h.GetPanel(panelID)
	if !ok {
		return false
	}
	p.Dispose()
	return true
}

// Panel is a presentation surface backed by the clients subscribed to it.
type Panel struct {
	id    string
	title string
	hub   *WebSocketHub
	done  chan struct{}
	once  sync.Once
}

func (p *Panel) ID() string    { return p.id }
func (p *Panel) Title() string { return p.title }

func (p *Panel) Done() <-chan struct{} { return p.done }

func (p *Panel) PostMessage(message any) error {
	select {
	case <-p.done:
		return ErrPanelDisposed
	default:
	}
	p.hub.BroadcastToPanel(p.id, message)
	return nil
}

// Dispose closes the panel and drops its subscriptions. Safe to call more
// than once.
func (p *Panel) Dispose() {
	p.once.Do(func() {
		close(p.done)

		h := p.hub
		h.mu.Lock()
		delete(h.panels, p.id)
		h.mu.Unlock()

		h.BroadcastToAll(models.PanelMessage{Type: models.MsgPanelDisposed, PanelID: p.id})

		h.mu.Lock()
		for client := range h.clients {
			delete(client.subscribed, p.id)
		}
		h.mu.Unlock()
		log.Info().Str("panel_id", p.id).Msg("🪟 Panel disposed")
	})
}

func HandleWebSocket(hub *WebSocketHub, c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, 64),
		subscribed: make(map[string]bool),
	}

	select {
	case hub.register <- client:
	case <-hub.stopped:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump handles incoming messages from the client
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 20) // 1MB max message size
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}

		var msg models.ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Debug().Err(err).Msg("Ignoring malformed client message")
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg models.ClientMessage) {
	h := c.hub
	switch msg.Type {
	case models.MsgQuickPickResult:
		index := -1
		if msg.Index != nil {
			index = *msg.Index
		}
		h.resolvePick(msg.RequestID, index)

	case models.MsgSubscribe:
		h.mu.Lock()
		_, exists := h.panels[msg.PanelID]
		if exists {
			c.subscribed[msg.PanelID] = true
		}
		h.mu.Unlock()
		if !exists {
			log.Warn().Str("panel_id", msg.PanelID).Msg("⚠️ Subscribe to unknown panel")
			return
		}
		log.Info().Str("panel_id", msg.PanelID).Msg("Client subscribed to panel")

	case models.MsgUnsubscribe:
		h.mu.Lock()
		delete(c.subscribed, msg.PanelID)
		h.mu.Unlock()
		log.Info().Str("panel_id", msg.PanelID).Msg("Client unsubscribed from panel")

	case models.MsgDisposePanel:
		if !h.DisposePanel(msg.PanelID) {
			log.Debug().Str("panel_id", msg.PanelID).Msg("Dispose for unknown panel")
		}

	default:
		log.Debug().Str("type", msg.Type).Msg("Ignoring unknown client message")
	}
}

// writePump handles outgoing messages to the client (JSON + ping)
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
