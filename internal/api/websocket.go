package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/lsst-camera-dev/recent-images/internal/sound"
	"github.com/lsst-camera-dev/recent-images/internal/widget"
	"go.uber.org/zap"
)

// WebSocket message types for the dashboard protocol
const (
	// Client -> Server messages
	MsgTypePing             = "ping"
	MsgTypeControlPlayClick = "control:playClick"
	MsgTypeControlPlayAlarm = "control:playAlarm"
	MsgTypeControlAlarmSecs = "control:alarmSeconds"
	MsgTypeControlSilence   = "control:silence"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeState     = "state"
	MsgTypeSound     = "sound"
	MsgTypeAck       = "ack"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

const (
	clientSendBuffer = 16
	writeWait        = 5 * time.Second
	controlTimeout   = 5 * time.Second
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WebSocket error response
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan WSMessage
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans state and sound messages out to every connected dashboard and
// applies the controls they send back.
type Hub struct {
	dashboard Dashboard
	logger    *zap.Logger
	upgrader  websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*wsClient
	closed  bool
}

// NewHub creates a hub. The dashboard is attached later with Attach since the
// widget observes the hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger.Named("websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Origin policy is applied by the CORS middleware
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		clients: make(map[string]*wsClient),
	}
}

// Attach sets the dashboard controls are applied to.
func (h *Hub) Attach(d Dashboard) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dashboard = d
}

// ClientCount returns the number of connected dashboards.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastView sends a state message to every client. It never blocks; a
// client whose buffer is full is dropped.
func (h *Hub) BroadcastView(v widget.View) {
	h.broadcast(WSMessage{Type: MsgTypeState, Payload: mustJSON(v)})
}

// SendSound implements sound.Sink.
func (h *Hub) SendSound(cmd sound.Command) {
	h.broadcast(WSMessage{Type: MsgTypeSound, Payload: mustJSON(cmd)})
}

func (h *Hub) broadcast(msg WSMessage) {
	msg.Timestamp = time.Now().UnixMilli()

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("client too slow, dropping", zap.String("client", id))
			delete(h.clients, id)
			c.close()
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		c.close()
	}
}

func (h *Hub) register(conn *websocket.Conn) (*wsClient, bool) {
	c := &wsClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan WSMessage, clientSendBuffer),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	h.clients[c.id] = c
	return c, true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		c.close()
	}
}

func (h *Hub) currentDashboard() Dashboard {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dashboard
}

// HandleWebSocket upgrades the connection and serves one dashboard client
func (h *Hub) HandleWebSocket(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	client, ok := h.register(ws)
	if !ok {
		return nil
	}
	defer h.unregister(client)

	h.logger.Info("client connected", zap.String("client", client.id), zap.String("remote", c.RealIP()))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(client)
	}()

	h.trySend(client, WSMessage{Type: MsgTypeConnected, ID: client.id, Timestamp: time.Now().UnixMilli()})
	if d := h.currentDashboard(); d != nil {
		h.trySend(client, WSMessage{Type: MsgTypeState, Payload: mustJSON(d.View()), Timestamp: time.Now().UnixMilli()})
	}

	// Main message loop
	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("connection error", zap.String("client", client.id), zap.Error(err))
			}
			break
		}
		if !h.trySend(client, h.handleMessage(c.Request().Context(), msg)) {
			break
		}
	}

	h.unregister(client)
	<-writerDone
	h.logger.Info("client disconnected", zap.String("client", client.id))
	return nil
}

func (h *Hub) trySend(c *wsClient, msg WSMessage) (sent bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c.id]; !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (h *Hub) writePump(c *wsClient) {
	for msg := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			break
		}
		if err := c.conn.WriteJSON(msg); err != nil {
			h.logger.Debug("failed to send message", zap.String("client", c.id), zap.Error(err))
			break
		}
	}
	// Unblock the reader when the hub drops this client
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	_ = c.conn.Close()
	for range c.send {
	}
}

// handleMessage applies one client message and returns the reply
func (h *Hub) handleMessage(ctx context.Context, msg WSMessage) WSMessage {
	now := time.Now().UnixMilli()
	if msg.Type == MsgTypePing {
		return WSMessage{Type: MsgTypePong, ID: msg.ID, Timestamp: now}
	}

	d := h.currentDashboard()
	if d == nil {
		return wsError(msg.ID, "dashboard not ready", "UNAVAILABLE")
	}

	ctx, cancel := context.WithTimeout(ctx, controlTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case MsgTypeControlPlayClick, MsgTypeControlPlayAlarm:
		var p toggleRequest
		if json.Unmarshal(msg.Payload, &p) != nil || p.Enabled == nil {
			return wsError(msg.ID, "enabled is required", "INVALID_PAYLOAD")
		}
		if msg.Type == MsgTypeControlPlayClick {
			_, err = d.SetPlayClick(ctx, *p.Enabled)
		} else {
			_, err = d.SetPlayAlarm(ctx, *p.Enabled)
		}
	case MsgTypeControlAlarmSecs:
		var p alarmSecondsRequest
		if json.Unmarshal(msg.Payload, &p) != nil || p.Seconds == nil {
			return wsError(msg.ID, "seconds is required", "INVALID_PAYLOAD")
		}
		if *p.Seconds < 0 {
			return wsError(msg.ID, "seconds must not be negative", "VALIDATION_ERROR")
		}
		_, err = d.SetAlarmSeconds(ctx, *p.Seconds)
	case MsgTypeControlSilence:
		_, err = d.Silence(ctx)
	default:
		return wsError(msg.ID, "Unknown message type: "+msg.Type, "INVALID_TYPE")
	}

	if err != nil {
		apiErr := commandError(err)
		return wsError(msg.ID, apiErr.Message, apiErr.Code)
	}
	return WSMessage{Type: MsgTypeAck, ID: msg.ID, Timestamp: now}
}

func wsError(id, message, code string) WSMessage {
	return WSMessage{
		Type:      MsgTypeError,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
		Payload:   mustJSON(WSErrorResponse{Message: message, Code: code}),
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
