// Package ws serves the subscriber update stream over a WebSocket, as an
// alternative to the SSE endpoint for clients behind proxies that buffer
// event streams.
package ws

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ducktracker/ducktracker/internal/auth"
	"github.com/ducktracker/ducktracker/internal/engine"
	"github.com/ducktracker/ducktracker/internal/metrics"
	"github.com/ducktracker/ducktracker/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Subscribers only ever send pongs and close frames.
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades subscriber connections and pumps hub updates to them.
type Handler struct {
	hub       *engine.Hub
	gate      *auth.Gate
	metrics   *metrics.Collector
	keepalive time.Duration
	logger    *zap.Logger
}

// NewHandler wires the websocket transport to the engine.
func NewHandler(hub *engine.Hub, gate *auth.Gate, collector *metrics.Collector, keepalive time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		hub:       hub,
		gate:      gate,
		metrics:   collector,
		keepalive: keepalive,
		logger:    logger,
	}
}

// Mount registers the stream route on an existing router subtree.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/stream/ws", h.handleStream)
}

type client struct {
	handler *Handler
	conn    *websocket.Conn
	sub     *engine.Subscriber
	logger  *zap.Logger
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	user, err := h.gate.ConsumeToken(token)
	if err != nil {
		h.metrics.RecordAuthFailure()
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	selected := model.ParseTagList(r.URL.Query().Get("tags"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := h.hub.Subscribe(user, selected)
	c := &client{
		handler: h,
		conn:    conn,
		sub:     sub,
		logger:  h.logger.With(zap.String("sub_id", sub.ID)),
	}

	deadline, hasDeadline := h.gate.TokenDeadline(token)

	go c.writePump(deadline, hasDeadline)
	go c.readPump()
}

// writePump owns all writes to the connection, including pings. It exits
// when the hub drops the subscriber or a write fails.
func (c *client) writePump(tokenDeadline time.Time, hasDeadline bool) {
	ticker := time.NewTicker(pingPeriod)
	keepalive := time.NewTimer(c.handler.keepalive)
	var tokenExpiry <-chan time.Time
	if hasDeadline {
		expiry := time.NewTimer(time.Until(tokenDeadline))
		defer expiry.Stop()
		tokenExpiry = expiry.C
	}
	defer func() {
		ticker.Stop()
		keepalive.Stop()
		c.handler.hub.Unsubscribe(c.sub)
		c.conn.Close()
	}()

	for {
		select {
		case <-c.sub.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-tokenExpiry:
			c.logger.Info("stream token expired")
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "token expired"))
			return

		case <-c.sub.Notify():
			for {
				update, ok := c.handler.hub.NextUpdate(c.sub)
				if !ok {
					break
				}
				if err := c.writeUpdate(update); err != nil {
					c.logger.Debug("websocket write error", zap.Error(err))
					return
				}
			}
			resetTimer(keepalive, c.handler.keepalive)

		case <-keepalive.C:
			if err := c.writeUpdate(c.handler.hub.Heartbeat(c.handler.keepalive)); err != nil {
				return
			}
			resetTimer(keepalive, c.handler.keepalive)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames and keeps the pong deadline fresh. A
// read error means the peer is gone.
func (c *client) readPump() {
	defer func() {
		c.handler.hub.Unsubscribe(c.sub)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.sub.Touch(time.Now())
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *client) writeUpdate(update model.Update) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	c.sub.Touch(time.Now())
	c.handler.metrics.RecordUpdateDelivered()
	return nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
