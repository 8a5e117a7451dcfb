package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/ratelimit"

	"learnhub/realtime-service/models"
	"learnhub/realtime-service/services"
	"learnhub/realtime-service/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var (
	errConnClosed     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// wsConn adapts a websocket to services.Conn. Outbound frames are queued on
// a buffered channel drained by writePump, so Send never blocks.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, bufferSize int) *wsConn {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &wsConn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) Send(event string, payload interface{}) error {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errSendBufferFull
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func encodeEnvelope(event string, payload interface{}) ([]byte, error) {
	var data json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		data = p
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to encode %s payload", event)
		}
		data = raw
	}
	return json.Marshal(models.Envelope{Event: event, Data: data})
}

type WebSocketHandler struct {
	sessions        *services.SessionManager
	dispatcher      *services.Dispatcher
	upgrader        websocket.Upgrader
	sendBuffer      int
	eventsPerSecond int
	logger          *utils.Logger
}

func NewWebSocketHandler(sessions *services.SessionManager, dispatcher *services.Dispatcher, allowedOrigins []string, sendBuffer, eventsPerSecond int, logger *utils.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sessions:   sessions,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		sendBuffer:      sendBuffer,
		eventsPerSecond: eventsPerSecond,
		logger:          logger.With("component", "websocket"),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Handle handles GET /ws. The connection starts anonymous; clients identify
// themselves with an authenticate event.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "remote_addr", c.ClientIP(), "error", err)
		return
	}

	conn := newWSConn(ws, h.sendBuffer)
	h.sessions.Open(conn)
	h.logger.Info("WebSocket connected", "conn_id", conn.ID(), "remote_addr", c.ClientIP())

	go conn.writePump()
	h.readPump(conn)
}

func (h *WebSocketHandler) readPump(conn *wsConn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.sessions.Close(conn)
		conn.close()
		h.logger.Info("WebSocket disconnected", "conn_id", conn.ID())
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	var limiter ratelimit.Limiter
	if h.eventsPerSecond > 0 {
		limiter = ratelimit.New(h.eventsPerSecond)
	}

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Warn("WebSocket read failed", "conn_id", conn.ID(), "error", err)
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			h.logger.Debug("Dropping malformed frame", "conn_id", conn.ID())
			continue
		}

		if limiter != nil {
			limiter.Take()
		}
		h.dispatcher.Dispatch(ctx, conn, env)
	}
}
