package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must stay below pongWait
	maxMessageSize = 8192
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ClientRequest is the only message a live client may send. An empty
// Subscribe list restores the full feed.
type ClientRequest struct {
	Subscribe []MessageType `json:"subscribe"`
}

// Client is one live feed connection.
type Client struct {
	id     uuid.UUID
	remote string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	filterMu sync.RWMutex
	filter   map[MessageType]bool
}

// wants reports whether msgType passes the client's subscription filter.
// Welcome messages always pass.
func (c *Client) wants(msgType MessageType) bool {
	if msgType == MessageTypeWelcome {
		return true
	}
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	return len(c.filter) == 0 || c.filter[msgType]
}

func (c *Client) setFilter(types []MessageType) {
	filter := make(map[MessageType]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}
	c.filterMu.Lock()
	c.filter = filter
	c.filterMu.Unlock()
}

// readPump keeps the pong deadline fresh and applies subscription
// requests until the connection drops.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req ClientRequest
		err := c.conn.ReadJSON(&req)
		switch {
		case err == nil:
			c.setFilter(req.Subscribe)
			c.logger.Debug("Live client updated subscription",
				zap.String("client_id", c.id.String()),
				zap.Any("types", req.Subscribe))
		case isJSONError(err):
			c.logger.Debug("Ignoring malformed client request",
				zap.String("client_id", c.id.String()),
				zap.Error(err))
		default:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("Live client closed unexpectedly",
					zap.String("client_id", c.id.String()),
					zap.Error(err))
			}
			return
		}
	}
}

func isJSONError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// writePump owns all writes on the connection.
func (c *Client) writePump() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, open := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("Live client write failed",
					zap.String("client_id", c.id.String()),
					zap.Error(err))
				return
			}

		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades r and attaches the connection to hub.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("Live feed upgrade rejected",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return
	}

	client := &Client{
		id:     uuid.New(),
		remote: conn.RemoteAddr().String(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
