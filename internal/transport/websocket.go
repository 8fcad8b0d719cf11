package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Write deadline when the caller context carries none
	writeWait = 10 * time.Second

	maxMessageSize = 8192
)

// WebSocketTransport sends one JSON request at a time and waits for the
// next inbound message. A reader goroutine owns the receive side and hands
// replies back over a single-slot channel.
type WebSocketTransport struct {
	url          string
	dialTimeout  time.Duration
	pingInterval time.Duration
	pingTimeout  time.Duration
	dialer       *websocket.Dialer
	logger       *zap.Logger
	debug        bool

	callMu  sync.Mutex
	waiting atomic.Bool

	mu    sync.Mutex
	conn  *websocket.Conn
	state State
	inbox chan []byte
	done  chan struct{}
}

func NewWebSocketTransport(p Params, logger *zap.Logger) *WebSocketTransport {
	p = p.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	u := p.WebSocketURL()

	return &WebSocketTransport{
		url:          u,
		dialTimeout:  p.Timeout,
		pingInterval: p.PingInterval,
		pingTimeout:  p.PingTimeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: p.Timeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		logger: logger.With(zap.String("transport", "websocket"), zap.String("url", u)),
		debug:  p.Debug,
	}
}

func (t *WebSocketTransport) Kind() Protocol { return ProtocolWebSocket }

func (t *WebSocketTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *WebSocketTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateOpen {
		return nil
	}
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	conn, _, err := t.dialer.DialContext(dialCtx, t.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPortUnavailable, t.url, err)
	}

	conn.SetReadLimit(maxMessageSize)
	if t.pingInterval > 0 {
		grace := t.pingInterval + t.pingTimeout
		conn.SetReadDeadline(time.Now().Add(grace))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(grace))
		})
	}

	t.conn = conn
	t.state = StateOpen
	t.inbox = make(chan []byte, 1)
	t.done = make(chan struct{})

	go t.readLoop(conn, t.inbox, t.done)
	if t.pingInterval > 0 {
		go t.pingLoop(conn, t.done)
	}

	t.logger.Info("WebSocket connected")
	return nil
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.state = StateClosed
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := conn.Close()

	t.logger.Info("WebSocket closed")
	return err
}

// Call sends msg and waits for the correlated reply. Only one call is
// outstanding per transport.
func (t *WebSocketTransport) Call(ctx context.Context, msg Message) (Response, error) {
	t.callMu.Lock()
	defer t.callMu.Unlock()

	t.mu.Lock()
	conn, state, inbox, done := t.conn, t.state, t.inbox, t.done
	t.mu.Unlock()

	switch state {
	case StateOpen:
	case StateFaulted:
		return Response{}, fmt.Errorf("%w: %s faulted", ErrDisconnected, t.url)
	default:
		return Response{}, fmt.Errorf("%w: %s not open", ErrDisconnected, t.url)
	}

	if ctx.Err() != nil {
		return Response{}, waitErr(ctx)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return Response{}, fmt.Errorf("encode %s: %w", msg.Cmd(), err)
	}

	// late replies to an earlier, timed-out call
	select {
	case <-inbox:
	default:
	}

	t.waiting.Store(true)
	defer t.waiting.Store(false)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	conn.SetWriteDeadline(deadline)

	if t.debug {
		t.logger.Debug("ws tx", zap.ByteString("message", raw))
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.markFaulted(conn, err)
		return Response{}, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	select {
	case data := <-inbox:
		if t.debug {
			t.logger.Debug("ws rx", zap.ByteString("message", data))
		}
		return DecodeResponse(data)
	case <-done:
		return Response{}, fmt.Errorf("%w: connection lost waiting for %s", ErrDisconnected, msg.Cmd())
	case <-ctx.Done():
		return Response{}, waitErr(ctx)
	}
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn, inbox chan<- []byte, done chan struct{}) {
	var err error
	defer func() {
		t.markFaulted(conn, err)
		close(done)
	}()

	for {
		var data []byte
		_, data, err = conn.ReadMessage()
		if err != nil {
			return
		}
		if t.pingInterval > 0 {
			conn.SetReadDeadline(time.Now().Add(t.pingInterval + t.pingTimeout))
		}

		if !t.waiting.Load() {
			t.logger.Debug("Dropping unsolicited message", zap.ByteString("message", data))
			continue
		}
		select {
		case inbox <- data:
		default:
			t.logger.Debug("Reply slot occupied, message dropped")
		}
	}
}

func (t *WebSocketTransport) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				t.logger.Debug("Ping failed", zap.Error(err))
				return
			}
		}
	}
}

// markFaulted moves an open connection to Faulted. Events from a connection
// that has since been replaced or closed are ignored.
func (t *WebSocketTransport) markFaulted(conn *websocket.Conn, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != conn || t.state != StateOpen {
		return
	}
	t.state = StateFaulted
	conn.Close()

	if websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		t.logger.Warn("WebSocket closed by device", zap.Error(cause))
		return
	}
	t.logger.Error("WebSocket link faulted", zap.Error(cause))
}
