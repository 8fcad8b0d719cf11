package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/ArmLink/internal/frame"
	"go.uber.org/zap"
)

const pushBufferSize = 32

// SerialTransport exchanges frames over a serial byte stream. All I/O runs
// on the calling goroutine; mu serializes it.
type SerialTransport struct {
	name      string
	baud      int
	readSlice time.Duration
	opener    PortOpener
	logger    *zap.Logger
	debug     bool

	state atomic.Int32

	mu     sync.Mutex
	port   Port
	buf    []byte
	rx     []byte
	pushes chan frame.Frame
}

type SerialOption func(*SerialTransport)

// WithPortOpener replaces the go.bug.st/serial opener.
func WithPortOpener(o PortOpener) SerialOption {
	return func(t *SerialTransport) { t.opener = o }
}

func NewSerialTransport(p Params, logger *zap.Logger, opts ...SerialOption) *SerialTransport {
	p = p.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &SerialTransport{
		name:      p.Port,
		baud:      p.Baud,
		readSlice: p.ReadSlice,
		opener:    OpenSerialPort,
		logger:    logger.With(zap.String("transport", "serial"), zap.String("port", p.Port)),
		debug:     p.Debug,
		rx:        make([]byte, 256),
		pushes:    make(chan frame.Frame, pushBufferSize),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *SerialTransport) Kind() Protocol { return ProtocolSerial }

func (t *SerialTransport) State() State { return State(t.state.Load()) }

// Pushes delivers unsolicited feedback frames seen during exchanges. When
// the buffer is full the oldest frame is dropped.
func (t *SerialTransport) Pushes() <-chan frame.Frame { return t.pushes }

func (t *SerialTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() == StateOpen {
		return nil
	}
	if t.port != nil {
		t.port.Close()
		t.port = nil
	}

	p, err := t.opener(t.name, t.baud)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPortUnavailable, t.name, err)
	}
	if err := p.SetReadTimeout(t.readSlice); err != nil {
		p.Close()
		return fmt.Errorf("%w: %s: set read timeout: %v", ErrPortUnavailable, t.name, err)
	}

	t.port = p
	t.buf = t.buf[:0]
	t.state.Store(int32(StateOpen))

	t.logger.Info("Serial port opened", zap.Int("baud", t.baud))
	return nil
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Store(int32(StateClosed))
	if t.port == nil {
		return nil
	}

	err := t.port.Close()
	t.port = nil
	t.buf = t.buf[:0]

	t.logger.Info("Serial port closed")
	return err
}

// Exchange writes req and blocks until a solicited reply frame arrives.
// Feedback pushes read in the meantime are routed to Pushes.
func (t *SerialTransport) Exchange(ctx context.Context, req frame.Frame) (frame.Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return frame.Frame{}, err
	}
	if ctx.Err() != nil {
		return frame.Frame{}, waitErr(ctx)
	}
	if err := t.write(req); err != nil {
		return frame.Frame{}, err
	}

	for {
		f, err := t.readFrame(ctx)
		if err != nil {
			return frame.Frame{}, err
		}
		if f.Type == frame.TypeFeedback {
			t.routePush(f)
			continue
		}
		return f, nil
	}
}

// Post writes req without waiting for a reply.
func (t *SerialTransport) Post(ctx context.Context, req frame.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return waitErr(ctx)
	}
	return t.write(req)
}

// NextPush returns the newest buffered feedback frame, discarding older
// ones, or reads the port until a push arrives when none is buffered.
func (t *SerialTransport) NextPush(ctx context.Context) (frame.Frame, error) {
	if f, ok := t.latestPush(); ok {
		return f, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ready(); err != nil {
		return frame.Frame{}, err
	}

	for {
		if f, ok := t.latestPush(); ok {
			return f, nil
		}

		f, err := t.readFrame(ctx)
		if err != nil {
			return frame.Frame{}, err
		}
		if f.Type == frame.TypeFeedback {
			return f, nil
		}
		t.logger.Debug("Dropping unsolicited frame", zap.Stringer("type", f.Type))
	}
}

func (t *SerialTransport) latestPush() (frame.Frame, bool) {
	var last frame.Frame
	found := false
	for {
		select {
		case f := <-t.pushes:
			last, found = f, true
		default:
			return last, found
		}
	}
}

func (t *SerialTransport) ready() error {
	switch t.State() {
	case StateOpen:
		return nil
	case StateFaulted:
		return fmt.Errorf("%w: %s faulted", ErrDisconnected, t.name)
	default:
		return fmt.Errorf("%w: %s not open", ErrDisconnected, t.name)
	}
}

func (t *SerialTransport) write(req frame.Frame) error {
	raw, err := req.Encode()
	if err != nil {
		return err
	}

	t.discardStale()

	if t.debug {
		t.logger.Debug("serial tx", zap.String("frame", fmt.Sprintf("% X", raw)))
	}

	n, err := t.port.Write(raw)
	if err != nil {
		return t.fault(err)
	}
	if n != len(raw) {
		return t.fault(fmt.Errorf("short write %d/%d", n, len(raw)))
	}
	return nil
}

// discardStale drops leftovers of an earlier exchange, typically a reply
// that arrived after its timeout. Complete pushes survive, as does a
// partial frame that may still turn out to be one.
func (t *SerialTransport) discardStale() {
	for len(t.buf) > 0 {
		f, rest, err := frame.Extract(t.buf)
		t.buf = rest
		if errors.Is(err, frame.ErrIncomplete) {
			if len(t.buf) >= 3 && frame.Type(t.buf[2]) != frame.TypeFeedback {
				t.buf = t.buf[:0]
			}
			return
		}
		if err != nil {
			continue
		}
		if f.Type == frame.TypeFeedback {
			t.routePush(f)
			continue
		}
		t.logger.Debug("Discarding stale frame", zap.Stringer("type", f.Type))
	}
}

// readFrame assembles the next complete frame from the stream. The port read
// timeout is short so ctx is checked at least every readSlice.
func (t *SerialTransport) readFrame(ctx context.Context) (frame.Frame, error) {
	for {
		f, rest, err := frame.Extract(t.buf)
		t.buf = rest
		switch {
		case err == nil:
			if t.debug {
				t.logger.Debug("serial rx", zap.Stringer("type", f.Type), zap.String("payload", fmt.Sprintf("% X", f.Payload)))
			}
			return f, nil
		case !errors.Is(err, frame.ErrIncomplete):
			t.logger.Warn("Corrupt frame received", zap.Error(err))
			return frame.Frame{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}

		if ctx.Err() != nil {
			return frame.Frame{}, waitErr(ctx)
		}

		n, err := t.port.Read(t.rx)
		if err != nil {
			return frame.Frame{}, t.fault(err)
		}
		t.buf = append(t.buf, t.rx[:n]...)
	}
}

// routePush buffers f, evicting the oldest push when the buffer is full so
// readers always see the most recent feedback.
func (t *SerialTransport) routePush(f frame.Frame) {
	for {
		select {
		case t.pushes <- f:
			return
		default:
		}
		select {
		case <-t.pushes:
			t.logger.Debug("Feedback buffer full, oldest push dropped")
		default:
		}
	}
}

func (t *SerialTransport) fault(cause error) error {
	t.state.Store(int32(StateFaulted))
	if t.port != nil {
		t.port.Close()
		t.port = nil
	}
	t.buf = t.buf[:0]

	t.logger.Error("Serial link faulted", zap.Error(cause))
	return fmt.Errorf("%w: %s: %v", ErrDisconnected, t.name, cause)
}
