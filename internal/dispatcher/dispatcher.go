package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/ArmLink/internal/frame"
	"github.com/KevinKickass/ArmLink/internal/transport"
	"go.uber.org/zap"
)

var ErrBusy = errors.New("command in flight")

type Config struct {
	Timeout        time.Duration
	CorruptRetries int
	WriteAck       bool
}

func DefaultConfig() Config {
	return Config{
		Timeout:        transport.DefaultTimeout,
		CorruptRetries: 1,
		WriteAck:       true,
	}
}

// Dispatcher turns logical commands into transport exchanges. Commands are
// strictly serialized through a single slot.
type Dispatcher struct {
	cfg    Config
	logger *zap.Logger
	slot   chan struct{}
	seq    atomic.Uint64

	mu        sync.RWMutex
	transport transport.Transport
}

func New(t transport.Transport, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = transport.DefaultTimeout
	}
	if cfg.CorruptRetries < 0 {
		cfg.CorruptRetries = 0
	}
	return &Dispatcher{
		cfg:       cfg,
		logger:    logger,
		slot:      make(chan struct{}, 1),
		transport: t,
	}
}

func (d *Dispatcher) Transport() transport.Transport {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.transport
}

func (d *Dispatcher) Timeout() time.Duration { return d.cfg.Timeout }

// Seq is the number of commands dispatched so far.
func (d *Dispatcher) Seq() uint64 { return d.seq.Load() }

// acquire takes the command slot. A ctx that is already done never gets
// the slot, even when it is free.
func (d *Dispatcher) acquire(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctxErr(ctx)
	}
	select {
	case d.slot <- struct{}{}:
	case <-ctx.Done():
		return ctxErr(ctx)
	}
	if ctx.Err() != nil {
		<-d.slot
		return ctxErr(ctx)
	}
	return nil
}

func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return transport.ErrTimeout
	}
	return ctx.Err()
}

func (d *Dispatcher) release() { <-d.slot }

// Rebind swaps the active transport while holding the command slot, so no
// command is in flight during the swap. fn receives the current transport
// and returns its replacement; on error the current one stays bound.
func (d *Dispatcher) Rebind(ctx context.Context, fn func(cur transport.Transport) (transport.Transport, error)) error {
	if err := d.acquire(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	defer d.release()

	next, err := fn(d.Transport())
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.transport = next
	d.mu.Unlock()
	return nil
}

// run executes one logical command under the timeout and corrupt-retry
// policy. Timeouts and disconnects are returned as-is.
func (d *Dispatcher) run(ctx context.Context, name string, fn func(ctx context.Context, t transport.Transport) error) error {
	if err := d.acquire(ctx); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	defer d.release()

	t := d.Transport()
	seq := d.seq.Add(1)
	start := time.Now()

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", name, ctxErr(ctx))
		}

		actx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		err := fn(actx, t)
		cancel()

		if err == nil {
			d.logger.Debug("Command completed",
				zap.Uint64("seq", seq),
				zap.String("command", name),
				zap.String("protocol", string(t.Kind())),
				zap.Int("attempts", attempt+1),
				zap.Duration("duration", time.Since(start)))
			return nil
		}

		if errors.Is(err, transport.ErrCorrupt) && attempt < d.cfg.CorruptRetries {
			d.logger.Warn("Corrupt response, retrying",
				zap.Uint64("seq", seq),
				zap.String("command", name),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		d.logger.Warn("Command failed",
			zap.Uint64("seq", seq),
			zap.String("command", name),
			zap.String("protocol", string(t.Kind())),
			zap.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}
}

func unsupported(t transport.Transport) error {
	return fmt.Errorf("unsupported transport %T", t)
}

// call sends msg and turns a device-reported error into *DeviceError.
func call(ctx context.Context, mt transport.MessageTransport, msg transport.Message) (transport.Response, error) {
	resp, err := mt.Call(ctx, msg)
	if err != nil {
		return resp, err
	}
	if !resp.OK() {
		return resp, &transport.DeviceError{Command: msg.Cmd(), Message: resp.Message}
	}
	return resp, nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", transport.ErrCorrupt, fmt.Sprintf(format, args...))
}

// registerReply checks that a reply carries [addr, count, data...] for
// the request and returns data.
func registerReply(f frame.Frame, want frame.Type, addr uint8, count int) ([]byte, error) {
	if f.Type != want {
		return nil, corrupt("reply type %v, want %v", f.Type, want)
	}
	p := f.Payload
	if len(p) < 2 || p[0] != addr || int(p[1]) != count || len(p) != 2+count {
		return nil, corrupt("reply payload % X does not match %d+%d", p, addr, count)
	}
	return p[2:], nil
}

func (d *Dispatcher) sendWrite(ctx context.Context, ft transport.FrameTransport, addr uint8, data []byte) error {
	payload := append([]byte{addr, byte(len(data))}, data...)
	req := frame.Frame{Type: frame.TypeWrite, Payload: payload}

	if !d.cfg.WriteAck {
		return ft.Post(ctx, req)
	}

	reply, err := ft.Exchange(ctx, req)
	if err != nil {
		return err
	}
	if reply.Type != frame.TypeWrite {
		return corrupt("ack type %v, want %v", reply.Type, frame.TypeWrite)
	}
	if len(reply.Payload) > 0 && reply.Payload[0] != addr {
		return corrupt("ack for register %d, want %d", reply.Payload[0], addr)
	}
	return nil
}

func writeMessage(addr uint8, data []byte) transport.Message {
	vals := make([]int, len(data))
	for i, b := range data {
		vals[i] = int(b)
	}
	return transport.NewMessage("write").
		With("id", int(addr)).
		With("num", len(data)).
		With("value", vals)
}
