package arm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/ArmLink/internal/dispatcher"
	"github.com/KevinKickass/ArmLink/internal/frame"
	"github.com/KevinKickass/ArmLink/internal/registers"
	"github.com/KevinKickass/ArmLink/internal/transport"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// fakeArm is a frame transport backed by a register image. Target angle
// writes are mirrored into the angle feedback unless frozen is set.
type fakeArm struct {
	mu      sync.Mutex
	kind    transport.Protocol
	state   transport.State
	regs    [256]byte
	writes  []frame.Frame
	frozen  bool
	script  [][]byte // successive angle feedback images, the last one repeats
	openErr error
	failAt  uint8 // write address that fails with ErrDisconnected
	gate    chan struct{}
	entered chan struct{}
}

func newFakeArm(kind transport.Protocol) *fakeArm {
	a := &fakeArm{kind: kind, failAt: 0xFF}
	copy(a.regs[registers.MAC:], []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01})
	a.regs[registers.DeviceType] = 7
	a.regs[registers.FirmwareVersion] = 23
	a.regs[registers.MotorStatus] = 1
	for j := 0; j < registers.JointCount; j++ {
		a.regs[int(registers.Offsets)+j] = dispatcher.OffsetBias
	}
	return a
}

func (a *fakeArm) Kind() transport.Protocol { return a.kind }

func (a *fakeArm) Open(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.openErr != nil {
		return a.openErr
	}
	a.state = transport.StateOpen
	return nil
}

func (a *fakeArm) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = transport.StateClosed
	return nil
}

func (a *fakeArm) State() transport.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *fakeArm) Exchange(ctx context.Context, req frame.Frame) (frame.Frame, error) {
	if a.gate != nil {
		a.entered <- struct{}{}
		select {
		case <-a.gate:
		case <-ctx.Done():
			return frame.Frame{}, transport.ErrTimeout
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != transport.StateOpen {
		return frame.Frame{}, transport.ErrDisconnected
	}
	addr, n := req.Payload[0], int(req.Payload[1])
	switch req.Type {
	case frame.TypeRead:
		if addr == registers.AngleFeedback && len(a.script) > 0 {
			copy(a.regs[registers.AngleFeedback:], a.script[0])
			if len(a.script) > 1 {
				a.script = a.script[1:]
			}
		}
		payload := append([]byte{addr, byte(n)}, a.regs[addr:int(addr)+n]...)
		return frame.Frame{Type: frame.TypeRead, Payload: payload}, nil
	case frame.TypeWrite:
		if addr == a.failAt {
			return frame.Frame{}, transport.ErrDisconnected
		}
		a.writes = append(a.writes, req)
		data := req.Payload[2:]
		copy(a.regs[addr:], data)
		if !a.frozen && addr >= registers.TargetAngle && addr < registers.TargetAngle+registers.JointCount {
			copy(a.regs[registers.AngleFeedback+(addr-registers.TargetAngle):], data)
		}
		return frame.Frame{Type: frame.TypeWrite, Payload: []byte{addr, byte(n)}}, nil
	}
	return frame.Frame{}, transport.ErrCorrupt
}

func (a *fakeArm) Post(ctx context.Context, req frame.Frame) error {
	_, err := a.Exchange(ctx, req)
	return err
}

func (a *fakeArm) NextPush(ctx context.Context) (frame.Frame, error) {
	a.mu.Lock()
	payload := append([]byte{registers.AngleFeedback, registers.JointCount}, a.regs[registers.AngleFeedback:registers.AngleFeedback+registers.JointCount]...)
	a.mu.Unlock()
	return frame.Frame{Type: frame.TypeFeedback, Payload: payload}, nil
}

// written returns the acknowledged write frames in order.
func (a *fakeArm) written() []frame.Frame {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]frame.Frame(nil), a.writes...)
}

// factoryFor returns transports from a fixed table keyed by protocol.
func factoryFor(table map[transport.Protocol]transport.Transport) Factory {
	return func(p transport.Params, _ *zap.Logger) (transport.Transport, error) {
		t, ok := table[p.Protocol]
		if !ok {
			return nil, errors.New("no transport for protocol")
		}
		return t, nil
	}
}

func serialParams() transport.Params {
	return transport.Params{Protocol: transport.ProtocolSerial, Port: "/dev/ttyFAKE0"}
}

func wsParams() transport.Params {
	return transport.Params{Protocol: transport.ProtocolWebSocket, Host: "arm.local"}
}

func newTestClient(t *testing.T, table map[transport.Protocol]transport.Transport) *Client {
	t.Helper()
	c, err := New(serialParams(), Options{
		Dispatch: dispatcher.Config{Timeout: 500 * time.Millisecond, CorruptRetries: 1, WriteAck: true},
		Motion:   MotionConfig{PollInterval: 10 * time.Millisecond, Tolerance: 1, SettlePolls: 3},
		Factory:  factoryFor(table),
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return c
}
