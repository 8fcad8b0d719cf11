package rest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/ArmLink/internal/api/websocket"
	"github.com/KevinKickass/ArmLink/internal/arm"
	"github.com/KevinKickass/ArmLink/internal/config"
	"github.com/KevinKickass/ArmLink/internal/dispatcher"
	"github.com/KevinKickass/ArmLink/internal/frame"
	"github.com/KevinKickass/ArmLink/internal/interfaces"
	"github.com/KevinKickass/ArmLink/internal/machine"
	"github.com/KevinKickass/ArmLink/internal/registers"
	"github.com/KevinKickass/ArmLink/internal/transport"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// fakeDevice is a serial-style transport over a register image. Target
// angle writes reach the feedback registers immediately.
type fakeDevice struct {
	mu    sync.Mutex
	state transport.State
	regs  [256]byte
}

func newFakeDevice() *fakeDevice {
	d := &fakeDevice{}
	d.regs[registers.DeviceType] = 7
	d.regs[registers.FirmwareVersion] = 12
	for j := 0; j < registers.JointCount; j++ {
		d.regs[int(registers.Offsets)+j] = dispatcher.OffsetBias
	}
	return d
}

func (d *fakeDevice) Kind() transport.Protocol { return transport.ProtocolSerial }

func (d *fakeDevice) Open(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = transport.StateOpen
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = transport.StateClosed
	return nil
}

func (d *fakeDevice) State() transport.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDevice) Exchange(ctx context.Context, req frame.Frame) (frame.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != transport.StateOpen {
		return frame.Frame{}, transport.ErrDisconnected
	}
	addr, n := req.Payload[0], int(req.Payload[1])
	switch req.Type {
	case frame.TypeRead:
		payload := append([]byte{addr, byte(n)}, d.regs[addr:int(addr)+n]...)
		return frame.Frame{Type: frame.TypeRead, Payload: payload}, nil
	case frame.TypeWrite:
		data := req.Payload[2:]
		copy(d.regs[addr:], data)
		if addr >= registers.TargetAngle && addr < registers.TargetAngle+registers.JointCount {
			copy(d.regs[registers.AngleFeedback+(addr-registers.TargetAngle):], data)
		}
		return frame.Frame{Type: frame.TypeWrite, Payload: []byte{addr, byte(n)}}, nil
	}
	return frame.Frame{}, transport.ErrCorrupt
}

func (d *fakeDevice) Post(ctx context.Context, req frame.Frame) error {
	_, err := d.Exchange(ctx, req)
	return err
}

func (d *fakeDevice) NextPush(ctx context.Context) (frame.Frame, error) {
	<-ctx.Done()
	return frame.Frame{}, transport.ErrTimeout
}

func (d *fakeDevice) reg(addr uint8) byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regs[addr]
}

type stubLifecycle struct {
	cfg        *config.Config
	client     *arm.Client
	controller *machine.Controller
	shutdowns  int
}

func (l *stubLifecycle) Config() *config.Config                 { return l.cfg }
func (l *stubLifecycle) Client() *arm.Client                    { return l.client }
func (l *stubLifecycle) Poller() *arm.Poller                    { return nil }
func (l *stubLifecycle) MachineController() *machine.Controller { return l.controller }

func (l *stubLifecycle) Shutdown(ctx context.Context) error {
	l.shutdowns++
	return nil
}

func (l *stubLifecycle) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{State: "RUNNING", Protocol: string(l.client.Protocol())}
}

type testEnv struct {
	server *Server
	dev    *fakeDevice
	lm     *stubLifecycle
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	dev := newFakeDevice()
	factory := func(p transport.Params, _ *zap.Logger) (transport.Transport, error) {
		if p.Protocol == transport.ProtocolSerial {
			return dev, nil
		}
		return nil, errors.New("no device on that link")
	}

	client, err := arm.New(
		transport.Params{Protocol: transport.ProtocolSerial, Port: "/dev/ttyFAKE0"},
		arm.Options{
			Dispatch: dispatcher.Config{Timeout: 500 * time.Millisecond, CorruptRetries: 1, WriteAck: true},
			Motion:   arm.MotionConfig{PollInterval: 5 * time.Millisecond, Tolerance: 1, SettlePolls: 3},
			Factory:  factory,
		},
		logger,
	)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	hub := websocket.NewHub(zap.NewNop())
	controller := machine.NewController(logger, client, hub, time.Second)
	t.Cleanup(controller.Wait)

	lm := &stubLifecycle{cfg: cfg, client: client, controller: controller}
	return &testEnv{
		server: NewServer(cfg, lm, logger, hub),
		dev:    dev,
		lm:     lm,
	}
}
