package machine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/ArmLink/internal/api/websocket"
	"github.com/KevinKickass/ArmLink/internal/arm"
	"github.com/KevinKickass/ArmLink/internal/dispatcher"
	"go.uber.org/zap/zaptest"
)

type fakeArm struct {
	mu       sync.Mutex
	calls    []string
	homeErr  error
	block    chan struct{}
	statuses []dispatcher.MotorStatus
}

func (a *fakeArm) record(call string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call)
}

func (a *fakeArm) Home(ctx context.Context) error {
	a.record("home")
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return a.homeErr
}

func (a *fakeArm) Reset(ctx context.Context) error {
	a.record("reset")
	return nil
}

func (a *fakeArm) SetStatus(ctx context.Context, s dispatcher.MotorStatus) error {
	a.record("status:" + s.String())
	a.mu.Lock()
	a.statuses = append(a.statuses, s)
	a.mu.Unlock()
	return nil
}

func (a *fakeArm) MoveToPose(ctx context.Context, name string) error {
	a.record("pose:" + name)
	return nil
}

func (a *fakeArm) WaitForMotion(ctx context.Context, timeout time.Duration) (arm.MotionStatus, error) {
	return arm.MotionComplete, nil
}

type recordingHub struct {
	mu   sync.Mutex
	msgs []websocket.Message
}

func (h *recordingHub) Broadcast(msg websocket.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
}

func (h *recordingHub) states() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, m := range h.msgs {
		if d, ok := m.Data.(websocket.MachineStateData); ok {
			out = append(out, d.State)
		}
	}
	return out
}

func TestHomeThenMove(t *testing.T) {
	a := &fakeArm{}
	hub := &recordingHub{}
	c := NewController(zaptest.NewLogger(t), a, hub, time.Second)
	ctx := context.Background()

	if err := c.MoveToPose(ctx, "pick"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("move from stopped: err = %v", err)
	}

	if err := c.ExecuteCommand(ctx, CommandHome); err != nil {
		t.Fatalf("home: %v", err)
	}
	c.Wait()
	if s := c.GetStatus(); s.State != StateReady || s.MotionStatus != string(arm.MotionComplete) {
		t.Fatalf("status = %+v", s)
	}

	if err := c.MoveToPose(ctx, "pick"); err != nil {
		t.Fatalf("move: %v", err)
	}
	c.Wait()
	if s := c.GetStatus(); s.State != StateReady || s.Pose != "pick" {
		t.Fatalf("status = %+v", s)
	}

	want := []string{"homing", "ready", "moving", "ready"}
	got := hub.states()
	if len(got) != len(want) {
		t.Fatalf("broadcast states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("broadcast states = %v, want %v", got, want)
		}
	}
}

func TestHomeFailureEntersError(t *testing.T) {
	a := &fakeArm{homeErr: errors.New("transport timeout")}
	hub := &recordingHub{}
	c := NewController(zaptest.NewLogger(t), a, hub, time.Second)

	if err := c.ExecuteCommand(context.Background(), CommandHome); err != nil {
		t.Fatalf("home: %v", err)
	}
	c.Wait()

	s := c.GetStatus()
	if s.State != StateError || s.ErrorMessage != "transport timeout" {
		t.Fatalf("status = %+v", s)
	}

	if err := c.ExecuteCommand(context.Background(), CommandReset); err != nil {
		t.Fatalf("reset: %v", err)
	}
	c.Wait()
	if s := c.GetStatus(); s.State != StateStopped {
		t.Fatalf("after reset: %+v", s)
	}
}

func TestStopCancelsRunningOperation(t *testing.T) {
	a := &fakeArm{block: make(chan struct{})}
	c := NewController(zaptest.NewLogger(t), a, nil, time.Second)
	ctx := context.Background()

	if err := c.ExecuteCommand(ctx, CommandHome); err != nil {
		t.Fatalf("home: %v", err)
	}
	if err := c.ExecuteCommand(ctx, CommandHome); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second home: err = %v", err)
	}

	if err := c.ExecuteCommand(ctx, CommandStop); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s := c.GetStatus(); s.State != StateStopped {
		t.Fatalf("status = %+v", s)
	}
	if len(a.statuses) != 1 || a.statuses[0] != dispatcher.StatusProtection {
		t.Fatalf("statuses = %v", a.statuses)
	}

	if err := c.ExecuteCommand(ctx, CommandRelease); err != nil {
		t.Fatalf("release: %v", err)
	}
	if a.statuses[1] != dispatcher.StatusForceless {
		t.Fatalf("statuses = %v", a.statuses)
	}
}

func TestUnknownCommand(t *testing.T) {
	c := NewController(zaptest.NewLogger(t), &fakeArm{}, nil, time.Second)
	if err := c.ExecuteCommand(context.Background(), Command("dance")); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err = %v, want ErrUnknownCommand", err)
	}
}
