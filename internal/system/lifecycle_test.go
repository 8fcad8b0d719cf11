package system

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/ArmLink/internal/config"
	"github.com/KevinKickass/ArmLink/internal/transport"
	"go.uber.org/zap"
)

// fakeLink answers every read with zeros.
type fakeLink struct {
	mu    sync.Mutex
	state transport.State
}

func (l *fakeLink) Kind() transport.Protocol { return transport.ProtocolWebSocket }

func (l *fakeLink) Open(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = transport.StateOpen
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = transport.StateClosed
	return nil
}

func (l *fakeLink) State() transport.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *fakeLink) Call(ctx context.Context, msg transport.Message) (transport.Response, error) {
	if l.State() != transport.StateOpen {
		return transport.Response{}, transport.ErrDisconnected
	}
	if msg.Cmd() == "read" {
		n, _ := msg["num"].(int)
		return transport.Response{Status: transport.StatusOK, Data: make([]int, n)}, nil
	}
	return transport.Response{Status: transport.StatusOK}, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Device.Protocol = string(transport.ProtocolWebSocket)
	cfg.Device.WebSocket.Host = "arm.local"
	cfg.Feedback.PollInterval = 10 * time.Millisecond
	cfg.Server.HTTPPort = 0
	return cfg
}

func TestLifecycleStartAndShutdown(t *testing.T) {
	link := &fakeLink{}
	factory := func(p transport.Params, _ *zap.Logger) (transport.Transport, error) {
		return link, nil
	}

	lm, err := newLifecycleManager(testConfig(t), zap.NewNop(), factory)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	statuses, unsubscribe := lm.SubscribeStatus()
	defer unsubscribe()

	if err := lm.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	st := lm.GetCurrentStatus()
	if st.State != "RUNNING" || st.LinkState != "OPEN" || st.Protocol != "websocket" || !st.Feedback {
		t.Fatalf("status = %+v", st)
	}

	deadline := time.Now().Add(2 * time.Second)
	for lm.Poller().Last().Timestamp.IsZero() {
		if time.Now().After(deadline) {
			t.Fatalf("poller never produced a joint state")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lm.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case <-lm.Done():
	default:
		t.Fatalf("done not closed")
	}
	if err := lm.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}

	st = lm.GetCurrentStatus()
	if st.State != "STOPPED" || st.LinkState != "CLOSED" || st.Feedback {
		t.Fatalf("status after shutdown = %+v", st)
	}

	want := []SystemState{StateRunning, StateStopping, StateStopped}
	for _, w := range want {
		select {
		case got := <-statuses:
			if got.State != w {
				t.Fatalf("status %s, want %s", got.State, w)
			}
		default:
			t.Fatalf("missing status %s", w)
		}
	}
}

func TestLifecycleRejectsBadPoseFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Motion.PosesFile = t.TempDir() + "/missing.yaml"
	if _, err := newLifecycleManager(cfg, zap.NewNop(), nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateTransition(t *testing.T) {
	if err := ValidateTransition(StateInitializing, StateRunning); err != nil {
		t.Fatalf("initializing -> running: %v", err)
	}
	if err := ValidateTransition(StateStopped, StateRunning); !errors.Is(err, ErrInvalidStateChange) {
		t.Fatalf("stopped -> running: %v", err)
	}
}

func TestSystemStatusJSON(t *testing.T) {
	raw, err := json.Marshal(SystemStatus{State: StateStopping, Timestamp: 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"state":"STOPPING","timestamp":1}` {
		t.Fatalf("json = %s", raw)
	}
}
