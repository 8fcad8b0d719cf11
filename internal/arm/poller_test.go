package arm

import (
	"testing"
	"time"

	"github.com/KevinKickass/ArmLink/internal/transport"
	"go.uber.org/zap/zaptest"
)

func TestPollerPublishesJointStates(t *testing.T) {
	dev := newFakeArm(transport.ProtocolSerial)
	c := newTestClient(t, map[transport.Protocol]transport.Transport{transport.ProtocolSerial: dev})

	p := NewPoller(c, 10*time.Millisecond, zaptest.NewLogger(t))
	events, cancel := p.Subscribe()
	defer cancel()

	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Stop()

	select {
	case ev := <-events:
		if ev.Err != nil {
			t.Fatalf("poll error: %v", ev.Err)
		}
		if len(ev.Joints) != 7 {
			t.Fatalf("joints = %d", len(ev.Joints))
		}
	case <-time.After(time.Second):
		t.Fatalf("no event")
	}

	if p.Last().Timestamp.IsZero() {
		t.Fatalf("last event not recorded")
	}
}

func TestPollerStopIsIdempotentAndRestartable(t *testing.T) {
	dev := newFakeArm(transport.ProtocolSerial)
	c := newTestClient(t, map[transport.Protocol]transport.Transport{transport.ProtocolSerial: dev})
	p := NewPoller(c, 10*time.Millisecond, zaptest.NewLogger(t))

	p.Stop()
	if err := p.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	p.Stop()
	p.Stop()
	if p.IsRunning() {
		t.Fatalf("still running")
	}
	if err := p.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	p.Stop()
}

func TestPollerReportsErrors(t *testing.T) {
	dev := newFakeArm(transport.ProtocolSerial)
	c := newTestClient(t, map[transport.Protocol]transport.Transport{transport.ProtocolSerial: dev})
	dev.Close()

	p := NewPoller(c, 10*time.Millisecond, zaptest.NewLogger(t))
	events, cancel := p.Subscribe()
	defer cancel()
	p.Start()
	defer p.Stop()

	select {
	case ev := <-events:
		if ev.Err == nil {
			t.Fatalf("expected poll error")
		}
	case <-time.After(time.Second):
		t.Fatalf("no event")
	}
}
