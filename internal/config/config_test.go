package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/ArmLink/internal/transport"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Device.Protocol != "serial" || cfg.Device.Serial.Baud != 115200 {
		t.Fatalf("device = %+v", cfg.Device)
	}
	if !cfg.Device.Serial.WriteAck {
		t.Fatalf("write_ack should default to true")
	}
	if cfg.Dispatch.Timeout != 5*time.Second || cfg.Dispatch.CorruptRetries != 1 {
		t.Fatalf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Device.WebSocket.PingInterval != 30*time.Second {
		t.Fatalf("ping interval = %v", cfg.Device.WebSocket.PingInterval)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	doc := `device:
  protocol: websocket
  websocket:
    host: 192.168.4.1
    port: 81
dispatch:
  timeout: 2s
  corrupt_retries: 3
motion:
  poses_file: /etc/arm/poses.yaml
server:
  http_port: 9000
`
	path := filepath.Join(t.TempDir(), "arm.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ARM_DISPATCH_CORRUPT_RETRIES", "0")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dispatch.CorruptRetries != 0 {
		t.Fatalf("env override ignored: %d", cfg.Dispatch.CorruptRetries)
	}
	if cfg.Motion.PosesFile != "/etc/arm/poses.yaml" || cfg.Server.HTTPPort != 9000 {
		t.Fatalf("cfg = %+v", cfg)
	}

	p := cfg.TransportParams()
	if p.Protocol != transport.ProtocolWebSocket || p.Timeout != 2*time.Second {
		t.Fatalf("params = %+v", p)
	}
	if got := p.WebSocketURL(); got != "ws://192.168.4.1:81/ws" {
		t.Fatalf("url = %q", got)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"protocol": "device:\n  protocol: can\n",
		"timeout":  "dispatch:\n  timeout: 0s\n",
		"port":     "server:\n  http_port: 70000\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "arm.yaml")
			if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMotionMapping(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m := cfg.MotionConfig()
	if m.PollInterval != 100*time.Millisecond || m.Tolerance != 2 || m.SettlePolls != 5 || m.StepDelay != 500*time.Millisecond {
		t.Fatalf("motion = %+v", m)
	}
	if cfg.Motion.WaitTimeout != 10*time.Second {
		t.Fatalf("wait timeout = %v", cfg.Motion.WaitTimeout)
	}
	if d := cfg.DispatchConfig(); !d.WriteAck || d.CorruptRetries != 1 {
		t.Fatalf("dispatch = %+v", d)
	}
}
