package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/KevinKickass/ArmLink/internal/frame"
	"go.uber.org/zap"
)

type Protocol string

const (
	ProtocolSerial    Protocol = "serial"
	ProtocolWebSocket Protocol = "websocket"
)

func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(s) {
	case ProtocolSerial, ProtocolWebSocket:
		return Protocol(s), nil
	case "ws":
		return ProtocolWebSocket, nil
	}
	return "", fmt.Errorf("unknown protocol %q", s)
}

type State int

const (
	StateClosed State = iota
	StateOpen
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrPortUnavailable = errors.New("port unavailable")
	ErrDisconnected    = errors.New("transport disconnected")
	ErrTimeout         = errors.New("transport timeout")
	ErrCorrupt         = errors.New("corrupt response")
)

// Transport is the lifecycle shared by both link variants.
type Transport interface {
	Kind() Protocol
	Open(ctx context.Context) error
	Close() error
	State() State
}

// FrameTransport carries binary frames over a byte stream.
type FrameTransport interface {
	Transport
	Exchange(ctx context.Context, req frame.Frame) (frame.Frame, error)
	Post(ctx context.Context, req frame.Frame) error
	NextPush(ctx context.Context) (frame.Frame, error)
}

// MessageTransport carries JSON envelopes.
type MessageTransport interface {
	Transport
	Call(ctx context.Context, msg Message) (Response, error)
}

// Params holds everything needed to open one link.
type Params struct {
	Protocol Protocol `json:"protocol"`

	// serial
	Port      string        `json:"port,omitempty"`
	Baud      int           `json:"baud,omitempty"`
	ReadSlice time.Duration `json:"-"`

	// websocket
	Host         string        `json:"host,omitempty"`
	WSPort       int           `json:"ws_port,omitempty"`
	Path         string        `json:"path,omitempty"`
	URL          string        `json:"url,omitempty"`
	PingInterval time.Duration `json:"-"`
	PingTimeout  time.Duration `json:"-"`

	Timeout time.Duration `json:"timeout"`
	Debug   bool          `json:"debug"`
}

const (
	DefaultBaud      = 115200
	DefaultWSPort    = 8080
	DefaultWSPath    = "/ws"
	DefaultReadSlice = 20 * time.Millisecond
	DefaultTimeout   = 5 * time.Second
)

func (p Params) withDefaults() Params {
	if p.Baud == 0 {
		p.Baud = DefaultBaud
	}
	if p.ReadSlice <= 0 {
		p.ReadSlice = DefaultReadSlice
	}
	if p.WSPort == 0 {
		p.WSPort = DefaultWSPort
	}
	if p.Path == "" {
		p.Path = DefaultWSPath
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	return p
}

func (p Params) Validate() error {
	switch p.Protocol {
	case ProtocolSerial:
		if p.Port == "" {
			return errors.New("serial port must be specified")
		}
	case ProtocolWebSocket:
		if p.Host == "" && p.URL == "" {
			return errors.New("websocket host must be specified")
		}
	default:
		return fmt.Errorf("unknown protocol %q", p.Protocol)
	}
	return nil
}

// WebSocketURL returns the device endpoint, ws://<host>:<port>/ws by default.
func (p Params) WebSocketURL() string {
	if p.URL != "" {
		return p.URL
	}
	p = p.withDefaults()
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.WSPort)),
		Path:   p.Path,
	}
	return u.String()
}

// Endpoint is a human readable link address for logs and status output.
func (p Params) Endpoint() string {
	if p.Protocol == ProtocolSerial {
		return p.Port
	}
	return p.WebSocketURL()
}

// New builds an unopened transport for p.
func New(p Params, logger *zap.Logger) (Transport, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	switch p.Protocol {
	case ProtocolSerial:
		return NewSerialTransport(p, logger), nil
	default:
		return NewWebSocketTransport(p, logger), nil
	}
}

// waitErr maps an expired context onto the transport error taxonomy.
func waitErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
