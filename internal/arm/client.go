package arm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/ArmLink/internal/dispatcher"
	"github.com/KevinKickass/ArmLink/internal/registers"
	"github.com/KevinKickass/ArmLink/internal/transport"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is the currently bound link.
type Session struct {
	ID       uuid.UUID          `json:"id"`
	Params   transport.Params   `json:"params"`
	Protocol transport.Protocol `json:"protocol"`
	OpenedAt time.Time          `json:"opened_at"`
}

// Factory builds an unopened transport.
type Factory func(p transport.Params, logger *zap.Logger) (transport.Transport, error)

// SwitchError reports a failed protocol switch. The client stays bound to
// the From transport.
type SwitchError struct {
	From transport.Protocol
	To   transport.Protocol
	Err  error
}

func (e *SwitchError) Error() string {
	return fmt.Sprintf("switch %s -> %s: %v", e.From, e.To, e.Err)
}

func (e *SwitchError) Unwrap() error { return e.Err }

type Options struct {
	Dispatch dispatcher.Config
	Motion   MotionConfig
	Poses    *PoseLibrary
	Factory  Factory
}

// Client is the device façade. All calls go through one dispatcher and are
// serialized.
type Client struct {
	logger  *zap.Logger
	factory Factory
	disp    *dispatcher.Dispatcher
	poses   *PoseLibrary
	motion  MotionConfig

	mu       sync.RWMutex
	session  Session
	switches []func(Session)
}

func New(p transport.Params, opts Options, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Factory == nil {
		opts.Factory = transport.New
	}
	if opts.Poses == nil {
		opts.Poses = NewPoseLibrary()
	}
	if opts.Dispatch == (dispatcher.Config{}) {
		opts.Dispatch = dispatcher.DefaultConfig()
	}

	t, err := opts.Factory(p, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	return &Client{
		logger:  logger,
		factory: opts.Factory,
		disp:    dispatcher.New(t, opts.Dispatch, logger),
		poses:   opts.Poses,
		motion:  opts.Motion.withDefaults(),
		session: newSession(p),
	}, nil
}

func newSession(p transport.Params) Session {
	return Session{ID: uuid.New(), Params: p, Protocol: p.Protocol}
}

// Connect opens the bound transport.
func (c *Client) Connect(ctx context.Context) error {
	t := c.disp.Transport()
	if err := t.Open(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.session.OpenedAt = time.Now()
	s := c.session
	c.mu.Unlock()

	c.logger.Info("Device connected",
		zap.String("session", s.ID.String()),
		zap.String("protocol", string(s.Protocol)),
		zap.String("endpoint", s.Params.Endpoint()))
	return nil
}

func (c *Client) Close() error {
	return c.disp.Transport().Close()
}

func (c *Client) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) Protocol() transport.Protocol { return c.disp.Transport().Kind() }

func (c *Client) State() transport.State { return c.disp.Transport().State() }

func (c *Client) Poses() *PoseLibrary { return c.poses }

// OnSwitch registers fn to run after every successful protocol switch.
func (c *Client) OnSwitch(fn func(Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.switches = append(c.switches, fn)
}

// SwitchProtocol rebinds the client to a new link. It waits for the
// in-flight command, bounded by ctx. On any failure the prior transport
// stays bound and is reopened if it was open.
func (c *Client) SwitchProtocol(ctx context.Context, p transport.Params) error {
	from := c.Protocol()
	fail := func(err error) error {
		c.logger.Warn("Protocol switch failed",
			zap.String("from", string(from)),
			zap.String("to", string(p.Protocol)),
			zap.Error(err))
		return &SwitchError{From: from, To: p.Protocol, Err: err}
	}

	next, err := c.factory(p, c.logger)
	if err != nil {
		return fail(err)
	}

	err = c.disp.Rebind(ctx, func(cur transport.Transport) (transport.Transport, error) {
		prev := cur.State()
		wasOpen := prev == transport.StateOpen
		// A faulted link has already released its port or connection.
		if prev != transport.StateFaulted {
			if err := cur.Close(); err != nil {
				c.logger.Debug("Closing previous transport", zap.Error(err))
			}
		}

		if err := next.Open(ctx); err != nil {
			next.Close()
			if wasOpen {
				rctx, cancel := context.WithTimeout(context.Background(), c.disp.Timeout())
				defer cancel()
				if rerr := cur.Open(rctx); rerr != nil {
					c.logger.Error("Failed to reopen previous transport",
						zap.String("protocol", string(cur.Kind())),
						zap.Error(rerr))
				}
			}
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return fail(err)
	}

	s := newSession(p)
	s.OpenedAt = time.Now()

	c.mu.Lock()
	c.session = s
	hooks := append([]func(Session){}, c.switches...)
	c.mu.Unlock()

	c.logger.Info("Protocol switched",
		zap.String("session", s.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(p.Protocol)),
		zap.String("endpoint", p.Endpoint()))

	for _, fn := range hooks {
		fn(s)
	}
	return nil
}

// Reads

func (c *Client) ReadRegisters(ctx context.Context, addr uint8, count int) ([]byte, error) {
	return c.disp.ReadRegisters(ctx, addr, count)
}

func (c *Client) Angles(ctx context.Context) ([]int, error) { return c.disp.Angles(ctx) }

func (c *Client) Angle(ctx context.Context, joint int) (int, error) { return c.disp.Angle(ctx, joint) }

func (c *Client) TargetAngles(ctx context.Context) ([]int, error) { return c.disp.TargetAngles(ctx) }

func (c *Client) Loads(ctx context.Context) ([]int, error) { return c.disp.Loads(ctx) }

func (c *Client) Load(ctx context.Context, joint int) (int, error) { return c.disp.Load(ctx, joint) }

func (c *Client) Offsets(ctx context.Context) ([]int, error) { return c.disp.Offsets(ctx) }

// AnglesFeedback returns the next pushed angle frame on serial and reads
// the feedback registers on websocket.
func (c *Client) AnglesFeedback(ctx context.Context) ([]int, error) {
	return c.disp.AwaitFeedback(ctx)
}

func (c *Client) readByte(ctx context.Context, addr uint8) (byte, error) {
	data, err := c.disp.ReadRegisters(ctx, addr, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

func (c *Client) MotorStatus(ctx context.Context) (dispatcher.MotorStatus, error) {
	b, err := c.readByte(ctx, registers.MotorStatus)
	return dispatcher.MotorStatus(b), err
}

func (c *Client) VacuumStatus(ctx context.Context) (bool, error) {
	b, err := c.readByte(ctx, registers.Vacuum)
	return b != 0, err
}

func (c *Client) DeviceType(ctx context.Context) (int, error) {
	b, err := c.readByte(ctx, registers.DeviceType)
	return int(b), err
}

// FirmwareVersion is stored as version*10.
func (c *Client) FirmwareVersion(ctx context.Context) (float64, error) {
	b, err := c.readByte(ctx, registers.FirmwareVersion)
	return float64(b) / 10, err
}

func (c *Client) MAC(ctx context.Context) (string, error) {
	data, err := c.disp.ReadRegisters(ctx, registers.MAC, 6)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}

func (c *Client) DeviceID(ctx context.Context) (int, error) {
	b, err := c.readByte(ctx, registers.DeviceID)
	return int(b), err
}

type JointState struct {
	Joint int `json:"joint"`
	Angle int `json:"angle"`
	Load  int `json:"load"`
	Speed int `json:"speed"`
	Time  int `json:"time"`
}

// JointStates reads speed, time, angle and load of every joint in two
// range reads.
func (c *Client) JointStates(ctx context.Context) ([]JointState, error) {
	motion, err := c.disp.ReadRegisters(ctx, registers.Speed, 2*registers.JointCount)
	if err != nil {
		return nil, err
	}
	fb, err := c.disp.ReadRegisters(ctx, registers.AngleFeedback, int(registers.LoadFeedback-registers.AngleFeedback)+registers.JointCount)
	if err != nil {
		return nil, err
	}

	loads := fb[registers.LoadFeedback-registers.AngleFeedback:]
	out := make([]JointState, registers.JointCount)
	for j := range out {
		out[j] = JointState{
			Joint: j,
			Angle: int(fb[j]),
			Load:  int(int8(loads[j])),
			Speed: int(motion[j]),
			Time:  int(motion[registers.JointCount+j]),
		}
	}
	return out, nil
}

type SystemInfo struct {
	DeviceType      int     `json:"device_type"`
	FirmwareVersion float64 `json:"firmware_version"`
	MAC             string  `json:"mac"`
	DeviceID        int     `json:"device_id"`
}

func (c *Client) SystemInfo(ctx context.Context) (SystemInfo, error) {
	var info SystemInfo
	var err error
	if info.DeviceType, err = c.DeviceType(ctx); err != nil {
		return info, err
	}
	if info.FirmwareVersion, err = c.FirmwareVersion(ctx); err != nil {
		return info, err
	}
	if info.MAC, err = c.MAC(ctx); err != nil {
		return info, err
	}
	if info.DeviceID, err = c.DeviceID(ctx); err != nil {
		return info, err
	}
	return info, nil
}

type Status struct {
	Session     Session      `json:"session"`
	State       string       `json:"state"`
	MotorStatus string       `json:"motor_status"`
	Vacuum      bool         `json:"vacuum"`
	Offsets     []int        `json:"offsets"`
	Joints      []JointState `json:"joints"`
}

// AllStatus collects everything the device reports about its motion state.
func (c *Client) AllStatus(ctx context.Context) (Status, error) {
	st := Status{Session: c.Session(), State: c.State().String()}

	ms, err := c.MotorStatus(ctx)
	if err != nil {
		return st, err
	}
	st.MotorStatus = ms.String()

	if st.Vacuum, err = c.VacuumStatus(ctx); err != nil {
		return st, err
	}
	if st.Offsets, err = c.Offsets(ctx); err != nil {
		return st, err
	}
	if st.Joints, err = c.JointStates(ctx); err != nil {
		return st, err
	}
	return st, nil
}

// Writes

func (c *Client) WriteRegisters(ctx context.Context, addr uint8, values []int) error {
	return c.disp.WriteRegisters(ctx, addr, values)
}

func (c *Client) SetAngles(ctx context.Context, angles []int) error {
	return c.disp.SetAngles(ctx, angles)
}

func (c *Client) SetAngle(ctx context.Context, joint, angle int) error {
	return c.disp.SetAngle(ctx, joint, angle)
}

func (c *Client) SetSpeed(ctx context.Context, speed int) error { return c.disp.SetSpeed(ctx, speed) }

func (c *Client) SetSpeeds(ctx context.Context, speeds []int) error {
	return c.disp.SetSpeeds(ctx, speeds)
}

func (c *Client) SetTime(ctx context.Context, t int) error { return c.disp.SetTime(ctx, t) }

func (c *Client) SetStatus(ctx context.Context, s dispatcher.MotorStatus) error {
	return c.disp.SetStatus(ctx, s)
}

func (c *Client) SetVacuum(ctx context.Context, on bool) error { return c.disp.SetVacuum(ctx, on) }

func (c *Client) SetEffector(ctx context.Context, e int) error { return c.disp.SetEffector(ctx, e) }

func (c *Client) SetLock(ctx context.Context, locked bool) error { return c.disp.SetLock(ctx, locked) }

func (c *Client) SetDeviceID(ctx context.Context, id int) error { return c.disp.SetDeviceID(ctx, id) }

func (c *Client) SetOffsets(ctx context.Context, offsets []int) error {
	return c.disp.SetOffsets(ctx, offsets)
}

func (c *Client) ClearOffsets(ctx context.Context) error {
	return c.disp.SetOffsets(ctx, make([]int, registers.JointCount))
}

func (c *Client) SetAnglesFeedbackFreq(ctx context.Context, hz int) error {
	return c.disp.SetAnglesFeedbackFreq(ctx, hz)
}

func (c *Client) SetLoadsFeedbackFreq(ctx context.Context, hz int) error {
	return c.disp.SetLoadsFeedbackFreq(ctx, hz)
}

func (c *Client) IK5(ctx context.Context, pos dispatcher.Vec3) error { return c.disp.IK5(ctx, pos) }

func (c *Client) IK6(ctx context.Context, pos, vec56 dispatcher.Vec3) error {
	return c.disp.IK6(ctx, pos, vec56)
}

func (c *Client) IK7(ctx context.Context, pos, vec56, vec67 dispatcher.Vec3) error {
	return c.disp.IK7(ctx, pos, vec56, vec67)
}

func (c *Client) Ping(ctx context.Context) error { return c.disp.Ping(ctx) }

// InitEEPROM unlocks the EEPROM, clears device id, baud rate and offsets,
// and locks it again.
func (c *Client) InitEEPROM(ctx context.Context) error {
	data := make([]int, registers.EEPROMLen)
	for i := 2; i < len(data); i++ {
		data[i] = dispatcher.OffsetBias
	}
	steps := []func() error{
		func() error { return c.disp.SetLock(ctx, false) },
		func() error { return c.disp.WriteRegisters(ctx, registers.EEPROMStart, data) },
		func() error { return c.disp.SetLock(ctx, true) },
	}
	return c.sequence("eeprom init", steps)
}
