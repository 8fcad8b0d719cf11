package dispatcher

import (
	"context"
	"fmt"

	"github.com/KevinKickass/ArmLink/internal/frame"
	"github.com/KevinKickass/ArmLink/internal/registers"
	"github.com/KevinKickass/ArmLink/internal/transport"
)

// ReadRegisters reads count bytes starting at addr in one exchange.
func (d *Dispatcher) ReadRegisters(ctx context.Context, addr uint8, count int) ([]byte, error) {
	if err := registers.CheckRead(addr, count); err != nil {
		return nil, err
	}

	var out []byte
	err := d.run(ctx, fmt.Sprintf("read %d+%d", addr, count), func(ctx context.Context, t transport.Transport) error {
		switch t := t.(type) {
		case transport.FrameTransport:
			req := frame.Frame{Type: frame.TypeRead, Payload: []byte{addr, byte(count)}}
			reply, err := t.Exchange(ctx, req)
			if err != nil {
				return err
			}
			data, err := registerReply(reply, frame.TypeRead, addr, count)
			if err != nil {
				return err
			}
			out = data
			return nil

		case transport.MessageTransport:
			msg := transport.NewMessage("read").With("id", int(addr)).With("num", count)
			resp, err := call(ctx, t, msg)
			if err != nil {
				return err
			}
			if len(resp.Data) != count {
				return corrupt("read %d+%d returned %d values", addr, count, len(resp.Data))
			}
			data := make([]byte, count)
			for i, v := range resp.Data {
				if v < 0 || v > 0xFF {
					return corrupt("register value %d out of byte range", v)
				}
				data[i] = byte(v)
			}
			out = data
			return nil
		}
		return unsupported(t)
	})
	return out, err
}

// WriteRegisters writes raw byte values starting at addr.
func (d *Dispatcher) WriteRegisters(ctx context.Context, addr uint8, values []int) error {
	for i, v := range values {
		if err := checkRange(fmt.Sprintf("value[%d]", i), v, 0, 0xFF); err != nil {
			return err
		}
	}
	return d.write(ctx, fmt.Sprintf("write %d+%d", addr, len(values)), addr, toBytes(values), nil)
}

// write sends data to addr. On a message transport msg is sent instead
// when given, otherwise a generic register write.
func (d *Dispatcher) write(ctx context.Context, name string, addr uint8, data []byte, msg transport.Message) error {
	if len(data) == 0 {
		return &ValidationError{Field: "values", Value: data, Reason: "empty write"}
	}
	if err := registers.CheckWrite(addr, len(data)); err != nil {
		return err
	}

	return d.run(ctx, name, func(ctx context.Context, t transport.Transport) error {
		switch t := t.(type) {
		case transport.FrameTransport:
			return d.sendWrite(ctx, t, addr, data)
		case transport.MessageTransport:
			m := msg
			if m == nil {
				m = writeMessage(addr, data)
			}
			_, err := call(ctx, t, m)
			return err
		}
		return unsupported(t)
	})
}

func (d *Dispatcher) SetStatus(ctx context.Context, s MotorStatus) error {
	if !s.Valid() {
		return &ValidationError{Field: "status", Value: int(s), Reason: "must be 0 (protection), 1 (servo) or 2 (forceless)"}
	}
	msg := transport.NewMessage("status").With("status", int(s))
	return d.write(ctx, "set status", registers.MotorStatus, []byte{byte(s)}, msg)
}

func (d *Dispatcher) SetVacuum(ctx context.Context, on bool) error {
	v := 0
	if on {
		v = 1
	}
	msg := transport.NewMessage("vacuum").With("status", v)
	return d.write(ctx, "set vacuum", registers.Vacuum, []byte{byte(v)}, msg)
}

// SetSpeed applies one speed to all joints; 0 means maximum speed.
func (d *Dispatcher) SetSpeed(ctx context.Context, speed int) error {
	if err := checkRange("speed", speed, MinSpeed, MaxSpeed); err != nil {
		return err
	}
	msg := transport.NewMessage("speed").With("speed", speed)
	return d.write(ctx, "set speed", registers.Speed, toBytes(repeat(speed, registers.JointCount)), msg)
}

// SetSpeeds sets a speed per joint.
func (d *Dispatcher) SetSpeeds(ctx context.Context, speeds []int) error {
	if err := checkPerJoint("speed", speeds, MinSpeed, MaxSpeed); err != nil {
		return err
	}
	return d.write(ctx, "set speeds", registers.Speed, toBytes(speeds), nil)
}

// SetTime applies one motion time (units of 100 ms) to all joints.
func (d *Dispatcher) SetTime(ctx context.Context, t int) error {
	if err := checkRange("time", t, MinTime, MaxTime); err != nil {
		return err
	}
	return d.write(ctx, "set time", registers.Time, toBytes(repeat(t, registers.JointCount)), nil)
}

func (d *Dispatcher) SetAngle(ctx context.Context, joint, angle int) error {
	if err := checkJoint(joint); err != nil {
		return err
	}
	if err := checkRange("angle", angle, MinAngle, MaxAngle); err != nil {
		return err
	}
	msg := transport.NewMessage("angle").With("id", joint).With("angle", angle)
	return d.write(ctx, fmt.Sprintf("set angle %d", joint), registers.TargetAngle+uint8(joint), []byte{byte(angle)}, msg)
}

func (d *Dispatcher) SetAngles(ctx context.Context, angles []int) error {
	if err := checkPerJoint("angle", angles, MinAngle, MaxAngle); err != nil {
		return err
	}
	msg := transport.NewMessage("angles").With("angles", append([]int(nil), angles...))
	return d.write(ctx, "set angles", registers.TargetAngle, toBytes(angles), msg)
}

// SetOffsets stores per-joint calibration deltas, biased by OffsetBias.
func (d *Dispatcher) SetOffsets(ctx context.Context, offsets []int) error {
	if err := checkPerJoint("offset", offsets, MinOffset, MaxOffset); err != nil {
		return err
	}
	data := make([]byte, len(offsets))
	for i, o := range offsets {
		data[i] = byte(o + OffsetBias)
	}
	return d.write(ctx, "set offsets", registers.Offsets, data, nil)
}

func (d *Dispatcher) SetEffector(ctx context.Context, effector int) error {
	if err := checkRange("effector", effector, 0, 0xFF); err != nil {
		return err
	}
	return d.write(ctx, "set effector", registers.Effector, []byte{byte(effector)}, nil)
}

func (d *Dispatcher) SetLock(ctx context.Context, locked bool) error {
	v := byte(0)
	if locked {
		v = 1
	}
	return d.write(ctx, "set eeprom lock", registers.EEPROMLock, []byte{v}, nil)
}

func (d *Dispatcher) SetDeviceID(ctx context.Context, id int) error {
	if err := checkRange("device id", id, 0, 0xFF); err != nil {
		return err
	}
	return d.write(ctx, "set device id", registers.DeviceID, []byte{byte(id)}, nil)
}

func (d *Dispatcher) SetAnglesFeedbackFreq(ctx context.Context, hz int) error {
	if err := checkRange("angle feedback frequency", hz, MinFeedbackFreq, MaxFeedbackFreq); err != nil {
		return err
	}
	return d.write(ctx, "set angle feedback freq", registers.AngleFeedbackFreq, []byte{byte(hz)}, nil)
}

func (d *Dispatcher) SetLoadsFeedbackFreq(ctx context.Context, hz int) error {
	if err := checkRange("load feedback frequency", hz, MinFeedbackFreq, MaxFeedbackFreq); err != nil {
		return err
	}
	return d.write(ctx, "set load feedback freq", registers.LoadFeedbackFreq, []byte{byte(hz)}, nil)
}

// IK5 asks the firmware to place joint 5 at pos (mm).
func (d *Dispatcher) IK5(ctx context.Context, pos Vec3) error {
	if err := checkVec("pos", pos, MinCoord, MaxCoord); err != nil {
		return err
	}
	msg := transport.NewMessage("IK5").With("pos", pos[:])
	return d.write(ctx, "ik5", registers.IK5, encodeCoords(pos), msg)
}

// IK6 places joint 6 at pos with the joint 5→6 direction vec56.
func (d *Dispatcher) IK6(ctx context.Context, pos, vec56 Vec3) error {
	if err := checkVec("pos", pos, MinCoord, MaxCoord); err != nil {
		return err
	}
	if err := checkVec("vec56", vec56, MinVector, MaxVector); err != nil {
		return err
	}
	data := append(encodeCoords(pos), encodeVector(vec56)...)
	msg := transport.NewMessage("IK6").With("pos", pos[:]).With("vec56", vec56[:])
	return d.write(ctx, "ik6", registers.IK, data, msg)
}

// IK7 adds the joint 6→7 direction vec67 to an IK6 request.
func (d *Dispatcher) IK7(ctx context.Context, pos, vec56, vec67 Vec3) error {
	if err := checkVec("pos", pos, MinCoord, MaxCoord); err != nil {
		return err
	}
	if err := checkVec("vec56", vec56, MinVector, MaxVector); err != nil {
		return err
	}
	if err := checkVec("vec67", vec67, MinVector, MaxVector); err != nil {
		return err
	}
	data := append(encodeCoords(pos), encodeVector(vec56)...)
	data = append(data, encodeVector(vec67)...)
	msg := transport.NewMessage("IK7").With("pos", pos[:]).With("vec56", vec56[:]).With("vec67", vec67[:])
	return d.write(ctx, "ik7", registers.IK, data, msg)
}

// Ping checks the link: a device-type read on serial, a ping message on
// websocket.
func (d *Dispatcher) Ping(ctx context.Context) error {
	return d.run(ctx, "ping", func(ctx context.Context, t transport.Transport) error {
		switch t := t.(type) {
		case transport.FrameTransport:
			reply, err := t.Exchange(ctx, frame.Frame{Type: frame.TypeRead, Payload: []byte{registers.DeviceType, 1}})
			if err != nil {
				return err
			}
			_, err = registerReply(reply, frame.TypeRead, registers.DeviceType, 1)
			return err
		case transport.MessageTransport:
			_, err := call(ctx, t, transport.NewMessage("ping"))
			return err
		}
		return unsupported(t)
	})
}

// Angles returns the angle feedback of all joints.
func (d *Dispatcher) Angles(ctx context.Context) ([]int, error) {
	data, err := d.ReadRegisters(ctx, registers.AngleFeedback, registers.JointCount)
	if err != nil {
		return nil, err
	}
	return unsigned(data), nil
}

// TargetAngles returns the last commanded angle of each joint.
func (d *Dispatcher) TargetAngles(ctx context.Context) ([]int, error) {
	data, err := d.ReadRegisters(ctx, registers.TargetAngle, registers.JointCount)
	if err != nil {
		return nil, err
	}
	return unsigned(data), nil
}

// Angle returns the angle feedback of one joint.
func (d *Dispatcher) Angle(ctx context.Context, joint int) (int, error) {
	if err := checkJoint(joint); err != nil {
		return 0, err
	}
	data, err := d.ReadRegisters(ctx, registers.AngleFeedback+uint8(joint), 1)
	if err != nil {
		return 0, err
	}
	return int(data[0]), nil
}

func (d *Dispatcher) Load(ctx context.Context, joint int) (int, error) {
	if err := checkJoint(joint); err != nil {
		return 0, err
	}
	data, err := d.ReadRegisters(ctx, registers.LoadFeedback+uint8(joint), 1)
	if err != nil {
		return 0, err
	}
	return int(int8(data[0])), nil
}

func (d *Dispatcher) Loads(ctx context.Context) ([]int, error) {
	data, err := d.ReadRegisters(ctx, registers.LoadFeedback, registers.JointCount)
	if err != nil {
		return nil, err
	}
	return signed(data), nil
}

func (d *Dispatcher) Offsets(ctx context.Context) ([]int, error) {
	data, err := d.ReadRegisters(ctx, registers.Offsets, registers.JointCount)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(data))
	for i, b := range data {
		out[i] = int(b) - OffsetBias
	}
	return out, nil
}

// AwaitFeedback returns the next angle feedback: a device push on serial,
// a feedback register read on websocket.
func (d *Dispatcher) AwaitFeedback(ctx context.Context) ([]int, error) {
	if _, ok := d.Transport().(transport.FrameTransport); !ok {
		return d.Angles(ctx)
	}

	var out []int
	err := d.run(ctx, "await feedback", func(ctx context.Context, t transport.Transport) error {
		ft, ok := t.(transport.FrameTransport)
		if !ok {
			return unsupported(t)
		}
		push, err := ft.NextPush(ctx)
		if err != nil {
			return err
		}
		data, err := registerReply(push, frame.TypeFeedback, registers.AngleFeedback, registers.JointCount)
		if err != nil {
			return err
		}
		out = unsigned(data)
		return nil
	})
	return out, err
}

func unsigned(data []byte) []int {
	out := make([]int, len(data))
	for i, b := range data {
		out[i] = int(b)
	}
	return out
}

func signed(data []byte) []int {
	out := make([]int, len(data))
	for i, b := range data {
		out[i] = int(int8(b))
	}
	return out
}
