package dispatcher

import (
	"errors"
	"fmt"

	"github.com/KevinKickass/ArmLink/internal/registers"
)

var ErrValidation = errors.New("invalid parameter")

// ValidationError rejects caller input before any I/O.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Parameter bounds.
const (
	MinAngle, MaxAngle               = 0, 180
	MinSpeed, MaxSpeed               = 0, 100
	MinTime, MaxTime                 = 0, 100
	MinFeedbackFreq, MaxFeedbackFreq = 0, 50
	MinOffset, MaxOffset             = -128, 127
	MinCoord, MaxCoord               = -1024, 1023
	MinVector, MaxVector             = -128, 127

	OffsetBias       = 128
	CoordinateOffset = 1024
)

type MotorStatus int

const (
	StatusProtection MotorStatus = 0
	StatusServo      MotorStatus = 1
	StatusForceless  MotorStatus = 2
)

func (s MotorStatus) String() string {
	switch s {
	case StatusProtection:
		return "protection"
	case StatusServo:
		return "servo"
	case StatusForceless:
		return "forceless"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s MotorStatus) Valid() bool { return s >= StatusProtection && s <= StatusForceless }

// Vec3 is a position (mm) or direction vector.
type Vec3 [3]int

func checkRange(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return &ValidationError{Field: field, Value: v, Reason: fmt.Sprintf("out of range [%d, %d]", lo, hi)}
	}
	return nil
}

func checkJoint(j int) error {
	return checkRange("joint", j, 0, registers.JointCount-1)
}

func checkPerJoint(field string, vals []int, lo, hi int) error {
	if len(vals) != registers.JointCount {
		return &ValidationError{Field: field, Value: vals, Reason: fmt.Sprintf("need %d values, got %d", registers.JointCount, len(vals))}
	}
	for i, v := range vals {
		if err := checkRange(fmt.Sprintf("%s[%d]", field, i), v, lo, hi); err != nil {
			return err
		}
	}
	return nil
}

func checkVec(field string, v Vec3, lo, hi int) error {
	for i, c := range v {
		if err := checkRange(fmt.Sprintf("%s[%d]", field, i), c, lo, hi); err != nil {
			return err
		}
	}
	return nil
}

func toBytes(vals []int) []byte {
	out := make([]byte, len(vals))
	for i, v := range vals {
		out[i] = byte(v)
	}
	return out
}

func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// encodeCoords biases each coordinate by CoordinateOffset and packs it
// big-endian into two bytes.
func encodeCoords(pos Vec3) []byte {
	out := make([]byte, 0, 2*len(pos))
	for _, c := range pos {
		v := c + CoordinateOffset
		out = append(out, byte(v>>8), byte(v))
	}
	return out
}

func encodeVector(v Vec3) []byte {
	out := make([]byte, len(v))
	for i, c := range v {
		out[i] = byte(c + OffsetBias)
	}
	return out
}
