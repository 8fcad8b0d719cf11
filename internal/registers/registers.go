package registers

import (
	"errors"
	"fmt"
	"sort"
)

type Bank string

const (
	BankROM    Bank = "rom"
	BankEEPROM Bank = "eeprom"
	BankRAM    Bank = "ram"
)

type Access string

const (
	AccessReadOnly  Access = "read_only"
	AccessReadWrite Access = "read_write"
	AccessWriteOnly Access = "write_only"
)

func (a Access) Readable() bool { return a == AccessReadOnly || a == AccessReadWrite }
func (a Access) Writable() bool { return a == AccessWriteOnly || a == AccessReadWrite }

const JointCount = 7

// Register addresses.
const (
	DeviceType      uint8 = 0
	FirmwareVersion uint8 = 1
	MAC             uint8 = 2

	DeviceID uint8 = 11
	BaudRate uint8 = 12
	Offsets  uint8 = 13

	EEPROMLock        uint8 = 28
	MotorStatus       uint8 = 29
	Effector          uint8 = 30
	Vacuum            uint8 = 31
	Speed             uint8 = 32
	Time              uint8 = 39
	TargetAngle       uint8 = 46
	EndLength         uint8 = 53
	IK                uint8 = 54
	IK5               uint8 = 68
	AngleFeedbackFreq uint8 = 82
	AngleFeedback     uint8 = 83
	LoadFeedbackFreq  uint8 = 90
	LoadFeedback      uint8 = 91
)

// EEPROMStart and EEPROMLen describe the block rewritten by an EEPROM init.
const (
	EEPROMStart = DeviceID
	EEPROMLen   = 9
)

// IK payload sizes.
const (
	IK5DataLen = 6
	IK6DataLen = 9
	IK7DataLen = 12
)

// Register is one addressable unit of device state. Joint is -1 for
// registers that are not per-joint.
type Register struct {
	Name    string `json:"name" yaml:"name"`
	Address uint8  `json:"address" yaml:"address"`
	Width   int    `json:"width" yaml:"width"`
	Access  Access `json:"access" yaml:"access"`
	Bank    Bank   `json:"bank" yaml:"bank"`
	Joint   int    `json:"joint" yaml:"joint"`
}

func (r Register) End() int { return int(r.Address) + r.Width }

var (
	ErrNotFound     = errors.New("register not found")
	ErrAccessDenied = errors.New("register access denied")
	ErrBadSpan      = errors.New("register span not aligned")
)

// AccessError reports a rejected read or write.
type AccessError struct {
	Register Register
	Op       string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("register %s (%d) is %s, %s denied", e.Register.Name, e.Register.Address, e.Register.Access, e.Op)
}

func (e *AccessError) Unwrap() error { return ErrAccessDenied }

var table = buildTable()

func buildTable() map[uint8]Register {
	regs := []Register{
		single("device_type", DeviceType, 1, AccessReadOnly, BankROM),
		single("firmware_version", FirmwareVersion, 1, AccessReadOnly, BankROM),
		single("mac", MAC, 6, AccessReadOnly, BankROM),

		single("device_id", DeviceID, 1, AccessReadWrite, BankEEPROM),
		single("baud_rate", BaudRate, 1, AccessReadWrite, BankEEPROM),
		single("offsets", Offsets, JointCount, AccessReadWrite, BankEEPROM),

		single("eeprom_lock", EEPROMLock, 1, AccessReadWrite, BankRAM),
		single("motor_status", MotorStatus, 1, AccessReadWrite, BankRAM),
		single("effector", Effector, 1, AccessReadWrite, BankRAM),
		single("vacuum", Vacuum, 1, AccessReadWrite, BankRAM),
		single("end_length", EndLength, 1, AccessReadWrite, BankRAM),
		single("ik", IK, IK7DataLen, AccessWriteOnly, BankRAM),
		single("ik5", IK5, IK5DataLen, AccessWriteOnly, BankRAM),
		single("angle_feedback_freq", AngleFeedbackFreq, 1, AccessReadWrite, BankRAM),
		single("load_feedback_freq", LoadFeedbackFreq, 1, AccessReadWrite, BankRAM),
	}

	perJoint := []struct {
		name   string
		base   uint8
		access Access
	}{
		{"speed", Speed, AccessReadWrite},
		{"time", Time, AccessReadWrite},
		{"target_angle", TargetAngle, AccessReadWrite},
		{"angle_feedback", AngleFeedback, AccessReadOnly},
		{"load_feedback", LoadFeedback, AccessReadOnly},
	}
	for _, g := range perJoint {
		for j := 0; j < JointCount; j++ {
			regs = append(regs, Register{
				Name:    fmt.Sprintf("%s_%d", g.name, j),
				Address: g.base + uint8(j),
				Width:   1,
				Access:  g.access,
				Bank:    BankRAM,
				Joint:   j,
			})
		}
	}

	m := make(map[uint8]Register, len(regs))
	for _, r := range regs {
		if _, dup := m[r.Address]; dup {
			panic(fmt.Sprintf("registers: duplicate address %d", r.Address))
		}
		m[r.Address] = r
	}
	return m
}

func single(name string, addr uint8, width int, access Access, bank Bank) Register {
	return Register{Name: name, Address: addr, Width: width, Access: access, Bank: bank, Joint: -1}
}

// Lookup returns the register starting at addr.
func Lookup(addr uint8) (Register, error) {
	r, ok := table[addr]
	if !ok {
		return Register{}, fmt.Errorf("%w: %d", ErrNotFound, addr)
	}
	return r, nil
}

// All returns the register map ordered by address.
func All() []Register {
	out := make([]Register, 0, len(table))
	for _, r := range table {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Span resolves a contiguous range into whole registers. The range must
// start on a register address and may not end inside one, except that a
// write-only register accepts a prefix write (IK6 uses 9 of the 12 bytes).
func Span(addr uint8, count int) ([]Register, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: count %d", ErrBadSpan, count)
	}
	end := int(addr) + count
	if end > 256 {
		return nil, fmt.Errorf("%w: %d+%d exceeds address space", ErrBadSpan, addr, count)
	}

	var regs []Register
	for a := int(addr); a < end; {
		r, ok := table[uint8(a)]
		if !ok {
			if a == int(addr) {
				return nil, fmt.Errorf("%w: %d", ErrNotFound, a)
			}
			return nil, fmt.Errorf("%w: gap at %d in %d+%d", ErrBadSpan, a, addr, count)
		}
		if r.End() > end && !(r.Access == AccessWriteOnly && len(regs) == 0) {
			return nil, fmt.Errorf("%w: %d+%d ends inside %s", ErrBadSpan, addr, count, r.Name)
		}
		regs = append(regs, r)
		a = r.End()
	}
	return regs, nil
}

// CheckRead validates that every register in the range may be read.
func CheckRead(addr uint8, count int) error {
	regs, err := Span(addr, count)
	if err != nil {
		return err
	}
	for _, r := range regs {
		if !r.Access.Readable() {
			return &AccessError{Register: r, Op: "read"}
		}
	}
	return nil
}

// CheckWrite validates that every register in the range may be written.
func CheckWrite(addr uint8, count int) error {
	regs, err := Span(addr, count)
	if err != nil {
		return err
	}
	for _, r := range regs {
		if !r.Access.Writable() || r.Bank == BankROM {
			return &AccessError{Register: r, Op: "write"}
		}
	}
	return nil
}
