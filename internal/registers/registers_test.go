package registers

import (
	"errors"
	"testing"
)

func TestLookup(t *testing.T) {
	cases := []struct {
		addr   uint8
		name   string
		bank   Bank
		access Access
		width  int
		joint  int
	}{
		{DeviceType, "device_type", BankROM, AccessReadOnly, 1, -1},
		{MAC, "mac", BankROM, AccessReadOnly, 6, -1},
		{Offsets, "offsets", BankEEPROM, AccessReadWrite, 7, -1},
		{MotorStatus, "motor_status", BankRAM, AccessReadWrite, 1, -1},
		{TargetAngle, "target_angle_0", BankRAM, AccessReadWrite, 1, 0},
		{TargetAngle + 6, "target_angle_6", BankRAM, AccessReadWrite, 1, 6},
		{AngleFeedback + 3, "angle_feedback_3", BankRAM, AccessReadOnly, 1, 3},
		{LoadFeedback + 6, "load_feedback_6", BankRAM, AccessReadOnly, 1, 6},
		{IK, "ik", BankRAM, AccessWriteOnly, 12, -1},
	}

	for _, tc := range cases {
		r, err := Lookup(tc.addr)
		if err != nil {
			t.Fatalf("lookup %d: %v", tc.addr, err)
		}
		if r.Name != tc.name || r.Bank != tc.bank || r.Access != tc.access || r.Width != tc.width || r.Joint != tc.joint {
			t.Fatalf("lookup %d = %+v", tc.addr, r)
		}
	}

	for _, addr := range []uint8{3, 10, 20, 27, 66, 98, 255} {
		if _, err := Lookup(addr); !errors.Is(err, ErrNotFound) {
			t.Fatalf("lookup %d: err = %v, want ErrNotFound", addr, err)
		}
	}
}

func TestAllIsOrdered(t *testing.T) {
	all := All()
	for i := 1; i < len(all); i++ {
		if all[i-1].Address >= all[i].Address {
			t.Fatalf("not ordered at %d: %d >= %d", i, all[i-1].Address, all[i].Address)
		}
		if all[i-1].End() > int(all[i].Address) {
			t.Fatalf("%s overlaps %s", all[i-1].Name, all[i].Name)
		}
	}
}

func TestSpan(t *testing.T) {
	cases := []struct {
		name  string
		addr  uint8
		count int
		regs  int
		want  error
	}{
		{"all angles feedback", AngleFeedback, JointCount, 7, nil},
		{"single angle", AngleFeedback + 2, 1, 1, nil},
		{"eeprom block", EEPROMStart, EEPROMLen, 3, nil},
		{"speed and time", Speed, 2 * JointCount, 14, nil},
		{"feedback with load freq", AngleFeedback, 15, 15, nil},
		{"mac whole", MAC, 6, 1, nil},
		{"mac partial", MAC, 3, 0, ErrBadSpan},
		{"starts inside mac", MAC + 1, 1, 0, ErrNotFound},
		{"gap after mac", MAC, 7, 0, ErrBadSpan},
		{"ik6 prefix", IK, IK6DataLen, 1, nil},
		{"zero count", Vacuum, 0, 0, ErrBadSpan},
		{"past end", LoadFeedback, 8, 0, ErrBadSpan},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			regs, err := Span(tc.addr, tc.count)
			if tc.want != nil {
				if !errors.Is(err, tc.want) {
					t.Fatalf("err = %v, want %v", err, tc.want)
				}
				return
			}
			if err != nil {
				t.Fatalf("span: %v", err)
			}
			if len(regs) != tc.regs {
				t.Fatalf("len = %d, want %d", len(regs), tc.regs)
			}
		})
	}
}

func TestCheckAccess(t *testing.T) {
	if err := CheckRead(AngleFeedback, JointCount); err != nil {
		t.Fatalf("read feedback: %v", err)
	}
	if err := CheckWrite(TargetAngle, JointCount); err != nil {
		t.Fatalf("write targets: %v", err)
	}
	if err := CheckWrite(IK, IK7DataLen); err != nil {
		t.Fatalf("write ik7: %v", err)
	}

	denied := []struct {
		name string
		fn   func() error
	}{
		{"write rom", func() error { return CheckWrite(FirmwareVersion, 1) }},
		{"write mac", func() error { return CheckWrite(MAC, 6) }},
		{"write feedback", func() error { return CheckWrite(AngleFeedback, JointCount) }},
		{"write load", func() error { return CheckWrite(LoadFeedback + 1, 1) }},
		{"read ik", func() error { return CheckRead(IK5, IK5DataLen) }},
		{"write spanning into read-only", func() error { return CheckWrite(AngleFeedbackFreq, 2) }},
	}

	for _, tc := range denied {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.fn()
			if !errors.Is(err, ErrAccessDenied) {
				t.Fatalf("err = %v, want ErrAccessDenied", err)
			}
			var ae *AccessError
			if !errors.As(err, &ae) {
				t.Fatalf("err %T is not *AccessError", err)
			}
		})
	}
}
