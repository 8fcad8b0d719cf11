package machine

import "time"

type State string

const (
	StateStopped   State = "stopped"
	StateHoming    State = "homing"
	StateReady     State = "ready"
	StateMoving    State = "moving"
	StateResetting State = "resetting"
	StateError     State = "error"
)

// Busy states own the arm until their operation finishes.
func (s State) Busy() bool {
	return s == StateHoming || s == StateMoving || s == StateResetting
}

type Command string

const (
	CommandHome    Command = "home"
	CommandReset   Command = "reset"
	CommandStop    Command = "stop"
	CommandRelease Command = "release"
)

type MachineStatus struct {
	State           State     `json:"state"`
	Operation       string    `json:"operation,omitempty"`
	Pose            string    `json:"pose,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	MotionStatus    string    `json:"motion_status,omitempty"`
	LastStateChange time.Time `json:"last_state_change"`
}
