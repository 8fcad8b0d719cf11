package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MessageTypeJointState       MessageType = "joint_state"
	MessageTypeMachineState     MessageType = "machine_state"
	MessageTypeProtocolSwitched MessageType = "protocol_switched"
	MessageTypeDeviceError      MessageType = "device_error"
	MessageTypeWelcome          MessageType = "welcome"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// MachineStateData represents machine state change data
type MachineStateData struct {
	State    string `json:"state"`
	Previous string `json:"previous_state"`
	Error    string `json:"error,omitempty"`
}

type ProtocolSwitchedData struct {
	SessionID string `json:"session_id"`
	Protocol  string `json:"protocol"`
	Endpoint  string `json:"endpoint"`
}

type DeviceErrorData struct {
	Operation string `json:"operation"`
	Error     string `json:"error"`
}

type WelcomeData struct {
	ClientID string `json:"client_id"`
	Machine  any    `json:"machine,omitempty"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewJointStateMessage(joints any) Message {
	return NewMessage(MessageTypeJointState, joints)
}

func NewMachineStateMessage(newState, previousState, errMsg string) Message {
	return NewMessage(MessageTypeMachineState, MachineStateData{
		State:    newState,
		Previous: previousState,
		Error:    errMsg,
	})
}

func NewProtocolSwitchedMessage(sessionID, protocol, endpoint string) Message {
	return NewMessage(MessageTypeProtocolSwitched, ProtocolSwitchedData{
		SessionID: sessionID,
		Protocol:  protocol,
		Endpoint:  endpoint,
	})
}

func NewDeviceErrorMessage(operation string, err error) Message {
	return NewMessage(MessageTypeDeviceError, DeviceErrorData{
		Operation: operation,
		Error:     err.Error(),
	})
}
