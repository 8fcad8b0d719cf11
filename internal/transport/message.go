package transport

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Message is an outbound JSON envelope: {"cmd": ..., <param>: <value>, ...}.
type Message map[string]any

func NewMessage(cmd string) Message {
	return Message{"cmd": cmd}
}

// With sets a parameter and returns the message for chaining.
func (m Message) With(key string, value any) Message {
	m[key] = value
	return m
}

func (m Message) Cmd() string {
	s, _ := m["cmd"].(string)
	return s
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Response is the device reply envelope.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    []int  `json:"data,omitempty"`
}

func (r Response) OK() bool { return r.Status == StatusOK }

// DeviceError is a well-formed reply in which the device reported failure.
type DeviceError struct {
	Command string
	Message string
}

func (e *DeviceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("device rejected %s", e.Command)
	}
	return fmt.Sprintf("device rejected %s: %s", e.Command, e.Message)
}

const responseSchemaText = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["status"],
  "properties": {
    "status":  {"enum": ["ok", "error"]},
    "message": {"type": "string"},
    "data":    {"type": "array", "items": {"type": "integer"}}
  }
}`

var responseSchema = jsonschema.MustCompileString("response.schema.json", responseSchemaText)

// DecodeResponse validates and parses one inbound envelope. Any structural
// problem is reported as ErrCorrupt.
func DecodeResponse(data []byte) (Response, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := responseSchema.Validate(doc); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var raw struct {
		Status  string    `json:"status"`
		Message string    `json:"message"`
		Data    []float64 `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	resp := Response{Status: raw.Status, Message: raw.Message}
	if raw.Data != nil {
		resp.Data = make([]int, len(raw.Data))
		for i, v := range raw.Data {
			resp.Data[i] = int(v)
		}
	}
	return resp, nil
}
