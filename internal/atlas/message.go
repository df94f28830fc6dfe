package atlas

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Control channel methods.
const (
	MethodGet    = "get"
	MethodSet    = "set"
	MethodSub    = "sub"
	MethodUnsub  = "unsub"
	MethodPing   = "ping"
	MethodUpdate = "update" // device push, never sent by us
)

// Well-known capability parameters, readable on every model.
const (
	ParamModel       = "Model"
	ParamInputCount  = "InputCount"
	ParamOutputCount = "OutputCount"
)

// Request is an outbound control frame. Frames are newline-delimited JSON;
// the id correlates the device's acknowledgement back to the caller.
type Request struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Param  string   `json:"param,omitempty"`
	Value  *float64 `json:"value,omitempty"`
}

// NewRequest builds a request with a fresh correlation id.
func NewRequest(method, param string) Request {
	return Request{
		ID:     uuid.NewString(),
		Method: method,
		Param:  param,
	}
}

// NewSetRequest builds a set request carrying a value.
func NewSetRequest(param string, value float64) Request {
	req := NewRequest(MethodSet, param)
	req.Value = &value
	return req
}

// Encode serialises the request as a single newline-terminated frame.
func (r Request) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return append(data, '\n'), nil
}

// WireError is the error object in a device response.
type WireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *WireError) Error() string {
	return fmt.Sprintf("device error %d: %s", e.Code, e.Message)
}

// Message is a decoded inbound frame. A frame with an id is a response to
// one of our requests; a frame with method "update" and no id is an
// unsolicited parameter push.
type Message struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Param  string          `json:"param,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Error  *WireError      `json:"error,omitempty"`
}

// DecodeMessage parses one inbound frame (without the trailing newline).
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &msg, nil
}

// IsUpdate reports whether the message is an unsolicited parameter push.
func (m *Message) IsUpdate() bool {
	return m.ID == "" && m.Method == MethodUpdate
}

// Float returns the message value as a float64. Devices send numeric values
// for all audio parameters.
func (m *Message) Float() (float64, error) {
	if len(m.Value) == 0 {
		return 0, fmt.Errorf("%w: missing value", ErrDecode)
	}
	var f float64
	if err := json.Unmarshal(m.Value, &f); err != nil {
		// Some firmware quotes numeric values.
		var s string
		if serr := json.Unmarshal(m.Value, &s); serr == nil {
			if f, ferr := strconv.ParseFloat(s, 64); ferr == nil {
				return f, nil
			}
		}
		return 0, fmt.Errorf("%w: non-numeric value %s", ErrDecode, m.Value)
	}
	return f, nil
}

// Text returns the message value as a string. Capability parameters such as
// Model respond with strings.
func (m *Message) Text() (string, error) {
	if len(m.Value) == 0 {
		return "", fmt.Errorf("%w: missing value", ErrDecode)
	}
	var s string
	if err := json.Unmarshal(m.Value, &s); err == nil {
		return s, nil
	}
	// Numeric capability values (InputCount) come back as numbers.
	var f float64
	if err := json.Unmarshal(m.Value, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("%w: unexpected value %s", ErrDecode, m.Value)
}

// MeterReading is one channel's level in a meter datagram.
type MeterReading struct {
	Type  string  `json:"type"` // "input" or "output"
	Index int     `json:"index"`
	Level float64 `json:"level"` // dBFS
	Peak  float64 `json:"peak"`  // dBFS
	Clip  bool    `json:"clip"`
}

// MeterDatagram is one UDP metering packet covering all channels.
type MeterDatagram struct {
	Seq    uint64         `json:"seq"`
	TS     int64          `json:"ts"` // unix milliseconds
	Meters []MeterReading `json:"meters"`
}

// ParseMeterDatagram decodes a UDP metering packet.
func ParseMeterDatagram(data []byte) (*MeterDatagram, error) {
	var dg MeterDatagram
	if err := json.Unmarshal(data, &dg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &dg, nil
}
