package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Motor speed bounds, in percent of rated speed.
const (
	MinMotorSpeed = 0.0
	MaxMotorSpeed = 100.0
)

// Default snapshot values used when nothing else is configured.
const (
	DefaultTemperatureC = 25.0
)

// JSON field names of MachineState.
const (
	FieldMotorSpeed  = "motor_speed"
	FieldValveState  = "valve_state"
	FieldTemperature = "temperature"
)

// MachineState is the shared record every client sees.
type MachineState struct {
	MotorSpeed  float64 `json:"motor_speed" example:"50"` // 0..100
	ValveState  bool    `json:"valve_state" example:"true"`
	Temperature float64 `json:"temperature" example:"21.5"` // °C, server-owned
}

// DefaultState returns the snapshot a fresh server starts from.
func DefaultState() MachineState {
	return MachineState{
		MotorSpeed:  0,
		ValveState:  false,
		Temperature: DefaultTemperatureC,
	}
}

// Validate checks the invariants of an already typed state.
func (s MachineState) Validate() error {
	if s.MotorSpeed < MinMotorSpeed || s.MotorSpeed > MaxMotorSpeed || math.IsNaN(s.MotorSpeed) {
		return &ValidationError{
			Kind:  OutOfRange,
			Field: FieldMotorSpeed,
			Value: s.MotorSpeed,
		}
	}
	return nil
}

// WithTemperature returns a copy of s with only the temperature replaced.
func (s MachineState) WithTemperature(celsius float64) MachineState {
	s.Temperature = celsius
	return s
}

// ValidationKind classifies why a candidate state was rejected.
type ValidationKind string

const (
	MissingField ValidationKind = "missing_field"
	WrongType    ValidationKind = "wrong_type"
	OutOfRange   ValidationKind = "out_of_range"
)

// ValidationError is returned by ValidateState and MachineState.Validate.
type ValidationError struct {
	Kind  ValidationKind
	Field string // empty when the candidate itself is not an object
	Value any
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case MissingField:
		return fmt.Sprintf("missing field %q", e.Field)
	case WrongType:
		if e.Field == "" {
			return "state must be a JSON object"
		}
		return fmt.Sprintf("field %q has the wrong type", e.Field)
	case OutOfRange:
		return fmt.Sprintf("field %q out of range [%g, %g]: %v", e.Field, MinMotorSpeed, MaxMotorSpeed, e.Value)
	default:
		return fmt.Sprintf("invalid state: %s", e.Kind)
	}
}

// Is matches any *ValidationError of the same kind, so callers can write
// errors.Is(err, &ValidationError{Kind: OutOfRange}).
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Field == "" || t.Field == e.Field)
}

var jsonNull = []byte("null")

// ValidateState decodes a raw JSON candidate into a MachineState.
// All three fields must be present with the right JSON type and
// motor_speed must lie in [MinMotorSpeed, MaxMotorSpeed]. Extra keys are ignored.
func ValidateState(raw json.RawMessage) (MachineState, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return MachineState{}, &ValidationError{Kind: WrongType}
	}

	var s MachineState
	if err := decodeField(fields, FieldMotorSpeed, &s.MotorSpeed); err != nil {
		return MachineState{}, err
	}
	if err := decodeField(fields, FieldValveState, &s.ValveState); err != nil {
		return MachineState{}, err
	}
	if err := decodeField(fields, FieldTemperature, &s.Temperature); err != nil {
		return MachineState{}, err
	}

	if err := s.Validate(); err != nil {
		return MachineState{}, err
	}
	return s, nil
}

// decodeField unmarshals fields[name] into dst, mapping failures onto ValidationError.
func decodeField(fields map[string]json.RawMessage, name string, dst any) error {
	v, ok := fields[name]
	if !ok {
		return &ValidationError{Kind: MissingField, Field: name}
	}
	// null would silently decode to the zero value
	if bytes.Equal(bytes.TrimSpace(v), jsonNull) {
		return &ValidationError{Kind: WrongType, Field: name, Value: nil}
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return &ValidationError{Kind: WrongType, Field: name, Value: string(v)}
	}
	return nil
}
