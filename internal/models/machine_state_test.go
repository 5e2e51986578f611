package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateState(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		raw       string
		want      MachineState
		wantKind  ValidationKind
		wantField string
	}{
		{
			name: "valid",
			raw:  `{"motor_speed":50,"valve_state":true,"temperature":21.5}`,
			want: MachineState{MotorSpeed: 50, ValveState: true, Temperature: 21.5},
		},
		{
			name: "bounds are inclusive",
			raw:  `{"motor_speed":100,"valve_state":false,"temperature":0}`,
			want: MachineState{MotorSpeed: 100},
		},
		{
			name: "extra keys ignored",
			raw:  `{"motor_speed":0,"valve_state":false,"temperature":20,"color":"red"}`,
			want: MachineState{Temperature: 20},
		},
		{name: "not an object", raw: `[1,2,3]`, wantKind: WrongType},
		{name: "null candidate", raw: `null`, wantKind: WrongType},
		{name: "missing motor_speed", raw: `{"valve_state":true,"temperature":20}`, wantKind: MissingField, wantField: FieldMotorSpeed},
		{name: "missing valve_state", raw: `{"motor_speed":1,"temperature":20}`, wantKind: MissingField, wantField: FieldValveState},
		{name: "missing temperature", raw: `{"motor_speed":1,"valve_state":true}`, wantKind: MissingField, wantField: FieldTemperature},
		{name: "speed as string", raw: `{"motor_speed":"fast","valve_state":true,"temperature":20}`, wantKind: WrongType, wantField: FieldMotorSpeed},
		{name: "valve as number", raw: `{"motor_speed":1,"valve_state":1,"temperature":20}`, wantKind: WrongType, wantField: FieldValveState},
		{name: "temperature null", raw: `{"motor_speed":1,"valve_state":true,"temperature":null}`, wantKind: WrongType, wantField: FieldTemperature},
		{name: "speed above range", raw: `{"motor_speed":150,"valve_state":true,"temperature":20}`, wantKind: OutOfRange, wantField: FieldMotorSpeed},
		{name: "speed below range", raw: `{"motor_speed":-0.5,"valve_state":true,"temperature":20}`, wantKind: OutOfRange, wantField: FieldMotorSpeed},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := ValidateState(json.RawMessage(tc.raw))
			if tc.wantKind == "" {
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
				return
			}

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected *ValidationError, got %v", err)
			assert.Equal(t, tc.wantKind, verr.Kind)
			assert.Equal(t, tc.wantField, verr.Field)
			assert.Equal(t, MachineState{}, got)
		})
	}
}

func TestMachineState_Validate(t *testing.T) {
	assert.NoError(t, DefaultState().Validate())
	assert.NoError(t, MachineState{MotorSpeed: 100}.Validate())

	err := MachineState{MotorSpeed: 100.01}.Validate()
	assert.True(t, errors.Is(err, &ValidationError{Kind: OutOfRange}))
	assert.False(t, errors.Is(err, &ValidationError{Kind: MissingField}))
}

func TestMachineState_WithTemperature(t *testing.T) {
	s := MachineState{MotorSpeed: 42, ValveState: true, Temperature: 20}
	got := s.WithTemperature(27.5)

	assert.Equal(t, MachineState{MotorSpeed: 42, ValveState: true, Temperature: 27.5}, got)
	assert.Equal(t, 20.0, s.Temperature, "receiver must not be mutated")
}

func TestValidationError_Messages(t *testing.T) {
	assert.Contains(t, (&ValidationError{Kind: MissingField, Field: "motor_speed"}).Error(), "motor_speed")
	assert.Contains(t, (&ValidationError{Kind: WrongType}).Error(), "JSON object")
	assert.Contains(t, (&ValidationError{Kind: OutOfRange, Field: "motor_speed", Value: 150.0}).Error(), "150")
}
