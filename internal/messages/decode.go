package messages

import (
	"encoding/json"
	"errors"
	"fmt"

	"machine_control/internal/models"
)

// DecodeKind classifies decode failures.
type DecodeKind string

const (
	Malformed          DecodeKind = "malformed"
	UnknownMessageType DecodeKind = "unknown_message_type"
	MissingPayloadKeys DecodeKind = "missing_payload_keys"
	BadState           DecodeKind = "bad_state"
)

// DecodeError is returned for any inbound frame the server cannot act on.
type DecodeError struct {
	Kind    DecodeKind
	Message string
	Payload json.RawMessage // offending payload, echoed for diagnostics
	Err     error
}

func (e *DecodeError) Error() string {
	return e.Message
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is matches any *DecodeError of the same kind.
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	return ok && t.Kind == e.Kind
}

const (
	keyOriginalState = "original_state"
	keyNewState      = "new_state"
)

type envelopeJSON struct {
	Type *MessageType    `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode never fails: undecodable frames become a DecodeFailure.
func Decode(raw []byte) ClientMessage {
	req, err := DecodeClientMessage(raw)
	if err != nil {
		return DecodeFailure{Err: err}
	}
	return req
}

// DecodeClientMessage parses and validates one inbound frame.
func DecodeClientMessage(raw []byte) (UpdateRequest, error) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		return UpdateRequest{}, err
	}

	switch *env.Type {
	case TypeUpdate:
		return decodeUpdateRequest(env.Data)
	default:
		return UpdateRequest{}, &DecodeError{
			Kind:    UnknownMessageType,
			Message: fmt.Sprintf("Invalid message type %q", string(*env.Type)),
		}
	}
}

func decodeEnvelope(raw []byte) (envelopeJSON, error) {
	var env envelopeJSON
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelopeJSON{}, &DecodeError{
			Kind:    Malformed,
			Message: "Malformed message: expected a JSON object",
			Err:     err,
		}
	}
	if env.Type == nil {
		return envelopeJSON{}, &DecodeError{
			Kind:    UnknownMessageType,
			Message: "Invalid message type: 'type' field is required",
		}
	}
	return env, nil
}

func decodeUpdateRequest(data json.RawMessage) (UpdateRequest, error) {
	var body map[string]json.RawMessage
	if len(data) == 0 || json.Unmarshal(data, &body) != nil || body == nil {
		return UpdateRequest{}, &DecodeError{
			Kind:    MissingPayloadKeys,
			Message: "'data' field is required and must be an object.",
			Payload: data,
		}
	}

	rawOriginal, ok := body[keyOriginalState]
	if !ok {
		return UpdateRequest{}, missingKey(keyOriginalState)
	}
	rawNew, ok := body[keyNewState]
	if !ok {
		return UpdateRequest{}, missingKey(keyNewState)
	}

	original, err := models.ValidateState(rawOriginal)
	if err != nil {
		return UpdateRequest{}, badState("original", rawOriginal, err)
	}
	next, err := models.ValidateState(rawNew)
	if err != nil {
		return UpdateRequest{}, badState("new", rawNew, err)
	}

	return UpdateRequest{OriginalState: original, NewState: next}, nil
}

func missingKey(key string) *DecodeError {
	return &DecodeError{
		Kind:    MissingPayloadKeys,
		Message: fmt.Sprintf("'%s' field is required.", key),
	}
}

func badState(which string, payload json.RawMessage, cause error) *DecodeError {
	return &DecodeError{
		Kind:    BadState,
		Message: fmt.Sprintf("Invalid %s state data (%v). %s", which, cause, string(payload)),
		Payload: payload,
		Err:     cause,
	}
}

// NewBadStateError wraps a validation failure detected after decoding.
func NewBadStateError(state models.MachineState, cause error) *DecodeError {
	payload, _ := json.Marshal(state)
	return badState("new", payload, cause)
}

// ---- client side ----

type serverEnvelopeJSON struct {
	Type           MessageType     `json:"type"`
	Data           json.RawMessage `json:"data"`
	LastTempUpdate *float64        `json:"last_temp_update"`
}

// ErrUnknownServerMessage is returned by DecodeServerMessage for an unrecognised type.
var ErrUnknownServerMessage = errors.New("unknown server message type")

// DecodeServerMessage parses a frame produced by EncodeStateUpdate or EncodeError.
func DecodeServerMessage(raw []byte) (ServerMessage, error) {
	var env serverEnvelopeJSON
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode server message: %w", err)
	}

	switch env.Type {
	case TypeUpdate:
		state, err := models.ValidateState(env.Data)
		if err != nil {
			return nil, fmt.Errorf("decode state update: %w", err)
		}
		msg := StateUpdate{State: state}
		if env.LastTempUpdate != nil {
			msg.LastTempUpdate = *env.LastTempUpdate
		}
		return msg, nil
	case TypeError:
		var body errorBody
		if err := json.Unmarshal(env.Data, &body); err != nil {
			return nil, fmt.Errorf("decode error message: %w", err)
		}
		return ErrorMessage{Message: body.Message}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownServerMessage, string(env.Type))
	}
}
