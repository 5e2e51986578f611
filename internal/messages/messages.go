// Package messages defines the websocket wire envelopes exchanged with clients
// and the codec that turns raw frames into typed messages.
package messages

import (
	"encoding/json"
	"fmt"
	"time"

	"machine_control/internal/models"
)

// MessageType is the "type" discriminator of every envelope.
type MessageType string

const (
	TypeUpdate MessageType = "update"
	TypeError  MessageType = "error"
)

// ---- server -> client ----

// ServerMessage is one of StateUpdate or ErrorMessage.
type ServerMessage interface{ isServerMessage() }

// StateUpdate carries the full current snapshot.
type StateUpdate struct {
	State          models.MachineState
	LastTempUpdate float64 // seconds since the Unix epoch
}

// ErrorMessage is sent only to the client whose frame was rejected.
type ErrorMessage struct {
	Message string
}

func (StateUpdate) isServerMessage()  {}
func (ErrorMessage) isServerMessage() {}

// ---- client -> server ----

// ClientMessage is one of UpdateRequest or DecodeFailure.
type ClientMessage interface{ isClientMessage() }

// UpdateRequest asks the server to replace the machine state.
// OriginalState is what the client last saw; it is not used for conflict detection.
type UpdateRequest struct {
	OriginalState models.MachineState
	NewState      models.MachineState
}

// DecodeFailure wraps a frame that could not be decoded, so it can still be
// routed to the manager and answered with an error frame.
type DecodeFailure struct {
	Err error
}

func (UpdateRequest) isClientMessage() {}
func (DecodeFailure) isClientMessage() {}

// ---- JSON shapes ----

type stateUpdateJSON struct {
	Type           MessageType         `json:"type"`
	Data           models.MachineState `json:"data"`
	LastTempUpdate float64             `json:"last_temp_update"`
}

type errorBody struct {
	Message string `json:"message"`
}

type errorJSON struct {
	Type MessageType `json:"type"`
	Data errorBody   `json:"data"`
}

type updateRequestBody struct {
	OriginalState models.MachineState `json:"original_state"`
	NewState      models.MachineState `json:"new_state"`
}

type updateRequestJSON struct {
	Type MessageType       `json:"type"`
	Data updateRequestBody `json:"data"`
}

// EncodeStateUpdate serializes a state frame.
func EncodeStateUpdate(state models.MachineState, lastTempUpdate float64) []byte {
	return mustMarshal(stateUpdateJSON{
		Type:           TypeUpdate,
		Data:           state,
		LastTempUpdate: lastTempUpdate,
	})
}

// EncodeError serializes an error frame.
func EncodeError(message string) []byte {
	return mustMarshal(errorJSON{
		Type: TypeError,
		Data: errorBody{Message: message},
	})
}

// EncodeUpdateRequest serializes the frame a client sends to change state.
func EncodeUpdateRequest(original, next models.MachineState) []byte {
	return mustMarshal(updateRequestJSON{
		Type: TypeUpdate,
		Data: updateRequestBody{OriginalState: original, NewState: next},
	})
}

// Timestamp converts t to the float seconds-since-epoch used on the wire.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// mustMarshal only fails on non-finite floats, which the manager never stores.
func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("messages: marshal %T: %v", v, err))
	}
	return b
}
