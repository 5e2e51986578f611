// Package client speaks the state sync protocol from the client side.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"machine_control/internal/messages"
	"machine_control/internal/models"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 5 * time.Second
	writeWait        = 5 * time.Second
)

// RejectedError is returned when the server answers an update with an error frame.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string { return "server rejected update: " + e.Message }

// Client is one websocket session with the server. It is not safe for
// concurrent use except for Close.
type Client struct {
	conn *websocket.Conn
}

// Dial opens a session. The server sends the current state as the first frame.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Next blocks for the next server frame. Cancelling ctx closes the session.
func (c *Client) Next(ctx context.Context) (messages.ServerMessage, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()

	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return messages.DecodeServerMessage(raw)
}

// NextState skips frames until a state update arrives. An error frame is
// returned as *RejectedError.
func (c *Client) NextState(ctx context.Context) (messages.StateUpdate, error) {
	msg, err := c.Next(ctx)
	if err != nil {
		return messages.StateUpdate{}, err
	}
	switch msg := msg.(type) {
	case messages.StateUpdate:
		return msg, nil
	case messages.ErrorMessage:
		return messages.StateUpdate{}, &RejectedError{Message: msg.Message}
	default:
		return messages.StateUpdate{}, fmt.Errorf("%w: %T", messages.ErrUnknownServerMessage, msg)
	}
}

// Update asks the server to move from original to next.
func (c *Client) Update(original, next models.MachineState) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, messages.EncodeUpdateRequest(original, next))
}

// Close ends the session with a normal close frame.
func (c *Client) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

// Change lists the fields a set command touches; nil leaves the field as is.
type Change struct {
	MotorSpeed *float64
	ValveState *bool
}

// Apply returns s with the change applied. Temperature is never changed.
func (ch Change) Apply(s models.MachineState) models.MachineState {
	if ch.MotorSpeed != nil {
		s.MotorSpeed = *ch.MotorSpeed
	}
	if ch.ValveState != nil {
		s.ValveState = *ch.ValveState
	}
	return s
}

// Set reads the current state, sends the change and returns the state the
// server broadcast in response.
func Set(ctx context.Context, c *Client, ch Change) (messages.StateUpdate, error) {
	current, err := c.NextState(ctx)
	if err != nil {
		return messages.StateUpdate{}, fmt.Errorf("read current state: %w", err)
	}

	next := ch.Apply(current.State)
	if err := c.Update(current.State, next); err != nil {
		return messages.StateUpdate{}, fmt.Errorf("send update: %w", err)
	}
	return c.NextState(ctx)
}

// Watch prints every frame to w until ctx is done or the server hangs up.
func Watch(ctx context.Context, c *Client, w io.Writer) error {
	for {
		msg, err := c.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if _, err := fmt.Fprintln(w, Format(msg)); err != nil {
			return err
		}
	}
}

// Format renders a frame as one line.
func Format(msg messages.ServerMessage) string {
	switch msg := msg.(type) {
	case messages.StateUpdate:
		ts := time.Unix(0, int64(msg.LastTempUpdate*float64(time.Second))).UTC()
		return fmt.Sprintf("motor_speed=%g valve_state=%t temperature=%.2f last_temp_update=%s",
			msg.State.MotorSpeed, msg.State.ValveState, msg.State.Temperature, ts.Format(time.RFC3339))
	case messages.ErrorMessage:
		return "error: " + msg.Message
	default:
		return fmt.Sprintf("unknown frame %T", msg)
	}
}
