package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sync"
	"time"

	"machine_control/internal/logger"
	"machine_control/internal/messages"
	"machine_control/internal/metrics"
	"machine_control/internal/models"

	"github.com/jonboulle/clockwork"
)

const defaultSendTimeout = 5 * time.Second

// Broadcast triggers, used as metric labels.
const (
	triggerClientUpdate = "client_update"
	triggerTemperature  = "temperature"
	triggerManual       = "manual"
)

// Send operations, used in TransportError and metric labels.
const (
	opInitialState = "initial_state"
	opBroadcast    = "broadcast"
	opErrorReply   = "error_reply"
)

var (
	ErrInvalidTemperature = errors.New("temperature must be a finite number")
	ErrUnsupportedMessage = errors.New("unsupported message")
	ErrRateLimited        = errors.New("too many updates, slow down")
	ErrManagerClosed      = errors.New("control manager is closed")
)

// ControlManager owns the authoritative machine state and the set of
// registered connections. Every mutation and its broadcast run under one
// mutex, so clients never observe a torn or reordered snapshot.
type ControlManager struct {
	mu             sync.Mutex
	state          models.MachineState
	lastTempUpdate time.Time
	conns          []Connection // insertion order
	closed         bool

	log         *logger.Logger
	clock       clockwork.Clock
	sendTimeout time.Duration
	jitter      float64
	randFloat   func() float64
}

// ManagerOption customises a ControlManager.
type ManagerOption func(*ControlManager)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) ManagerOption {
	return func(m *ControlManager) { m.clock = c }
}

// WithSendTimeout bounds every single send.
func WithSendTimeout(d time.Duration) ManagerOption {
	return func(m *ControlManager) {
		if d > 0 {
			m.sendTimeout = d
		}
	}
}

// WithTemperatureJitter adds up to maxDelta °C of random noise to the
// preserved temperature on every client update. Cosmetic only; 0 disables it.
func WithTemperatureJitter(maxDelta float64) ManagerOption {
	return func(m *ControlManager) {
		if maxDelta > 0 {
			m.jitter = maxDelta
		}
	}
}

// WithRandSource replaces the [0,1) generator used for jitter.
func WithRandSource(f func() float64) ManagerOption {
	return func(m *ControlManager) { m.randFloat = f }
}

// NewControlManager builds a manager starting from initial.
// It is created once at startup and closed once at shutdown.
func NewControlManager(initial models.MachineState, log *logger.Logger, opts ...ManagerOption) *ControlManager {
	if log == nil {
		log = logger.Nop()
	}
	m := &ControlManager{
		state:       initial,
		log:         log,
		clock:       clockwork.NewRealClock(),
		sendTimeout: defaultSendTimeout,
		randFloat:   rand.Float64,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.lastTempUpdate = m.clock.Now()
	return m
}

// Register sends the current snapshot to conn and, if that succeeds, adds it
// to the broadcast set. A failed initial send leaves the set untouched.
func (m *ControlManager) Register(ctx context.Context, conn Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}

	res := m.send(ctx, conn, m.frameLocked())
	if !res.OK() {
		metrics.RegistrationsTotal.WithLabelValues("failed").Inc()
		metrics.SendFailuresTotal.WithLabelValues("state").Inc()
		return &TransportError{ConnID: conn.ID(), Op: opInitialState, Err: res.Err}
	}

	if !slices.Contains(m.conns, conn) {
		m.conns = append(m.conns, conn)
		metrics.ConnectedClients.Set(float64(len(m.conns)))
	}
	metrics.RegistrationsTotal.WithLabelValues("ok").Inc()
	m.log.Infow("connection_registered", "conn_id", conn.ID(), "connections", len(m.conns))
	return nil
}

// Unregister removes conn from the broadcast set. Safe to call repeatedly.
func (m *ControlManager) Unregister(conn Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.removeLocked(conn) {
		m.log.Infow("connection_unregistered", "conn_id", conn.ID(), "connections", len(m.conns))
	}
}

// ApplyClientUpdate handles one decoded frame from conn. Rejections are
// answered to conn only and returned; applied updates are broadcast to all.
func (m *ControlManager) ApplyClientUpdate(ctx context.Context, conn Connection, msg messages.ClientMessage) error {
	switch msg := msg.(type) {
	case messages.UpdateRequest:
		return m.applyUpdate(ctx, conn, msg)
	case messages.DecodeFailure:
		m.reject(ctx, conn, msg.Err)
		return msg.Err
	default:
		err := fmt.Errorf("%w: %T", ErrUnsupportedMessage, msg)
		m.reject(ctx, conn, err)
		return err
	}
}

func (m *ControlManager) applyUpdate(ctx context.Context, conn Connection, req messages.UpdateRequest) error {
	// the codec validates too; the manager does not rely on it
	if err := req.NewState.Validate(); err != nil {
		bad := messages.NewBadStateError(req.NewState, err)
		m.reject(ctx, conn, bad)
		return bad
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// original_state is carried on the wire but not enforced: last writer wins.
	if req.OriginalState.MotorSpeed != m.state.MotorSpeed || req.OriginalState.ValveState != m.state.ValveState {
		m.log.Debugw("update_original_state_mismatch",
			"conn_id", conn.ID(),
			"client_motor_speed", req.OriginalState.MotorSpeed,
			"client_valve_state", req.OriginalState.ValveState,
			"motor_speed", m.state.MotorSpeed,
			"valve_state", m.state.ValveState,
		)
	}

	// clients never set temperature
	m.state = models.MachineState{
		MotorSpeed:  req.NewState.MotorSpeed,
		ValveState:  req.NewState.ValveState,
		Temperature: m.state.Temperature + m.jitterLocked(),
	}
	metrics.UpdatesAppliedTotal.Inc()
	m.log.Infow("state_updated",
		"conn_id", conn.ID(),
		"motor_speed", m.state.MotorSpeed,
		"valve_state", m.state.ValveState,
		"temperature", m.state.Temperature,
	)

	m.broadcastLocked(ctx, triggerClientUpdate)
	return nil
}

// MergeTemperature replaces only the temperature, stamps last_temp_update and
// broadcasts. It is the only write path not driven by a client.
func (m *ControlManager) MergeTemperature(ctx context.Context, celsius float64) error {
	if math.IsNaN(celsius) || math.IsInf(celsius, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidTemperature, celsius)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = m.state.WithTemperature(celsius)
	if now := m.clock.Now(); now.After(m.lastTempUpdate) {
		m.lastTempUpdate = now
	}
	metrics.TemperatureMergesTotal.Inc()
	metrics.TemperatureCelsius.Set(celsius)

	m.broadcastLocked(ctx, triggerTemperature)
	return nil
}

// Broadcast sends the current snapshot to every registered connection and
// returns one result per connection, in registration order.
func (m *ControlManager) Broadcast(ctx context.Context) []SendResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcastLocked(ctx, triggerManual)
}

// Snapshot returns the current state and the time of the last temperature merge.
func (m *ControlManager) Snapshot() (models.MachineState, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.lastTempUpdate
}

// ConnectionCount returns the number of registered connections.
func (m *ControlManager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Close closes every registered connection and refuses new registrations.
func (m *ControlManager) Close() {
	m.mu.Lock()
	conns := m.conns
	m.conns = nil
	m.closed = true
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	metrics.ConnectedClients.Set(0)
	m.log.Infow("control_manager_closed", "disconnected_clients", len(conns))
}

// broadcastLocked fans the current snapshot out concurrently. Each send is
// bounded by sendTimeout; failed connections are evicted and closed.
func (m *ControlManager) broadcastLocked(ctx context.Context, trigger string) []SendResult {
	start := time.Now()
	defer func() {
		metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
	}()
	metrics.BroadcastsTotal.WithLabelValues(trigger).Inc()

	// one client hanging up must not cancel delivery to the others
	ctx = context.WithoutCancel(ctx)
	frame := m.frameLocked()

	results := make([]SendResult, len(m.conns))
	var wg sync.WaitGroup
	for i, conn := range m.conns {
		wg.Add(1)
		go func(i int, conn Connection) {
			defer wg.Done()
			results[i] = m.send(ctx, conn, frame)
		}(i, conn)
	}
	wg.Wait()

	kept := make([]Connection, 0, len(m.conns))
	for i, conn := range m.conns {
		if results[i].OK() {
			kept = append(kept, conn)
			continue
		}
		m.evict(conn, &TransportError{ConnID: conn.ID(), Op: opBroadcast, Err: results[i].Err})
	}
	m.conns = kept
	metrics.ConnectedClients.Set(float64(len(m.conns)))

	return results
}

// reject answers conn with an error frame. Nothing is broadcast.
func (m *ControlManager) reject(ctx context.Context, conn Connection, cause error) {
	metrics.UpdatesRejectedTotal.WithLabelValues(rejectReason(cause)).Inc()
	m.log.Infow("update_rejected", "conn_id", conn.ID(), "err", cause)

	res := m.send(ctx, conn, messages.EncodeError(cause.Error()))
	if res.OK() {
		return
	}

	m.mu.Lock()
	m.removeLocked(conn)
	m.mu.Unlock()
	m.evict(conn, &TransportError{ConnID: conn.ID(), Op: opErrorReply, Err: res.Err})
}

// evict closes a connection whose send failed. Callers remove it from the set.
func (m *ControlManager) evict(conn Connection, err *TransportError) {
	kind := "state"
	if err.Op == opErrorReply {
		kind = "error"
	}
	metrics.SendFailuresTotal.WithLabelValues(kind).Inc()
	metrics.EvictionsTotal.Inc()
	m.log.Infow("connection_evicted", "conn_id", err.ConnID, "op", err.Op, "err", err.Err)
	_ = conn.Close()
}

// send delivers frame to conn within sendTimeout, even if conn ignores ctx.
func (m *ControlManager) send(ctx context.Context, conn Connection, frame []byte) SendResult {
	ctx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- conn.Send(ctx, frame) }()

	select {
	case err := <-done:
		return SendResult{ConnID: conn.ID(), Err: err}
	case <-ctx.Done():
		return SendResult{ConnID: conn.ID(), Err: ctx.Err()}
	}
}

func (m *ControlManager) frameLocked() []byte {
	return messages.EncodeStateUpdate(m.state, messages.Timestamp(m.lastTempUpdate))
}

func (m *ControlManager) removeLocked(conn Connection) bool {
	i := slices.Index(m.conns, conn)
	if i < 0 {
		return false
	}
	m.conns = slices.Delete(m.conns, i, i+1)
	metrics.ConnectedClients.Set(float64(len(m.conns)))
	return true
}

func (m *ControlManager) jitterLocked() float64 {
	if m.jitter <= 0 || m.randFloat == nil {
		return 0
	}
	return m.randFloat() * m.jitter
}

// rejectReason maps a rejection onto a low-cardinality metric label.
func rejectReason(err error) string {
	var derr *messages.DecodeError
	switch {
	case errors.As(err, &derr):
		return string(derr.Kind)
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnsupportedMessage):
		return "unsupported"
	default:
		return "other"
	}
}
