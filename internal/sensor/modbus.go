package sensor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// Register tables a reading may come from.
const (
	RegisterInput   = "input"
	RegisterHolding = "holding"
)

// ModbusConfig configures the Modbus TCP source.
type ModbusConfig struct {
	Endpoint string
	UnitID   uint8
	Address  uint16
	Register string  // input | holding
	Scale    float64 // raw register value * Scale = Celsius
	Signed   bool
	Timeout  time.Duration
}

// ModbusSource reads one 16-bit register from a PLC or transmitter.
// Requests are serialized; the handler reconnects on demand.
type ModbusSource struct {
	mu      sync.Mutex
	cfg     ModbusConfig
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// NewModbusSource validates cfg. It does not dial; the first Fetch does.
func NewModbusSource(cfg ModbusConfig) (*ModbusSource, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("sensor modbus: endpoint required")
	}
	switch cfg.Register {
	case "":
		cfg.Register = RegisterInput
	case RegisterInput, RegisterHolding:
	default:
		return nil, fmt.Errorf("sensor modbus: unknown register table %q", cfg.Register)
	}
	if cfg.Scale == 0 {
		cfg.Scale = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID

	return &ModbusSource{
		cfg:     cfg,
		handler: h,
		client:  modbus.NewClient(h),
	}, nil
}

func (m *ModbusSource) Name() string { return KindModbus }

// Fetch reads the configured register. goburrow does not take a context, so
// the call is bounded by the handler timeout instead.
func (m *ModbusSource) Fetch(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		b   []byte
		err error
	)
	if m.cfg.Register == RegisterHolding {
		b, err = m.client.ReadHoldingRegisters(m.cfg.Address, 1)
	} else {
		b, err = m.client.ReadInputRegisters(m.cfg.Address, 1)
	}
	if err != nil {
		// drop the socket so the next tick redials
		_ = m.handler.Close()
		return 0, fmt.Errorf("modbus read %s register %d: %w", m.cfg.Register, m.cfg.Address, err)
	}
	return decodeTemperature(b, m.cfg.Scale, m.cfg.Signed)
}

// Close releases the TCP connection.
func (m *ModbusSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler.Close()
}

func decodeTemperature(b []byte, scale float64, signed bool) (float64, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("%w: register payload has %d bytes", ErrMalformedReading, len(b))
	}
	raw := binary.BigEndian.Uint16(b[:2])
	if signed {
		return float64(int16(raw)) * scale, nil
	}
	return float64(raw) * scale, nil
}
