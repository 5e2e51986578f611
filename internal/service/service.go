package service

import (
	"context"
	"time"

	"machine_control/internal/logger"
	"machine_control/internal/messages"
	"machine_control/internal/models"
)

// Control is the connection registry and state-broadcast manager.
type Control interface {
	Register(ctx context.Context, conn Connection) error
	Unregister(conn Connection)
	ApplyClientUpdate(ctx context.Context, conn Connection, msg messages.ClientMessage) error
	MergeTemperature(ctx context.Context, celsius float64) error
	Broadcast(ctx context.Context) []SendResult
	Snapshot() (models.MachineState, time.Time)
	ConnectionCount() int
}

// TemperatureFeed runs the background loop that pulls sensor readings into the state.
// Stop via context cancellation in main() for graceful shutdown.
type TemperatureFeed interface {
	Run(ctx context.Context, interval time.Duration)
}

var _ Control = (*ControlManager)(nil)

// Service aggregates the sub-services the transport layer depends on.
type Service struct {
	Control
	TemperatureFeed
}

// NewService wires the manager and a temperature source into the service aggregate.
func NewService(control *ControlManager, source TemperatureSource, log *logger.Logger, opts ...FeedOption) *Service {
	return &Service{
		Control:         control,
		TemperatureFeed: NewTemperatureFeedService(source, control, log, opts...),
	}
}
