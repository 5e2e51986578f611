package service

import (
	"context"
	"time"

	"machine_control/internal/logger"

	"github.com/jonboulle/clockwork"
)

const defaultFetchTimeout = 10 * time.Second

// TemperatureSource supplies one Celsius reading per call.
type TemperatureSource interface {
	Name() string
	Fetch(ctx context.Context) (float64, error)
}

// TemperatureMerger is the single write path the feed may use.
type TemperatureMerger interface {
	MergeTemperature(ctx context.Context, celsius float64) error
}

// TemperatureFeedService polls a source on a fixed interval and merges each
// reading into the machine state.
type TemperatureFeedService struct {
	source       TemperatureSource
	target       TemperatureMerger
	log          *logger.Logger
	clock        clockwork.Clock
	fetchTimeout time.Duration
}

// FeedOption customises a TemperatureFeedService.
type FeedOption func(*TemperatureFeedService)

// WithFeedClock replaces the wall clock driving the ticker.
func WithFeedClock(c clockwork.Clock) FeedOption {
	return func(s *TemperatureFeedService) { s.clock = c }
}

// WithFetchTimeout bounds a single Fetch call.
func WithFetchTimeout(d time.Duration) FeedOption {
	return func(s *TemperatureFeedService) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// NewTemperatureFeedService returns a feed with defaults.
func NewTemperatureFeedService(source TemperatureSource, target TemperatureMerger, log *logger.Logger, opts ...FeedOption) *TemperatureFeedService {
	if log == nil {
		log = logger.Nop()
	}
	s := &TemperatureFeedService{
		source:       source,
		target:       target,
		log:          log,
		clock:        clockwork.NewRealClock(),
		fetchTimeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks at the given interval until ctx is canceled.
func (s *TemperatureFeedService) Run(ctx context.Context, interval time.Duration) {
	t := s.clock.NewTicker(interval)
	defer t.Stop()

	s.log.Infow("temperature_feed_started", "source", s.source.Name(), "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Infow("temperature_feed_stopped", "source", s.source.Name())
			return
		case <-t.Chan():
			_ = s.tick(ctx)
		}
	}
}

// tick fetches one reading and merges it. Failures are logged and skipped;
// the next tick tries again.
func (s *TemperatureFeedService) tick(ctx context.Context) error {
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	celsius, err := s.source.Fetch(fetchCtx)
	cancel()
	if err != nil {
		s.log.Errorw("temperature_fetch_failed", "source", s.source.Name(), "err", err)
		return err
	}

	if err := s.target.MergeTemperature(ctx, celsius); err != nil {
		s.log.Errorw("temperature_merge_failed", "source", s.source.Name(), "celsius", celsius, "err", err)
		return err
	}

	s.log.Infow("temperature_merged", "source", s.source.Name(), "celsius", celsius)
	return nil
}
