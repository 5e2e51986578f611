package service

import (
	"context"
	"errors"
	"testing"

	"machine_control/internal/messages"
	"machine_control/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordManagerActivity(t *testing.T) {
	m, _ := newTestManager(t)
	conns := register(t, m, "a", "b")
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ConnectedClients))

	applied := testutil.ToFloat64(metrics.UpdatesAppliedTotal)
	assert.NoError(t, m.ApplyClientUpdate(context.Background(), conns[0], updateRequest(5, true, 20)))
	assert.Equal(t, applied+1, testutil.ToFloat64(metrics.UpdatesAppliedTotal))

	malformed := testutil.ToFloat64(metrics.UpdatesRejectedTotal.WithLabelValues(string(messages.Malformed)))
	_ = m.ApplyClientUpdate(context.Background(), conns[0], messages.Decode([]byte(`nope`)))
	assert.Equal(t, malformed+1, testutil.ToFloat64(metrics.UpdatesRejectedTotal.WithLabelValues(string(messages.Malformed))))

	limited := testutil.ToFloat64(metrics.UpdatesRejectedTotal.WithLabelValues("rate_limited"))
	_ = m.ApplyClientUpdate(context.Background(), conns[0], messages.DecodeFailure{Err: ErrRateLimited})
	assert.Equal(t, limited+1, testutil.ToFloat64(metrics.UpdatesRejectedTotal.WithLabelValues("rate_limited")))

	evictions := testutil.ToFloat64(metrics.EvictionsTotal)
	conns[1].mu.Lock()
	conns[1].sendErr = errors.New("reset by peer")
	conns[1].mu.Unlock()
	m.Broadcast(context.Background())
	assert.Equal(t, evictions+1, testutil.ToFloat64(metrics.EvictionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ConnectedClients))

	assert.NoError(t, m.MergeTemperature(context.Background(), 24.5))
	assert.Equal(t, 24.5, testutil.ToFloat64(metrics.TemperatureCelsius))
}
