package observe_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/nadzzz/aura/internal/message"
	"github.com/nadzzz/aura/internal/observe"
)

func TestObserveSegment(t *testing.T) {
	t.Parallel()

	m := observe.NewMetrics(prometheus.NewRegistry())

	m.ObserveSegment(message.SegmentResult{
		Command: message.ResolvedCommand{IntentID: "close_tab", Source: message.SourceRule},
		Outcome: message.Outcome{Invoked: true, Success: true},
	})
	m.ObserveSegment(message.SegmentResult{
		Command: message.ResolvedCommand{IntentID: "unknown", Source: message.SourceModel},
		Outcome: message.Outcome{ErrorKind: message.KindModelTimeout},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Segments.WithLabelValues("rule", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Segments.WithLabelValues("model", "model_timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Intents.WithLabelValues("close_tab", "success")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Intents))
}

func TestTurnStarted(t *testing.T) {
	t.Parallel()

	m := observe.NewMetrics(prometheus.NewRegistry())
	end := m.TurnStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveTurns))
	end()
	assert.Zero(t, testutil.ToFloat64(m.ActiveTurns))

	m.ObserveFallback("local", 120*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(m.FallbackLatency))
}

func TestNilMetrics(t *testing.T) {
	t.Parallel()

	var m *observe.Metrics
	m.ObserveSegment(message.SegmentResult{})
	m.ObserveFallback("none", time.Second)
	m.TurnStarted()()
}

func TestLoggerWithoutSpan(t *testing.T) {
	t.Parallel()

	ctx, span := observe.StartSpan(context.Background(), "test")
	defer span.End()
	assert.NotNil(t, observe.Logger(ctx))
}
