package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())

	m.ObserveCall("command", "start", OutcomeSuccess, 10*time.Millisecond)
	m.ObserveCall("command", "start", OutcomeSuccess, 20*time.Millisecond)
	m.ObserveCall("command", "start", OutcomeFail, time.Millisecond)
	m.Inbound("notification")
	m.Dropped()
	m.SetRetryEntries("unreceived", 3)
	m.RetryReplayed("unsynced", OutcomeSuccess)
	m.StateTransition("running")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.calls.WithLabelValues("command", "start", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("command", "start", OutcomeFail)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inbound.WithLabelValues("notification")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.retryEntries.WithLabelValues("unreceived")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retryReplays.WithLabelValues("unsynced", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stateTransitions.WithLabelValues("running")))
}

func TestMetrics_PendingGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	pending := 4
	require.NoError(t, m.RegisterPending(func() float64 { return float64(pending) }))

	n, err := testutil.GatherAndCount(reg, "parabox_pending_calls")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	require.NoError(t, m.Register())
	require.NoError(t, m.RegisterPending(func() float64 { return 0 }))

	m.ObserveCall("command", "start", OutcomeSuccess, time.Millisecond)
	m.Inbound("command")
	m.Dropped()
	m.SetRetryEntries("q", 1)
	m.RetryReplayed("q", OutcomeFail)
	m.StateTransition("stopped")
}
