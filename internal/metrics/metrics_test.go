package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncOrdersCreated()
	m.IncBidsSubmitted()
	m.IncBidsSubmitted()
	m.IncAccept(OutcomeAccepted)
	m.IncAccept(OutcomeConflict)
	m.IncAccept(OutcomeConflict)
	m.IncMessagesSent()
	m.SubscriptionOpened()
	m.SubscriptionOpened()
	m.SubscriptionClosed()
	m.ObserveLockWait(3*time.Millisecond, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bidsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.acceptOutcomes.WithLabelValues(OutcomeAccepted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.acceptOutcomes.WithLabelValues(OutcomeConflict)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscriptions))

	count, err := testutil.GatherAndCount(reg, "procurement_order_lock_wait_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncOrdersCreated()
	m.IncAccept(OutcomeAccepted)
	m.ObserveLockWait(time.Second, false)

	unregistered := New(nil)
	unregistered.IncMessagesSent()
	unregistered.SubscriptionOpened()
}
