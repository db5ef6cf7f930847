package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ChargeResult("created")
	m.ChargeResult("created")
	m.ChargeResult("reused")
	m.WebhookHandled("charge.succeeded", "updated")
	m.PersistenceWarning()
	m.UnmatchedEvent()
	m.OutboxPublished(true)
	m.OutboxPublished(false)
	m.SweeperReconciled("updated")
	m.ObserveProcessor("create_intent", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.charges.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.charges.WithLabelValues("reused")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("charge.succeeded", "updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.persistenceWarnings))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unmatchedEvents))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outboxMessages.WithLabelValues("error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.processorLatency))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ChargeResult("created")
		m.WebhookHandled("k", "o")
		m.PersistenceWarning()
		m.UnmatchedEvent()
		m.OutboxPublished(true)
		m.SweeperReconciled("x")
		m.ObserveProcessor("op", time.Now())
	})
}
