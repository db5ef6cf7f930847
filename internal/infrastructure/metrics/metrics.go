// Package metrics 结算链路的 Prometheus 指标
//
// 所有方法对 nil 接收者安全，测试和未开启指标时直接传 nil
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "campuspay"

type Metrics struct {
	charges             *prometheus.CounterVec
	webhookEvents       *prometheus.CounterVec
	persistenceWarnings prometheus.Counter
	unmatchedEvents     prometheus.Counter
	outboxMessages      *prometheus.CounterVec
	sweeperRuns         *prometheus.CounterVec
	processorLatency    *prometheus.HistogramVec
}

// New 创建并注册指标，reg 为 nil 时使用默认注册表
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		charges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "charges_total",
			Help:      "Charge creation attempts by result.",
		}, []string{"result"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Processor webhook events by kind and outcome.",
		}, []string{"kind", "outcome"}),
		persistenceWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_persistence_warnings_total",
			Help:      "Charges created at the processor whose provisional ledger row failed to persist.",
		}),
		unmatchedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_unmatched_total",
			Help:      "Verified settlement events that matched no ledger row.",
		}),
		outboxMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_messages_total",
			Help:      "Outbox relay publish results.",
		}, []string{"result"}),
		sweeperRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeper_reconciled_total",
			Help:      "Stale processing rows re-reconciled by the sweeper, by outcome.",
		}, []string{"outcome"}),
		processorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processor_request_duration_seconds",
			Help:      "Latency of calls to the payment processor.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.charges,
		m.webhookEvents,
		m.persistenceWarnings,
		m.unmatchedEvents,
		m.outboxMessages,
		m.sweeperRuns,
		m.processorLatency,
	)
	return m
}

func (m *Metrics) ChargeResult(result string) {
	if m == nil {
		return
	}
	m.charges.WithLabelValues(result).Inc()
}

func (m *Metrics) WebhookHandled(kind, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) PersistenceWarning() {
	if m == nil {
		return
	}
	m.persistenceWarnings.Inc()
}

func (m *Metrics) UnmatchedEvent() {
	if m == nil {
		return
	}
	m.unmatchedEvents.Inc()
}

func (m *Metrics) OutboxPublished(ok bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "error"
	}
	m.outboxMessages.WithLabelValues(result).Inc()
}

func (m *Metrics) SweeperReconciled(outcome string) {
	if m == nil {
		return
	}
	m.sweeperRuns.WithLabelValues(outcome).Inc()
}

// ObserveProcessor 记录一次处理方调用耗时，用法：defer m.ObserveProcessor("create_intent", time.Now())
func (m *Metrics) ObserveProcessor(op string, start time.Time) {
	if m == nil {
		return
	}
	m.processorLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
