// Package metrics 记录事件处理与积分发放指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder 业务指标接口，未启用监控时使用 Noop
type Recorder interface {
	RecordWebhookEvent(eventType, status string)
	RecordWebhookDuration(eventType string, duration time.Duration)
	RecordHandlerError(eventType, stage string)
	RecordPointsAwarded(awardKind string, points int64)
	RecordMirrorTransition(from, to string)
	RecordRemoteCall(endpoint, status string)
}

// Noop 不做任何记录
type Noop struct{}

func (Noop) RecordWebhookEvent(string, string) {}
func (Noop) RecordWebhookDuration(string, time.Duration) {}
func (Noop) RecordHandlerError(string, string) {}
func (Noop) RecordPointsAwarded(string, int64) {}
func (Noop) RecordMirrorTransition(string, string) {}
func (Noop) RecordRemoteCall(string, string) {}

// Prometheus 基于 client_golang 的实现
type Prometheus struct {
	webhookEventsTotal *prometheus.CounterVec
	webhookDuration    *prometheus.HistogramVec
	handlerErrorsTotal *prometheus.CounterVec
	pointsAwarded      *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	remoteCallsTotal   *prometheus.CounterVec
}

func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	factory := promauto.With(reg)

	return &Prometheus{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Total number of payment processor events handled.",
		}, []string{"event_type", "status"}),

		webhookDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_processing_duration_seconds",
			Help:      "Duration of event processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		handlerErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "handler_errors_total",
			Help:      "Total number of event handler errors.",
		}, []string{"event_type", "stage"}),

		pointsAwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "points_awarded_total",
			Help:      "Total points credited to wallets.",
		}, []string{"award_kind"}),

		transitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "mirror_transitions_total",
			Help:      "Total number of subscription mirror status transitions.",
		}, []string{"from", "to"}),

		remoteCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "remote_calls_total",
			Help:      "Total number of calls to the payment processor.",
		}, []string{"endpoint", "status"}),
	}
}

func (m *Prometheus) RecordWebhookEvent(eventType, status string) {
	m.webhookEventsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *Prometheus) RecordWebhookDuration(eventType string, duration time.Duration) {
	m.webhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *Prometheus) RecordHandlerError(eventType, stage string) {
	m.handlerErrorsTotal.WithLabelValues(eventType, stage).Inc()
}

func (m *Prometheus) RecordPointsAwarded(awardKind string, points int64) {
	m.pointsAwarded.WithLabelValues(awardKind).Add(float64(points))
}

func (m *Prometheus) RecordMirrorTransition(from, to string) {
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *Prometheus) RecordRemoteCall(endpoint, status string) {
	m.remoteCallsTotal.WithLabelValues(endpoint, status).Inc()
}
