package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheus_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg, "test")

	m.RecordWebhookEvent("invoice.payment_succeeded", "processed")
	m.RecordWebhookEvent("invoice.payment_succeeded", "processed")
	m.RecordHandlerError("invoice.payment_succeeded", "dispatch")
	m.RecordPointsAwarded("activation", 100)
	m.RecordPointsAwarded("renewal", 50)
	m.RecordMirrorTransition("PENDING", "ACTIVE")
	m.RecordRemoteCall("subscriptions.retrieve", "ok")
	m.RecordWebhookDuration("invoice.payment_succeeded", 20*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.webhookEventsTotal.WithLabelValues("invoice.payment_succeeded", "processed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.handlerErrorsTotal.WithLabelValues("invoice.payment_succeeded", "dispatch")))
	assert.Equal(t, float64(100), testutil.ToFloat64(m.pointsAwarded.WithLabelValues("activation")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transitionsTotal.WithLabelValues("PENDING", "ACTIVE")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.remoteCallsTotal.WithLabelValues("subscriptions.retrieve", "ok")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.webhookDuration))
}

func TestNoop(t *testing.T) {
	var r Recorder = Noop{}
	assert.NotPanics(t, func() {
		r.RecordWebhookEvent("a", "b")
		r.RecordPointsAwarded("activation", 1)
	})
}
