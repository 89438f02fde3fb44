package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/pkg/processor"
	"github.com/qs3c/billing_server/internal/testutil"
)

func newTestExtractor(fake *testutil.FakeProcessor) *EventExtractor {
	cfg := &config.Config{Stripe: config.StripeConfig{RequestTimeout: time.Second}}
	return NewEventExtractor(fake, cfg, nil)
}

func TestFlexID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"string", `"cus_1"`, "cus_1"},
		{"object", `{"id":"cus_2","object":"customer"}`, "cus_2"},
		{"null", `null`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id flexID
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &id))
			assert.Equal(t, tt.want, string(id))
		})
	}
}

func TestEventExtractor_ExtractSubscription_Inline(t *testing.T) {
	fake := testutil.NewFakeProcessor()
	e := newTestExtractor(fake)
	ctx := context.Background()

	t.Run("current api shape with item periods", func(t *testing.T) {
		payload := json.RawMessage(`{
			"id": "sub_1",
			"object": "subscription",
			"customer": {"id": "cus_1", "object": "customer"},
			"status": "active",
			"cancel_at_period_end": true,
			"metadata": {"user_id": "9"},
			"items": {"data": [
				{"current_period_start": 1735689600, "current_period_end": 1738368000, "price": {"id": "price_gold"}}
			]}
		}`)

		sub, err := e.ExtractSubscription(ctx, payload)
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, "sub_1", sub.ID)
		assert.Equal(t, "cus_1", sub.CustomerID)
		assert.Equal(t, "active", sub.Status)
		assert.True(t, sub.CancelAtPeriodEnd)
		assert.Equal(t, []string{"price_gold"}, sub.PriceIDs)
		assert.Equal(t, "9", sub.Metadata["user_id"])
		require.NotNil(t, sub.CurrentPeriodStart)
		assert.Equal(t, int64(1735689600), sub.CurrentPeriodStart.Unix())
		assert.Equal(t, int64(1738368000), sub.CurrentPeriodEnd.Unix())
	})

	t.Run("legacy top level periods", func(t *testing.T) {
		payload := json.RawMessage(`{
			"id": "sub_2", "customer": "cus_2", "status": "past_due",
			"current_period_start": 100, "current_period_end": 200
		}`)

		sub, err := e.ExtractSubscription(ctx, payload)
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, "cus_2", sub.CustomerID)
		assert.Equal(t, int64(100), sub.CurrentPeriodStart.Unix())
		assert.Equal(t, int64(200), sub.CurrentPeriodEnd.Unix())
		assert.Empty(t, sub.PriceIDs)
	})

	assert.Equal(t, 0, fake.Calls())
}

func TestEventExtractor_ExtractSubscription_Fallback(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("missing status fetches by id", func(t *testing.T) {
		fake := testutil.NewFakeProcessor()
		fake.PutSubscription(&processor.Subscription{
			ID: "sub_3", Status: "active", CustomerID: "cus_3",
			CurrentPeriodStart: start, CurrentPeriodEnd: start.AddDate(0, 1, 0),
			PriceIDs: []string{"price_a"},
		})
		e := newTestExtractor(fake)

		sub, err := e.ExtractSubscription(ctx, json.RawMessage(`{"id":"sub_3"}`))
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, "active", sub.Status)
		assert.True(t, start.Equal(*sub.CurrentPeriodStart))
		assert.Equal(t, 1, fake.Calls())
	})

	t.Run("bare id string payload", func(t *testing.T) {
		fake := testutil.NewFakeProcessor()
		fake.PutSubscription(&processor.Subscription{ID: "sub_4", Status: "trialing"})
		e := newTestExtractor(fake)

		sub, err := e.ExtractSubscription(ctx, json.RawMessage(`"sub_4"`))
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, "sub_4", sub.ID)
		assert.Nil(t, sub.CurrentPeriodStart)
	})

	t.Run("malformed fields still recover id", func(t *testing.T) {
		fake := testutil.NewFakeProcessor()
		fake.PutSubscription(&processor.Subscription{ID: "sub_5", Status: "canceled"})
		e := newTestExtractor(fake)

		sub, err := e.ExtractSubscription(ctx, json.RawMessage(`{"id":"sub_5","status":"active","customer":42}`))
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, "canceled", sub.Status)
	})

	t.Run("no id is absent", func(t *testing.T) {
		fake := testutil.NewFakeProcessor()
		e := newTestExtractor(fake)

		sub, err := e.ExtractSubscription(ctx, json.RawMessage(`[1,2,3]`))
		require.NoError(t, err)
		assert.Nil(t, sub)
		assert.Equal(t, 0, fake.Calls())
	})

	t.Run("remote not found is absent", func(t *testing.T) {
		fake := testutil.NewFakeProcessor()
		e := newTestExtractor(fake)

		sub, err := e.ExtractSubscription(ctx, json.RawMessage(`{"id":"sub_gone"}`))
		require.NoError(t, err)
		assert.Nil(t, sub)
	})

	t.Run("transient failure propagates", func(t *testing.T) {
		fake := testutil.NewFakeProcessor()
		fake.SetErr(errors.New("connection reset"))
		e := newTestExtractor(fake)

		sub, err := e.ExtractSubscription(ctx, json.RawMessage(`{"id":"sub_6"}`))
		assert.Error(t, err)
		assert.Nil(t, sub)
	})
}

func TestEventExtractor_ExtractInvoice(t *testing.T) {
	e := newTestExtractor(testutil.NewFakeProcessor())

	t.Run("legacy subscription field", func(t *testing.T) {
		inv := e.ExtractInvoice(json.RawMessage(`{
			"id": "in_1", "subscription": "sub_1", "customer": "cus_1",
			"amount_paid": 1999, "currency": "usd", "billing_reason": "subscription_cycle"
		}`))
		require.NotNil(t, inv)
		assert.Equal(t, "sub_1", inv.SubscriptionID)
		assert.Equal(t, int64(1999), inv.AmountPaid)
		assert.Equal(t, "subscription_cycle", inv.BillingReason)
	})

	t.Run("parent subscription details", func(t *testing.T) {
		inv := e.ExtractInvoice(json.RawMessage(`{
			"id": "in_2", "customer": {"id": "cus_2"}, "amount_paid": 500, "currency": "eur",
			"billing_reason": "subscription_create",
			"parent": {"type": "subscription_details", "subscription_details": {"subscription": "sub_2"}}
		}`))
		require.NotNil(t, inv)
		assert.Equal(t, "sub_2", inv.SubscriptionID)
		assert.Equal(t, "cus_2", inv.CustomerID)
	})

	t.Run("no subscription", func(t *testing.T) {
		inv := e.ExtractInvoice(json.RawMessage(`{"id": "in_3", "amount_paid": 10}`))
		require.NotNil(t, inv)
		assert.Empty(t, inv.SubscriptionID)
	})

	t.Run("garbage", func(t *testing.T) {
		assert.Nil(t, e.ExtractInvoice(json.RawMessage(`not json`)))
		assert.Nil(t, e.ExtractInvoice(json.RawMessage(`{}`)))
	})
}

func TestEventExtractor_ExtractPaymentIntent(t *testing.T) {
	ctx := context.Background()

	t.Run("inline", func(t *testing.T) {
		e := newTestExtractor(testutil.NewFakeProcessor())
		pi, err := e.ExtractPaymentIntent(ctx, json.RawMessage(`{
			"id": "pi_1", "status": "requires_payment_method", "amount": 1999, "currency": "usd",
			"metadata": {"user_id": "3"},
			"last_payment_error": {"message": "Your card was declined."}
		}`))
		require.NoError(t, err)
		require.NotNil(t, pi)
		assert.Equal(t, "3", pi.Metadata["user_id"])
		assert.Equal(t, "Your card was declined.", pi.LastError)
	})

	t.Run("fallback", func(t *testing.T) {
		fake := testutil.NewFakeProcessor()
		fake.PutPaymentIntent(&processor.PaymentIntent{ID: "pi_2", Status: "succeeded", Metadata: map[string]string{"user_id": "4"}})
		e := newTestExtractor(fake)

		pi, err := e.ExtractPaymentIntent(ctx, json.RawMessage(`{"id":"pi_2"}`))
		require.NoError(t, err)
		require.NotNil(t, pi)
		assert.Equal(t, "succeeded", pi.Status)
		assert.Equal(t, "4", pi.Metadata["user_id"])
	})

	t.Run("fallback not found", func(t *testing.T) {
		e := newTestExtractor(testutil.NewFakeProcessor())
		pi, err := e.ExtractPaymentIntent(ctx, json.RawMessage(`{"id":"pi_missing"}`))
		require.NoError(t, err)
		assert.Nil(t, pi)
	})
}
