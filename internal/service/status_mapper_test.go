package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/qs3c/billing_server/internal/model"
)

func TestMapRemoteStatus(t *testing.T) {
	tests := []struct {
		remote string
		want   model.SubscriptionStatus
	}{
		{"active", model.SubscriptionStatusActive},
		{"trialing", model.SubscriptionStatusActive},
		{"canceled", model.SubscriptionStatusCancelled},
		{"incomplete", model.SubscriptionStatusPending},
		{"incomplete_expired", model.SubscriptionStatusPending},
		{"past_due", model.SubscriptionStatusExpired},
		{"unpaid", model.SubscriptionStatusExpired},
		{"  ACTIVE ", model.SubscriptionStatusActive},
		{"Past_Due", model.SubscriptionStatusExpired},
		{"paused", model.SubscriptionStatusPending},
		{"", model.SubscriptionStatusPending},
		{"something_new", model.SubscriptionStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			assert.Equal(t, tt.want, MapRemoteStatus(tt.remote))
		})
	}
}
