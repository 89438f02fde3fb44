package service

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/qs3c/billing_server/internal/model"
)

// MapRemoteStatus 把支付平台的订阅状态映射为本地状态，未知状态按 PENDING 处理
func MapRemoteStatus(remote string) model.SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(remote)) {
	case "active", "trialing":
		return model.SubscriptionStatusActive
	case "canceled":
		return model.SubscriptionStatusCancelled
	case "incomplete", "incomplete_expired":
		return model.SubscriptionStatusPending
	case "past_due", "unpaid":
		return model.SubscriptionStatusExpired
	default:
		log.Warn().Str("remote_status", remote).Msg("unknown remote subscription status, treating as PENDING")
		return model.SubscriptionStatusPending
	}
}
