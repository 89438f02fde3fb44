package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/pkg/processor"
	"github.com/qs3c/billing_server/internal/repository"
)

// SubscriptionGuard 保证每个用户至多一条 ACTIVE 镜像
type SubscriptionGuard struct {
	subRepo      *repository.SubscriptionRepository
	writer       *MirrorWriter
	client       processor.Client
	remoteCancel bool
	timeout      time.Duration
}

func NewSubscriptionGuard(subRepo *repository.SubscriptionRepository, writer *MirrorWriter, client processor.Client, cfg *config.Config) *SubscriptionGuard {
	timeout := cfg.Stripe.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SubscriptionGuard{
		subRepo:      subRepo,
		writer:       writer,
		client:       client,
		remoteCancel: cfg.Billing.RemoteCancelDuplicates,
		timeout:      timeout,
	}
}

// CancelDuplicates 新订阅创建时，取消该用户其他已关联远端的 ACTIVE/PENDING 镜像。
// 未关联远端的 PENDING 行是本次订阅的预建行，由引擎认领，这里不处理。
func (g *SubscriptionGuard) CancelDuplicates(ctx context.Context, eventID string, userID int64, keepRemoteID string) ([]*model.Subscription, error) {
	candidates, err := g.subRepo.ListByUserAndStatuses(userID, []model.SubscriptionStatus{
		model.SubscriptionStatusActive,
		model.SubscriptionStatusPending,
	})
	if err != nil {
		return nil, err
	}

	var cancelled []*model.Subscription
	for _, mirror := range candidates {
		remoteID := mirror.RemoteID()
		if remoteID == "" || remoteID == keepRemoteID {
			continue
		}

		if err := g.cancel(ctx, eventID, mirror, "duplicate subscription"); err != nil {
			return cancelled, err
		}
		cancelled = append(cancelled, mirror)

		log.Warn().
			Str("event_id", eventID).
			Int64("user_id", userID).
			Str("cancelled_remote_id", remoteID).
			Str("kept_remote_id", keepRemoteID).
			Msg("duplicate subscription cancelled locally")

		if g.remoteCancel {
			g.cancelRemote(ctx, remoteID)
		}
	}
	return cancelled, nil
}

// CancelOtherPending 订阅删除时清理该用户遗留的 PENDING 镜像
func (g *SubscriptionGuard) CancelOtherPending(ctx context.Context, eventID string, userID, exceptID int64) ([]*model.Subscription, error) {
	pending, err := g.subRepo.ListByUserAndStatuses(userID, []model.SubscriptionStatus{
		model.SubscriptionStatusPending,
	})
	if err != nil {
		return nil, err
	}

	var cancelled []*model.Subscription
	for _, mirror := range pending {
		if mirror.ID == exceptID {
			continue
		}
		if err := g.cancel(ctx, eventID, mirror, "abandoned pending subscription"); err != nil {
			return cancelled, err
		}
		cancelled = append(cancelled, mirror)
	}
	return cancelled, nil
}

func (g *SubscriptionGuard) cancel(ctx context.Context, eventID string, mirror *model.Subscription, reason string) error {
	_, err := g.writer.update(ctx, eventID, mirror, reason, func(m *model.Subscription) bool {
		// 重新加载后可能已经不是待取消状态
		if m.Status != model.SubscriptionStatusActive && m.Status != model.SubscriptionStatusPending {
			return false
		}
		m.Status = model.SubscriptionStatusCancelled
		m.AutoRenew = false
		return true
	})
	return err
}

func (g *SubscriptionGuard) cancelRemote(ctx context.Context, remoteID string) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.client.CancelSubscription(callCtx, remoteID); err != nil {
		log.Error().Err(err).Str("remote_subscription_id", remoteID).Msg("failed to cancel duplicate subscription on processor")
		return
	}
	log.Info().Str("remote_subscription_id", remoteID).Msg("duplicate subscription cancelled on processor")
}
