package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/pkg/metrics"
	"github.com/qs3c/billing_server/internal/pkg/pubsub"
	"github.com/qs3c/billing_server/internal/repository"
)

// 乐观锁冲突时的最大重试次数
const maxMirrorRetries = 3

// ChangePublisher 发布镜像状态变化
type ChangePublisher interface {
	PublishChange(ctx context.Context, msg *pubsub.SubscriptionChanged) error
}

// MirrorWriter 镜像行的唯一写入口，负责带版本号的更新和状态变化通知
type MirrorWriter struct {
	subRepo   *repository.SubscriptionRepository
	metrics   metrics.Recorder
	publisher ChangePublisher
}

func NewMirrorWriter(subRepo *repository.SubscriptionRepository, recorder metrics.Recorder, publisher ChangePublisher) *MirrorWriter {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &MirrorWriter{
		subRepo:   subRepo,
		metrics:   recorder,
		publisher: publisher,
	}
}

// update 对镜像执行 mutate 并持久化。mutate 返回 false 表示无需写入。
// 版本冲突时重新加载最新行再执行 mutate，返回成功写入时的旧状态。
// 状态进入 ACTIVE 时记下触发的事件 ID。
func (w *MirrorWriter) update(ctx context.Context, eventID string, mirror *model.Subscription, reason string, mutate func(*model.Subscription) bool) (model.SubscriptionStatus, error) {
	for attempt := 0; attempt < maxMirrorRetries; attempt++ {
		prev := mirror.Status
		if !mutate(mirror) {
			return prev, nil
		}
		if prev != model.SubscriptionStatusActive && mirror.Status == model.SubscriptionStatusActive {
			mirror.ActivatedByEvent = eventID
		}

		err := w.subRepo.UpdateWithVersion(mirror)
		if err == nil {
			w.transitioned(ctx, eventID, mirror, prev, reason)
			return prev, nil
		}
		if !errors.Is(err, repository.ErrStaleMirror) {
			return prev, err
		}

		log.Debug().Int64("subscription_id", mirror.ID).Int("attempt", attempt+1).Msg("stale mirror, reloading")
		fresh, err := w.subRepo.GetByID(mirror.ID)
		if err != nil {
			return prev, err
		}
		*mirror = *fresh
	}
	return mirror.Status, fmt.Errorf("update mirror %d: %w", mirror.ID, repository.ErrStaleMirror)
}

// create 插入新镜像行
func (w *MirrorWriter) create(ctx context.Context, eventID string, mirror *model.Subscription, reason string) error {
	if mirror.Status == model.SubscriptionStatusActive {
		mirror.ActivatedByEvent = eventID
	}
	if err := w.subRepo.Create(mirror); err != nil {
		return err
	}
	w.transitioned(ctx, eventID, mirror, "", reason)
	return nil
}

func (w *MirrorWriter) transitioned(ctx context.Context, eventID string, mirror *model.Subscription, prev model.SubscriptionStatus, reason string) {
	if prev == mirror.Status {
		return
	}

	w.metrics.RecordMirrorTransition(string(prev), string(mirror.Status))
	log.Info().
		Str("event_id", eventID).
		Int64("subscription_id", mirror.ID).
		Int64("user_id", mirror.UserID).
		Str("remote_subscription_id", mirror.RemoteID()).
		Str("from", string(prev)).
		Str("to", string(mirror.Status)).
		Str("reason", reason).
		Msg("subscription mirror transitioned")

	if w.publisher == nil {
		return
	}
	err := w.publisher.PublishChange(ctx, &pubsub.SubscriptionChanged{
		EventID:              eventID,
		UserID:               mirror.UserID,
		SubscriptionID:       mirror.ID,
		RemoteSubscriptionID: mirror.RemoteID(),
		FromStatus:           string(prev),
		ToStatus:             string(mirror.Status),
		Reason:               reason,
	})
	if err != nil {
		log.Warn().Err(err).Int64("subscription_id", mirror.ID).Msg("failed to publish subscription change")
	}
}
