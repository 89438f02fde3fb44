package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/pkg/processor"
	"github.com/qs3c/billing_server/internal/pkg/queue"
	"github.com/qs3c/billing_server/internal/repository"
)

// ResyncReport 一次过期订阅核对的结果
type ResyncReport struct {
	Checked  int
	Updated  int
	Expired  int
	Failures int
}

// ReconcileService 定时对账：重放卡住的事件，核对账期已过的 ACTIVE 镜像
type ReconcileService struct {
	eventRepo *repository.EventRepository
	subRepo   *repository.SubscriptionRepository
	extractor *EventExtractor
	webhook   *WebhookService
	writer    *MirrorWriter
	queue     RetryQueue
	cfg       *config.Config
}

func NewReconcileService(
	eventRepo *repository.EventRepository,
	subRepo *repository.SubscriptionRepository,
	extractor *EventExtractor,
	webhook *WebhookService,
	writer *MirrorWriter,
	retryQueue RetryQueue,
	cfg *config.Config,
) *ReconcileService {
	return &ReconcileService{
		eventRepo: eventRepo,
		subRepo:   subRepo,
		extractor: extractor,
		webhook:   webhook,
		writer:    writer,
		queue:     retryQueue,
		cfg:       cfg,
	}
}

// RequeueUnprocessed 把超过 olderThan 仍未处理、且未耗尽重试次数的事件重新入队
func (s *ReconcileService) RequeueUnprocessed(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if s.queue == nil {
		return 0, nil
	}

	events, err := s.eventRepo.ListUnprocessed(s.cfg.Webhook.MaxAttempts, time.Now().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("list unprocessed events: %w", err)
	}

	queued := 0
	for _, event := range events {
		msg := &queue.RetryMessage{
			EventID:   event.EventID,
			EventType: event.EventType,
			Attempt:   event.Attempts,
		}
		if err := s.queue.Push(ctx, msg); err != nil {
			log.Error().Err(err).Str("event_id", event.EventID).Msg("failed to requeue event")
			continue
		}
		queued++
	}

	if queued > 0 {
		log.Info().Int("count", queued).Msg("requeued unprocessed events")
	}
	return queued, nil
}

// ResyncStale 拉取账期已过的 ACTIVE 镜像对应的远端订阅并覆盖本地；远端已不存在的标记为 EXPIRED
func (s *ReconcileService) ResyncStale(ctx context.Context, limit int) (*ResyncReport, error) {
	cutoff := time.Now().Add(-time.Duration(s.cfg.Billing.StaleGraceHours) * time.Hour)
	mirrors, err := s.subRepo.ListStaleActive(cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale subscriptions: %w", err)
	}

	report := &ResyncReport{}
	for _, mirror := range mirrors {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		source := fmt.Sprintf("resync:%d", mirror.ID)
		remote, err := s.extractor.retrieveSubscription(ctx, mirror.RemoteID())
		switch {
		case errors.Is(err, processor.ErrNotFound):
			if err := s.expire(ctx, source, mirror); err != nil {
				report.Failures++
				log.Error().Err(err).Int64("subscription_id", mirror.ID).Msg("failed to expire stale subscription")
				continue
			}
			report.Expired++
		case err != nil:
			report.Failures++
			log.Warn().Err(err).Int64("subscription_id", mirror.ID).Msg("failed to fetch remote subscription")
		default:
			if _, err := s.webhook.ApplyRemoteSubscription(ctx, source, remote); err != nil {
				report.Failures++
				log.Error().Err(err).Int64("subscription_id", mirror.ID).Msg("failed to resync subscription")
				continue
			}
			report.Updated++
		}
	}

	log.Info().
		Int("checked", report.Checked).
		Int("updated", report.Updated).
		Int("expired", report.Expired).
		Int("failures", report.Failures).
		Msg("stale subscription resync finished")
	return report, nil
}

func (s *ReconcileService) expire(ctx context.Context, source string, mirror *model.Subscription) error {
	_, err := s.writer.update(ctx, source, mirror, "remote subscription missing", func(m *model.Subscription) bool {
		if m.Status != model.SubscriptionStatusActive {
			return false
		}
		m.Status = model.SubscriptionStatusExpired
		m.AutoRenew = false
		return true
	})
	return err
}

// ReportDead 列出重试耗尽的事件，供人工处理
func (s *ReconcileService) ReportDead(ctx context.Context, limit int) ([]*model.ProcessedEvent, error) {
	events, err := s.eventRepo.ListDead(s.cfg.Webhook.MaxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead events: %w", err)
	}
	for _, event := range events {
		log.Warn().
			Str("event_id", event.EventID).
			Str("event_type", event.EventType).
			Int("attempts", event.Attempts).
			Str("last_error", event.LastError).
			Msg("dead event")
	}
	return events, nil
}
