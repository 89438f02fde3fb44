package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/pkg/lock"
	"github.com/qs3c/billing_server/internal/pkg/metrics"
	"github.com/qs3c/billing_server/internal/pkg/processor"
	"github.com/qs3c/billing_server/internal/pkg/queue"
	"github.com/qs3c/billing_server/internal/repository"
)

// ErrEventInFlight 同一事件正由另一次投递处理
var ErrEventInFlight = errors.New("事件正在处理中")

const (
	EventSubscriptionCreated       = "customer.subscription.created"
	EventSubscriptionUpdated       = "customer.subscription.updated"
	EventSubscriptionDeleted       = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded   = "invoice.payment_succeeded"
	EventInvoicePaymentFailed      = "invoice.payment_failed"
	EventPaymentIntentSucceeded    = "payment_intent.succeeded"
	EventPaymentIntentPaymentFails = "payment_intent.payment_failed"
)

// 只记录日志、不改变状态的事件类型
var inertEventTypes = []string{
	"customer.created",
	"customer.updated",
	"setup_intent.created",
	"setup_intent.succeeded",
	"setup_intent.setup_failed",
	"setup_intent.canceled",
	"charge.succeeded",
	"invoice.created",
	"invoice.finalized",
}

// 首张账单由激活积分覆盖，不再发放续费积分
const billingReasonSubscriptionCreate = "subscription_create"

// Locker 事件级互斥
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RetryQueue 失败事件的重放队列
type RetryQueue interface {
	Push(ctx context.Context, msg *queue.RetryMessage) error
}

type handlerFunc func(ctx context.Context, env *processor.Envelope) error

// WebhookService 支付平台事件的对账引擎
type WebhookService struct {
	eventRepo   *repository.EventRepository
	subRepo     *repository.SubscriptionRepository
	planRepo    *repository.PlanRepository
	paymentRepo *repository.PaymentRepository
	extractor   *EventExtractor
	points      *PointsService
	revenue     *RevenueService
	guard       *SubscriptionGuard
	writer      *MirrorWriter
	metrics     metrics.Recorder
	cfg         *config.Config

	locker     Locker
	retryQueue RetryQueue

	handlers map[string]handlerFunc
}

func NewWebhookService(
	eventRepo *repository.EventRepository,
	subRepo *repository.SubscriptionRepository,
	planRepo *repository.PlanRepository,
	paymentRepo *repository.PaymentRepository,
	extractor *EventExtractor,
	points *PointsService,
	revenue *RevenueService,
	guard *SubscriptionGuard,
	writer *MirrorWriter,
	recorder metrics.Recorder,
	cfg *config.Config,
) *WebhookService {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	s := &WebhookService{
		eventRepo:   eventRepo,
		subRepo:     subRepo,
		planRepo:    planRepo,
		paymentRepo: paymentRepo,
		extractor:   extractor,
		points:      points,
		revenue:     revenue,
		guard:       guard,
		writer:      writer,
		metrics:     recorder,
		cfg:         cfg,
	}

	s.handlers = map[string]handlerFunc{
		EventSubscriptionCreated:       s.handleSubscriptionCreated,
		EventSubscriptionUpdated:       s.handleSubscriptionUpdated,
		EventSubscriptionDeleted:       s.handleSubscriptionDeleted,
		EventInvoicePaymentSucceeded:   s.handleInvoicePaymentSucceeded,
		EventInvoicePaymentFailed:      s.handleInvoicePaymentFailed,
		EventPaymentIntentSucceeded:    s.handlePaymentIntentSucceeded,
		EventPaymentIntentPaymentFails: s.handlePaymentIntentFailed,
	}
	for _, t := range inertEventTypes {
		s.handlers[t] = s.handleInert
	}
	return s
}

// UseLocker 设置事件锁，未设置时只依赖事件表去重
func (s *WebhookService) UseLocker(l Locker) {
	s.locker = l
}

// UseRetryQueue 设置重放队列，未设置时失败事件只依赖平台重投
func (s *WebhookService) UseRetryQueue(q RetryQueue) {
	s.retryQueue = q
}

// HandleNotification 处理一条已验签的事件。
// 已处理的事件直接返回 nil；处理失败时事件保持未处理状态并返回 error，由调用方决定重试。
func (s *WebhookService) HandleNotification(ctx context.Context, env *processor.Envelope) error {
	start := time.Now()

	event, created, err := s.eventRepo.Claim(env.ID, env.Type, string(env.Payload))
	if err != nil {
		return fmt.Errorf("claim event %s: %w", env.ID, err)
	}
	if event.Processed {
		s.metrics.RecordWebhookEvent(env.Type, "duplicate")
		log.Info().Str("event_id", env.ID).Str("event_type", env.Type).Msg("event already processed, skipping")
		return nil
	}
	if !created {
		log.Info().Str("event_id", env.ID).Int("attempts", event.Attempts).Msg("redelivery of unprocessed event")
	}

	release, err := s.acquire(ctx, env.ID)
	if err != nil {
		return err
	}
	defer release()

	// 拿到锁之后再确认一次，另一投递可能在认领和加锁之间处理完
	event, err = s.eventRepo.GetByEventID(env.ID)
	if err != nil {
		return fmt.Errorf("reload event %s: %w", env.ID, err)
	}
	if event.Processed {
		s.metrics.RecordWebhookEvent(env.Type, "duplicate")
		return nil
	}

	return s.process(ctx, event, env, start)
}

// Replay 按事件 ID 重放已存储的事件，供重试 worker 使用
func (s *WebhookService) Replay(ctx context.Context, eventID string) error {
	start := time.Now()

	event, err := s.eventRepo.GetByEventID(eventID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Str("event_id", eventID).Msg("replay requested for unknown event")
			return nil
		}
		return err
	}
	if event.Processed {
		return nil
	}

	release, err := s.acquire(ctx, eventID)
	if err != nil {
		return err
	}
	defer release()

	env := &processor.Envelope{
		ID:      event.EventID,
		Type:    event.EventType,
		Created: event.CreatedAt,
		Payload: []byte(event.Payload),
	}
	return s.process(ctx, event, env, start)
}

func (s *WebhookService) acquire(ctx context.Context, eventID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	release, err := s.locker.Acquire(ctx, eventID, s.cfg.Webhook.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			s.metrics.RecordWebhookEvent("", "in_flight")
			log.Info().Str("event_id", eventID).Msg("event in flight on another delivery")
			return nil, ErrEventInFlight
		}
		return nil, fmt.Errorf("acquire event lock: %w", err)
	}
	return release, nil
}

func (s *WebhookService) process(ctx context.Context, event *model.ProcessedEvent, env *processor.Envelope, start time.Time) error {
	defer func() {
		s.metrics.RecordWebhookDuration(env.Type, time.Since(start))
	}()

	if err := s.dispatch(ctx, env); err != nil {
		s.metrics.RecordWebhookEvent(env.Type, "failed")
		s.metrics.RecordHandlerError(env.Type, "dispatch")

		if recErr := s.eventRepo.RecordFailure(event.ID, truncate(err.Error(), 2000)); recErr != nil {
			log.Error().Err(recErr).Str("event_id", env.ID).Msg("failed to record event failure")
		}
		s.scheduleRetry(ctx, event, env)

		log.Error().Err(err).Str("event_id", env.ID).Str("event_type", env.Type).Int("attempt", event.Attempts+1).Msg("event handling failed")
		return fmt.Errorf("handle %s %s: %w", env.Type, env.ID, err)
	}

	if err := s.eventRepo.MarkProcessed(event.ID); err != nil {
		return fmt.Errorf("mark event %s processed: %w", env.ID, err)
	}
	s.metrics.RecordWebhookEvent(env.Type, "processed")
	return nil
}

func (s *WebhookService) dispatch(ctx context.Context, env *processor.Envelope) error {
	handler, ok := s.handlers[env.Type]
	if !ok {
		log.Debug().Str("event_id", env.ID).Str("event_type", env.Type).Msg("unhandled event type")
		return nil
	}
	return handler(ctx, env)
}

func (s *WebhookService) scheduleRetry(ctx context.Context, event *model.ProcessedEvent, env *processor.Envelope) {
	if s.retryQueue == nil {
		return
	}

	attempt := event.Attempts + 1
	if attempt >= s.cfg.Webhook.MaxAttempts {
		s.metrics.RecordWebhookEvent(env.Type, "dead")
		log.Error().Str("event_id", env.ID).Str("event_type", env.Type).Int("attempts", attempt).Msg("event exhausted retries")
		return
	}

	msg := &queue.RetryMessage{
		EventID:   env.ID,
		EventType: env.Type,
		Attempt:   attempt,
		NotBefore: time.Now().Add(RetryBackoff(attempt)),
	}
	if err := s.retryQueue.Push(ctx, msg); err != nil {
		log.Error().Err(err).Str("event_id", env.ID).Msg("failed to enqueue event retry")
	}
}

// RetryBackoff 第 n 次失败后的重试间隔，30s 起指数增长，上限 1 小时
func RetryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := 30 * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= time.Hour {
			return time.Hour
		}
	}
	return d
}

func (s *WebhookService) handleInert(ctx context.Context, env *processor.Envelope) error {
	log.Info().Str("event_id", env.ID).Str("event_type", env.Type).Msg("event acknowledged, no state change")
	return nil
}

func (s *WebhookService) handleSubscriptionCreated(ctx context.Context, env *processor.Envelope) error {
	remote, err := s.extractor.ExtractSubscription(ctx, env.Payload)
	if err != nil {
		return err
	}
	if remote == nil {
		log.Warn().Str("event_id", env.ID).Msg("subscription created event carried no usable subscription")
		return nil
	}

	userID, err := s.resolveUserID(remote)
	if err != nil {
		return err
	}
	if userID == 0 {
		log.Warn().Str("event_id", env.ID).Str("remote_subscription_id", remote.ID).Msg("cannot resolve owner of subscription, skipping")
		return nil
	}

	if _, err := s.guard.CancelDuplicates(ctx, env.ID, userID, remote.ID); err != nil {
		return fmt.Errorf("cancel duplicate subscriptions: %w", err)
	}

	_, err = s.applyRemote(ctx, env.ID, remote, true)
	return err
}

func (s *WebhookService) handleSubscriptionUpdated(ctx context.Context, env *processor.Envelope) error {
	remote, err := s.extractor.ExtractSubscription(ctx, env.Payload)
	if err != nil {
		return err
	}
	if remote == nil {
		log.Warn().Str("event_id", env.ID).Msg("subscription updated event carried no usable subscription")
		return nil
	}

	_, err = s.applyRemote(ctx, env.ID, remote, false)
	return err
}

func (s *WebhookService) handleSubscriptionDeleted(ctx context.Context, env *processor.Envelope) error {
	remote, err := s.extractor.ExtractSubscription(ctx, env.Payload)
	if err != nil {
		return err
	}
	if remote == nil {
		log.Warn().Str("event_id", env.ID).Msg("subscription deleted event carried no usable subscription")
		return nil
	}

	mirror, err := s.subRepo.GetByRemoteID(remote.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Info().Str("event_id", env.ID).Str("remote_subscription_id", remote.ID).Msg("deleted subscription has no local mirror")
			return nil
		}
		return err
	}

	_, err = s.writer.update(ctx, env.ID, mirror, "subscription deleted", func(m *model.Subscription) bool {
		if m.Status == model.SubscriptionStatusCancelled && !m.AutoRenew {
			return false
		}
		m.Status = model.SubscriptionStatusCancelled
		m.AutoRenew = false
		return true
	})
	if err != nil {
		return err
	}

	if _, err := s.guard.CancelOtherPending(ctx, env.ID, mirror.UserID, mirror.ID); err != nil {
		return fmt.Errorf("cancel pending subscriptions: %w", err)
	}
	return nil
}

func (s *WebhookService) handleInvoicePaymentSucceeded(ctx context.Context, env *processor.Envelope) error {
	inv := s.extractor.ExtractInvoice(env.Payload)
	if inv == nil {
		log.Warn().Str("event_id", env.ID).Msg("invoice event carried no usable invoice")
		return nil
	}
	if inv.SubscriptionID == "" {
		log.Info().Str("event_id", env.ID).Str("invoice_id", inv.ID).Msg("invoice not tied to a subscription")
		return nil
	}

	// 账单可能先于订阅事件到达，以远端订阅为准刷新镜像
	remote, err := s.extractor.FetchSubscription(ctx, inv.SubscriptionID)
	if err != nil {
		return err
	}
	if remote == nil {
		log.Warn().Str("event_id", env.ID).Str("remote_subscription_id", inv.SubscriptionID).Msg("invoice subscription missing on processor")
		return nil
	}

	mirror, err := s.applyRemote(ctx, env.ID, remote, false)
	if err != nil {
		return err
	}
	if mirror == nil {
		return nil
	}

	if inv.BillingReason != billingReasonSubscriptionCreate && mirror.Status == model.SubscriptionStatusActive {
		if err := s.awardRenewal(ctx, mirror, remote, inv); err != nil {
			return err
		}
	}

	if inv.AmountPaid > 0 {
		s.postRevenueShare(ctx, env, mirror, inv)
	}
	return nil
}

func (s *WebhookService) handleInvoicePaymentFailed(ctx context.Context, env *processor.Envelope) error {
	inv := s.extractor.ExtractInvoice(env.Payload)
	if inv == nil || inv.SubscriptionID == "" {
		log.Warn().Str("event_id", env.ID).Msg("failed invoice event has no subscription reference")
		return nil
	}

	mirror, err := s.subRepo.GetByRemoteID(inv.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Str("event_id", env.ID).Str("remote_subscription_id", inv.SubscriptionID).Msg("failed invoice for unknown subscription")
			return nil
		}
		return err
	}

	_, err = s.writer.update(ctx, env.ID, mirror, "invoice payment failed", func(m *model.Subscription) bool {
		if m.Status == model.SubscriptionStatusExpired {
			return false
		}
		m.Status = model.SubscriptionStatusExpired
		return true
	})
	return err
}

func (s *WebhookService) handlePaymentIntentSucceeded(ctx context.Context, env *processor.Envelope) error {
	pi, err := s.extractor.ExtractPaymentIntent(ctx, env.Payload)
	if err != nil {
		return err
	}
	if pi == nil {
		log.Warn().Str("event_id", env.ID).Msg("payment intent event carried no usable intent")
		return nil
	}

	userID := userIDFromMetadata(pi.Metadata)
	if userID == 0 {
		log.Warn().Str("event_id", env.ID).Str("payment_intent_id", pi.ID).Msg("payment intent has no user_id metadata")
		return nil
	}

	mirror, err := s.subRepo.FindLatestPendingByUser(userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// 上次投递已激活镜像但发放失败
		mirror, err = s.subRepo.FindActivatedByEvent(userID, env.ID)
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		mirror = nil
	}

	if err := s.recordPayment(userID, mirror, pi, model.PaymentStatusSucceeded); err != nil {
		return err
	}

	if mirror == nil {
		log.Info().Str("event_id", env.ID).Int64("user_id", userID).Msg("no pending subscription to activate")
		return nil
	}

	plan, err := s.planByID(mirror.PlanID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	prev, err := s.writer.update(ctx, env.ID, mirror, "payment intent succeeded", func(m *model.Subscription) bool {
		// 已激活或已由远端订阅接管时不再本地改写
		if m.Status != model.SubscriptionStatusPending || m.RemoteSubscriptionID != nil {
			return false
		}
		m.Status = model.SubscriptionStatusActive
		m.CurrentPeriodStart = &now
		m.CurrentPeriodEnd = periodEnd(now, plan)
		m.AutoRenew = true
		return true
	})
	if err != nil {
		return err
	}

	if !activatedBy(mirror, prev, env.ID) {
		log.Info().Str("event_id", env.ID).Int64("subscription_id", mirror.ID).Msg("subscription already active, no award")
		return nil
	}
	return s.awardActivation(ctx, mirror, plan)
}

func (s *WebhookService) handlePaymentIntentFailed(ctx context.Context, env *processor.Envelope) error {
	pi, err := s.extractor.ExtractPaymentIntent(ctx, env.Payload)
	if err != nil {
		return err
	}
	if pi == nil {
		log.Warn().Str("event_id", env.ID).Msg("payment intent event carried no usable intent")
		return nil
	}

	userID := userIDFromMetadata(pi.Metadata)
	if userID == 0 {
		log.Warn().Str("event_id", env.ID).Str("payment_intent_id", pi.ID).Msg("payment intent has no user_id metadata")
		return nil
	}

	mirror, err := s.subRepo.FindLatestPendingByUser(userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		mirror = nil
	}

	if err := s.recordPayment(userID, mirror, pi, model.PaymentStatusFailed); err != nil {
		return err
	}
	if mirror == nil {
		return nil
	}

	_, err = s.writer.update(ctx, env.ID, mirror, "payment intent failed", func(m *model.Subscription) bool {
		if m.Status != model.SubscriptionStatusPending {
			return false
		}
		m.Status = model.SubscriptionStatusCancelled
		m.AutoRenew = false
		return true
	})
	return err
}

// ApplyRemoteSubscription 用远端订阅刷新镜像，供对账任务复用事件处理路径
func (s *WebhookService) ApplyRemoteSubscription(ctx context.Context, source string, remote *RemoteSubscription) (*model.Subscription, error) {
	return s.applyRemote(ctx, source, remote, false)
}

// applyRemote 定位或创建镜像并以远端对象覆盖。
// 本事件把镜像推进到 ACTIVE 时发放激活积分，重投同一事件时再次尝试；
// awardWhenActive 为 true 时只要结果为 ACTIVE 即尝试发放。重复发放由账本唯一键去重。
func (s *WebhookService) applyRemote(ctx context.Context, eventID string, remote *RemoteSubscription, awardWhenActive bool) (*model.Subscription, error) {
	plan, err := s.planForPrices(remote.PriceIDs)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxMirrorRetries; attempt++ {
		mirror, isNew, err := s.locateMirror(remote)
		if err != nil {
			return nil, err
		}
		if mirror == nil {
			log.Warn().Str("event_id", eventID).Str("remote_subscription_id", remote.ID).Msg("cannot resolve owner of subscription, skipping")
			return nil, nil
		}

		var prev model.SubscriptionStatus
		if isNew {
			projectRemote(mirror, remote, plan)
			if err := s.writer.create(ctx, eventID, mirror, "remote subscription"); err != nil {
				// 并发事件已为同一远端订阅建了行，重新定位
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					continue
				}
				return nil, err
			}
		} else {
			linkedElsewhere := false
			prev, err = s.writer.update(ctx, eventID, mirror, "remote subscription", func(m *model.Subscription) bool {
				if m.RemoteSubscriptionID != nil && *m.RemoteSubscriptionID != remote.ID {
					linkedElsewhere = true
					return false
				}
				projectRemote(m, remote, plan)
				return true
			})
			if err != nil {
				return nil, err
			}
			if linkedElsewhere {
				continue
			}
		}

		if mirror.Status == model.SubscriptionStatusActive && (awardWhenActive || activatedBy(mirror, prev, eventID)) {
			if err := s.awardActivation(ctx, mirror, plan); err != nil {
				return mirror, err
			}
		}
		return mirror, nil
	}
	return nil, fmt.Errorf("apply remote subscription %s: %w", remote.ID, repository.ErrStaleMirror)
}

// locateMirror 按远端 ID 查找镜像；找不到时认领用户未关联的预建行，否则新建
func (s *WebhookService) locateMirror(remote *RemoteSubscription) (*model.Subscription, bool, error) {
	mirror, err := s.subRepo.GetByRemoteID(remote.ID)
	if err == nil {
		return mirror, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	userID, err := s.resolveUserID(remote)
	if err != nil || userID == 0 {
		return nil, false, err
	}

	mirror, err = s.subRepo.FindUnlinkedByUser(userID)
	if err == nil {
		return mirror, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	return &model.Subscription{UserID: userID}, true, nil
}

// resolveUserID 依次按已有镜像、元数据 user_id、远端客户 ID 推断订阅归属
func (s *WebhookService) resolveUserID(remote *RemoteSubscription) (int64, error) {
	mirror, err := s.subRepo.GetByRemoteID(remote.ID)
	if err == nil {
		return mirror.UserID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	if userID := userIDFromMetadata(remote.Metadata); userID != 0 {
		return userID, nil
	}

	if remote.CustomerID != "" {
		mirror, err := s.subRepo.FindLatestByCustomer(remote.CustomerID)
		if err == nil {
			return mirror.UserID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, err
		}
	}
	return 0, nil
}

func projectRemote(m *model.Subscription, remote *RemoteSubscription, plan *model.Plan) {
	remoteID := remote.ID
	m.RemoteSubscriptionID = &remoteID
	if remote.CustomerID != "" {
		m.RemoteCustomerID = remote.CustomerID
	}
	m.Status = MapRemoteStatus(remote.Status)
	if remote.CurrentPeriodStart != nil {
		m.CurrentPeriodStart = remote.CurrentPeriodStart
	}
	if remote.CurrentPeriodEnd != nil {
		m.CurrentPeriodEnd = remote.CurrentPeriodEnd
	}
	m.AutoRenew = !remote.CancelAtPeriodEnd && m.Status != model.SubscriptionStatusCancelled
	if plan != nil {
		planID := plan.ID
		m.PlanID = &planID
	}
}

// activatedBy 判断镜像是否由该事件推进到 ACTIVE
func activatedBy(mirror *model.Subscription, prev model.SubscriptionStatus, eventID string) bool {
	if mirror.Status != model.SubscriptionStatusActive {
		return false
	}
	return prev != model.SubscriptionStatusActive || mirror.ActivatedByEvent == eventID
}

func (s *WebhookService) awardActivation(ctx context.Context, mirror *model.Subscription, plan *model.Plan) error {
	amount := s.pointsFor(plan)
	if amount <= 0 {
		return nil
	}

	reason := "new subscription activated"
	if remoteID := mirror.RemoteID(); remoteID != "" {
		reason = fmt.Sprintf("new subscription activated (%s)", remoteID)
	}

	_, err := s.points.AwardPoints(ctx, AwardRequest{
		UserID:        mirror.UserID,
		Amount:        amount,
		Reason:        reason,
		ReferenceType: ReferenceSubscription,
		ReferenceID:   strconv.FormatInt(mirror.ID, 10),
		AwardKind:     AwardActivation,
	})
	if errors.Is(err, ErrDuplicateAward) {
		log.Debug().Int64("subscription_id", mirror.ID).Msg("activation points already awarded")
		return nil
	}
	return err
}

func (s *WebhookService) awardRenewal(ctx context.Context, mirror *model.Subscription, remote *RemoteSubscription, inv *RemoteInvoice) error {
	plan, err := s.planForPrices(remote.PriceIDs)
	if err != nil {
		return err
	}
	amount := s.pointsFor(plan)
	if amount <= 0 {
		return nil
	}

	_, err = s.points.AwardPoints(ctx, AwardRequest{
		UserID:        mirror.UserID,
		Amount:        amount,
		Reason:        fmt.Sprintf("subscription renewal (%s)", inv.ID),
		ReferenceType: ReferenceInvoice,
		ReferenceID:   inv.ID,
		AwardKind:     AwardRenewal,
	})
	if errors.Is(err, ErrDuplicateAward) {
		log.Debug().Str("invoice_id", inv.ID).Msg("renewal points already awarded")
		return nil
	}
	return err
}

// postRevenueShare 分成记账失败只记录，不影响已完成的状态更新
func (s *WebhookService) postRevenueShare(ctx context.Context, env *processor.Envelope, mirror *model.Subscription, inv *RemoteInvoice) {
	_, err := s.revenue.RecordRevenueShare(ctx, mirror.ID, inv.ID, inv.AmountPaid, inv.Currency)
	if err == nil || errors.Is(err, ErrDuplicateEarning) {
		return
	}

	s.metrics.RecordHandlerError(env.Type, "revenue_share")
	log.Error().Err(err).
		Str("event_id", env.ID).
		Str("invoice_id", inv.ID).
		Int64("subscription_id", mirror.ID).
		Msg("failed to record revenue share")
}

func (s *WebhookService) recordPayment(userID int64, mirror *model.Subscription, pi *RemotePaymentIntent, status string) error {
	payment := &model.Payment{
		UserID:                userID,
		RemotePaymentIntentID: pi.ID,
		Amount:                pi.Amount,
		Currency:              pi.Currency,
		Status:                status,
		FailureMessage:        pi.LastError,
	}
	if mirror != nil {
		subID := mirror.ID
		payment.SubscriptionID = &subID
	}
	return s.paymentRepo.Upsert(payment)
}

func (s *WebhookService) pointsFor(plan *model.Plan) int64 {
	if plan != nil && plan.PointsAwarded > 0 {
		return plan.PointsAwarded
	}
	return s.cfg.Points.DefaultAward
}

// planForPrices 取第一个能匹配到套餐的价格
func (s *WebhookService) planForPrices(priceIDs []string) (*model.Plan, error) {
	for _, priceID := range priceIDs {
		plan, err := s.planRepo.FindByRemotePriceID(priceID)
		if err == nil {
			return plan, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

func (s *WebhookService) planByID(planID *int64) (*model.Plan, error) {
	if planID == nil {
		return nil, nil
	}
	plan, err := s.planRepo.GetByID(*planID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return plan, nil
}

// periodEnd 本地激活时按套餐周期估算账期结束，远端订阅接管后会被覆盖
func periodEnd(start time.Time, plan *model.Plan) *time.Time {
	if plan == nil {
		return nil
	}
	var end time.Time
	switch plan.BillingCycle {
	case "year":
		end = start.AddDate(1, 0, 0)
	case "month":
		end = start.AddDate(0, 1, 0)
	default:
		return nil
	}
	return &end
}

func userIDFromMetadata(metadata map[string]string) int64 {
	for _, key := range []string{"user_id", "userId", "userID"} {
		raw := strings.TrimSpace(metadata[key])
		if raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err == nil && id > 0 {
			return id
		}
	}
	return 0
}

// truncate 按字符截断，避免切开多字节字符
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
