// Package app 组装各进程共用的仓储与服务
package app

import (
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/pkg/lock"
	"github.com/qs3c/billing_server/internal/pkg/metrics"
	"github.com/qs3c/billing_server/internal/pkg/processor"
	"github.com/qs3c/billing_server/internal/pkg/pubsub"
	"github.com/qs3c/billing_server/internal/pkg/queue"
	"github.com/qs3c/billing_server/internal/repository"
	"github.com/qs3c/billing_server/internal/service"
)

// Services 已组装好的服务
type Services struct {
	RetryQueue   *queue.Queue
	Points       *service.PointsService
	Subscription *service.SubscriptionService
	Webhook      *service.WebhookService
	Reconcile    *service.ReconcileService
	WalletRepo   *repository.WalletRepository
}

// Build 按配置组装服务；rdb 为 nil 时不启用事件锁、重放队列和变更广播
func Build(cfg *config.Config, db *gorm.DB, rdb *redis.Client, client processor.Client, recorder metrics.Recorder) *Services {
	if recorder == nil {
		recorder = metrics.Noop{}
	}

	eventRepo := repository.NewEventRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	planRepo := repository.NewPlanRepository(db)
	walletRepo := repository.NewWalletRepository(db)

	var publisher service.ChangePublisher
	var retryQueue *queue.Queue
	var eventLocker, creationLocker service.Locker
	if rdb != nil {
		publisher = pubsub.NewPublisher(rdb)
		retryQueue = queue.NewQueue(rdb, cfg.Webhook.RetryQueue)
		eventLocker = lock.NewLocker(rdb, "billing:event:")
		creationLocker = lock.NewLocker(rdb, "billing:subscription:")
	}

	writer := service.NewMirrorWriter(subRepo, recorder, publisher)
	extractor := service.NewEventExtractor(client, cfg, recorder)
	points := service.NewPointsService(walletRepo, recorder)

	webhook := service.NewWebhookService(
		eventRepo,
		subRepo,
		planRepo,
		repository.NewPaymentRepository(db),
		extractor,
		points,
		service.NewRevenueService(repository.NewEarningRepository(db), cfg),
		service.NewSubscriptionGuard(subRepo, writer, client, cfg),
		writer,
		recorder,
		cfg,
	)

	var retry service.RetryQueue
	if retryQueue != nil {
		webhook.UseLocker(eventLocker)
		webhook.UseRetryQueue(retryQueue)
		retry = retryQueue
	}

	return &Services{
		RetryQueue:   retryQueue,
		Points:       points,
		Subscription: service.NewSubscriptionService(subRepo, planRepo, writer, creationLocker, cfg),
		Webhook:      webhook,
		Reconcile:    service.NewReconcileService(eventRepo, subRepo, extractor, webhook, writer, retry, cfg),
		WalletRepo:   walletRepo,
	}
}
