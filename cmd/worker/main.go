package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/app"
	"github.com/qs3c/billing_server/internal/database"
	"github.com/qs3c/billing_server/internal/pkg/logger"
	"github.com/qs3c/billing_server/internal/pkg/processor"
	"github.com/qs3c/billing_server/internal/pkg/pubsub"
	"github.com/qs3c/billing_server/internal/worker"
)

func main() {
	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger.Setup(cfg.Log, "billing-worker")

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}
	log.Info().Msg("database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	log.Info().Msg("redis connected")

	stripeClient, err := processor.NewStripeClient(cfg.Stripe)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init payment processor client")
	}

	svcs := app.Build(cfg, db, rdb, stripeClient, nil)
	retryProcessor := worker.NewRetryProcessor(svcs.RetryQueue, svcs.Webhook)

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	workers := cfg.Webhook.RetryWorkers
	if workers <= 0 {
		workers = 1
	}
	log.Info().Int("workers", workers).Msg("worker started")

	go retryProcessor.RunPromoter(ctx, time.Second)
	for i := 0; i < workers; i++ {
		go retryProcessor.Run(ctx, i)
	}

	// 镜像状态变化审计日志
	go func() {
		err := pubsub.NewSubscriber(rdb).Subscribe(ctx, func(change *pubsub.SubscriptionChanged) {
			log.Info().
				Str("event_id", change.EventID).
				Int64("user_id", change.UserID).
				Int64("subscription_id", change.SubscriptionID).
				Str("from", change.FromStatus).
				Str("to", change.ToStatus).
				Str("reason", change.Reason).
				Msg("subscription changed")
		})
		if err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("subscription change listener stopped")
		}
	}()

	// 等待 context 取消
	<-ctx.Done()
	log.Info().Msg("worker shutdown complete")
}
