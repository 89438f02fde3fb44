package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/api"
	"github.com/qs3c/billing_server/internal/api/handler"
	"github.com/qs3c/billing_server/internal/app"
	"github.com/qs3c/billing_server/internal/database"
	"github.com/qs3c/billing_server/internal/pkg/cron"
	"github.com/qs3c/billing_server/internal/pkg/logger"
	"github.com/qs3c/billing_server/internal/pkg/metrics"
	"github.com/qs3c/billing_server/internal/pkg/processor"
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

	baseLogger := logger.Setup(cfg.Log, "billing-server")

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

	// 支付平台客户端，同时负责验签
	stripeClient, err := processor.NewStripeClient(cfg.Stripe)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init payment processor client")
	}

	// 指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheus(registry, "app")

	svcs := app.Build(cfg, db, rdb, stripeClient, recorder)

	// 定时对账
	cronService := cron.NewService(svcs.Reconcile)
	cronService.Start()
	defer cronService.Stop()

	// 初始化 Router
	router := api.NewRouter(
		handler.NewWebhookHandler(stripeClient, svcs.Webhook, cfg.Webhook.MaxBodyBytes),
		handler.NewSubscriptionHandler(svcs.Subscription),
		handler.NewWalletHandler(svcs.Points),
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		baseLogger,
		cfg,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	log.Info().Msg("server shutdown complete")
}
