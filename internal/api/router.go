package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/api/handler"
	"github.com/qs3c/billing_server/internal/api/middleware"
)

type Router struct {
	webhookHandler      *handler.WebhookHandler
	subscriptionHandler *handler.SubscriptionHandler
	walletHandler       *handler.WalletHandler
	metricsHandler      http.Handler
	logger              zerolog.Logger
	cfg                 *config.Config
}

func NewRouter(
	webhookHandler *handler.WebhookHandler,
	subscriptionHandler *handler.SubscriptionHandler,
	walletHandler *handler.WalletHandler,
	metricsHandler http.Handler,
	logger zerolog.Logger,
	cfg *config.Config,
) *Router {
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	return &Router{
		webhookHandler:      webhookHandler,
		subscriptionHandler: subscriptionHandler,
		walletHandler:       walletHandler,
		metricsHandler:      metricsHandler,
		logger:              logger,
		cfg:                 cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(r.logger))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(r.metricsHandler))

	// 支付平台回调，不走 CORS 和用户认证，靠签名校验
	engine.POST("/webhooks/stripe", r.webhookHandler.Receive)

	api := engine.Group("/api/v1")
	api.Use(middleware.CORS(r.cfg.CORS))
	{
		// 公开接口
		api.GET("/plans", r.subscriptionHandler.Plans)

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			subscriptions := authenticated.Group("/subscriptions")
			{
				subscriptions.GET("", r.subscriptionHandler.List)
				subscriptions.POST("", r.subscriptionHandler.Create)
			}

			wallet := authenticated.Group("/wallet")
			{
				wallet.GET("", r.walletHandler.Get)
				wallet.GET("/transactions", r.walletHandler.Transactions)
				wallet.POST("/redeem", r.walletHandler.Redeem)
			}
		}
	}

	return engine
}
