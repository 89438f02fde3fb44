package handler

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/api/middleware"
	"github.com/qs3c/billing_server/internal/pkg/lock"
	"github.com/qs3c/billing_server/internal/pkg/response"
	"github.com/qs3c/billing_server/internal/repository"
	"github.com/qs3c/billing_server/internal/service"
	"github.com/qs3c/billing_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testContext struct {
	DB     *gorm.DB
	Redis  *redis.Client
	Fake   *testutil.FakeProcessor
	Points *service.PointsService
	Subs   *service.SubscriptionService
	Engine *service.WebhookService
	Cfg    *config.Config
}

func setupServices(t *testing.T) *testContext {
	t.Helper()

	db := testutil.SetupTestDB(t)
	_, rdb := testutil.SetupTestRedis(t)

	cfg := &config.Config{
		Stripe:  config.StripeConfig{RequestTimeout: time.Second},
		Webhook: config.WebhookConfig{MaxAttempts: 3, LockTTL: 30 * time.Second, MaxBodyBytes: 64 * 1024},
		Points:  config.PointsConfig{DefaultAward: 100, RevenueSharePercent: 30},
		Billing: config.BillingConfig{StaleGraceHours: 72, CreationLockTTL: 15 * time.Second},
	}

	fake := testutil.NewFakeProcessor()
	subRepo := repository.NewSubscriptionRepository(db)
	planRepo := repository.NewPlanRepository(db)
	writer := service.NewMirrorWriter(subRepo, nil, nil)
	points := service.NewPointsService(repository.NewWalletRepository(db), nil)

	engine := service.NewWebhookService(
		repository.NewEventRepository(db),
		subRepo,
		planRepo,
		repository.NewPaymentRepository(db),
		service.NewEventExtractor(fake, cfg, nil),
		points,
		service.NewRevenueService(repository.NewEarningRepository(db), cfg),
		service.NewSubscriptionGuard(subRepo, writer, fake, cfg),
		writer,
		nil,
		cfg,
	)
	engine.UseLocker(lock.NewLocker(rdb, "test:event:"))

	return &testContext{
		DB:     db,
		Redis:  rdb,
		Fake:   fake,
		Points: points,
		Subs:   service.NewSubscriptionService(subRepo, planRepo, writer, lock.NewLocker(rdb, "test:lock:"), cfg),
		Engine: engine,
		Cfg:    cfg,
	}
}

func mockAuth(userID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	}
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}
