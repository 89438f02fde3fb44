package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/qs3c/billing_server/internal/pkg/processor"
	"github.com/qs3c/billing_server/internal/service"
)

// SignatureHeader 支付平台签名头
const SignatureHeader = "Stripe-Signature"

const defaultMaxBodyBytes int64 = 256 * 1024

// NotificationHandler 处理已验签的事件
type NotificationHandler interface {
	HandleNotification(ctx context.Context, env *processor.Envelope) error
}

type WebhookHandler struct {
	verifier     processor.Verifier
	engine       NotificationHandler
	maxBodyBytes int64
}

func NewWebhookHandler(verifier processor.Verifier, engine NotificationHandler, maxBodyBytes int64) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &WebhookHandler{
		verifier:     verifier,
		engine:       engine,
		maxBodyBytes: maxBodyBytes,
	}
}

// Receive 接收支付平台事件通知。
// 返回非 2xx 时平台会重投；签名错误返回 400，处理中返回 409，处理失败返回 500。
// POST /webhooks/stripe
func (h *WebhookHandler) Receive(c *gin.Context) {
	logger := log.Ctx(c.Request.Context())

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn().Int64("limit", h.maxBodyBytes).Msg("webhook payload too large")
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if len(payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty payload"})
		return
	}

	env, err := h.verifier.ConstructEnvelope(payload, c.GetHeader(SignatureHeader))
	if err != nil {
		if errors.Is(err, processor.ErrNotConfigured) {
			logger.Error().Msg("webhook secret not configured")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "webhook not configured"})
			return
		}
		logger.Warn().Err(err).Msg("webhook signature rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	ctx := logger.With().Str("event_id", env.ID).Str("event_type", env.Type).Logger().WithContext(c.Request.Context())
	if err := h.engine.HandleNotification(ctx, env); err != nil {
		if errors.Is(err, service.ErrEventInFlight) {
			c.JSON(http.StatusConflict, gin.H{"error": "event in flight"})
			return
		}
		logger.Error().Err(err).Str("event_id", env.ID).Msg("webhook handling failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
