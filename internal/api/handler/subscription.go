package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/qs3c/billing_server/internal/api/middleware"
	"github.com/qs3c/billing_server/internal/model/dto"
	"github.com/qs3c/billing_server/internal/pkg/response"
	"github.com/qs3c/billing_server/internal/service"
)

type SubscriptionHandler struct {
	subscriptionService *service.SubscriptionService
}

func NewSubscriptionHandler(subscriptionService *service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
	}
}

// Create 创建待支付订阅
// POST /api/v1/subscriptions
func (h *SubscriptionHandler) Create(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	info, err := h.subscriptionService.CreatePending(c.Request.Context(), userID, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPlanNotFound):
			response.NotFoundError(c, err.Error())
		case errors.Is(err, service.ErrAlreadySubscribed):
			response.AlreadySubscribedError(c, err.Error())
		case errors.Is(err, service.ErrRequestInFlight):
			response.InFlightError(c, err.Error())
		default:
			log.Ctx(c.Request.Context()).Error().Err(err).Msg("create subscription failed")
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "创建成功", info)
}

// List 获取当前用户的订阅
// GET /api/v1/subscriptions
func (h *SubscriptionHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	items, err := h.subscriptionService.ListByUser(userID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, items)
}

// Plans 获取可订阅的套餐
// GET /api/v1/plans
func (h *SubscriptionHandler) Plans(c *gin.Context) {
	plans, err := h.subscriptionService.ListPlans()
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, plans)
}
