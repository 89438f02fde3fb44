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

type WalletHandler struct {
	pointsService *service.PointsService
}

func NewWalletHandler(pointsService *service.PointsService) *WalletHandler {
	return &WalletHandler{
		pointsService: pointsService,
	}
}

// Get 获取当前用户钱包
// GET /api/v1/wallet
func (h *WalletHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	info, err := h.pointsService.GetWallet(userID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, info)
}

// Transactions 积分流水
// GET /api/v1/wallet/transactions
func (h *WalletHandler) Transactions(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var query dto.TransactionListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	items, total, err := h.pointsService.ListTransactions(userID, &query)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, total, query.Page, query.PageSize, items)
}

// Redeem 兑换积分
// POST /api/v1/wallet/redeem
func (h *WalletHandler) Redeem(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if _, err := h.pointsService.Redeem(c.Request.Context(), userID, req.Amount, req.Reason); err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientPoints):
			response.InsufficientPointsError(c, err.Error())
		case errors.Is(err, service.ErrInvalidPoints):
			response.ParamError(c, err.Error())
		default:
			log.Ctx(c.Request.Context()).Error().Err(err).Int64("amount", req.Amount).Msg("redeem points failed")
			response.ServerError(c, "")
		}
		return
	}

	info, err := h.pointsService.GetWallet(userID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessWithMessage(c, "兑换成功", info)
}
