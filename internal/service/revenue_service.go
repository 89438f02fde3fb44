package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/repository"
)

// ErrDuplicateEarning 同一账单已记录过分成
var ErrDuplicateEarning = errors.New("该账单的分成已记录")

type RevenueService struct {
	earningRepo *repository.EarningRepository
	percent     decimal.Decimal
}

func NewRevenueService(earningRepo *repository.EarningRepository, cfg *config.Config) *RevenueService {
	return &RevenueService{
		earningRepo: earningRepo,
		percent:     decimal.NewFromFloat(cfg.Points.RevenueSharePercent),
	}
}

// ShareOf 按配置比例计算分成金额（最小货币单位，银行家舍入）
func (s *RevenueService) ShareOf(total int64) int64 {
	return decimal.NewFromInt(total).
		Mul(s.percent).
		Div(decimal.NewFromInt(100)).
		RoundBank(0).
		IntPart()
}

// RecordRevenueShare 把账单的分成计入讲师分成池，instructor_id 留空待后续分配
func (s *RevenueService) RecordRevenueShare(ctx context.Context, subscriptionID int64, invoiceID string, total int64, currency string) (*model.InstructorEarning, error) {
	percent, _ := s.percent.Float64()
	earning := &model.InstructorEarning{
		SubscriptionID: subscriptionID,
		InvoiceID:      invoiceID,
		GrossAmount:    total,
		ShareAmount:    s.ShareOf(total),
		SharePercent:   percent,
		Currency:       currency,
		Status:         model.EarningStatusPooled,
	}

	created, err := s.earningRepo.CreateIfAbsent(earning)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrDuplicateEarning
	}

	log.Info().
		Int64("subscription_id", subscriptionID).
		Str("invoice_id", invoiceID).
		Int64("share_amount", earning.ShareAmount).
		Str("currency", currency).
		Msg("revenue share pooled")
	return earning, nil
}
