package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/qs3c/billing_server/config"
	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/model/dto"
	"github.com/qs3c/billing_server/internal/pkg/lock"
	"github.com/qs3c/billing_server/internal/repository"
)

var (
	ErrPlanNotFound      = errors.New("套餐不存在")
	ErrAlreadySubscribed = errors.New("已有生效中的订阅")
	ErrRequestInFlight   = errors.New("订阅创建中，请稍后重试")
)

type SubscriptionService struct {
	subRepo  *repository.SubscriptionRepository
	planRepo *repository.PlanRepository
	writer   *MirrorWriter
	locker   Locker
	cfg      *config.Config
}

func NewSubscriptionService(subRepo *repository.SubscriptionRepository, planRepo *repository.PlanRepository, writer *MirrorWriter, locker Locker, cfg *config.Config) *SubscriptionService {
	return &SubscriptionService{
		subRepo:  subRepo,
		planRepo: planRepo,
		writer:   writer,
		locker:   locker,
		cfg:      cfg,
	}
}

// CreatePending 同步创建流程：为用户预建 PENDING 镜像，等待支付平台事件激活。
// 同一用户同一套餐已有未关联的 PENDING 行时直接复用。
func (s *SubscriptionService) CreatePending(ctx context.Context, userID int64, req *dto.CreateSubscriptionRequest) (*dto.SubscriptionInfo, error) {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, fmt.Sprintf("create:%d", userID), s.cfg.Billing.CreationLockTTL)
		if err != nil {
			if errors.Is(err, lock.ErrNotAcquired) {
				return nil, ErrRequestInFlight
			}
			return nil, err
		}
		defer release()
	}

	plan, err := s.planRepo.GetByID(req.PlanID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	if !plan.Active {
		return nil, ErrPlanNotFound
	}

	active, err := s.subRepo.CountActiveByUser(userID)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, ErrAlreadySubscribed
	}

	existing, err := s.subRepo.FindLatestPendingByUser(userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if existing != nil && existing.RemoteSubscriptionID == nil && existing.PlanID != nil && *existing.PlanID == plan.ID {
		return s.toInfo(existing, plan), nil
	}

	planID := plan.ID
	mirror := &model.Subscription{
		UserID:    userID,
		PlanID:    &planID,
		Status:    model.SubscriptionStatusPending,
		AutoRenew: true,
	}
	if err := s.writer.create(ctx, "", mirror, "subscription requested"); err != nil {
		return nil, err
	}

	log.Info().Int64("user_id", userID).Int64("subscription_id", mirror.ID).Int64("plan_id", plan.ID).Msg("pending subscription created")
	return s.toInfo(mirror, plan), nil
}

// ListByUser 获取用户全部订阅，最新在前
func (s *SubscriptionService) ListByUser(userID int64) ([]dto.SubscriptionInfo, error) {
	subs, err := s.subRepo.ListByUser(userID)
	if err != nil {
		return nil, err
	}

	plans := make(map[int64]*model.Plan)
	items := make([]dto.SubscriptionInfo, 0, len(subs))
	for _, sub := range subs {
		var plan *model.Plan
		if sub.PlanID != nil {
			if cached, ok := plans[*sub.PlanID]; ok {
				plan = cached
			} else if p, err := s.planRepo.GetByID(*sub.PlanID); err == nil {
				plans[*sub.PlanID] = p
				plan = p
			}
		}
		items = append(items, *s.toInfo(sub, plan))
	}
	return items, nil
}

// ListPlans 获取上架中的套餐
func (s *SubscriptionService) ListPlans() ([]dto.PlanInfo, error) {
	plans, err := s.planRepo.ListActive()
	if err != nil {
		return nil, err
	}

	items := make([]dto.PlanInfo, 0, len(plans))
	for _, p := range plans {
		items = append(items, dto.PlanInfo{
			ID:            p.ID,
			Name:          p.Name,
			PointsAwarded: p.PointsAwarded,
			BillingCycle:  p.BillingCycle,
			Amount:        p.Amount,
			Currency:      p.Currency,
		})
	}
	return items, nil
}

func (s *SubscriptionService) toInfo(sub *model.Subscription, plan *model.Plan) *dto.SubscriptionInfo {
	info := &dto.SubscriptionInfo{
		ID:                   sub.ID,
		PlanID:               sub.PlanID,
		RemoteSubscriptionID: sub.RemoteID(),
		Status:               string(sub.Status),
		AutoRenew:            sub.AutoRenew,
		CreatedAt:            sub.CreatedAt.Format(time.RFC3339),
	}
	if plan != nil {
		info.PlanName = plan.Name
	}
	if sub.CurrentPeriodStart != nil {
		info.CurrentPeriodStart = sub.CurrentPeriodStart.Format(time.RFC3339)
	}
	if sub.CurrentPeriodEnd != nil {
		info.CurrentPeriodEnd = sub.CurrentPeriodEnd.Format(time.RFC3339)
	}
	return info
}
