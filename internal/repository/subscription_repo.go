package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/billing_server/internal/model"
)

// ErrStaleMirror 乐观锁冲突：镜像行已被其他请求修改
var ErrStaleMirror = errors.New("subscription mirror was modified concurrently")

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(sub *model.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *SubscriptionRepository) GetByID(id int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("id = ?", id).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) GetByRemoteID(remoteID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("remote_subscription_id = ?", remoteID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindLatestPendingByUser 获取用户最近一条 PENDING 镜像
func (r *SubscriptionRepository) FindLatestPendingByUser(userID int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("user_id = ? AND status = ?", userID, model.SubscriptionStatusPending).
		Order("created_at DESC, id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindActivatedByEvent 获取用户被指定事件激活的镜像
func (r *SubscriptionRepository) FindActivatedByEvent(userID int64, eventID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("user_id = ? AND activated_by_event = ? AND status = ?", userID, eventID, model.SubscriptionStatusActive).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindUnlinkedByUser 获取用户最近一条尚未关联远端订阅的 PENDING/ACTIVE 镜像
func (r *SubscriptionRepository) FindUnlinkedByUser(userID int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("user_id = ? AND remote_subscription_id IS NULL AND status IN ?", userID,
		[]model.SubscriptionStatus{model.SubscriptionStatusPending, model.SubscriptionStatusActive}).
		Order("created_at DESC, id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindLatestByCustomer 按远端客户 ID 找到最近的镜像，用于推断归属用户
func (r *SubscriptionRepository) FindLatestByCustomer(customerID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("remote_customer_id = ?", customerID).
		Order("created_at DESC, id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListByUserAndStatuses 按状态列出用户的镜像
func (r *SubscriptionRepository) ListByUserAndStatuses(userID int64, statuses []model.SubscriptionStatus) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.Where("user_id = ? AND status IN ?", userID, statuses).
		Order("id ASC").
		Find(&subs).Error
	return subs, err
}

func (r *SubscriptionRepository) ListByUser(userID int64) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC, id DESC").Find(&subs).Error
	return subs, err
}

func (r *SubscriptionRepository) CountActiveByUser(userID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.Subscription{}).
		Where("user_id = ? AND status = ?", userID, model.SubscriptionStatusActive).
		Count(&count).Error
	return count, err
}

// ListStaleActive 列出账期已结束但仍为 ACTIVE 的已关联镜像
func (r *SubscriptionRepository) ListStaleActive(periodEndBefore time.Time, limit int) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.Where("status = ? AND remote_subscription_id IS NOT NULL AND current_period_end < ?",
		model.SubscriptionStatusActive, periodEndBefore).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

// UpdateWithVersion 带版本号的整行更新，版本不一致时返回 ErrStaleMirror
func (r *SubscriptionRepository) UpdateWithVersion(sub *model.Subscription) error {
	now := time.Now()
	result := r.db.Model(&model.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, sub.Version).
		Updates(map[string]interface{}{
			"user_id":                sub.UserID,
			"plan_id":                sub.PlanID,
			"remote_subscription_id": sub.RemoteSubscriptionID,
			"remote_customer_id":     sub.RemoteCustomerID,
			"status":                 sub.Status,
			"current_period_start":   sub.CurrentPeriodStart,
			"current_period_end":     sub.CurrentPeriodEnd,
			"auto_renew":             sub.AutoRenew,
			"activated_by_event":     sub.ActivatedByEvent,
			"version":                gorm.Expr("version + 1"),
			"updated_at":             now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStaleMirror
	}
	sub.Version++
	sub.UpdatedAt = now
	return nil
}
