package model

import (
	"time"
)

// SubscriptionStatus 本地订阅状态，是远端订阅生命周期的投影
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "PENDING"
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionStatusExpired   SubscriptionStatus = "EXPIRED"
)

// Subscription 远端订阅在本地的镜像行。
// RemoteSubscriptionID 一旦非空，状态与账期只由远端对象推导。
// ActivatedByEvent 记录最近一次把镜像推进到 ACTIVE 的事件，重投时据此补发激活积分。
type Subscription struct {
	ID                   int64              `gorm:"primaryKey" json:"id"`
	UserID               int64              `gorm:"not null;index" json:"user_id"`
	PlanID               *int64             `gorm:"index" json:"plan_id,omitempty"`
	RemoteSubscriptionID *string            `gorm:"size:191;uniqueIndex" json:"remote_subscription_id,omitempty"`
	RemoteCustomerID     string             `gorm:"size:191;index" json:"remote_customer_id,omitempty"`
	Status               SubscriptionStatus `gorm:"size:20;not null;index" json:"status"`
	CurrentPeriodStart   *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time         `gorm:"index" json:"current_period_end,omitempty"`
	AutoRenew            bool               `gorm:"not null" json:"auto_renew"`
	ActivatedByEvent     string             `gorm:"size:191;index" json:"-"`
	Version              int64              `gorm:"not null" json:"-"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// RemoteID 返回远端订阅 ID，未关联时为空串
func (s *Subscription) RemoteID() string {
	if s.RemoteSubscriptionID == nil {
		return ""
	}
	return *s.RemoteSubscriptionID
}
