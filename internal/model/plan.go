package model

import (
	"time"
)

// Plan 套餐目录，RemotePriceID 对应支付平台的价格 ID
type Plan struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"size:100;not null" json:"name"`
	RemotePriceID string    `gorm:"size:191;not null;uniqueIndex" json:"remote_price_id"`
	PointsAwarded int64     `gorm:"not null" json:"points_awarded"`
	BillingCycle  string    `gorm:"size:16;not null" json:"billing_cycle"` // month, year
	Amount        int64     `json:"amount"`
	Currency      string    `gorm:"size:3" json:"currency"`
	Active        bool      `gorm:"not null;index" json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (Plan) TableName() string {
	return "plans"
}
