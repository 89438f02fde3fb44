package model

import (
	"time"
)

const (
	EarningStatusPooled      = "POOLED"
	EarningStatusDistributed = "DISTRIBUTED"
)

// InstructorEarning 讲师分成记录。InstructorID 为空表示尚在分成池中，未分配到个人
type InstructorEarning struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	SubscriptionID int64     `gorm:"not null;index" json:"subscription_id"`
	InvoiceID      string    `gorm:"size:191;not null;uniqueIndex" json:"invoice_id"`
	InstructorID   *int64    `gorm:"index" json:"instructor_id,omitempty"`
	GrossAmount    int64     `gorm:"not null" json:"gross_amount"` // 最小货币单位
	ShareAmount    int64     `gorm:"not null" json:"share_amount"`
	SharePercent   float64   `gorm:"type:decimal(5,2)" json:"share_percent"`
	Currency       string    `gorm:"size:3" json:"currency"`
	Status         string    `gorm:"size:20;not null;index" json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

func (InstructorEarning) TableName() string {
	return "instructor_earnings"
}
