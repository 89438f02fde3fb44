package model

import (
	"time"
)

const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusSucceeded = "SUCCEEDED"
	PaymentStatusFailed    = "FAILED"
)

type Payment struct {
	ID                    int64     `gorm:"primaryKey" json:"id"`
	UserID                int64     `gorm:"index" json:"user_id"`
	SubscriptionID        *int64    `gorm:"index" json:"subscription_id,omitempty"`
	RemotePaymentIntentID string    `gorm:"size:191;not null;uniqueIndex" json:"remote_payment_intent_id"`
	Amount                int64     `json:"amount"`
	Currency              string    `gorm:"size:3" json:"currency"`
	Status                string    `gorm:"size:20;not null;index" json:"status"`
	FailureMessage        string    `gorm:"type:text" json:"failure_message,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}
