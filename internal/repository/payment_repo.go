package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/billing_server/internal/model"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Upsert 按远端 PaymentIntent ID 写入或更新支付记录
func (r *PaymentRepository) Upsert(payment *model.Payment) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "remote_payment_intent_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"subscription_id",
			"amount",
			"currency",
			"status",
			"failure_message",
			"updated_at",
		}),
	}).Create(payment).Error; err != nil {
		return err
	}

	return r.db.Where("remote_payment_intent_id = ?", payment.RemotePaymentIntentID).First(payment).Error
}

func (r *PaymentRepository) GetByRemoteID(remoteID string) (*model.Payment, error) {
	var payment model.Payment
	err := r.db.Where("remote_payment_intent_id = ?", remoteID).First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
