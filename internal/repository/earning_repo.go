package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/billing_server/internal/model"
)

type EarningRepository struct {
	db *gorm.DB
}

func NewEarningRepository(db *gorm.DB) *EarningRepository {
	return &EarningRepository{db: db}
}

// CreateIfAbsent 按 invoice_id 去重插入，返回是否新建
func (r *EarningRepository) CreateIfAbsent(earning *model.InstructorEarning) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "invoice_id"}},
		DoNothing: true,
	}).Create(earning)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *EarningRepository) GetByInvoiceID(invoiceID string) (*model.InstructorEarning, error) {
	var earning model.InstructorEarning
	err := r.db.Where("invoice_id = ?", invoiceID).First(&earning).Error
	if err != nil {
		return nil, err
	}
	return &earning, nil
}

func (r *EarningRepository) ListPooled(limit int) ([]*model.InstructorEarning, error) {
	var earnings []*model.InstructorEarning
	err := r.db.Where("status = ? AND instructor_id IS NULL", model.EarningStatusPooled).
		Order("id ASC").
		Limit(limit).
		Find(&earnings).Error
	return earnings, err
}
