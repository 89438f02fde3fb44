package repository

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/billing_server/internal/model"
)

// ErrInsufficientBalance 余额不足
var ErrInsufficientBalance = errors.New("insufficient wallet balance")

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// Transaction 在同一个数据库事务中执行 fn，钱包与流水的写入必须经由此方法
func (r *WalletRepository) Transaction(fn func(txRepo *WalletRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&WalletRepository{db: tx})
	})
}

// EnsureWallet 不存在则创建钱包
func (r *WalletRepository) EnsureWallet(userID int64) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&model.Wallet{UserID: userID}).Error
}

func (r *WalletRepository) GetByUserID(userID int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// ApplyDelta 原子地调整余额和对应的累计字段；扣减时余额不足返回 ErrInsufficientBalance
func (r *WalletRepository) ApplyDelta(userID, delta int64, kind model.TransactionKind) error {
	updates := map[string]interface{}{
		"balance": gorm.Expr("balance + ?", delta),
	}
	switch kind {
	case model.TransactionKindEarn:
		updates["lifetime_earned"] = gorm.Expr("lifetime_earned + ?", delta)
	case model.TransactionKindRedeem:
		updates["lifetime_redeemed"] = gorm.Expr("lifetime_redeemed + ?", -delta)
	case model.TransactionKindExpired:
		updates["lifetime_expired"] = gorm.Expr("lifetime_expired + ?", -delta)
	}

	query := r.db.Model(&model.Wallet{}).Where("user_id = ?", userID)
	if delta < 0 {
		query = query.Where("balance >= ?", -delta)
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (r *WalletRepository) CreateTransaction(txn *model.PointTransaction) error {
	return r.db.Create(txn).Error
}

// ExistsByReference 判断同一业务引用的发放记录是否已存在
func (r *WalletRepository) ExistsByReference(referenceType, referenceID, awardKind string) (bool, error) {
	var count int64
	err := r.db.Model(&model.PointTransaction{}).
		Where("reference_type = ? AND reference_id = ? AND award_kind = ?", referenceType, referenceID, awardKind).
		Count(&count).Error
	return count > 0, err
}

func (r *WalletRepository) ListTransactions(userID int64, page, pageSize int) ([]*model.PointTransaction, int64, error) {
	var txns []*model.PointTransaction
	var total int64

	query := r.db.Model(&model.PointTransaction{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("id DESC").Offset(offset).Limit(pageSize).Find(&txns).Error
	return txns, total, err
}

// SumDeltas 用户全部流水之和
func (r *WalletRepository) SumDeltas(userID int64) (int64, error) {
	var sum int64
	err := r.db.Model(&model.PointTransaction{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&sum).Error
	return sum, err
}

// ListUserIDs 按 user_id 升序分批列出有钱包的用户
func (r *WalletRepository) ListUserIDs(afterUserID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.Model(&model.Wallet{}).
		Where("user_id > ?", afterUserID).
		Order("user_id ASC").
		Limit(limit).
		Pluck("user_id", &ids).Error
	return ids, err
}
