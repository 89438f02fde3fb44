package model

import (
	"time"
)

// TransactionKind 积分流水类型
type TransactionKind string

const (
	TransactionKindEarn    TransactionKind = "EARN"
	TransactionKindRedeem  TransactionKind = "REDEEM"
	TransactionKindExpired TransactionKind = "EXPIRED"
)

// Wallet 用户积分钱包，余额始终等于该用户全部流水之和
type Wallet struct {
	ID               int64     `gorm:"primaryKey" json:"id"`
	UserID           int64     `gorm:"not null;uniqueIndex" json:"user_id"`
	Balance          int64     `gorm:"not null" json:"balance"`
	LifetimeEarned   int64     `gorm:"not null" json:"lifetime_earned"`
	LifetimeRedeemed int64     `gorm:"not null" json:"lifetime_redeemed"`
	LifetimeExpired  int64     `gorm:"not null" json:"lifetime_expired"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// PointTransaction 积分流水，只追加不修改。
// (ReferenceType, ReferenceID, AwardKind) 唯一，保证同一业务事件只发放一次。
type PointTransaction struct {
	ID            int64           `gorm:"primaryKey" json:"id"`
	UserID        int64           `gorm:"not null;index" json:"user_id"`
	Delta         int64           `gorm:"not null" json:"delta"`
	Kind          TransactionKind `gorm:"size:20;not null" json:"kind"`
	Reason        string          `gorm:"size:255" json:"reason"`
	ReferenceType *string         `gorm:"size:50;uniqueIndex:ux_point_transactions_reference,priority:1" json:"reference_type,omitempty"`
	ReferenceID   *string         `gorm:"size:191;uniqueIndex:ux_point_transactions_reference,priority:2" json:"reference_id,omitempty"`
	AwardKind     *string         `gorm:"size:50;uniqueIndex:ux_point_transactions_reference,priority:3" json:"award_kind,omitempty"`
	BalanceAfter  int64           `gorm:"not null" json:"balance_after"`
	CreatedAt     time.Time       `gorm:"index" json:"created_at"`
}

func (PointTransaction) TableName() string {
	return "point_transactions"
}
