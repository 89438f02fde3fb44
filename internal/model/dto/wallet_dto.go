package dto

// WalletInfo 钱包信息
type WalletInfo struct {
	UserID           int64 `json:"user_id"`
	Balance          int64 `json:"balance"`
	LifetimeEarned   int64 `json:"lifetime_earned"`
	LifetimeRedeemed int64 `json:"lifetime_redeemed"`
	LifetimeExpired  int64 `json:"lifetime_expired"`
}

// TransactionListQuery 积分流水查询参数
type TransactionListQuery struct {
	Page     int `form:"page,default=1" binding:"min=1"`
	PageSize int `form:"page_size,default=20" binding:"min=1,max=100"`
}

// TransactionInfo 积分流水
type TransactionInfo struct {
	ID            int64  `json:"id"`
	Delta         int64  `json:"delta"`
	Kind          string `json:"kind"`
	Reason        string `json:"reason"`
	ReferenceType string `json:"reference_type,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`
	BalanceAfter  int64  `json:"balance_after"`
	CreatedAt     string `json:"created_at"`
}

// RedeemRequest 积分兑换请求
type RedeemRequest struct {
	Amount int64  `json:"amount" binding:"required,min=1"`
	Reason string `json:"reason" binding:"required,max=255"`
}
