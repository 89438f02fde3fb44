package dto

// CreateSubscriptionRequest 创建订阅请求（同步创建流程，先落 PENDING 镜像）
type CreateSubscriptionRequest struct {
	PlanID int64 `json:"plan_id" binding:"required,min=1"`
}

// SubscriptionInfo 订阅信息
type SubscriptionInfo struct {
	ID                   int64  `json:"id"`
	PlanID               *int64 `json:"plan_id,omitempty"`
	PlanName             string `json:"plan_name,omitempty"`
	RemoteSubscriptionID string `json:"remote_subscription_id,omitempty"`
	Status               string `json:"status"`
	CurrentPeriodStart   string `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     string `json:"current_period_end,omitempty"`
	AutoRenew            bool   `json:"auto_renew"`
	CreatedAt            string `json:"created_at"`
}

// PlanInfo 套餐信息
type PlanInfo struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	PointsAwarded int64  `json:"points_awarded"`
	BillingCycle  string `json:"billing_cycle"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
}
