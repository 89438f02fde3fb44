package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/billing_server/internal/model"
)

var fixtureSeq int64

func nextSeq() int64 {
	return atomic.AddInt64(&fixtureSeq, 1)
}

// TestPlan 创建测试套餐
func TestPlan(t *testing.T, db *gorm.DB, priceID string, points int64) *model.Plan {
	t.Helper()

	plan := &model.Plan{
		Name:          fmt.Sprintf("plan_%d", nextSeq()),
		RemotePriceID: priceID,
		PointsAwarded: points,
		BillingCycle:  "month",
		Amount:        1999,
		Currency:      "usd",
		Active:        true,
	}

	if err := db.Create(plan).Error; err != nil {
		t.Fatalf("Failed to create test plan: %v", err)
	}

	return plan
}

// TestSubscription 创建测试订阅镜像，默认为未关联远端的 PENDING
func TestSubscription(t *testing.T, db *gorm.DB, userID int64, opts ...func(*model.Subscription)) *model.Subscription {
	t.Helper()

	sub := &model.Subscription{
		UserID: userID,
		Status: model.SubscriptionStatusPending,
	}

	for _, opt := range opts {
		opt(sub)
	}

	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("Failed to create test subscription: %v", err)
	}

	return sub
}

// WithStatus 设置订阅状态
func WithStatus(status model.SubscriptionStatus) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.Status = status
	}
}

// WithRemoteID 设置远端订阅 ID
func WithRemoteID(remoteID string) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.RemoteSubscriptionID = &remoteID
	}
}

// WithPlan 设置套餐
func WithPlan(planID int64) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.PlanID = &planID
	}
}

// WithPeriod 设置账期
func WithPeriod(start, end time.Time) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.CurrentPeriodStart = &start
		s.CurrentPeriodEnd = &end
	}
}

// WithCreatedAt 设置创建时间
func WithCreatedAt(ts time.Time) func(*model.Subscription) {
	return func(s *model.Subscription) {
		s.CreatedAt = ts
	}
}

// TestWallet 创建带初始余额的钱包（同时写入一条对应流水，保证余额与流水一致）
func TestWallet(t *testing.T, db *gorm.DB, userID, balance int64) *model.Wallet {
	t.Helper()

	wallet := &model.Wallet{
		UserID:         userID,
		Balance:        balance,
		LifetimeEarned: balance,
	}
	if err := db.Create(wallet).Error; err != nil {
		t.Fatalf("Failed to create test wallet: %v", err)
	}

	if balance != 0 {
		txn := &model.PointTransaction{
			UserID:       userID,
			Delta:        balance,
			Kind:         model.TransactionKindEarn,
			Reason:       "test seed",
			BalanceAfter: balance,
		}
		if err := db.Create(txn).Error; err != nil {
			t.Fatalf("Failed to create test transaction: %v", err)
		}
	}

	return wallet
}
