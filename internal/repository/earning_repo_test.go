package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/testutil"
)

func TestEarningRepository_CreateIfAbsent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewEarningRepository(db)

	earning := &model.InstructorEarning{
		SubscriptionID: 1,
		InvoiceID:      "in_1",
		GrossAmount:    1000,
		ShareAmount:    300,
		SharePercent:   30,
		Currency:       "usd",
		Status:         model.EarningStatusPooled,
	}
	created, err := repo.CreateIfAbsent(earning)
	require.NoError(t, err)
	assert.True(t, created)

	again := *earning
	again.ID = 0
	created, err = repo.CreateIfAbsent(&again)
	require.NoError(t, err)
	assert.False(t, created)

	pooled, err := repo.ListPooled(10)
	require.NoError(t, err)
	require.Len(t, pooled, 1)
	assert.Equal(t, "in_1", pooled[0].InvoiceID)
}

func TestPaymentRepository_Upsert(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewPaymentRepository(db)

	payment := &model.Payment{
		UserID:                1,
		RemotePaymentIntentID: "pi_1",
		Amount:                500,
		Currency:              "usd",
		Status:                model.PaymentStatusPending,
	}
	require.NoError(t, repo.Upsert(payment))
	firstID := payment.ID

	update := &model.Payment{
		UserID:                1,
		RemotePaymentIntentID: "pi_1",
		Amount:                500,
		Currency:              "usd",
		Status:                model.PaymentStatusFailed,
		FailureMessage:        "card declined",
	}
	require.NoError(t, repo.Upsert(update))
	assert.Equal(t, firstID, update.ID)

	got, err := repo.GetByRemoteID("pi_1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, got.Status)
	assert.Equal(t, "card declined", got.FailureMessage)
}

func TestPlanRepository_Lookup(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewPlanRepository(db)

	plan := testutil.TestPlan(t, db, "price_gold", 500)
	inactive := testutil.TestPlan(t, db, "price_old", 10)
	require.NoError(t, db.Model(inactive).Update("active", false).Error)

	got, err := repo.FindByRemotePriceID("price_gold")
	require.NoError(t, err)
	assert.Equal(t, plan.ID, got.ID)
	assert.Equal(t, int64(500), got.PointsAwarded)

	plans, err := repo.ListActive()
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "price_gold", plans[0].RemotePriceID)
}
