package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/testutil"
)

func strPtr(s string) *string {
	return &s
}

func TestWalletRepository_EnsureWallet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewWalletRepository(db)

	require.NoError(t, repo.EnsureWallet(1))
	require.NoError(t, repo.EnsureWallet(1))

	var count int64
	require.NoError(t, db.Model(&model.Wallet{}).Where("user_id = ?", 1).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWalletRepository_ApplyDelta(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewWalletRepository(db)
	testutil.TestWallet(t, db, 1, 50)

	t.Run("earn", func(t *testing.T) {
		require.NoError(t, repo.ApplyDelta(1, 30, model.TransactionKindEarn))
		wallet, err := repo.GetByUserID(1)
		require.NoError(t, err)
		assert.Equal(t, int64(80), wallet.Balance)
		assert.Equal(t, int64(80), wallet.LifetimeEarned)
	})

	t.Run("redeem", func(t *testing.T) {
		require.NoError(t, repo.ApplyDelta(1, -20, model.TransactionKindRedeem))
		wallet, err := repo.GetByUserID(1)
		require.NoError(t, err)
		assert.Equal(t, int64(60), wallet.Balance)
		assert.Equal(t, int64(20), wallet.LifetimeRedeemed)
	})

	t.Run("insufficient", func(t *testing.T) {
		err := repo.ApplyDelta(1, -100, model.TransactionKindRedeem)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		wallet, err := repo.GetByUserID(1)
		require.NoError(t, err)
		assert.Equal(t, int64(60), wallet.Balance)
	})
}

func TestWalletRepository_ReferenceUnique(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewWalletRepository(db)

	txn := &model.PointTransaction{
		UserID:        1,
		Delta:         100,
		Kind:          model.TransactionKindEarn,
		ReferenceType: strPtr("subscription"),
		ReferenceID:   strPtr("42"),
		AwardKind:     strPtr("activation"),
		BalanceAfter:  100,
	}
	require.NoError(t, repo.CreateTransaction(txn))

	exists, err := repo.ExistsByReference("subscription", "42", "activation")
	require.NoError(t, err)
	assert.True(t, exists)

	dup := *txn
	dup.ID = 0
	err = repo.CreateTransaction(&dup)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	exists, err = repo.ExistsByReference("subscription", "42", "renewal")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWalletRepository_TransactionRollback(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewWalletRepository(db)
	testutil.TestWallet(t, db, 1, 10)

	err := repo.Transaction(func(txRepo *WalletRepository) error {
		if err := txRepo.ApplyDelta(1, 5, model.TransactionKindEarn); err != nil {
			return err
		}
		return txRepo.ApplyDelta(1, -100, model.TransactionKindRedeem)
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	wallet, err := repo.GetByUserID(1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), wallet.Balance)

	sum, err := repo.SumDeltas(1)
	require.NoError(t, err)
	assert.Equal(t, wallet.Balance, sum)
}

func TestWalletRepository_ListTransactions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewWalletRepository(db)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.CreateTransaction(&model.PointTransaction{
			UserID: 3, Delta: 1, Kind: model.TransactionKindEarn, BalanceAfter: int64(i + 1),
		}))
	}

	txns, total, err := repo.ListTransactions(3, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, txns, 2)
	assert.Equal(t, int64(5), txns[0].BalanceAfter)
}

func TestWalletRepository_ListUserIDs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := NewWalletRepository(db)

	for _, id := range []int64{7, 3, 5} {
		require.NoError(t, repo.EnsureWallet(id))
	}

	ids, err := repo.ListUserIDs(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5}, ids)

	ids, err = repo.ListUserIDs(5, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, ids)
}
