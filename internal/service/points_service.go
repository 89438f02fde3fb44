package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/qs3c/billing_server/internal/model"
	"github.com/qs3c/billing_server/internal/model/dto"
	"github.com/qs3c/billing_server/internal/pkg/metrics"
	"github.com/qs3c/billing_server/internal/repository"
)

var (
	ErrDuplicateAward     = errors.New("该业务事件的积分已发放")
	ErrInsufficientPoints = errors.New("积分不足")
	ErrInvalidPoints      = errors.New("积分数量必须大于 0")
	ErrLedgerMismatch     = errors.New("钱包余额与流水合计不一致")
)

// 积分发放的业务引用
const (
	ReferenceSubscription = "subscription"
	ReferenceInvoice      = "invoice"

	AwardActivation = "activation"
	AwardRenewal    = "renewal"
)

// AwardRequest 积分发放请求。ReferenceType/ReferenceID/AwardKind 同时非空时参与去重
type AwardRequest struct {
	UserID        int64
	Amount        int64
	Reason        string
	ReferenceType string
	ReferenceID   string
	AwardKind     string
}

func (r AwardRequest) hasReference() bool {
	return r.ReferenceType != "" && r.ReferenceID != "" && r.AwardKind != ""
}

type PointsService struct {
	walletRepo *repository.WalletRepository
	metrics    metrics.Recorder
}

func NewPointsService(walletRepo *repository.WalletRepository, recorder metrics.Recorder) *PointsService {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	return &PointsService{
		walletRepo: walletRepo,
		metrics:    recorder,
	}
}

// AwardPoints 在一个事务中增加余额并追加 EARN 流水。
// 同一业务引用重复发放返回 ErrDuplicateAward，事务整体回滚。
func (s *PointsService) AwardPoints(ctx context.Context, req AwardRequest) (*model.PointTransaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidPoints
	}

	var txn *model.PointTransaction
	err := s.walletRepo.Transaction(func(repo *repository.WalletRepository) error {
		if req.hasReference() {
			exists, err := repo.ExistsByReference(req.ReferenceType, req.ReferenceID, req.AwardKind)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicateAward
			}
		}

		var err error
		txn, err = s.post(repo, req.UserID, req.Amount, model.TransactionKindEarn, req.Reason, &req)
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateAward
		}
		return nil, err
	}

	s.metrics.RecordPointsAwarded(req.AwardKind, req.Amount)
	log.Info().
		Int64("user_id", req.UserID).
		Int64("points", req.Amount).
		Str("award_kind", req.AwardKind).
		Str("reference_id", req.ReferenceID).
		Int64("balance_after", txn.BalanceAfter).
		Msg("points awarded")
	return txn, nil
}

// Redeem 扣减积分，余额不足返回 ErrInsufficientPoints
func (s *PointsService) Redeem(ctx context.Context, userID, amount int64, reason string) (*model.PointTransaction, error) {
	return s.debit(userID, amount, model.TransactionKindRedeem, reason)
}

// Expire 过期积分
func (s *PointsService) Expire(ctx context.Context, userID, amount int64, reason string) (*model.PointTransaction, error) {
	return s.debit(userID, amount, model.TransactionKindExpired, reason)
}

func (s *PointsService) debit(userID, amount int64, kind model.TransactionKind, reason string) (*model.PointTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidPoints
	}

	var txn *model.PointTransaction
	err := s.walletRepo.Transaction(func(repo *repository.WalletRepository) error {
		var err error
		txn, err = s.post(repo, userID, -amount, kind, reason, nil)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return nil, ErrInsufficientPoints
		}
		return nil, err
	}
	return txn, nil
}

// post 调整余额并写流水，必须在事务内调用
func (s *PointsService) post(repo *repository.WalletRepository, userID, delta int64, kind model.TransactionKind, reason string, ref *AwardRequest) (*model.PointTransaction, error) {
	if err := repo.EnsureWallet(userID); err != nil {
		return nil, err
	}
	if err := repo.ApplyDelta(userID, delta, kind); err != nil {
		return nil, err
	}

	wallet, err := repo.GetByUserID(userID)
	if err != nil {
		return nil, err
	}

	txn := &model.PointTransaction{
		UserID:       userID,
		Delta:        delta,
		Kind:         kind,
		Reason:       reason,
		BalanceAfter: wallet.Balance,
	}
	if ref != nil && ref.hasReference() {
		txn.ReferenceType = &ref.ReferenceType
		txn.ReferenceID = &ref.ReferenceID
		txn.AwardKind = &ref.AwardKind
	}

	if err := repo.CreateTransaction(txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// GetWallet 获取钱包，不存在时返回零值钱包
func (s *PointsService) GetWallet(userID int64) (*dto.WalletInfo, error) {
	wallet, err := s.walletRepo.GetByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &dto.WalletInfo{UserID: userID}, nil
		}
		return nil, err
	}

	return &dto.WalletInfo{
		UserID:           wallet.UserID,
		Balance:          wallet.Balance,
		LifetimeEarned:   wallet.LifetimeEarned,
		LifetimeRedeemed: wallet.LifetimeRedeemed,
		LifetimeExpired:  wallet.LifetimeExpired,
	}, nil
}

// ListTransactions 分页获取积分流水
func (s *PointsService) ListTransactions(userID int64, query *dto.TransactionListQuery) ([]dto.TransactionInfo, int64, error) {
	txns, total, err := s.walletRepo.ListTransactions(userID, query.Page, query.PageSize)
	if err != nil {
		return nil, 0, err
	}

	items := make([]dto.TransactionInfo, 0, len(txns))
	for _, txn := range txns {
		info := dto.TransactionInfo{
			ID:           txn.ID,
			Delta:        txn.Delta,
			Kind:         string(txn.Kind),
			Reason:       txn.Reason,
			BalanceAfter: txn.BalanceAfter,
			CreatedAt:    txn.CreatedAt.Format(time.RFC3339),
		}
		if txn.ReferenceType != nil {
			info.ReferenceType = *txn.ReferenceType
		}
		if txn.ReferenceID != nil {
			info.ReferenceID = *txn.ReferenceID
		}
		items = append(items, info)
	}
	return items, total, nil
}

// VerifyWallet 校验余额等于全部流水之和
func (s *PointsService) VerifyWallet(userID int64) error {
	sum, err := s.walletRepo.SumDeltas(userID)
	if err != nil {
		return err
	}

	var balance int64
	wallet, err := s.walletRepo.GetByUserID(userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if wallet != nil {
		balance = wallet.Balance
	}

	if balance != sum {
		return fmt.Errorf("%w: user %d balance=%d ledger=%d", ErrLedgerMismatch, userID, balance, sum)
	}
	return nil
}
