// Package application 账本用例：资金冻结、入金与成交结算
package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/exchangecore/internal/ledger/domain"
	orderdomain "github.com/wyfcoding/exchangecore/internal/order/domain"
	"github.com/wyfcoding/exchangecore/pkg/logger"
)

// FundsService 实现 orderdomain.FundsLocker，并提供入金与余额查询
type FundsService struct {
	liabilities domain.LiabilityStore
	tx          orderdomain.TxManager
}

// NewFundsService 创建资金服务
func NewFundsService(liabilities domain.LiabilityStore, tx orderdomain.TxManager) *FundsService {
	return &FundsService{liabilities: liabilities, tx: tx}
}

// LockFunds 可用转入冻结；没有该币种账户视为余额不足
func (s *FundsService) LockFunds(ctx context.Context, memberID uint64, currency string, amount decimal.Decimal, orderID uint) error {
	if !amount.IsPositive() {
		return nil
	}
	_, err := s.liabilities.LockAndAdjust(ctx, memberID, currency,
		domain.LockPostings(memberID, currency, amount), domain.RefOrder, domain.OrderRef(orderID))
	if errors.Is(err, domain.ErrAccountNotFound) {
		return fmt.Errorf("%w: member %d has no %s account", domain.ErrInsufficientFunds, memberID, currency)
	}
	return err
}

// UnlockFunds 冻结转回可用
func (s *FundsService) UnlockFunds(ctx context.Context, memberID uint64, currency string, amount decimal.Decimal, orderID uint) error {
	if !amount.IsPositive() {
		return nil
	}
	_, err := s.liabilities.LockAndAdjust(ctx, memberID, currency,
		domain.ReleasePostings(memberID, currency, amount), domain.RefOrder, domain.OrderRef(orderID))
	return err
}

// Deposit 入金，refID 为空时生成
func (s *FundsService) Deposit(ctx context.Context, memberID uint64, currency string, amount decimal.Decimal, refID string) (*domain.Account, error) {
	if refID == "" {
		refID = uuid.NewString()
	}
	var account *domain.Account
	err := s.tx.Transaction(ctx, func(ctx context.Context) error {
		var err error
		account, err = s.liabilities.Deposit(ctx, memberID, currency, amount, refID)
		return err
	})
	if err != nil {
		logger.Warn(ctx, "deposit failed", "member_id", memberID, "currency", currency, "error", err)
		return nil, err
	}
	logger.Info(ctx, "deposit accepted", "member_id", memberID, "currency", currency, "amount", amount.String(), "ref", refID)
	return account, nil
}

// OpenAccounts 为会员开立各币种账户
func (s *FundsService) OpenAccounts(ctx context.Context, memberID uint64, currencies ...string) error {
	return s.tx.Transaction(ctx, func(ctx context.Context) error {
		for _, c := range currencies {
			if _, err := s.liabilities.Open(ctx, memberID, c); err != nil {
				return err
			}
		}
		return nil
	})
}

// Balances 会员全部账户余额
func (s *FundsService) Balances(ctx context.Context, memberID uint64) ([]*domain.Account, error) {
	return s.liabilities.ListByMember(ctx, memberID)
}
