// Package mysql 提供账本仓储接口的 GORM 实现。
package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/exchangecore/internal/ledger/domain"
	"github.com/wyfcoding/exchangecore/pkg/db"
	"github.com/wyfcoding/exchangecore/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// liabilityStoreImpl 是 domain.LiabilityStore 接口的 GORM 实现。
type liabilityStoreImpl struct {
	db *gorm.DB
}

// NewLiabilityStore 创建负债仓储实例
func NewLiabilityStore(db *gorm.DB) domain.LiabilityStore {
	return &liabilityStoreImpl{db: db}
}

// LockAndAdjust 实现 domain.LiabilityStore.LockAndAdjust
func (s *liabilityStoreImpl) LockAndAdjust(ctx context.Context, memberID uint64, currency string, postings []domain.Posting, refType, refID string) (*domain.Account, error) {
	conn := db.Conn(ctx, s.db)

	var account domain.Account
	err := conn.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("member_id = ? AND currency = ?", memberID, currency).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: member %d %s", domain.ErrAccountNotFound, memberID, currency)
		}
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	entries := make([]*domain.LiabilityEntry, 0, len(postings))
	for _, p := range postings {
		if p.MemberID != memberID || p.Currency != currency {
			return nil, fmt.Errorf("posting for member %d %s applied to account member %d %s", p.MemberID, p.Currency, memberID, currency)
		}
		if p.Amount.IsZero() {
			continue
		}
		if err := account.Apply(p.Kind, p.Amount); err != nil {
			return nil, err
		}
		entries = append(entries, &domain.LiabilityEntry{
			MemberID:      memberID,
			Currency:      currency,
			Kind:          p.Kind,
			Amount:        p.Amount,
			ReferenceType: refType,
			ReferenceID:   refID,
		})
	}
	if len(entries) == 0 {
		return &account, nil
	}

	if err := conn.Model(&account).Updates(map[string]any{
		"balance": account.Balance,
		"locked":  account.Locked,
	}).Error; err != nil {
		logger.Error(ctx, "liability_store.adjust failed", "member_id", memberID, "currency", currency, "error", err)
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	if err := conn.Create(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to append liabilities: %w", err)
	}
	return &account, nil
}

// Deposit 实现 domain.LiabilityStore.Deposit
func (s *liabilityStoreImpl) Deposit(ctx context.Context, memberID uint64, currency string, amount decimal.Decimal, refID string) (*domain.Account, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("deposit amount must be positive, got %s", amount)
	}

	if _, err := s.Open(ctx, memberID, currency); err != nil {
		return nil, err
	}
	return s.LockAndAdjust(ctx, memberID, currency, []domain.Posting{
		{MemberID: memberID, Currency: currency, Kind: domain.KindMain, Amount: amount},
	}, domain.RefDeposit, refID)
}

// Open 实现 domain.LiabilityStore.Open
func (s *liabilityStoreImpl) Open(ctx context.Context, memberID uint64, currency string) (*domain.Account, error) {
	account := domain.Account{MemberID: memberID, Currency: currency, Balance: decimal.Zero, Locked: decimal.Zero}
	if err := db.Conn(ctx, s.db).Clauses(clause.OnConflict{DoNothing: true}).Create(&account).Error; err != nil {
		return nil, fmt.Errorf("failed to open account: %w", err)
	}
	return s.Get(ctx, memberID, currency)
}

// Get 实现 domain.LiabilityStore.Get
func (s *liabilityStoreImpl) Get(ctx context.Context, memberID uint64, currency string) (*domain.Account, error) {
	var account domain.Account
	if err := db.Conn(ctx, s.db).Where("member_id = ? AND currency = ?", memberID, currency).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: member %d %s", domain.ErrAccountNotFound, memberID, currency)
		}
		return nil, err
	}
	return &account, nil
}

// ListByMember 实现 domain.LiabilityStore.ListByMember
func (s *liabilityStoreImpl) ListByMember(ctx context.Context, memberID uint64) ([]*domain.Account, error) {
	var accounts []*domain.Account
	if err := db.Conn(ctx, s.db).Where("member_id = ?", memberID).Order("currency asc").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// Entries 实现 domain.LiabilityStore.Entries
func (s *liabilityStoreImpl) Entries(ctx context.Context, refType, refID string) ([]*domain.LiabilityEntry, error) {
	var entries []*domain.LiabilityEntry
	if err := db.Conn(ctx, s.db).Where("reference_type = ? AND reference_id = ?", refType, refID).Order("id asc").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
