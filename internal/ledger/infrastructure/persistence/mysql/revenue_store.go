package mysql

import (
	"context"
	"fmt"

	"github.com/wyfcoding/exchangecore/internal/ledger/domain"
	"github.com/wyfcoding/exchangecore/pkg/db"
	"gorm.io/gorm"
)

type revenueStoreImpl struct {
	db *gorm.DB
}

// NewRevenueStore 创建手续费收入仓储
func NewRevenueStore(db *gorm.DB) domain.RevenueStore {
	return &revenueStoreImpl{db: db}
}

// Record 记录一笔收入，金额为 0 时跳过
func (s *revenueStoreImpl) Record(ctx context.Context, revenue *domain.Revenue) error {
	if revenue.Amount.IsZero() {
		return nil
	}
	if err := db.Conn(ctx, s.db).Create(revenue).Error; err != nil {
		return fmt.Errorf("failed to record revenue: %w", err)
	}
	return nil
}

// ListByReference 按引用查询收入
func (s *revenueStoreImpl) ListByReference(ctx context.Context, refType, refID string) ([]*domain.Revenue, error) {
	var revenues []*domain.Revenue
	if err := db.Conn(ctx, s.db).Where("reference_type = ? AND reference_id = ?", refType, refID).Order("id asc").Find(&revenues).Error; err != nil {
		return nil, err
	}
	return revenues, nil
}
