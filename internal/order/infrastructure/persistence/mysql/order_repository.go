// Package mysql 提供了订单仓储接口的 GORM 实现。
package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/exchangecore/internal/order/domain"
	"github.com/wyfcoding/exchangecore/pkg/db"
	"github.com/wyfcoding/exchangecore/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// orderRepositoryImpl 是 domain.OrderRepository 接口的 GORM 实现。
// 所有操作通过 db.Conn 参与 context 中的事务。
type orderRepositoryImpl struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储实例
func NewOrderRepository(db *gorm.DB) domain.OrderRepository {
	return &orderRepositoryImpl{db: db}
}

// Create 实现 domain.OrderRepository.Create
func (r *orderRepositoryImpl) Create(ctx context.Context, order *domain.Order) error {
	if err := db.Conn(ctx, r.db).Create(order).Error; err != nil {
		logger.Error(ctx, "order_repository.create failed", "member_id", order.MemberID, "market", order.MarketID, "error", err)
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// Get 实现 domain.OrderRepository.Get
func (r *orderRepositoryImpl) Get(ctx context.Context, id uint) (*domain.Order, error) {
	return r.first(ctx, db.Conn(ctx, r.db), id)
}

// GetForUpdate 实现 domain.OrderRepository.GetForUpdate
func (r *orderRepositoryImpl) GetForUpdate(ctx context.Context, id uint) (*domain.Order, error) {
	return r.first(ctx, db.Conn(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *orderRepositoryImpl) first(ctx context.Context, q *gorm.DB, id uint) (*domain.Order, error) {
	var order domain.Order
	if err := q.First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", domain.ErrOrderNotFound, id)
		}
		logger.Error(ctx, "order_repository.get failed", "order_id", id, "error", err)
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

// Update 实现 domain.OrderRepository.Update，以 state 作为乐观条件
func (r *orderRepositoryImpl) Update(ctx context.Context, order *domain.Order, expected domain.State) error {
	result := db.Conn(ctx, r.db).Model(&domain.Order{}).
		Where("id = ? AND state = ?", order.ID, expected).
		Updates(map[string]any{
			"volume":         order.Volume,
			"locked":         order.Locked,
			"funds_received": order.FundsReceived,
			"state":          order.State,
			"trades_count":   order.TradesCount,
		})
	if result.Error != nil {
		logger.Error(ctx, "order_repository.update failed", "order_id", order.ID, "error", result.Error)
		return fmt.Errorf("failed to update order: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: order %d", domain.ErrStaleState, order.ID)
	}
	return nil
}

// ListByMember 实现 domain.OrderRepository.ListByMember
func (r *orderRepositoryImpl) ListByMember(ctx context.Context, memberID uint64, state domain.State, limit, offset int) ([]*domain.Order, int64, error) {
	var orders []*domain.Order
	var total int64

	q := db.Conn(ctx, r.db).Model(&domain.Order{}).Where("member_id = ?", memberID)
	if state != "" {
		q = q.Where("state = ?", state)
	}
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("id desc").Limit(limit).Offset(offset).Find(&orders).Error; err != nil {
		logger.Error(ctx, "order_repository.list_by_member failed", "member_id", memberID, "error", err)
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, total, nil
}
