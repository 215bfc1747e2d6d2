package application

import (
	"context"

	"github.com/wyfcoding/exchangecore/internal/order/domain"
)

// OrderQueryService 订单只读查询
type OrderQueryService struct {
	repo domain.OrderRepository
}

// NewOrderQueryService 创建查询服务
func NewOrderQueryService(repo domain.OrderRepository) *OrderQueryService {
	return &OrderQueryService{repo: repo}
}

// GetOrder 获取订单
func (q *OrderQueryService) GetOrder(ctx context.Context, id uint) (*domain.Order, error) {
	return q.repo.Get(ctx, id)
}

// MatchingAttributes 获取交给撮合引擎的订单属性
func (q *OrderQueryService) MatchingAttributes(ctx context.Context, id uint) (domain.MatchingAttributes, error) {
	o, err := q.repo.Get(ctx, id)
	if err != nil {
		return domain.MatchingAttributes{}, err
	}
	return o.ToMatchingAttributes(), nil
}

// ListOrders 分页查询会员订单
func (q *OrderQueryService) ListOrders(ctx context.Context, memberID uint64, state domain.State, limit, offset int) ([]*domain.Order, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return q.repo.ListByMember(ctx, memberID, state, limit, offset)
}
