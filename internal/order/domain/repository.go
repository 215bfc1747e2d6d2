package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderRepository 订单仓储接口
type OrderRepository interface {
	// Create 保存新订单
	Create(ctx context.Context, order *Order) error
	// Get 根据订单 ID 获取订单，不存在时返回 ErrOrderNotFound
	Get(ctx context.Context, id uint) (*Order, error)
	// GetForUpdate 在当前事务内对订单行加排他锁后读取
	GetForUpdate(ctx context.Context, id uint) (*Order, error)
	// Update 仅当库中状态仍为 expected 时写回，否则返回 ErrStaleState
	Update(ctx context.Context, order *Order, expected State) error
	// ListByMember 分页查询会员订单，state 为空时不过滤
	ListByMember(ctx context.Context, memberID uint64, state State, limit, offset int) ([]*Order, int64, error)
}

// FundsLocker 会员余额的冻结与解冻
type FundsLocker interface {
	// LockFunds 将 amount 从可用转入冻结，可用不足返回 ErrInsufficientFunds
	LockFunds(ctx context.Context, memberID uint64, currency string, amount decimal.Decimal, orderID uint) error
	// UnlockFunds 将 amount 从冻结转回可用
	UnlockFunds(ctx context.Context, memberID uint64, currency string, amount decimal.Decimal, orderID uint) error
}

// EventPublisher 对外事件流，topic 形如 market.<market_id>.<event>
type EventPublisher interface {
	Notify(ctx context.Context, topic string, payload any) error
}

// Notifier 会员界面推送，尽力而为
type Notifier interface {
	Push(ctx context.Context, memberID uint64, channel string, payload any) error
}

// TxManager 事务边界
type TxManager interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}
