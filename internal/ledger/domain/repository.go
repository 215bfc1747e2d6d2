package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LiabilityStore 负债账户与流水
type LiabilityStore interface {
	// LockAndAdjust 对 (member, currency) 账户加行锁并依次应用 postings，同时写入流水。
	// 账户不存在返回 ErrAccountNotFound，余额为负返回 ErrInsufficientFunds。
	LockAndAdjust(ctx context.Context, memberID uint64, currency string, postings []Posting, refType, refID string) (*Account, error)
	// Open 开立账户，已存在时不做修改
	Open(ctx context.Context, memberID uint64, currency string) (*Account, error)
	// Deposit 入金，账户不存在时创建
	Deposit(ctx context.Context, memberID uint64, currency string, amount decimal.Decimal, refID string) (*Account, error)
	// Get 获取账户
	Get(ctx context.Context, memberID uint64, currency string) (*Account, error)
	// ListByMember 会员全部账户
	ListByMember(ctx context.Context, memberID uint64) ([]*Account, error)
	// Entries 按引用查询流水
	Entries(ctx context.Context, refType, refID string) ([]*LiabilityEntry, error)
}

// RevenueStore 手续费收入
type RevenueStore interface {
	Record(ctx context.Context, revenue *Revenue) error
	ListByReference(ctx context.Context, refType, refID string) ([]*Revenue, error)
}

// TradeFilter 会员成交查询条件
type TradeFilter struct {
	MarketID string
	// 仅返回此时间之前的成交，零值不限制
	TimeTo time.Time
	Limit  int
	// 按 id 升序，默认降序
	Ascending bool
}

// TradeRepository 已结算成交
type TradeRepository interface {
	Create(ctx context.Context, trade *Trade) error
	Exists(ctx context.Context, tradeID string) (bool, error)
	GetByTradeID(ctx context.Context, tradeID string) (*Trade, error)
	// ListForMember 查询会员参与的成交，并标记会员所在方向
	ListForMember(ctx context.Context, memberID uint64, filter TradeFilter) ([]*Trade, error)
	// LatestPrice 市场最近一笔成交价，没有成交时为 0
	LatestPrice(ctx context.Context, marketID string) (decimal.Decimal, error)
}
