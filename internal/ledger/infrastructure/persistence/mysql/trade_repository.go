package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/exchangecore/internal/ledger/domain"
	"github.com/wyfcoding/exchangecore/pkg/db"
	"gorm.io/gorm"
)

type tradeRepositoryImpl struct {
	db *gorm.DB
}

// NewTradeRepository 创建成交仓储
func NewTradeRepository(db *gorm.DB) domain.TradeRepository {
	return &tradeRepositoryImpl{db: db}
}

// Create 保存已结算成交
func (r *tradeRepositoryImpl) Create(ctx context.Context, trade *domain.Trade) error {
	if err := db.Conn(ctx, r.db).Create(trade).Error; err != nil {
		return fmt.Errorf("failed to save trade %s: %w", trade.TradeID, err)
	}
	return nil
}

// Exists 成交 ID 是否已结算
func (r *tradeRepositoryImpl) Exists(ctx context.Context, tradeID string) (bool, error) {
	var count int64
	if err := db.Conn(ctx, r.db).Model(&domain.Trade{}).Where("trade_id = ?", tradeID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetByTradeID 按成交 ID 查询
func (r *tradeRepositoryImpl) GetByTradeID(ctx context.Context, tradeID string) (*domain.Trade, error) {
	var trade domain.Trade
	if err := db.Conn(ctx, r.db).Where("trade_id = ?", tradeID).First(&trade).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trade, nil
}

// ListForMember 查询会员作为买方或卖方参与的成交
func (r *tradeRepositoryImpl) ListForMember(ctx context.Context, memberID uint64, filter domain.TradeFilter) ([]*domain.Trade, error) {
	q := db.Conn(ctx, r.db).Where("(ask_member_id = ? OR bid_member_id = ?)", memberID, memberID)
	if filter.MarketID != "" {
		q = q.Where("market_id = ?", filter.MarketID)
	}
	if !filter.TimeTo.IsZero() {
		q = q.Where("created_at < ?", filter.TimeTo)
	}
	if filter.Ascending {
		q = q.Order("id asc")
	} else {
		q = q.Order("id desc")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var trades []*domain.Trade
	if err := q.Find(&trades).Error; err != nil {
		return nil, err
	}
	for _, t := range trades {
		t.ForMember(memberID)
	}
	return trades, nil
}

// LatestPrice 按 id 取市场最后一笔成交的价格
func (r *tradeRepositoryImpl) LatestPrice(ctx context.Context, marketID string) (decimal.Decimal, error) {
	var trade domain.Trade
	err := db.Conn(ctx, r.db).Select("price").Where("market_id = ?", marketID).Order("id desc").Take(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load latest price of %s: %w", marketID, err)
	}
	return trade.Price, nil
}
