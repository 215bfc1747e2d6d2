package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel 盘口档位
type PriceLevel struct {
	Price  decimal.Decimal
	Volume decimal.Decimal
}

// OrderBookSnapshot 某一时刻的盘口视图，档位按最优价在前排序
type OrderBookSnapshot interface {
	Levels(side Side) []PriceLevel
}

// OrderBookSource 提供市场的盘口快照
type OrderBookSource interface {
	Snapshot(ctx context.Context, marketID string) (*Snapshot, error)
}

// Snapshot 不可变的盘口快照
type Snapshot struct {
	MarketID string
	TakenAt  time.Time
	bids     []PriceLevel
	asks     []PriceLevel
}

// NewSnapshot 复制传入档位，之后对原切片的修改不影响快照
func NewSnapshot(marketID string, bids, asks []PriceLevel, takenAt time.Time) *Snapshot {
	return &Snapshot{
		MarketID: marketID,
		TakenAt:  takenAt,
		bids:     append([]PriceLevel(nil), bids...),
		asks:     append([]PriceLevel(nil), asks...),
	}
}

// Levels 返回指定方向档位的副本
func (s *Snapshot) Levels(side Side) []PriceLevel {
	if s == nil {
		return nil
	}
	if side == SideBid {
		return append([]PriceLevel(nil), s.bids...)
	}
	return append([]PriceLevel(nil), s.asks...)
}
