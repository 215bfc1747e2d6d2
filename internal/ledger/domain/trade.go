// Package domain 账本领域模型：成交、负债账户、负债流水与手续费收入
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	orderdomain "github.com/wyfcoding/exchangecore/internal/order/domain"
	"gorm.io/gorm"
)

// Trade 撮合产生的一笔成交
type Trade struct {
	gorm.Model
	// 撮合引擎分配的成交 ID，用于幂等判定
	TradeID     string          `gorm:"column:trade_id;type:varchar(64);uniqueIndex;not null" json:"trade_id"`
	MarketID    string          `gorm:"column:market_id;type:varchar(20);index;not null" json:"market"`
	AskOrderID  uint            `gorm:"column:ask_order_id;index;not null" json:"ask_id"`
	BidOrderID  uint            `gorm:"column:bid_order_id;index;not null" json:"bid_id"`
	AskMemberID uint64          `gorm:"column:ask_member_id;index;not null" json:"ask_member_id"`
	BidMemberID uint64          `gorm:"column:bid_member_id;index;not null" json:"bid_member_id"`
	Price       decimal.Decimal `gorm:"column:price;type:decimal(32,16);not null" json:"price"`
	Volume      decimal.Decimal `gorm:"column:volume;type:decimal(32,16);not null" json:"volume"`
	// price × volume
	Funds     decimal.Decimal `gorm:"column:funds;type:decimal(32,16);not null" json:"funds"`
	SettledAt *time.Time      `gorm:"column:settled_at" json:"settled_at"`

	// Side 查询视角下会员所在方向，不落库
	Side orderdomain.Side `gorm:"-" json:"side,omitempty"`
}

// TableName 表名
func (Trade) TableName() string {
	return "trades"
}

// Validate 成交数值校验
func (t *Trade) Validate() error {
	if t.TradeID == "" || t.MarketID == "" {
		return ErrInvalidTrade
	}
	if !t.Price.IsPositive() || !t.Volume.IsPositive() || !t.Funds.IsPositive() {
		return ErrInvalidTrade
	}
	return nil
}

// ForMember 标记会员在该成交中的方向，会员两边都不是时保持为空
func (t *Trade) ForMember(memberID uint64) *Trade {
	switch memberID {
	case t.AskMemberID:
		t.Side = orderdomain.SideAsk
	case t.BidMemberID:
		t.Side = orderdomain.SideBid
	}
	return t
}

// ForNotify 推送载荷，kind 为查看者所在方向，at 为撮合时间
func (t *Trade) ForNotify() map[string]any {
	at := t.CreatedAt
	if at.IsZero() && t.SettledAt != nil {
		at = *t.SettledAt
	}
	return map[string]any{
		"id":     t.ID,
		"kind":   string(t.Side),
		"at":     at.Unix(),
		"price":  t.Price.String(),
		"volume": t.Volume.String(),
		"funds":  t.Funds.String(),
		"ask_id": t.AskOrderID,
		"bid_id": t.BidOrderID,
		"market": t.MarketID,
	}
}
