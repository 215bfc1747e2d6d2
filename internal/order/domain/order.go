// Package domain 包含订单服务的领域模型：订单、资金冻结估算与生命周期
package domain

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Side 买卖方向
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Opposite 对手方向
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// OrdType 订单类型
type OrdType string

const (
	OrdTypeLimit  OrdType = "limit"
	OrdTypeMarket OrdType = "market"
)

// State 订单状态
type State string

const (
	StateWait   State = "wait"
	StateDone   State = "done"
	StateCancel State = "cancel"
)

// IsTerminal 是否终态
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateCancel
}

// Order 订单实体
type Order struct {
	gorm.Model
	// 市场 ID
	MarketID string `gorm:"column:market_id;type:varchar(20);index:idx_orders_market_state;not null" json:"market"`
	// 会员 ID
	MemberID uint64 `gorm:"column:member_id;index;not null" json:"member_id"`
	// 买卖方向
	Side Side `gorm:"column:side;type:varchar(8);not null" json:"side"`
	// 订单类型
	OrdType OrdType `gorm:"column:ord_type;type:varchar(10);not null" json:"ord_type"`
	// 计价币种
	Bid string `gorm:"column:bid;type:varchar(10);not null" json:"bid"`
	// 基础币种
	Ask string `gorm:"column:ask;type:varchar(10);not null" json:"ask"`
	// 限价单价格，市价单为空
	Price decimal.NullDecimal `gorm:"column:price;type:decimal(32,16)" json:"price"`
	// 剩余数量
	Volume decimal.Decimal `gorm:"column:volume;type:decimal(32,16);not null" json:"volume"`
	// 原始数量
	OriginVolume decimal.Decimal `gorm:"column:origin_volume;type:decimal(32,16);not null" json:"origin_volume"`
	// 当前冻结金额
	Locked decimal.Decimal `gorm:"column:locked;type:decimal(32,16);not null;default:0" json:"locked"`
	// 创建时冻结金额
	OriginLocked decimal.Decimal `gorm:"column:origin_locked;type:decimal(32,16);not null;default:0" json:"origin_locked"`
	// 手续费率，创建时从市场配置复制
	Fee decimal.Decimal `gorm:"column:fee;type:decimal(32,16);not null;default:0" json:"fee"`
	// 累计成交所得
	FundsReceived decimal.Decimal `gorm:"column:funds_received;type:decimal(32,16);default:0" json:"funds_received"`
	State         State           `gorm:"column:state;type:varchar(10);index:idx_orders_market_state;not null" json:"state"`
	TradesCount   int             `gorm:"column:trades_count;not null;default:0" json:"trades_count"`
}

// TableName 表名
func (Order) TableName() string {
	return "orders"
}

// CreateOrderRequest 下单参数
type CreateOrderRequest struct {
	MarketID     string
	MemberID     uint64
	Side         Side
	OrdType      OrdType
	Price        decimal.NullDecimal
	Volume       decimal.Decimal
	OriginVolume decimal.NullDecimal
}

// NewOrder 按市场规则构造 wait 状态的订单：价格按 bid 规则、数量按 ask 规则截断，
// origin_volume 缺省取截断后的 volume，手续费率按方向复制且之后不再变更。
func NewOrder(req CreateOrderRequest, market *Market) *Order {
	o := &Order{
		MarketID:      market.ID,
		MemberID:      req.MemberID,
		Side:          req.Side,
		OrdType:       req.OrdType,
		Bid:           market.QuoteUnit,
		Ask:           market.BaseUnit,
		Locked:        decimal.Zero,
		OriginLocked:  decimal.Zero,
		FundsReceived: decimal.Zero,
		Fee:           market.FeeFor(req.Side),
		State:         StateWait,
	}
	o.fixNumberPrecision(req, market)
	return o
}

func (o *Order) fixNumberPrecision(req CreateOrderRequest, p PrecisionPolicy) {
	if req.Price.Valid {
		o.Price = decimal.NewNullDecimal(p.Round(SideBid, req.Price.Decimal))
	}
	o.Volume = p.Round(SideAsk, req.Volume)
	if req.OriginVolume.Valid {
		o.OriginVolume = p.Round(SideAsk, req.OriginVolume.Decimal)
	} else {
		o.OriginVolume = o.Volume
	}
}

// Validate 创建前的形态校验
func (o *Order) Validate() error {
	if o.OrdType != OrdTypeLimit && o.OrdType != OrdTypeMarket {
		return invalid("ord_type", "must be limit or market")
	}
	if o.Side != SideBid && o.Side != SideAsk {
		return invalid("side", "must be bid or ask")
	}
	if !o.OriginVolume.IsPositive() {
		return invalid("origin_volume", "must be greater than 0")
	}
	if o.Volume.IsNegative() {
		return invalid("volume", "must not be negative")
	}
	switch o.OrdType {
	case OrdTypeLimit:
		if !o.Price.Valid || !o.Price.Decimal.IsPositive() {
			return invalid("price", "must be greater than 0")
		}
	case OrdTypeMarket:
		if o.Price.Valid {
			return invalid("price", "must not be present")
		}
	}
	if o.Locked.IsNegative() || o.OriginLocked.IsNegative() {
		return invalid("locked", "must not be negative")
	}
	if o.OriginLocked.LessThan(o.Locked) {
		return invalid("origin_locked", "must not be less than locked")
	}
	return nil
}

// Reserve 记录创建时冻结的金额
func (o *Order) Reserve(amount decimal.Decimal) {
	o.Locked = amount
	o.OriginLocked = amount
}

// LockedCurrency 冻结币种：买单冻结计价币，卖单冻结基础币
func (o *Order) LockedCurrency() string {
	if o.Side == SideBid {
		return o.Bid
	}
	return o.Ask
}

// ReceivedCurrency 成交所得币种
func (o *Order) ReceivedCurrency() string {
	if o.Side == SideBid {
		return o.Ask
	}
	return o.Bid
}

// FundsUsed 已被成交消耗的冻结金额
func (o *Order) FundsUsed() decimal.Decimal {
	return o.OriginLocked.Sub(o.Locked)
}

// Margin 保证金 = margin_rate × volume × price，市价单无价格时为 0
func (o *Order) Margin(m *Market) decimal.Decimal {
	if !o.Price.Valid {
		return decimal.Zero
	}
	return m.MarginRate.Mul(o.Volume).Mul(o.Price.Decimal)
}

// Transition 从 wait 迁移到终态
func (o *Order) Transition(to State) error {
	if !to.IsTerminal() {
		return invalid("state", "target must be done or cancel")
	}
	if o.State != StateWait {
		return ErrOrderNotActive
	}
	o.State = to
	return nil
}

// ApplyFill 记入一笔成交：volume 为成交数量，outcome 为从冻结中扣除的金额，
// income 为扣费后的所得。剩余数量归零时订单完成。
func (o *Order) ApplyFill(volume, outcome, income decimal.Decimal) error {
	if o.State != StateWait {
		return ErrOrderNotActive
	}
	if volume.GreaterThan(o.Volume) || outcome.GreaterThan(o.Locked) {
		return ErrOverfill
	}
	o.Volume = o.Volume.Sub(volume)
	o.Locked = o.Locked.Sub(outcome)
	o.FundsReceived = o.FundsReceived.Add(income)
	o.TradesCount++
	if o.Volume.IsZero() {
		o.State = StateDone
	}
	return nil
}

// ReleaseLocked 终态时返还剩余冻结，返回应解冻金额
func (o *Order) ReleaseLocked() decimal.Decimal {
	remaining := o.Locked
	o.Locked = decimal.Zero
	return remaining
}

// At 创建时间戳（秒）
func (o *Order) At() int64 {
	return o.CreatedAt.Unix()
}

// MatchingAttributes 交给撮合引擎的订单快照
type MatchingAttributes struct {
	ID        uint                `json:"id"`
	Market    string              `json:"market"`
	Side      Side                `json:"side"`
	OrdType   OrdType             `json:"ord_type"`
	Volume    decimal.Decimal     `json:"volume"`
	Price     decimal.NullDecimal `json:"price"`
	Locked    decimal.Decimal     `json:"locked"`
	Timestamp int64               `json:"timestamp"`
}

// ToMatchingAttributes 生成撮合属性
func (o *Order) ToMatchingAttributes() MatchingAttributes {
	return MatchingAttributes{
		ID:        o.ID,
		Market:    o.MarketID,
		Side:      o.Side,
		OrdType:   o.OrdType,
		Volume:    o.Volume,
		Price:     o.Price,
		Locked:    o.Locked,
		Timestamp: o.At(),
	}
}

// PushPayload 推送给会员界面的订单信息
func (o *Order) PushPayload() map[string]any {
	var price any
	if o.Price.Valid {
		price = o.Price.Decimal.String()
	}
	return map[string]any{
		"id":            o.ID,
		"at":            o.At(),
		"market":        o.MarketID,
		"kind":          string(o.Side),
		"price":         price,
		"state":         string(o.State),
		"volume":        o.Volume.String(),
		"origin_volume": o.OriginVolume.String(),
	}
}
