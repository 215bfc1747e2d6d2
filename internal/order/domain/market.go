package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PrecisionPolicy 按市场与买卖方向将数值截断到可交易精度
type PrecisionPolicy interface {
	Round(side Side, amount decimal.Decimal) decimal.Decimal
}

// Market 市场配置：手续费率、保证金率与精度规则。
// 由调用方显式传入，领域层不做全局查找。
type Market struct {
	ID string
	// 基础币种（卖单冻结币种）
	BaseUnit string
	// 计价币种（买单冻结币种）
	QuoteUnit string
	AskFee    decimal.Decimal
	BidFee    decimal.Decimal
	// 保证金率
	MarginRate decimal.Decimal
	// 价格精度（bid 规则）
	PricePrecision int32
	// 数量精度（ask 规则）
	AmountPrecision int32
}

// Validate 校验费率区间
func (m *Market) Validate() error {
	one := decimal.NewFromInt(1)
	for name, fee := range map[string]decimal.Decimal{"ask_fee": m.AskFee, "bid_fee": m.BidFee} {
		if fee.IsNegative() || fee.GreaterThanOrEqual(one) {
			return fmt.Errorf("market %s: %s must be in [0,1), got %s", m.ID, name, fee)
		}
	}
	if m.MarginRate.IsNegative() {
		return fmt.Errorf("market %s: margin_rate must not be negative", m.ID)
	}
	return nil
}

// Round 向下截断：bid 规则用于价格，ask 规则用于数量
func (m *Market) Round(side Side, amount decimal.Decimal) decimal.Decimal {
	if side == SideBid {
		return amount.Truncate(m.PricePrecision)
	}
	return amount.Truncate(m.AmountPrecision)
}

// FeeFor 返回对应方向的手续费率
func (m *Market) FeeFor(side Side) decimal.Decimal {
	if side == SideBid {
		return m.BidFee
	}
	return m.AskFee
}

// MarketRegistry 只读的市场配置表
type MarketRegistry struct {
	markets map[string]*Market
}

// NewMarketRegistry 构建市场表，任一市场配置非法即返回错误
func NewMarketRegistry(markets ...*Market) (*MarketRegistry, error) {
	r := &MarketRegistry{markets: make(map[string]*Market, len(markets))}
	for _, m := range markets {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, ok := r.markets[m.ID]; ok {
			return nil, fmt.Errorf("duplicate market %s", m.ID)
		}
		r.markets[m.ID] = m
	}
	return r, nil
}

// Get 按 ID 获取市场
func (r *MarketRegistry) Get(id string) (*Market, error) {
	m, ok := r.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	return m, nil
}
