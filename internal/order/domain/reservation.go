package domain

import (
	"github.com/shopspring/decimal"
)

var (
	// SlippageFuse 市价单成交价相对起始价的最大偏离比例
	SlippageFuse = decimal.RequireFromString("0.9")
	// LockingBufferFactor 市价买单的冻结缓冲系数
	LockingBufferFactor = decimal.RequireFromString("1.1")
)

// ComputeLocked 计算新订单需要冻结的金额，不修改订单也不加锁。
// 限价卖单冻结数量，限价买单冻结 price × volume；
// 市价单沿对手盘逐档吃单估算，买单再乘以缓冲系数。
func ComputeLocked(o *Order, book OrderBookSnapshot) (decimal.Decimal, error) {
	switch o.OrdType {
	case OrdTypeLimit:
		if o.Side == SideBid {
			if !o.Price.Valid {
				return decimal.Zero, invalid("price", "must be greater than 0")
			}
			return o.Price.Decimal.Mul(o.Volume), nil
		}
		return o.Volume, nil

	case OrdTypeMarket:
		if !o.Volume.IsPositive() {
			return decimal.Zero, invalid("volume", "must be greater than 0")
		}
		if book == nil {
			return decimal.Zero, ErrInsufficientDepth
		}
		if o.Side == SideBid {
			funds, err := estimateRequiredFunds(book.Levels(SideAsk), o.Volume, func(price, volume decimal.Decimal) decimal.Decimal {
				return price.Mul(volume)
			})
			if err != nil {
				return decimal.Zero, err
			}
			return funds.Mul(LockingBufferFactor), nil
		}
		return estimateRequiredFunds(book.Levels(SideBid), o.Volume, func(_, volume decimal.Decimal) decimal.Decimal {
			return volume
		})
	}

	return decimal.Zero, invalid("ord_type", "must be limit or market")
}

// estimateRequiredFunds 从最优档开始消耗 volume，累加每档的成本。
// 深度不足返回 ErrInsufficientDepth；最后成交档与首档价差超过
// 首档价格的 SlippageFuse 倍时返回 ErrExcessiveSlippage。
func estimateRequiredFunds(levels []PriceLevel, volume decimal.Decimal, cost func(price, volume decimal.Decimal) decimal.Decimal) (decimal.Decimal, error) {
	required := decimal.Zero
	expected := volume

	var startFrom, filledAt decimal.Decimal
	started := false

	for _, level := range levels {
		if !expected.IsPositive() {
			break
		}
		if !level.Volume.IsPositive() {
			continue
		}
		if !started {
			startFrom = level.Price
			started = true
		}
		filledAt = level.Price

		v := decimal.Min(expected, level.Volume)
		required = required.Add(cost(level.Price, v))
		expected = expected.Sub(v)
	}

	if expected.IsPositive() || !startFrom.IsPositive() {
		return decimal.Zero, ErrInsufficientDepth
	}
	// |filled - start| / start > fuse，两边同乘 start（start > 0）避免除法舍入
	if filledAt.Sub(startFrom).Abs().GreaterThan(startFrom.Mul(SlippageFuse)) {
		return decimal.Zero, ErrExcessiveSlippage
	}

	return required, nil
}
