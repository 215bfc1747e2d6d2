package domain

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
	orderdomain "github.com/wyfcoding/exchangecore/internal/order/domain"
)

// Posting 对某一负债账户的一次调整
type Posting struct {
	MemberID uint64
	Currency string
	Kind     LiabilityKind
	Amount   decimal.Decimal
}

// AccountKey 账户加锁顺序键
type AccountKey struct {
	MemberID uint64
	Currency string
}

// Fill 单个订单在一笔成交中的变化
type Fill struct {
	Volume decimal.Decimal
	// 从冻结中扣除
	Outcome decimal.Decimal
	// 扣费后计入可用
	Income decimal.Decimal
}

// SettlementPlan 一笔成交的全部账务变化
type SettlementPlan struct {
	Trade    *Trade
	Postings []Posting
	Revenues []*Revenue
	AskFill  Fill
	BidFill  Fill
}

// PlanSettlement 计算成交的四笔负债调整与两笔手续费收入，不修改订单。
//
//	卖方 locked(base)  −volume
//	买方 locked(quote) −funds
//	卖方 main(quote)   +(funds − funds×bid.fee)
//	买方 main(base)    +(volume − volume×ask.fee)
//
// 每一方所得按对手订单创建时记录的费率扣费，base 手续费记在买方名下，
// quote 手续费记在卖方名下。按本方费率的写法（volume×bid.fee、funds×ask.fee）
// 与卖方 +999、买方 +9.98 的结算结果冲突，这里以后者为准，见 DESIGN.md 的费率决定。
func PlanSettlement(trade *Trade, ask, bid *orderdomain.Order) (*SettlementPlan, error) {
	if err := trade.Validate(); err != nil {
		return nil, err
	}
	if err := checkOrder(trade, ask, orderdomain.SideAsk, trade.AskOrderID, trade.AskMemberID); err != nil {
		return nil, err
	}
	if err := checkOrder(trade, bid, orderdomain.SideBid, trade.BidOrderID, trade.BidMemberID); err != nil {
		return nil, err
	}

	base, quote := ask.Ask, ask.Bid
	baseFee := trade.Volume.Mul(ask.Fee)
	quoteFee := trade.Funds.Mul(bid.Fee)

	plan := &SettlementPlan{
		Trade: trade,
		AskFill: Fill{
			Volume:  trade.Volume,
			Outcome: trade.Volume,
			Income:  trade.Funds.Sub(quoteFee),
		},
		BidFill: Fill{
			Volume:  trade.Volume,
			Outcome: trade.Funds,
			Income:  trade.Volume.Sub(baseFee),
		},
	}
	plan.Postings = []Posting{
		{MemberID: ask.MemberID, Currency: base, Kind: KindLocked, Amount: plan.AskFill.Outcome.Neg()},
		{MemberID: bid.MemberID, Currency: quote, Kind: KindLocked, Amount: plan.BidFill.Outcome.Neg()},
		{MemberID: ask.MemberID, Currency: quote, Kind: KindMain, Amount: plan.AskFill.Income},
		{MemberID: bid.MemberID, Currency: base, Kind: KindMain, Amount: plan.BidFill.Income},
	}
	plan.Revenues = []*Revenue{
		{MemberID: bid.MemberID, Currency: base, Amount: baseFee, ReferenceType: RefTrade, ReferenceID: trade.TradeID},
		{MemberID: ask.MemberID, Currency: quote, Amount: quoteFee, ReferenceType: RefTrade, ReferenceID: trade.TradeID},
	}
	return plan, nil
}

// ApplyFills 将成交记入两个订单；订单因此完成时追加返还剩余冻结的调整
func (p *SettlementPlan) ApplyFills(ask, bid *orderdomain.Order) error {
	if err := ask.ApplyFill(p.AskFill.Volume, p.AskFill.Outcome, p.AskFill.Income); err != nil {
		return fmt.Errorf("ask order %d: %w", ask.ID, err)
	}
	if err := bid.ApplyFill(p.BidFill.Volume, p.BidFill.Outcome, p.BidFill.Income); err != nil {
		return fmt.Errorf("bid order %d: %w", bid.ID, err)
	}
	for _, o := range []*orderdomain.Order{ask, bid} {
		if o.State != orderdomain.StateDone {
			continue
		}
		if remaining := o.ReleaseLocked(); remaining.IsPositive() {
			p.Postings = append(p.Postings, ReleasePostings(o.MemberID, o.LockedCurrency(), remaining)...)
		}
	}
	return nil
}

// ReleasePostings 冻结转回可用
func ReleasePostings(memberID uint64, currency string, amount decimal.Decimal) []Posting {
	return []Posting{
		{MemberID: memberID, Currency: currency, Kind: KindLocked, Amount: amount.Neg()},
		{MemberID: memberID, Currency: currency, Kind: KindMain, Amount: amount},
	}
}

// LockPostings 可用转入冻结
func LockPostings(memberID uint64, currency string, amount decimal.Decimal) []Posting {
	return []Posting{
		{MemberID: memberID, Currency: currency, Kind: KindMain, Amount: amount.Neg()},
		{MemberID: memberID, Currency: currency, Kind: KindLocked, Amount: amount},
	}
}

// GroupByAccount 按账户聚合调整，返回按 (member, currency) 排序的账户键，
// 所有调用方按同一顺序加锁。
func GroupByAccount(postings []Posting) ([]AccountKey, map[AccountKey][]Posting) {
	groups := make(map[AccountKey][]Posting)
	for _, p := range postings {
		key := AccountKey{MemberID: p.MemberID, Currency: p.Currency}
		groups[key] = append(groups[key], p)
	}

	keys := make([]AccountKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].MemberID != keys[j].MemberID {
			return keys[i].MemberID < keys[j].MemberID
		}
		return keys[i].Currency < keys[j].Currency
	})

	for _, k := range keys {
		ps := groups[k]
		// 同一账户内先处理 locked 再处理 main
		sort.SliceStable(ps, func(i, j int) bool { return ps[i].Kind == KindLocked && ps[j].Kind != KindLocked })
	}
	return keys, groups
}

func checkOrder(trade *Trade, o *orderdomain.Order, side orderdomain.Side, id uint, memberID uint64) error {
	if o == nil || o.ID != id {
		return fmt.Errorf("%w: %s order %d mismatch", ErrInvalidTrade, side, id)
	}
	if o.Side != side {
		return fmt.Errorf("%w: order %d is not %s", ErrInvalidTrade, o.ID, side)
	}
	if o.MarketID != trade.MarketID {
		return fmt.Errorf("%w: order %d market %s, trade market %s", ErrInvalidTrade, o.ID, o.MarketID, trade.MarketID)
	}
	if o.MemberID != memberID {
		return fmt.Errorf("%w: order %d member %d, trade member %d", ErrInvalidTrade, o.ID, o.MemberID, memberID)
	}
	return nil
}

// OrderRef 订单流水引用 ID
func OrderRef(orderID uint) string {
	return strconv.FormatUint(uint64(orderID), 10)
}
