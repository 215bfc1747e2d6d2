package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderdomain "github.com/wyfcoding/exchangecore/internal/order/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fixture() (*Trade, *orderdomain.Order, *orderdomain.Order) {
	ask := &orderdomain.Order{
		MarketID: "btcusd", MemberID: 1, Side: orderdomain.SideAsk, OrdType: orderdomain.OrdTypeLimit,
		Bid: "usd", Ask: "btc", Price: decimal.NewNullDecimal(d("100")),
		Volume: d("10"), OriginVolume: d("10"), Locked: d("10"), OriginLocked: d("10"),
		Fee: d("0.002"), FundsReceived: decimal.Zero, State: orderdomain.StateWait,
	}
	ask.ID = 11
	bid := &orderdomain.Order{
		MarketID: "btcusd", MemberID: 2, Side: orderdomain.SideBid, OrdType: orderdomain.OrdTypeLimit,
		Bid: "usd", Ask: "btc", Price: decimal.NewNullDecimal(d("100")),
		Volume: d("10"), OriginVolume: d("10"), Locked: d("1000"), OriginLocked: d("1000"),
		Fee: d("0.001"), FundsReceived: decimal.Zero, State: orderdomain.StateWait,
	}
	bid.ID = 12
	trade := &Trade{
		TradeID: "t-1", MarketID: "btcusd",
		AskOrderID: 11, BidOrderID: 12, AskMemberID: 1, BidMemberID: 2,
		Price: d("100"), Volume: d("10"), Funds: d("1000"),
	}
	return trade, ask, bid
}

func posting(t *testing.T, plan *SettlementPlan, member uint64, currency string, kind LiabilityKind) decimal.Decimal {
	t.Helper()
	total := decimal.Zero
	found := false
	for _, p := range plan.Postings {
		if p.MemberID == member && p.Currency == currency && p.Kind == kind {
			total = total.Add(p.Amount)
			found = true
		}
	}
	require.True(t, found, "no posting for member %d %s %s", member, currency, kind)
	return total
}

func TestPlanSettlementPostings(t *testing.T) {
	trade, ask, bid := fixture()

	plan, err := PlanSettlement(trade, ask, bid)
	require.NoError(t, err)
	require.Len(t, plan.Postings, 4)
	require.Len(t, plan.Revenues, 2)

	assert.True(t, posting(t, plan, 1, "btc", KindLocked).Equal(d("-10")))
	assert.True(t, posting(t, plan, 2, "usd", KindLocked).Equal(d("-1000")))
	assert.True(t, posting(t, plan, 1, "usd", KindMain).Equal(d("999")))
	assert.True(t, posting(t, plan, 2, "btc", KindMain).Equal(d("9.98")))

	btcRevenue, usdRevenue := plan.Revenues[0], plan.Revenues[1]
	assert.Equal(t, "btc", btcRevenue.Currency)
	assert.Equal(t, uint64(2), btcRevenue.MemberID)
	assert.True(t, btcRevenue.Amount.Equal(d("0.02")))
	assert.Equal(t, "usd", usdRevenue.Currency)
	assert.Equal(t, uint64(1), usdRevenue.MemberID)
	assert.True(t, usdRevenue.Amount.Equal(d("1")))
	assert.Equal(t, "t-1", usdRevenue.ReferenceID)
}

func TestPlanSettlementUsesCounterOrderFee(t *testing.T) {
	trade, ask, bid := fixture()
	ask.Fee, bid.Fee = d("0.001"), d("0.002")

	plan, err := PlanSettlement(trade, ask, bid)
	require.NoError(t, err)

	assert.True(t, posting(t, plan, 1, "usd", KindMain).Equal(d("998")))
	assert.True(t, posting(t, plan, 2, "btc", KindMain).Equal(d("9.99")))
	assert.True(t, plan.Revenues[0].Amount.Equal(d("0.01")))
	assert.True(t, plan.Revenues[1].Amount.Equal(d("2")))
}

func TestPlanSettlementBalancesPerCurrency(t *testing.T) {
	trade, ask, bid := fixture()
	plan, err := PlanSettlement(trade, ask, bid)
	require.NoError(t, err)

	sums := map[string]decimal.Decimal{}
	for _, p := range plan.Postings {
		sums[p.Currency] = sums[p.Currency].Add(p.Amount)
	}
	for _, r := range plan.Revenues {
		sums[r.Currency] = sums[r.Currency].Add(r.Amount)
	}
	for currency, sum := range sums {
		assert.True(t, sum.IsZero(), "%s does not balance: %s", currency, sum)
	}
}

func TestPlanSettlementRejectsMismatch(t *testing.T) {
	t.Run("swapped sides", func(t *testing.T) {
		trade, ask, bid := fixture()
		_, err := PlanSettlement(trade, bid, ask)
		assert.ErrorIs(t, err, ErrInvalidTrade)
	})

	t.Run("wrong member", func(t *testing.T) {
		trade, ask, bid := fixture()
		trade.BidMemberID = 9
		_, err := PlanSettlement(trade, ask, bid)
		assert.ErrorIs(t, err, ErrInvalidTrade)
	})

	t.Run("zero volume", func(t *testing.T) {
		trade, ask, bid := fixture()
		trade.Volume = decimal.Zero
		_, err := PlanSettlement(trade, ask, bid)
		assert.ErrorIs(t, err, ErrInvalidTrade)
	})
}

func TestApplyFillsReleasesRemainingLocked(t *testing.T) {
	trade, ask, bid := fixture()
	// 买方按 110 挂单，以 100 成交后剩余 100 冻结应返还
	bid.Price = decimal.NewNullDecimal(d("110"))
	bid.Locked, bid.OriginLocked = d("1100"), d("1100")

	plan, err := PlanSettlement(trade, ask, bid)
	require.NoError(t, err)
	require.NoError(t, plan.ApplyFills(ask, bid))

	assert.Equal(t, orderdomain.StateDone, ask.State)
	assert.Equal(t, orderdomain.StateDone, bid.State)
	assert.True(t, bid.Locked.IsZero())
	assert.True(t, bid.FundsReceived.Equal(d("9.98")))
	require.Len(t, plan.Postings, 6)
	assert.True(t, posting(t, plan, 2, "usd", KindLocked).Equal(d("-1100")))
	assert.True(t, posting(t, plan, 2, "usd", KindMain).Equal(d("100")))
}

func TestApplyFillsPartial(t *testing.T) {
	trade, ask, bid := fixture()
	trade.Volume, trade.Funds = d("4"), d("400")

	plan, err := PlanSettlement(trade, ask, bid)
	require.NoError(t, err)
	require.NoError(t, plan.ApplyFills(ask, bid))

	assert.Equal(t, orderdomain.StateWait, ask.State)
	assert.True(t, ask.Volume.Equal(d("6")))
	assert.True(t, bid.Locked.Equal(d("600")))
	assert.Len(t, plan.Postings, 4)
}

func TestGroupByAccountOrdering(t *testing.T) {
	keys, groups := GroupByAccount([]Posting{
		{MemberID: 2, Currency: "usd", Kind: KindMain, Amount: d("1")},
		{MemberID: 1, Currency: "usd", Kind: KindMain, Amount: d("1")},
		{MemberID: 1, Currency: "btc", Kind: KindMain, Amount: d("1")},
		{MemberID: 1, Currency: "btc", Kind: KindLocked, Amount: d("-1")},
	})

	assert.Equal(t, []AccountKey{{1, "btc"}, {1, "usd"}, {2, "usd"}}, keys)
	btc := groups[AccountKey{1, "btc"}]
	require.Len(t, btc, 2)
	assert.Equal(t, KindLocked, btc[0].Kind)
	assert.Equal(t, KindMain, btc[1].Kind)
}

func TestGroupByAccountLockedBeforeMainKeepsOrder(t *testing.T) {
	_, groups := GroupByAccount([]Posting{
		{MemberID: 1, Currency: "usd", Kind: KindMain, Amount: d("1")},
		{MemberID: 1, Currency: "usd", Kind: KindLocked, Amount: d("-2")},
		{MemberID: 1, Currency: "usd", Kind: KindMain, Amount: d("3")},
		{MemberID: 1, Currency: "usd", Kind: KindLocked, Amount: d("-4")},
	})

	usd := groups[AccountKey{1, "usd"}]
	require.Len(t, usd, 4)
	got := make([]string, 0, len(usd))
	for _, p := range usd {
		got = append(got, string(p.Kind)+":"+p.Amount.String())
	}
	assert.Equal(t, []string{"locked:-2", "locked:-4", "main:1", "main:3"}, got)
}

func TestAccountApply(t *testing.T) {
	a := &Account{MemberID: 1, Currency: "usd", Balance: d("10"), Locked: d("0")}

	require.NoError(t, a.Apply(KindMain, d("-4")))
	require.NoError(t, a.Apply(KindLocked, d("4")))
	assert.True(t, a.Balance.Equal(d("6")))
	assert.True(t, a.Locked.Equal(d("4")))

	err := a.Apply(KindMain, d("-7"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.True(t, a.Balance.Equal(d("6")))
}

func TestTradeForMember(t *testing.T) {
	trade, _, _ := fixture()

	assert.Equal(t, orderdomain.SideAsk, trade.ForMember(1).Side)
	assert.Equal(t, orderdomain.SideBid, trade.ForMember(2).Side)

	n := trade.ForNotify()
	assert.Equal(t, "bid", n["kind"])
	assert.Equal(t, uint(11), n["ask_id"])
	assert.Equal(t, uint(12), n["bid_id"])
	assert.Equal(t, "1000", n["funds"])
}

func TestTradeForNotifyUsesMatchTime(t *testing.T) {
	trade, _, _ := fixture()
	settled := time.Unix(1700000500, 0)
	trade.SettledAt = &settled

	assert.Equal(t, settled.Unix(), trade.ForNotify()["at"])

	trade.CreatedAt = time.Unix(1700000000, 0)
	assert.Equal(t, int64(1700000000), trade.ForNotify()["at"])
}
