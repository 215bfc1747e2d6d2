package application

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/exchangecore/internal/ledger/domain"
	ledgermysql "github.com/wyfcoding/exchangecore/internal/ledger/infrastructure/persistence/mysql"
	orderapp "github.com/wyfcoding/exchangecore/internal/order/application"
	orderdomain "github.com/wyfcoding/exchangecore/internal/order/domain"
	"github.com/wyfcoding/exchangecore/internal/order/infrastructure/messaging"
	ordermysql "github.com/wyfcoding/exchangecore/internal/order/infrastructure/persistence/mysql"
	"github.com/wyfcoding/exchangecore/pkg/db"
	"github.com/wyfcoding/exchangecore/pkg/db/dbtest"
	"github.com/wyfcoding/exchangecore/pkg/metrics"
)

const (
	seller uint64 = 1
	buyer  uint64 = 2
)

type push struct {
	member  uint64
	channel string
}

type recordingNotifier struct {
	mu     sync.Mutex
	pushes []push
}

func (n *recordingNotifier) Push(_ context.Context, memberID uint64, channel string, _ any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pushes = append(n.pushes, push{member: memberID, channel: channel})
	return nil
}

func (n *recordingNotifier) count(channel string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, p := range n.pushes {
		if p.channel == channel {
			c++
		}
	}
	return c
}

type env struct {
	db          *db.DB
	orders      orderdomain.OrderRepository
	liabilities domain.LiabilityStore
	revenues    domain.RevenueStore
	trades      domain.TradeRepository
	funds       *FundsService
	commands    *orderapp.OrderCommandService
	settlement  *SettlementService
	notifier    *recordingNotifier
	metrics     *metrics.Metrics
}

func newEnv(t *testing.T) *env {
	t.Helper()

	d := dbtest.New(t,
		&orderdomain.Order{},
		&domain.Account{},
		&domain.LiabilityEntry{},
		&domain.Revenue{},
		&domain.Trade{},
		&messaging.OutboxMessage{},
	)
	m, err := metrics.New("test", prometheus.NewRegistry())
	require.NoError(t, err)

	markets, err := orderdomain.NewMarketRegistry(&orderdomain.Market{
		ID:              "btcusd",
		BaseUnit:        "btc",
		QuoteUnit:       "usd",
		AskFee:          decimal.RequireFromString("0.002"),
		BidFee:          decimal.RequireFromString("0.001"),
		PricePrecision:  8,
		AmountPrecision: 8,
	})
	require.NoError(t, err)

	e := &env{
		db:          d,
		orders:      ordermysql.NewOrderRepository(d.DB),
		liabilities: ledgermysql.NewLiabilityStore(d.DB),
		revenues:    ledgermysql.NewRevenueStore(d.DB),
		trades:      ledgermysql.NewTradeRepository(d.DB),
		notifier:    &recordingNotifier{},
		metrics:     m,
	}
	publisher := messaging.NewOutboxEventPublisher(d.DB)
	e.funds = NewFundsService(e.liabilities, d)
	e.commands = orderapp.NewOrderCommandService(orderapp.Deps{
		Repo:      e.orders,
		Funds:     e.funds,
		Publisher: publisher,
		Notifier:  e.notifier,
		Tx:        d,
		Markets:   markets,
		Metrics:   m,
	})
	e.settlement = NewSettlementService(SettlementDeps{
		Tx:          d,
		Orders:      e.orders,
		Liabilities: e.liabilities,
		Revenues:    e.revenues,
		Trades:      e.trades,
		Publisher:   publisher,
		Notifier:    e.notifier,
		Metrics:     m,
	})
	return e
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (e *env) fund(t *testing.T, member uint64, currency, amount string) {
	t.Helper()
	_, err := e.funds.Deposit(context.Background(), member, currency, dec(amount), "")
	require.NoError(t, err)
}

func (e *env) limit(t *testing.T, member uint64, side orderdomain.Side, price, volume string) *orderdomain.Order {
	t.Helper()
	o, err := e.commands.CreateOrder(context.Background(), orderdomain.CreateOrderRequest{
		MarketID: "btcusd",
		MemberID: member,
		Side:     side,
		OrdType:  orderdomain.OrdTypeLimit,
		Price:    decimal.NewNullDecimal(dec(price)),
		Volume:   dec(volume),
	})
	require.NoError(t, err)
	return o
}

func (e *env) balance(t *testing.T, member uint64, currency string) (decimal.Decimal, decimal.Decimal) {
	t.Helper()
	a, err := e.liabilities.Get(context.Background(), member, currency)
	require.NoError(t, err)
	return a.Balance, a.Locked
}

func assertBalance(t *testing.T, e *env, member uint64, currency, main, locked string) {
	t.Helper()
	gotMain, gotLocked := e.balance(t, member, currency)
	assert.True(t, gotMain.Equal(dec(main)), "member %d %s main = %s, want %s", member, currency, gotMain, main)
	assert.True(t, gotLocked.Equal(dec(locked)), "member %d %s locked = %s, want %s", member, currency, gotLocked, locked)
}

func newTrade(id string, ask, bid *orderdomain.Order, price, volume string) *domain.Trade {
	return &domain.Trade{
		TradeID:     id,
		MarketID:    "btcusd",
		AskOrderID:  ask.ID,
		BidOrderID:  bid.ID,
		AskMemberID: ask.MemberID,
		BidMemberID: bid.MemberID,
		Price:       dec(price),
		Volume:      dec(volume),
	}
}

func (e *env) outboxTopics(t *testing.T) []string {
	t.Helper()
	var topics []string
	require.NoError(t, e.db.Model(&messaging.OutboxMessage{}).Order("id asc").Pluck("topic", &topics).Error)
	return topics
}

func TestSettleTradeEndToEnd(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.funds.OpenAccounts(ctx, seller, "btc", "usd"))
	require.NoError(t, e.funds.OpenAccounts(ctx, buyer, "btc", "usd"))
	e.fund(t, seller, "btc", "10")
	e.fund(t, buyer, "usd", "1000")

	ask := e.limit(t, seller, orderdomain.SideAsk, "100", "10")
	bid := e.limit(t, buyer, orderdomain.SideBid, "100", "10")
	assertBalance(t, e, seller, "btc", "0", "10")
	assertBalance(t, e, buyer, "usd", "0", "1000")

	trade := newTrade("t-1", ask, bid, "100", "10")
	require.NoError(t, e.settlement.SettleTrade(ctx, trade))
	assert.True(t, trade.Funds.Equal(dec("1000")))
	require.NotNil(t, trade.SettledAt)

	assertBalance(t, e, seller, "btc", "0", "0")
	assertBalance(t, e, buyer, "usd", "0", "0")
	assertBalance(t, e, seller, "usd", "999", "0")
	assertBalance(t, e, buyer, "btc", "9.98", "0")

	revenues, err := e.revenues.ListByReference(ctx, domain.RefTrade, "t-1")
	require.NoError(t, err)
	require.Len(t, revenues, 2)
	assert.Equal(t, "btc", revenues[0].Currency)
	assert.Equal(t, buyer, revenues[0].MemberID)
	assert.True(t, revenues[0].Amount.Equal(dec("0.02")))
	assert.Equal(t, "usd", revenues[1].Currency)
	assert.Equal(t, seller, revenues[1].MemberID)
	assert.True(t, revenues[1].Amount.Equal(dec("1")))

	entries, err := e.liabilities.Entries(ctx, domain.RefTrade, "t-1")
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	sums := map[string]decimal.Decimal{}
	for _, en := range entries {
		sums[en.Currency] = sums[en.Currency].Add(en.Amount)
	}
	for _, r := range revenues {
		sums[r.Currency] = sums[r.Currency].Add(r.Amount)
	}
	for currency, sum := range sums {
		assert.True(t, sum.IsZero(), "%s does not balance: %s", currency, sum)
	}

	gotAsk, err := e.orders.Get(ctx, ask.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StateDone, gotAsk.State)
	assert.True(t, gotAsk.Volume.IsZero())
	assert.Equal(t, 1, gotAsk.TradesCount)
	assert.True(t, gotAsk.FundsReceived.Equal(dec("999")))

	assert.Equal(t, []string{
		"market.btcusd.order_created",
		"market.btcusd.order_created",
		"market.btcusd.order_completed",
		"market.btcusd.order_completed",
		"market.btcusd.trade",
	}, e.outboxTopics(t))

	assert.Equal(t, 2, e.notifier.count(PushChannelTrade))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.TradesSettled.WithLabelValues("btcusd")))
}

func TestSettleTradeRejectsDuplicate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.funds.OpenAccounts(ctx, seller, "btc", "usd"))
	require.NoError(t, e.funds.OpenAccounts(ctx, buyer, "btc", "usd"))
	e.fund(t, seller, "btc", "10")
	e.fund(t, buyer, "usd", "1000")
	ask := e.limit(t, seller, orderdomain.SideAsk, "100", "10")
	bid := e.limit(t, buyer, orderdomain.SideBid, "100", "10")

	require.NoError(t, e.settlement.SettleTrade(ctx, newTrade("t-1", ask, bid, "100", "4")))

	err := e.settlement.SettleTrade(ctx, newTrade("t-1", ask, bid, "100", "4"))
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)

	assertBalance(t, e, seller, "btc", "0", "6")
	assertBalance(t, e, buyer, "usd", "0", "600")
	assertBalance(t, e, buyer, "btc", "3.992", "0")
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.SettlementFailures.WithLabelValues("already_settled")))
}

func TestSettleTradeReleasesRemainingLockedOnDone(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.funds.OpenAccounts(ctx, seller, "btc", "usd"))
	require.NoError(t, e.funds.OpenAccounts(ctx, buyer, "btc", "usd"))
	e.fund(t, seller, "btc", "10")
	e.fund(t, buyer, "usd", "1100")

	ask := e.limit(t, seller, orderdomain.SideAsk, "100", "10")
	bid := e.limit(t, buyer, orderdomain.SideBid, "110", "10")

	require.NoError(t, e.settlement.SettleTrade(ctx, newTrade("t-1", ask, bid, "100", "10")))

	assertBalance(t, e, buyer, "usd", "100", "0")
	gotBid, err := e.orders.Get(ctx, bid.ID)
	require.NoError(t, err)
	assert.True(t, gotBid.Locked.IsZero())
	assert.True(t, gotBid.OriginLocked.Equal(dec("1100")))
}

func TestSettleTradeOnCanceledOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.funds.OpenAccounts(ctx, seller, "btc", "usd"))
	require.NoError(t, e.funds.OpenAccounts(ctx, buyer, "btc", "usd"))
	e.fund(t, seller, "btc", "10")
	e.fund(t, buyer, "usd", "1000")
	ask := e.limit(t, seller, orderdomain.SideAsk, "100", "10")
	bid := e.limit(t, buyer, orderdomain.SideBid, "100", "10")

	canceled, err := e.commands.TransitionOrder(ctx, ask.ID, orderdomain.StateCancel)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StateCancel, canceled.State)
	assertBalance(t, e, seller, "btc", "10", "0")

	err = e.settlement.SettleTrade(ctx, newTrade("t-1", ask, bid, "100", "10"))
	assert.ErrorIs(t, err, orderdomain.ErrOrderNotActive)

	assertBalance(t, e, buyer, "usd", "0", "1000")
	assertBalance(t, e, buyer, "btc", "0", "0")
	settled, err := e.trades.Exists(ctx, "t-1")
	require.NoError(t, err)
	assert.False(t, settled)
}

func TestSettleTradeMissingAccountRollsBack(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.funds.OpenAccounts(ctx, seller, "btc", "usd"))
	e.fund(t, seller, "btc", "10")
	e.fund(t, buyer, "usd", "1000")
	ask := e.limit(t, seller, orderdomain.SideAsk, "100", "10")
	bid := e.limit(t, buyer, orderdomain.SideBid, "100", "10")

	err := e.settlement.SettleTrade(ctx, newTrade("t-1", ask, bid, "100", "10"))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	assertBalance(t, e, seller, "btc", "0", "10")
	assertBalance(t, e, seller, "usd", "0", "0")
	assertBalance(t, e, buyer, "usd", "0", "1000")

	gotAsk, err := e.orders.Get(ctx, ask.ID)
	require.NoError(t, err)
	assert.Equal(t, orderdomain.StateWait, gotAsk.State)
	assert.True(t, gotAsk.Volume.Equal(dec("10")))

	revenues, err := e.revenues.ListByReference(ctx, domain.RefTrade, "t-1")
	require.NoError(t, err)
	assert.Empty(t, revenues)
}

func TestCreateOrderInsufficientFunds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.fund(t, buyer, "usd", "500")

	_, err := e.commands.CreateOrder(ctx, orderdomain.CreateOrderRequest{
		MarketID: "btcusd",
		MemberID: buyer,
		Side:     orderdomain.SideBid,
		OrdType:  orderdomain.OrdTypeLimit,
		Price:    decimal.NewNullDecimal(dec("100")),
		Volume:   dec("10"),
	})
	assert.ErrorIs(t, err, orderdomain.ErrInsufficientFunds)

	assertBalance(t, e, buyer, "usd", "500", "0")
	orders, total, err := e.orders.ListByMember(ctx, buyer, "", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, orders)

	_, err = e.commands.CreateOrder(ctx, orderdomain.CreateOrderRequest{
		MarketID: "btcusd",
		MemberID: seller,
		Side:     orderdomain.SideAsk,
		OrdType:  orderdomain.OrdTypeLimit,
		Price:    decimal.NewNullDecimal(dec("100")),
		Volume:   dec("1"),
	})
	assert.ErrorIs(t, err, orderdomain.ErrInsufficientFunds)
}

func TestTradesForMember(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.funds.OpenAccounts(ctx, seller, "btc", "usd"))
	require.NoError(t, e.funds.OpenAccounts(ctx, buyer, "btc", "usd"))
	e.fund(t, seller, "btc", "10")
	e.fund(t, buyer, "usd", "1000")
	ask := e.limit(t, seller, orderdomain.SideAsk, "100", "10")
	bid := e.limit(t, buyer, orderdomain.SideBid, "100", "10")

	require.NoError(t, e.settlement.SettleTrade(ctx, newTrade("t-1", ask, bid, "100", "4")))
	require.NoError(t, e.settlement.SettleTrade(ctx, newTrade("t-2", ask, bid, "100", "6")))

	trades, err := e.trades.ListForMember(ctx, seller, domain.TradeFilter{MarketID: "btcusd"})
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "t-2", trades[0].TradeID)
	assert.Equal(t, orderdomain.SideAsk, trades[0].Side)

	trades, err = e.trades.ListForMember(ctx, buyer, domain.TradeFilter{Limit: 1, Ascending: true})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "t-1", trades[0].TradeID)
	assert.Equal(t, orderdomain.SideBid, trades[0].Side)
}
