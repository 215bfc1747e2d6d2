package mysql

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/exchangecore/internal/ledger/domain"
	"github.com/wyfcoding/exchangecore/pkg/db/dbtest"
)

func newTrade(id, market, price string, askMember, bidMember uint64) *domain.Trade {
	p := decimal.RequireFromString(price)
	return &domain.Trade{
		TradeID:     id,
		MarketID:    market,
		AskOrderID:  1,
		BidOrderID:  2,
		AskMemberID: askMember,
		BidMemberID: bidMember,
		Price:       p,
		Volume:      decimal.NewFromInt(1),
		Funds:       p,
	}
}

func TestLatestPriceWithoutTrades(t *testing.T) {
	repo := NewTradeRepository(dbtest.New(t, &domain.Trade{}).DB)

	price, err := repo.LatestPrice(context.Background(), "btcusd")
	require.NoError(t, err)
	assert.True(t, price.IsZero())
}

func TestLatestPriceReturnsLastTrade(t *testing.T) {
	ctx := context.Background()
	repo := NewTradeRepository(dbtest.New(t, &domain.Trade{}).DB)

	require.NoError(t, repo.Create(ctx, newTrade("t-1", "btcusd", "100", 1, 2)))

	price, err := repo.LatestPrice(ctx, "btcusd")
	require.NoError(t, err)
	assert.Equal(t, "100", price.String())

	require.NoError(t, repo.Create(ctx, newTrade("t-2", "btcusd", "101.5", 1, 2)))
	require.NoError(t, repo.Create(ctx, newTrade("t-3", "ethusd", "7", 1, 2)))

	price, err = repo.LatestPrice(ctx, "btcusd")
	require.NoError(t, err)
	assert.Equal(t, "101.5", price.String())

	price, err = repo.LatestPrice(ctx, "ltcusd")
	require.NoError(t, err)
	assert.True(t, price.IsZero())
}

func TestListForMemberMarksSide(t *testing.T) {
	ctx := context.Background()
	repo := NewTradeRepository(dbtest.New(t, &domain.Trade{}).DB)

	matched := newTrade("t-1", "btcusd", "100", 1, 2)
	matched.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, repo.Create(ctx, matched))
	require.NoError(t, repo.Create(ctx, newTrade("t-2", "btcusd", "101", 3, 1)))
	require.NoError(t, repo.Create(ctx, newTrade("t-3", "btcusd", "102", 3, 4)))

	trades, err := repo.ListForMember(ctx, 1, domain.TradeFilter{MarketID: "btcusd", Ascending: true})
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "t-1", trades[0].TradeID)
	assert.Equal(t, "ask", string(trades[0].Side))
	assert.Equal(t, "bid", string(trades[1].Side))

	trades, err = repo.ListForMember(ctx, 1, domain.TradeFilter{TimeTo: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "t-1", trades[0].TradeID)
}
