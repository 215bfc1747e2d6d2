package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func level(price, volume string) PriceLevel {
	return PriceLevel{Price: d(price), Volume: d(volume)}
}

func marketOrder(side Side, volume string) *Order {
	return &Order{Side: side, OrdType: OrdTypeMarket, Volume: d(volume), OriginVolume: d(volume), State: StateWait}
}

func TestComputeLockedLimit(t *testing.T) {
	t.Run("limit ask locks volume", func(t *testing.T) {
		o := &Order{Side: SideAsk, OrdType: OrdTypeLimit, Price: decimal.NewNullDecimal(d("100")), Volume: d("10")}
		locked, err := ComputeLocked(o, nil)
		require.NoError(t, err)
		assert.True(t, locked.Equal(d("10")), locked.String())
	})

	t.Run("limit bid locks price times volume", func(t *testing.T) {
		o := &Order{Side: SideBid, OrdType: OrdTypeLimit, Price: decimal.NewNullDecimal(d("100")), Volume: d("10")}
		locked, err := ComputeLocked(o, nil)
		require.NoError(t, err)
		assert.True(t, locked.Equal(d("1000")), locked.String())
	})
}

func TestComputeLockedMarketBid(t *testing.T) {
	book := NewSnapshot("btcusdt", nil, []PriceLevel{level("100", "1"), level("101", "2")}, time.Now())

	locked, err := ComputeLocked(marketOrder(SideBid, "2"), book)
	require.NoError(t, err)
	// (100×1 + 101×1) × 1.1
	assert.True(t, locked.Equal(d("221.1")), locked.String())
}

func TestComputeLockedMarketAsk(t *testing.T) {
	book := NewSnapshot("btcusdt", []PriceLevel{level("100", "1"), level("99", "5")}, nil, time.Now())

	locked, err := ComputeLocked(marketOrder(SideAsk, "3"), book)
	require.NoError(t, err)
	assert.True(t, locked.Equal(d("3")), locked.String())
}

func TestComputeLockedInsufficientDepth(t *testing.T) {
	t.Run("book exhausted", func(t *testing.T) {
		book := NewSnapshot("btcusdt", nil, []PriceLevel{level("100", "1")}, time.Now())
		_, err := ComputeLocked(marketOrder(SideBid, "2"), book)
		assert.ErrorIs(t, err, ErrInsufficientDepth)
	})

	t.Run("empty opposite side", func(t *testing.T) {
		book := NewSnapshot("btcusdt", []PriceLevel{level("100", "5")}, nil, time.Now())
		_, err := ComputeLocked(marketOrder(SideBid, "1"), book)
		assert.ErrorIs(t, err, ErrInsufficientDepth)
	})

	t.Run("no snapshot", func(t *testing.T) {
		_, err := ComputeLocked(marketOrder(SideAsk, "1"), nil)
		assert.ErrorIs(t, err, ErrInsufficientDepth)
	})

	t.Run("zero start price", func(t *testing.T) {
		book := NewSnapshot("btcusdt", nil, []PriceLevel{level("0", "5")}, time.Now())
		_, err := ComputeLocked(marketOrder(SideBid, "1"), book)
		assert.ErrorIs(t, err, ErrInsufficientDepth)
	})
}

func TestComputeLockedSlippageFuse(t *testing.T) {
	t.Run("deviation above fuse", func(t *testing.T) {
		book := NewSnapshot("btcusdt", nil, []PriceLevel{level("100", "1"), level("191", "10")}, time.Now())
		_, err := ComputeLocked(marketOrder(SideBid, "2"), book)
		assert.ErrorIs(t, err, ErrExcessiveSlippage)
	})

	t.Run("deviation exactly at fuse passes", func(t *testing.T) {
		book := NewSnapshot("btcusdt", nil, []PriceLevel{level("100", "1"), level("190", "10")}, time.Now())
		locked, err := ComputeLocked(marketOrder(SideBid, "2"), book)
		require.NoError(t, err)
		assert.True(t, locked.Equal(d("319")), locked.String())
	})

	t.Run("falling bids", func(t *testing.T) {
		book := NewSnapshot("btcusdt", []PriceLevel{level("100", "1"), level("9", "10")}, nil, time.Now())
		_, err := ComputeLocked(marketOrder(SideAsk, "2"), book)
		assert.ErrorIs(t, err, ErrExcessiveSlippage)
	})
}

func TestComputeLockedSkipsEmptyLevels(t *testing.T) {
	book := NewSnapshot("btcusdt", nil, []PriceLevel{level("50", "0"), level("100", "2")}, time.Now())
	locked, err := ComputeLocked(marketOrder(SideBid, "1"), book)
	require.NoError(t, err)
	assert.True(t, locked.Equal(d("110")), locked.String())
}

func TestComputeLockedRejectsNonPositiveVolume(t *testing.T) {
	book := NewSnapshot("btcusdt", nil, []PriceLevel{level("100", "2")}, time.Now())
	_, err := ComputeLocked(marketOrder(SideBid, "0"), book)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSnapshotIsImmutable(t *testing.T) {
	asks := []PriceLevel{level("100", "1")}
	book := NewSnapshot("btcusdt", nil, asks, time.Now())
	asks[0].Volume = d("0")

	levels := book.Levels(SideAsk)
	require.Len(t, levels, 1)
	assert.True(t, levels[0].Volume.Equal(d("1")))

	levels[0].Price = d("1")
	assert.True(t, book.Levels(SideAsk)[0].Price.Equal(d("100")))
}
