package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-trader/internal/models"
	"paper-trader/pkg/fixed"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	takenAt := time.Date(2025, 9, 1, 15, 30, 0, 0, time.UTC)
	snap := Snapshot{
		TakenAt:        takenAt,
		InitialCapital: fixed.MustParse("1000000.00"),
		RealizedPnL:    fixed.MustParse("-1234.55"),
		Positions: []models.Position{
			{
				ID:          "pos-1",
				Symbol:      "NIFTY25SEP24000CE",
				Side:        models.PositionShort,
				Quantity:    50,
				AvgPrice:    fixed.MustParse("152.35"),
				RealizedPnL: fixed.MustParse("0.05"),
				OpenedAt:    takenAt,
			},
		},
	}
	require.NoError(t, s.SaveSnapshot(ctx, snap))

	loaded, ok, err := s.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, loaded.InitialCapital.Eq(snap.InitialCapital))
	assert.True(t, loaded.RealizedPnL.Eq(fixed.MustParse("-1234.55")), "decimal must round-trip exactly")
	require.Len(t, loaded.Positions, 1)
	assert.True(t, loaded.Positions[0].AvgPrice.Eq(fixed.MustParse("152.35")))
	assert.Equal(t, models.PositionShort, loaded.Positions[0].Side)
}

func TestStore_LatestSnapshotWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.SaveSnapshot(ctx, Snapshot{
			TakenAt:        time.Now(),
			InitialCapital: fixed.FromInt(i * 100000),
			RealizedPnL:    fixed.Zero,
		}))
	}

	loaded, ok, err := s.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, loaded.InitialCapital.Eq(fixed.FromInt(300000)))
}

func TestStore_EmptySnapshot(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.LoadLatestSnapshot(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_TradeLedger(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	trade := models.Trade{
		ID:         "trade-1",
		OrderID:    "order-1",
		PositionID: "pos-1",
		Symbol:     "NIFTY25SEP24000CE",
		Side:       models.OrderSideSell,
		Quantity:   50,
		Price:      fixed.MustParse("151.20"),
		PnLImpact:  fixed.MustParse("250.00"),
		Timestamp:  time.Now().UTC(),
	}
	require.NoError(t, s.SaveTrade(ctx, trade))

	trades, err := s.Trades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, trade.ID, trades[0].ID)
	assert.True(t, trades[0].Price.Eq(trade.Price))
	assert.True(t, trades[0].PnLImpact.Eq(trade.PnLImpact))
}

func TestStore_InstrumentMaster(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	expiry1 := time.Date(2025, 9, 30, 15, 30, 0, 0, time.UTC)
	expiry2 := time.Date(2025, 10, 28, 15, 30, 0, 0, time.UTC)

	require.NoError(t, s.UpsertInstruments(ctx, []models.Instrument{
		{Token: 1, Symbol: "NIFTY25SEP24000CE", Underlying: models.Nifty, Type: models.InstrumentCE,
			Strike: fixed.FromInt(24000), Expiry: expiry1, LotSize: 75, TickSize: fixed.MustParse("0.05")},
		{Token: 2, Symbol: "NIFTY25OCT24000CE", Underlying: models.Nifty, Type: models.InstrumentCE,
			Strike: fixed.FromInt(24000), Expiry: expiry2, LotSize: 75, TickSize: fixed.MustParse("0.05")},
	}))

	inst, ok, err := s.Instrument(ctx, "NIFTY25SEP24000CE")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 75, inst.LotSize)
	assert.True(t, inst.TickSize.Eq(fixed.MustParse("0.05")))

	_, ok, err = s.Instrument(ctx, "MISSING")
	require.NoError(t, err)
	assert.False(t, ok)

	expiries, err := s.Expiries(ctx, models.Nifty)
	require.NoError(t, err)
	require.Len(t, expiries, 2)
	assert.True(t, expiries[0].Before(expiries[1]))
}
