package tradelog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-autotrader/internal/types"
)

func result(symbol, action string, qty float64, accepted bool, at time.Time) types.TradeResult {
	return types.TradeResult{
		Request:  types.TradeRequest{Symbol: symbol, Action: action, Quantity: qty, SecType: types.SecTypeStock, RefPrice: 100},
		Accepted: accepted,
		OrderID:  7,
		Time:     at,
	}
}

func TestRecordMirrorsPositions(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir(), time.UTC)
	require.NoError(t, err)
	at := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, result("aapl", "BUY", 5, true, at)))
	require.NoError(t, s.Record(ctx, result("MSFT", "BUY", 3, false, at)))

	held, _ := s.HasOpenPosition(ctx, "AAPL")
	assert.True(t, held)
	held, _ = s.HasOpenPosition(ctx, "MSFT")
	assert.False(t, held, "rejected trades do not open positions")

	require.NoError(t, s.Record(ctx, result("AAPL", "SELL", 5, true, at)))
	held, _ = s.HasOpenPosition(ctx, "AAPL")
	assert.False(t, held)

	entries, err := s.Day(at)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.NotEmpty(t, entries[0].ID)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
	assert.Equal(t, "AAPL", entries[0].Symbol)
	assert.Equal(t, 100.0, entries[0].Price)
	assert.False(t, entries[1].Accepted)
}

func TestOpenRebuildsMirror(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(dir, time.UTC)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, result("NVDA", "BUY", 2, true, time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC))))
	require.NoError(t, s.Record(ctx, result("AMD", "BUY", 4, true, time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC))))

	// a torn line must not break reopening
	f, err := os.OpenFile(filepath.Join(dir, "2026-03-03.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, _ = f.WriteString(`{"id":"x","sym`)
	require.NoError(t, f.Close())

	reopened, err := Open(dir, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"NVDA": 2, "AMD": 4}, reopened.Positions())
}

func TestDayMissingFileIsEmpty(t *testing.T) {
	s, err := Open(t.TempDir(), time.UTC)
	require.NoError(t, err)
	entries, err := s.Day(time.Now())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCompressOlder(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, time.UTC)
	require.NoError(t, err)
	at := time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC)
	require.NoError(t, s.Record(context.Background(), result("AAPL", "BUY", 1, true, at)))

	path := filepath.Join(dir, "2026-01-05.jsonl")
	old := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(path, old, old))

	require.NoError(t, s.CompressOlder(3))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".gz")
	assert.NoError(t, err)
}
