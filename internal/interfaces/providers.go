package interfaces

import (
	"context"

	"llm-autotrader/internal/types"
)

// Cache is best-effort: Get may miss at any time and callers must tolerate it.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttlSeconds int)
	Delete(key string)
}

type MarketDataProvider interface {
	HistoricalData(ctx context.Context, symbol, duration, barSize string) ([]types.Candle, error)
	Quote(ctx context.Context, symbol string) (types.Quote, error)
}

type NewsProvider interface {
	NewsForTicker(ctx context.Context, ticker string) (types.NewsSentiment, error)
}

type FundamentalsProvider interface {
	Fundamentals(ctx context.Context, symbol, reportType string) (string, error)
}

type WatchlistStore interface {
	ListTickers(ctx context.Context) ([]string, error)
}

// TradeHistoryStore records trade outcomes. Failures are tolerated by callers.
type TradeHistoryStore interface {
	Record(ctx context.Context, result types.TradeResult) error
}

// PositionMirror is the durable view of open positions.
type PositionMirror interface {
	HasOpenPosition(ctx context.Context, symbol string) (bool, error)
}
