package engine

import (
	"context"

	"llm-autotrader/internal/interfaces"
	"llm-autotrader/internal/types"
)

// Ranker orders a watchlist into buy candidates.
type Ranker interface {
	Rank(ctx context.Context, tickers []string, mode string) (types.RankResult, error)
}

// Executor submits a single trade request.
type Executor interface {
	ExecuteTrade(ctx context.Context, req types.TradeRequest) types.TradeResult
}

type Config struct {
	Budget          float64
	ConfidenceFloor float64
	Mode            string
	OrderType       string
}

// Deps are the collaborators of an AutoTrader. Mirror and Live may each be
// nil; a position in either one blocks a buy.
type Deps struct {
	Watchlist interfaces.WatchlistStore
	Ranker    Ranker
	Executor  Executor
	Mirror    interfaces.PositionMirror
	Live      interfaces.PositionMirror
}

func New(cfg Config, deps Deps) interfaces.Engine {
	if cfg.Mode == "" {
		cfg.Mode = "swing"
	}
	if cfg.OrderType == "" {
		cfg.OrderType = types.OrderTypeMarket
	}
	return &AutoTrader{cfg: cfg, deps: deps, risk: newRiskGate(cfg, deps.Mirror, deps.Live)}
}
