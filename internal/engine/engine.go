// Package engine runs the automated trading cycle: rank the watchlist, gate
// the best candidate on risk, and execute it.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"llm-autotrader/internal/interfaces"
	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/metrics"
	"llm-autotrader/internal/types"
)

type AutoTrader struct {
	cfg  Config
	deps Deps
	risk *riskGate
}

var _ interfaces.Engine = (*AutoTrader)(nil)

// RunCycle never returns an error and never panics; every failure ends up
// in the result.
func (a *AutoTrader) RunCycle(ctx context.Context) (result *types.CycleResult) {
	result = &types.CycleResult{ID: uuid.NewString(), Started: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			result.Outcome = types.CycleFailed
			result.Reason = fmt.Sprintf("panic: %v", r)
			logger.Error(ctx, "Trading cycle panicked", "cycle_id", result.ID, "panic", r)
		}
		result.Duration = time.Since(result.Started)
		metrics.ObserveCycle(string(result.Outcome))
	}()

	a.run(ctx, result)
	return result
}

func (a *AutoTrader) run(ctx context.Context, result *types.CycleResult) {
	tickers, err := a.deps.Watchlist.ListTickers(ctx)
	if err != nil {
		a.fail(ctx, result, "watchlist", err)
		return
	}

	ranked, err := a.deps.Ranker.Rank(ctx, tickers, a.cfg.Mode)
	if err != nil {
		a.fail(ctx, result, "ranking", err)
		return
	}
	if len(ranked.Ranked) == 0 {
		result.Outcome = types.CycleNoCandidate
		result.Reason = fmt.Sprintf("no candidate among %d evaluated", len(ranked.All))
		logger.Info(ctx, "No trade candidate", "tickers", len(tickers), "errors", len(ranked.Errors))
		return
	}

	best := ranked.Ranked[0]
	result.Opportunity = &best

	qty, reason, err := a.risk.check(ctx, best)
	if err != nil {
		a.fail(ctx, result, "risk check", err)
		return
	}
	if reason != "" {
		result.Outcome = types.CycleRejected
		result.Reason = reason
		logger.Info(ctx, "Candidate rejected", "cycle_id", result.ID, "ticker", best.Ticker, "reason", reason)
		return
	}

	trade := a.deps.Executor.ExecuteTrade(ctx, types.TradeRequest{
		Symbol:     best.Ticker,
		Action:     types.ActionBuy,
		Quantity:   qty,
		OrderType:  a.cfg.OrderType,
		LimitPrice: limitFor(a.cfg.OrderType, best.Price),
		Confidence: best.Confidence,
		SecType:    types.SecTypeStock,
		RefPrice:   best.Price,
	})
	result.Trade = &trade
	if !trade.Accepted {
		result.Outcome = types.CycleRejected
		result.Reason = trade.RejectionReason
		return
	}
	result.Outcome = types.CycleTraded
	logger.Trade(ctx, best.Ticker, types.ActionBuy, qty, trade.OrderID, "confidence", best.Confidence, "price", best.Price)
}

func (a *AutoTrader) fail(ctx context.Context, result *types.CycleResult, stage string, err error) {
	result.Outcome = types.CycleFailed
	result.Reason = fmt.Sprintf("%s: %v", stage, err)
	logger.ErrorWithErr(ctx, "Trading cycle failed", err, "cycle_id", result.ID, "stage", stage)
}

func limitFor(orderType string, price float64) *float64 {
	if orderType != types.OrderTypeLimit {
		return nil
	}
	return &price
}
