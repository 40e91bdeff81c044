// Package ranking evaluates a watchlist in bounded batches and orders the
// buy candidates.
package ranking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/metrics"
	"llm-autotrader/internal/types"
)

// Evaluator scores one ticker.
type Evaluator interface {
	Evaluate(ctx context.Context, ticker, mode string) (types.Opportunity, error)
}

type Config struct {
	BatchSize       int
	BatchDelay      time.Duration
	ConfidenceFloor float64
}

type Engine struct {
	eval    Evaluator
	cfg     Config
	running atomic.Bool
}

func New(eval Evaluator, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	return &Engine{eval: eval, cfg: cfg}
}

// Rank evaluates tickers batch by batch. Failures are captured per ticker.
// Only one ranking runs at a time; a concurrent call gets ErrAlreadyRunning.
func (e *Engine) Rank(ctx context.Context, tickers []string, mode string) (types.RankResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return types.RankResult{}, types.ErrAlreadyRunning
	}
	defer e.running.Store(false)

	start := time.Now()
	defer func() { metrics.ObserveRanking(time.Since(start).Seconds()) }()

	tickers = dedupe(tickers)
	res := types.RankResult{Errors: make(map[string]error)}
	var mu sync.Mutex

	for i := 0; i < len(tickers); i += e.cfg.BatchSize {
		if i > 0 && e.cfg.BatchDelay > 0 {
			select {
			case <-time.After(e.cfg.BatchDelay):
			case <-ctx.Done():
				return finalize(res, e.cfg.ConfidenceFloor), ctx.Err()
			}
		}

		batch := tickers[i:min(i+e.cfg.BatchSize, len(tickers))]
		opps := make([]*types.Opportunity, len(batch))

		var g errgroup.Group
		g.SetLimit(e.cfg.BatchSize)
		for j, ticker := range batch {
			g.Go(func() error {
				opp, err := e.evaluate(ctx, ticker, mode)
				if err != nil {
					mu.Lock()
					res.Errors[ticker] = err
					mu.Unlock()
					logger.Warn(ctx, "Ticker evaluation failed", "ticker", ticker, "error", err)
					return nil
				}
				opps[j] = &opp
				return nil
			})
		}
		_ = g.Wait()

		for _, o := range opps {
			if o != nil {
				res.All = append(res.All, *o)
			}
		}
	}

	res = finalize(res, e.cfg.ConfidenceFloor)
	logger.Info(ctx, "Ranking complete",
		"tickers", len(tickers), "evaluated", len(res.All), "candidates", len(res.Ranked),
		"errors", len(res.Errors), "duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

func (e *Engine) evaluate(ctx context.Context, ticker, mode string) (opp types.Opportunity, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("evaluator panic: %v", r)
		}
	}()
	opp, err = e.eval.Evaluate(ctx, ticker, mode)
	if err == nil && opp.Ticker == "" {
		opp.Ticker = ticker
	}
	return opp, err
}

// IsRunning reports whether a ranking is in progress.
func (e *Engine) IsRunning() bool { return e.running.Load() }

// Best returns the top candidate, if any.
func Best(res types.RankResult) (types.Opportunity, bool) {
	if len(res.Ranked) == 0 {
		return types.Opportunity{}, false
	}
	return res.Ranked[0], true
}

// finalize keeps BUY decisions at or above floor, ordered by confidence,
// then secondary score, then ticker.
func finalize(res types.RankResult, floor float64) types.RankResult {
	res.Ranked = res.Ranked[:0]
	for _, o := range res.All {
		if strings.EqualFold(o.Decision, types.ActionBuy) && o.Confidence >= floor {
			res.Ranked = append(res.Ranked, o)
		}
	}
	sort.SliceStable(res.Ranked, func(i, j int) bool {
		a, b := res.Ranked[i], res.Ranked[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.SecondaryScore != b.SecondaryScore {
			return a.SecondaryScore > b.SecondaryScore
		}
		return a.Ticker < b.Ticker
	})
	return res
}

func dedupe(tickers []string) []string {
	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
