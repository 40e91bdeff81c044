package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"llm-autotrader/internal/interfaces"
	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/types"
)

// riskGate decides whether the best opportunity may be traded and how much.
type riskGate struct {
	budget decimal.Decimal
	floor  float64
	mirror interfaces.PositionMirror
	live   interfaces.PositionMirror
}

func newRiskGate(cfg Config, mirror, live interfaces.PositionMirror) *riskGate {
	return &riskGate{
		budget: decimal.NewFromFloat(cfg.Budget),
		floor:  cfg.ConfidenceFloor,
		mirror: mirror,
		live:   live,
	}
}

// check returns the share quantity to buy, or a rejection reason.
func (rg *riskGate) check(ctx context.Context, opp types.Opportunity) (qty float64, reason string, err error) {
	if opp.Confidence < rg.floor {
		return 0, fmt.Sprintf("confidence %.1f below floor %.1f", opp.Confidence, rg.floor), nil
	}
	if !strings.EqualFold(opp.Decision, types.ActionBuy) {
		return 0, fmt.Sprintf("decision %s is not a buy", opp.Decision), nil
	}

	held, err := rg.holds(ctx, opp.Ticker)
	if err != nil {
		return 0, "", err
	}
	if held {
		logger.Risk(ctx, opp.Ticker, "POSITION_EXISTS")
		return 0, "position already open", nil
	}

	qty = rg.size(opp.Price)
	if qty <= 0 {
		logger.Risk(ctx, opp.Ticker, "INVALID_QUANTITY", "price", opp.Price, "budget", rg.budget.String())
		return 0, "invalid quantity", nil
	}
	return qty, "", nil
}

func (rg *riskGate) holds(ctx context.Context, symbol string) (bool, error) {
	for _, src := range []interfaces.PositionMirror{rg.mirror, rg.live} {
		if src == nil {
			continue
		}
		held, err := src.HasOpenPosition(ctx, symbol)
		if err != nil {
			return false, fmt.Errorf("position check: %w", err)
		}
		if held {
			return true, nil
		}
	}
	return false, nil
}

// size is floor(budget / price) whole shares.
func (rg *riskGate) size(price float64) float64 {
	if price <= 0 {
		return 0
	}
	return rg.budget.Div(decimal.NewFromFloat(price)).Floor().InexactFloat64()
}
