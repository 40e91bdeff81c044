package noop

import (
	"context"

	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/types"
)

// NoopDecider is used when no LLM provider is configured. It always holds,
// so the trading cycle never finds a candidate.
type NoopDecider struct{}

func NewNoopDecider() *NoopDecider {
	return &NoopDecider{}
}

func (d *NoopDecider) Decide(ctx context.Context, ticker string, _ map[string]any) (types.Decision, error) {
	logger.Debug(ctx, "Noop decider called - always returns HOLD", "ticker", ticker)
	return types.Decision{
		Action: types.ActionHold,
		Reason: "noop_decider_fallback",
	}, nil
}
