package llmobs

import (
	"context"
	"time"

	"llm-autotrader/internal/interfaces"
	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/trace"
	"llm-autotrader/internal/types"
)

type observableDecider struct {
	decider interfaces.Decider
}

var _ interfaces.Decider = (*observableDecider)(nil)

// Wrap adds a span and decision logging around decider.
func Wrap(decider interfaces.Decider) interfaces.Decider {
	return &observableDecider{decider: decider}
}

func (od *observableDecider) Decide(ctx context.Context, ticker string, contextData map[string]any) (types.Decision, error) {
	ctx, span := trace.StartSpan(ctx, "llm.Decide")
	defer span.End()

	start := time.Now()
	logger.DebugSkip(ctx, 1, "Requesting trading decision",
		"ticker", ticker,
		"price", contextData["price"],
		"fields", len(contextData),
	)

	decision, err := od.decider.Decide(ctx, ticker, contextData)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to get trading decision", err,
			"ticker", ticker,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return types.Decision{}, err
	}

	logger.InfoSkip(ctx, 1, "Trading decision received",
		"ticker", ticker,
		"action", decision.Action,
		"confidence", decision.Confidence,
		"reason", decision.Reason,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return decision, nil
}
