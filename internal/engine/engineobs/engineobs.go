package engineobs

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"llm-autotrader/internal/interfaces"
	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/trace"
	"llm-autotrader/internal/types"
)

type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{engine: eng}
}

func (oe *observableEngine) RunCycle(ctx context.Context) *types.CycleResult {
	ctx, span := trace.StartSpan(ctx, "engine.RunCycle")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Starting trading cycle")

	result := oe.engine.RunCycle(ctx)

	span.SetAttributes(
		attribute.String("cycle.id", result.ID),
		attribute.String("cycle.outcome", string(result.Outcome)),
	)
	fields := []any{
		"cycle_id", result.ID,
		"outcome", result.Outcome,
		"duration_ms", result.Duration.Milliseconds(),
	}
	if result.Opportunity != nil {
		fields = append(fields, "ticker", result.Opportunity.Ticker, "confidence", result.Opportunity.Confidence)
	}
	if result.Reason != "" {
		fields = append(fields, "reason", result.Reason)
	}

	if result.Outcome == types.CycleFailed {
		span.SetStatus(codes.Error, result.Reason)
		logger.WarnSkip(ctx, 1, "Trading cycle failed", fields...)
		return result
	}
	logger.InfoSkip(ctx, 1, "Trading cycle completed", fields...)
	return result
}
