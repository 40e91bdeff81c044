package interfaces

import (
	"context"

	"llm-autotrader/internal/types"
)

// Decider produces an opaque trading decision for a ticker. Only Action and
// Confidence are interpreted downstream.
type Decider interface {
	Decide(ctx context.Context, ticker string, contextData map[string]any) (types.Decision, error)
}
