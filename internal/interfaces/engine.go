package interfaces

import (
	"context"

	"llm-autotrader/internal/types"
)

// Engine runs one trading cycle. It never returns an error: failures are
// reported in the CycleResult.
type Engine interface {
	RunCycle(ctx context.Context) *types.CycleResult
}
