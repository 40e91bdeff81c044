// Package llm holds the prompt and response handling shared by the
// decision providers.
package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"llm-autotrader/internal/types"
)

const DefaultSystem = "You are a disciplined US equities trader. Decide BUY, SELL or HOLD for the ticker " +
	"from the supplied state. Respond with strict JSON only."

// Schema is the response shape every provider asks for.
const Schema = `{"action":"BUY|SELL|HOLD","confidence":0-100,"reason":"short string"}`

// Prompt renders the user message for ticker and its state.
func Prompt(ticker string, contextData map[string]any) (string, error) {
	state, err := json.Marshal(map[string]any{"ticker": ticker, "state": contextData})
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return fmt.Sprintf("Schema:%s\nState:%s\n\nRespond ONLY with compact JSON matching the schema.", Schema, state), nil
}

// ParseDecision finds the first JSON object in text. Unparseable output is
// a HOLD, not an error.
func ParseDecision(text string) types.Decision {
	t := strings.TrimSpace(text)
	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start >= 0 && end > start {
		var d types.Decision
		if err := json.Unmarshal([]byte(t[start:end+1]), &d); err == nil {
			Normalize(&d)
			return d
		}
	}
	return types.Decision{Action: types.ActionHold, Reason: "unparseable_model_output"}
}

// Normalize upper-cases the action and puts confidence on the 0-100 scale.
// Values in (0, 1] are read as fractions.
func Normalize(d *types.Decision) {
	d.Action = strings.ToUpper(strings.TrimSpace(d.Action))
	switch d.Action {
	case types.ActionBuy, types.ActionSell, types.ActionHold:
	default:
		d.Action = types.ActionHold
	}
	if d.Confidence > 0 && d.Confidence <= 1 {
		d.Confidence *= 100
	}
	if d.Confidence < 0 || d.Confidence > 100 {
		d.Confidence = 0
	}
}
