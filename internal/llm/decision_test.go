package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		action string
		conf   float64
	}{
		{"plain json", `{"action":"buy","confidence":82,"reason":"breakout"}`, "BUY", 82},
		{"fenced", "```json\n{\"action\":\"SELL\",\"confidence\":0.7}\n```", "SELL", 70},
		{"unknown action", `{"action":"SHORT","confidence":90}`, "HOLD", 90},
		{"out of range", `{"action":"BUY","confidence":250}`, "BUY", 0},
		{"garbage", "I think you should buy", "HOLD", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseDecision(tt.in)
			assert.Equal(t, tt.action, d.Action)
			assert.InDelta(t, tt.conf, d.Confidence, 1e-9)
		})
	}
}

func TestPromptCarriesState(t *testing.T) {
	p, err := Prompt("AAPL", map[string]any{"price": 190.5})
	require.NoError(t, err)
	assert.Contains(t, p, `"ticker":"AAPL"`)
	assert.Contains(t, p, `"price":190.5`)
	assert.Contains(t, p, Schema)
}
