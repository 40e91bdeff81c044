package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-autotrader/internal/store"
)

func TestDecide(t *testing.T) {
	var got messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Here you go: {\"action\":\"hold\",\"confidence\":0.4,\"reason\":\"range\"}"}]}`))
	}))
	defer srv.Close()

	d := NewClaudeDecider(store.LLMConfig{Model: "claude-test"}, "key", srv.URL)
	dec, err := d.Decide(context.Background(), "MSFT", map[string]any{"price": 400.0})
	require.NoError(t, err)

	assert.Equal(t, "HOLD", dec.Action)
	assert.InDelta(t, 40.0, dec.Confidence, 1e-9)
	assert.Equal(t, 400, got.MaxTokens)
	assert.NotEmpty(t, got.System)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
}

func TestDecideHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid model", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClaudeDecider(store.LLMConfig{}, "key", srv.URL).Decide(context.Background(), "MSFT", nil)
	assert.ErrorContains(t, err, "400")
}
