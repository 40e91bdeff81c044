package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"llm-autotrader/internal/api"
	"llm-autotrader/internal/interfaces"
	"llm-autotrader/internal/llm"
	"llm-autotrader/internal/store"
	"llm-autotrader/internal/trace"
	"llm-autotrader/internal/types"
)

const DefaultEndpoint = "https://api.openai.com/v1/chat/completions"

type OpenAIDecider struct {
	cfg      store.LLMConfig
	apiKey   string
	endpoint string
	client   *api.Client
}

var _ interfaces.Decider = (*OpenAIDecider)(nil)

// NewOpenAIDecider uses DefaultEndpoint when endpoint is empty.
func NewOpenAIDecider(cfg store.LLMConfig, apiKey, endpoint string) *OpenAIDecider {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &OpenAIDecider{cfg: cfg, apiKey: apiKey, endpoint: endpoint, client: api.NewClient(api.WithTimeout(60 * time.Second))}
}

func (d *OpenAIDecider) Decide(ctx context.Context, ticker string, contextData map[string]any) (types.Decision, error) {
	ctx, span := trace.StartSpan(ctx, "openai-api-call")
	defer span.End()

	if d.apiKey == "" {
		return types.Decision{}, errors.New("OPENAI_API_KEY missing")
	}
	prompt, err := llm.Prompt(ticker, contextData)
	if err != nil {
		return types.Decision{}, err
	}
	system := d.cfg.System
	if system == "" {
		system = llm.DefaultSystem
	}

	raw, err := d.client.PostJSON(ctx, d.endpoint, chatRequest{
		Model:          d.cfg.Model,
		Messages:       []chatMessage{{Role: "system", Content: system}, {Role: "user", Content: prompt}},
		Temperature:    d.cfg.Temperature,
		MaxTokens:      d.cfg.MaxTokens,
		ResponseFormat: map[string]any{"type": "json_object"},
	}, map[string]string{"Authorization": "Bearer " + d.apiKey})
	if err != nil {
		return types.Decision{}, fmt.Errorf("openai: %w", err)
	}

	var r chatResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return types.Decision{}, fmt.Errorf("decode openai response: %w", err)
	}
	if len(r.Choices) == 0 {
		return types.Decision{}, errors.New("no choices")
	}
	return llm.ParseDecision(r.Choices[0].Message.Content), nil
}
