package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"llm-autotrader/internal/api"
	"llm-autotrader/internal/interfaces"
	"llm-autotrader/internal/llm"
	"llm-autotrader/internal/store"
	"llm-autotrader/internal/trace"
	"llm-autotrader/internal/types"
)

const (
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"
	apiVersion      = "2023-06-01"
)

// ClaudeDecider calls the Anthropic Messages API.
type ClaudeDecider struct {
	cfg      store.LLMConfig
	apiKey   string
	endpoint string
	client   *api.Client
}

var _ interfaces.Decider = (*ClaudeDecider)(nil)

// NewClaudeDecider uses DefaultEndpoint when endpoint is empty, so a proxy
// can be configured via CLAUDE_API_ENDPOINT.
func NewClaudeDecider(cfg store.LLMConfig, apiKey, endpoint string) *ClaudeDecider {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &ClaudeDecider{cfg: cfg, apiKey: apiKey, endpoint: endpoint, client: api.NewClient(api.WithTimeout(60*time.Second), api.WithHeader("anthropic-version", apiVersion))}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (d *ClaudeDecider) Decide(ctx context.Context, ticker string, contextData map[string]any) (types.Decision, error) {
	ctx, span := trace.StartSpan(ctx, "claude-api-call")
	defer span.End()

	if d.apiKey == "" {
		return types.Decision{}, errors.New("CLAUDE_API_KEY missing")
	}
	prompt, err := llm.Prompt(ticker, contextData)
	if err != nil {
		return types.Decision{}, err
	}
	system := d.cfg.System
	if system == "" {
		system = llm.DefaultSystem
	}
	maxTokens := d.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 400
	}

	raw, err := d.client.PostJSON(ctx, d.endpoint, messagesRequest{
		Model:       d.cfg.Model,
		System:      system,
		Messages:    []message{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: d.cfg.Temperature,
	}, map[string]string{"x-api-key": d.apiKey})
	if err != nil {
		return types.Decision{}, fmt.Errorf("claude: %w", err)
	}

	var r messagesResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		// some proxies return the bare text
		return llm.ParseDecision(string(raw)), nil
	}
	var text strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	return llm.ParseDecision(text.String()), nil
}
