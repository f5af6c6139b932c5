package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ospreylabs/conduct/internal/fault"
	"go.uber.org/zap"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider talks to Anthropic-compatible messages APIs.
type AnthropicProvider struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewAnthropicProvider creates an Anthropic-compatible provider.
func NewAnthropicProvider(cfg Config, logger *zap.Logger) *AnthropicProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.anthropic.com/v1"
	}
	return &AnthropicProvider{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (p *AnthropicProvider) ID() string           { return p.config.ID }
func (p *AnthropicProvider) Kind() Kind           { return KindAnthropic }
func (p *AnthropicProvider) Name() string         { return p.config.Name }
func (p *AnthropicProvider) DefaultModel() string { return p.config.Model }

// Ready fails when the API key is missing.
func (p *AnthropicProvider) Ready() error {
	if p.config.APIKey == "" {
		return fault.New(fault.ConfigError, "provider %s: API key not configured", p.config.ID)
	}
	return nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicResponse struct {
	Content []struct {
		Type string  `json:"type"`
		Text *string `json:"text"`
	} `json:"content"`
}

// Complete sends a messages-API request with credential and version headers.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (string, error) {
	if p.config.APIKey == "" {
		return "", fault.New(fault.ConfigError, "provider %s: API key not configured", p.config.ID)
	}

	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2000
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       model,
		Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		System:      req.SystemPrompt,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fault.Wrap(fault.AIError, err, "marshal anthropic request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.Endpoint+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", fault.Wrap(fault.AIError, err, "create anthropic request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.config.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fault.Wrap(fault.AIError, err, "anthropic call failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fault.New(fault.AIError, "anthropic API error %d: %s", resp.StatusCode, string(respBody))
	}

	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fault.Wrap(fault.AIError, err, "decode anthropic response")
	}
	if len(out.Content) == 0 || out.Content[0].Text == nil {
		return "", fault.New(fault.AIError, "anthropic response missing content[0].text")
	}
	return *out.Content[0].Text, nil
}

var _ Provider = (*AnthropicProvider)(nil)
