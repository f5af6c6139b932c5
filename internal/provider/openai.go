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

// OpenAIProvider talks to OpenAI-compatible chat-completion APIs.
type OpenAIProvider struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg Config, logger *zap.Logger) *OpenAIProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (p *OpenAIProvider) ID() string           { return p.config.ID }
func (p *OpenAIProvider) Kind() Kind           { return KindOpenAI }
func (p *OpenAIProvider) Name() string         { return p.config.Name }
func (p *OpenAIProvider) DefaultModel() string { return p.config.Model }

// Ready fails when the bearer token is missing.
func (p *OpenAIProvider) Ready() error {
	if p.config.APIKey == "" {
		return fault.New(fault.ConfigError, "provider %s: API key not configured", p.config.ID)
	}
	return nil
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends a chat-completion request with a bearer token.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (string, error) {
	if p.config.APIKey == "" {
		return "", fault.New(fault.ConfigError, "provider %s: API key not configured", p.config.ID)
	}

	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	messages := make([]openAIMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(openAIRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return "", fault.Wrap(fault.AIError, err, "marshal openai request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.Endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fault.Wrap(fault.AIError, err, "create openai request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fault.Wrap(fault.AIError, err, "openai call failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fault.New(fault.AIError, "openai API error %d: %s", resp.StatusCode, string(respBody))
	}

	var out openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fault.Wrap(fault.AIError, err, "decode openai response")
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == nil {
		return "", fault.New(fault.AIError, "openai response missing choices[0].message.content")
	}
	return *out.Choices[0].Message.Content, nil
}

var _ Provider = (*OpenAIProvider)(nil)
