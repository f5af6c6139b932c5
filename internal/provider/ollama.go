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

// OllamaProvider talks to a local inference server using the Ollama
// generate protocol. No credential is required.
type OllamaProvider struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewOllamaProvider creates a local inference provider.
func NewOllamaProvider(cfg Config, logger *zap.Logger) *OllamaProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:11434"
	}
	return &OllamaProvider{
		config: cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (p *OllamaProvider) ID() string           { return p.config.ID }
func (p *OllamaProvider) Kind() Kind           { return KindOllama }
func (p *OllamaProvider) Name() string         { return p.config.Name }
func (p *OllamaProvider) DefaultModel() string { return p.config.Model }

// Ready always succeeds: local inference needs no credential.
func (p *OllamaProvider) Ready() error { return nil }

type ollamaRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Stream      bool    `json:"stream"`
}

type ollamaResponse struct {
	Response *string `json:"response"`
}

// Complete sends a non-streaming generate request.
func (p *OllamaProvider) Complete(ctx context.Context, req *Request) (string, error) {
	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	prompt := req.Prompt
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + req.Prompt
	}

	body, err := json.Marshal(ollamaRequest{
		Model:       model,
		Prompt:      prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	})
	if err != nil {
		return "", fault.Wrap(fault.AIError, err, "marshal ollama request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.Endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fault.Wrap(fault.AIError, err, "create ollama request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fault.Wrap(fault.AIError, err, "ollama call failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fault.New(fault.AIError, "ollama API error %d: %s", resp.StatusCode, string(respBody))
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fault.Wrap(fault.AIError, err, "decode ollama response")
	}
	if out.Response == nil {
		return "", fault.New(fault.AIError, "ollama response missing 'response' field")
	}
	return *out.Response, nil
}

var _ Provider = (*OllamaProvider)(nil)
