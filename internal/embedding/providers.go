package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// localProvider uses an Ollama-compatible embeddings API, one request
// per text.
type localProvider struct {
	endpoint  string
	model     string
	dimension int

	once    sync.Once
	seenDim int
}

func newLocalProvider(cfg Config) *localProvider {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return &localProvider{endpoint: endpoint, model: cfg.Model, dimension: cfg.Dimension}
}

func (p *localProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var result struct {
			Embedding []float32 `json:"embedding"`
		}
		body := map[string]string{"model": p.model, "prompt": text}
		if err := postJSON(ctx, p.endpoint+"/api/embeddings", "", body, &result); err != nil {
			return nil, err
		}
		out = append(out, result.Embedding)
	}
	if len(out) > 0 && len(out[0]) > 0 {
		p.once.Do(func() { p.seenDim = len(out[0]) })
	}
	return out, nil
}

func (p *localProvider) Dimension() int {
	if p.seenDim > 0 {
		return p.seenDim
	}
	return p.dimension
}

// apiProvider uses an OpenAI-compatible embeddings API, batching all
// texts into one request.
type apiProvider struct {
	endpoint  string
	model     string
	apiKey    string
	dimension int

	once    sync.Once
	seenDim int
}

func newAPIProvider(cfg Config) *apiProvider {
	return &apiProvider{
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		dimension: cfg.Dimension,
	}
}

func (p *apiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	body := map[string]interface{}{"model": p.model, "input": texts}
	if err := postJSON(ctx, p.endpoint+"/embeddings", p.apiKey, body, &result); err != nil {
		return nil, err
	}

	out := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		out[i] = d.Embedding
	}
	if len(out) > 0 && len(out[0]) > 0 {
		p.once.Do(func() { p.seenDim = len(out[0]) })
	}
	return out, nil
}

func (p *apiProvider) Dimension() int {
	if p.seenDim > 0 {
		return p.seenDim
	}
	return p.dimension
}

func postJSON(ctx context.Context, url, bearer string, body, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("embedding: API returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("embedding: decode response: %w", err)
	}
	return nil
}
