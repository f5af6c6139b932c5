// Package embedding generates vector embeddings for knowledge-store
// documents via an Ollama-compatible or OpenAI-compatible endpoint.
package embedding

import (
	"context"
	"fmt"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string // "api" or "local"
	Endpoint  string
	Model     string
	APIKey    string
	Dimension int
}

// New builds a Provider from config.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "local", "":
		return newLocalProvider(cfg), nil
	case "api":
		return newAPIProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
