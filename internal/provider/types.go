// Package provider implements completion adapters for the three
// supported text-generation backends and a registry that routes
// requests to them.
package provider

import (
	"context"
	"time"
)

// Kind enumerates the supported provider wire protocols. The set is
// closed: dispatch over Kind must handle every constant plus a default
// branch.
type Kind string

const (
	KindOllama    Kind = "ollama"
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
)

// Provider produces completion text for a prompt.
type Provider interface {
	ID() string
	Kind() Kind
	Name() string
	// Complete returns the generated text. A missing credential is a
	// CONFIG_ERROR fault raised before any network I/O; a failed call or
	// malformed payload is an AI_ERROR fault.
	Complete(ctx context.Context, req *Request) (string, error)
	// Ready reports whether required credentials are present, as a
	// CONFIG_ERROR fault when they are not. No network I/O.
	Ready() error
	// DefaultModel is used when a request names no model.
	DefaultModel() string
}

// Request is a normalized completion request.
type Request struct {
	Model        string
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Config holds configuration for a provider instance.
type Config struct {
	ID       string
	Kind     Kind
	Name     string
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}
