// Package gateway normalizes requests to heterogeneous text-generation
// providers behind one Generate call, with a bounded time-expiring
// response cache in front of the network.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/ospreylabs/conduct/internal/provider"
	"go.uber.org/zap"
)

// Options tunes gateway behavior.
type Options struct {
	CacheMaxEntries int
	CacheTTL        time.Duration
	CachePrefixLen  int
	DefaultTemp     float64
	DefaultTokens   int
}

// Gateway produces generated text for prompts, selecting among
// registered providers and caching responses.
type Gateway struct {
	registry  *provider.Registry
	cache     *responseCache
	prefixLen int
	temp      float64
	tokens    int
	logger    *zap.Logger
}

// New creates a Gateway over the given provider registry.
func New(registry *provider.Registry, opts Options, logger *zap.Logger) *Gateway {
	if opts.DefaultTemp == 0 {
		opts.DefaultTemp = 0.2
	}
	if opts.DefaultTokens == 0 {
		opts.DefaultTokens = 2000
	}
	return &Gateway{
		registry:  registry,
		cache:     newResponseCache(opts.CacheMaxEntries, opts.CacheTTL),
		prefixLen: opts.CachePrefixLen,
		temp:      opts.DefaultTemp,
		tokens:    opts.DefaultTokens,
		logger:    logger,
	}
}

// Request is a single generation request. The zero value of NoCache
// means caching is on; Temperature and MaxTokens fall back to the
// gateway defaults when zero.
type Request struct {
	Prompt       string
	SystemPrompt string
	Model        string
	ProviderID   string
	Temperature  float64
	MaxTokens    int
	NoCache      bool
}

// Generate returns text for the prompt. The cache is consulted before
// any provider call; a hit returns without network I/O. An unknown
// provider id routes to the default provider.
func (g *Gateway) Generate(ctx context.Context, req Request) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("prompt must not be empty")
	}

	p := g.registry.Resolve(req.ProviderID)
	if p == nil {
		return "", fmt.Errorf("no providers registered")
	}

	temp := req.Temperature
	if temp == 0 {
		temp = g.temp
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = g.tokens
	}
	model := req.Model
	if model == "" {
		model = p.DefaultModel()
	}

	key := fingerprint(p.ID(), model, temp, req.Prompt, g.prefixLen)
	if !req.NoCache {
		if v, ok := g.cache.Get(key); ok {
			g.logger.Debug("cache hit", zap.String("provider", p.ID()), zap.String("model", model))
			return v, nil
		}
	}

	start := time.Now()
	text, err := p.Complete(ctx, &provider.Request{
		Model:        model,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Temperature:  temp,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return "", err
	}

	g.logger.Debug("generated completion",
		zap.String("provider", p.ID()),
		zap.String("model", model),
		zap.Duration("took", time.Since(start)))

	if !req.NoCache {
		g.cache.Put(key, text)
	}
	return text, nil
}

// CacheLen reports the number of cached responses.
func (g *Gateway) CacheLen() int { return g.cache.Len() }
