package embedding

import (
	"context"
	"log"
	"strings"
	"time"
)

const (
	// DefaultMaxChars bounds the text sent to a provider in one request.
	DefaultMaxChars = 8000
	// DefaultTimeout bounds a single provider call.
	DefaultTimeout = 15 * time.Second
)

// GatewayConfig controls gateway behavior.
type GatewayConfig struct {
	Dimensions int
	MaxChars   int
	Timeout    time.Duration
}

// Gateway tries a statically ordered list of providers and degrades to
// "no embedding" when every provider fails. Callers must treat a nil vector
// as a legitimate outcome, not an error.
type Gateway struct {
	providers  []Provider
	dimensions int
	maxChars   int
	timeout    time.Duration
}

// NewGateway creates a gateway over the given providers, tried in order.
func NewGateway(providers []Provider, cfg GatewayConfig) *Gateway {
	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{
		providers:  providers,
		dimensions: dimensions,
		maxChars:   maxChars,
		timeout:    timeout,
	}
}

// Available reports whether any provider is configured.
func (g *Gateway) Available() bool {
	return len(g.providers) > 0
}

// Dimensions returns the process-wide embedding dimensionality.
func (g *Gateway) Dimensions() int {
	return g.dimensions
}

// Embed returns a vector for text, or nil when no provider could produce one.
// Each provider gets exactly one attempt with a bounded timeout; failures are
// logged and the next provider is tried.
func (g *Gateway) Embed(ctx context.Context, text string) []float32 {
	clean := strings.TrimSpace(text)
	if clean == "" || len(g.providers) == 0 {
		return nil
	}
	clean = truncateRunes(clean, g.maxChars)

	for _, p := range g.providers {
		vector, err := g.embedOnce(ctx, p, clean)
		if err != nil {
			log.Printf("embedding: provider %s failed: %v", p.Name(), err)
			continue
		}
		return vector
	}

	log.Printf("embedding: all %d providers failed, continuing without embedding", len(g.providers))
	return nil
}

func (g *Gateway) embedOnce(ctx context.Context, p Provider, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	vector, err := p.Embed(callCtx, text)
	if err != nil {
		return nil, err
	}
	if len(vector) != g.dimensions {
		return nil, ErrWrongDimensions
	}
	return vector, nil
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
