package embedding

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultModel is the embedding model requested from OpenAI-compatible providers.
	DefaultModel = string(openai.SmallEmbedding3)
	// DefaultDimensions is the process-wide embedding dimensionality. All stored
	// vectors must share it; mixing dimensions would make distances meaningless.
	DefaultDimensions = 1536
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when a provider responds with a vector of
	// a different dimensionality than the index was built with
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
)

// Provider converts text into a fixed-dimension vector. Implementations get
// exactly one attempt per Gateway.Embed call; the gateway handles fallback.
type Provider interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIProvider generates embeddings through the OpenAI API or any
// OpenAI-compatible endpoint (set BaseURL for self-hosted gateways).
type OpenAIProvider struct {
	name       string
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	Name       string
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// NewOpenAIProvider creates a provider targeting an OpenAI-compatible API.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}

	return &OpenAIProvider{
		name:       name,
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(model),
		dimensions: dimensions,
	}
}

// Name identifies the provider in logs.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Embed calls the provider API for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      p.model,
		Dimensions: p.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}
