// Package embeddings provides the text embedders used for indexing and
// retrieval: a client for any OpenAI-compatible /embeddings endpoint (OpenAI,
// Text Embeddings Inference, Ollama, LocalAI) and a deterministic local
// feature-hashing embedder.
package embeddings

import (
	"context"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/config"
	"github.com/upb/rag-chatbot/internal/rag"
	"github.com/upb/rag-chatbot/internal/upstream"
	"github.com/upb/rag-chatbot/services/providers"
	"github.com/upb/rag-chatbot/services/providers/openai"
)

const providerName = "embeddings"

// DefaultMaxBatch bounds the number of inputs per embeddings request.
const DefaultMaxBatch = 128

// Client embeds text through an OpenAI-compatible embeddings API.
type Client struct {
	client     *goopenai.Client
	model      string
	dimensions int
	maxBatch   int
	policy     upstream.Policy
	logger     *zap.Logger
}

// ClientConfig configures Client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	MaxBatch   int
	Policy     upstream.Policy
}

// NewClient creates an embeddings client.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive")
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		client: openai.NewClient(providers.ProviderConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			// Attempts are bounded by the retry policy's context.
			Timeout: 0,
		}),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxBatch:   cfg.MaxBatch,
		policy:     cfg.Policy,
		logger:     logger,
	}, nil
}

// ModelName returns the embedding model name.
func (c *Client) ModelName() string { return c.model }

// Dimensions returns the vector dimension.
func (c *Client) Dimensions() int { return c.dimensions }

// EmbedQuery embeds a single query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments embeds texts in order, splitting them into requests of at
// most maxBatch inputs.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.maxBatch {
		end := start + c.maxBatch
		if end > len(texts) {
			end = len(texts)
		}

		batch := texts[start:end]
		vectors, err := upstream.Do(ctx, c.policy, c.logger, "embed", func(ctx context.Context) ([][]float32, error) {
			return c.embedBatch(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Model: goopenai.EmbeddingModel(c.model),
		Input: texts,
	})
	if err != nil {
		return nil, openai.ConvertError(providerName, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	// Servers may return data out of order; Index is authoritative.
	vectors := make([][]float32, len(texts))
	for i, datum := range resp.Data {
		idx := datum.Index
		if idx < 0 || idx >= len(texts) || vectors[idx] != nil {
			idx = i
		}
		if len(datum.Embedding) != c.dimensions {
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", c.dimensions, len(datum.Embedding))
		}
		vectors[idx] = datum.Embedding
	}
	return vectors, nil
}

// New builds the embedder selected by configuration.
func New(cfg config.EmbeddingsConfig, logger *zap.Logger) (rag.Embedder, error) {
	switch cfg.Provider {
	case config.EmbeddingProviderHash:
		return NewHashEmbedder(cfg.Dimensions), nil
	case config.EmbeddingProviderOpenAI, "":
		return NewClient(ClientConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			Policy: upstream.Policy{
				Timeout:    cfg.Timeout,
				MaxRetries: cfg.MaxRetries,
				BaseDelay:  cfg.RetryDelay,
				MaxDelay:   5 * cfg.RetryDelay,
			},
		}, logger)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
