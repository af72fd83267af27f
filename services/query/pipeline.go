// Package query answers questions by retrieving context from the vector index
// and asking the LLM to answer from it.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/internal/rag"
	"github.com/upb/rag-chatbot/internal/upstream"
	"github.com/upb/rag-chatbot/services"
	"github.com/upb/rag-chatbot/services/providers"
)

// Retriever returns the chunks most relevant to a question
type Retriever interface {
	Search(ctx context.Context, question string) ([]rag.ScoredChunk, error)
}

// Config configures answer generation
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Policy      upstream.Policy
	// Timeout bounds a whole Answer call, retries included. Zero means the
	// caller's context is the only bound.
	Timeout time.Duration
}

// Pipeline is the retrieve, assemble, generate chain. It holds no mutable
// state and is safe for concurrent use.
type Pipeline struct {
	retriever Retriever
	assembler *rag.PromptAssembler
	generator providers.Provider
	config    Config
	logger    *zap.Logger
}

// NewPipeline creates a pipeline
func NewPipeline(retriever Retriever, assembler *rag.PromptAssembler, generator providers.Provider, config Config, logger *zap.Logger) (*Pipeline, error) {
	if retriever == nil || assembler == nil || generator == nil {
		return nil, fmt.Errorf("pipeline requires a retriever, a prompt assembler and a generator")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("generation model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		retriever: retriever,
		assembler: assembler,
		generator: generator,
		config:    config,
		logger:    logger,
	}, nil
}

// Answer returns the generated answer to question. Errors are domain errors:
// ErrEmptyQuery, ErrUpstreamTimeout when an upstream call ran out of time,
// and ErrQueryFailed for any other failure. Cancellation of ctx is returned
// as is.
func (p *Pipeline) Answer(ctx context.Context, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", services.ErrEmptyQuery
	}

	start := time.Now()

	callCtx := ctx
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	chunks, err := p.retriever.Search(callCtx, question)
	if err != nil {
		return "", p.fail(ctx, "retrieval failed", err)
	}
	retrieved := time.Since(start)

	prompt := p.assembler.Render(chunks, question)

	req := &providers.ChatRequest{
		Model:       p.config.Model,
		Messages:    []providers.Message{{Role: providers.RoleUser, Content: prompt}},
		Temperature: p.config.Temperature,
		MaxTokens:   p.config.MaxTokens,
	}
	resp, err := upstream.Do(callCtx, p.config.Policy, p.logger, "generate", func(ctx context.Context) (*providers.ChatResponse, error) {
		return p.generator.ChatCompletion(ctx, req)
	})
	if err != nil {
		return "", p.fail(ctx, "generation failed", err)
	}

	answer, err := resp.Content()
	if err != nil {
		return "", p.fail(ctx, "generation failed", err)
	}

	p.logger.Info("query answered",
		zap.Int("chunks", len(chunks)),
		zap.Duration("retrieval", retrieved),
		zap.Duration("total", time.Since(start)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))

	return answer, nil
}

// fail logs the cause and maps it to the error the caller may see.
func (p *Pipeline) fail(ctx context.Context, stage string, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		p.logger.Info("query cancelled by client", zap.String("stage", stage))
		return ctx.Err()
	}

	p.logger.Error(stage, zap.Error(err))

	switch {
	case errors.Is(err, upstream.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return services.WrapError(services.ErrUpstreamTimeout, err)
	case errors.Is(err, rag.ErrIndexUnavailable), errors.Is(err, rag.ErrModelMismatch):
		return services.WrapError(services.ErrPipelineUnavailable, err)
	default:
		return services.WrapError(services.ErrQueryFailed, err)
	}
}
