package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/rag-chatbot/internal/rag"
	"github.com/upb/rag-chatbot/internal/upstream"
	"github.com/upb/rag-chatbot/services"
	"github.com/upb/rag-chatbot/services/providers"
)

type mockRetriever struct {
	mock.Mock
}

func (m *mockRetriever) Search(ctx context.Context, question string) ([]rag.ScoredChunk, error) {
	args := m.Called(ctx, question)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]rag.ScoredChunk), args.Error(1)
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.ChatResponse), args.Error(1)
}

func (m *mockProvider) IsAvailable(ctx context.Context) bool { return true }

func answer(text string) *providers.ChatResponse {
	return &providers.ChatResponse{Choices: []providers.Choice{
		{Message: providers.Message{Role: providers.RoleAssistant, Content: text}},
	}}
}

func chunks(contents ...string) []rag.ScoredChunk {
	out := make([]rag.ScoredChunk, len(contents))
	for i, c := range contents {
		out[i] = rag.ScoredChunk{Chunk: rag.Chunk{ID: fmt.Sprint(i), Content: c}, Score: 1 - float64(i)/10}
	}
	return out
}

func newPipeline(t *testing.T, r Retriever, g providers.Provider, policy upstream.Policy) *Pipeline {
	t.Helper()
	assembler, err := rag.NewPromptAssembler("")
	require.NoError(t, err)
	p, err := NewPipeline(r, assembler, g, Config{Model: "llama-3.1-8b-instant", Policy: policy}, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestNewPipeline_Validation(t *testing.T) {
	assembler, err := rag.NewPromptAssembler("")
	require.NoError(t, err)

	_, err = NewPipeline(nil, assembler, &mockProvider{}, Config{Model: "m"}, nil)
	assert.Error(t, err)

	_, err = NewPipeline(&mockRetriever{}, assembler, &mockProvider{}, Config{}, nil)
	assert.Error(t, err)
}

func TestPipeline_Answer(t *testing.T) {
	retriever := &mockRetriever{}
	generator := &mockProvider{}
	p := newPipeline(t, retriever, generator, upstream.Policy{})

	retriever.On("Search", mock.Anything, "What is a digital twin?").
		Return(chunks("A digital twin is a virtual replica.", "Twins are synchronised with sensors."), nil)

	generator.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req *providers.ChatRequest) bool {
		if req.Model != "llama-3.1-8b-instant" || req.Temperature != 0 || len(req.Messages) != 1 {
			return false
		}
		msg := req.Messages[0]
		return msg.Role == providers.RoleUser &&
			strings.Contains(msg.Content, "A digital twin is a virtual replica.\n\nTwins are synchronised with sensors.") &&
			strings.Contains(msg.Content, "What is a digital twin?")
	})).Return(answer("A virtual replica of a physical system."), nil)

	got, err := p.Answer(context.Background(), "What is a digital twin?")
	require.NoError(t, err)
	assert.Equal(t, "A virtual replica of a physical system.", got)

	retriever.AssertExpectations(t)
	generator.AssertExpectations(t)
}

func TestPipeline_EmptyQuestion(t *testing.T) {
	retriever := &mockRetriever{}
	generator := &mockProvider{}
	p := newPipeline(t, retriever, generator, upstream.Policy{})

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := p.Answer(context.Background(), q)
		assert.ErrorIs(t, err, services.ErrEmptyQuery)
	}

	retriever.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
	generator.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
}

func TestPipeline_EmptyContextStillAsks(t *testing.T) {
	retriever := &mockRetriever{}
	generator := &mockProvider{}
	p := newPipeline(t, retriever, generator, upstream.Policy{})

	retriever.On("Search", mock.Anything, "Unrelated?").Return([]rag.ScoredChunk{}, nil)
	generator.On("ChatCompletion", mock.Anything, mock.Anything).
		Return(answer("I don't have enough information to answer that."), nil)

	got, err := p.Answer(context.Background(), "Unrelated?")
	require.NoError(t, err)
	assert.Contains(t, got, "enough information")
}

func TestPipeline_Errors(t *testing.T) {
	t.Run("generation timeout after retries", func(t *testing.T) {
		retriever := &mockRetriever{}
		generator := &mockProvider{}
		p := newPipeline(t, retriever, generator, upstream.Policy{
			Timeout:    20 * time.Millisecond,
			MaxRetries: 1,
			BaseDelay:  time.Millisecond,
		})

		retriever.On("Search", mock.Anything, mock.Anything).Return(chunks("ctx"), nil)
		generator.On("ChatCompletion", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(nil, context.DeadlineExceeded)

		_, err := p.Answer(context.Background(), "q")
		assert.ErrorIs(t, err, services.ErrUpstreamTimeout)
		assert.True(t, services.IsTimeoutError(err))
		generator.AssertNumberOfCalls(t, "ChatCompletion", 2)
	})

	t.Run("transient provider error is retried", func(t *testing.T) {
		retriever := &mockRetriever{}
		generator := &mockProvider{}
		p := newPipeline(t, retriever, generator, upstream.Policy{MaxRetries: 2, BaseDelay: time.Millisecond})

		retriever.On("Search", mock.Anything, mock.Anything).Return(chunks("ctx"), nil)
		generator.On("ChatCompletion", mock.Anything, mock.Anything).
			Return(nil, providers.NewProviderError("groq", "rate_limit", "slow down", 429, true, nil)).Once()
		generator.On("ChatCompletion", mock.Anything, mock.Anything).
			Return(answer("ok"), nil).Once()

		got, err := p.Answer(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
	})

	t.Run("permanent provider error", func(t *testing.T) {
		retriever := &mockRetriever{}
		generator := &mockProvider{}
		p := newPipeline(t, retriever, generator, upstream.Policy{MaxRetries: 3, BaseDelay: time.Millisecond})

		retriever.On("Search", mock.Anything, mock.Anything).Return(chunks("ctx"), nil)
		generator.On("ChatCompletion", mock.Anything, mock.Anything).
			Return(nil, providers.NewProviderError("groq", "invalid_api_key", "bad key", 401, false, nil))

		_, err := p.Answer(context.Background(), "q")
		assert.ErrorIs(t, err, services.ErrQueryFailed)
		assert.Equal(t, services.ErrorTypeInternal, services.GetErrorType(err))
		generator.AssertNumberOfCalls(t, "ChatCompletion", 1)
	})

	t.Run("no choices", func(t *testing.T) {
		retriever := &mockRetriever{}
		generator := &mockProvider{}
		p := newPipeline(t, retriever, generator, upstream.Policy{})

		retriever.On("Search", mock.Anything, mock.Anything).Return(chunks("ctx"), nil)
		generator.On("ChatCompletion", mock.Anything, mock.Anything).Return(&providers.ChatResponse{}, nil)

		_, err := p.Answer(context.Background(), "q")
		assert.ErrorIs(t, err, services.ErrQueryFailed)
		assert.ErrorIs(t, err, providers.ErrNoChoices)
	})

	t.Run("embedding timeout", func(t *testing.T) {
		retriever := &mockRetriever{}
		generator := &mockProvider{}
		p := newPipeline(t, retriever, generator, upstream.Policy{})

		retriever.On("Search", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("failed to embed query: %w", fmt.Errorf("embed: %w after 3 attempts", upstream.ErrTimeout)))

		_, err := p.Answer(context.Background(), "q")
		assert.ErrorIs(t, err, services.ErrUpstreamTimeout)
		generator.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
	})

	t.Run("answer deadline covers retries", func(t *testing.T) {
		retriever := &mockRetriever{}
		generator := &mockProvider{}
		assembler, err := rag.NewPromptAssembler("")
		require.NoError(t, err)
		p, err := NewPipeline(retriever, assembler, generator, Config{
			Model:   "llama-3.1-8b-instant",
			Policy:  upstream.Policy{Timeout: time.Second, MaxRetries: 5, BaseDelay: time.Millisecond},
			Timeout: 50 * time.Millisecond,
		}, zap.NewNop())
		require.NoError(t, err)

		retriever.On("Search", mock.Anything, mock.Anything).Return(chunks("ctx"), nil)
		generator.On("ChatCompletion", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(nil, context.DeadlineExceeded)

		start := time.Now()
		_, err = p.Answer(context.Background(), "q")
		assert.ErrorIs(t, err, services.ErrUpstreamTimeout)
		assert.Less(t, time.Since(start), 900*time.Millisecond)
		generator.AssertNumberOfCalls(t, "ChatCompletion", 1)
	})

	t.Run("index gone", func(t *testing.T) {
		retriever := &mockRetriever{}
		p := newPipeline(t, retriever, &mockProvider{}, upstream.Policy{})

		retriever.On("Search", mock.Anything, mock.Anything).Return(nil, rag.ErrIndexUnavailable)

		_, err := p.Answer(context.Background(), "q")
		assert.ErrorIs(t, err, services.ErrPipelineUnavailable)
	})

	t.Run("index rebuilt by another model", func(t *testing.T) {
		retriever := &mockRetriever{}
		generator := &mockProvider{}
		p := newPipeline(t, retriever, generator, upstream.Policy{})

		mismatch := &rag.MismatchError{Index: rag.Manifest{Model: "model-b", Dimensions: 768}, Model: "model-a", Dimensions: 384}
		retriever.On("Search", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("failed to search index: %w", mismatch))

		_, err := p.Answer(context.Background(), "q")
		assert.ErrorIs(t, err, services.ErrPipelineUnavailable)
		assert.ErrorIs(t, err, rag.ErrModelMismatch)
		generator.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
	})

	t.Run("client cancelled", func(t *testing.T) {
		retriever := &mockRetriever{}
		generator := &mockProvider{}
		p := newPipeline(t, retriever, generator, upstream.Policy{MaxRetries: 2})

		ctx, cancel := context.WithCancel(context.Background())
		retriever.On("Search", mock.Anything, mock.Anything).Return(chunks("ctx"), nil)
		generator.On("ChatCompletion", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { cancel() }).
			Return(nil, context.Canceled)

		_, err := p.Answer(ctx, "q")
		assert.True(t, errors.Is(err, context.Canceled))
		assert.False(t, services.IsInternalError(err))
		generator.AssertNumberOfCalls(t, "ChatCompletion", 1)
	})
}
