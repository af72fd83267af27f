// Package openai adapts OpenAI-compatible chat completion APIs (OpenAI, Groq)
// to the providers.Provider interface using github.com/sashabaranov/go-openai.
package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/upb/rag-chatbot/services/providers"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"

	// GroqBaseURL is the OpenAI-compatible endpoint of Groq.
	GroqBaseURL = "https://api.groq.com/openai/v1"
)

// Adapter implements the Provider interface for OpenAI-compatible APIs
type Adapter struct {
	name   string
	config providers.ProviderConfig
	client *goopenai.Client
}

// NewAdapter creates a new adapter. The provider name defaults to "openai".
func NewAdapter(config providers.ProviderConfig) *Adapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	name := config.Name
	if name == "" {
		name = "openai"
	}

	return &Adapter{
		name:   name,
		config: config,
		client: NewClient(config),
	}
}

// NewGroqAdapter creates an adapter for the Groq API.
func NewGroqAdapter(apiKey, baseURL string, timeout time.Duration) *Adapter {
	if baseURL == "" {
		baseURL = GroqBaseURL
	}
	return NewAdapter(providers.ProviderConfig{
		Name:    "groq",
		APIKey:  apiKey,
		BaseURL: baseURL,
		Timeout: timeout,
	})
}

// NewClient builds a go-openai client for any OpenAI-compatible endpoint.
func NewClient(config providers.ProviderConfig) *goopenai.Client {
	cfg := goopenai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}

	cfg.HTTPClient = &http.Client{Timeout: config.Timeout}

	return goopenai.NewClientWithConfig(cfg)
}

// Name returns the provider name
func (a *Adapter) Name() string {
	return a.name
}

// ChatCompletion performs a chat completion request
func (a *Adapter) ChatCompletion(ctx context.Context, req *providers.ChatRequest) (*providers.ChatResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, providers.NewProviderError(a.Name(), "INVALID_REQUEST", "request has no messages", 400, false, nil)
	}

	startTime := time.Now()

	resp, err := a.client.CreateChatCompletion(ctx, a.buildRequest(req))
	if err != nil {
		return nil, a.convertError(err)
	}

	return a.convertResponse(&resp, time.Since(startTime)), nil
}

// IsAvailable checks if the provider is currently available
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	_, err := a.client.ListModels(ctx)
	return err == nil
}

// buildRequest converts a provider request to the go-openai format
func (a *Adapter) buildRequest(req *providers.ChatRequest) goopenai.ChatCompletionRequest {
	out := goopenai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    make([]goopenai.ChatCompletionMessage, len(req.Messages)),
		Temperature: wireTemperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		User:        req.User,
	}

	for i, msg := range req.Messages {
		out.Messages[i] = goopenai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	return out
}

// wireTemperature maps a requested temperature onto the go-openai field,
// which omits zero values. The smallest positive float32 is sent instead so
// the API samples greedily rather than falling back to its default of 1.
func wireTemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

// convertResponse converts a go-openai response to the provider format
func (a *Adapter) convertResponse(resp *goopenai.ChatCompletionResponse, latency time.Duration) *providers.ChatResponse {
	out := &providers.ChatResponse{
		ID:       resp.ID,
		Model:    resp.Model,
		Provider: a.Name(),
		Choices:  make([]providers.Choice, len(resp.Choices)),
		Usage: providers.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Latency: latency,
		Created: time.Unix(resp.Created, 0),
	}

	for i, choice := range resp.Choices {
		out.Choices[i] = providers.Choice{
			Index: choice.Index,
			Message: providers.Message{
				Role:    choice.Message.Role,
				Content: choice.Message.Content,
			},
			FinishReason: string(choice.FinishReason),
		}
	}

	return out
}

// convertError maps go-openai errors onto ProviderError. Context errors are
// returned unchanged so callers can tell a deadline from an API failure.
func (a *Adapter) convertError(err error) error {
	return ConvertError(a.Name(), err)
}

// ConvertError maps a go-openai error for the named provider.
func ConvertError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}

	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.Type
		if code == "" {
			code = fmt.Sprint(apiErr.Code)
		}
		return providers.NewProviderError(
			provider,
			code,
			apiErr.Message,
			apiErr.HTTPStatusCode,
			providers.RetryableStatus(apiErr.HTTPStatusCode),
			err,
		)
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return providers.NewProviderError(
			provider,
			"HTTP_ERROR",
			fmt.Sprintf("request failed with status %d", reqErr.HTTPStatusCode),
			reqErr.HTTPStatusCode,
			providers.RetryableStatus(reqErr.HTTPStatusCode),
			err,
		)
	}

	// Transport failures (connection refused, reset) are worth another try.
	return providers.NewProviderError(provider, "TRANSPORT_ERROR", "HTTP request failed", 0, true, err)
}
