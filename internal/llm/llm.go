// Package llm provides the language-model clients used by the reasoning
// loop. Every provider is reduced to one blocking call that takes the
// whole conversation and returns the model's text.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"

	"github.com/nugget/relay/internal/config"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Temperature is the sampling temperature for every completion.
const Temperature = 0.6

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the model's reply plus provider accounting.
type Completion struct {
	Content      string
	Model        string
	Provider     string
	InputTokens  int
	OutputTokens int
}

// Client completes a conversation.
type Client interface {
	Complete(ctx context.Context, messages []Message) (*Completion, error)
}

// New builds the client for cfg.Provider.
func New(cfg config.LLMConfig, logger *slog.Logger) (Client, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model, logger), nil
	case "anthropic":
		return NewAnthropicClient(cfg.BaseURL, cfg.APIKey, cfg.Model, logger), nil
	case "ollama":
		return NewOllamaClient(cfg.BaseURL, cfg.Model, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// IsRateLimited reports whether err is an HTTP 429 from any provider.
func IsRateLimited(err error) bool {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode == http.StatusTooManyRequests
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return anErr.StatusCode == http.StatusTooManyRequests
	}
	var olErr api.StatusError
	if errors.As(err, &olErr) {
		return olErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
