package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaClient talks to a local Ollama server.
type OllamaClient struct {
	client *api.Client
	model  string
	logger *slog.Logger
}

// NewOllamaClient creates a client for baseURL.
func NewOllamaClient(baseURL, model string, logger *slog.Logger) (*OllamaClient, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}
	return &OllamaClient{
		client: api.NewClient(u, http.DefaultClient),
		model:  model,
		logger: logger,
	}, nil
}

// Complete implements Client.
func (c *OllamaClient) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	msgs := make([]api.Message, len(messages))
	for i, m := range messages {
		msgs[i] = api.Message{Role: m.Role, Content: m.Content}
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{"temperature": Temperature},
	}

	var (
		sb    strings.Builder
		final api.ChatResponse
	)
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		if resp.Done {
			final = resp
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	content := strings.TrimSpace(sb.String())
	if content == "" {
		return nil, ErrEmptyResponse
	}

	c.logger.Debug("ollama completion",
		"model", c.model,
		"input_tokens", final.PromptEvalCount,
		"output_tokens", final.EvalCount,
		"duration", final.TotalDuration,
	)

	return &Completion{
		Content:      content,
		Model:        c.model,
		Provider:     "ollama",
		InputTokens:  final.PromptEvalCount,
		OutputTokens: final.EvalCount,
	}, nil
}
