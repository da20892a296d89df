package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicMaxTokens caps reply length. The API requires a value.
const anthropicMaxTokens = 4096

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
	logger *slog.Logger
}

// NewAnthropicClient creates a client. An empty baseURL uses the SDK
// default.
func NewAnthropicClient(baseURL, apiKey, model string, logger *slog.Logger, opts ...option.RequestOption) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	base := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		base = append(base, option.WithBaseURL(baseURL))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(append(base, opts...)...),
		model:  anthropic.Model(model),
		logger: logger,
	}
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	msgs, system := toAnthropic(messages)
	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   anthropicMaxTokens,
		Temperature: anthropic.Float(Temperature),
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return nil, ErrEmptyResponse
	}

	c.logger.Debug("anthropic completion",
		"model", resp.Model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	return &Completion{
		Content:      content,
		Model:        string(c.model),
		Provider:     "anthropic",
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}

// toAnthropic moves leading system turns into the system prompt. System
// turns later in the conversation (search results) become user turns so
// they stay in position.
func toAnthropic(messages []Message) ([]anthropic.MessageParam, []anthropic.TextBlockParam) {
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch {
		case m.Role == RoleSystem && len(out) == 0:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case m.Role == RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out, system
}
