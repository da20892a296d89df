// Package tts is a client for the text-to-speech service that voices
// the relay's replies. The service lists selectable voice models and
// converts text to MP3 audio.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/relay/internal/httpkit"
)

// MaxTextLength is the longest input, in characters, sent for
// conversion. Longer text is cut and suffixed with "...".
const MaxTextLength = 100_000

// DefaultTimeout bounds a conversion. Long replies take minutes to
// synthesize.
const DefaultTimeout = time.Hour

// ErrNotConfigured is returned by every call on a client without a base
// URL or token.
var ErrNotConfigured = errors.New("text-to-speech is not configured")

// Model is a selectable voice.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Config configures a Client.
type Config struct {
	BaseURL      string
	Token        string
	DefaultModel string
	Timeout      time.Duration
}

// Client talks to the TTS service.
type Client struct {
	baseURL      string
	token        string
	defaultModel string
	httpClient   *http.Client
	logger       *slog.Logger
}

// New creates a client. It is valid to create one without a base URL or
// token; Configured then reports false and calls fail with
// ErrNotConfigured.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		defaultModel: cfg.DefaultModel,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(cfg.Timeout),
			httpkit.WithResponseHeaderTimeout(cfg.Timeout),
			httpkit.WithBearerToken(cfg.Token),
		),
		logger: logger,
	}
}

// Configured reports whether both the base URL and token are set.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.token != ""
}

// DefaultModel returns the voice used when a conversation has none.
func (c *Client) DefaultModel() string {
	return c.defaultModel
}

type modelsResponse struct {
	Success bool    `json:"success"`
	Models  []Model `json:"models"`
}

// ListModels returns the available voices. A response with success set
// to false yields an empty list, not an error.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("tts: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: list models: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts: list models: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var mr modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("tts: decode models: %w", err)
	}
	if !mr.Success {
		return nil, nil
	}
	return mr.Models, nil
}

type convertRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// Convert synthesizes text with the given voice model and returns the
// audio bytes. An empty model uses DefaultModel.
func (c *Client) Convert(ctx context.Context, text, model string) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if model == "" {
		model = c.defaultModel
	}
	text = Truncate(text)

	body, err := json.Marshal(convertRequest{Text: text, Model: model})
	if err != nil {
		return nil, fmt.Errorf("tts: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("converting text to speech", "model", model, "chars", utf8.RuneCountInString(text))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: convert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts: convert: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("tts: convert: empty audio")
	}
	return audio, nil
}

// Truncate limits text to MaxTextLength characters, appending "..."
// when it cuts.
func Truncate(text string) string {
	if utf8.RuneCountInString(text) <= MaxTextLength {
		return text
	}
	return string([]rune(text)[:MaxTextLength]) + "..."
}
