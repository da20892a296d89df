package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nugget/relay/internal/httpkit"
)

// TavilyURL is the Tavily search endpoint.
const TavilyURL = "https://api.tavily.com/search"

// Tavily implements the Provider interface for the Tavily search API.
// The credential is sent both in the request body and as a bearer
// token; Tavily accepts either.
type Tavily struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTavily creates a Tavily provider. A nil httpClient gets the
// httpkit defaults.
func NewTavily(httpClient *http.Client, logger *slog.Logger) *Tavily {
	if httpClient == nil {
		httpClient = httpkit.NewClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tavily{endpoint: TavilyURL, httpClient: httpClient, logger: logger}
}

// Name implements Provider.
func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
	MaxResults    int    `json:"max_results"`
}

type tavilyResponse struct {
	Answer  string   `json:"answer"`
	Results []Result `json:"results"`
}

// Search implements Provider.
func (t *Tavily) Search(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(tavilyRequest{
		APIKey:        req.Credential,
		Query:         req.Query,
		SearchDepth:   req.Depth,
		IncludeAnswer: req.IncludeAnswer,
		MaxResults:    req.MaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tavily: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Credential)

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tavily: request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("tavily: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var tr tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("tavily: decode response: %w", err)
	}

	t.logger.Debug("tavily search complete",
		"query", req.Query,
		"results", len(tr.Results),
		"has_answer", tr.Answer != "",
	)

	return &Response{Answer: tr.Answer, Results: tr.Results}, nil
}
