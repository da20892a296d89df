package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/nugget/relay/internal/httpkit"
)

// BraveURL is the Brave web search endpoint.
const BraveURL = "https://api.search.brave.com/res/v1/web/search"

// Brave implements the Provider interface for the Brave Search API. The
// credential is the subscription token. Brave has no direct answer, so
// Response.Answer is always empty.
type Brave struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewBrave creates a Brave Search provider.
func NewBrave(httpClient *http.Client, logger *slog.Logger) *Brave {
	if httpClient == nil {
		httpClient = httpkit.NewClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Brave{endpoint: BraveURL, httpClient: httpClient, logger: logger}
}

// Name implements Provider.
func (b *Brave) Name() string { return "brave" }

// braveResponse is the JSON response from Brave's web search API.
type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Search implements Provider.
func (b *Brave) Search(ctx context.Context, req Request) (*Response, error) {
	count := req.MaxResults
	if count == 0 {
		count = 5
	}

	params := url.Values{
		"q":     {req.Query},
		"count": {strconv.Itoa(count)},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("brave: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Subscription-Token", req.Credential)

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("brave: request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave: HTTP %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var br braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return nil, fmt.Errorf("brave: decode response: %w", err)
	}

	results := make([]Result, 0, len(br.Web.Results))
	for _, r := range br.Web.Results {
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Description,
		})
	}

	b.logger.Debug("brave search complete", "query", req.Query, "results", len(results))
	return &Response{Results: results}, nil
}
