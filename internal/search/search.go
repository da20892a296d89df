// Package search runs the internet searches the model asks for. A
// [Provider] executes one query with one credential; the [Invoker] fans a
// batch of queries out in parallel under a single credential drawn from
// the usage ledger and renders the results as one text block for the
// model.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// Request is a single query against a provider.
type Request struct {
	Credential    string
	Query         string
	Depth         string // basic or advanced
	IncludeAnswer bool
	MaxResults    int
}

// Result is a single source returned by a provider.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Response is a provider's answer to one query. Answer is empty when the
// provider has no direct answer.
type Response struct {
	Answer  string
	Results []Result
}

// Provider is the interface that search backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "tavily", "brave").
	Name() string

	// Search executes one query with the credential in req.
	Search(ctx context.Context, req Request) (*Response, error)
}

// NewProvider returns the provider registered under name.
func NewProvider(name string, httpClient *http.Client, logger *slog.Logger) (Provider, error) {
	switch name {
	case "", "tavily":
		return NewTavily(httpClient, logger), nil
	case "brave":
		return NewBrave(httpClient, logger), nil
	default:
		return nil, fmt.Errorf("unknown search provider %q", name)
	}
}
