package agent

import (
	"strings"

	"github.com/nugget/relay/internal/prompts"
)

// ActionKind distinguishes a final answer from a search request.
type ActionKind int

const (
	// ActionAnswer is a reply to deliver to the user.
	ActionAnswer ActionKind = iota

	// ActionSearch asks the loop to run Queries and call the model again.
	ActionSearch
)

// Action is a parsed model response.
type Action struct {
	Kind    ActionKind
	Text    string   // raw response, set for both kinds
	Queries []string // non-empty for ActionSearch
}

// ParseAction classifies a model response. A response starting with the
// search marker (any case) becomes ActionSearch with the "|"-separated,
// trimmed, non-empty queries that follow it. A marker with no usable
// query is an ActionAnswer carrying the raw text.
func ParseAction(text string) Action {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	marker := prompts.SearchMarker
	if len(trimmed) < len(marker) || !strings.EqualFold(trimmed[:len(marker)], marker) {
		return Action{Kind: ActionAnswer, Text: text}
	}

	var queries []string
	for _, q := range strings.Split(trimmed[len(marker):], prompts.QuerySeparator) {
		if q = strings.TrimSpace(q); q != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		return Action{Kind: ActionAnswer, Text: text}
	}
	return Action{Kind: ActionSearch, Text: text, Queries: queries}
}
