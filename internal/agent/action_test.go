package agent

import (
	"slices"
	"testing"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		kind    ActionKind
		queries []string
	}{
		{"plain answer", "Hace sol en Lima.", ActionAnswer, nil},
		{"single query", "buscar: clima en Lima", ActionSearch, []string{"clima en Lima"}},
		{"two queries", "buscar: weather in Lima | weather in Quito", ActionSearch, []string{"weather in Lima", "weather in Quito"}},
		{"uppercase marker", "BUSCAR: dólar hoy", ActionSearch, []string{"dólar hoy"}},
		{"mixed case marker", "Buscar:precio BTC", ActionSearch, []string{"precio BTC"}},
		{"leading whitespace", "\n  buscar: a", ActionSearch, []string{"a"}},
		{"empties dropped", "buscar: | a ||  b | ", ActionSearch, []string{"a", "b"}},
		{"marker only", "buscar:", ActionAnswer, nil},
		{"marker and separators", "buscar:  |  | ", ActionAnswer, nil},
		{"marker later in text", "Voy a buscar: algo", ActionAnswer, nil},
		{"no colon", "buscar algo", ActionAnswer, nil},
		{"short text", "bus", ActionAnswer, nil},
		{"empty", "", ActionAnswer, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAction(tt.in)
			if got.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if !slices.Equal(got.Queries, tt.queries) {
				t.Errorf("Queries = %q, want %q", got.Queries, tt.queries)
			}
			if got.Text != tt.in {
				t.Errorf("Text = %q, want raw input %q", got.Text, tt.in)
			}
		})
	}
}
