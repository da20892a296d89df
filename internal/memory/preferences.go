package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nugget/relay/internal/state"
)

// PreferencesNamespace is the state namespace holding preference records.
const PreferencesNamespace = "preferences"

// StateAwaitingModelChoice marks a conversation that was shown the voice
// list and must answer with a number or /cancelar.
const StateAwaitingModelChoice = "awaiting_model_choice"

// ModelChoice is one numbered entry of a pending voice selection.
type ModelChoice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Record holds a conversation's preferences. AvailableModels is set
// exactly when State is StateAwaitingModelChoice; use BeginModelChoice
// and EndModelChoice rather than setting the fields directly.
type Record struct {
	TTSModel        string        `json:"tts_model,omitempty"`
	State           string        `json:"state,omitempty"`
	AvailableModels []ModelChoice `json:"available_models,omitempty"`
}

// AwaitingModelChoice reports whether a voice selection is pending.
func (r *Record) AwaitingModelChoice() bool {
	return r.State == StateAwaitingModelChoice && len(r.AvailableModels) > 0
}

// BeginModelChoice stores the numbered list and enters the awaiting
// state. An empty list leaves the record unchanged.
func (r *Record) BeginModelChoice(models []ModelChoice) {
	if len(models) == 0 {
		return
	}
	r.State = StateAwaitingModelChoice
	r.AvailableModels = append([]ModelChoice(nil), models...)
}

// EndModelChoice clears any pending selection.
func (r *Record) EndModelChoice() {
	r.State = ""
	r.AvailableModels = nil
}

// Choice returns the 1-indexed entry n of the pending list.
func (r *Record) Choice(n int) (ModelChoice, bool) {
	if !r.AwaitingModelChoice() || n < 1 || n > len(r.AvailableModels) {
		return ModelChoice{}, false
	}
	return r.AvailableModels[n-1], true
}

// Preferences stores one Record per conversation.
type Preferences struct {
	store  state.Store
	logger *slog.Logger
}

// NewPreferences returns a Preferences backed by store.
func NewPreferences(store state.Store, logger *slog.Logger) *Preferences {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preferences{store: store, logger: logger}
}

// Load returns the conversation's record. A missing, unreadable, or
// corrupt record yields the zero Record. A record that violates the
// awaiting-state invariant is normalized to the idle state.
func (p *Preferences) Load(ctx context.Context, conversationID string) Record {
	rec, err := p.Read(ctx, conversationID)
	if err != nil {
		p.logger.Error("failed to load preferences, using defaults",
			"conversation_id", conversationID,
			"error", err,
		)
		return Record{}
	}
	return rec
}

// Read is Load for callers that save the record back: it returns an
// error when the store cannot be read, since saving the zero Record in
// that case would erase the stored preferences. A missing or corrupt
// record yields the zero Record and no error.
func (p *Preferences) Read(ctx context.Context, conversationID string) (Record, error) {
	var rec Record
	raw, err := p.store.Get(ctx, PreferencesNamespace, conversationID)
	if err != nil {
		return Record{}, fmt.Errorf("read preferences: %w", err)
	}
	if raw == "" {
		return rec, nil
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		p.logger.Error("corrupt preferences record, using defaults",
			"conversation_id", conversationID,
			"error", err,
		)
		return Record{}, nil
	}
	if !rec.AwaitingModelChoice() {
		rec.EndModelChoice()
	}
	return rec, nil
}

// Save writes the conversation's record.
func (p *Preferences) Save(ctx context.Context, conversationID string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	if err := p.store.Set(ctx, PreferencesNamespace, conversationID, string(data)); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
