// Package memory persists per-conversation state: the bounded message
// history fed back to the model, and the preference record that drives
// voice selection.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nugget/relay/internal/llm"
	"github.com/nugget/relay/internal/state"
)

// HistoryLimit is the maximum number of turns kept per conversation.
const HistoryLimit = 20

// HistoryNamespace is the state namespace holding histories.
const HistoryNamespace = "history"

// errCorrupt marks a stored record that could be read but not decoded.
var errCorrupt = errors.New("corrupt record")

// History stores each conversation's turns as one JSON array keyed by
// conversation id. Only user messages and final assistant answers are
// ever stored.
type History struct {
	store  state.Store
	logger *slog.Logger
}

// NewHistory returns a History backed by store.
func NewHistory(store state.Store, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	return &History{store: store, logger: logger}
}

// Load returns the stored turns for a conversation, oldest first. An
// unreadable or corrupt record is logged and treated as empty.
func (h *History) Load(ctx context.Context, conversationID string) []llm.Message {
	msgs, err := h.read(ctx, conversationID)
	if err != nil {
		h.logger.Error("failed to load history, starting empty",
			"conversation_id", conversationID,
			"error", err,
		)
		return nil
	}
	return msgs
}

// Append adds a user turn and the assistant's answer, trimming the
// oldest turns so at most HistoryLimit remain. If the stored history
// cannot be read, nothing is written and the read error is returned. A
// corrupt record is replaced.
func (h *History) Append(ctx context.Context, conversationID, user, assistant string) error {
	msgs, err := h.read(ctx, conversationID)
	switch {
	case errors.Is(err, errCorrupt):
		h.logger.Warn("replacing corrupt history",
			"conversation_id", conversationID,
			"error", err,
		)
		msgs = nil
	case err != nil:
		return fmt.Errorf("read history: %w", err)
	}

	msgs = append(msgs,
		llm.Message{Role: llm.RoleUser, Content: user},
		llm.Message{Role: llm.RoleAssistant, Content: assistant},
	)
	if len(msgs) > HistoryLimit {
		msgs = msgs[len(msgs)-HistoryLimit:]
	}

	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := h.store.Set(ctx, HistoryNamespace, conversationID, string(data)); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// Clear deletes a conversation's history. Clearing an empty history is
// not an error.
func (h *History) Clear(ctx context.Context, conversationID string) error {
	if err := h.store.Delete(ctx, HistoryNamespace, conversationID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (h *History) read(ctx context.Context, conversationID string) ([]llm.Message, error) {
	raw, err := h.store.Get(ctx, HistoryNamespace, conversationID)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var msgs []llm.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("decode history: %w: %w", errCorrupt, err)
	}
	return msgs, nil
}
