// Package agent implements the reasoning loop: the bounded exchange in
// which the model may request internet searches before producing the
// final answer for a conversation.
package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nugget/relay/internal/config"
	"github.com/nugget/relay/internal/llm"
	"github.com/nugget/relay/internal/markdown"
	"github.com/nugget/relay/internal/usage"
)

// MaxAttempts bounds the model calls in one reasoning cycle.
const MaxAttempts = 3

// Fixed replies.
const (
	ReplyModelError  = "Lo siento, hubo un error al procesar tu mensaje."
	ReplyRateLimited = "Lo siento, el servicio está experimentando alta demanda. Por favor, intenta de nuevo en unos momentos."
	ReplyExhausted   = "Lo siento, no pude procesar tu solicitud después de varios intentos. Por favor, intenta reformular tu pregunta."
)

// Searcher runs a batch of queries and returns text for the model. It
// reports failures in the text rather than as an error.
type Searcher interface {
	Search(ctx context.Context, queries []string) string
}

// HistoryStore persists the turns carried between cycles.
type HistoryStore interface {
	Load(ctx context.Context, conversationID string) []llm.Message
	Append(ctx context.Context, conversationID, user, assistant string) error
}

// UsageRecorder records token usage for each successful model call.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Config holds the loop's collaborators. Usage and Logger are optional.
type Config struct {
	LLM          llm.Client
	Search       Searcher
	History      HistoryStore
	Outbox       Outbox
	Usage        UsageRecorder
	SystemPrompt string
	Logger       *slog.Logger
}

// Loop runs reasoning cycles. It holds no per-conversation state and is
// safe for concurrent use across conversations.
type Loop struct {
	llm     llm.Client
	search  Searcher
	history HistoryStore
	outbox  Outbox
	usage   UsageRecorder
	system  string
	logger  *slog.Logger
}

// NewLoop creates a Loop.
func NewLoop(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		llm:     cfg.LLM,
		search:  cfg.Search,
		history: cfg.History,
		outbox:  cfg.Outbox,
		usage:   cfg.Usage,
		system:  cfg.SystemPrompt,
		logger:  logger,
	}
}

// Result describes a completed cycle.
type Result struct {
	Reply      string // plain-text answer sent to the user
	Delivered  bool
	ModelCalls int
	Searches   int
}

// Run handles one user message: it calls the model up to MaxAttempts
// times, running the searches the model asks for in between, then
// delivers the plain-text answer and records the exchange in history.
// Provider failures become apology replies; the only error returned is
// the context's, when it ends before the cycle does.
func (l *Loop) Run(ctx context.Context, conversationID, text string) (*Result, error) {
	log := l.logger.With("conversation_id", conversationID)

	msgs := []llm.Message{{Role: llm.RoleSystem, Content: l.system}}
	msgs = append(msgs, l.history.Load(ctx, conversationID)...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: text})

	log.Info("reasoning cycle started", "history", len(msgs)-2)

	var (
		res    Result
		status StatusHandle
		answer string
		done   bool
	)

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		response := l.complete(ctx, log, conversationID, attempt, msgs)
		res.ModelCalls++

		action := ParseAction(response)
		if action.Kind == ActionAnswer {
			answer, done = action.Text, true
			break
		}

		log.Info("model requested search", "attempt", attempt, "queries", action.Queries)
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: response})
		l.notify(ctx, log, conversationID, &status, action.Queries)

		results := l.search.Search(ctx, action.Queries)
		res.Searches++
		log.Log(ctx, config.LevelTrace, "search results", "text", results)
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: results})
	}

	if !done {
		log.Warn("reasoning cycle exhausted attempts", "attempts", MaxAttempts)
		answer = ReplyExhausted
	}

	res.Reply = markdown.Strip(answer)
	if res.Reply == "" {
		res.Reply = ReplyExhausted
	}

	res.Delivered = l.deliver(ctx, log, conversationID, &status, res.Reply)
	if res.Delivered {
		if err := l.history.Append(ctx, conversationID, text, res.Reply); err != nil {
			log.Error("failed to save history", "error", err)
		}
	}

	log.Info("reasoning cycle complete",
		"model_calls", res.ModelCalls,
		"searches", res.Searches,
		"delivered", res.Delivered,
	)
	return &res, nil
}

// complete calls the model once. Failures are logged and replaced by an
// apology, which parses as a final answer and ends the cycle.
func (l *Loop) complete(ctx context.Context, log *slog.Logger, conversationID string, attempt int, msgs []llm.Message) string {
	resp, err := l.llm.Complete(ctx, msgs)
	if err != nil {
		log.Error("model call failed", "attempt", attempt, "error", err)
		if llm.IsRateLimited(err) {
			return ReplyRateLimited
		}
		return ReplyModelError
	}

	log.Debug("model response", "attempt", attempt, "content", resp.Content)

	if l.usage != nil {
		kind := usage.KindAnswer
		if ParseAction(resp.Content).Kind == ActionSearch {
			kind = usage.KindSearch
		}
		rec := usage.Record{
			ConversationID: conversationID,
			Model:          resp.Model,
			Provider:       resp.Provider,
			InputTokens:    resp.InputTokens,
			OutputTokens:   resp.OutputTokens,
			Attempt:        attempt,
			Kind:           kind,
		}
		if err := l.usage.Record(ctx, rec); err != nil {
			log.Warn("failed to record usage", "error", err)
		}
	}
	return resp.Content
}

// notify shows the user which searches are running. The first notice of
// a cycle is sent; later ones edit it.
func (l *Loop) notify(ctx context.Context, log *slog.Logger, conversationID string, status *StatusHandle, queries []string) {
	text := "✍️ Buscando: " + strings.Join(queries, ", ") + "..."

	if status.Sent() {
		if err := l.outbox.Edit(ctx, conversationID, status.Handle(), text); err != nil {
			log.Warn("failed to update search notice", "error", err)
		}
		return
	}

	h, err := l.outbox.Send(ctx, conversationID, text)
	if err != nil {
		log.Warn("failed to send search notice", "error", err)
		return
	}
	status.set(h)
}

// deliver puts the answer in place of the search notice, or sends it
// fresh when there is none. A failed attempt is retried once as a new
// message.
func (l *Loop) deliver(ctx context.Context, log *slog.Logger, conversationID string, status *StatusHandle, text string) bool {
	var err error
	if status.Sent() {
		err = l.outbox.Edit(ctx, conversationID, status.Handle(), text)
	} else {
		_, err = l.outbox.Send(ctx, conversationID, text)
	}
	if err == nil {
		return true
	}

	log.Warn("reply delivery failed, sending as new message", "error", err)
	if _, err := l.outbox.Send(ctx, conversationID, text); err != nil {
		log.Error("reply delivery failed twice", "error", err)
		return false
	}
	return true
}
