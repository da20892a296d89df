// Package relay wires one inbound message through the command machine,
// the reasoning loop, and voice delivery.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/nugget/relay/internal/agent"
	"github.com/nugget/relay/internal/memory"
)

// Fixed replies.
const (
	ReplyInternalError = "Lo siento, ocurrió un error interno muy grave. Inténtalo de nuevo."
	ReplyAudioFailed   = "No pude enviarte un mensaje de voz, pero puedes leer mi respuesta arriba."
)

// AudioMIMEType is the type of synthesized replies.
const AudioMIMEType = "audio/mpeg"

// Inbound is a message from a user.
type Inbound struct {
	ConversationID string
	Text           string
}

// Commands consumes command input. *commands.Machine satisfies it.
type Commands interface {
	Handle(ctx context.Context, conversationID, text string) (bool, error)
}

// Cycle runs a reasoning cycle. *agent.Loop satisfies it.
type Cycle interface {
	Run(ctx context.Context, conversationID, text string) (*agent.Result, error)
}

// Voice synthesizes speech. *tts.Client satisfies it.
type Voice interface {
	Configured() bool
	DefaultModel() string
	Convert(ctx context.Context, text, model string) ([]byte, error)
}

// PreferenceLoader reads a conversation's preferences.
type PreferenceLoader interface {
	Load(ctx context.Context, conversationID string) memory.Record
}

// Config holds the handler's collaborators. Voice and Preferences are
// optional; without them replies are text only.
type Config struct {
	Commands    Commands
	Loop        Cycle
	Voice       Voice
	Preferences PreferenceLoader
	Outbox      agent.Outbox
	Logger      *slog.Logger
}

// Handler processes inbound messages. Callers serialize messages within
// a conversation; distinct conversations may be handled concurrently.
type Handler struct {
	commands Commands
	loop     Cycle
	voice    Voice
	prefs    PreferenceLoader
	outbox   agent.Outbox
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		commands: cfg.Commands,
		loop:     cfg.Loop,
		voice:    cfg.Voice,
		prefs:    cfg.Preferences,
		outbox:   cfg.Outbox,
		logger:   logger,
	}
}

// Handle processes one message. Every failure is logged and, where the
// user would otherwise get nothing, answered with a fixed reply.
func (h *Handler) Handle(ctx context.Context, msg Inbound) {
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	log := h.logger.With("conversation_id", msg.ConversationID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic handling message",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			h.apologize(ctx, log, msg.ConversationID)
		}
	}()

	if err := h.handle(ctx, log, msg); err != nil {
		log.Error("failed to handle message", "error", err)
		h.apologize(ctx, log, msg.ConversationID)
	}
}

func (h *Handler) handle(ctx context.Context, log *slog.Logger, msg Inbound) error {
	consumed, err := h.commands.Handle(ctx, msg.ConversationID, msg.Text)
	if consumed {
		if err != nil {
			log.Warn("failed to reply to command", "error", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("commands: %w", err)
	}

	res, err := h.loop.Run(ctx, msg.ConversationID, msg.Text)
	if err != nil {
		return fmt.Errorf("reasoning cycle: %w", err)
	}

	log.Info("reasoning cycle complete",
		"delivered", res.Delivered,
		"model_calls", res.ModelCalls,
		"searches", res.Searches,
	)

	if res.Delivered {
		h.speak(ctx, log, msg.ConversationID, res.Reply)
	}
	return nil
}

// speak sends the reply as a voice note when text-to-speech is set up.
func (h *Handler) speak(ctx context.Context, log *slog.Logger, conversationID, reply string) {
	if h.voice == nil || !h.voice.Configured() {
		return
	}

	model := h.voice.DefaultModel()
	if h.prefs != nil {
		if rec := h.prefs.Load(ctx, conversationID); rec.TTSModel != "" {
			model = rec.TTSModel
		}
	}

	audio, err := h.voice.Convert(ctx, reply, model)
	if err != nil {
		log.Error("text-to-speech conversion failed", "model", model, "error", err)
		return
	}

	err = h.outbox.SendAudio(ctx, conversationID, agent.Audio{
		Data:      audio,
		MIMEType:  AudioMIMEType,
		VoiceNote: true,
	})
	if err != nil {
		log.Error("failed to send voice reply", "error", err)
		if _, err := h.outbox.Send(ctx, conversationID, ReplyAudioFailed); err != nil {
			log.Error("failed to send voice fallback notice", "error", err)
		}
		return
	}
	log.Debug("voice reply sent", "model", model, "bytes", len(audio))
}

func (h *Handler) apologize(ctx context.Context, log *slog.Logger, conversationID string) {
	if _, err := h.outbox.Send(ctx, conversationID, ReplyInternalError); err != nil {
		log.Error("failed to send internal error reply", "error", err)
	}
}
