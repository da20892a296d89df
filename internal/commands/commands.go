// Package commands implements the chat commands that bypass the
// reasoning loop: clearing history and choosing a voice. A conversation
// is either idle or waiting for a voice choice; while waiting, every
// message is consumed here so it can never reach the model.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nugget/relay/internal/agent"
	"github.com/nugget/relay/internal/memory"
	"github.com/nugget/relay/internal/tts"
)

// Recognized commands, matched case-insensitively.
const (
	CmdClear  = "/clear"
	CmdModels = "/modelos"
	CmdVoices = "/voices"
	CmdCancel = "/cancelar"
)

// Fixed replies.
const (
	ReplyCleared        = "✅ Tu historial de conversación ha sido eliminado."
	ReplyCancelled      = "👍 Selección de voz cancelada."
	ReplyInvalidChoice  = "Ups, ese número no es válido. Por favor, elige un número de la lista o envía /cancelar para salir."
	ReplyTTSUnavailable = "El sistema de voz no está configurado en este servidor. No se pueden obtener modelos de voz."
	ReplyFetchingVoices = "Buscando modelos de voz disponibles, un momento..."
	ReplyVoicesFailed   = "Lo siento, no pude contactar al servicio de voces en este momento. Inténtalo de nuevo más tarde."
	ReplyNoVoices       = "No encontré modelos de voz disponibles en el sistema."
	defaultDescription  = "Voz estándar."
)

// HistoryClearer deletes a conversation's history.
type HistoryClearer interface {
	Clear(ctx context.Context, conversationID string) error
}

// PreferenceStore reads and saves preference records. Read fails when
// the store is unreachable, as opposed to the record being absent.
type PreferenceStore interface {
	Read(ctx context.Context, conversationID string) (memory.Record, error)
	Save(ctx context.Context, conversationID string, rec memory.Record) error
}

// VoiceCatalog lists selectable voices. *tts.Client satisfies it.
type VoiceCatalog interface {
	Configured() bool
	ListModels(ctx context.Context) ([]tts.Model, error)
}

// Sender delivers text replies.
type Sender interface {
	Send(ctx context.Context, conversationID, text string) (agent.MessageHandle, error)
}

// Config holds the machine's collaborators.
type Config struct {
	History     HistoryClearer
	Preferences PreferenceStore
	Voices      VoiceCatalog
	Sender      Sender
	Logger      *slog.Logger
}

// Machine handles commands for all conversations.
type Machine struct {
	history HistoryClearer
	prefs   PreferenceStore
	voices  VoiceCatalog
	sender  Sender
	logger  *slog.Logger
}

// New creates a Machine.
func New(cfg Config) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		history: cfg.History,
		prefs:   cfg.Preferences,
		voices:  cfg.Voices,
		sender:  cfg.Sender,
		logger:  logger,
	}
}

// Handle processes text if it is a command or a pending voice choice.
// It reports whether the message was consumed; unconsumed messages go
// to the reasoning loop. The returned error is a reply delivery failure.
func (m *Machine) Handle(ctx context.Context, conversationID, text string) (bool, error) {
	log := m.logger.With("conversation_id", conversationID)
	cmd := strings.ToLower(strings.TrimSpace(text))

	rec, err := m.prefs.Read(ctx, conversationID)
	readOK := err == nil
	if !readOK {
		log.Error("failed to load preferences, using defaults", "error", err)
	}
	if rec.AwaitingModelChoice() {
		return true, m.handleChoice(ctx, log, conversationID, rec, cmd)
	}

	switch cmd {
	case CmdClear:
		if err := m.history.Clear(ctx, conversationID); err != nil {
			log.Error("failed to clear history", "error", err)
		} else {
			log.Info("history cleared")
		}
		return true, m.reply(ctx, conversationID, ReplyCleared)

	case CmdModels, CmdVoices:
		if !readOK {
			// The selection could not be saved without overwriting the
			// stored record.
			return true, m.reply(ctx, conversationID, ReplyVoicesFailed)
		}
		return true, m.listVoices(ctx, log, conversationID, rec)
	}

	return false, nil
}

func (m *Machine) handleChoice(ctx context.Context, log *slog.Logger, conversationID string, rec memory.Record, cmd string) error {
	if cmd == CmdCancel {
		rec.EndModelChoice()
		m.save(ctx, log, conversationID, rec)
		return m.reply(ctx, conversationID, ReplyCancelled)
	}

	n, err := strconv.Atoi(cmd)
	if err != nil {
		return m.reply(ctx, conversationID, ReplyInvalidChoice)
	}
	choice, ok := rec.Choice(n)
	if !ok {
		return m.reply(ctx, conversationID, ReplyInvalidChoice)
	}

	rec.TTSModel = choice.ID
	rec.EndModelChoice()
	m.save(ctx, log, conversationID, rec)
	log.Info("voice model selected", "model", choice.ID)
	return m.reply(ctx, conversationID, fmt.Sprintf("✅ ¡Perfecto! He configurado tu voz a %s.", choice.Name))
}

func (m *Machine) listVoices(ctx context.Context, log *slog.Logger, conversationID string, rec memory.Record) error {
	if m.voices == nil || !m.voices.Configured() {
		return m.reply(ctx, conversationID, ReplyTTSUnavailable)
	}

	if err := m.reply(ctx, conversationID, ReplyFetchingVoices); err != nil {
		log.Warn("failed to send voice lookup notice", "error", err)
	}

	models, err := m.voices.ListModels(ctx)
	if err != nil {
		log.Error("failed to list voice models", "error", err)
		return m.reply(ctx, conversationID, ReplyVoicesFailed)
	}
	if len(models) == 0 {
		return m.reply(ctx, conversationID, ReplyNoVoices)
	}

	choices := make([]memory.ModelChoice, len(models))
	for i, v := range models {
		choices[i] = memory.ModelChoice{ID: v.ID, Name: v.Name}
	}
	rec.BeginModelChoice(choices)
	m.save(ctx, log, conversationID, rec)

	return m.reply(ctx, conversationID, FormatVoiceList(models))
}

// FormatVoiceList renders the numbered voice menu.
func FormatVoiceList(models []tts.Model) string {
	var sb strings.Builder
	sb.WriteString("Elige un modelo de voz respondiendo con el número correspondiente:\n\n")
	for i, v := range models {
		desc := v.Description
		if desc == "" {
			desc = defaultDescription
		}
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, v.Name, desc)
	}
	sb.WriteString("\nEnvía /cancelar para salir de la selección.")
	return sb.String()
}

// save persists rec. Failures are logged; the reply still goes out.
func (m *Machine) save(ctx context.Context, log *slog.Logger, conversationID string, rec memory.Record) {
	if err := m.prefs.Save(ctx, conversationID, rec); err != nil {
		log.Error("failed to save preferences", "error", err)
	}
}

func (m *Machine) reply(ctx context.Context, conversationID, text string) error {
	if _, err := m.sender.Send(ctx, conversationID, text); err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}
