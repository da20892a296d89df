package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/relay/internal/agent"
	"github.com/nugget/relay/internal/commands"
	"github.com/nugget/relay/internal/config"
	"github.com/nugget/relay/internal/httpkit"
	"github.com/nugget/relay/internal/ledger"
	"github.com/nugget/relay/internal/llm"
	"github.com/nugget/relay/internal/memory"
	"github.com/nugget/relay/internal/prompts"
	"github.com/nugget/relay/internal/relay"
	"github.com/nugget/relay/internal/search"
	"github.com/nugget/relay/internal/state"
	"github.com/nugget/relay/internal/tts"
	"github.com/nugget/relay/internal/usage"
)

// Search requests are retried when the connection itself fails.
const (
	searchRetries    = 2
	searchRetryDelay = time.Second
)

// runtime is everything a message needs on its way through the relay.
type runtime struct {
	store   state.Store
	usage   *usage.Store
	handler *relay.Handler
}

func (r *runtime) Close() {
	if r.usage != nil {
		r.usage.Close()
	}
	if r.store != nil {
		r.store.Close()
	}
}

// usageDBPath is where model usage records are kept.
func usageDBPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "usage.db")
}

func stateConfig(c config.StateConfig) state.Config {
	return state.Config{
		Driver:        c.Driver,
		Path:          c.Path,
		RedisAddr:     c.Redis.Addr,
		RedisPassword: c.Redis.Password,
		RedisDB:       c.Redis.DB,
		RedisPrefix:   c.Redis.Prefix,
	}
}

// newRuntime opens storage and builds the message handler, delivering
// replies through outbox.
func newRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, outbox agent.Outbox) (*runtime, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	rt := &runtime{}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	store, err := state.Open(ctx, stateConfig(cfg.State))
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	rt.store = store
	logger.Info("state store opened", "driver", cfg.State.Driver)

	rt.usage, err = usage.NewStore(usageDBPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}

	model, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("create model client: %w", err)
	}
	logger.Info("model client configured", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)

	persona, err := prompts.LoadPersona(cfg.PersonaFile)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("persona file not found, using default identity", "path", cfg.PersonaFile)
	} else if err != nil {
		return nil, err
	}

	credentials := ledger.New(cfg.Search.APIKeys, store, logger)
	if credentials.Len() == 0 {
		logger.Warn("no search credentials configured, searches will be refused")
	}
	provider, err := search.NewProvider(cfg.Search.Provider,
		httpkit.NewClient(
			httpkit.WithRetry(searchRetries, searchRetryDelay),
			httpkit.WithLogger(logger),
		),
		logger,
	)
	if err != nil {
		return nil, err
	}
	invoker := search.NewInvoker(provider, credentials, search.InvokerConfig{
		Depth:      cfg.Search.Depth,
		MaxResults: cfg.Search.MaxResults,
	}, logger)

	voice := tts.New(tts.Config{
		BaseURL:      cfg.TTS.BaseURL,
		Token:        cfg.TTS.Token,
		DefaultModel: cfg.TTS.DefaultModel,
		Timeout:      cfg.TTS.Timeout,
	}, logger)
	if !voice.Configured() {
		logger.Info("text-to-speech not configured, replies will be text only")
	}

	history := memory.NewHistory(store, logger)
	prefs := memory.NewPreferences(store, logger)

	loop := agent.NewLoop(agent.Config{
		LLM:          model,
		Search:       invoker,
		History:      history,
		Outbox:       outbox,
		Usage:        rt.usage,
		SystemPrompt: prompts.SystemPrompt(persona),
		Logger:       logger,
	})

	machine := commands.New(commands.Config{
		History:     history,
		Preferences: prefs,
		Voices:      voice,
		Sender:      outbox,
		Logger:      logger,
	})

	rt.handler = relay.NewHandler(relay.Config{
		Commands:    machine,
		Loop:        loop,
		Voice:       voice,
		Preferences: prefs,
		Outbox:      outbox,
		Logger:      logger,
	})

	ok = true
	return rt, nil
}
