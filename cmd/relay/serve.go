package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/relay/internal/buildinfo"
	sig "github.com/nugget/relay/internal/signal"
)

// runServe starts signal-cli and relays messages until SIGINT, SIGTERM,
// or signal-cli exiting. A supervisor is expected to restart the
// process after a transport failure.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stdout, cfg)
	logger.Info("starting relay", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)
	logger.Info("config loaded", "path", cfgPath)

	if cfg.Signal.Account == "" && len(cfg.Signal.Args) == 0 {
		return fmt.Errorf("signal.account is required for serve (link a device with `relay link`)")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := sig.NewClient(cfg.Signal.Command, cfg.Signal.CommandArgs(), logger)
	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 30*time.Second)
	err = client.Ping(pingCtx)
	pingCancel()
	if err != nil {
		return fmt.Errorf("signal-cli not responding: %w", err)
	}

	bridge := sig.NewBridge(sig.BridgeConfig{
		Client:    client,
		Logger:    logger,
		RateLimit: cfg.Signal.RateLimit,

		VoiceTimeout: cfg.TTS.Timeout,
	})

	rt, err := newRuntime(ctx, cfg, logger, bridge)
	if err != nil {
		return err
	}
	defer rt.Close()
	bridge.SetHandler(rt.handler)

	logger.Info("relay ready", "account", cfg.Signal.Account)
	bridge.Start(ctx)

	if ctx.Err() == nil {
		return fmt.Errorf("signal-cli exited unexpectedly")
	}
	logger.Info("relay stopped")
	return nil
}
