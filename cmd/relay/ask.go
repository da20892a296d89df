package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/nugget/relay/internal/agent"
	"github.com/nugget/relay/internal/relay"
)

// askConversationID is the conversation used by `relay ask`, so history
// and voice preferences carry over between invocations.
const askConversationID = "cli"

// runAsk handles one message as if it came from a chat and prints every
// reply to stdout.
func runAsk(ctx context.Context, stdout io.Writer, configPath, text string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stdout, cfg)
	logger.Debug("config loaded", "path", cfgPath)

	out := &consoleOutbox{w: stdout}
	rt, err := newRuntime(ctx, cfg, logger, out)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.handler.Handle(ctx, relay.Inbound{ConversationID: askConversationID, Text: text})
	return nil
}

// consoleOutbox prints replies instead of sending them.
type consoleOutbox struct {
	mu   sync.Mutex
	w    io.Writer
	next int
}

func (c *consoleOutbox) Send(_ context.Context, _, text string) (agent.MessageHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	fmt.Fprintf(c.w, "[%d] %s\n", c.next, text)
	return agent.MessageHandle(strconv.Itoa(c.next)), nil
}

func (c *consoleOutbox) Edit(_ context.Context, _ string, handle agent.MessageHandle, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "[%s, edited] %s\n", handle, text)
	return nil
}

func (c *consoleOutbox) SendAudio(_ context.Context, _ string, audio agent.Audio) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "[audio] %s, %d bytes\n", audio.MIMEType, len(audio.Data))
	return nil
}
