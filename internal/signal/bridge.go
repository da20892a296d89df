package signal

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nugget/relay/internal/agent"
	"github.com/nugget/relay/internal/relay"
)

// Handler processes one inbound message. *relay.Handler satisfies it.
type Handler interface {
	Handle(ctx context.Context, msg relay.Inbound)
}

// Message deadline: the voice conversion limit plus handleMargin for the
// model calls and searches that run before it.
const (
	defaultVoiceTimeout = time.Hour
	handleMargin        = 15 * time.Minute
)

// audioFilename names voice reply attachments.
const audioFilename = "respuesta.mp3"

const (
	rateWindow      = time.Minute
	cleanupInterval = 10 * time.Minute
)

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Client    *Client
	Handler   Handler
	Logger    *slog.Logger
	RateLimit int // per sender per minute; 0 = unlimited

	// VoiceTimeout is the voice conversion limit; the per-message
	// deadline adds handleMargin to it. Zero means one hour.
	VoiceTimeout time.Duration
}

// Bridge turns signal-cli envelopes into relay messages and carries the
// relay's replies back. The conversation ID is the sender's Signal
// identifier. Messages from one sender are handled one at a time, in
// arrival order; different senders are handled concurrently.
type Bridge struct {
	client    *Client
	handler   Handler
	logger    *slog.Logger
	rateLimit int
	timeout   time.Duration

	mu          sync.Mutex
	senderTimes map[string][]time.Time
	lastCleanup time.Time
	queues      map[string]*queue
	wg          sync.WaitGroup
}

// queue holds a sender's pending messages. A worker goroutine exists
// while the queue is non-empty.
type queue struct {
	pending []*Envelope
}

// NewBridge creates a Bridge. Set the handler with SetHandler when the
// handler itself needs the Bridge as its outbox.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	voice := cfg.VoiceTimeout
	if voice <= 0 {
		voice = defaultVoiceTimeout
	}
	return &Bridge{
		client:      cfg.Client,
		timeout:     voice + handleMargin,
		handler:     cfg.Handler,
		logger:      logger,
		rateLimit:   cfg.RateLimit,
		senderTimes: make(map[string][]time.Time),
		queues:      make(map[string]*queue),
	}
}

// SetHandler sets the message handler. It must be called before Start.
func (b *Bridge) SetHandler(h Handler) {
	b.handler = h
}

// Start reads envelopes until ctx is cancelled or signal-cli exits,
// then waits for in-flight messages to finish.
func (b *Bridge) Start(ctx context.Context) {
	b.logger.Info("signal bridge started")
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("signal bridge shutting down")
			return
		case env, ok := <-b.client.Messages():
			if !ok {
				b.logger.Info("signal message stream closed, bridge stopping")
				return
			}
			b.accept(ctx, env)
		}
	}
}

func (b *Bridge) accept(ctx context.Context, env *Envelope) {
	switch {
	case env.DataMessage == nil || env.DataMessage.Message == "":
		b.logger.Debug("signal ignoring envelope without text", "sender", env.Source)
		return
	case env.Source == "":
		b.logger.Debug("signal ignoring envelope without source")
		return
	case env.DataMessage.GroupInfo != nil:
		b.logger.Debug("signal ignoring group message",
			"sender", env.Source,
			"group", env.DataMessage.GroupInfo.GroupID,
		)
		return
	}

	if !b.allowSender(env.Source) {
		b.logger.Warn("signal message rate-limited", "sender", env.Source)
		return
	}

	if err := b.client.SendReceipt(ctx, env.Source, env.sentTimestamp()); err != nil {
		b.logger.Warn("signal read receipt failed", "sender", env.Source, "error", err)
	}

	b.enqueue(ctx, env)
}

// enqueue appends env to its sender's queue, starting a worker if none
// is running.
func (b *Bridge) enqueue(ctx context.Context, env *Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, running := b.queues[env.Source]
	if !running {
		q = &queue{}
		b.queues[env.Source] = q
	}
	q.pending = append(q.pending, env)
	if running {
		return
	}

	b.wg.Add(1)
	go b.work(ctx, env.Source, q)
}

func (b *Bridge) work(ctx context.Context, sender string, q *queue) {
	defer b.wg.Done()
	for {
		b.mu.Lock()
		if len(q.pending) == 0 {
			delete(b.queues, sender)
			b.mu.Unlock()
			return
		}
		env := q.pending[0]
		q.pending = q.pending[1:]
		b.mu.Unlock()

		b.handle(ctx, env)
	}
}

func (b *Bridge) handle(ctx context.Context, env *Envelope) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	sender := env.Source
	b.logger.Info("signal message received",
		"conversation_id", sender,
		"sender_name", env.SourceName,
		"message_len", len(env.DataMessage.Message),
	)

	if err := b.client.SendTyping(ctx, sender, false); err != nil {
		b.logger.Debug("signal typing indicator failed", "error", err)
	}

	b.handler.Handle(ctx, relay.Inbound{
		ConversationID: sender,
		Text:           env.DataMessage.Message,
	})

	// The handler's context may have expired; stopping the indicator is
	// still worth a short try.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := b.client.SendTyping(stopCtx, sender, true); err != nil {
		b.logger.Debug("signal typing stop failed", "error", err)
	}
}

// Send implements agent.Outbox.
func (b *Bridge) Send(ctx context.Context, conversationID, text string) (agent.MessageHandle, error) {
	ts, err := b.client.Send(ctx, conversationID, text)
	if err != nil {
		return "", err
	}
	return agent.MessageHandle(strconv.FormatInt(ts, 10)), nil
}

// Edit implements agent.Outbox.
func (b *Bridge) Edit(ctx context.Context, conversationID string, handle agent.MessageHandle, text string) error {
	ts, err := strconv.ParseInt(string(handle), 10, 64)
	if err != nil {
		return fmt.Errorf("signal edit: invalid message handle %q", handle)
	}
	_, err = b.client.Edit(ctx, conversationID, ts, text)
	return err
}

// SendAudio implements agent.Outbox. signal-cli has no voice-note
// flag, so the audio arrives as a playable attachment.
func (b *Bridge) SendAudio(ctx context.Context, conversationID string, audio agent.Audio) error {
	_, err := b.client.SendAttachment(ctx, conversationID, audio.Data, audio.MIMEType, audioFilename)
	return err
}

// allowSender reports whether sender is under the per-minute limit and
// records the message if so.
func (b *Bridge) allowSender(sender string) bool {
	if b.rateLimit <= 0 {
		return true
	}

	now := time.Now()
	cutoff := now.Add(-rateWindow)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeCleanupLocked(now)

	recent := b.senderTimes[sender][:0]
	for _, ts := range b.senderTimes[sender] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= b.rateLimit {
		b.senderTimes[sender] = recent
		return false
	}
	b.senderTimes[sender] = append(recent, now)
	return true
}

// maybeCleanupLocked drops senders with no recent messages. b.mu must
// be held.
func (b *Bridge) maybeCleanupLocked(now time.Time) {
	if now.Sub(b.lastCleanup) < cleanupInterval {
		return
	}
	b.lastCleanup = now

	cutoff := now.Add(-2 * rateWindow)
	for sender, times := range b.senderTimes {
		if len(times) == 0 || times[len(times)-1].Before(cutoff) {
			delete(b.senderTimes, sender)
		}
	}
}
