package agent

import "context"

// MessageHandle identifies a sent message so it can be edited later.
// Its contents are transport-specific.
type MessageHandle string

// Audio is an outbound audio attachment.
type Audio struct {
	Data      []byte
	MIMEType  string
	VoiceNote bool
}

// Outbox carries replies back to a conversation.
type Outbox interface {
	// Send delivers a new text message and returns its handle.
	Send(ctx context.Context, conversationID, text string) (MessageHandle, error)

	// Edit replaces the text of a previously sent message.
	Edit(ctx context.Context, conversationID string, handle MessageHandle, text string) error

	// SendAudio delivers an audio attachment.
	SendAudio(ctx context.Context, conversationID string, audio Audio) error
}

// StatusHandle is the "searching" notice of one reasoning cycle. It is
// empty until the first notice is sent; after that, later notices and the
// final reply edit that message instead of sending new ones.
type StatusHandle struct {
	handle MessageHandle
	sent   bool
}

// Sent reports whether the notice message exists.
func (s *StatusHandle) Sent() bool { return s.sent }

// Handle returns the notice's message handle. It is only meaningful
// when Sent is true.
func (s *StatusHandle) Handle() MessageHandle { return s.handle }

func (s *StatusHandle) set(h MessageHandle) {
	s.handle = h
	s.sent = true
}
