// Package signal connects the relay to Signal through a signal-cli
// subprocess running in jsonRpc mode.
package signal

// Envelope is one event pushed by signal-cli. The relay only acts on
// envelopes that carry a DataMessage.
type Envelope struct {
	Source       string `json:"source"`
	SourceNumber string `json:"sourceNumber"`
	SourceName   string `json:"sourceName"`
	Timestamp    int64  `json:"timestamp"`

	DataMessage *DataMessage `json:"dataMessage,omitempty"`
}

// DataMessage is a text or media message.
type DataMessage struct {
	Timestamp   int64        `json:"timestamp"`
	Message     string       `json:"message"`
	GroupInfo   *GroupInfo   `json:"groupInfo,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment describes received media.
type Attachment struct {
	ContentType string `json:"contentType"`
	ID          string `json:"id"`
	Size        int64  `json:"size"`
}

// GroupInfo is set on messages sent to a group.
type GroupInfo struct {
	GroupID string `json:"groupId"`
}

// sentTimestamp returns the message's own timestamp, falling back to
// the envelope's.
func (e *Envelope) sentTimestamp() int64 {
	if e.DataMessage != nil && e.DataMessage.Timestamp != 0 {
		return e.DataMessage.Timestamp
	}
	return e.Timestamp
}

type receiveNotification struct {
	Envelope Envelope `json:"envelope"`
}

type sendResult struct {
	Timestamp int64 `json:"timestamp"`
}

type startLinkResult struct {
	DeviceLinkURI string `json:"deviceLinkUri"`
}

type finishLinkResult struct {
	Number string `json:"number"`
}
