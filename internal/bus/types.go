// Package bus defines the message envelope types exchanged between the
// connection layer, the dispatch pipeline, and the agent runtime.
package bus

// InboundMessage is a normalized message received from a protocol backend.
type InboundMessage struct {
	Channel    string            `json:"channel"`
	AccountID  string            `json:"account_id"`
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name,omitempty"`
	ChatID     string            `json:"chat_id"`
	IsGroup    bool              `json:"is_group,omitempty"`
	Content    string            `json:"content"`
	Media      []string          `json:"media,omitempty"` // local file paths of saved media
	MessageID  string            `json:"message_id,omitempty"`
	Timestamp  int64             `json:"timestamp"` // epoch millis from the wire
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundPayload is one reply produced by the agent runtime.
// A single inbound message may yield zero or more payloads (streaming replies).
type OutboundPayload struct {
	Text      string   `json:"text,omitempty"`
	MediaURLs []string `json:"media_urls,omitempty"` // local paths or URLs, sent in order before text
}

// DeliverFunc sends one payload back to the chat that originated the
// inbound message. It may be invoked zero or more times per dispatch.
type DeliverFunc func(payload OutboundPayload)
