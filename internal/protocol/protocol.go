// Package protocol defines the black-box interface to a chat-protocol
// client (one account per client) and the typed events it emits.
package protocol

import "context"

// EventKind enumerates connection lifecycle events.
type EventKind string

const (
	EventScan    EventKind = "scan"    // authentication challenge (QR / link code)
	EventLogin   EventKind = "login"   // session authenticated
	EventLogout  EventKind = "logout"  // session ended by the remote side
	EventMessage EventKind = "message" // inbound chat message
	EventError   EventKind = "error"   // protocol-level error, non-fatal
)

// Event is one typed event from the protocol client. Consumed once.
type Event struct {
	Kind     EventKind
	ScanCode string   // EventScan: QR payload / linking code
	Identity string   // EventLogin / EventLogout: the bot's own peer id
	Message  *Message // EventMessage
	Err      error    // EventError
}

// MessageKind enumerates inbound message payload types.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindAudio    MessageKind = "audio"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindContact  MessageKind = "contact-card"
	KindLink     MessageKind = "link"
	KindSticker  MessageKind = "sticker"
	KindRecalled MessageKind = "recalled"
	KindUnknown  MessageKind = "unknown"
)

// Message is a raw inbound message as delivered by the protocol client.
type Message struct {
	ID          string
	Kind        MessageKind
	ChatID      string
	IsGroup     bool
	SenderID    string
	SenderName  string
	Text        string // text body or media caption
	MediaRef    string // opaque reference (URL) for audio/image/video payloads
	MediaType   string // MIME type when known
	TimestampMs int64  // sender-side epoch millis
	Self        bool   // true when sent by the bot's own account
	MentionsMe  bool   // resolved mention flag (groups)
	MentionErr  error  // set when the mention state could not be resolved
}

// Peer is a directory entry for a known contact.
type Peer struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Remark      string `json:"remark,omitempty"`
}

// Room is a directory entry for a group chat.
type Room struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members,omitempty"` // peer ids
}

// Client is one protocol-client session for one account.
// Implementations deliver events on the channel returned by Events; the
// channel is closed when the session ends.
type Client interface {
	// Connect establishes the session. Non-blocking after setup; events
	// (including the Scan/Login handshake) arrive on Events.
	Connect(ctx context.Context) error

	// Disconnect closes the session. Safe to call twice, and safe to call
	// on a session that never authenticated.
	Disconnect() error

	// Events returns the typed event stream. Subscribed to exactly once.
	Events() <-chan Event

	SendText(ctx context.Context, chatID, text string) error
	SendMedia(ctx context.Context, chatID, fileRef string) error

	LookupPeer(ctx context.Context, id string) (Peer, error)
	LookupRoom(ctx context.Context, id string) (Room, error)
	ListPeers(ctx context.Context) ([]Peer, error)
	ListRooms(ctx context.Context) ([]Room, error)
}

// FeedItem is one entry from the moments-style feed.
type FeedItem struct {
	AuthorID       string   `json:"author_id"`
	AuthorName     string   `json:"author_name,omitempty"`
	CreatedAtEpoch int64    `json:"created_at"` // epoch seconds
	Body           string   `json:"body"`
	MediaCount     int      `json:"media_count,omitempty"`
	LikeCount      int      `json:"like_count,omitempty"`
	TopComments    []string `json:"top_comments,omitempty"`
}

// FeedSource is the optional moments-feed capability. Backends that cannot
// poll the feed simply do not implement it.
type FeedSource interface {
	FetchFeed(ctx context.Context, max int) ([]FeedItem, error)
}
