// Package bridge implements the protocol.Client interface over a WebSocket
// connection to an external protocol bridge. The bridge owns the actual
// chat-protocol session; this client exchanges JSON frames with it.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/weclaw/internal/protocol"
)

const (
	handshakeTimeout = 10 * time.Second
	requestTimeout   = 30 * time.Second
	maxReconnectWait = 60 * time.Second
)

func init() {
	protocol.RegisterBackend("bridge", func(opts protocol.ClientOptions) (protocol.Client, error) {
		return New(opts)
	})
}

// Client speaks JSON frames over a WebSocket to the protocol bridge.
type Client struct {
	opts protocol.ClientOptions

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	identity  string // own peer id, known after login

	events  chan protocol.Event
	pending sync.Map // request id → chan frame

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// frame is the wire envelope exchanged with the bridge.
type frame struct {
	Type        string          `json:"type"`                  // "auth", "event", "message", "send_text", "send_media", "request", "response"
	Event       string          `json:"event,omitempty"`       // event frames: "scan", "login", "logout", "credentials", "error"
	ID          string          `json:"id,omitempty"`          // request/response correlation, or message id
	Code        string          `json:"code,omitempty"`        // scan payload
	Identity    string          `json:"identity,omitempty"`    // login/logout identity
	Error       string          `json:"error,omitempty"`       // error events and failed responses
	Credentials json.RawMessage `json:"credentials,omitempty"` // opaque bridge session state
	Method      string          `json:"method,omitempty"`      // request frames
	Max         int             `json:"max,omitempty"`         // fetch_feed
	To          string          `json:"to,omitempty"`          // send targets
	Text        string          `json:"text,omitempty"`
	File        string          `json:"file,omitempty"`

	// message frames
	Kind       string   `json:"kind,omitempty"`
	Chat       string   `json:"chat,omitempty"`
	Group      bool     `json:"group,omitempty"`
	From       string   `json:"from,omitempty"`
	FromName   string   `json:"from_name,omitempty"`
	MediaURL   string   `json:"media_url,omitempty"`
	MediaType  string   `json:"media_type,omitempty"`
	Timestamp  int64    `json:"ts,omitempty"`
	Self       bool     `json:"self,omitempty"`
	MentionsMe bool     `json:"mentions_me,omitempty"`
	Mentions   []string `json:"mentions,omitempty"` // mentioned peer ids, when the bridge does not precompute mentions_me

	// response payloads
	Peers []protocol.Peer     `json:"peers,omitempty"`
	Peer  *protocol.Peer      `json:"peer,omitempty"`
	Rooms []protocol.Room     `json:"rooms,omitempty"`
	Room  *protocol.Room      `json:"room,omitempty"`
	Items []protocol.FeedItem `json:"items,omitempty"`
}

// New creates a bridge client. The connection is established by Connect.
func New(opts protocol.ClientOptions) (*Client, error) {
	if opts.BridgeURL == "" {
		return nil, fmt.Errorf("bridge: bridge_url is required")
	}
	return &Client{
		opts:   opts,
		events: make(chan protocol.Event, 64),
	}, nil
}

// Connect dials the bridge and starts the read loop. Stored credentials, if
// any, are replayed so the bridge can resume the session without a new scan.
func (c *Client) Connect(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.dial(); err != nil {
		return fmt.Errorf("bridge connect %s: %w", c.opts.BridgeURL, err)
	}

	go c.readLoop()
	return nil
}

// Disconnect closes the connection and the event stream.
// Safe to call twice and on a never-authenticated session.
func (c *Client) Disconnect() error {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
			c.conn = nil
		}
		c.connected = false
		c.mu.Unlock()
	})
	return nil
}

// Events returns the typed event stream. Closed after Disconnect.
func (c *Client) Events() <-chan protocol.Event { return c.events }

func (c *Client) dial() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	conn, _, err := dialer.Dial(c.opts.BridgeURL, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	// Resume a persisted session if credentials survive from a prior run.
	if creds := c.loadCredentials(); len(creds) > 0 {
		if err := c.writeFrame(frame{Type: "auth", Credentials: creds}); err != nil {
			slog.Warn("bridge: credential replay failed, expecting fresh scan",
				"account", c.opts.AccountID, "error", err)
		}
	}

	slog.Info("bridge connected", "account", c.opts.AccountID, "url", c.opts.BridgeURL)
	return nil
}

// readLoop reads frames with automatic reconnection until the context ends.
func (c *Client) readLoop() {
	defer close(c.events)
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.dial(); err != nil {
				slog.Warn("bridge reconnect failed", "account", c.opts.AccountID, "error", err)
				backoff = min(backoff*2, maxReconnectWait)
				continue
			}
			backoff = time.Second
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			slog.Warn("bridge read error, will reconnect", "account", c.opts.AccountID, "error", err)
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.connected = false
			c.mu.Unlock()
			continue
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("bridge: invalid frame JSON", "account", c.opts.AccountID, "error", err)
			continue
		}
		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f frame) {
	switch f.Type {
	case "message":
		mentioned, mentionErr := c.resolveMentions(f)
		c.emit(protocol.Event{Kind: protocol.EventMessage, Message: &protocol.Message{
			ID:          f.ID,
			Kind:        messageKind(f.Kind),
			ChatID:      f.Chat,
			IsGroup:     f.Group,
			SenderID:    f.From,
			SenderName:  f.FromName,
			Text:        f.Text,
			MediaRef:    f.MediaURL,
			MediaType:   f.MediaType,
			TimestampMs: f.Timestamp,
			Self:        f.Self,
			MentionsMe:  mentioned,
			MentionErr:  mentionErr,
		}})

	case "event":
		switch f.Event {
		case "scan":
			c.emit(protocol.Event{Kind: protocol.EventScan, ScanCode: f.Code})
		case "login":
			c.mu.Lock()
			c.identity = f.Identity
			c.mu.Unlock()
			c.emit(protocol.Event{Kind: protocol.EventLogin, Identity: f.Identity})
		case "logout":
			c.mu.Lock()
			c.identity = ""
			c.mu.Unlock()
			c.emit(protocol.Event{Kind: protocol.EventLogout, Identity: f.Identity})
		case "credentials":
			c.storeCredentials(f.Credentials)
		case "error":
			c.emit(protocol.Event{Kind: protocol.EventError, Err: fmt.Errorf("bridge: %s", f.Error)})
		}

	case "response":
		if ch, ok := c.pending.LoadAndDelete(f.ID); ok {
			ch.(chan frame) <- f
		}
	}
}

// resolveMentions derives the mention flag for a message. Bridges that
// precompute it send mentions_me; otherwise the raw mention list is matched
// against the bot's own identity. Before login the identity is unknown and
// the mention state is reported as an error so policy can fail closed.
func (c *Client) resolveMentions(f frame) (bool, error) {
	if f.MentionsMe || len(f.Mentions) == 0 {
		return f.MentionsMe, nil
	}

	c.mu.Lock()
	identity := c.identity
	c.mu.Unlock()

	if identity == "" {
		return false, fmt.Errorf("bridge: mention list received before login identity is known")
	}
	for _, id := range f.Mentions {
		if id == identity {
			return true, nil
		}
	}
	return false, nil
}

// emit delivers an event without blocking the read loop; the connection
// manager is expected to drain promptly, but a stalled consumer must not
// wedge reconnect handling.
func (c *Client) emit(ev protocol.Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func messageKind(kind string) protocol.MessageKind {
	switch protocol.MessageKind(kind) {
	case protocol.KindText, protocol.KindAudio, protocol.KindImage, protocol.KindVideo,
		protocol.KindContact, protocol.KindLink, protocol.KindSticker, protocol.KindRecalled:
		return protocol.MessageKind(kind)
	default:
		return protocol.KindUnknown
	}
}

func (c *Client) writeFrame(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("bridge not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendText delivers a text message to a chat.
func (c *Client) SendText(_ context.Context, chatID, text string) error {
	return c.writeFrame(frame{Type: "send_text", To: chatID, Text: text})
}

// SendMedia delivers a media file to a chat.
func (c *Client) SendMedia(_ context.Context, chatID, fileRef string) error {
	return c.writeFrame(frame{Type: "send_media", To: chatID, File: fileRef})
}

// request performs one request/response round trip with the bridge.
func (c *Client) request(ctx context.Context, f frame) (frame, error) {
	f.Type = "request"
	f.ID = uuid.NewString()

	ch := make(chan frame, 1)
	c.pending.Store(f.ID, ch)
	defer c.pending.Delete(f.ID)

	if err := c.writeFrame(f); err != nil {
		return frame{}, err
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return frame{}, fmt.Errorf("bridge %s: %s", f.Method, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case <-timer.C:
		return frame{}, fmt.Errorf("bridge %s: timed out", f.Method)
	}
}

// LookupPeer resolves a single contact by id.
func (c *Client) LookupPeer(ctx context.Context, id string) (protocol.Peer, error) {
	resp, err := c.request(ctx, frame{Method: "lookup_peer", To: id})
	if err != nil {
		return protocol.Peer{}, err
	}
	if resp.Peer == nil {
		return protocol.Peer{}, fmt.Errorf("bridge lookup_peer: not found: %s", id)
	}
	return *resp.Peer, nil
}

// LookupRoom resolves a single group by id.
func (c *Client) LookupRoom(ctx context.Context, id string) (protocol.Room, error) {
	resp, err := c.request(ctx, frame{Method: "lookup_room", To: id})
	if err != nil {
		return protocol.Room{}, err
	}
	if resp.Room == nil {
		return protocol.Room{}, fmt.Errorf("bridge lookup_room: not found: %s", id)
	}
	return *resp.Room, nil
}

// ListPeers enumerates the full contact directory.
func (c *Client) ListPeers(ctx context.Context) ([]protocol.Peer, error) {
	resp, err := c.request(ctx, frame{Method: "list_peers"})
	if err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

// ListRooms enumerates all known group chats.
func (c *Client) ListRooms(ctx context.Context) ([]protocol.Room, error) {
	resp, err := c.request(ctx, frame{Method: "list_rooms"})
	if err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// FetchFeed implements the optional protocol.FeedSource capability.
func (c *Client) FetchFeed(ctx context.Context, max int) ([]protocol.FeedItem, error) {
	resp, err := c.request(ctx, frame{Method: "fetch_feed", Max: max})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// storeCredentials persists the bridge session state so a process restart
// resumes without re-authentication.
func (c *Client) storeCredentials(raw json.RawMessage) {
	if c.opts.CredentialsPath == "" || len(raw) == 0 {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.opts.CredentialsPath), 0o700); err != nil {
		slog.Warn("bridge: create credentials dir", "account", c.opts.AccountID, "error", err)
		return
	}
	if err := os.WriteFile(c.opts.CredentialsPath, raw, 0o600); err != nil {
		slog.Warn("bridge: persist credentials", "account", c.opts.AccountID, "error", err)
		return
	}
	slog.Debug("bridge: credentials persisted", "account", c.opts.AccountID)
}

func (c *Client) loadCredentials() json.RawMessage {
	if c.opts.CredentialsPath == "" {
		return nil
	}
	data, err := os.ReadFile(c.opts.CredentialsPath)
	if err != nil {
		return nil
	}
	return data
}
