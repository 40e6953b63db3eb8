// Package dispatch normalizes inbound protocol messages and drives them
// through policy, routing, transcription, and agent dispatch. One pipeline
// serves both the event-driven and direct entry points.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/weclaw/internal/agent"
	"github.com/nextlevelbuilder/weclaw/internal/bus"
	"github.com/nextlevelbuilder/weclaw/internal/config"
	"github.com/nextlevelbuilder/weclaw/internal/media"
	"github.com/nextlevelbuilder/weclaw/internal/outbound"
	"github.com/nextlevelbuilder/weclaw/internal/policy"
	"github.com/nextlevelbuilder/weclaw/internal/protocol"
	"github.com/nextlevelbuilder/weclaw/internal/sessions"
	"github.com/nextlevelbuilder/weclaw/internal/voice"
)

// staleThreshold rejects messages replayed by the protocol after reconnect.
const staleThreshold = 60 * time.Second

// Placeholder content for message kinds that carry no usable text.
const (
	contactCardPlaceholder = "[contact card]"
	linkPlaceholder        = "[link]"
	imagePlaceholder       = "[image]"
	videoPlaceholder       = "[video]"
)

// Dispatcher owns the inbound pipeline for one account.
type Dispatcher struct {
	account     config.Account
	policy      *policy.Engine
	resolver    *agent.RouteResolver
	transcriber *voice.Transcriber
	saver       *media.Saver
	recorder    *sessions.Recorder
	pipeline    *outbound.Pipeline
	upstream    agent.Dispatcher
	queue       *Queue

	now func() time.Time
}

// NewDispatcher wires the pipeline for one account.
func NewDispatcher(
	account config.Account,
	pol *policy.Engine,
	resolver *agent.RouteResolver,
	transcriber *voice.Transcriber,
	saver *media.Saver,
	recorder *sessions.Recorder,
	pipeline *outbound.Pipeline,
	upstream agent.Dispatcher,
) *Dispatcher {
	return &Dispatcher{
		account:     account,
		policy:      pol,
		resolver:    resolver,
		transcriber: transcriber,
		saver:       saver,
		recorder:    recorder,
		pipeline:    pipeline,
		upstream:    upstream,
		queue:       NewQueue(),
		now:         time.Now,
	}
}

// HandleEvent enqueues a message event for its chat's FIFO queue. Messages
// for the same chat run one at a time in arrival order; distinct chats run
// concurrently.
func (d *Dispatcher) HandleEvent(ctx context.Context, msg *protocol.Message) {
	if msg == nil {
		return
	}
	d.queue.Submit(msg.ChatID, func() {
		d.Process(ctx, msg)
	})
}

// Close drains the per-chat queues.
func (d *Dispatcher) Close() {
	d.queue.Close()
}

// Process runs the canonical pipeline for one message: self/stale filter,
// type normalization, policy, routing, dispatch, session record. Safe to
// call directly; the event path funnels here through the chat queue.
func (d *Dispatcher) Process(ctx context.Context, msg *protocol.Message) {
	if msg.Self {
		return
	}
	if age := d.now().Sub(time.UnixMilli(msg.TimestampMs)); age > staleThreshold {
		slog.Debug("dispatch: stale message dropped",
			"account", d.account.ID, "chat", msg.ChatID, "age", age)
		return
	}

	content, mediaPaths, ok := d.normalize(ctx, msg)
	if !ok {
		return
	}

	if !d.admit(ctx, msg) {
		return
	}

	kind := sessions.PeerKindFromGroup(msg.IsGroup)
	agentID := d.resolver.Resolve(config.Channel, d.account.ID, string(kind), msg.ChatID)
	key := sessions.BuildSessionKey(agentID, config.Channel, d.account.ID, kind, msg.ChatID)

	env := agent.Envelope{
		AgentID:    agentID,
		SessionKey: key,
		Message: bus.InboundMessage{
			Channel:    config.Channel,
			AccountID:  d.account.ID,
			SenderID:   msg.SenderID,
			SenderName: msg.SenderName,
			ChatID:     msg.ChatID,
			IsGroup:    msg.IsGroup,
			Content:    content,
			Media:      mediaPaths,
			MessageID:  msg.ID,
			Timestamp:  msg.TimestampMs,
		},
		PrevMsgTsMs: d.recorder.LastTimestamp(key),
	}

	deliver := func(payload bus.OutboundPayload) {
		d.pipeline.Deliver(ctx, payload, msg.ChatID)
	}

	if err := d.upstream.Dispatch(ctx, env, deliver); err != nil {
		slog.Error("dispatch: agent dispatch failed",
			"account", d.account.ID, "chat", msg.ChatID, "agent", agentID, "error", err)
	}

	entry := sessions.Entry{
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		Text:        content,
		TimestampMs: msg.TimestampMs,
	}
	if err := d.recorder.Record(key, entry); err != nil {
		slog.Warn("dispatch: session record failed",
			"account", d.account.ID, "session", key, "error", err)
	}
}

// normalize derives text content (and saved media paths) from the raw
// message. Returns ok=false for kinds that are never dispatched.
func (d *Dispatcher) normalize(ctx context.Context, msg *protocol.Message) (string, []string, bool) {
	switch msg.Kind {
	case protocol.KindText:
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return "", nil, false
		}
		return text, nil, true

	case protocol.KindAudio:
		return d.normalizeAudio(ctx, msg), nil, true

	case protocol.KindImage, protocol.KindVideo:
		return d.normalizeMedia(ctx, msg)

	case protocol.KindContact:
		return contactCardPlaceholder, nil, true

	case protocol.KindLink:
		if text := strings.TrimSpace(msg.Text); text != "" {
			return linkPlaceholder + " " + text, nil, true
		}
		return linkPlaceholder, nil, true

	default: // sticker, recalled, unknown
		slog.Debug("dispatch: unsupported message kind dropped",
			"account", d.account.ID, "kind", msg.Kind, "chat", msg.ChatID)
		return "", nil, false
	}
}

// normalizeAudio transcribes a voice message, degrading to the placeholder
// when any step fails.
func (d *Dispatcher) normalizeAudio(ctx context.Context, msg *protocol.Message) string {
	if d.transcriber == nil || !d.transcriber.Enabled() || msg.MediaRef == "" {
		return voice.Placeholder
	}

	path, err := d.saver.Save(ctx, msg.MediaRef, msg.MediaType)
	if err != nil {
		slog.Warn("dispatch: voice download failed",
			"account", d.account.ID, "chat", msg.ChatID, "error", err)
		return voice.Placeholder
	}

	transcript, err := d.transcriber.Transcribe(ctx, path)
	if err != nil {
		slog.Warn("dispatch: transcription failed",
			"account", d.account.ID, "chat", msg.ChatID, "error", err)
		return voice.Placeholder
	}
	if transcript = strings.TrimSpace(transcript); transcript == "" {
		return voice.Placeholder
	}
	return transcript
}

// normalizeMedia saves an image or video; a failed save degrades to the
// caption or a placeholder rather than dropping the message.
func (d *Dispatcher) normalizeMedia(ctx context.Context, msg *protocol.Message) (string, []string, bool) {
	placeholder := imagePlaceholder
	if msg.Kind == protocol.KindVideo {
		placeholder = videoPlaceholder
	}

	caption := strings.TrimSpace(msg.Text)
	content := placeholder
	if caption != "" {
		content = placeholder + " " + caption
	}

	if msg.MediaRef == "" || d.saver == nil {
		return content, nil, true
	}

	path, err := d.saver.Save(ctx, msg.MediaRef, msg.MediaType)
	if err != nil {
		slog.Warn("dispatch: media save failed",
			"account", d.account.ID, "chat", msg.ChatID, "error", err)
		return content, nil, true
	}
	return content, []string{path}, true
}

// admit runs the access policy for the message.
func (d *Dispatcher) admit(ctx context.Context, msg *protocol.Message) bool {
	var decision policy.Decision
	if msg.IsGroup {
		decision = d.policy.CheckGroup(msg.SenderID, msg.ChatID, msg.MentionsMe, msg.MentionErr)
	} else {
		decision = d.policy.CheckDM(ctx, msg.SenderID, msg.ChatID)
	}
	return decision == policy.Allowed
}
