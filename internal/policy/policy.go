// Package policy implements per-message admission: DM and group policies,
// allowlist normalization, mention gating, and the pairing flow.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/weclaw/internal/config"
	"github.com/nextlevelbuilder/weclaw/internal/store"
)

// Decision is the outcome of an admission check.
type Decision int

const (
	Blocked Decision = iota
	PairingPending
	Allowed
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case PairingPending:
		return "pairing_pending"
	default:
		return "blocked"
	}
}

// recognizedPrefixes are channel-name prefixes stripped during normalization.
var recognizedPrefixes = []string{config.Channel, "wc"}

// Normalize canonicalizes a sender or chat id for comparison: an optional
// case-insensitive channel prefix followed by ':' is stripped, and the
// remainder is lower-cased. Normalize is idempotent.
func Normalize(id string) string {
	lowered := strings.ToLower(strings.TrimSpace(id))
	for _, p := range recognizedPrefixes {
		if rest, ok := strings.CutPrefix(lowered, p+":"); ok {
			return rest
		}
	}
	return lowered
}

// ReplyFunc sends the pairing reply text to a chat.
type ReplyFunc func(ctx context.Context, chatID, text string) error

// Engine evaluates admission for one account.
type Engine struct {
	account   config.Account
	pairing   store.PairingStore
	sendReply ReplyFunc
}

// NewEngine creates a policy engine for the account. pairing may be nil when
// the DM policy never pairs; sendReply delivers pairing replies.
func NewEngine(account config.Account, pairing store.PairingStore, sendReply ReplyFunc) *Engine {
	return &Engine{account: account, pairing: pairing, sendReply: sendReply}
}

// IsAllowed reports allowlist membership for a normalized id. The wildcard
// "*" admits any sender.
func (e *Engine) IsAllowed(id string) bool {
	norm := Normalize(id)
	for _, entry := range e.account.AllowFrom {
		if entry == "*" {
			return true
		}
		if Normalize(entry) == norm {
			return true
		}
	}
	return false
}

// CheckDM evaluates the DM policy for a sender. Under the pairing policy an
// unresolved sender gets exactly one pairing reply per active request; the
// message itself is never forwarded while the request is unapproved.
func (e *Engine) CheckDM(ctx context.Context, senderID, chatID string) Decision {
	switch e.account.DMPolicy {
	case "disabled":
		slog.Debug("dm rejected: disabled", "account", e.account.ID, "sender", senderID)
		return Blocked

	case "open":
		return Allowed

	case "allowlist":
		if !e.IsAllowed(senderID) {
			slog.Debug("dm rejected by allowlist", "account", e.account.ID, "sender", senderID)
			return Blocked
		}
		return Allowed

	default: // "pairing"
		if e.IsAllowed(senderID) {
			return Allowed
		}
		if e.pairing != nil && e.pairing.IsPaired(Normalize(senderID), config.Channel) {
			return Allowed
		}
		e.requestPairing(ctx, senderID, chatID)
		return PairingPending
	}
}

// CheckGroup evaluates the group policy plus mention gating. mentioned and
// mentionErr come from the protocol's own mention check; an errored check
// fails closed.
func (e *Engine) CheckGroup(senderID, groupID string, mentioned bool, mentionErr error) Decision {
	switch e.account.GroupPolicy {
	case "disabled":
		slog.Debug("group message rejected: disabled", "account", e.account.ID, "group", groupID)
		return Blocked

	case "allowlist":
		if !e.IsAllowed(groupID) {
			slog.Debug("group message rejected by allowlist", "account", e.account.ID, "group", groupID)
			return Blocked
		}
	}

	if e.account.RequireMention {
		if mentionErr != nil {
			slog.Warn("mention check failed, rejecting",
				"account", e.account.ID, "group", groupID, "error", mentionErr)
			return Blocked
		}
		if !mentioned {
			slog.Debug("group message skipped: not mentioned",
				"account", e.account.ID, "group", groupID, "sender", senderID)
			return Blocked
		}
	}
	return Allowed
}

// requestPairing issues (or finds) the pairing request for the sender and
// sends the reply only when the request was newly created.
func (e *Engine) requestPairing(ctx context.Context, senderID, chatID string) {
	if e.pairing == nil {
		return
	}

	code, created, err := e.pairing.RequestPairing(Normalize(senderID), config.Channel, chatID, e.account.ID)
	if err != nil {
		slog.Warn("pairing request failed", "account", e.account.ID, "sender", senderID, "error", err)
		return
	}
	if !created {
		// An unapproved request is already outstanding; never re-send.
		return
	}

	text := fmt.Sprintf(
		"WeClaw: access not configured.\n\nYour id: %s\n\nPairing code: %s\n\nAsk the bot owner to approve with:\n  weclaw pairing approve %s",
		senderID, code, code,
	)
	if e.sendReply == nil {
		return
	}
	if err := e.sendReply(ctx, chatID, text); err != nil {
		slog.Warn("failed to send pairing reply", "account", e.account.ID, "sender", senderID, "error", err)
		return
	}
	slog.Info("pairing reply sent", "account", e.account.ID, "sender", senderID, "code", code)
}
