// Package sessions — session keys and the inbound transcript recorder.
//
// Session keys follow the canonical format:
//
//	agent:{agentId}:{channel}:{accountId}:{kind}:{chatId}
//
// Examples:
//
//	agent:default:wechat:main:direct:wxid_abc
//	agent:default:wechat:main:group:12345@chatroom
package sessions

import "fmt"

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}

// BuildSessionKey builds the canonical per-account session key for a chat.
func BuildSessionKey(agentID, channel, accountID string, kind PeerKind, chatID string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s:%s", agentID, channel, accountID, kind, chatID)
}
