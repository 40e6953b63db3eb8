// Package agent defines the narrow interface to the upstream agent-dispatch
// system and the binding-based route resolver that picks an agent per chat.
package agent

import (
	"context"

	"github.com/nextlevelbuilder/weclaw/internal/bus"
)

// DefaultAgentID is used when no binding matches.
const DefaultAgentID = "default"

// Envelope is the normalized inbound unit handed to the agent runtime.
type Envelope struct {
	AgentID     string
	SessionKey  string
	Message     bus.InboundMessage
	PrevMsgTsMs int64 // timestamp of the previous message in this session, 0 if none
}

// Dispatcher is the upstream agent-dispatch system. deliver may be invoked
// zero or more times (streaming replies) before Dispatch returns.
type Dispatcher interface {
	Dispatch(ctx context.Context, env Envelope, deliver bus.DeliverFunc) error
}
