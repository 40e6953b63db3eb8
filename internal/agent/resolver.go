package agent

import (
	"github.com/nextlevelbuilder/weclaw/internal/config"
)

// RouteResolver maps (channel, accountId, peer) to an agent id using the
// configured bindings. More specific bindings win: peer match beats account
// match beats channel match.
type RouteResolver struct {
	bindings []config.AgentBinding
}

// NewRouteResolver creates a resolver over the configured bindings.
func NewRouteResolver(bindings []config.AgentBinding) *RouteResolver {
	return &RouteResolver{bindings: bindings}
}

// Resolve returns the agent id for a chat. peerKind is "direct" or "group".
func (r *RouteResolver) Resolve(channel, accountID, peerKind, peerID string) string {
	best := ""
	bestScore := -1

	for _, b := range r.bindings {
		if b.Match.Channel != "" && b.Match.Channel != channel {
			continue
		}
		if b.Match.AccountID != "" && b.Match.AccountID != accountID {
			continue
		}
		score := 0
		if b.Match.AccountID != "" {
			score++
		}
		if b.Match.Peer != nil {
			if b.Match.Peer.Kind != peerKind || b.Match.Peer.ID != peerID {
				continue
			}
			score += 2
		}
		if score > bestScore {
			best = b.AgentID
			bestScore = score
		}
	}

	if best == "" {
		return DefaultAgentID
	}
	return best
}
