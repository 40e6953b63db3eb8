package config

import (
	"encoding/json"
	"fmt"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the WeClaw adapter.
type Config struct {
	StateDir string                 `json:"state_dir,omitempty"` // default ~/.weclaw
	Agent    AgentConfig            `json:"agent,omitempty"`
	Defaults AccountDefaults        `json:"defaults"`
	Accounts map[string]AccountSpec `json:"accounts,omitempty"`
	Bindings []AgentBinding         `json:"bindings,omitempty"`
}

// AgentConfig points at the upstream agent-dispatch endpoint. When URL is
// empty, inbound messages are accepted but replies are never produced.
type AgentConfig struct {
	URL            string `json:"url,omitempty"`             // dispatch endpoint, e.g. http://localhost:8800/dispatch
	APIKey         string `json:"api_key,omitempty"`         // bearer token
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"` // per-dispatch, default 120
}

// AccountDefaults are the base settings every account inherits.
type AccountDefaults struct {
	Backend        string              `json:"backend,omitempty"`          // "bridge" (default)
	BridgeURL      string              `json:"bridge_url,omitempty"`       // ws:// endpoint of the protocol bridge
	DMPolicy       string              `json:"dm_policy,omitempty"`        // "pairing" (default), "allowlist", "open", "disabled"
	AllowFrom      FlexibleStringSlice `json:"allow_from,omitempty"`
	GroupPolicy    string              `json:"group_policy,omitempty"`     // "open" (default), "allowlist", "disabled"
	RequireMention *bool               `json:"require_mention,omitempty"`  // require @bot mention in groups (default true)
	MinReplyDelayMs int                `json:"min_reply_delay_ms,omitempty"` // default 500
	TextChunkLimit int                 `json:"text_chunk_limit,omitempty"` // default 2000, <=0 disables chunking
	MediaMaxMB     float64             `json:"media_max_mb,omitempty"`     // default 20
	Voice          VoiceConfig         `json:"voice,omitempty"`
	Poller         PollerConfig        `json:"poller,omitempty"`
	Contacts       ContactsConfig      `json:"contacts,omitempty"`
}

// AccountSpec is the per-account override. Zero values inherit from defaults.
type AccountSpec struct {
	Enabled        *bool               `json:"enabled,omitempty"` // default true
	Backend        string              `json:"backend,omitempty"`
	BridgeURL      string              `json:"bridge_url,omitempty"`
	CredentialRef  string              `json:"credential_ref,omitempty"` // override credentials file path
	DMPolicy       string              `json:"dm_policy,omitempty"`
	AllowFrom      FlexibleStringSlice `json:"allow_from,omitempty"`
	GroupPolicy    string              `json:"group_policy,omitempty"`
	RequireMention *bool               `json:"require_mention,omitempty"`
	MinReplyDelayMs *int               `json:"min_reply_delay_ms,omitempty"`
	TextChunkLimit *int                `json:"text_chunk_limit,omitempty"`
	MediaMaxMB     *float64            `json:"media_max_mb,omitempty"`
	Voice          *VoiceConfig        `json:"voice,omitempty"`
	Poller         *PollerConfig       `json:"poller,omitempty"`
	Contacts       *ContactsConfig     `json:"contacts,omitempty"`
}

// VoiceConfig configures voice-message transcription.
type VoiceConfig struct {
	Transcribe     bool   `json:"transcribe,omitempty"`
	Provider       string `json:"provider,omitempty"`        // STT engine hint forwarded to the proxy
	ProxyURL       string `json:"proxy_url,omitempty"`       // STT proxy base URL
	APIKey         string `json:"api_key,omitempty"`         // bearer token for the proxy
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"` // default 30
}

// PollerConfig configures the moments-feed poller.
type PollerConfig struct {
	Enabled             *bool `json:"enabled,omitempty"`               // default true
	PollIntervalSeconds int   `json:"poll_interval_seconds,omitempty"` // default 300
	MaxPerPoll          int   `json:"max_per_poll,omitempty"`          // default 10
}

// ContactsConfig configures the contact-graph index refresh.
type ContactsConfig struct {
	RefreshIntervalHours int    `json:"refresh_interval_hours,omitempty"` // default 24
	RefreshCron          string `json:"refresh_cron,omitempty"`           // optional cron expression, overrides the interval
}

// AgentBinding maps an account/peer pattern to a specific agent.
type AgentBinding struct {
	AgentID string       `json:"agentId"`
	Match   BindingMatch `json:"match"`
}

// BindingMatch specifies what messages this binding applies to.
type BindingMatch struct {
	Channel   string       `json:"channel"`
	AccountID string       `json:"accountId,omitempty"`
	Peer      *BindingPeer `json:"peer,omitempty"`
}

// BindingPeer specifies a specific chat target.
type BindingPeer struct {
	Kind string `json:"kind"` // "direct" or "group"
	ID   string `json:"id"`
}
