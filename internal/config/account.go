package config

import (
	"errors"
	"fmt"
)

// Channel is the channel identifier all accounts of this adapter share.
const Channel = "wechat"

// ErrNotConfigured is returned when an account id is unknown or disabled.
var ErrNotConfigured = errors.New("account not configured")

// Supported protocol backends.
const (
	BackendBridge = "bridge"
)

// Account is the fully-resolved, immutable configuration for one account.
// Produced by Config.ResolveAccount; identical input yields an identical value.
type Account struct {
	ID             string
	Enabled        bool
	Backend        string
	BridgeURL      string
	CredentialRef  string
	DMPolicy       string
	AllowFrom      []string
	GroupPolicy    string
	RequireMention bool
	MinReplyDelay  int // milliseconds
	TextChunkLimit int
	MediaMaxMB     float64
	Voice          VoiceConfig
	Poller         PollerConfig
	Contacts       ContactsConfig
}

// Resolved poller settings with defaults applied.
func (a Account) PollerEnabled() bool {
	return a.Poller.Enabled == nil || *a.Poller.Enabled
}

func (a Account) PollInterval() int {
	if a.Poller.PollIntervalSeconds > 0 {
		return a.Poller.PollIntervalSeconds
	}
	return 300
}

func (a Account) MaxPerPoll() int {
	if a.Poller.MaxPerPoll > 0 {
		return a.Poller.MaxPerPoll
	}
	return 10
}

// ResolveAccount merges defaults and the per-account override into one
// Account value. Precedence: override > base > built-in default.
// Unknown or disabled accounts return ErrNotConfigured.
func (c *Config) ResolveAccount(accountID string) (Account, error) {
	spec, ok := c.Accounts[accountID]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrNotConfigured, accountID)
	}
	if spec.Enabled != nil && !*spec.Enabled {
		return Account{}, fmt.Errorf("%w: %s (disabled)", ErrNotConfigured, accountID)
	}

	d := c.Defaults
	a := Account{
		ID:             accountID,
		Enabled:        true,
		Backend:        firstNonEmpty(spec.Backend, d.Backend, BackendBridge),
		BridgeURL:      firstNonEmpty(spec.BridgeURL, d.BridgeURL),
		CredentialRef:  spec.CredentialRef,
		DMPolicy:       firstNonEmpty(spec.DMPolicy, d.DMPolicy, "pairing"),
		GroupPolicy:    firstNonEmpty(spec.GroupPolicy, d.GroupPolicy, "open"),
		RequireMention: true,
		MinReplyDelay:  500,
		TextChunkLimit: 2000,
		MediaMaxMB:     20,
		Voice:          d.Voice,
		Poller:         d.Poller,
		Contacts:       d.Contacts,
	}

	a.AllowFrom = append([]string(nil), d.AllowFrom...)
	if len(spec.AllowFrom) > 0 {
		a.AllowFrom = append([]string(nil), spec.AllowFrom...)
	}

	if d.RequireMention != nil {
		a.RequireMention = *d.RequireMention
	}
	if spec.RequireMention != nil {
		a.RequireMention = *spec.RequireMention
	}

	if d.MinReplyDelayMs > 0 {
		a.MinReplyDelay = d.MinReplyDelayMs
	}
	if spec.MinReplyDelayMs != nil {
		a.MinReplyDelay = *spec.MinReplyDelayMs
	}

	if d.TextChunkLimit != 0 {
		a.TextChunkLimit = d.TextChunkLimit
	}
	if spec.TextChunkLimit != nil {
		a.TextChunkLimit = *spec.TextChunkLimit
	}

	if d.MediaMaxMB > 0 {
		a.MediaMaxMB = d.MediaMaxMB
	}
	if spec.MediaMaxMB != nil {
		a.MediaMaxMB = *spec.MediaMaxMB
	}

	if spec.Voice != nil {
		a.Voice = *spec.Voice
	}
	if spec.Poller != nil {
		a.Poller = *spec.Poller
	}
	if spec.Contacts != nil {
		a.Contacts = *spec.Contacts
	}

	if err := validateAccount(a); err != nil {
		return Account{}, err
	}
	return a, nil
}

// AccountIDs returns the ids of all configured accounts, enabled or not.
func (c *Config) AccountIDs() []string {
	ids := make([]string, 0, len(c.Accounts))
	for id := range c.Accounts {
		ids = append(ids, id)
	}
	return ids
}

// EnabledAccountIDs returns the ids of all accounts that resolve successfully.
func (c *Config) EnabledAccountIDs() []string {
	var ids []string
	for id := range c.Accounts {
		if _, err := c.ResolveAccount(id); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// validateAccount fails fast on configuration that would only surface as
// errors at message-handling time.
func validateAccount(a Account) error {
	switch a.Backend {
	case BackendBridge:
		if a.BridgeURL == "" {
			return fmt.Errorf("account %s: bridge backend requires bridge_url", a.ID)
		}
	default:
		return fmt.Errorf("account %s: unknown backend %q", a.ID, a.Backend)
	}

	switch a.DMPolicy {
	case "pairing", "allowlist", "open", "disabled":
	default:
		return fmt.Errorf("account %s: invalid dm_policy %q", a.ID, a.DMPolicy)
	}
	switch a.GroupPolicy {
	case "allowlist", "open", "disabled":
	default:
		return fmt.Errorf("account %s: invalid group_policy %q", a.ID, a.GroupPolicy)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
