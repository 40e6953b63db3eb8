package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/weclaw/internal/config"
	"github.com/nextlevelbuilder/weclaw/internal/store"
)

// fakePairingStore records pairing requests in memory.
type fakePairingStore struct {
	paired   map[string]bool
	requests int // RequestPairing calls
	created  int // requests that issued a new code
	active   map[string]string
}

func newFakePairingStore() *fakePairingStore {
	return &fakePairingStore{paired: map[string]bool{}, active: map[string]string{}}
}

func (f *fakePairingStore) RequestPairing(senderID, channel, chatID, accountID string) (string, bool, error) {
	f.requests++
	if code, ok := f.active[channel+":"+senderID]; ok {
		return code, false, nil
	}
	code := "CODE1234"
	f.active[channel+":"+senderID] = code
	f.created++
	return code, true, nil
}

func (f *fakePairingStore) ApprovePairing(code, by string) (*store.PairedSender, error) {
	return nil, errors.New("not implemented")
}
func (f *fakePairingStore) RevokePairing(senderID, channel string) error { return nil }
func (f *fakePairingStore) IsPaired(senderID, channel string) bool       { return f.paired[senderID] }
func (f *fakePairingStore) ListPending() ([]store.PairingRequest, error) { return nil, nil }
func (f *fakePairingStore) ListPaired() ([]store.PairedSender, error)    { return nil, nil }
func (f *fakePairingStore) Close() error                                 { return nil }

func testAccount(dmPolicy, groupPolicy string, allowFrom []string, requireMention bool) config.Account {
	return config.Account{
		ID:             "main",
		DMPolicy:       dmPolicy,
		GroupPolicy:    groupPolicy,
		AllowFrom:      allowFrom,
		RequireMention: requireMention,
	}
}

// TestNormalize verifies prefix stripping, case folding, and idempotence:
// every prefixed / unprefixed / case-varied form of the same id normalizes
// to the same value, and normalizing twice changes nothing.
func TestNormalize(t *testing.T) {
	forms := []string{
		"wxid_ABC", "WXID_abc", "wechat:wxid_abc", "WeChat:WXID_ABC",
		"wc:wxid_abc", "WC:wxid_ABC", " wxid_abc ",
	}
	for _, form := range forms {
		got := Normalize(form)
		if got != "wxid_abc" {
			t.Errorf("Normalize(%q) = %q, want %q", form, got, "wxid_abc")
		}
		if again := Normalize(got); again != got {
			t.Errorf("Normalize not idempotent: %q -> %q", got, again)
		}
	}
}

// TestNormalize_UnrecognizedPrefix verifies that only recognized channel
// prefixes are stripped.
func TestNormalize_UnrecognizedPrefix(t *testing.T) {
	if got := Normalize("telegram:user1"); got != "telegram:user1" {
		t.Errorf("Normalize stripped an unrecognized prefix: %q", got)
	}
}

// TestCheckDM_Wildcard verifies that allowFrom=["*"] admits any sender.
func TestCheckDM_Wildcard(t *testing.T) {
	e := NewEngine(testAccount("allowlist", "open", []string{"*"}, false), nil, nil)
	for _, sender := range []string{"anyone", "wechat:whoever", "X"} {
		if d := e.CheckDM(context.Background(), sender, "chat1"); d != Allowed {
			t.Errorf("CheckDM(%q) = %v, want Allowed", sender, d)
		}
	}
}

// TestCheckDM_AllowlistPrefixNormalization verifies that a prefixed
// allowlist entry matches the bare sender id.
func TestCheckDM_AllowlistPrefixNormalization(t *testing.T) {
	e := NewEngine(testAccount("allowlist", "open", []string{"wechat:wxid_abc"}, false), nil, nil)
	if d := e.CheckDM(context.Background(), "wxid_abc", "chat1"); d != Allowed {
		t.Errorf("CheckDM = %v, want Allowed", d)
	}
	if d := e.CheckDM(context.Background(), "wxid_other", "chat1"); d != Blocked {
		t.Errorf("CheckDM for unlisted sender = %v, want Blocked", d)
	}
}

// TestCheckDM_Disabled verifies that every DM is blocked and no pairing
// request is ever created under dm_policy=disabled.
func TestCheckDM_Disabled(t *testing.T) {
	fake := newFakePairingStore()
	e := NewEngine(testAccount("disabled", "open", nil, false), fake, nil)

	for i := 0; i < 3; i++ {
		if d := e.CheckDM(context.Background(), "sender", "chat1"); d != Blocked {
			t.Fatalf("CheckDM = %v, want Blocked", d)
		}
	}
	if fake.requests != 0 {
		t.Errorf("expected zero pairing requests, got %d", fake.requests)
	}
}

// TestCheckDM_PairingIdempotence verifies that two messages from an
// unresolved sender yield exactly one pairing request and exactly one
// outbound pairing reply.
func TestCheckDM_PairingIdempotence(t *testing.T) {
	fake := newFakePairingStore()
	replies := 0
	reply := func(ctx context.Context, chatID, text string) error {
		replies++
		return nil
	}
	e := NewEngine(testAccount("pairing", "open", nil, false), fake, reply)

	for i := 0; i < 2; i++ {
		if d := e.CheckDM(context.Background(), "wxid_new", "chat1"); d != PairingPending {
			t.Fatalf("CheckDM = %v, want PairingPending", d)
		}
	}
	if fake.created != 1 {
		t.Errorf("expected exactly one pairing request created, got %d", fake.created)
	}
	if replies != 1 {
		t.Errorf("expected exactly one pairing reply, got %d", replies)
	}
}

// TestCheckDM_PairedSenderAllowed verifies that a store-approved sender is
// admitted without a new pairing request, using the normalized id.
func TestCheckDM_PairedSenderAllowed(t *testing.T) {
	fake := newFakePairingStore()
	fake.paired["wxid_ok"] = true
	e := NewEngine(testAccount("pairing", "open", nil, false), fake, nil)

	if d := e.CheckDM(context.Background(), "WeChat:WXID_OK", "chat1"); d != Allowed {
		t.Errorf("CheckDM = %v, want Allowed", d)
	}
	if fake.requests != 0 {
		t.Errorf("expected no pairing requests for a paired sender, got %d", fake.requests)
	}
}

// TestCheckGroup_MentionGating verifies require_mention: no mention blocks,
// mention admits, and an errored mention check fails closed.
func TestCheckGroup_MentionGating(t *testing.T) {
	e := NewEngine(testAccount("open", "open", nil, true), nil, nil)

	if d := e.CheckGroup("sender", "room1", false, nil); d != Blocked {
		t.Errorf("no mention: got %v, want Blocked", d)
	}
	if d := e.CheckGroup("sender", "room1", true, nil); d != Allowed {
		t.Errorf("mentioned: got %v, want Allowed", d)
	}
	if d := e.CheckGroup("sender", "room1", true, errors.New("boom")); d != Blocked {
		t.Errorf("mention check error: got %v, want Blocked (fail closed)", d)
	}
}

// TestCheckGroup_Policies verifies disabled blocks everything and allowlist
// gates on the group id.
func TestCheckGroup_Policies(t *testing.T) {
	e := NewEngine(testAccount("open", "disabled", nil, false), nil, nil)
	if d := e.CheckGroup("sender", "room1", true, nil); d != Blocked {
		t.Errorf("disabled group policy: got %v, want Blocked", d)
	}

	e = NewEngine(testAccount("open", "allowlist", []string{"room1"}, false), nil, nil)
	if d := e.CheckGroup("sender", "room1", false, nil); d != Allowed {
		t.Errorf("allowlisted group: got %v, want Allowed", d)
	}
	if d := e.CheckGroup("sender", "room2", false, nil); d != Blocked {
		t.Errorf("unlisted group: got %v, want Blocked", d)
	}
}
