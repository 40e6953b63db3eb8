package bridge

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/weclaw/internal/protocol"
)

func newTestClient() *Client {
	return &Client{
		opts:   protocol.ClientOptions{AccountID: "main"},
		events: make(chan protocol.Event, 8),
		ctx:    context.Background(),
	}
}

func (c *Client) nextMessage(t *testing.T) *protocol.Message {
	t.Helper()
	select {
	case ev := <-c.events:
		if ev.Kind != protocol.EventMessage || ev.Message == nil {
			t.Fatalf("expected a message event, got %+v", ev)
		}
		return ev.Message
	default:
		t.Fatal("no event emitted")
		return nil
	}
}

func groupFrame(mentions ...string) frame {
	return frame{
		Type:     "message",
		Kind:     "text",
		Chat:     "room1",
		Group:    true,
		From:     "wxid_a",
		Text:     "hi",
		Mentions: mentions,
	}
}

// TestMentions_ListBeforeLogin verifies that a raw mention list arriving
// before the login identity is known surfaces a mention error instead of a
// silent false, so the policy layer can fail closed.
func TestMentions_ListBeforeLogin(t *testing.T) {
	c := newTestClient()
	c.handleFrame(groupFrame("wxid_bot"))

	msg := c.nextMessage(t)
	if msg.MentionErr == nil {
		t.Fatal("expected a mention error before login")
	}
	if msg.MentionsMe {
		t.Error("unresolved mention list reported as mentioned")
	}
}

// TestMentions_ResolvedAgainstIdentity verifies that after login the mention
// list is matched against the bot's own peer id.
func TestMentions_ResolvedAgainstIdentity(t *testing.T) {
	c := newTestClient()
	c.handleFrame(frame{Type: "event", Event: "login", Identity: "wxid_bot"})
	<-c.events // login event

	c.handleFrame(groupFrame("wxid_other", "wxid_bot"))
	msg := c.nextMessage(t)
	if msg.MentionErr != nil {
		t.Fatalf("unexpected mention error: %v", msg.MentionErr)
	}
	if !msg.MentionsMe {
		t.Error("own identity in mention list not reported as mentioned")
	}

	c.handleFrame(groupFrame("wxid_other"))
	msg = c.nextMessage(t)
	if msg.MentionsMe || msg.MentionErr != nil {
		t.Errorf("foreign mention list misreported: mentioned=%v err=%v", msg.MentionsMe, msg.MentionErr)
	}
}

// TestMentions_PrecomputedFlagWins verifies that a bridge-supplied
// mentions_me flag needs no identity and no list.
func TestMentions_PrecomputedFlagWins(t *testing.T) {
	c := newTestClient()

	f := groupFrame()
	f.MentionsMe = true
	c.handleFrame(f)

	msg := c.nextMessage(t)
	if !msg.MentionsMe || msg.MentionErr != nil {
		t.Errorf("precomputed flag lost: mentioned=%v err=%v", msg.MentionsMe, msg.MentionErr)
	}
}

// TestMentions_ClearedOnLogout verifies that the identity is forgotten on
// logout, so later mention lists fail closed again.
func TestMentions_ClearedOnLogout(t *testing.T) {
	c := newTestClient()
	c.handleFrame(frame{Type: "event", Event: "login", Identity: "wxid_bot"})
	<-c.events
	c.handleFrame(frame{Type: "event", Event: "logout", Identity: "wxid_bot"})
	<-c.events

	c.handleFrame(groupFrame("wxid_bot"))
	if msg := c.nextMessage(t); msg.MentionErr == nil {
		t.Fatal("expected a mention error after logout")
	}
}
