package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/weclaw/internal/agent"
	"github.com/nextlevelbuilder/weclaw/internal/config"
	"github.com/nextlevelbuilder/weclaw/internal/contacts"
	"github.com/nextlevelbuilder/weclaw/internal/moments"
	"github.com/nextlevelbuilder/weclaw/internal/protocol"
	"github.com/nextlevelbuilder/weclaw/internal/registry"
)

// fakeClient connects instantly and emits no events.
type fakeClient struct {
	connectErr error

	mu          sync.Mutex
	connects    int
	disconnects int
	events      chan protocol.Event
}

func newFakeClient(connectErr error) *fakeClient {
	return &fakeClient{connectErr: connectErr, events: make(chan protocol.Event)}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeClient) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeClient) disconnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects > 0
}

func (f *fakeClient) Events() <-chan protocol.Event { return f.events }

func (f *fakeClient) SendText(ctx context.Context, chatID, text string) error { return nil }

func (f *fakeClient) SendMedia(ctx context.Context, chatID, fileRef string) error { return nil }

func (f *fakeClient) LookupPeer(ctx context.Context, id string) (protocol.Peer, error) {
	return protocol.Peer{}, nil
}
func (f *fakeClient) LookupRoom(ctx context.Context, id string) (protocol.Room, error) {
	return protocol.Room{}, nil
}
func (f *fakeClient) ListPeers(ctx context.Context) ([]protocol.Peer, error) { return nil, nil }
func (f *fakeClient) ListRooms(ctx context.Context) ([]protocol.Room, error) { return nil, nil }

// fakeBackend is a protocol factory recording every client it hands out.
type fakeBackend struct {
	connectErr error

	mu      sync.Mutex
	clients map[string][]*fakeClient
}

func (b *fakeBackend) factory(opts protocol.ClientOptions) (protocol.Client, error) {
	c := newFakeClient(b.connectErr)
	b.mu.Lock()
	b.clients[opts.AccountID] = append(b.clients[opts.AccountID], c)
	b.mu.Unlock()
	return c, nil
}

func (b *fakeBackend) count(accountID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients[accountID])
}

func (b *fakeBackend) client(accountID string, i int) *fakeClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clients[accountID][i]
}

func testConfig(t *testing.T, ids ...string) *config.Config {
	t.Helper()
	accounts := make(map[string]config.AccountSpec)
	for _, id := range ids {
		accounts[id] = config.AccountSpec{}
	}
	return &config.Config{
		StateDir: t.TempDir(),
		Defaults: config.AccountDefaults{BridgeURL: "ws://bridge.local"},
		Accounts: accounts,
	}
}

func newTestManager(t *testing.T, cfg *config.Config) (*Manager, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{clients: make(map[string][]*fakeClient)}
	protocol.RegisterBackend(config.BackendBridge, backend.factory)

	mgr := NewManager(cfg, registry.New(), nil,
		contacts.NewIndex(t.TempDir()), moments.NewMemorySink(), agent.NoopDispatcher{})
	return mgr, backend
}

// TestReload_DefaultsChangeRestartsEveryAccount verifies that a defaults
// change restarts all accounts it affects, not just the first one the loop
// happens to visit.
func TestReload_DefaultsChangeRestartsEveryAccount(t *testing.T) {
	cfg := testConfig(t, "a", "b")
	mgr, backend := newTestManager(t, cfg)
	ctx := context.Background()

	mgr.StartAll(ctx)
	defer mgr.StopAll()
	if backend.count("a") != 1 || backend.count("b") != 1 {
		t.Fatalf("startup clients: a=%d b=%d, want 1 each", backend.count("a"), backend.count("b"))
	}

	next := testConfig(t, "a", "b")
	next.Defaults.TextChunkLimit = 900
	mgr.Reload(ctx, next)

	for _, id := range []string{"a", "b"} {
		if n := backend.count(id); n != 2 {
			t.Errorf("account %s has %d clients after reload, want 2 (restarted)", id, n)
		}
		if !backend.client(id, 0).disconnected() {
			t.Errorf("account %s kept its old client running", id)
		}
	}
}

// TestReload_UnchangedAccountKeepsRunning verifies that an identical config
// leaves every connection alone.
func TestReload_UnchangedAccountKeepsRunning(t *testing.T) {
	cfg := testConfig(t, "a")
	mgr, backend := newTestManager(t, cfg)
	ctx := context.Background()

	mgr.StartAll(ctx)
	defer mgr.StopAll()

	mgr.Reload(ctx, testConfig(t, "a"))

	if n := backend.count("a"); n != 1 {
		t.Errorf("unchanged account restarted: %d clients", n)
	}
}

// TestReload_RemovedAccountStopped verifies that an account absent from the
// new config is shut down and released.
func TestReload_RemovedAccountStopped(t *testing.T) {
	cfg := testConfig(t, "a", "b")
	mgr, backend := newTestManager(t, cfg)
	ctx := context.Background()

	mgr.StartAll(ctx)
	defer mgr.StopAll()

	mgr.Reload(ctx, testConfig(t, "a"))

	if _, ok := mgr.registry.Get("b"); ok {
		t.Error("removed account still holds its registry slot")
	}
	if !backend.client("b", 0).disconnected() {
		t.Error("removed account's client was not disconnected")
	}
	if n := backend.count("a"); n != 1 {
		t.Errorf("surviving account restarted: %d clients", n)
	}
}

// TestStart_ConnectFailureLeavesNoSlot verifies that a failed connect
// releases the registry slot so a retry is possible.
func TestStart_ConnectFailureLeavesNoSlot(t *testing.T) {
	cfg := testConfig(t, "a")
	mgr, backend := newTestManager(t, cfg)
	backend.connectErr = errors.New("dial refused")

	if err := mgr.Start(context.Background(), "a"); err == nil {
		t.Fatal("expected connect error")
	}
	if _, ok := mgr.registry.Get("a"); ok {
		t.Error("failed start left its registry slot held")
	}
}

// TestStop_AfterFailedStart verifies that Stop on a connection whose
// connect failed returns promptly instead of waiting for an event loop
// that never ran.
func TestStop_AfterFailedStart(t *testing.T) {
	cfg := testConfig(t, "a")
	mgr, _ := newTestManager(t, cfg)

	account, err := cfg.ResolveAccount("a")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	conn := mgr.build(account, newFakeClient(errors.New("dial refused")))
	if err := conn.start(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}

	done := make(chan struct{})
	go func() {
		conn.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked after a failed start")
	}
}
