// Package connection owns the per-account protocol sessions: start/stop,
// credential persistence, and the fan-out from the event stream to message
// dispatch and background services.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/nextlevelbuilder/weclaw/internal/agent"
	"github.com/nextlevelbuilder/weclaw/internal/config"
	"github.com/nextlevelbuilder/weclaw/internal/contacts"
	"github.com/nextlevelbuilder/weclaw/internal/dispatch"
	"github.com/nextlevelbuilder/weclaw/internal/media"
	"github.com/nextlevelbuilder/weclaw/internal/moments"
	"github.com/nextlevelbuilder/weclaw/internal/outbound"
	"github.com/nextlevelbuilder/weclaw/internal/policy"
	"github.com/nextlevelbuilder/weclaw/internal/protocol"
	"github.com/nextlevelbuilder/weclaw/internal/registry"
	"github.com/nextlevelbuilder/weclaw/internal/sessions"
	"github.com/nextlevelbuilder/weclaw/internal/store"
	"github.com/nextlevelbuilder/weclaw/internal/voice"
)

// Manager starts and stops account connections, claiming the exclusive
// per-account slot in the registry. One mutex serializes Start, Stop, and
// Reload so a live config swap never races a lifecycle transition.
type Manager struct {
	mu       sync.Mutex
	cfg      *config.Config
	registry *registry.Registry
	pairing  store.PairingStore
	index    *contacts.Index
	sink     moments.ContextSink
	upstream agent.Dispatcher
	recorder *sessions.Recorder
	resolver *agent.RouteResolver
}

// NewManager wires a manager over the shared services.
func NewManager(
	cfg *config.Config,
	reg *registry.Registry,
	pairing store.PairingStore,
	index *contacts.Index,
	sink moments.ContextSink,
	upstream agent.Dispatcher,
) *Manager {
	return &Manager{
		cfg:      cfg,
		registry: reg,
		pairing:  pairing,
		index:    index,
		sink:     sink,
		upstream: upstream,
		recorder: sessions.NewRecorder(cfg.StatePath("sessions")),
		resolver: agent.NewRouteResolver(cfg.Bindings),
	}
}

// Start brings up the connection for an account. Idempotent: a second Start
// while the slot is held is a no-op. Configuration errors fail fast here,
// never at message-handling time.
func (m *Manager) Start(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx, accountID)
}

func (m *Manager) startLocked(ctx context.Context, accountID string) error {
	account, err := m.cfg.ResolveAccount(accountID)
	if err != nil {
		return fmt.Errorf("start %s: %w", accountID, err)
	}

	if _, held := m.registry.Get(accountID); held {
		slog.Debug("connection already running", "account", accountID)
		return nil
	}

	client, err := protocol.NewClient(account.Backend, protocol.ClientOptions{
		AccountID:       accountID,
		BridgeURL:       account.BridgeURL,
		CredentialsPath: m.cfg.StatePath("credentials", accountID+".json"),
	})
	if err != nil {
		return fmt.Errorf("start %s: %w", accountID, err)
	}

	conn := m.build(account, client)
	if !m.registry.Acquire(conn) {
		// Lost the race to a concurrent Start; the winner owns the session.
		return client.Disconnect()
	}

	if err := conn.start(ctx); err != nil {
		m.registry.Release(conn)
		return err
	}

	slog.Info("connection started", "account", accountID, "backend", account.Backend)
	return nil
}

// build assembles the per-account pipeline around the protocol client.
func (m *Manager) build(account config.Account, client protocol.Client) *Connection {
	pipeline := outbound.NewPipeline(
		account.ID,
		client,
		time.Duration(account.MinReplyDelay)*time.Millisecond,
		account.TextChunkLimit,
	)

	pol := policy.NewEngine(account, m.pairing, client.SendText)

	dispatcher := dispatch.NewDispatcher(
		account,
		pol,
		m.resolver,
		voice.NewTranscriber(account.Voice),
		media.NewSaver(m.cfg.StatePath("media", account.ID), account.MediaMaxMB),
		m.recorder,
		pipeline,
		m.upstream,
	)

	return &Connection{
		account:      account,
		client:       client,
		dispatcher:   dispatcher,
		index:        m.index,
		sink:         m.sink,
		momentsState: m.cfg.StatePath("moments", account.ID+".json"),
		doneCh:       make(chan struct{}),
		state:        StateCreated,
	}
}

// Stop tears down one account's connection. Unknown accounts are a no-op.
func (m *Manager) Stop(accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(accountID)
}

func (m *Manager) stopLocked(accountID string) error {
	conn, ok := m.registry.Get(accountID)
	if !ok {
		return nil
	}
	err := conn.Stop()
	if c, isConn := conn.(*Connection); isConn {
		m.registry.Release(c)
	}
	return err
}

// StopAll stops every live connection.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, conn := range m.registry.List() {
		if err := m.stopLocked(conn.AccountID()); err != nil {
			slog.Warn("stop failed", "account", conn.AccountID(), "error", err)
		}
	}
}

// StartAll starts every enabled account, continuing past individual
// failures.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.cfg.EnabledAccountIDs() {
		if err := m.startLocked(ctx, id); err != nil {
			slog.Error("start failed", "account", id, "error", err)
		}
	}
}

// Reload applies a changed configuration: every account whose resolved
// settings differ under the new file is restarted, and accounts that no
// longer resolve are stopped. All resolutions are snapshotted against the
// old config before the swap, so one account's change never masks
// another's. Structural settings (state dir, agent endpoint) still require
// a process restart and are carried over unchanged.
func (m *Manager) Reload(ctx context.Context, next *config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.cfg

	type resolution struct {
		account config.Account
		err     error
	}
	before := make(map[string]resolution)
	for id := range old.Accounts {
		a, err := old.ResolveAccount(id)
		before[id] = resolution{a, err}
	}

	next.StateDir = old.StateDir
	next.Agent = old.Agent
	m.cfg = next
	m.resolver = agent.NewRouteResolver(next.Bindings)

	for _, id := range next.EnabledAccountIDs() {
		after, err := next.ResolveAccount(id)
		if err != nil {
			continue
		}
		prev, known := before[id]
		if known && prev.err == nil && reflect.DeepEqual(prev.account, after) {
			continue
		}
		slog.Info("account config changed, restarting", "account", id)
		if err := m.stopLocked(id); err != nil {
			slog.Warn("stop during reload failed", "account", id, "error", err)
		}
		if err := m.startLocked(ctx, id); err != nil {
			slog.Error("restart after reload failed", "account", id, "error", err)
		}
	}

	// Accounts removed or disabled in the new config are stopped.
	for id, prev := range before {
		if prev.err != nil {
			continue
		}
		if _, err := next.ResolveAccount(id); err != nil {
			slog.Info("account disabled by reload, stopping", "account", id)
			if err := m.stopLocked(id); err != nil {
				slog.Warn("stop during reload failed", "account", id, "error", err)
			}
		}
	}
}
