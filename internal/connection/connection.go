package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/weclaw/internal/config"
	"github.com/nextlevelbuilder/weclaw/internal/contacts"
	"github.com/nextlevelbuilder/weclaw/internal/dispatch"
	"github.com/nextlevelbuilder/weclaw/internal/moments"
	"github.com/nextlevelbuilder/weclaw/internal/protocol"
)

// State is the lifecycle phase of one connection.
type State string

const (
	StateCreated       State = "created"
	StateConnecting    State = "connecting"
	StateAuthenticated State = "authenticated"
	StateRunning       State = "running"
	StateStopped       State = "stopped"
)

// Connection owns one protocol-client session and the per-account services
// hanging off it (dispatcher, contact refresh, moments poller).
type Connection struct {
	account      config.Account
	client       protocol.Client
	dispatcher   *dispatch.Dispatcher
	index        *contacts.Index
	sink         moments.ContextSink
	momentsState string // poller watermark file

	cancel   context.CancelFunc
	stopOnce sync.Once
	doneCh   chan struct{}

	mu         sync.Mutex
	state      State
	identity   string // bot's own peer id after login
	scanCode   string // latest auth challenge, shown by the login command
	poller     *moments.Poller
	bgCancel   context.CancelFunc // contact refresher
	noFeedOnce sync.Once
}

// AccountID implements registry.Connection.
func (c *Connection) AccountID() string { return c.account.ID }

// State implements registry.Connection.
func (c *Connection) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.state)
}

// Identity returns the bot's own peer id, empty before login.
func (c *Connection) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// ScanCode returns the latest authentication challenge, empty when none is
// pending.
func (c *Connection) ScanCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanCode
}

// start connects the client and launches the event loop.
func (c *Connection) start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.setState(StateConnecting)
	if err := c.client.Connect(ctx); err != nil {
		c.setState(StateStopped)
		c.cancel()
		// The event loop never starts, so nothing else will signal done.
		close(c.doneCh)
		return fmt.Errorf("connect %s: %w", c.account.ID, err)
	}

	go c.eventLoop(ctx)
	return nil
}

// Stop tears the connection down. Safe to call twice, and safe on a
// connection whose start failed before the event loop ran.
func (c *Connection) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.stopBackground()
		if c.cancel != nil {
			c.cancel()
		}
		err = c.client.Disconnect()
		c.dispatcher.Close()
		c.setState(StateStopped)
		<-c.doneCh
		slog.Info("connection stopped", "account", c.account.ID)
	})
	return err
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// eventLoop is the single subscriber to the client's event stream, fanning
// events out to the dispatcher and the background services.
func (c *Connection) eventLoop(ctx context.Context) {
	defer close(c.doneCh)

	events := c.client.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Connection) handleEvent(ctx context.Context, ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventScan:
		c.mu.Lock()
		c.scanCode = ev.ScanCode
		c.mu.Unlock()
		slog.Info("scan to authenticate", "account", c.account.ID, "code", ev.ScanCode)

	case protocol.EventLogin:
		c.onLogin(ctx, ev.Identity)

	case protocol.EventLogout:
		c.onLogout(ev.Identity)

	case protocol.EventMessage:
		c.dispatcher.HandleEvent(ctx, ev.Message)

	case protocol.EventError:
		slog.Warn("protocol error", "account", c.account.ID, "error", ev.Err)
	}
}

// onLogin marks the session authenticated and starts the per-login
// background services: contact rebuild + refresher, moments poller.
func (c *Connection) onLogin(ctx context.Context, identity string) {
	c.mu.Lock()
	c.identity = identity
	c.scanCode = ""
	c.state = StateRunning
	c.mu.Unlock()

	slog.Info("logged in", "account", c.account.ID, "identity", identity)

	bgCtx, bgCancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.bgCancel = bgCancel
	c.mu.Unlock()

	go func() {
		if err := c.index.Rebuild(bgCtx, c.account.ID, c.client); err != nil {
			slog.Warn("initial contact rebuild failed", "account", c.account.ID, "error", err)
		}
	}()
	go contacts.NewRefresher(c.account.ID, c.account.Contacts, c.index, c.client).Run(bgCtx)

	c.startPoller()
}

// onLogout stops the background services but keeps the connection in the
// registry; the protocol client keeps the session open for re-auth.
func (c *Connection) onLogout(identity string) {
	slog.Info("logged out", "account", c.account.ID, "identity", identity)
	c.stopBackground()
	c.index.Drop(c.account.ID)
	c.setState(StateConnecting)
}

func (c *Connection) startPoller() {
	if !c.account.PollerEnabled() {
		return
	}

	src, ok := moments.Capable(c.client)
	if !ok {
		c.noFeedOnce.Do(func() {
			slog.Info("backend has no feed capability, poller disabled",
				"account", c.account.ID, "backend", c.account.Backend)
		})
		return
	}

	p := moments.New(
		c.account.ID,
		src,
		c.sink,
		time.Duration(c.account.PollInterval())*time.Second,
		c.account.MaxPerPoll(),
		c.momentsState,
	)
	p.Start()

	c.mu.Lock()
	c.poller = p
	c.mu.Unlock()
}

// stopBackground cancels the contact refresher and stops the poller so no
// further fetch fires.
func (c *Connection) stopBackground() {
	c.mu.Lock()
	poller := c.poller
	c.poller = nil
	bgCancel := c.bgCancel
	c.bgCancel = nil
	c.mu.Unlock()

	if bgCancel != nil {
		bgCancel()
	}
	if poller != nil {
		poller.Stop()
	}
}
