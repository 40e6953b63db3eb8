package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/weclaw/internal/agent"
	"github.com/nextlevelbuilder/weclaw/internal/config"
	"github.com/nextlevelbuilder/weclaw/internal/connection"
	"github.com/nextlevelbuilder/weclaw/internal/contacts"
	"github.com/nextlevelbuilder/weclaw/internal/moments"
	"github.com/nextlevelbuilder/weclaw/internal/registry"
	"github.com/nextlevelbuilder/weclaw/internal/store"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start all enabled account connections",
		Run: func(cmd *cobra.Command, args []string) {
			runAdapter()
		},
	}
}

func runAdapter() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	pairingStore, err := store.OpenPairingStore(cfg.StatePath("pairing.db"))
	if err != nil {
		slog.Error("failed to open pairing store", "error", err)
		os.Exit(1)
	}
	defer pairingStore.Close()

	var upstream agent.Dispatcher = agent.NoopDispatcher{}
	if cfg.Agent.URL != "" {
		upstream = agent.NewHTTPDispatcher(cfg.Agent)
	} else {
		slog.Warn("no agent endpoint configured, inbound messages will not be answered")
	}

	index := contacts.NewIndex(cfg.StatePath("contacts"))
	sink := moments.NewMemorySink()
	reg := registry.New()
	mgr := connection.NewManager(cfg, reg, pairingStore, index, sink, upstream)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startAccounts(ctx, mgr, cfg.EnabledAccountIDs())

	// Live reload: restart accounts whose resolved settings changed.
	go func() {
		if err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			mgr.Reload(ctx, next)
		}); err != nil {
			slog.Warn("config watch unavailable", "error", err)
		}
	}()

	slog.Info("weclaw running", "accounts", len(cfg.EnabledAccountIDs()), "version", Version)
	<-ctx.Done()

	slog.Info("shutting down")
	mgr.StopAll()
}

type accountStarter interface {
	Start(ctx context.Context, accountID string) error
}

// startAccounts brings every account up concurrently. Individual failures
// are logged and do not abort the others. ctx must be the long-lived
// process context: the connections keep using it for their event loops
// after startup returns.
func startAccounts(ctx context.Context, starter accountStarter, ids []string) {
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			if err := starter.Start(ctx, id); err != nil {
				slog.Error("account start failed", "account", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
