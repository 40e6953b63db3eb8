package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/weclaw/internal/agent"
	"github.com/nextlevelbuilder/weclaw/internal/connection"
	"github.com/nextlevelbuilder/weclaw/internal/contacts"
	"github.com/nextlevelbuilder/weclaw/internal/moments"
	"github.com/nextlevelbuilder/weclaw/internal/registry"
	"github.com/nextlevelbuilder/weclaw/internal/store"
)

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <account>",
		Short: "Authenticate an account: connects and shows the scan code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			accountID := args[0]
			cfg := mustLoadConfig()

			pairingStore, err := store.OpenPairingStore(cfg.StatePath("pairing.db"))
			if err != nil {
				return fmt.Errorf("open pairing store: %w", err)
			}
			defer pairingStore.Close()

			reg := registry.New()
			mgr := connection.NewManager(cfg, reg,
				pairingStore,
				contacts.NewIndex(cfg.StatePath("contacts")),
				moments.NewMemorySink(),
				agent.NoopDispatcher{},
			)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			defer mgr.StopAll()

			if err := mgr.Start(ctx, accountID); err != nil {
				return err
			}
			conn, ok := reg.Get(accountID)
			if !ok {
				return fmt.Errorf("connection for %s did not register", accountID)
			}

			fmt.Printf("waiting for %s to authenticate (ctrl-c to abort)...\n", accountID)

			shownCode := ""
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}

				c, isConn := conn.(*connection.Connection)
				if !isConn {
					return fmt.Errorf("unexpected connection type for %s", accountID)
				}
				if code := c.ScanCode(); code != "" && code != shownCode {
					shownCode = code
					fmt.Printf("\nscan to log in:\n%s\n\n", code)
				}
				if c.State() == string(connection.StateRunning) {
					fmt.Printf("logged in as %s; session credentials saved\n", c.Identity())
					return nil
				}
			}
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <account>",
		Short: "Discard the saved session credentials for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mustLoadConfig()
			accountID := args[0]

			credPath := cfg.StatePath("credentials", accountID+".json")
			if err := os.Remove(credPath); err != nil {
				if os.IsNotExist(err) {
					fmt.Printf("%s has no saved session\n", accountID)
					return nil
				}
				return fmt.Errorf("remove credentials: %w", err)
			}
			fmt.Printf("%s logged out; next start requires a fresh scan\n", accountID)
			return nil
		},
	}
}
