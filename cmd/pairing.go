package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/weclaw/internal/config"
	"github.com/nextlevelbuilder/weclaw/internal/policy"
	"github.com/nextlevelbuilder/weclaw/internal/store"
)

func pairingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pairing",
		Short: "Manage sender pairing requests and approvals",
	}
	cmd.AddCommand(pairingListCmd())
	cmd.AddCommand(pairingApproveCmd())
	cmd.AddCommand(pairingRevokeCmd())
	return cmd
}

func openPairingStore() (*store.SQLitePairingStore, error) {
	cfg := mustLoadConfig()
	return store.OpenPairingStore(cfg.StatePath("pairing.db"))
}

func pairingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending pairing requests and approved senders",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openPairingStore()
			if err != nil {
				return err
			}
			defer s.Close()

			pending, err := s.ListPending()
			if err != nil {
				return err
			}
			paired, err := s.ListPaired()
			if err != nil {
				return err
			}

			if len(pending) == 0 {
				fmt.Println("no pending requests")
			} else {
				fmt.Println("pending:")
				for _, r := range pending {
					fmt.Printf("  %s  %s  account=%s  expires %s\n",
						r.Code, r.SenderID, r.AccountID,
						time.Unix(r.ExpiresAt, 0).Format(time.RFC3339))
				}
			}

			if len(paired) == 0 {
				fmt.Println("no approved senders")
			} else {
				fmt.Println("approved:")
				for _, p := range paired {
					fmt.Printf("  %s  paired %s by %s\n",
						p.SenderID,
						time.Unix(p.PairedAt, 0).Format(time.RFC3339),
						p.PairedBy)
				}
			}
			return nil
		},
	}
}

func pairingApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pending pairing request by code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openPairingStore()
			if err != nil {
				return err
			}
			defer s.Close()

			paired, err := s.ApprovePairing(args[0], "cli")
			if err != nil {
				return err
			}
			fmt.Printf("approved %s on %s\n", paired.SenderID, paired.Channel)
			return nil
		},
	}
}

func pairingRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <sender-id>",
		Short: "Revoke an approved sender",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openPairingStore()
			if err != nil {
				return err
			}
			defer s.Close()

			sender := policy.Normalize(args[0])
			if err := s.RevokePairing(sender, config.Channel); err != nil {
				return err
			}
			fmt.Printf("revoked %s\n", sender)
			return nil
		},
	}
}
