package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/weclaw/internal/contacts"
)

func contactsCmd() *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "contacts [query]",
		Short: "Search the persisted contact index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mustLoadConfig()

			if accountID == "" {
				ids := cfg.EnabledAccountIDs()
				if len(ids) != 1 {
					return fmt.Errorf("multiple accounts configured, pass --account")
				}
				accountID = ids[0]
			}

			query := ""
			if len(args) == 1 {
				query = args[0]
			}

			index := contacts.NewIndex(cfg.StatePath("contacts"))
			nodes := index.Search(query, accountID)
			if len(nodes) == 0 {
				fmt.Println("no matches")
				return nil
			}

			for _, n := range nodes {
				line := fmt.Sprintf("%-24s %s", n.PeerID, n.DisplayName)
				if n.Remark != "" {
					line += " (" + n.Remark + ")"
				}
				if len(n.SharedGroupNames) > 0 {
					line += "  groups: " + strings.Join(n.SharedGroupNames, ", ")
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&accountID, "account", "a", "", "account id (defaults to the only enabled account)")
	return cmd
}
