package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-account session state from the state directory",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := mustLoadConfig()

			ids := cfg.AccountIDs()
			sort.Strings(ids)
			if len(ids) == 0 {
				fmt.Println("no accounts configured")
				return
			}

			for _, id := range ids {
				if _, err := cfg.ResolveAccount(id); err != nil {
					fmt.Printf("%-20s disabled\n", id)
					continue
				}

				credPath := cfg.StatePath("credentials", id+".json")
				info, err := os.Stat(credPath)
				if err != nil {
					fmt.Printf("%-20s no session (run: weclaw login %s)\n", id, id)
					continue
				}
				fmt.Printf("%-20s session credentials saved %s\n",
					id, info.ModTime().Format(time.RFC3339))
			}
		},
	}
}
