package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/weclaw/internal/config"
)

func accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List configured accounts and their resolved settings",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := mustLoadConfig()

			ids := cfg.AccountIDs()
			sort.Strings(ids)
			if len(ids) == 0 {
				fmt.Println("no accounts configured")
				return
			}

			for _, id := range ids {
				account, err := cfg.ResolveAccount(id)
				if err != nil {
					fmt.Printf("%-20s disabled (%v)\n", id, err)
					continue
				}
				fmt.Printf("%-20s backend=%s dm=%s group=%s mention=%t chunk=%d poller=%t voice=%t\n",
					id, account.Backend, account.DMPolicy, account.GroupPolicy,
					account.RequireMention, account.TextChunkLimit,
					account.PollerEnabled(), account.Voice.Transcribe)
			}
		},
	}
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
