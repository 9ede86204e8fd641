package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/clawgate/internal/session"
	"github.com/user/clawgate/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionResetCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all persisted sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store, err := session.OpenStore(cfg.StateDir)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer store.Close()

		entries := store.All()
		if len(entries) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		keys := make([]string, 0, len(entries))
		for k := range entries {
			keys = append(keys, string(k))
		}
		sort.Strings(keys)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tSURFACE\tMESSAGES\tUPDATED")
		for _, k := range keys {
			e := entries[types.SessionKey(k)]
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				k,
				e.Surface,
				len(e.History),
				time.UnixMilli(e.UpdatedAt).Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset <key|all>",
	Short: "Reset a session or all sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store, err := session.OpenStore(cfg.StateDir)
		if err != nil {
			return fmt.Errorf("open session store: %w", err)
		}
		defer store.Close()

		if args[0] == "all" {
			for k := range store.All() {
				store.Delete(k)
			}
			fmt.Println("All sessions reset.")
			return nil
		}

		key := types.SessionKey(args[0])
		if store.Get(key) == nil {
			return fmt.Errorf("session not found: %s", args[0])
		}
		store.Delete(key)
		fmt.Fprintf(os.Stdout, "Session %s reset.\n", args[0])
		return nil
	},
}
