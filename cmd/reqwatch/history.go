package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/reqwatch/internal/config"
	"github.com/janekbaraniewski/reqwatch/internal/store"
)

func newHistoryCommand() *cobra.Command {
	var dbPath string
	var days int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent daily usage from the local database",
		RunE: func(_ *cobra.Command, _ []string) error {
			path := strings.TrimSpace(dbPath)
			if path == "" {
				cfg, err := config.Load()
				if err == nil {
					path = strings.TrimSpace(cfg.Data.DBPath)
				}
			}
			if path == "" {
				defaultPath, err := store.DefaultDBPath()
				if err != nil {
					return err
				}
				path = defaultPath
			}

			// Read-only so a running daemon keeps exclusive write access.
			st, err := store.OpenStoreReadOnly(path)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()

			records, err := st.UsageDays(ctx, days)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no usage recorded yet")
				return nil
			}

			fmt.Printf("%-12s %10s %8s %10s\n", "date", "included", "billed", "amount")
			for _, r := range records {
				fmt.Printf("%-12s %10d %8d %10.2f\n",
					r.Date, r.IncludedRequests, r.BilledRequests, r.BilledAmount)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db-path", "", "sqlite database path")
	cmd.Flags().IntVar(&days, "days", 30, "number of days to show")
	return cmd
}
