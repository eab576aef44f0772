package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"chathub/internal/db"
	"chathub/internal/store"

	"github.com/spf13/cobra"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List rooms stored in the durable log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		gdb, err := db.Connect(cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		if err := db.Migrate(gdb); err != nil {
			return fmt.Errorf("db migrate: %w", err)
		}
		rooms, err := store.NewGormLog(gdb).ListRooms(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPRIVATE\tCREATED")
		for _, r := range rooms {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", r.ID, r.Name, r.IsPrivate, r.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}
