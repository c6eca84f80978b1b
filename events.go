package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const defaultEventLimit = 20

func newEventsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the event log of --user",
		Long: `Show connect, disconnect, and export events for --user, newest first.
Use --limit 0 to show the whole log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			userID, err := requireUser(cc)
			if err != nil {
				return err
			}

			sess, err := openLocalSession(ctx, cc)
			if err != nil {
				return err
			}
			defer sess.Close()

			events, err := sess.Store.Events(ctx, userID, limit)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				type eventJSON struct {
					ID          string    `json:"id"`
					Timestamp   time.Time `json:"timestamp"`
					Description string    `json:"description"`
				}

				out := make([]eventJSON, 0, len(events))
				for _, e := range events {
					out = append(out, eventJSON{ID: e.ID, Timestamp: e.Timestamp, Description: e.Description})
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")

				if err := enc.Encode(out); err != nil {
					return fmt.Errorf("encoding events: %w", err)
				}

				return nil
			}

			rows := make([][]string, 0, len(events))
			for _, e := range events {
				rows = append(rows, []string{formatTime(e.Timestamp.Local()), e.Description})
			}

			printTable(cmd.OutOrStdout(), []string{"WHEN", "EVENT"}, rows)

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultEventLimit, "maximum number of events")

	return cmd
}
