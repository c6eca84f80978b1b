package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/datareturn/internal/store"
)

// recordKind describes one of the two record command groups.
type recordKind struct {
	use   string // command name
	noun  string // singular, for messages
	kind  store.Kind
	short string
}

var (
	recordFiles = recordKind{
		use: "files", noun: "file", kind: store.KindFile,
		short: "Manage files exported to Open Humans",
	}
	recordLinks = recordKind{
		use: "links", noun: "link", kind: store.KindLink,
		short: "Manage links exported to Open Humans",
	}
)

func newRecordsCmd(rk recordKind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   rk.use,
		Short: rk.short,
	}

	cmd.AddCommand(newRecordAddCmd(rk))
	cmd.AddCommand(newRecordListCmd(rk))
	cmd.AddCommand(newRecordRmCmd(rk))

	return cmd
}

func newRecordAddCmd(rk recordKind) *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "add NAME URL",
		Short: "Register a " + rk.noun + " for --user",
		Long: fmt.Sprintf(`Register a %s for --user. NAME is the label shown on Open Humans and URL
is where it can be retrieved. For files, use a long-lived URL: it stays in
the user's Open Humans account after the export.`, rk.noun),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			userID, err := requireUser(cc)
			if err != nil {
				return err
			}

			if err := checkRecordURL(args[1]); err != nil {
				return err
			}

			sess, err := openLocalSession(ctx, cc)
			if err != nil {
				return err
			}
			defer sess.Close()

			rec, err := sess.Store.AddRecord(ctx, rk.kind, store.Record{
				UserID:      userID,
				Name:        args[0],
				URL:         args[1],
				Description: description,
			})
			if err != nil {
				return err
			}

			cc.Statusf("Added %s %d (%s) for %s\n", rk.noun, rec.ID, rec.Name, userID)

			return nil
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "free-form description")

	return cmd
}

// checkRecordURL requires an absolute http(s) URL, which is all Open Humans
// can follow.
func checkRecordURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid URL %q: must be an absolute http or https URL", raw)
	}

	return nil
}

func newRecordListCmd(rk recordKind) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the " + rk.use + " of --user",
		Args:  cobra.NoArgs,
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

			recs, err := sess.Store.ListRecords(ctx, rk.kind, userID)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return printRecordsJSON(cmd.OutOrStdout(), recs)
			}

			if len(recs) == 0 {
				cc.Statusf("No %s registered for %s\n", rk.use, userID)

				return nil
			}

			printRecordsText(cmd.OutOrStdout(), recs)

			return nil
		},
	}
}

func newRecordRmCmd(rk recordKind) *cobra.Command {
	return &cobra.Command{
		Use:   "rm ID",
		Short: "Remove a " + rk.noun + " of --user",
		Long: fmt.Sprintf(`Remove a %s. Open Humans keeps the previously exported copy until the
next export for the user.`, rk.noun),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			userID, err := requireUser(cc)
			if err != nil {
				return err
			}

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid %s id %q", rk.noun, args[0])
			}

			sess, err := openLocalSession(ctx, cc)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.Store.DeleteRecord(ctx, rk.kind, userID, id); err != nil {
				return err
			}

			cc.Statusf("Removed %s %d\n", rk.noun, id)

			return nil
		},
	}
}

// recordJSON is the JSON form of a store.Record.
type recordJSON struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func printRecordsJSON(w io.Writer, recs []store.Record) error {
	out := make([]recordJSON, 0, len(recs))

	for _, r := range recs {
		out = append(out, recordJSON{
			ID:          r.ID,
			Name:        r.Name,
			URL:         r.URL,
			Description: r.Description,
			CreatedAt:   r.CreatedAt.Format(time.RFC3339),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding records: %w", err)
	}

	return nil
}

func printRecordsText(w io.Writer, recs []store.Record) {
	rows := make([][]string, 0, len(recs))

	for _, r := range recs {
		rows = append(rows, []string{strconv.FormatInt(r.ID, 10), r.Name, r.URL, formatTime(r.CreatedAt)})
	}

	printTable(w, []string{"ID", "NAME", "URL", "ADDED"}, rows)
}
