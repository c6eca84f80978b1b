package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/datareturn/internal/openhumans"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check Open Humans connections",
		Long: `Probe the Open Humans connection of --user, or of every linked user when
--user is omitted. An expired token is refreshed first; a probe never
pushes data.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusEntry is one row of status output.
type statusEntry struct {
	UserID     string     `json:"user_id"`
	MemberID   *int64     `json:"member_id,omitempty"`
	Status     string     `json:"status"`
	HTTPStatus int        `json:"http_status,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	sess, err := openSession(ctx, cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	var links []*openhumans.Link

	if cc.Flags.User != "" {
		link, err := sess.loadLink(ctx, cc.Flags.User)
		if err != nil {
			return err
		}

		links = []*openhumans.Link{link}
	} else {
		links, err = sess.Store.ListLinks(ctx)
		if err != nil {
			return err
		}
	}

	if len(links) == 0 {
		cc.Statusf("No users are linked. Run 'datareturn connect' to link one.\n")

		return nil
	}

	entries := probeAll(ctx, sess.Client, links)

	if cc.Flags.JSON {
		return printStatusJSON(cmd.OutOrStdout(), entries)
	}

	printStatusText(cmd.OutOrStdout(), entries, time.Now())

	return nil
}

// probeAll probes links one at a time. Status is interactive and small, so
// it stays sequential and keeps the outbound request rate low.
func probeAll(ctx context.Context, client *openhumans.Client, links []*openhumans.Link) []statusEntry {
	entries := make([]statusEntry, 0, len(links))

	for _, link := range links {
		res := client.Probe(ctx, link)

		e := statusEntry{
			UserID:     link.UserID,
			MemberID:   link.MemberID,
			Status:     string(res.Status),
			HTTPStatus: res.StatusCode,
		}

		if !link.ExpiresAt.IsZero() {
			exp := link.ExpiresAt
			e.ExpiresAt = &exp
		}

		if res.Err != nil {
			e.Error = res.Err.Error()
		}

		entries = append(entries, e)
	}

	return entries
}

func printStatusJSON(w io.Writer, entries []statusEntry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	return nil
}

func printStatusText(w io.Writer, entries []statusEntry, now time.Time) {
	rows := make([][]string, 0, len(entries))

	for _, e := range entries {
		member := "-"
		if e.MemberID != nil {
			member = strconv.FormatInt(*e.MemberID, 10)
		}

		expires := "-"
		if e.ExpiresAt != nil {
			expires = expiresIn(&openhumans.Link{ExpiresAt: *e.ExpiresAt}, now)
		}

		rows = append(rows, []string{e.UserID, member, e.Status, expires})
	}

	printTable(w, []string{"USER", "MEMBER", "STATUS", "EXPIRES IN"}, rows)
}
