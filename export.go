package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/datareturn/internal/openhumans"
)

// errExportIncomplete is returned when at least one export did not succeed.
// The per-user summary has already been printed.
var errExportIncomplete = errors.New("export incomplete")

func newExportCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Push files and links to Open Humans",
		Long: `Export the registered files and links of --user, or of every linked user
with --all, to their Open Humans accounts. Each export replaces what the
project previously returned for that user.

Exits non-zero when any export fails. A user whose connection was lost must
re-authorize before the next export can succeed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, all)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "export every linked user")

	return cmd
}

// exportResult is the JSON form of an Outcome.
type exportResult struct {
	UserID    string `json:"user_id"`
	State     string `json:"state"`
	Retryable bool   `json:"retryable"`
	Kind      string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
	Files     int    `json:"files"`
	Links     int    `json:"links"`
}

func runExport(cmd *cobra.Command, all bool) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	if all == (cc.Flags.User != "") {
		return fmt.Errorf("specify exactly one of --user or --all")
	}

	sess, err := openSession(ctx, cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	var links []*openhumans.Link

	if all {
		links, err = sess.Store.ListLinks(ctx)
		if err != nil {
			return err
		}
	} else {
		link, err := sess.loadLink(ctx, cc.Flags.User)
		if err != nil {
			return err
		}

		links = []*openhumans.Link{link}
	}

	outcomes := sess.Publisher.PublishAll(ctx, links, cc.Cfg.Export.Parallelism)

	if cc.Flags.JSON {
		if err := printExportJSON(cmd.OutOrStdout(), outcomes); err != nil {
			return err
		}
	} else {
		printExportText(cmd.OutOrStdout(), outcomes)
	}

	for _, o := range outcomes {
		if o.State != openhumans.Succeeded {
			return errExportIncomplete
		}
	}

	return nil
}

func toExportResult(o openhumans.Outcome) exportResult {
	r := exportResult{
		UserID:    o.UserID,
		State:     o.State.String(),
		Retryable: o.Retryable,
		Kind:      o.Kind(),
		Files:     o.Files,
		Links:     o.Links,
	}

	if o.Err != nil {
		r.Error = o.Err.Error()
	}

	return r
}

func printExportJSON(w io.Writer, outcomes []openhumans.Outcome) error {
	results := make([]exportResult, 0, len(outcomes))
	for _, o := range outcomes {
		results = append(results, toExportResult(o))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encoding export results: %w", err)
	}

	return nil
}

func printExportText(w io.Writer, outcomes []openhumans.Outcome) {
	rows := make([][]string, 0, len(outcomes))

	for _, o := range outcomes {
		detail := fmt.Sprintf("%d files, %d links", o.Files, o.Links)

		switch o.State {
		case openhumans.Disconnected:
			detail = fmt.Sprintf("re-authorize: datareturn connect --user %s --code CODE", o.UserID)
		case openhumans.Failed:
			detail = fmt.Sprintf("%s error, retry later", o.Kind())
		}

		rows = append(rows, []string{o.UserID, o.State.String(), detail})
	}

	printTable(w, []string{"USER", "RESULT", "DETAIL"}, rows)
}
