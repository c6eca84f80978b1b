package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/datareturn/internal/openhumans"
	"github.com/tonimelisma/datareturn/internal/store"
)

// Event log descriptions for link lifecycle changes.
const (
	eventConnected    = "Connected Open Humans account"
	eventDisconnected = "Disconnected Open Humans account"
)

func newAuthURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth-url",
		Short: "Print the Open Humans authorization URL",
		Long: `Print the URL a user opens to authorize this project on Open Humans.
After approval, Open Humans redirects to the project's registered redirect URI
with a one-time code; pass it to 'datareturn connect'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if cc.Cfg.OpenHumans.ClientID == "" {
				return fmt.Errorf("client_id is not configured")
			}

			fmt.Fprintln(cmd.OutOrStdout(), cc.Cfg.Service().AuthURL())

			return nil
		},
	}
}

func newConnectCmd() *cobra.Command {
	var (
		code     string
		listen   string
		memberID int64
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Link a user to Open Humans with an authorization code",
		Long: `Exchange a one-time authorization code for tokens and store the link
for --user. An existing link for the user is replaced.

With --listen, the project's redirect URI must point at this machine
(http://localhost:PORT/...). The authorization URL is printed, the redirect
is served locally, and the code is taken from it.

Examples:
  datareturn connect --user alice --code 3kT9... --member-id 12345678
  datareturn connect --user alice --listen http://localhost:8765/callback`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (code == "") == (listen == "") {
				return fmt.Errorf("specify exactly one of --code or --listen")
			}

			var member *int64
			if cmd.Flags().Changed("member-id") {
				member = &memberID
			}

			if listen != "" {
				received, err := receiveCode(cmd, listen)
				if err != nil {
					return err
				}

				code = received
			}

			return runConnect(cmd, code, member)
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "authorization code from the redirect")
	cmd.Flags().StringVar(&listen, "listen", "", "serve this localhost redirect URI and capture the code")
	cmd.Flags().Int64Var(&memberID, "member-id", 0, "Open Humans project member id")

	return cmd
}

// runConnect trades code for tokens and stores the link. A reconnect keeps
// the stored member id unless --member-id is given.
func runConnect(cmd *cobra.Command, code string, member *int64) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	userID, err := requireUser(cc)
	if err != nil {
		return err
	}

	sess, err := openSession(ctx, cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	if member == nil {
		existing, loadErr := sess.Store.LoadLink(ctx, userID)
		switch {
		case loadErr == nil:
			member = existing.MemberID
		case !errors.Is(loadErr, store.ErrNotFound):
			return loadErr
		}
	}

	link := &openhumans.Link{UserID: userID, MemberID: member}

	if err := sess.Client.Exchange(ctx, link, code); err != nil {
		if errors.Is(err, openhumans.ErrUnauthorized) {
			return fmt.Errorf("authorization code rejected (codes are single-use and expire quickly; "+
				"run 'datareturn auth-url' for a new one): %w", err)
		}

		return fmt.Errorf("connecting %s: %w", userID, err)
	}

	if err := sess.Store.SaveLink(ctx, link); err != nil {
		return err
	}

	logEvent(cmd, sess, userID, eventConnected)

	cc.Statusf("Connected %s (token valid until %s)\n", userID, formatTime(link.ExpiresAt))
	cc.Statusf("Return the user to %s\n", sess.Client.Service().ReturnURL())

	return nil
}

// receiveCode prints the authorization URL and waits for Open Humans to
// redirect the browser to the local callback server.
func receiveCode(cmd *cobra.Command, redirectURI string) (string, error) {
	cc := mustCLIContext(cmd.Context())

	if cc.Cfg.OpenHumans.ClientID == "" {
		return "", fmt.Errorf("client_id is not configured")
	}

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	receiver, err := cc.Cfg.Service().ListenForCode(ctx, redirectURI, cc.Logger)
	if err != nil {
		return "", err
	}
	defer receiver.Close()

	fmt.Fprintf(cmd.ErrOrStderr(), "Open this URL in a browser to authorize:\n%s\n", receiver.AuthURL())

	return receiver.Wait(ctx)
}

func newDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Forget a user's Open Humans link",
		Long: `Delete the stored tokens for --user. Registered files, links, and the
event log are kept. The user should also remove the project on Open Humans;
the URL for that is printed.`,
		Args: cobra.NoArgs,
		RunE: runDisconnect,
	}
}

func runDisconnect(cmd *cobra.Command, _ []string) error {
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

	if _, err := sess.loadLink(ctx, userID); err != nil {
		return err
	}

	if err := sess.Store.DeleteLink(ctx, userID); err != nil {
		return err
	}

	logEvent(cmd, sess, userID, eventDisconnected)

	cc.Statusf("Disconnected %s\n", userID)
	cc.Statusf("To revoke access on Open Humans, visit %s\n", cc.Cfg.Service().RemovalURL())

	return nil
}

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh a user's Open Humans tokens now",
		Args:  cobra.NoArgs,
		RunE:  runRefresh,
	}
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	userID, err := requireUser(cc)
	if err != nil {
		return err
	}

	sess, err := openSession(ctx, cc)
	if err != nil {
		return err
	}
	defer sess.Close()

	link, err := sess.loadLink(ctx, userID)
	if err != nil {
		return err
	}

	if err := sess.Client.RefreshLink(ctx, link); err != nil {
		if errors.Is(err, openhumans.ErrUnauthorized) || errors.Is(err, openhumans.ErrNotConnected) {
			logEvent(cmd, sess, userID, openhumans.EventConnectionLost)

			return fmt.Errorf("%s must re-authorize: run 'datareturn auth-url' and 'datareturn connect --user %s --code CODE': %w",
				userID, userID, err)
		}

		return fmt.Errorf("refreshing tokens for %s: %w", userID, err)
	}

	cc.Statusf("Refreshed %s (token valid until %s)\n", userID, formatTime(link.ExpiresAt))

	return nil
}

// logEvent appends to the user's event log. Failures are logged, not
// returned: the operation they describe already happened.
func logEvent(cmd *cobra.Command, sess *Session, userID, desc string) {
	if err := sess.Store.LogEvent(cmd.Context(), userID, desc); err != nil {
		mustCLIContext(cmd.Context()).Logger.Warn("recording event failed",
			slog.String("user", userID),
			slog.String("error", err.Error()),
		)
	}
}

// expiresIn renders a token's remaining lifetime for tables.
func expiresIn(link *openhumans.Link, now time.Time) string {
	if link.ExpiresAt.IsZero() {
		return "-"
	}

	d := link.ExpiresAt.Sub(now).Round(time.Minute)
	if d <= 0 {
		return "expired"
	}

	return d.String()
}
