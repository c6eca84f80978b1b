package openhumans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const defaultUserAgent = "datareturn/0.1"

// defaultFlightTimeout bounds a shared refresh when the HTTP client has no
// timeout of its own.
const defaultFlightTimeout = time.Minute

// LinkStore persists links. Defined at the consumer so the store package
// can depend on this one and not the other way around.
type LinkStore interface {
	LoadLink(ctx context.Context, userID string) (*Link, error)
	SaveTokens(ctx context.Context, link *Link) error
}

// LinkLocker is implemented by stores that several processes share. The lock
// spans reload, refresh and persist for one user, so a refresh token is only
// ever sent once.
type LinkLocker interface {
	LockLink(ctx context.Context, userID string) (unlock func(), err error)
}

// Client talks to one Open Humans deployment on behalf of many links.
// It is safe for concurrent use; refreshes are serialized per user.
type Client struct {
	service    Service
	httpClient *http.Client
	store      LinkStore // nil: tokens live only in the caller's *Link
	logger     *slog.Logger
	userAgent  string
	offset     time.Duration

	// flights guarantees at most one in-flight refresh per user ID.
	flights singleflight.Group

	// nowFunc is injectable for deterministic expiry tests.
	nowFunc func() time.Time
}

// NewClient creates a Client. httpClient should carry a timeout; a nil
// store keeps refreshed tokens in memory only.
func NewClient(
	service Service,
	httpClient *http.Client,
	store LinkStore,
	logger *slog.Logger,
	userAgent string,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		service:    service,
		httpClient: httpClient,
		store:      store,
		logger:     logger,
		userAgent:  userAgent,
		offset:     DefaultOffset,
		nowFunc:    time.Now,
	}
}

// Service returns the deployment this client talks to.
func (c *Client) Service() Service {
	return c.service
}

// SetTokenOffset changes the freshness margin used by Probe and Publisher.
func (c *Client) SetTokenOffset(d time.Duration) {
	c.offset = d
}

// TokenOffset returns the freshness margin used by Probe and Publisher.
func (c *Client) TokenOffset() time.Duration {
	return c.offset
}

// oauthContext routes the oauth2 library through our HTTP client so the
// configured timeout applies to token requests too.
func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// Refresh exchanges link's refresh token for a new token pair and replaces
// all three token fields on success. On any error link is left untouched.
// Refresh neither persists nor serializes; use ValidToken or RefreshLink for
// that.
func (c *Client) Refresh(ctx context.Context, link *Link) error {
	if !link.Connected() {
		return &APIError{Op: opRefresh, Message: "no refresh token", Err: ErrNotConnected}
	}

	now := c.nowFunc()
	src := c.service.oauthConfig().TokenSource(c.oauthContext(ctx), &oauth2.Token{
		RefreshToken: link.RefreshToken,
	})

	tok, err := src.Token()
	if err != nil {
		apiErr := classifyTokenError(opRefresh, err)
		c.logger.Warn("token refresh failed",
			slog.String("user", link.UserID),
			slog.Int("status", apiErr.StatusCode),
			slog.String("kind", ErrorKind(apiErr)),
		)

		return apiErr
	}

	state, err := parseToken(opRefresh, tok, now)
	if err != nil {
		c.logger.Warn("token refresh returned malformed response",
			slog.String("user", link.UserID),
			slog.String("error", err.Error()),
		)

		return err
	}

	link.setTokens(state)

	c.logger.Info("token refreshed",
		slog.String("user", link.UserID),
		slog.Time("expiry", state.expiresAt),
	)

	return nil
}

// ValidToken returns an access token valid for at least offset. If the
// current one is fresh enough it is returned unchanged with no network call;
// otherwise the link is refreshed (and persisted, when a store is set) first.
//
// This is the only way authenticated calls should obtain a token.
func (c *Client) ValidToken(ctx context.Context, link *Link, offset time.Duration) (string, error) {
	if !link.IsExpired(c.nowFunc(), offset) {
		return link.AccessToken, nil
	}

	state, err := c.refreshOnce(ctx, link, offset, false)
	if err != nil {
		return "", err
	}

	return state.access, nil
}

// RefreshLink refreshes unconditionally, with the same per-user
// serialization and persistence as ValidToken.
func (c *Client) RefreshLink(ctx context.Context, link *Link) error {
	_, err := c.refreshOnce(ctx, link, 0, true)

	return err
}

// refreshOnce runs check-expiry, refresh, and persist as one flight per user.
// Callers that join an in-flight refresh share its result; each caller's
// *Link receives the new tokens. The flight is detached from ctx so one
// caller giving up does not fail the others; that caller alone returns early.
func (c *Client) refreshOnce(ctx context.Context, link *Link, offset time.Duration, force bool) (tokenState, error) {
	start := Link{UserID: link.UserID, MemberID: link.MemberID}
	start.setTokens(link.tokens())

	ch := c.flights.DoChan(link.UserID, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout())
		defer cancel()

		return c.refreshFlight(flightCtx, start, offset, force)
	})

	var res singleflight.Result

	select {
	case res = <-ch:
	case <-ctx.Done():
		return tokenState{}, &APIError{Op: opRefresh, Message: ctx.Err().Error(), Err: ErrTransportFailure}
	}

	state, ok := res.Val.(tokenState)
	if !ok {
		return tokenState{}, fmt.Errorf("openhumans: unexpected flight result %T", res.Val)
	}

	if res.Err != nil {
		// A refresh that succeeded but failed to persist still rotated the
		// tokens server-side; the caller must not keep the dead ones.
		if state.access != "" {
			link.setTokens(state)
		}

		return tokenState{}, res.Err
	}

	if res.Shared {
		c.logger.Debug("joined in-flight token refresh", slog.String("user", link.UserID))
	}

	link.setTokens(state)

	return state, nil
}

// flightTimeout allows one client timeout for waiting on another process's
// lease and one for the token request.
func (c *Client) flightTimeout() time.Duration {
	if t := c.httpClient.Timeout; t > 0 {
		return 2 * t
	}

	return defaultFlightTimeout
}

func (c *Client) refreshFlight(ctx context.Context, working Link, offset time.Duration, force bool) (tokenState, error) {
	if locker, ok := c.store.(LinkLocker); ok {
		unlock, err := locker.LockLink(ctx, working.UserID)
		if err != nil {
			return tokenState{}, fmt.Errorf("openhumans: locking link %s: %w", working.UserID, err)
		}
		defer unlock()
	}

	// The persisted copy wins: another process or an earlier flight may have
	// already rotated the refresh token the caller is holding.
	if c.store != nil {
		persisted, err := c.store.LoadLink(ctx, working.UserID)
		if err != nil {
			return tokenState{}, fmt.Errorf("openhumans: reloading link %s: %w", working.UserID, err)
		}

		working.setTokens(persisted.tokens())
	}

	if !force && !working.IsExpired(c.nowFunc(), offset) {
		return working.tokens(), nil
	}

	if err := c.Refresh(ctx, &working); err != nil {
		if rotated, ok := c.rotatedElsewhere(ctx, &working, offset, err); ok {
			return rotated, nil
		}

		return tokenState{}, err
	}

	if c.store != nil {
		if err := c.store.SaveTokens(ctx, &working); err != nil {
			return working.tokens(), fmt.Errorf("openhumans: persisting refreshed tokens for %s: %w", working.UserID, err)
		}
	}

	return working.tokens(), nil
}

// rotatedElsewhere handles a 401 for a refresh token that a writer without
// the lock has already replaced. If the store now holds a different, fresh
// token pair, that pair is used and the link is still connected.
func (c *Client) rotatedElsewhere(ctx context.Context, sent *Link, offset time.Duration, err error) (tokenState, bool) {
	if c.store == nil || !errors.Is(err, ErrUnauthorized) {
		return tokenState{}, false
	}

	persisted, loadErr := c.store.LoadLink(ctx, sent.UserID)
	if loadErr != nil || !persisted.Connected() || persisted.RefreshToken == sent.RefreshToken {
		return tokenState{}, false
	}

	if persisted.IsExpired(c.nowFunc(), offset) {
		return tokenState{}, false
	}

	c.logger.Info("refresh token was rotated by another writer; using persisted tokens",
		slog.String("user", sent.UserID))

	return persisted.tokens(), true
}

// Exchange completes the initial authorization by trading an authorization
// code for the first token pair, replacing link's tokens on success. The
// caller persists the link.
func (c *Client) Exchange(ctx context.Context, link *Link, code string) error {
	now := c.nowFunc()

	tok, err := c.service.oauthConfig().Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return classifyTokenError(opExchange, err)
	}

	state, err := parseToken(opExchange, tok, now)
	if err != nil {
		return err
	}

	link.setTokens(state)

	c.logger.Info("authorization code exchanged",
		slog.String("user", link.UserID),
		slog.Time("expiry", state.expiresAt),
	)

	return nil
}

// classifyTokenError maps errors from the oauth2 library onto the sentinel
// taxonomy. Only a 401 from the token endpoint means the credential is dead.
func classifyTokenError(op string, err error) *APIError {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}

		msg := rErr.ErrorCode
		if msg == "" {
			msg = http.StatusText(status)
		}

		sentinel := classifyStatus(status)
		if status >= http.StatusOK && status < http.StatusMultipleChoices {
			// 2xx carrying an OAuth error object.
			sentinel = ErrMalformedResponse
		}

		return &APIError{Op: op, StatusCode: status, Message: msg, Err: sentinel}
	}

	if isTransportError(err) {
		return &APIError{Op: op, Message: err.Error(), Err: ErrTransportFailure}
	}

	// Anything else is the library rejecting the response body.
	return &APIError{Op: op, Message: err.Error(), Err: ErrMalformedResponse}
}

// parseToken validates the raw token response. All three fields must be
// present with the right JSON types; the oauth2 library alone would silently
// keep the old refresh token when the server omits a new one.
func parseToken(op string, tok *oauth2.Token, now time.Time) (tokenState, error) {
	malformed := func(msg string) (tokenState, error) {
		return tokenState{}, &APIError{Op: op, Message: msg, Err: ErrMalformedResponse}
	}

	access, ok := tok.Extra("access_token").(string)
	if !ok || access == "" {
		return malformed("missing or invalid access_token")
	}

	refresh, ok := tok.Extra("refresh_token").(string)
	if !ok || refresh == "" {
		return malformed("missing or invalid refresh_token")
	}

	seconds, ok := tok.Extra("expires_in").(float64)
	if !ok || seconds < 0 {
		return malformed("missing or invalid expires_in")
	}

	return tokenState{
		access:    access,
		refresh:   refresh,
		expiresAt: now.Add(time.Duration(seconds) * time.Second),
	}, nil
}
