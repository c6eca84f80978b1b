// Package openhumans manages the OAuth2 connection between a local user and
// an Open Humans account: token refresh, connectivity probes, and pushing
// exported data to the project's user-data endpoint.
package openhumans

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Sentinel errors for failure classification.
// Use errors.Is(err, openhumans.ErrUnauthorized) to check.
var (
	// ErrUnauthorized means the credential is dead and the user must
	// re-authorize. Never retried automatically.
	ErrUnauthorized = errors.New("openhumans: unauthorized")

	// ErrTransportFailure covers network errors, timeouts, and non-2xx
	// responses other than 401. Retry is up to the caller.
	ErrTransportFailure = errors.New("openhumans: transport failure")

	// ErrMalformedResponse means the server answered 2xx but violated the
	// token response contract.
	ErrMalformedResponse = errors.New("openhumans: malformed response")

	// ErrNotConnected is returned for links that never completed the initial
	// authorization (no refresh token to exchange).
	ErrNotConnected = errors.New("openhumans: link is not connected")
)

// Operation names carried by APIError.
const (
	opRefresh  = "refresh"
	opExchange = "exchange"
	opProbe    = "probe"
	opPush     = "push"
)

// maxErrorBody caps how much of an error response body is kept for messages.
const maxErrorBody = 4096

// APIError wraps a sentinel error with the failed operation, HTTP status
// code (0 when no response was received), and a short message for debugging.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("openhumans: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("openhumans: %s: %s", e.Op, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx HTTP status code to a sentinel error.
// Only 401 means the credential is dead; everything else is transport-level.
func classifyStatus(code int) error {
	if code == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	return ErrTransportFailure
}

// isTransportError reports whether err came from the network layer rather
// than from decoding a response.
func isTransportError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// ErrorKind returns a short, stable label for err suitable for status output
// and event logs. It distinguishes "try again later" (transport) from
// "service contract changed" (malformed).
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrTransportFailure):
		return "transport"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	default:
		return "internal"
	}
}
