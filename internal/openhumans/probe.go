package openhumans

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// ProbeStatus labels the result of a connectivity probe.
type ProbeStatus string

// Probe statuses.
const (
	ProbeOK           ProbeStatus = "connected"
	ProbeDisconnected ProbeStatus = "disconnected" // token could not be obtained: re-authorize
	ProbeRejected     ProbeStatus = "rejected"     // token minted but the data endpoint returned 401
	ProbeUnavailable  ProbeStatus = "unavailable"  // transport, store, or unexpected status
	ProbeMalformed    ProbeStatus = "malformed"    // token endpoint broke its contract
)

// ProbeResult carries what a probe learned. StatusCode is the user-data
// endpoint's status, 0 when the GET was never sent or failed in transit.
type ProbeResult struct {
	Status     ProbeStatus
	StatusCode int
	Err        error
}

// Connected reports whether the probe succeeded.
func (r ProbeResult) Connected() bool {
	return r.Status == ProbeOK
}

// IsConnected reports whether link's token actually works against the
// user-data endpoint. Read-only apart from any refresh ValidToken performs.
func (c *Client) IsConnected(ctx context.Context, link *Link) bool {
	return c.Probe(ctx, link).Connected()
}

// Probe is IsConnected with the reason attached. If no token can be obtained
// the user-data endpoint is not contacted.
func (c *Client) Probe(ctx context.Context, link *Link) ProbeResult {
	token, err := c.ValidToken(ctx, link, c.offset)
	if err != nil {
		// Only a dead credential means re-authorize; store and network
		// failures are worth retrying.
		status := ProbeUnavailable

		switch {
		case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNotConnected):
			status = ProbeDisconnected
		case errors.Is(err, ErrMalformedResponse):
			status = ProbeMalformed
		}

		return ProbeResult{Status: status, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.service.UserDataURL(), nil)
	if err != nil {
		return ProbeResult{Status: ProbeUnavailable, Err: err}
	}

	c.authorize(req, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("probe request failed",
			slog.String("user", link.UserID),
			slog.String("error", err.Error()),
		)

		return ProbeResult{
			Status: ProbeUnavailable,
			Err:    &APIError{Op: opProbe, Message: err.Error(), Err: ErrTransportFailure},
		}
	}
	defer resp.Body.Close()

	// Body is ignored; drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	switch resp.StatusCode {
	case http.StatusOK:
		return ProbeResult{Status: ProbeOK, StatusCode: resp.StatusCode}
	case http.StatusUnauthorized:
		return ProbeResult{
			Status:     ProbeRejected,
			StatusCode: resp.StatusCode,
			Err:        &APIError{Op: opProbe, StatusCode: resp.StatusCode, Message: "token rejected", Err: ErrUnauthorized},
		}
	default:
		return ProbeResult{
			Status:     ProbeUnavailable,
			StatusCode: resp.StatusCode,
			Err: &APIError{
				Op: opProbe, StatusCode: resp.StatusCode,
				Message: http.StatusText(resp.StatusCode), Err: ErrTransportFailure,
			},
		}
	}
}

// authorize sets the bearer and user agent headers.
func (c *Client) authorize(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.userAgent)
}
