package openhumans

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// ItemSource yields a user's exportable files and links. Implemented by the
// store; files carry long-lived retrieval URLs.
type ItemSource interface {
	ExportFiles(ctx context.Context, userID string) ([]NamedURL, error)
	ExportLinks(ctx context.Context, userID string) ([]NamedURL, error)
}

// EventLog records user-visible events. Optional.
type EventLog interface {
	LogEvent(ctx context.Context, userID, description string) error
}

// EventConnectionLost is the event logged when a link's tokens are no
// longer accepted.
const EventConnectionLost = "Open Humans connection lost; re-authorization required"

// State is the terminal state of one Publish call.
type State int

// Publish terminal states.
const (
	Succeeded State = iota
	Disconnected
	Failed
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Disconnected:
		return "disconnected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome reports how a Publish call ended. Disconnected means the user must
// re-authorize. Failed is always retryable by re-invoking Publish.
type Outcome struct {
	UserID    string
	State     State
	Retryable bool
	Err       error
	Files     int
	Links     int
}

// Kind is the error classification of a non-successful outcome.
func (o Outcome) Kind() string {
	return ErrorKind(o.Err)
}

// Publisher runs acquire-token, build-payload, push as one operation. It
// never retries internally.
type Publisher struct {
	client *Client
	items  ItemSource
	events EventLog // may be nil
	logger *slog.Logger
}

// NewPublisher creates a Publisher. events may be nil.
func NewPublisher(client *Client, items ItemSource, events EventLog, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		client: client,
		items:  items,
		events: events,
		logger: logger,
	}
}

// Publish exports the user's current files and links to Open Humans. A failed
// push does not undo a refresh performed while acquiring the token; the new
// tokens stay valid for the next attempt.
func (p *Publisher) Publish(ctx context.Context, link *Link) Outcome {
	out := p.publish(ctx, link)
	p.record(ctx, out)

	return out
}

func (p *Publisher) publish(ctx context.Context, link *Link) Outcome {
	out := Outcome{UserID: link.UserID}

	token, err := p.client.ValidToken(ctx, link, p.client.offset)
	if err != nil {
		return terminal(out, err)
	}

	files, err := p.items.ExportFiles(ctx, link.UserID)
	if err != nil {
		return terminal(out, fmt.Errorf("openhumans: loading files for %s: %w", link.UserID, err))
	}

	links, err := p.items.ExportLinks(ctx, link.UserID)
	if err != nil {
		return terminal(out, fmt.Errorf("openhumans: loading links for %s: %w", link.UserID, err))
	}

	payload := BuildPayload(Pairs(files), Pairs(links))
	out.Files = len(payload.Files)
	out.Links = len(payload.Links)

	if err := p.client.Push(ctx, token, payload); err != nil {
		return terminal(out, err)
	}

	out.State = Succeeded

	return out
}

// terminal classifies err into Disconnected or retryable Failed.
func terminal(out Outcome, err error) Outcome {
	out.Err = err

	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotConnected) {
		out.State = Disconnected

		return out
	}

	out.State = Failed
	out.Retryable = true

	return out
}

// record writes the outcome to the logger and the event log. Event log
// failures are logged and otherwise ignored.
func (p *Publisher) record(ctx context.Context, out Outcome) {
	var desc string

	switch out.State {
	case Succeeded:
		p.logger.Info("export succeeded",
			slog.String("user", out.UserID),
			slog.Int("files", out.Files),
			slog.Int("links", out.Links),
		)

		desc = fmt.Sprintf("Exported %d files and %d links to Open Humans", out.Files, out.Links)
	case Disconnected:
		p.logger.Warn("export stopped: Open Humans connection lost",
			slog.String("user", out.UserID),
			slog.String("error", out.Err.Error()),
		)

		desc = EventConnectionLost
	default:
		p.logger.Error("export failed",
			slog.String("user", out.UserID),
			slog.String("kind", out.Kind()),
			slog.String("error", out.Err.Error()),
		)

		desc = "Open Humans export failed (" + out.Kind() + ")"
	}

	if p.events == nil {
		return
	}

	if err := p.events.LogEvent(ctx, out.UserID, desc); err != nil {
		p.logger.Warn("failed to record export event",
			slog.String("user", out.UserID),
			slog.String("error", err.Error()),
		)
	}
}

// PublishAll publishes every link with at most parallelism concurrent
// exports. Links are independent: one failure does not stop the others.
// Outcomes are returned in input order.
func (p *Publisher) PublishAll(ctx context.Context, links []*Link, parallelism int) []Outcome {
	if parallelism < 1 {
		parallelism = 1
	}

	outcomes := make([]Outcome, len(links))

	var g errgroup.Group
	g.SetLimit(parallelism)

	for i, link := range links {
		g.Go(func() error {
			outcomes[i] = p.Publish(ctx, link)

			return nil
		})
	}

	_ = g.Wait() // workers never return errors

	return outcomes
}

// Push writes payload to the user-data endpoint. token must come from
// ValidToken. A 401 wraps ErrUnauthorized; any other failure wraps
// ErrTransportFailure.
func (c *Client) Push(ctx context.Context, token string, payload Payload) error {
	body, err := json.Marshal(envelope{Data: payload})
	if err != nil {
		return fmt.Errorf("openhumans: encoding payload: %w", err)
	}

	method := c.service.pushMethod()

	req, err := http.NewRequestWithContext(ctx, method, c.service.UserDataURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("openhumans: creating push request: %w", err)
	}

	c.authorize(req, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Op: opPush, Message: err.Error(), Err: ErrTransportFailure}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

		c.logger.Debug("push succeeded",
			slog.String("method", method),
			slog.Int("status", resp.StatusCode),
			slog.Int("bytes", len(body)),
		)

		return nil
	}

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	return &APIError{
		Op:         opPush,
		StatusCode: resp.StatusCode,
		Message:    string(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}
}
