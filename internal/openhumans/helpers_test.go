package openhumans

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testSource = "test_source"

// testNow is the fixed clock used by every test client.
var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

// mockOpenHumans is a fake Open Humans deployment with call counters.
type mockOpenHumans struct {
	srv        *httptest.Server
	tokenCalls atomic.Int32
	dataCalls  atomic.Int32
}

// newMockOpenHumans serves the token endpoint with tokenHandler and the
// user-data endpoint with dataHandler. A nil handler answers 200 "{}" (data)
// or a rotated token pair (token). Server cleanup is automatic.
func newMockOpenHumans(t *testing.T, tokenHandler, dataHandler http.HandlerFunc) *mockOpenHumans {
	t.Helper()

	m := &mockOpenHumans{}

	if tokenHandler == nil {
		tokenHandler = tokenJSON(`{"access_token":"A2","refresh_token":"R2","expires_in":3600,"token_type":"Bearer"}`)
	}

	if dataHandler == nil {
		dataHandler = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{}`))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth2/token/", func(w http.ResponseWriter, r *http.Request) {
		m.tokenCalls.Add(1)
		tokenHandler(w, r)
	})
	mux.HandleFunc("/api/"+testSource+"/user-data/", func(w http.ResponseWriter, r *http.Request) {
		m.dataCalls.Add(1)
		dataHandler(w, r)
	})

	m.srv = httptest.NewServer(mux)
	t.Cleanup(m.srv.Close)

	return m
}

func (m *mockOpenHumans) service() Service {
	return Service{
		Server:       m.srv.URL,
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		SourceName:   testSource,
	}
}

// tokenJSON returns a handler that replies 200 with body as JSON.
func tokenJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

// statusHandler replies with the given status and an OAuth-style error body.
func statusHandler(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient builds a Client against m with a fixed clock.
func newTestClient(t *testing.T, m *mockOpenHumans, store LinkStore) *Client {
	t.Helper()

	c := NewClient(m.service(), m.srv.Client(), store, discardLogger(), "test-agent")
	c.nowFunc = func() time.Time { return testNow }

	return c
}

// expiredLink returns a connected link whose token expired a minute ago.
func expiredLink() *Link {
	return &Link{
		UserID:       "alice",
		AccessToken:  "A1",
		RefreshToken: "R1",
		ExpiresAt:    testNow.Add(-time.Minute),
	}
}

// freshLink returns a connected link valid for another hour.
func freshLink() *Link {
	return &Link{
		UserID:       "alice",
		AccessToken:  "A1",
		RefreshToken: "R1",
		ExpiresAt:    testNow.Add(time.Hour),
	}
}

// memStore is an in-memory LinkStore, ItemSource and EventLog.
type memStore struct {
	mu      sync.Mutex
	links   map[string]Link
	files   map[string][]NamedURL
	items   map[string][]NamedURL
	events  []string
	saveErr error
	itemErr error
	saves   int
}

func newMemStore(links ...*Link) *memStore {
	s := &memStore{
		links: make(map[string]Link),
		files: make(map[string][]NamedURL),
		items: make(map[string][]NamedURL),
	}

	for _, l := range links {
		s.links[l.UserID] = *l
	}

	return s
}

func (s *memStore) LoadLink(_ context.Context, userID string) (*Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.links[userID]
	if !ok {
		return nil, errors.New("link not found")
	}

	return &l, nil
}

func (s *memStore) SaveTokens(_ context.Context, link *Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves++

	if s.saveErr != nil {
		return s.saveErr
	}

	s.links[link.UserID] = *link

	return nil
}

func (s *memStore) ExportFiles(_ context.Context, userID string) ([]NamedURL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.files[userID], s.itemErr
}

func (s *memStore) ExportLinks(_ context.Context, userID string) ([]NamedURL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.items[userID], s.itemErr
}

func (s *memStore) LogEvent(_ context.Context, userID, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, userID+": "+description)

	return nil
}

func (s *memStore) saved(userID string) Link {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.links[userID]
}

// lockingStore is a memStore that also implements LinkLocker. It fails a
// second concurrent lock instead of waiting, so overlap shows up as an error.
type lockingStore struct {
	*memStore
	held  atomic.Bool
	locks atomic.Int32
}

func (s *lockingStore) LockLink(_ context.Context, userID string) (func(), error) {
	if !s.held.CompareAndSwap(false, true) {
		return nil, errors.New("lease on " + userID + " already held")
	}

	s.locks.Add(1)

	return func() { s.held.Store(false) }, nil
}
