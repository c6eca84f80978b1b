package openhumans

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startReceiver listens on a random loopback port and returns the receiver
// and the state embedded in its authorization URL.
func startReceiver(t *testing.T) (*CodeReceiver, string) {
	t.Helper()

	svc := Service{Server: "https://oh.example.org", ClientID: "cid", SourceName: testSource}

	r, err := svc.ListenForCode(context.Background(), "http://localhost:0/callback", discardLogger())
	require.NoError(t, err)
	t.Cleanup(r.Close)

	u, err := url.Parse(r.AuthURL())
	require.NoError(t, err)
	assert.Equal(t, "/oauth2/authorize", u.Path)
	assert.Equal(t, "cid", u.Query().Get("client_id"))

	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	return r, state
}

func hitCallback(t *testing.T, r *CodeReceiver, query url.Values) int {
	t.Helper()

	resp, err := http.Get("http://" + r.Addr() + "/callback?" + query.Encode())
	require.NoError(t, err)

	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return resp.StatusCode
}

func waitCode(t *testing.T, r *CodeReceiver) (string, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return r.Wait(ctx)
}

func TestCodeReceiver_DeliversCode(t *testing.T) {
	t.Parallel()

	r, state := startReceiver(t)

	status := hitCallback(t, r, url.Values{"code": {"abc123"}, "state": {state}})
	assert.Equal(t, http.StatusOK, status)

	code, err := waitCode(t, r)
	require.NoError(t, err)
	assert.Equal(t, "abc123", code)
}

func TestCodeReceiver_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		query   func(state string) url.Values
		wantErr string
	}{
		{"state mismatch", func(string) url.Values {
			return url.Values{"code": {"abc"}, "state": {"forged"}}
		}, "state mismatch"},
		{"access denied", func(s string) url.Values {
			return url.Values{"error": {"access_denied"}, "state": {s}}
		}, "access_denied"},
		{"missing code", func(s string) url.Values {
			return url.Values{"state": {s}}
		}, "missing authorization code"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, state := startReceiver(t)

			assert.Equal(t, http.StatusBadRequest, hitCallback(t, r, tt.query(state)))

			_, err := waitCode(t, r)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCodeReceiver_WaitHonorsContext(t *testing.T) {
	t.Parallel()

	r, _ := startReceiver(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListenForCode_RejectsNonLocalRedirect(t *testing.T) {
	t.Parallel()

	svc := Service{ClientID: "cid"}

	for _, raw := range []string{
		"https://localhost:8080/cb",
		"http://example.com:8080/cb",
		"http://localhost/cb",
	} {
		_, err := svc.ListenForCode(context.Background(), raw, discardLogger())
		assert.Error(t, err, raw)
	}
}
