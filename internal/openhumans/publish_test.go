package openhumans

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingData captures pushes and answers with status.
type recordingData struct {
	status int
	method string
	auth   string
	body   []byte
}

func (d *recordingData) handler(w http.ResponseWriter, r *http.Request) {
	d.method = r.Method
	d.auth = r.Header.Get("Authorization")
	d.body, _ = io.ReadAll(r.Body)

	w.WriteHeader(d.status)
}

func newTestPublisher(t *testing.T, m *mockOpenHumans, store *memStore) *Publisher {
	t.Helper()

	return NewPublisher(newTestClient(t, m, store), store, store, discardLogger())
}

func TestPublish_Succeeded(t *testing.T) {
	data := &recordingData{status: http.StatusOK}
	m := newMockOpenHumans(t, nil, data.handler)

	link := freshLink()
	store := newMemStore(link)
	store.files["alice"] = []NamedURL{{Name: "genome.vcf", URL: "https://files/genome"}}
	store.items["alice"] = []NamedURL{{Name: "Diary", URL: "https://example.com/diary"}}

	out := newTestPublisher(t, m, store).Publish(context.Background(), link)

	require.NoError(t, out.Err)
	assert.Equal(t, Succeeded, out.State)
	assert.False(t, out.Retryable)
	assert.Equal(t, 1, out.Files)
	assert.Equal(t, 1, out.Links)

	assert.Equal(t, http.MethodPut, data.method)
	assert.Equal(t, "Bearer A1", data.auth)
	assert.JSONEq(t, `{"data":{
		"files":{"genome.vcf":"https://files/genome"},
		"links":{"Diary":"https://example.com/diary"}
	}}`, string(data.body))

	require.Len(t, store.events, 1)
	assert.Contains(t, store.events[0], "Exported 1 files and 1 links")
}

func TestPublish_EmptyExportStillPushes(t *testing.T) {
	data := &recordingData{status: http.StatusNoContent}
	m := newMockOpenHumans(t, nil, data.handler)

	link := freshLink()
	out := newTestPublisher(t, m, newMemStore(link)).Publish(context.Background(), link)

	assert.Equal(t, Succeeded, out.State)
	assert.JSONEq(t, `{"data":{}}`, string(data.body))
}

func TestPublish_RefreshesBeforePush(t *testing.T) {
	data := &recordingData{status: http.StatusOK}
	m := newMockOpenHumans(t, nil, data.handler)

	link := expiredLink()
	store := newMemStore(link)

	out := newTestPublisher(t, m, store).Publish(context.Background(), link)

	assert.Equal(t, Succeeded, out.State)
	assert.Equal(t, "Bearer A2", data.auth)
	assert.Equal(t, "R2", store.saved("alice").RefreshToken)
}

func TestPublish_AcquireTokenFailures(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		state     State
		retryable bool
		kind      string
	}{
		{"unauthorized", statusHandler(http.StatusUnauthorized), Disconnected, false, "unauthorized"},
		{"transport", statusHandler(http.StatusInternalServerError), Failed, true, "transport"},
		{"malformed", tokenJSON(`{"access_token":"A2","expires_in":60}`), Failed, true, "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockOpenHumans(t, tt.handler, nil)
			link := expiredLink()
			store := newMemStore(link)

			out := newTestPublisher(t, m, store).Publish(context.Background(), link)

			assert.Equal(t, tt.state, out.State)
			assert.Equal(t, tt.retryable, out.Retryable)
			assert.Equal(t, tt.kind, out.Kind())
			assert.Equal(t, int32(0), m.dataCalls.Load(), "no push without a token")
			assert.Equal(t, "R1", store.saved("alice").RefreshToken)
			require.Len(t, store.events, 1)
		})
	}
}

func TestPublish_NeverConnectedIsDisconnected(t *testing.T) {
	m := newMockOpenHumans(t, nil, nil)
	link := &Link{UserID: "bob"}

	out := newTestPublisher(t, m, newMemStore(link)).Publish(context.Background(), link)

	assert.Equal(t, Disconnected, out.State)
	assert.Equal(t, "not_connected", out.Kind())
}

func TestPublish_PushFailures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		state     State
		retryable bool
	}{
		{"revoked between steps", http.StatusUnauthorized, Disconnected, false},
		{"server error", http.StatusInternalServerError, Failed, true},
		{"bad request", http.StatusBadRequest, Failed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := &recordingData{status: tt.status}
			m := newMockOpenHumans(t, nil, data.handler)

			link := expiredLink()
			store := newMemStore(link)

			out := newTestPublisher(t, m, store).Publish(context.Background(), link)

			assert.Equal(t, tt.state, out.State)
			assert.Equal(t, tt.retryable, out.Retryable)

			var apiErr *APIError
			require.ErrorAs(t, out.Err, &apiErr)
			assert.Equal(t, "push", apiErr.Op)
			assert.Equal(t, tt.status, apiErr.StatusCode)

			// The refresh that preceded the failed push is kept.
			assert.Equal(t, "R2", store.saved("alice").RefreshToken)
		})
	}
}

func TestPublish_PushTransportFailure(t *testing.T) {
	m := newMockOpenHumans(t, nil, nil)
	link := freshLink()
	p := newTestPublisher(t, m, newMemStore(link))
	m.srv.Close()

	out := p.Publish(context.Background(), link)

	assert.Equal(t, Failed, out.State)
	assert.True(t, out.Retryable)
	assert.Equal(t, "transport", out.Kind())
}

func TestPublish_ItemSourceErrorIsRetryable(t *testing.T) {
	m := newMockOpenHumans(t, nil, nil)
	link := freshLink()
	store := newMemStore(link)
	store.itemErr = errors.New("database locked")

	out := newTestPublisher(t, m, store).Publish(context.Background(), link)

	assert.Equal(t, Failed, out.State)
	assert.True(t, out.Retryable)
	assert.Equal(t, "internal", out.Kind())
	assert.Equal(t, int32(0), m.dataCalls.Load())
}

func TestPublish_ConfiguredPushMethod(t *testing.T) {
	data := &recordingData{status: http.StatusOK}
	m := newMockOpenHumans(t, nil, data.handler)

	svc := m.service()
	svc.PushMethod = "patch"

	link := freshLink()
	store := newMemStore(link)
	c := NewClient(svc, m.srv.Client(), store, discardLogger(), "")
	c.nowFunc = func() time.Time { return testNow }

	out := NewPublisher(c, store, nil, discardLogger()).Publish(context.Background(), link)

	assert.Equal(t, Succeeded, out.State)
	assert.Equal(t, http.MethodPatch, data.method)
}

func TestPublishAll_IndependentOutcomesInOrder(t *testing.T) {
	var pushes atomic.Int32

	m := newMockOpenHumans(t, nil, func(w http.ResponseWriter, r *http.Request) {
		pushes.Add(1)

		if r.Header.Get("Authorization") == "Bearer dead" {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		w.WriteHeader(http.StatusOK)
	})

	links := []*Link{freshLink(), freshLink(), freshLink()}
	links[0].UserID = "u0"
	links[1].UserID = "u1"
	links[1].AccessToken = "dead"
	links[2].UserID = "u2"

	store := newMemStore(links...)
	outcomes := newTestPublisher(t, m, store).PublishAll(context.Background(), links, 2)

	require.Len(t, outcomes, 3)
	assert.Equal(t, "u0", outcomes[0].UserID)
	assert.Equal(t, Succeeded, outcomes[0].State)
	assert.Equal(t, Disconnected, outcomes[1].State)
	assert.Equal(t, Succeeded, outcomes[2].State)
	assert.Equal(t, int32(3), pushes.Load())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "succeeded", Succeeded.String())
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "State(9)", State(9).String())
}
