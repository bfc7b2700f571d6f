package publisher

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxpert/geyser/allowlist"
	"github.com/maxpert/geyser/cfg"
	"github.com/maxpert/geyser/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	method      string
	path        string
	contentType string
	body        []byte
}

type eventServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []capturedRequest
	statuses []int // served in order, then 200
	hits     atomic.Int32
}

func newEventServer(t *testing.T, statuses ...int) *eventServer {
	t.Helper()
	s := &eventServer{statuses: statuses}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		n := int(s.hits.Add(1)) - 1

		s.mu.Lock()
		s.requests = append(s.requests, capturedRequest{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			body:        body,
		})
		status := http.StatusOK
		if n < len(s.statuses) {
			status = s.statuses[n]
		}
		s.mu.Unlock()

		w.WriteHeader(status)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *eventServer) captured() []capturedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capturedRequest(nil), s.requests...)
}

func newTestHTTP(t *testing.T, rootURL string, retries int) *HTTPPublisher {
	t.Helper()

	routing, err := NewTopicRouting(routingConfig())
	require.NoError(t, err)

	pub, err := NewHTTPPublisher(HTTPConfig{
		Name:    "local",
		RootURL: rootURL + "/",
		Routing: routing,
		Filter:  NewProgramFilter(allowlist.NewStatic("local"), cfg.EmptyAllowAll),
		Timeout: time.Second,
		Retry:   RetryPolicy{MaxRetries: retries, Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond},
	})
	require.NoError(t, err)
	t.Cleanup(func() { pub.Close() })
	return pub
}

func TestHTTPPublisher_PostsJSON(t *testing.T) {
	srv := newEventServer(t)
	pub := newTestHTTP(t, srv.URL, 0)

	ev := &event.AccountUpdate{Slot: 9, Owner: wormhole, Lamports: 42, Data: []byte{1, 2}}
	require.NoError(t, pub.Publish(ev))

	reqs := srv.captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.Equal(t, "/accounts", reqs[0].path, "account overrides do not apply to http paths")
	assert.Equal(t, "application/json", reqs[0].contentType)

	var got event.AccountUpdate
	require.NoError(t, json.Unmarshal(reqs[0].body, &got))
	assert.Equal(t, *ev, got)
}

func TestHTTPPublisher_SlotPath(t *testing.T) {
	srv := newEventServer(t)
	pub := newTestHTTP(t, srv.URL, 0)

	require.NoError(t, pub.Publish(&event.SlotStatus{Slot: 3, Status: event.SlotConfirmed}))

	reqs := srv.captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/slots", reqs[0].path)
	assert.JSONEq(t, `{"slot":3,"parent":0,"status":"confirmed"}`, string(reqs[0].body))
	assert.Equal(t, srv.URL+"/slots", pub.URL(event.KindSlot))
}

func TestHTTPPublisher_UnwantedKind(t *testing.T) {
	srv := newEventServer(t)
	pub := newTestHTTP(t, srv.URL, 0)

	require.NoError(t, pub.Publish(&event.Transaction{}))
	assert.Empty(t, srv.captured())
}

func TestHTTPPublisher_RetriesTransient(t *testing.T) {
	srv := newEventServer(t, http.StatusServiceUnavailable, http.StatusTooManyRequests)
	pub := newTestHTTP(t, srv.URL, 3)

	require.NoError(t, pub.Publish(&event.SlotStatus{Slot: 1}))
	assert.Equal(t, int32(3), srv.hits.Load())
}

func TestHTTPPublisher_RetriesExhausted(t *testing.T) {
	srv := newEventServer(t, 500, 500, 500, 500)
	pub := newTestHTTP(t, srv.URL, 2)

	err := pub.Publish(&event.SlotStatus{Slot: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted max retries (2)")
	assert.Equal(t, int32(3), srv.hits.Load())
}

func TestHTTPPublisher_ClientErrorNotRetried(t *testing.T) {
	srv := newEventServer(t, http.StatusBadRequest)
	pub := newTestHTTP(t, srv.URL, 3)

	err := pub.Publish(&event.SlotStatus{Slot: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestHTTPPublisher_CloseStopsRetries(t *testing.T) {
	srv := newEventServer(t, 500, 500, 500, 500, 500)

	routing, err := NewTopicRouting(routingConfig())
	require.NoError(t, err)
	pub, err := NewHTTPPublisher(HTTPConfig{
		Name:    "local",
		RootURL: srv.URL,
		Routing: routing,
		Filter:  NewProgramFilter(allowlist.NewStatic("local"), cfg.EmptyAllowAll),
		Retry:   RetryPolicy{MaxRetries: 5, Initial: time.Minute, Max: time.Minute},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- pub.Publish(&event.SlotStatus{Slot: 1}) }()

	require.Eventually(t, func() bool { return srv.hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, pub.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errStopped)
	case <-time.After(time.Second):
		t.Fatal("publish did not return after close")
	}
}

func TestNewHTTPPublisher_Validation(t *testing.T) {
	routing, err := NewTopicRouting(routingConfig())
	require.NoError(t, err)
	filter := NewProgramFilter(allowlist.NewStatic("x"), cfg.EmptyDenyAll)

	_, err = NewHTTPPublisher(HTTPConfig{RootURL: "http://x", Routing: routing, Filter: filter})
	assert.Error(t, err)
	_, err = NewHTTPPublisher(HTTPConfig{Name: "x", Routing: routing, Filter: filter})
	assert.Error(t, err)

	pub, err := NewHTTPPublisher(HTTPConfig{Name: "x", RootURL: "http://x", Routing: routing, Filter: filter})
	require.NoError(t, err)
	assert.Equal(t, cfg.EnvironmentHTTP, pub.Type())
}
