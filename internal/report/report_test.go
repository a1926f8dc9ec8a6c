package report

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"commentguard/internal/ledger"
	"commentguard/internal/session"
)

type fakeBackend struct {
	mu        sync.Mutex
	snapshot  session.Snapshot
	rescanErr error
	rescans   int
}

func (b *fakeBackend) Snapshot() session.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot
}

func (b *fakeBackend) Rescan(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rescans++
	return b.rescanErr
}

func (b *fakeBackend) ToggleHighlights(context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot.HighlightsVisible = !b.snapshot.HighlightsVisible
	return b.snapshot.HighlightsVisible
}

type fakeNavigator struct {
	mu        sync.Mutex
	locations []string
	err       error
}

func (n *fakeNavigator) Navigate(_ context.Context, location string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.locations = append(n.locations, location)
	return n.err
}

func (n *fakeNavigator) visited() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.locations...)
}

func sampleSnapshot() session.Snapshot {
	return session.Snapshot{
		SessionID:         "s-1",
		UnitID:            "abc12345678",
		Stats:             ledger.Stats{Total: 3, Safe: 1, Suspicious: 1, Spam: 1},
		AIEnabled:         true,
		HighlightsVisible: true,
	}
}

func TestDispatcherGetStats(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{snapshot: sampleSnapshot()}
	d := NewDispatcher(backend, nil, zaptest.NewLogger(t))

	resp, err := d.Dispatch(context.Background(), Message{Action: ActionGetStats})
	require.NoError(t, err)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, ledger.Stats{Total: 3, Safe: 1, Suspicious: 1, Spam: 1}, *resp.Stats)
	require.NotNil(t, resp.AIEnabled)
	assert.True(t, *resp.AIEnabled)
}

func TestDispatcherRescanAndToggle(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{snapshot: sampleSnapshot()}
	d := NewDispatcher(backend, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	resp, err := d.Dispatch(ctx, Message{Action: ActionRescan})
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
	assert.True(t, *resp.Success)
	assert.Equal(t, 1, backend.rescans)

	resp, err = d.Dispatch(ctx, Message{Action: ActionToggleHighlights})
	require.NoError(t, err)
	require.NotNil(t, resp.HighlightsVisible)
	assert.False(t, *resp.HighlightsVisible)

	backend.rescanErr = session.ErrNoSession
	_, err = d.Dispatch(ctx, Message{Action: ActionRescan})
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestDispatcherUnknownAction(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(&fakeBackend{}, nil, zaptest.NewLogger(t))
	_, err := d.Dispatch(context.Background(), Message{Action: "explode"})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestDispatcherUpdateStatsPushesThroughHub(t *testing.T) {
	t.Parallel()

	hub := NewHub(zaptest.NewLogger(t))
	var got []Message
	hub.Attach(PublisherFunc(func(_ context.Context, msg Message) error {
		got = append(got, msg)
		return nil
	}))
	d := NewDispatcher(&fakeBackend{snapshot: sampleSnapshot()}, hub, zaptest.NewLogger(t))

	_, err := d.Dispatch(context.Background(), Message{Action: ActionUpdateStats})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ActionUpdateStats, got[0].Action)
	assert.Equal(t, "abc12345678", got[0].UnitID)
}

func TestHubSwallowsPublisherErrors(t *testing.T) {
	t.Parallel()

	hub := NewHub(zaptest.NewLogger(t))
	delivered := 0
	hub.Attach(PublisherFunc(func(context.Context, Message) error {
		return errors.New("surface gone")
	}))
	hub.Attach(PublisherFunc(func(context.Context, Message) error {
		delivered++
		return nil
	}))

	_, ok := hub.Last()
	assert.False(t, ok)

	hub.PublishStats(context.Background(), sampleSnapshot())
	assert.Equal(t, 1, delivered)

	last, ok := hub.Last()
	require.True(t, ok)
	require.NotNil(t, last.Stats)
	assert.Equal(t, 3, last.Stats.Total)
	require.NotNil(t, last.AIEnabled)
	assert.True(t, *last.AIEnabled)
}

func TestRedisPublisherPublishesStats(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	pub, err := NewRedisPublisher("redis://"+mr.Addr(), "")
	require.NoError(t, err)
	defer pub.Close()
	assert.Equal(t, DefaultStatsChannel, pub.Channel())

	ctx := context.Background()
	require.NoError(t, pub.Ping(ctx))

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()
	ps := sub.Subscribe(ctx, DefaultStatsChannel)
	defer ps.Close()
	_, err = ps.Receive(ctx)
	require.NoError(t, err)

	hub := NewHub(zaptest.NewLogger(t))
	hub.Attach(pub)
	hub.PublishStats(ctx, sampleSnapshot())

	select {
	case m := <-ps.Channel():
		var msg Message
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &msg))
		assert.Equal(t, ActionUpdateStats, msg.Action)
		require.NotNil(t, msg.Stats)
		assert.Equal(t, ledger.Stats{Total: 3, Safe: 1, Suspicious: 1, Spam: 1}, *msg.Stats)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestNewRedisPublisherRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := NewRedisPublisher("not-a-url://", "")
	assert.Error(t, err)
}

func TestRedisPublisherFailureIsSwallowedByHub(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	pub, err := NewRedisPublisher("redis://"+mr.Addr(), "stats")
	require.NoError(t, err)
	defer pub.Close()
	mr.Close()

	hub := NewHub(zaptest.NewLogger(t))
	hub.Attach(pub)
	assert.NotPanics(t, func() {
		hub.PublishStats(context.Background(), sampleSnapshot())
	})
}

func newTestServer(t *testing.T, backend *fakeBackend, nav Navigator, token string) *httptest.Server {
	t.Helper()
	log := zaptest.NewLogger(t)
	d := NewDispatcher(backend, NewHub(log), log)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("commentguard_scans_total 1\n"))
	})
	srv := httptest.NewServer(NewHTTPServer(backend, d, nav, ServerConfig{ControlToken: token, Metrics: metrics}, log).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url, body, token string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("x-commentguard-token", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var payload map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&payload)
	}
	return resp, payload
}

func TestHTTPHealthAndStats(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeBackend{snapshot: sampleSnapshot()}, nil, "")

	resp, payload := doRequest(t, http.MethodGet, srv.URL+"/api/health", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, payload["ok"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, payload = doRequest(t, http.MethodGet, srv.URL+"/api/stats", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abc12345678", payload["unitId"])
	assert.Equal(t, true, payload["aiEnabled"])
	stats, ok := payload["stats"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, stats["total"])
}

func TestHTTPMetricsRoute(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeBackend{}, nil, "")
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
}

func TestHTTPRescanAndToggle(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{snapshot: sampleSnapshot()}
	srv := newTestServer(t, backend, nil, "")

	resp, payload := doRequest(t, http.MethodPost, srv.URL+"/api/rescan", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, payload["success"])

	resp, payload = doRequest(t, http.MethodPost, srv.URL+"/api/highlights/toggle", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, payload["highlightsVisible"])

	backend.mu.Lock()
	backend.rescanErr = session.ErrNoSession
	backend.mu.Unlock()
	resp, payload = doRequest(t, http.MethodPost, srv.URL+"/api/rescan", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "NO_SESSION", payload["code"])
}

func TestHTTPMessagesEnvelope(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeBackend{snapshot: sampleSnapshot()}, nil, "")

	resp, payload := doRequest(t, http.MethodPost, srv.URL+"/api/messages", `{"action":"getStats"}`, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, payload["aiEnabled"])

	resp, payload = doRequest(t, http.MethodPost, srv.URL+"/api/messages", `{"action":"nope"}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "UNKNOWN_ACTION", payload["code"])

	resp, payload = doRequest(t, http.MethodPost, srv.URL+"/api/messages", `{}`, "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", payload["code"])

	resp, payload = doRequest(t, http.MethodPost, srv.URL+"/api/messages", `{not json`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_BODY", payload["code"])
}

func TestHTTPControlToken(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{snapshot: sampleSnapshot()}
	srv := newTestServer(t, backend, nil, "s3cret")

	resp, payload := doRequest(t, http.MethodPost, srv.URL+"/api/rescan", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", payload["code"])

	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/api/rescan", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/api/rescan", "", "s3cret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Reads stay open.
	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/api/stats", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPNavigate(t *testing.T) {
	t.Parallel()

	nav := &fakeNavigator{}
	srv := newTestServer(t, &fakeBackend{}, nav, "")

	resp, _ := doRequest(t, http.MethodPost, srv.URL+"/api/navigate", `{"url":"https://www.youtube.com/watch?v=abc12345678"}`, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"https://www.youtube.com/watch?v=abc12345678"}, nav.visited())

	resp, payload := doRequest(t, http.MethodPost, srv.URL+"/api/navigate", `{"url":"javascript:alert(1)"}`, "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", payload["code"])

	nav.mu.Lock()
	nav.err = errors.New("target closed")
	nav.mu.Unlock()
	resp, payload = doRequest(t, http.MethodPost, srv.URL+"/api/navigate", `{"url":"https://example.com/"}`, "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "NAVIGATE_FAILED", payload["code"])
}

func TestHTTPNavigateWithoutBrowser(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeBackend{}, nil, "")
	resp, payload := doRequest(t, http.MethodPost, srv.URL+"/api/navigate", `{"url":"https://example.com/"}`, "")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	assert.Equal(t, "NOT_SUPPORTED", payload["code"])
}

func TestHTTPUnknownRoute(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeBackend{}, nil, "")
	resp, payload := doRequest(t, http.MethodGet, srv.URL+"/api/nope", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", payload["code"])
}
