package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobpool/internal/adapter/store/memory"
	"jobpool/internal/jobs"
	"jobpool/internal/platform/httpclient"
	"jobpool/internal/shared"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHeartbeat_Run(t *testing.T) {
	var buf bytes.Buffer
	h := NewHeartbeat(5, slog.New(slog.NewTextHandler(&buf, nil)))

	assert.Equal(t, "heartbeat", h.Name())
	assert.Equal(t, 5, h.Interval())
	assert.True(t, h.Active())

	require.NoError(t, h.Run(context.Background(), time.Time{}))
	assert.Contains(t, buf.String(), "msg=heartbeat")
	assert.NotContains(t, buf.String(), "last_run_at")

	buf.Reset()
	require.NoError(t, h.Run(context.Background(), time.Now().Add(-time.Minute)))
	assert.Contains(t, buf.String(), "last_run_at")
}

func TestTypes_LazyHeartbeat(t *testing.T) {
	r := jobs.New(memory.New(), jobs.WithTypes(Types(3, quiet())), jobs.WithLogger(quiet()))
	require.NoError(t, r.RegisterLazy("heartbeat", jobs.TypeName(HeartbeatType)))

	job, err := r.Get("heartbeat")
	require.NoError(t, err)
	assert.Equal(t, 3, job.Interval())
	assert.IsType(t, &Heartbeat{}, job)
}

type hook struct {
	mu       sync.Mutex
	payloads []WebhookPayload
	keys     []string
	status   int
}

func (h *hook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var p WebhookPayload
	_ = json.NewDecoder(r.Body).Decode(&p)
	h.payloads = append(h.payloads, p)
	h.keys = append(h.keys, r.Header.Get("Idempotency-Key"))
	if h.status != 0 {
		w.WriteHeader(h.status)
	}
}

func TestWebhook_Run(t *testing.T) {
	h := &hook{}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	w, err := NewWebhook("notify", 5, srv.URL, httpclient.New(httpclient.WithLogger(quiet())))
	require.NoError(t, err)
	ranAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return ranAt }

	require.NoError(t, w.Run(context.Background(), time.Time{}))
	last := ranAt.Add(-5 * time.Minute)
	require.NoError(t, w.Run(context.Background(), last))

	require.Len(t, h.payloads, 2)
	assert.Equal(t, "notify", h.payloads[0].Job)
	assert.Nil(t, h.payloads[0].LastRunAt)
	assert.True(t, ranAt.Equal(h.payloads[0].RanAt))
	require.NotNil(t, h.payloads[1].LastRunAt)
	assert.True(t, last.Equal(*h.payloads[1].LastRunAt))

	assert.NotEmpty(t, h.keys[0])
	assert.NotEqual(t, h.keys[0], h.keys[1], "fresh idempotency key per execution")
}

func TestWebhook_RetriesShareKey(t *testing.T) {
	h := &hook{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	client := httpclient.New(httpclient.WithLogger(quiet()), httpclient.WithRetries(2, time.Millisecond))
	w, err := NewWebhook("notify", 1, srv.URL, client)
	require.NoError(t, err)

	err = w.Run(context.Background(), time.Time{})
	var se *httpclient.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)

	require.Len(t, h.keys, 3)
	assert.Equal(t, h.keys[0], h.keys[1])
	assert.Equal(t, h.keys[1], h.keys[2])
}

func TestNewWebhook_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "ftp://example.com/x", "/relative"} {
		_, err := NewWebhook("notify", 1, raw, nil)
		assert.Error(t, err, raw)
	}
}

func TestWebhookFactory_FailureWithholdsTimestamp(t *testing.T) {
	h := &hook{status: http.StatusBadRequest}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	store := memory.New()
	now := time.Unix(1_700_000_000, 0)
	r := jobs.New(store, jobs.WithLogger(quiet()), jobs.WithClock(func() time.Time { return now }))
	client := httpclient.New(httpclient.WithLogger(quiet()))
	require.NoError(t, r.RegisterLazy("notify", WebhookFactory("notify", 1, srv.URL, client)))
	require.NoError(t, r.RegisterLazy("bad", WebhookFactory("bad", 1, "::", client)))

	res, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, res.Executed)
	assert.Len(t, res.Failed(), 2)
	assert.True(t, errors.Is(err, jobs.ErrMaterialization))
	assert.True(t, errors.Is(err, jobs.ErrJobFailed))
	assert.True(t, shared.IsInvariantViolated(err))

	_, ok, err := r.JobLastRunAt(context.Background(), "notify")
	require.NoError(t, err)
	assert.False(t, ok)
}
