package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-appraiser/internal/config"
	"go-appraiser/pkg/models"
)

type memStore struct {
	mu    sync.Mutex
	saved []models.AppraisalResult
}

func (m *memStore) SaveResult(_ context.Context, result models.AppraisalResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, result)
	return nil
}

func newTestServer() (*Server, *memStore) {
	store := &memStore{}
	srv := New(&config.Config{SignalURL: "https://app.signal.vin", RestartEvery: 3}, store)
	return srv, store
}

// decodeEvents parses an SSE body into its event payloads.
func decodeEvents(t *testing.T, body string) []Event {
	t.Helper()
	var events []Event
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestStatusIdle(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer()
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status["is_processing"])
}

func TestProcessEmptyRows(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(`{"valid_rows":[]}`))
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeEvents(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].Type)
	assert.Contains(t, events[0].Message, "no valid rows")
}

func TestProcessBadBody(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(`not json`))
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessStreamsEvents(t *testing.T) {
	t.Parallel()

	srv, store := newTestServer()
	srv.runBatch = func(ctx context.Context, rows []models.RowItem, stream *Stream) {
		for i, row := range rows {
			stream.Progress(float64(i+1)/float64(len(rows)), "working")
			result := models.NewResult(row)
			result.Status = models.StatusSuccess
			stream.Result(result)
			require.NoError(t, store.SaveResult(ctx, result))
		}
		stream.Complete("done")
	}

	body := `{"valid_rows":[{"vin":"1HGCM82633A004352","odometer":"98000"},{"vin":"5YJ3E1EA7KF317000","odometer":"40000"}]}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader(body))
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := decodeEvents(t, rec.Body.String())
	require.Len(t, events, 5)
	assert.Equal(t, "progress", events[0].Type)
	require.NotNil(t, events[0].Progress)
	assert.Equal(t, 0.5, *events[0].Progress)
	assert.Equal(t, "result", events[1].Type)
	require.NotNil(t, events[1].Result)
	assert.Equal(t, "1HGCM82633A004352", events[1].Result.Vin)
	assert.Equal(t, "complete", events[4].Type)

	assert.Len(t, store.saved, 2)
	assert.False(t, srv.processing.Load())
}

func TestProcessConflict(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer()
	started := make(chan struct{})
	release := make(chan struct{})
	srv.runBatch = func(ctx context.Context, rows []models.RowItem, stream *Stream) {
		close(started)
		<-release
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/process",
			strings.NewReader(`{"valid_rows":[{"vin":"X","odometer":"1"}]}`))
		srv.Router().ServeHTTP(rec, req)
	}()

	<-started
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/process",
		strings.NewReader(`{"valid_rows":[{"vin":"Y","odometer":"1"}]}`))
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(release)
	wg.Wait()
	assert.False(t, srv.processing.Load())
}

func TestStopCancelsBatch(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer()
	started := make(chan struct{})
	cancelled := make(chan struct{})
	srv.runBatch = func(ctx context.Context, rows []models.RowItem, stream *Stream) {
		close(started)
		select {
		case <-ctx.Done():
			close(cancelled)
		case <-time.After(5 * time.Second):
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/process",
			strings.NewReader(`{"valid_rows":[{"vin":"X","odometer":"1"}]}`))
		srv.Router().ServeHTTP(rec, req)
	}()

	<-started
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stop", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("batch context was not cancelled by stop")
	}
	wg.Wait()
}

func TestStopWithoutBatch(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer()
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stop", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
