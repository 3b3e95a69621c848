package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/fetchd/internal/config"
	"github.com/ytget/fetchd/internal/model"
	"github.com/ytget/fetchd/internal/platform"
	"github.com/ytget/fetchd/internal/progress"
	"github.com/ytget/fetchd/internal/scheduler"
	"github.com/ytget/fetchd/internal/store"
	"github.com/ytget/fetchd/internal/token"
)

// stubRunner keeps admitted jobs running until a test completes them
type stubRunner struct {
	mu    sync.Mutex
	chans map[string]chan scheduler.Update
}

func newStubRunner() *stubRunner {
	return &stubRunner{chans: make(map[string]chan scheduler.Update)}
}

func (r *stubRunner) Start(job model.Job) (<-chan scheduler.Update, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan scheduler.Update, 4)
	r.chans[job.ID] = ch
	return ch, nil
}

func (r *stubRunner) Stop(jobID string) {}

func (r *stubRunner) complete(jobID, artifact string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chans[jobID] <- scheduler.Update{Terminal: true, ArtifactPath: artifact}
	close(r.chans[jobID])
}

type stubProber struct {
	items []platform.PlaylistItem
	err   error
}

func (p *stubProber) Expand(_ context.Context, _ string) ([]platform.PlaylistItem, error) {
	return p.items, p.err
}

type testServer struct {
	server *Server
	ts     *httptest.Server
	store  *store.Store
	runner *stubRunner
	prober *stubProber
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.New()
	hub := progress.NewHub()
	runner := newStubRunner()
	sched := scheduler.New(st, hub, runner, 3, logger)
	scheduler.NewFinalizer(st, hub, sched, nil, logger)

	settings := config.Defaults()
	tokens, err := token.NewService(settings.KeySet(), settings.ActiveKey)
	require.NoError(t, err)

	prober := &stubProber{}
	srv := NewServer(st, sched, hub, tokens, settings, filepath.Join(t.TempDir(), "settings.yaml"), prober, logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testServer{server: srv, ts: ts, store: st, runner: runner, prober: prober}
}

func (e *testServer) do(t *testing.T, method, path, owner string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, reader)
	require.NoError(t, err)
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCreateJob(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/jobs", "alice", map[string]string{
		"url": "https://youtube.com/watch?v=abc",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decodeBody[map[string]any](t, resp)
	assert.NotEmpty(t, created["id"])
	assert.Equal(t, "fetch", created["kind"])
	assert.Equal(t, "running", created["status"], "first job should be admitted immediately")
}

func TestCreateJob_Rejections(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/jobs", "", map[string]string{"url": "https://x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/jobs", "alice", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/jobs", "alice", map[string]string{"kind": "mystery", "url": "https://x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// A rejected submission leaves no job behind.
	assert.Empty(t, env.store.ListByOwner("alice"))
}

func TestListJobs(t *testing.T) {
	env := newTestServer(t)

	for i := 0; i < 2; i++ {
		resp := env.do(t, http.MethodPost, "/api/jobs", "alice", map[string]string{
			"url": fmt.Sprintf("https://youtube.com/watch?v=%d", i),
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp := env.do(t, http.MethodGet, "/api/jobs", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decodeBody[map[string][]jobResponse](t, resp)
	assert.Len(t, listed["jobs"], 2)

	resp = env.do(t, http.MethodGet, "/api/jobs", "bob", nil)
	listed = decodeBody[map[string][]jobResponse](t, resp)
	assert.Empty(t, listed["jobs"])
}

func TestCancelJob(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/jobs", "alice", map[string]string{"url": "https://x/v"})
	created := decodeBody[map[string]any](t, resp)
	id := created["id"].(string)

	// Another owner cannot cancel it.
	resp = env.do(t, http.MethodDelete, "/api/jobs/"+id, "bob", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodDelete, "/api/jobs/"+id, "alice", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	job, ok := env.store.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, model.StatusCanceled, job.Status)

	resp = env.do(t, http.MethodDelete, "/api/jobs/job-missing", "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestCancelAll(t *testing.T) {
	env := newTestServer(t)

	for i := 0; i < 3; i++ {
		resp := env.do(t, http.MethodPost, "/api/jobs", "alice", map[string]string{
			"url": fmt.Sprintf("https://x/%d", i),
		})
		resp.Body.Close()
	}

	resp := env.do(t, http.MethodPost, "/api/jobs/cancel_all", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decodeBody[map[string]int](t, resp)
	assert.Equal(t, 3, result["canceled"])
}

func TestConcurrencySettings(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodGet, "/api/settings/concurrency", "", nil)
	got := decodeBody[map[string]int](t, resp)
	assert.Equal(t, 3, got["max_concurrent"])

	resp = env.do(t, http.MethodPut, "/api/settings/concurrency", "", map[string]int{"max_concurrent": 99})
	got = decodeBody[map[string]int](t, resp)
	assert.Equal(t, 10, got["max_concurrent"], "value is clamped")

	// The clamped value is persisted for the next startup.
	loaded, err := config.Load(env.server.settingsPath)
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.MaxConcurrent)
}

func TestPlaylistExpansion(t *testing.T) {
	env := newTestServer(t)
	env.prober.items = []platform.PlaylistItem{
		{VideoID: "a1", Title: "First", URL: "https://www.youtube.com/watch?v=a1"},
		{VideoID: "b2", Title: "Second", URL: "https://www.youtube.com/watch?v=b2"},
	}

	resp := env.do(t, http.MethodPost, "/api/playlists", "alice", map[string]string{
		"url": "https://www.youtube.com/playlist?list=PLx",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[map[string]any](t, resp)
	assert.Len(t, created["jobs"], 2)
	assert.Len(t, env.store.ListByOwner("alice"), 2)
}

func TestDownloadWithCapabilityToken(t *testing.T) {
	env := newTestServer(t)

	artifact := filepath.Join(t.TempDir(), "video.mp4")
	require.NoError(t, os.WriteFile(artifact, []byte("media-bytes"), 0644))

	resp := env.do(t, http.MethodPost, "/api/jobs", "alice", map[string]string{"url": "https://x/v"})
	created := decodeBody[map[string]any](t, resp)
	id := created["id"].(string)

	env.runner.complete(id, artifact)
	require.Eventually(t, func() bool {
		job, _ := env.store.Snapshot(id)
		return job.Status == model.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	// Owner mints a download token post-completion.
	resp = env.do(t, http.MethodPost, "/api/jobs/"+id+"/tokens", "alice", map[string]any{
		"scope": "download", "ttl_seconds": 60,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	minted := decodeBody[map[string]string](t, resp)
	tok := minted["token"]
	require.NotEmpty(t, tok)

	// The token alone fetches the artifact, no owner header needed.
	resp = env.do(t, http.MethodGet, "/api/jobs/"+id+"/download?token="+tok, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "media-bytes", string(body))

	// A progress-scoped token must not download.
	resp = env.do(t, http.MethodPost, "/api/jobs/"+id+"/tokens", "alice", map[string]any{
		"scope": "progress", "ttl_seconds": 60,
	})
	minted = decodeBody[map[string]string](t, resp)
	resp = env.do(t, http.MethodGet, "/api/jobs/"+id+"/download?token="+minted["token"], "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestDownloadTokenRevokedByVersionBump(t *testing.T) {
	env := newTestServer(t)

	artifact := filepath.Join(t.TempDir(), "video.mp4")
	require.NoError(t, os.WriteFile(artifact, []byte("media"), 0644))

	resp := env.do(t, http.MethodPost, "/api/jobs", "alice", map[string]string{"url": "https://x/v"})
	created := decodeBody[map[string]any](t, resp)
	id := created["id"].(string)

	env.runner.complete(id, artifact)
	require.Eventually(t, func() bool {
		job, _ := env.store.Snapshot(id)
		return job.Status == model.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	resp = env.do(t, http.MethodPost, "/api/jobs/"+id+"/tokens", "alice", map[string]any{
		"scope": "download", "ttl_seconds": 60,
	})
	minted := decodeBody[map[string]string](t, resp)

	// Forced cleanup bumps the version; the token dies instantly.
	_, err := env.store.BumpVersion(id)
	require.NoError(t, err)

	resp = env.do(t, http.MethodGet, "/api/jobs/"+id+"/download?token="+minted["token"], "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Contains(t, body["error"], "version")
}

func TestEventsStream_TerminalJob(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/jobs", "alice", map[string]string{"url": "https://x/v"})
	created := decodeBody[map[string]any](t, resp)
	id := created["id"].(string)

	resp = env.do(t, http.MethodDelete, "/api/jobs/"+id, "alice", nil)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/jobs/"+id+"/events", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Contains(t, string(body), "retry: 5000")
	assert.Contains(t, string(body), "event: canceled")
}

func TestEventsStream_RequiresCredential(t *testing.T) {
	env := newTestServer(t)

	resp := env.do(t, http.MethodPost, "/api/jobs", "alice", map[string]string{"url": "https://x/v"})
	created := decodeBody[map[string]any](t, resp)
	id := created["id"].(string)

	resp = env.do(t, http.MethodGet, "/api/jobs/"+id+"/events", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/jobs/"+id+"/events", "bob", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestLastSeenID(t *testing.T) {
	tests := []struct {
		header   string
		query    string
		expected int64
	}{
		{"12", "", 12},
		{"", "7", 7},
		{"12", "7", 12}, // header wins
		{"", "", 0},
		{"garbage", "", 0},
		{"-3", "", 0},
	}

	for _, test := range tests {
		url := "/api/jobs/x/events"
		if test.query != "" {
			url += "?last_event_id=" + test.query
		}
		req := httptest.NewRequest(http.MethodGet, url, nil)
		if test.header != "" {
			req.Header.Set(LastEventIDHeader, test.header)
		}
		if got := lastSeenID(req); got != test.expected {
			t.Errorf("lastSeenID(header=%q, query=%q) = %d, expected %d",
				test.header, test.query, got, test.expected)
		}
	}
}

func TestFrameFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	writeFrame(rec, progress.Event{Seq: 4, Name: "progress", Data: []byte(`{"percent":50}`)})
	assert.Equal(t, "event: progress\nid: 4\ndata: {\"percent\":50}\n\n", rec.Body.String())

	rec = httptest.NewRecorder()
	writeFrame(rec, progress.Event{Seq: 1, Name: "start"})
	assert.True(t, strings.HasSuffix(rec.Body.String(), "data: {}\n\n"))
}
