package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ytget/fetchd/internal/model"
	"github.com/ytget/fetchd/internal/progress"
	"github.com/ytget/fetchd/internal/token"
)

// Stream timing constants
const (
	// RetryHintMillis is the reconnect delay hint sent at stream open
	RetryHintMillis = 5000

	// HeartbeatInterval spaces the ping frames keeping the connection warm
	HeartbeatInterval = 15 * time.Second

	// IdleTimeout closes a stream that saw no job activity, with a
	// synthetic timeout terminal frame
	IdleTimeout = time.Hour

	// LastEventIDHeader carries the resume cursor on reconnect
	LastEventIDHeader = "Last-Event-ID"
)

// authorizeJobAccess grants access when the caller is the job's owner or
// presents a valid capability token for the expected scope. Tokens are
// bound to the job's current version; a finalized job's version bump
// already invalidated anything minted before it.
func (s *Server) authorizeJobAccess(r *http.Request, job model.Job, scope token.Scope) error {
	if owner := r.Header.Get(OwnerHeader); owner != "" {
		if owner == job.Owner {
			return nil
		}
		return fmt.Errorf("not your job")
	}

	tok := r.URL.Query().Get("token")
	if tok == "" {
		return fmt.Errorf("missing credential")
	}
	version := job.Version
	_, err := s.tokens.Verify(tok, token.Expect{
		Subject: job.Subject(),
		Scope:   scope,
		Version: &version,
	})
	return err
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.store.Snapshot(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err := s.authorizeJobAccess(r, job, token.ScopeProgress); err != nil {
		s.respondError(w, http.StatusForbidden, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "retry: %d\n\n", RetryHintMillis)
	flusher.Flush()

	// A job that already finalized has no live stream; send one synthetic
	// terminal frame so the client can settle.
	if job.Status.IsTerminal() {
		s.writeTerminalFrame(w, job)
		flusher.Flush()
		return
	}

	sub := s.hub.Subscribe(id, lastSeenID(r))
	defer s.hub.Unsubscribe(id, sub)

	// The job may have finalized between the snapshot above and the
	// subscribe; the terminal event then went to nobody. Re-check so a
	// late subscriber still gets its settle frame instead of parking on
	// a dead stream until the watchdog fires.
	if job, ok := s.store.Snapshot(id); ok && job.Status.IsTerminal() {
		s.writeTerminalFrame(w, job)
		flusher.Flush()
		return
	}

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()
	idle := time.NewTimer(IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev, open := <-sub.Events():
			if !open {
				// Stream ended (terminal event was the last frame) or this
				// subscriber was dropped for falling behind; either way the
				// client reconnects with its cursor.
				return
			}
			writeFrame(w, ev)
			flusher.Flush()
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(IdleTimeout)

		case <-heartbeat.C:
			fmt.Fprintf(w, "event: %s\ndata: {}\n\n", model.EventPing)
			flusher.Flush()

		case <-idle.C:
			data, _ := json.Marshal(model.ProgressPayload{JobID: job.ID, Status: model.EventTimeout})
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", model.EventTimeout, data)
			flusher.Flush()
			return
		}
	}
}

// writeFrame emits one SSE frame: event, id, then the JSON payload
func writeFrame(w http.ResponseWriter, ev progress.Event) {
	data := ev.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", ev.Name, ev.Seq, data)
}

func (s *Server) writeTerminalFrame(w http.ResponseWriter, job model.Job) {
	data, err := json.Marshal(model.ProgressPayload{
		JobID:    job.ID,
		Status:   job.Status.String(),
		Progress: job.Progress,
		Percent:  job.Percent,
		Title:    job.Title,
		Error:    job.LastError,
	})
	if err != nil {
		data = []byte("{}")
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", job.Status.String(), data)
}

// lastSeenID extracts the resume cursor from the Last-Event-ID header or
// the last_event_id query param; absent or unparsable means start fresh
func lastSeenID(r *http.Request) int64 {
	raw := r.Header.Get(LastEventIDHeader)
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.store.Snapshot(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err := s.authorizeJobAccess(r, job, token.ScopeDownload); err != nil {
		s.respondError(w, http.StatusForbidden, err.Error())
		return
	}

	if job.Status != model.StatusCompleted || job.ArtifactPath == "" {
		s.respondError(w, http.StatusConflict, "job has no artifact")
		return
	}
	if _, err := os.Stat(job.ArtifactPath); err != nil {
		s.respondError(w, http.StatusGone, "artifact no longer available")
		return
	}

	http.ServeFile(w, r, job.ArtifactPath)
}
