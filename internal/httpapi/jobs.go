package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ytget/fetchd/internal/model"
	"github.com/ytget/fetchd/internal/store"
	"github.com/ytget/fetchd/internal/token"
)

type createJobRequest struct {
	Kind      string `json:"kind"`
	URL       string `json:"url"`
	InputPath string `json:"input_path"`
}

type jobResponse struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	Status    string  `json:"status"`
	URL       string  `json:"url,omitempty"`
	Title     string  `json:"title,omitempty"`
	Progress  float64 `json:"progress"`
	Percent   int     `json:"percent"`
	Speed     string  `json:"speed,omitempty"`
	ETA       string  `json:"eta,omitempty"`
	Error     string  `json:"error,omitempty"`
	CreatedAt string  `json:"created_at"`
}

func toJobResponse(job model.Job) jobResponse {
	return jobResponse{
		ID:        job.ID,
		Kind:      string(job.Kind),
		Status:    job.Status.String(),
		URL:       job.URL,
		Title:     job.GetDisplayTitle(),
		Progress:  job.Progress,
		Percent:   job.Percent,
		Speed:     job.Speed,
		ETA:       job.GetETAString(),
		Error:     job.LastError,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	owner := s.owner(w, r)
	if owner == "" {
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind == "" {
		req.Kind = string(model.KindFetch)
	}

	job, err := s.createAndEnqueue(owner, model.JobKind(req.Kind), req.URL, req.InputPath)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, toJobResponse(job))
}

// createAndEnqueue admits one job or rejects it before any state exists;
// a job is never left half-admitted.
func (s *Server) createAndEnqueue(owner string, kind model.JobKind, url, inputPath string) (model.Job, error) {
	job, err := s.store.Create(store.CreateSpec{
		Owner:          owner,
		Kind:           kind,
		URL:            url,
		InputPath:      inputPath,
		ConcurrencyCap: s.settings.DefaultCap,
	})
	if err != nil {
		return model.Job{}, err
	}
	if err := s.sched.Enqueue(job.ID); err != nil {
		// Undo creation so rejection leaves no trace.
		_ = s.store.Delete(job.ID)
		return model.Job{}, err
	}
	s.logger.Info("job created", "job_id", job.ID, "owner", owner, "kind", kind)
	snap, _ := s.store.Snapshot(job.ID)
	return snap, nil
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	owner := s.owner(w, r)
	if owner == "" {
		return
	}

	jobs := s.store.ListByOwner(owner)
	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toJobResponse(job))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	owner := s.owner(w, r)
	if owner == "" {
		return
	}
	id := chi.URLParam(r, "id")

	job, ok := s.store.Snapshot(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Owner != owner {
		s.respondError(w, http.StatusForbidden, "not your job")
		return
	}

	if err := s.sched.Cancel(id, "canceled by owner"); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "job not found")
			return
		}
		s.respondError(w, http.StatusConflict, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": model.StatusCanceled.String()})
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	owner := s.owner(w, r)
	if owner == "" {
		return
	}
	canceled := s.sched.CancelAllForOwner(owner, "canceled by owner")
	s.respondJSON(w, http.StatusOK, map[string]int{"canceled": canceled})
}

type createPlaylistRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	owner := s.owner(w, r)
	if owner == "" {
		return
	}

	var req createPlaylistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		s.respondError(w, http.StatusBadRequest, "playlist url is required")
		return
	}

	items, err := s.prober.Expand(r.Context(), req.URL)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		job, err := s.createAndEnqueue(owner, model.KindFetch, item.URL, "")
		if err != nil {
			s.logger.Warn("playlist entry rejected", "url", item.URL, "err", err)
			continue
		}
		ids = append(ids, job.ID)
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{"jobs": ids, "total": len(items)})
}

type mintTokenRequest struct {
	Scope      string `json:"scope"`
	TTLSeconds int    `json:"ttl_seconds"`
}

func (s *Server) handleMintToken(w http.ResponseWriter, r *http.Request) {
	owner := s.owner(w, r)
	if owner == "" {
		return
	}
	id := chi.URLParam(r, "id")

	job, ok := s.store.Snapshot(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Owner != owner {
		s.respondError(w, http.StatusForbidden, "not your job")
		return
	}

	var req mintTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	tok, err := s.tokens.Mint(job.Subject(), token.Scope(req.Scope), job.Version, ttl)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"token": tok})
}

func (s *Server) handleGetConcurrency(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]int{"max_concurrent": s.sched.MaxConcurrent()})
}

type setConcurrencyRequest struct {
	MaxConcurrent int `json:"max_concurrent"`
}

func (s *Server) handleSetConcurrency(w http.ResponseWriter, r *http.Request) {
	var req setConcurrencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	applied := s.sched.SetMaxConcurrent(req.MaxConcurrent)

	s.settings.MaxConcurrent = applied
	if s.settingsPath != "" {
		if err := s.settings.Save(s.settingsPath); err != nil {
			s.logger.Error("persist settings", "err", err)
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"max_concurrent": applied})
}
