package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ytget/fetchd/internal/config"
	"github.com/ytget/fetchd/internal/platform"
	"github.com/ytget/fetchd/internal/progress"
	"github.com/ytget/fetchd/internal/scheduler"
	"github.com/ytget/fetchd/internal/store"
	"github.com/ytget/fetchd/internal/token"
)

// OwnerHeader carries the externally resolved principal. Authentication
// itself lives outside this server; the header value arrives already
// verified.
const OwnerHeader = "X-Owner"

// PlaylistExpander resolves a playlist URL into individual video entries
type PlaylistExpander interface {
	Expand(ctx context.Context, url string) ([]platform.PlaylistItem, error)
}

// Server is the thin HTTP layer over the job core
type Server struct {
	store        *store.Store
	sched        *scheduler.Scheduler
	hub          *progress.Hub
	tokens       *token.Service
	settings     *config.Settings
	settingsPath string
	prober       PlaylistExpander
	logger       *slog.Logger
}

// NewServer wires the HTTP layer to the core components
func NewServer(st *store.Store, sched *scheduler.Scheduler, hub *progress.Hub, tokens *token.Service, settings *config.Settings, settingsPath string, prober PlaylistExpander, logger *slog.Logger) *Server {
	return &Server{
		store:        st,
		sched:        sched,
		hub:          hub,
		tokens:       tokens,
		settings:     settings,
		settingsPath: settingsPath,
		prober:       prober,
		logger:       logger,
	}
}

// Router builds the chi route tree
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Post("/jobs/cancel_all", s.handleCancelAll)
		r.Delete("/jobs/{id}", s.handleCancelJob)
		r.Post("/jobs/{id}/tokens", s.handleMintToken)
		r.Get("/jobs/{id}/events", s.handleEvents)
		r.Get("/jobs/{id}/download", s.handleDownload)
		r.Post("/playlists", s.handleCreatePlaylist)
		r.Get("/settings/concurrency", s.handleGetConcurrency)
		r.Put("/settings/concurrency", s.handleSetConcurrency)
	})
	return r
}

// owner extracts the resolved principal, or responds 401 and returns ""
func (s *Server) owner(w http.ResponseWriter, r *http.Request) string {
	owner := r.Header.Get(OwnerHeader)
	if owner == "" {
		s.respondError(w, http.StatusUnauthorized, "missing "+OwnerHeader+" header")
	}
	return owner
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}
