// Package web serves the HTML upload form and artifact downloads.
package web

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/starford/nbrefactor/internal/api"
	"github.com/starford/nbrefactor/internal/apperr"
	"github.com/starford/nbrefactor/internal/history"
	"github.com/starford/nbrefactor/internal/models"
	"github.com/starford/nbrefactor/internal/refactor"
	"github.com/starford/nbrefactor/internal/storage"
)

const recentRuns = 10

//go:embed templates/*.html
var templateFS embed.FS

var pageTmpl = template.Must(template.New("index.html").Funcs(template.FuncMap{
	"artifactName": artifactName,
}).ParseFS(templateFS, "templates/index.html"))

type page struct {
	NextRunID string
	Error     string
	Result    *refactor.Result
	Runs      []models.Run
}

// Handler renders the upload UI.
type Handler struct {
	svc       *refactor.Service
	hist      history.Recorder
	store     storage.Provider
	maxUpload int64
}

// NewHandler creates a web handler.
func NewHandler(svc *refactor.Service, hist history.Recorder, store storage.Provider, maxUpload int64) *Handler {
	return &Handler{svc: svc, hist: hist, store: store, maxUpload: maxUpload}
}

// NewRouter creates a chi router with the UI routes.
func NewRouter(h *Handler, authEnabled bool, token string, events http.Handler) chi.Router {
	r := chi.NewRouter()
	h.Register(r, authEnabled, token, events)
	return r
}

// Register adds the UI routes to r behind the API token check. events, if
// non-nil, is served at GET /events so the page can follow its own run.
func (h *Handler) Register(r chi.Router, authEnabled bool, token string, events http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(api.AuthMiddleware(authEnabled, token))
		r.Get("/", h.Index)
		r.Post("/refactor", h.Refactor)
		r.Get("/download/{runID}/{kind}", h.Download)
		if events != nil {
			r.Get("/events", events.ServeHTTP)
		}
	})
}

// Index handles GET /.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, page{})
}

// Refactor handles POST /refactor.
func (h *Handler) Refactor(w http.ResponseWriter, r *http.Request) {
	up, err := api.ParseUpload(w, r, h.maxUpload)
	if err != nil {
		h.render(w, http.StatusBadRequest, page{Error: err.Error()})
		return
	}
	defer up.Close()

	res, err := h.svc.Run(r.Context(), refactor.Input{
		RunID:   up.RunID,
		Name:    up.Name,
		Reader:  up.File,
		Options: up.Options,
	})
	p := page{Result: res}
	status := http.StatusOK
	if err != nil {
		slog.Warn("web: run failed", slog.String("notebook", up.Name), slog.String("error", err.Error()))
		p.Error = refactor.Message(err)
		status = api.RunStatusCode(err)
	}
	h.render(w, status, p)
}

// Download handles GET /download/{runID}/{kind}.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	kind := models.ArtifactKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		http.Error(w, "unknown artifact kind", http.StatusBadRequest)
		return
	}
	a, data, err := api.LoadArtifact(h.hist, h.store, runID, kind)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.Error("web: download failed", slog.String("run_id", runID), slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	api.WriteArtifact(w, r, a, data)
}

func (h *Handler) render(w http.ResponseWriter, status int, p page) {
	p.NextRunID = uuid.NewString()
	if h.hist != nil {
		runs, _, err := h.hist.ListRuns(recentRuns, 0)
		if err != nil {
			slog.Warn("web: list runs failed", slog.String("error", err.Error()))
		}
		p.Runs = runs
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTmpl.Execute(w, p); err != nil {
		slog.Error("web: render failed", slog.String("error", err.Error()))
	}
}

func artifactName(run models.Run, kind string) string {
	for _, a := range run.Artifacts {
		if string(a.Kind) == kind {
			return a.Filename
		}
	}
	return ""
}
