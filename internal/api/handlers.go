package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/nbrefactor/internal/apperr"
	"github.com/starford/nbrefactor/internal/history"
	"github.com/starford/nbrefactor/internal/models"
	"github.com/starford/nbrefactor/internal/notebook"
	"github.com/starford/nbrefactor/internal/refactor"
	"github.com/starford/nbrefactor/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handler holds API route handlers.
type Handler struct {
	svc       *refactor.Service
	hist      history.Recorder
	store     storage.Provider
	maxUpload int64
}

// NewHandler creates a new Handler. maxUpload <= 0 selects DefaultMaxUploadBytes.
func NewHandler(svc *refactor.Service, hist history.Recorder, store storage.Provider, maxUpload int64) *Handler {
	return &Handler{svc: svc, hist: hist, store: store, maxUpload: maxUpload}
}

// RunStatusCode maps a run error to an HTTP status.
func RunStatusCode(err error) int {
	var extractErr *notebook.ExtractError
	switch {
	case err == nil:
		return http.StatusCreated
	case errors.As(err, &extractErr), errors.Is(err, apperr.ErrEmptyNotebook):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNoCodeGenerated):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// Extract handles POST /api/extract.
//
//	@Summary		Extract the code cells of a notebook
//	@Tags			notebooks
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Notebook (.ipynb)"
//	@Success		200		{object}	ExtractResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/extract [post]
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	up, err := ParseUpload(w, r, h.maxUpload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer up.Close()

	src, err := notebook.ExtractReader(up.File)
	if err != nil {
		writeError(w, http.StatusBadRequest, refactor.Message(err))
		return
	}
	writeJSON(w, http.StatusOK, ExtractResponse{Source: src})
}

// CreateRun handles POST /api/runs.
//
//	@Summary		Refactor a notebook
//	@Tags			runs
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file		formData	file	true	"Notebook (.ipynb)"
//	@Param			review		formData	bool	false	"Review the refactored code"
//	@Param			generate_ui	formData	bool	false	"Generate a Streamlit UI"
//	@Param			review_ui	formData	bool	false	"Review the generated UI"
//	@Success		201			{object}	RunResult
//	@Failure		400			{object}	RunErrorResponse
//	@Failure		409			{object}	RunErrorResponse
//	@Failure		422			{object}	RunErrorResponse
//	@Failure		502			{object}	RunErrorResponse
//	@Security		BearerAuth
//	@Router			/runs [post]
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	up, err := ParseUpload(w, r, h.maxUpload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer up.Close()

	res, err := h.svc.Run(r.Context(), refactor.Input{
		RunID:   up.RunID,
		Name:    up.Name,
		Reader:  up.File,
		Options: up.Options,
	})
	if err != nil {
		slog.Warn("run failed", slog.String("notebook", up.Name), slog.String("error", err.Error()))
		writeJSON(w, RunStatusCode(err), RunErrorResponse{Error: refactor.Message(err), Result: res})
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListRuns handles GET /api/runs.
//
//	@Summary		List past runs, newest first
//	@Tags			runs
//	@Produce		json
//	@Param			limit	query		int	false	"Page size"
//	@Param			offset	query		int	false	"Page offset"
//	@Success		200		{object}	RunListResponse
//	@Security		BearerAuth
//	@Router			/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset = max(offset, 0)

	runs, total, err := h.hist.ListRuns(limit, offset)
	if err != nil {
		slog.Error("list runs failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs, Total: total})
}

// GetRun handles GET /api/runs/{id}.
//
//	@Summary		Get a run with its artifacts
//	@Tags			runs
//	@Produce		json
//	@Param			id	path		string	true	"Run ID"
//	@Success		200	{object}	models.Run
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{id} [get]
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.hist.GetRun(id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
		} else {
			slog.Error("get run failed", slog.String("run_id", id), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetArtifact handles GET /api/runs/{id}/artifacts/{kind}.
//
//	@Summary		Download a run artifact
//	@Tags			runs
//	@Produce		text/x-python
//	@Produce		text/markdown
//	@Param			id		path	string	true	"Run ID"
//	@Param			kind	path	string	true	"Artifact kind"	Enums(refactored, review, ui, ui_review)
//	@Success		200		{file}	file
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/runs/{id}/artifacts/{kind} [get]
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kind := models.ArtifactKind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		writeError(w, http.StatusBadRequest, "unknown artifact kind")
		return
	}
	a, data, err := LoadArtifact(h.hist, h.store, id, kind)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
		} else {
			slog.Error("get artifact failed", slog.String("run_id", id), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	WriteArtifact(w, r, a, data)
}
