package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/starford/nbrefactor/internal/apperr"
	"github.com/starford/nbrefactor/internal/checksum"
	"github.com/starford/nbrefactor/internal/history"
	"github.com/starford/nbrefactor/internal/models"
	"github.com/starford/nbrefactor/internal/storage"
)

// LoadArtifact looks up an artifact in the history and reads its content.
// Unknown runs and kinds yield apperr.ErrNotFound.
func LoadArtifact(hist history.Recorder, store storage.Provider, runID string, kind models.ArtifactKind) (*models.Artifact, []byte, error) {
	a, err := hist.GetArtifact(runID, kind)
	if err != nil {
		return nil, nil, err
	}
	data, err := store.Read(a.Path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("artifact %s: %w", a.Path(), apperr.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read artifact: %w", err)
	}
	return a, data, nil
}

// WriteArtifact sends an artifact as a download. It honours If-None-Match.
func WriteArtifact(w http.ResponseWriter, r *http.Request, a *models.Artifact, data []byte) {
	etag := checksum.ETag(data)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", ContentType(a.Kind))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ContentType returns the MIME type for an artifact kind.
func ContentType(kind models.ArtifactKind) string {
	if kind.IsCode() {
		return "text/x-python"
	}
	return "text/markdown; charset=utf-8"
}
