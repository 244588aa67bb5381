package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/starford/nbrefactor/internal/models"
)

// DefaultMaxUploadBytes bounds a notebook upload when no limit is configured.
const DefaultMaxUploadBytes = 20 << 20 // 20 MB

// Upload is a notebook received as multipart/form-data.
type Upload struct {
	Name    string
	File    multipart.File
	Size    int64
	Options models.Options
	RunID   string
}

// Close releases the uploaded file.
func (u *Upload) Close() error {
	return u.File.Close()
}

// ParseUpload reads the "file" field plus the review, generate_ui,
// review_ui and run_id fields of a multipart request. Only .ipynb
// files are accepted.
func ParseUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (*Upload, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, errors.New("file too large or invalid multipart")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("missing 'file' field in multipart form")
	}

	name := filepath.Base(filepath.Clean(header.Filename))
	if !strings.EqualFold(filepath.Ext(name), ".ipynb") {
		file.Close()
		return nil, fmt.Errorf("invalid filename %q: expected an .ipynb file", header.Filename)
	}

	return &Upload{
		Name: name,
		File: file,
		Size: header.Size,
		Options: models.Options{
			Review:     formBool(r, "review"),
			GenerateUI: formBool(r, "generate_ui"),
			ReviewUI:   formBool(r, "review_ui"),
		},
		RunID: strings.TrimSpace(r.FormValue("run_id")),
	}, nil
}

func formBool(r *http.Request, key string) bool {
	switch strings.ToLower(r.FormValue(key)) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}
