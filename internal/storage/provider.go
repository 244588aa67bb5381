// Package storage defines the file-system abstraction for run artifacts and
// the inbox directory.
package storage

import "time"

// FileInfo describes a stored file.
type FileInfo struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for file operations relative to a root directory.
type Provider interface {
	// List returns every file under dir whose name ends with ext
	// (all files when ext is empty), skipping hidden temp files.
	List(dir, ext string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
}
