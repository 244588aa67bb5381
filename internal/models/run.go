// Package models defines the domain types for nbrefactor.
package models

import "time"

// RunStatus is the lifecycle state of a refactoring run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// ArtifactKind identifies one downloadable output of a run.
type ArtifactKind string

const (
	ArtifactRefactored ArtifactKind = "refactored"
	ArtifactReview     ArtifactKind = "review"
	ArtifactUI         ArtifactKind = "ui"
	ArtifactUIReview   ArtifactKind = "ui_review"
)

// Valid reports whether k is a known artifact kind.
func (k ArtifactKind) Valid() bool {
	switch k {
	case ArtifactRefactored, ArtifactReview, ArtifactUI, ArtifactUIReview:
		return true
	}
	return false
}

// IsCode reports whether the artifact holds source code rather than prose.
func (k ArtifactKind) IsCode() bool {
	return k == ArtifactRefactored || k == ArtifactUI
}

// Options selects the optional stages of a run.
type Options struct {
	Review     bool `json:"review" yaml:"review"`
	GenerateUI bool `json:"generate_ui" yaml:"generate_ui"`
	ReviewUI   bool `json:"review_ui" yaml:"review_ui"`
}

// Run is one notebook submitted for refactoring.
type Run struct {
	ID           string     `json:"id"`
	NotebookName string     `json:"notebook_name"`
	Status       RunStatus  `json:"status"`
	Error        string     `json:"error,omitempty"`
	Options      Options    `json:"options"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Artifacts    []Artifact `json:"artifacts"`
}

// Artifact is a stored output file of a run.
type Artifact struct {
	RunID     string       `json:"run_id"`
	Kind      ArtifactKind `json:"kind"`
	Filename  string       `json:"filename"`
	Checksum  string       `json:"checksum"`
	Size      int64        `json:"size"`
	CreatedAt time.Time    `json:"created_at"`
}

// Path returns the artifact location relative to the store root.
func (a Artifact) Path() string {
	return a.RunID + "/" + a.Filename
}

// Stage names used in progress events.
const (
	StageExtract  = "extract"
	StageRefactor = "refactor"
	StageReview   = "review"
	StageUI       = "ui"
	StageUIReview = "ui_review"
)

// StageStatus is the state reported by a ProgressEvent.
type StageStatus string

const (
	StageStarted   StageStatus = "started"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// ProgressEvent reports a stage transition of a run.
type ProgressEvent struct {
	RunID   string      `json:"run_id"`
	Stage   string      `json:"stage"`
	Status  StageStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}
