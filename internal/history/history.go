package history

import "github.com/starford/nbrefactor/internal/models"

// Recorder defines the run history operations.
// Consumers should depend on this interface rather than the concrete *DB type.
type Recorder interface {
	CreateRun(r models.Run) error
	FinishRun(id string, status models.RunStatus, errText string) error
	AddArtifact(a models.Artifact) error
	GetRun(id string) (*models.Run, error)
	ListRuns(limit, offset int) ([]models.Run, int, error)
	GetArtifact(runID string, kind models.ArtifactKind) (*models.Artifact, error)
	Close() error
}

var _ Recorder = (*DB)(nil)
