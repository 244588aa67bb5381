package api

import (
	"github.com/starford/nbrefactor/internal/models"
	"github.com/starford/nbrefactor/internal/refactor"
)

// ExtractResponse is returned by POST /api/extract.
type ExtractResponse struct {
	Source string `json:"source" example:"x = 1\nprint(x)" validate:"required"`
}

// RunResult is the outcome of a refactoring run (aliased from the domain layer).
type RunResult = refactor.Result

// RunErrorResponse is returned when a run fails. Result carries whatever
// the run produced before failing.
type RunErrorResponse struct {
	Error  string     `json:"error" example:"No code was generated." validate:"required"`
	Result *RunResult `json:"result,omitempty"`
}

// RunListResponse wraps paginated run listings.
type RunListResponse struct {
	Runs  []models.Run `json:"runs" validate:"required"`
	Total int          `json:"total" example:"42" validate:"required"`
}
