// Package refactor runs a notebook through the crew: extract, refactor,
// and the optional review and UI stages.
package refactor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/nbrefactor/internal/apperr"
	"github.com/starford/nbrefactor/internal/checksum"
	"github.com/starford/nbrefactor/internal/codeblock"
	"github.com/starford/nbrefactor/internal/history"
	"github.com/starford/nbrefactor/internal/llm"
	"github.com/starford/nbrefactor/internal/models"
	"github.com/starford/nbrefactor/internal/notebook"
	"github.com/starford/nbrefactor/internal/prompts"
	"github.com/starford/nbrefactor/internal/storage"
)

// TimestampLayout is the artifact filename suffix layout.
const TimestampLayout = "20060102150405"

// ProgressFunc receives stage transitions of a run.
type ProgressFunc func(models.ProgressEvent)

// Input is one notebook to refactor. Exactly one of Source or Reader is used;
// Reader wins when both are set.
type Input struct {
	RunID   string // must be a UUID; generated when empty or invalid
	Name    string
	Source  []byte
	Reader  io.Reader
	Options models.Options
}

// Result holds everything a run produced.
type Result struct {
	Run            models.Run `json:"run"`
	Source         string     `json:"-"`
	RefactoredCode string     `json:"refactored_code,omitempty"`
	Review         string     `json:"review,omitempty"`
	UICode         string     `json:"ui_code,omitempty"`
	UIReview       string     `json:"ui_review,omitempty"`
}

// Service coordinates the LLM stages, artifact storage and run history.
type Service struct {
	crew     *prompts.Crew
	llm      llm.Submitter
	store    storage.Provider
	history  history.Recorder
	logger   *slog.Logger
	progress ProgressFunc
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithStore persists artifacts to store.
func WithStore(store storage.Provider) Option {
	return func(s *Service) { s.store = store }
}

// WithHistory records runs and artifacts.
func WithHistory(h history.Recorder) Option {
	return func(s *Service) { s.history = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Service) { s.progress = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a refactoring service.
func NewService(crew *prompts.Crew, submitter llm.Submitter, opts ...Option) *Service {
	s := &Service{
		crew:   crew,
		llm:    submitter,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Crew returns the active crew definitions.
func (s *Service) Crew() *prompts.Crew {
	return s.crew
}

// Run executes the pipeline. The returned Result is non-nil whenever the run
// started, including on error: a UI-stage failure still carries the
// refactored code.
func (s *Service) Run(ctx context.Context, in Input) (*Result, error) {
	id := runID(in.RunID)
	res := &Result{Run: models.Run{
		ID:           id,
		NotebookName: in.Name,
		Status:       models.RunRunning,
		Options:      in.Options,
		CreatedAt:    s.now().UTC(),
		Artifacts:    []models.Artifact{},
	}}
	log := s.logger.With(slog.String("run_id", id))
	if s.history != nil {
		if err := s.history.CreateRun(res.Run); err != nil {
			if errors.Is(err, apperr.ErrAlreadyExists) {
				// The id belongs to another run; nothing of it may be touched.
				finished := s.now().UTC()
				res.Run.Status = models.RunFailed
				res.Run.Error = Message(err)
				res.Run.FinishedAt = &finished
				log.Warn("refactor: run id already in use")
				return res, fmt.Errorf("refactor: run %s: %w", id, err)
			}
			log.Warn("refactor: record run failed", slog.String("error", err.Error()))
		}
	}

	err := s.pipeline(ctx, in, res, log)
	s.finish(res, err, log)
	return res, err
}

// runID returns the canonical form of a requested run id, or a fresh one
// when the request is empty or not a UUID.
func runID(requested string) string {
	if id, err := uuid.Parse(requested); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

func (s *Service) pipeline(ctx context.Context, in Input, res *Result, log *slog.Logger) error {
	ts := s.now().Format(TimestampLayout)

	src, err := s.stage(res.Run.ID, models.StageExtract, log, func() (string, error) {
		r := in.Reader
		if r == nil {
			r = bytes.NewReader(in.Source)
		}
		src, err := notebook.ExtractReader(r)
		if err != nil {
			return "", err
		}
		if src == "" {
			return "", apperr.ErrEmptyNotebook
		}
		return src, nil
	})
	if err != nil {
		return err
	}
	res.Source = src

	code, err := s.stage(res.Run.ID, models.StageRefactor, log, func() (string, error) {
		return s.generate(ctx, prompts.TaskRefactor, src)
	})
	if err != nil {
		return err
	}
	res.RefactoredCode = code
	s.persist(res, models.ArtifactRefactored, "refactored_code_"+ts+codeblock.Ext(codeblock.Python), code, log)

	if in.Options.Review {
		review, err := s.stage(res.Run.ID, models.StageReview, log, func() (string, error) {
			return s.submit(ctx, prompts.TaskReview, code)
		})
		if err != nil {
			return err
		}
		res.Review = review
		s.persist(res, models.ArtifactReview, "review_"+ts+codeblock.Ext(codeblock.Markdown), review, log)
	}

	if !in.Options.GenerateUI {
		return nil
	}
	ui, err := s.stage(res.Run.ID, models.StageUI, log, func() (string, error) {
		return s.generate(ctx, prompts.TaskUI, code)
	})
	if err != nil {
		return err
	}
	res.UICode = ui
	s.persist(res, models.ArtifactUI, "ui_app_"+ts+codeblock.Ext(codeblock.Python), ui, log)

	if in.Options.ReviewUI {
		review, err := s.stage(res.Run.ID, models.StageUIReview, log, func() (string, error) {
			return s.submit(ctx, prompts.TaskUIReview, ui)
		})
		if err != nil {
			return err
		}
		res.UIReview = review
		s.persist(res, models.ArtifactUIReview, "ui_review_"+ts+codeblock.Ext(codeblock.Markdown), review, log)
	}
	return nil
}

// stage wraps fn with progress events and timing logs.
func (s *Service) stage(runID, name string, log *slog.Logger, fn func() (string, error)) (string, error) {
	s.emit(models.ProgressEvent{RunID: runID, Stage: name, Status: models.StageStarted})
	start := time.Now()
	out, err := fn()
	attrs := []any{slog.String("stage", name), slog.Duration("duration", time.Since(start))}
	if err != nil {
		log.Warn("refactor: stage failed", append(attrs, slog.String("error", err.Error()))...)
		s.emit(models.ProgressEvent{RunID: runID, Stage: name, Status: models.StageFailed, Message: Message(err)})
		return "", err
	}
	log.Info("refactor: stage completed", attrs...)
	s.emit(models.ProgressEvent{RunID: runID, Stage: name, Status: models.StageCompleted})
	return out, nil
}

// generate submits task and returns the first python block of the answer.
func (s *Service) generate(ctx context.Context, task, input string) (string, error) {
	text, err := s.submit(ctx, task, input)
	if err != nil {
		return "", err
	}
	code, ok := codeblock.ExtractFirst(text, codeblock.Python)
	if !ok {
		return "", fmt.Errorf("refactor: %s stage: %w", task, apperr.ErrNoCodeGenerated)
	}
	return code, nil
}

func (s *Service) submit(ctx context.Context, task, input string) (string, error) {
	req, err := s.crew.Request(task, input)
	if err != nil {
		return "", err
	}
	text, err := s.llm.Submit(ctx, req)
	if err != nil {
		return "", fmt.Errorf("refactor: %s stage: %w", task, err)
	}
	return text, nil
}

// persist stores an artifact. Failures are logged and never fail the run.
func (s *Service) persist(res *Result, kind models.ArtifactKind, filename, content string, log *slog.Logger) {
	if s.store == nil {
		return
	}
	data := []byte(content)
	a := models.Artifact{
		RunID:     res.Run.ID,
		Kind:      kind,
		Filename:  filename,
		Checksum:  checksum.Sum(data),
		Size:      int64(len(data)),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Write(a.Path(), data); err != nil {
		log.Warn("refactor: store artifact failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
		return
	}
	res.Run.Artifacts = append(res.Run.Artifacts, a)
	if s.history != nil {
		if err := s.history.AddArtifact(a); err != nil {
			log.Warn("refactor: record artifact failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
		}
	}
}

func (s *Service) finish(res *Result, err error, log *slog.Logger) {
	finished := s.now().UTC()
	res.Run.FinishedAt = &finished
	res.Run.Status = models.RunSucceeded
	if err != nil {
		res.Run.Status = models.RunFailed
		res.Run.Error = Message(err)
	}
	if s.history != nil {
		if herr := s.history.FinishRun(res.Run.ID, res.Run.Status, res.Run.Error); herr != nil {
			log.Warn("refactor: finish run failed", slog.String("error", herr.Error()))
		}
	}
	log.Info("refactor: run finished", slog.String("status", string(res.Run.Status)))
}

// Message renders err the way front ends show it to users.
func Message(err error) string {
	var extractErr *notebook.ExtractError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, apperr.ErrNoCodeGenerated):
		return "No code was generated."
	case errors.Is(err, apperr.ErrEmptyNotebook):
		return "Could not read ipynb file."
	case errors.Is(err, apperr.ErrAlreadyExists):
		return "This run has already been submitted."
	case errors.As(err, &extractErr):
		return "Error reading ipynb file: " + extractErr.Err.Error()
	default:
		return "An error occurred: " + err.Error()
	}
}

func (s *Service) emit(ev models.ProgressEvent) {
	if s.progress != nil {
		s.progress(ev)
	}
}
