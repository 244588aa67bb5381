package internal

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/nbrefactor/internal/apperr"
	"github.com/starford/nbrefactor/internal/models"
	"github.com/starford/nbrefactor/internal/refactor"
	"github.com/starford/nbrefactor/internal/testutil"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Storage.Path = filepath.Join(dir, "artifacts")
	cfg.SQLite.Path = filepath.Join(dir, "db", "history.db")
	return cfg
}

func writeNotebook(t *testing.T, cells ...string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "analysis.ipynb")
	if err := os.WriteFile(p, testutil.Notebook(t, cells...), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestSetup_RequiresConfig(t *testing.T) {
	if _, err := setup(nil); err == nil {
		t.Error("expected error without config")
	}
}

func TestRefactorFile_CopiesArtifacts(t *testing.T) {
	cfg := testConfig(t)
	stub := &testutil.StubLLM{Replies: []string{testutil.Fence("def f():\n    pass"), "No issues found."}}
	out := filepath.Join(t.TempDir(), "out")

	var stages []string
	progress := func(ev models.ProgressEvent) {
		if ev.Status == models.StageCompleted {
			stages = append(stages, ev.Stage)
		}
	}

	res, err := RefactorFile(context.Background(), writeNotebook(t, "x = 1", "print(x)"),
		refactor.Input{Options: models.Options{Review: true}}, out, progress,
		WithConfig(cfg), WithSubmitter(stub), WithLogOutput(io.Discard))
	if err != nil {
		t.Fatalf("RefactorFile: %v", err)
	}
	if res.RefactoredCode != "def f():\n    pass" {
		t.Errorf("code = %q", res.RefactoredCode)
	}
	if res.Run.NotebookName != "analysis.ipynb" {
		t.Errorf("name = %q, want analysis.ipynb", res.Run.NotebookName)
	}
	if got := strings.Join(stages, ","); got != "extract,refactor,review" {
		t.Errorf("stages = %q", got)
	}
	if len(res.Run.Artifacts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(res.Run.Artifacts))
	}
	for _, a := range res.Run.Artifacts {
		if _, err := os.Stat(filepath.Join(out, a.Filename)); err != nil {
			t.Errorf("artifact %s not copied: %v", a.Filename, err)
		}
		if _, err := os.Stat(filepath.Join(cfg.Storage.Path, a.RunID, a.Filename)); err != nil {
			t.Errorf("artifact %s not stored: %v", a.Filename, err)
		}
	}
	if _, err := os.Stat(cfg.SQLite.Path); err != nil {
		t.Errorf("history db not created: %v", err)
	}
}

func TestRefactorFile_NoCode(t *testing.T) {
	cfg := testConfig(t)
	stub := &testutil.StubLLM{Replies: []string{"I could not refactor this."}}

	res, err := RefactorFile(context.Background(), writeNotebook(t, "x = 1"),
		refactor.Input{}, "", nil,
		WithConfig(cfg), WithSubmitter(stub), WithLogOutput(io.Discard))
	if !errors.Is(err, apperr.ErrNoCodeGenerated) {
		t.Fatalf("err = %v, want ErrNoCodeGenerated", err)
	}
	if res == nil || res.Run.Status != models.RunFailed {
		t.Errorf("result = %+v", res)
	}
}

func TestRefactorFile_MissingFile(t *testing.T) {
	cfg := testConfig(t)
	_, err := RefactorFile(context.Background(), filepath.Join(t.TempDir(), "nope.ipynb"),
		refactor.Input{}, "", nil,
		WithConfig(cfg), WithSubmitter(&testutil.StubLLM{}), WithLogOutput(io.Discard))
	if err == nil {
		t.Error("expected error for missing notebook")
	}
}

func TestSetup_BadCrewPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Crew.Path = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := setup([]Option{WithConfig(cfg), WithLogOutput(io.Discard)}); err == nil {
		t.Error("expected error for missing crew file")
	}
}
