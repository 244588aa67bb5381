package refactor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/nbrefactor/internal/apperr"
	"github.com/starford/nbrefactor/internal/llm"
	"github.com/starford/nbrefactor/internal/models"
	"github.com/starford/nbrefactor/internal/notebook"
	"github.com/starford/nbrefactor/internal/prompts"
	"github.com/starford/nbrefactor/internal/testutil"
)

var fixedNow = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (r *recorder) record(ev models.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Stage + ":" + string(ev.Status)
	}
	return out
}

func newTestService(t *testing.T, sub llm.Submitter) (*Service, *recorder) {
	t.Helper()
	crew, err := prompts.Default()
	if err != nil {
		t.Fatal(err)
	}
	_, store := testutil.TestStore(t)
	rec := &recorder{}
	svc := NewService(crew, sub,
		WithStore(store),
		WithHistory(testutil.TestDB(t)),
		WithProgress(rec.record),
		WithClock(func() time.Time { return fixedNow }),
	)
	return svc, rec
}

func TestRun_RefactorOnly(t *testing.T) {
	stub := &testutil.StubLLM{Replies: []string{"Here:\n" + testutil.Fence("def add(x, y):\n    return x + y")}}
	svc, rec := newTestService(t, stub)

	res, err := svc.Run(context.Background(), Input{
		Name:   "sum.ipynb",
		Source: testutil.Notebook(t, "x = 1\ny = 2", "# md:notes", "print(x+y)"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Source != "x = 1\ny = 2\nprint(x+y)" {
		t.Errorf("source = %q", res.Source)
	}
	if res.RefactoredCode != "def add(x, y):\n    return x + y" {
		t.Errorf("code = %q", res.RefactoredCode)
	}
	if stub.Calls() != 1 {
		t.Errorf("calls = %d, want 1", stub.Calls())
	}
	if !strings.Contains(stub.Requests[0].Description, "x = 1\ny = 2\nprint(x+y)") {
		t.Errorf("description = %q", stub.Requests[0].Description)
	}
	if res.Run.Status != models.RunSucceeded {
		t.Errorf("status = %q", res.Run.Status)
	}
	if len(res.Run.Artifacts) != 1 || res.Run.Artifacts[0].Filename != "refactored_code_20250304050607.py" {
		t.Errorf("artifacts = %+v", res.Run.Artifacts)
	}

	want := []string{"extract:started", "extract:completed", "refactor:started", "refactor:completed"}
	if got := rec.stages(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestRun_AllStages(t *testing.T) {
	stub := &testutil.StubLLM{Replies: []string{
		testutil.Fence("def f():\n    pass"),
		"- looks fine",
		testutil.Fence("import streamlit as st\nst.write(f())"),
		"- ui ok",
	}}
	svc, _ := newTestService(t, stub)

	res, err := svc.Run(context.Background(), Input{
		Source:  testutil.Notebook(t, "def f():\n    pass"),
		Options: models.Options{Review: true, GenerateUI: true, ReviewUI: true},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RefactoredCode != "def f():\n    pass" {
		t.Errorf("code = %q", res.RefactoredCode)
	}
	if res.Review != "- looks fine" || res.UIReview != "- ui ok" {
		t.Errorf("reviews = %q / %q", res.Review, res.UIReview)
	}
	if res.UICode != "import streamlit as st\nst.write(f())" {
		t.Errorf("ui = %q", res.UICode)
	}
	if stub.Calls() != 4 {
		t.Fatalf("calls = %d, want 4", stub.Calls())
	}
	// Review and UI stages receive the extracted block, UI review the UI block.
	if !strings.Contains(stub.Requests[1].Description, "def f():\n    pass") {
		t.Errorf("review input = %q", stub.Requests[1].Description)
	}
	if !strings.Contains(stub.Requests[3].Description, "st.write(f())") {
		t.Errorf("ui review input = %q", stub.Requests[3].Description)
	}
	if len(res.Run.Artifacts) != 4 {
		t.Fatalf("artifacts = %d, want 4", len(res.Run.Artifacts))
	}
	wantNames := []string{
		"refactored_code_20250304050607.py",
		"review_20250304050607.md",
		"ui_app_20250304050607.py",
		"ui_review_20250304050607.md",
	}
	for i, want := range wantNames {
		if got := res.Run.Artifacts[i].Filename; got != want {
			t.Errorf("artifact %d = %q, want %q", i, got, want)
		}
	}
}

func TestRun_NoCodeGeneratedAborts(t *testing.T) {
	stub := &testutil.StubLLM{Replies: []string{"I cannot help with that."}}
	svc, rec := newTestService(t, stub)

	res, err := svc.Run(context.Background(), Input{
		Source:  testutil.Notebook(t, "x = 1"),
		Options: models.Options{Review: true, GenerateUI: true, ReviewUI: true},
	})
	if !errors.Is(err, apperr.ErrNoCodeGenerated) {
		t.Fatalf("err = %v, want ErrNoCodeGenerated", err)
	}
	if stub.Calls() != 1 {
		t.Errorf("calls = %d, want 1", stub.Calls())
	}
	if res.Run.Status != models.RunFailed || res.Run.Error != "No code was generated." {
		t.Errorf("run = %+v", res.Run)
	}
	if len(res.Run.Artifacts) != 0 {
		t.Errorf("artifacts = %+v", res.Run.Artifacts)
	}
	got := rec.stages()
	if got[len(got)-1] != "refactor:failed" {
		t.Errorf("events = %v", got)
	}
}

func TestRun_UIMissKeepsRefactoredCode(t *testing.T) {
	stub := &testutil.StubLLM{Replies: []string{testutil.Fence("def f():\n    pass"), "no fence here"}}
	svc, _ := newTestService(t, stub)

	res, err := svc.Run(context.Background(), Input{
		Source:  testutil.Notebook(t, "x = 1"),
		Options: models.Options{GenerateUI: true, ReviewUI: true},
	})
	if !errors.Is(err, apperr.ErrNoCodeGenerated) {
		t.Fatalf("err = %v, want ErrNoCodeGenerated", err)
	}
	if res.RefactoredCode != "def f():\n    pass" {
		t.Errorf("code = %q", res.RefactoredCode)
	}
	if stub.Calls() != 2 {
		t.Errorf("calls = %d, want 2", stub.Calls())
	}
}

func TestRun_ReviewUIRequiresGenerateUI(t *testing.T) {
	stub := &testutil.StubLLM{Replies: []string{testutil.Fence("def f():\n    pass")}}
	svc, _ := newTestService(t, stub)

	if _, err := svc.Run(context.Background(), Input{
		Source:  testutil.Notebook(t, "x = 1"),
		Options: models.Options{ReviewUI: true},
	}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stub.Calls() != 1 {
		t.Errorf("calls = %d, want 1", stub.Calls())
	}
}

func TestRun_EmptyNotebook(t *testing.T) {
	stub := &testutil.StubLLM{}
	svc, _ := newTestService(t, stub)

	_, err := svc.Run(context.Background(), Input{Source: testutil.Notebook(t, "# md:only prose")})
	if !errors.Is(err, apperr.ErrEmptyNotebook) {
		t.Fatalf("err = %v, want ErrEmptyNotebook", err)
	}
	if stub.Calls() != 0 {
		t.Errorf("calls = %d, want 0", stub.Calls())
	}
}

func TestRun_MalformedNotebook(t *testing.T) {
	stub := &testutil.StubLLM{}
	svc, _ := newTestService(t, stub)

	res, err := svc.Run(context.Background(), Input{Reader: strings.NewReader("{not json")})
	var extractErr *notebook.ExtractError
	if !errors.As(err, &extractErr) {
		t.Fatalf("err = %v, want *notebook.ExtractError", err)
	}
	if !strings.HasPrefix(res.Run.Error, "Error reading ipynb file: ") {
		t.Errorf("message = %q", res.Run.Error)
	}
	if stub.Calls() != 0 {
		t.Errorf("calls = %d, want 0", stub.Calls())
	}
}

func TestRun_LLMError(t *testing.T) {
	stub := &testutil.StubLLM{Err: errors.New("quota exceeded")}
	svc, _ := newTestService(t, stub)

	res, err := svc.Run(context.Background(), Input{Source: testutil.Notebook(t, "x = 1")})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("err = %v", err)
	}
	if res.Run.Error != "An error occurred: "+err.Error() {
		t.Errorf("message = %q", res.Run.Error)
	}
}

func TestRun_RecordsHistory(t *testing.T) {
	crew, _ := prompts.Default()
	db := testutil.TestDB(t)
	_, store := testutil.TestStore(t)
	stub := &testutil.StubLLM{Replies: []string{testutil.Fence("print(1)"), "fine"}}
	svc := NewService(crew, stub, WithStore(store), WithHistory(db))
	const run42 = "6f1c2b9e-3d4a-4c8b-9e2f-0a1b2c3d4e42"

	res, err := svc.Run(context.Background(), Input{
		RunID:   run42,
		Name:    "nb.ipynb",
		Source:  testutil.Notebook(t, "print(1)"),
		Options: models.Options{Review: true},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Run.ID != run42 {
		t.Errorf("id = %q", res.Run.ID)
	}

	run, err := db.GetRun(run42)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != models.RunSucceeded || run.NotebookName != "nb.ipynb" {
		t.Errorf("run = %+v", run)
	}
	if len(run.Artifacts) != 2 {
		t.Fatalf("artifacts = %+v", run.Artifacts)
	}
	data, err := store.Read(run.Artifacts[0].Path())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "print(1)" {
		t.Errorf("artifact = %q", data)
	}
}

func TestRun_DuplicateRunIDLeavesEarlierRunIntact(t *testing.T) {
	crew, _ := prompts.Default()
	db := testutil.TestDB(t)
	_, store := testutil.TestStore(t)
	stub := &testutil.StubLLM{Replies: []string{testutil.Fence("print(1)"), testutil.Fence("ATTACKER = 1")}}
	svc := NewService(crew, stub, WithStore(store), WithHistory(db))

	first, err := svc.Run(context.Background(), Input{Name: "a.ipynb", Source: testutil.Notebook(t, "print(1)")})
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}

	second, err := svc.Run(context.Background(), Input{
		RunID:  first.Run.ID,
		Name:   "b.ipynb",
		Source: testutil.Notebook(t, "x = 1"),
	})
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	if second.Run.Status != models.RunFailed {
		t.Errorf("status = %q, want failed", second.Run.Status)
	}
	if stub.Calls() != 1 {
		t.Errorf("llm calls = %d, want 1", stub.Calls())
	}

	run, err := db.GetRun(first.Run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.NotebookName != "a.ipynb" || run.Status != models.RunSucceeded {
		t.Errorf("run = %+v", run)
	}
	data, err := store.Read(run.Artifacts[0].Path())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "print(1)" {
		t.Errorf("artifact = %q, want original code", data)
	}
}

func TestRun_InvalidRunIDReplaced(t *testing.T) {
	stub := &testutil.StubLLM{Replies: []string{testutil.Fence("print(1)")}}
	svc, _ := newTestService(t, stub)

	for _, requested := range []string{"a/b", "../x", "run-7"} {
		stub.Replies = []string{testutil.Fence("print(1)")}
		res, err := svc.Run(context.Background(), Input{RunID: requested, Source: testutil.Notebook(t, "print(1)")})
		if err != nil {
			t.Fatalf("Run(%q): %v", requested, err)
		}
		if res.Run.ID == requested || strings.ContainsAny(res.Run.ID, "/.") {
			t.Errorf("Run(%q) id = %q", requested, res.Run.ID)
		}
	}
}

func TestRun_RunIDCanonicalised(t *testing.T) {
	stub := &testutil.StubLLM{Replies: []string{testutil.Fence("print(1)")}}
	svc, _ := newTestService(t, stub)
	res, err := svc.Run(context.Background(), Input{
		RunID:  "6F1C2B9E-3D4A-4C8B-9E2F-0A1B2C3D4E5F",
		Source: testutil.Notebook(t, "print(1)"),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Run.ID != "6f1c2b9e-3d4a-4c8b-9e2f-0a1b2c3d4e5f" {
		t.Errorf("id = %q", res.Run.ID)
	}
}

func TestRun_WithoutStore(t *testing.T) {
	crew, _ := prompts.Default()
	stub := &testutil.StubLLM{Replies: []string{testutil.Fence("print(1)")}}
	res, err := NewService(crew, stub).Run(context.Background(), Input{Source: testutil.Notebook(t, "print(1)")})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Run.Artifacts) != 0 {
		t.Errorf("artifacts = %+v", res.Run.Artifacts)
	}
	if res.Run.ID == "" {
		t.Error("run id not generated")
	}
}

func TestRun_CancelledContext(t *testing.T) {
	stub := &testutil.StubLLM{Replies: []string{testutil.Fence("print(1)")}}
	svc, _ := newTestService(t, stub)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Run(ctx, Input{Source: testutil.Notebook(t, "print(1)")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestMessage(t *testing.T) {
	cases := map[error]string{
		nil:                                            "",
		apperr.ErrEmptyNotebook:                        "Could not read ipynb file.",
		apperr.ErrNoCodeGenerated:                      "No code was generated.",
		apperr.ErrAlreadyExists:                        "This run has already been submitted.",
		&notebook.ExtractError{Err: errors.New("bad")}: "Error reading ipynb file: bad",
		errors.New("boom"):                             "An error occurred: boom",
	}
	for err, want := range cases {
		if got := Message(err); got != want {
			t.Errorf("Message(%v) = %q, want %q", err, got, want)
		}
	}
}
