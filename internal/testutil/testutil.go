// Package testutil provides shared test helpers for notebooks, stores and databases.
package testutil

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/starford/nbrefactor/internal/history"
	"github.com/starford/nbrefactor/internal/llm"
	"github.com/starford/nbrefactor/internal/storage"
)

// TestDB creates a temporary SQLite history database that is automatically cleaned up.
func TestDB(t *testing.T) *history.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "nbrefactor-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := history.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore creates a temporary artifact directory with a storage.FS.
func TestStore(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Notebook builds notebook JSON. Each argument is a code cell; arguments
// prefixed with "# md:" become markdown cells.
func Notebook(t *testing.T, cells ...string) []byte {
	t.Helper()
	type cell struct {
		CellType string   `json:"cell_type"`
		Source   []string `json:"source"`
	}
	doc := struct {
		Cells []cell `json:"cells"`
	}{Cells: []cell{}}
	for _, c := range cells {
		kind := "code"
		if rest, ok := strings.CutPrefix(c, "# md:"); ok {
			kind, c = "markdown", rest
		}
		doc.Cells = append(doc.Cells, cell{CellType: kind, Source: []string{c}})
	}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// Fence wraps code in a python code fence.
func Fence(code string) string {
	return "```python\n" + code + "\n```"
}

// StubLLM is a scripted llm.Submitter. Replies are returned in order; it
// records every request it receives.
type StubLLM struct {
	mu       sync.Mutex
	Replies  []string
	Err      error
	Requests []llm.Request
}

// Submit implements llm.Submitter.
func (s *StubLLM) Submit(ctx context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.Requests = append(s.Requests, req)
	if s.Err != nil {
		return "", s.Err
	}
	if len(s.Replies) == 0 {
		return "", nil
	}
	r := s.Replies[0]
	s.Replies = s.Replies[1:]
	return r, nil
}

// Calls returns the number of requests received.
func (s *StubLLM) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}
