// Package notebook extracts the code-cell source of Jupyter notebooks.
package notebook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// CellTypeCode is the cell_type of executable cells.
const CellTypeCode = "code"

// ExtractError reports a notebook that could not be read or does not have
// the expected shape. Err holds the underlying I/O, JSON or shape problem.
type ExtractError struct {
	Err error
}

func (e *ExtractError) Error() string {
	return "notebook: " + e.Err.Error()
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

func shapeError(format string, args ...any) error {
	return &ExtractError{Err: fmt.Errorf(format, args...)}
}

// Document is the subset of the nbformat structure the extractor needs.
type Document struct {
	Cells []Cell `json:"cells"`
}

// Cell is a single notebook cell.
type Cell struct {
	CellType string `json:"cell_type"`
	Source   Source `json:"source"`
}

// Source is a cell body. Notebooks store it either as one string or as a
// list of fragments that already carry their own trailing newlines.
type Source []string

// String joins the fragments with no separator.
func (s Source) String() string {
	return strings.Join(s, "")
}

// UnmarshalJSON accepts a string or an array of strings.
func (s *Source) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return fmt.Errorf("source is null")
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = Source{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("source must be a string or a list of strings")
	}
	*s = many
	return nil
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// rawDocument keeps fields as raw JSON so absent keys can be told apart
// from empty values.
type rawDocument struct {
	Cells *[]map[string]json.RawMessage `json:"cells"`
}

// Parse decodes notebook JSON and checks that every cell has a cell_type
// and a source.
func Parse(data []byte) (*Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ExtractError{Err: err}
	}
	if raw.Cells == nil {
		return nil, shapeError("missing \"cells\"")
	}

	doc := &Document{Cells: make([]Cell, 0, len(*raw.Cells))}
	for i, fields := range *raw.Cells {
		if fields == nil {
			return nil, shapeError("cell %d: not an object", i)
		}
		rawType, ok := fields["cell_type"]
		if !ok {
			return nil, shapeError("cell %d: missing \"cell_type\"", i)
		}
		rawSource, ok := fields["source"]
		if !ok {
			return nil, shapeError("cell %d: missing \"source\"", i)
		}

		var cell Cell
		if isNull(rawType) {
			return nil, shapeError("cell %d: cell_type is null", i)
		}
		if err := json.Unmarshal(rawType, &cell.CellType); err != nil {
			return nil, shapeError("cell %d: cell_type: %w", i, err)
		}
		if err := json.Unmarshal(rawSource, &cell.Source); err != nil {
			return nil, shapeError("cell %d: %w", i, err)
		}
		doc.Cells = append(doc.Cells, cell)
	}
	return doc, nil
}

// Extract returns the source of every code cell in document order, cells
// joined by a single newline. A notebook without code cells yields "".
func Extract(doc *Document) (string, error) {
	if doc == nil {
		return "", shapeError("nil document")
	}
	var parts []string
	for _, c := range doc.Cells {
		if c.CellType != CellTypeCode {
			continue
		}
		parts = append(parts, c.Source.String())
	}
	return strings.Join(parts, "\n"), nil
}

// ExtractBytes parses data and extracts its code.
func ExtractBytes(data []byte) (string, error) {
	doc, err := Parse(data)
	if err != nil {
		return "", err
	}
	return Extract(doc)
}

// ExtractFile reads and extracts the notebook at path.
func ExtractFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &ExtractError{Err: err}
	}
	return ExtractBytes(data)
}

// ExtractReader spools r into a temporary file, extracts it and removes the
// temporary file whether or not extraction succeeds.
func ExtractReader(r io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "nbrefactor-upload-*.ipynb")
	if err != nil {
		return "", &ExtractError{Err: fmt.Errorf("create temp: %w", err)}
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	_, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return "", &ExtractError{Err: fmt.Errorf("spool upload: %w", err)}
	}
	return ExtractFile(tmpName)
}
