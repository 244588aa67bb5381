// Package apperr holds the sentinel errors shared by the front ends.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// ErrEmptyNotebook means extraction succeeded but produced no code.
	ErrEmptyNotebook = errors.New("could not read ipynb file")

	// ErrNoCodeGenerated means an LLM response carried no fenced code block.
	ErrNoCodeGenerated = errors.New("no code was generated")
)
