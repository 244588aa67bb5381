package internal

import (
	"io"

	"github.com/starford/nbrefactor/internal/llm"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	submitter llm.Submitter
	logOutput io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithSubmitter replaces the OpenAI-compatible client built from the
// llm config section.
func WithSubmitter(s llm.Submitter) Option {
	return func(a *application) {
		a.submitter = s
	}
}

// WithLogOutput sets where the JSON logs go. Defaults to stdout.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}
