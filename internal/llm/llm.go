// Package llm submits crew tasks to a large language model.
package llm

import "context"

// Request is a single task handed to an LLM agent.
type Request struct {
	// Role, Goal and Backstory describe the agent.
	Role      string
	Goal      string
	Backstory string
	// Description is the task instructions with the input already
	// substituted; ExpectedOutput tells the model what shape to return.
	Description    string
	ExpectedOutput string
}

// Submitter sends a request and returns the model's raw text answer.
type Submitter interface {
	Submit(ctx context.Context, req Request) (string, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, req Request) (string, error)

// Submit calls f.
func (f SubmitterFunc) Submit(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
