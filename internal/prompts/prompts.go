// Package prompts defines the crew: the agents and the tasks they are given
// at each refactoring stage.
package prompts

import (
	_ "embed"
	"fmt"
	"strings"
	"text/template"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/nbrefactor/internal/llm"
	pkgconfig "github.com/starford/nbrefactor/pkg/config"
)

// Task names, one per LLM stage.
const (
	TaskRefactor = "refactor"
	TaskReview   = "review"
	TaskUI       = "ui"
	TaskUIReview = "ui_review"
)

// RequiredTasks lists the tasks every crew must define.
var RequiredTasks = []string{TaskRefactor, TaskReview, TaskUI, TaskUIReview}

//go:embed crew.yaml
var defaultCrewYAML []byte

// Agent is an LLM persona.
type Agent struct {
	Role      string `yaml:"role"`
	Goal      string `yaml:"goal"`
	Backstory string `yaml:"backstory"`
}

// Validate validates the agent.
func (a Agent) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Role, validation.Required),
		validation.Field(&a.Goal, validation.Required),
	)
}

// Task is a unit of work for one agent. Description is a text/template
// rendered with {{.Context}} set to the stage input.
type Task struct {
	Agent          string `yaml:"agent"`
	Description    string `yaml:"description"`
	ExpectedOutput string `yaml:"expected_output"`
}

// Crew is the full set of agents and tasks.
type Crew struct {
	Agents map[string]Agent `yaml:"agents"`
	Tasks  map[string]Task  `yaml:"tasks"`

	templates map[string]*template.Template
}

// Validate checks that every required task exists, references a known
// agent and has a parseable description. It compiles the templates.
func (c *Crew) Validate() error {
	for name, a := range c.Agents {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("agent %s: %w", name, err)
		}
	}
	templates := make(map[string]*template.Template, len(c.Tasks))
	for _, name := range RequiredTasks {
		if _, ok := c.Tasks[name]; !ok {
			return fmt.Errorf("crew: task %q is not defined", name)
		}
	}
	for name, t := range c.Tasks {
		if err := validation.ValidateStruct(&t,
			validation.Field(&t.Agent, validation.Required),
			validation.Field(&t.Description, validation.Required),
		); err != nil {
			return fmt.Errorf("task %s: %w", name, err)
		}
		if _, ok := c.Agents[t.Agent]; !ok {
			return fmt.Errorf("task %s: unknown agent %q", name, t.Agent)
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(t.Description)
		if err != nil {
			return fmt.Errorf("task %s: description: %w", name, err)
		}
		templates[name] = tmpl
	}
	c.templates = templates
	return nil
}

// Request builds the LLM request for task with input substituted into the
// task description.
func (c *Crew) Request(task, input string) (llm.Request, error) {
	t, ok := c.Tasks[task]
	if !ok {
		return llm.Request{}, fmt.Errorf("crew: unknown task %q", task)
	}
	tmpl, ok := c.templates[task]
	if !ok {
		return llm.Request{}, fmt.Errorf("crew: task %q not compiled", task)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, struct{ Context string }{Context: input}); err != nil {
		return llm.Request{}, fmt.Errorf("crew: render %s: %w", task, err)
	}
	a := c.Agents[t.Agent]
	return llm.Request{
		Role:           a.Role,
		Goal:           a.Goal,
		Backstory:      a.Backstory,
		Description:    b.String(),
		ExpectedOutput: t.ExpectedOutput,
	}, nil
}

// YAML renders the crew definition.
func (c *Crew) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Default returns the built-in crew.
func Default() (*Crew, error) {
	c := &Crew{}
	if err := pkgconfig.Decode(defaultCrewYAML, c); err != nil {
		return nil, fmt.Errorf("crew: built-in definition: %w", err)
	}
	return c, nil
}

// Load returns the crew defined in path, or the built-in crew when path is
// empty.
func Load(path string) (*Crew, error) {
	if path == "" {
		return Default()
	}
	c := &Crew{}
	if err := pkgconfig.Load(path, c); err != nil {
		return nil, err
	}
	return c, nil
}
