package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	openai "github.com/sashabaranov/go-openai"
)

// GeminiOpenAIBaseURL is Google's OpenAI-compatible endpoint.
const GeminiOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

// ErrEmptyResponse is returned when the provider answers without choices.
var ErrEmptyResponse = errors.New("llm: no choices returned")

// Config holds the connection and sampling settings of the LLM provider.
type Config struct {
	BaseURL             string        `yaml:"base_url"`
	APIKey              string        `yaml:"api_key"`
	Model               string        `yaml:"model"`
	MaxCompletionTokens int           `yaml:"max_completion_tokens"`
	Temperature         float32       `yaml:"temperature"`
	Timeout             time.Duration `yaml:"timeout"`
}

// Validate validates the LLM configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.MaxCompletionTokens, validation.Required, validation.Min(1)),
		validation.Field(&c.Temperature, validation.Min(float32(0)), validation.Max(float32(2))),
	)
}

// OpenAIClient implements Submitter against any OpenAI-compatible
// chat-completions API.
type OpenAIClient struct {
	client *openai.Client
	cfg    Config
	logger *slog.Logger
}

// NewOpenAIClient builds a client from cfg. A zero Timeout means no
// client-side timeout beyond the request context.
func NewOpenAIClient(cfg Config, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		cfg:    cfg,
		logger: logger,
	}
}

// Submit sends req as a system + user message pair and returns the first
// choice's content.
func (c *OpenAIClient) Submit(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: TaskPrompt(req)},
		},
		MaxTokens:   c.cfg.MaxCompletionTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		c.logger.Error("llm request failed",
			slog.String("model", c.cfg.Model),
			slog.String("role", req.Role),
			slog.String("error", err.Error()))
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	c.logger.Debug("llm response received",
		slog.String("model", c.cfg.Model),
		slog.String("role", req.Role),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
		slog.Duration("duration", time.Since(start)))

	return resp.Choices[0].Message.Content, nil
}

// SystemPrompt renders the agent persona.
func SystemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are ")
	b.WriteString(req.Role)
	b.WriteString(".")
	if req.Backstory != "" {
		b.WriteString(" ")
		b.WriteString(req.Backstory)
	}
	if req.Goal != "" {
		b.WriteString("\nYour personal goal is: ")
		b.WriteString(req.Goal)
	}
	return b.String()
}

// TaskPrompt renders the task instructions and expected output.
func TaskPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Current Task: ")
	b.WriteString(req.Description)
	if req.ExpectedOutput != "" {
		b.WriteString("\n\nThis is the expected criteria for your final answer: ")
		b.WriteString(req.ExpectedOutput)
		b.WriteString("\nYou MUST return the actual complete content as the final answer, not a summary.")
	}
	return b.String()
}
