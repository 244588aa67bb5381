package internal

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/nbrefactor/internal/llm"
	"github.com/starford/nbrefactor/internal/models"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	LLM     llm.Config        `yaml:"llm"`
	Crew    CrewConfig        `yaml:"crew"`
	Storage StorageConfig     `yaml:"storage"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Auth    AuthConfig        `yaml:"auth"`
	Inbox   InboxConfig       `yaml:"inbox"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port           int   `yaml:"port"`
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.MaxUploadBytes, validation.Min(int64(0))),
	)
}

// CrewConfig points at an alternative crew definition file.
// An empty Path selects the built-in crew.
type CrewConfig struct {
	Path string `yaml:"path"`
}

// StorageConfig holds the artifact directory.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration for the /api routes.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// InboxConfig enables the watched inbox directory. An empty Path disables it.
// The embedded options apply to every notebook dropped there.
type InboxConfig struct {
	Path           string `yaml:"path"`
	models.Options `yaml:",inline"`
}

// Enabled reports whether the inbox is configured.
func (c *InboxConfig) Enabled() bool {
	return c.Path != ""
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port:           8080,
				MaxUploadBytes: 20 << 20,
			},
		},
		LLM: llm.Config{
			BaseURL:             llm.GeminiOpenAIBaseURL,
			APIKey:              os.Getenv("GOOGLE_API_KEY"),
			Model:               "gemini-2.0-flash-exp",
			MaxCompletionTokens: 8192,
			Timeout:             5 * time.Minute,
		},
		Storage: StorageConfig{
			Path: "./artifacts",
		},
		SQLite: SQLiteConfig{
			Path: "./nbrefactor.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
