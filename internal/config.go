package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/sketchmark/internal/drawsync"
	"github.com/starford/sketchmark/internal/links"
	"github.com/starford/sketchmark/internal/textstore"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Vault   VaultConfig       `yaml:"vault"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Auth    AuthConfig        `yaml:"auth"`
	Display DisplayConfig     `yaml:"display"`
	Resolve ResolveConfig     `yaml:"resolve"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Display.Validate(); err != nil {
		return err
	}
	return c.Resolve.Validate()
}

// Settings returns the display settings new drawing sessions start from.
func (c *Config) Settings() drawsync.Settings {
	mode, _ := textstore.ParseMode(c.Display.DefaultMode)
	return drawsync.Settings{
		Links: links.Options{
			ShowBrackets: c.Display.ShowLinkBrackets,
			LinkPrefix:   c.Display.LinkPrefix,
			URLPrefix:    c.Display.URLPrefix,
		},
		Mode:           mode,
		ResolveTimeout: c.Resolve.Timeout,
	}
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
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
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

// AuthConfig holds authentication configuration.
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
	// Normalise empty mode to "disabled" for backward compatibility.
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

// DisplayConfig holds how link syntax is shown in resolved mode. Drawings
// may override the link settings in their frontmatter.
type DisplayConfig struct {
	ShowLinkBrackets bool   `yaml:"show_link_brackets"`
	LinkPrefix       string `yaml:"link_prefix"`
	URLPrefix        string `yaml:"url_prefix"`
	DefaultMode      string `yaml:"default_mode"`
}

// Validate validates the display configuration.
func (c *DisplayConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DefaultMode, validation.Required, validation.By(func(v interface{}) error {
			if _, ok := textstore.ParseMode(v.(string)); !ok {
				return errors.New("must be raw or resolved")
			}
			return nil
		})),
	)
}

// ResolveConfig bounds background transclusion resolution.
type ResolveConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the resolve configuration.
func (c *ResolveConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		SQLite: SQLiteConfig{
			Path: "./sketchmark.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Display: DisplayConfig{
			ShowLinkBrackets: true,
			LinkPrefix:       "📍",
			URLPrefix:        "🌐",
			DefaultMode:      "resolved",
		},
		Resolve: ResolveConfig{
			Timeout: 10 * time.Second,
		},
	}
}
