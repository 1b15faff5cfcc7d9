package internal

import (
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mnemo/internal/capture"
	"github.com/starford/mnemo/internal/clipwatch"
	"github.com/starford/mnemo/internal/embedding"
	"github.com/starford/mnemo/internal/maintenance"
	"github.com/starford/mnemo/internal/settings"
	"github.com/starford/mnemo/internal/vectorindex"
	pkgconfig "github.com/starford/mnemo/pkg/config"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// DefaultConfigPath is used when neither a flag nor MNEMO_CONFIG_FILE names
// a configuration file.
const DefaultConfigPath = "~/.mnemo/config.yaml"

// Config represents the application configuration. The embedded preferences
// (settings, privacy, search, llm) are hot-swappable; everything else is
// read once at startup.
type Config struct {
	App         ApplicationConfig  `yaml:"app"`
	SQLite      SQLiteConfig       `yaml:"sqlite"`
	Auth        AuthConfig         `yaml:"auth"`
	Capture     capture.Config     `yaml:"capture"`
	Index       vectorindex.Config `yaml:"index"`
	Embedding   embedding.Config   `yaml:"embedding"`
	Maintenance maintenance.Config `yaml:"maintenance"`
	Clipboard   clipwatch.Config   `yaml:"clipboard"`
	Events      EventsConfig       `yaml:"events"`

	settings.Preferences `yaml:",inline"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.SQLite.Validate(); err != nil {
		return fmt.Errorf("sqlite: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&c.Capture,
		validation.Field(&c.Capture.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.Capture.EvictBatch, validation.Min(0)),
		validation.Field(&c.Capture.HighWater, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := validation.ValidateStruct(&c.Index,
		validation.Field(&c.Index.Workers, validation.Min(0), validation.Max(64)),
		validation.Field(&c.Index.QueueSize, validation.Min(0)),
		validation.Field(&c.Index.MaxRetries, validation.Min(0)),
		validation.Field(&c.Index.RescanBatch, validation.Min(0)),
	); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := c.Maintenance.Validate(); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}
	if err := validation.ValidateStruct(&c.Clipboard,
		validation.Field(&c.Clipboard.Interval, validation.When(c.Clipboard.Enabled, validation.Min(10*time.Millisecond))),
	); err != nil {
		return fmt.Errorf("clipboard: %w", err)
	}
	return c.Preferences.Validate()
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

// HTTPConfig holds HTTP server configuration. The server is meant for the
// local machine only, so Host defaults to the loopback address.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Host, validation.Required),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
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
//   - "disabled" (default): no authentication, the server only listens on loopback.
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

// EventsConfig tunes the lifecycle event stream.
type EventsConfig struct {
	// CorpusThrottle is the minimum gap between corpus.changed events.
	CorpusThrottle time.Duration `yaml:"corpus_throttle"`
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Host: "127.0.0.1",
				Port: 7821,
			},
		},
		SQLite: SQLiteConfig{
			Path: "~/.mnemo/mnemo.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Capture:     capture.DefaultConfig(),
		Index:       vectorindex.DefaultConfig(),
		Embedding:   embedding.DefaultConfig(),
		Maintenance: maintenance.DefaultConfig(),
		Clipboard:   clipwatch.DefaultConfig(),
		Events:      EventsConfig{CorpusThrottle: 2 * time.Second},
		Preferences: settings.DefaultPreferences(),
	}
}

// LoadConfig reads path, creating it with defaults when it does not exist.
// Paths in the returned config have "~" expanded.
func LoadConfig(path string) (*Config, error) {
	path = pkgconfig.ExpandHome(path)
	cfg := NewDefaultConfig()
	if _, err := pkgconfig.LoadOrCreate(path, cfg); err != nil {
		return nil, err
	}
	cfg.SQLite.Path = pkgconfig.ExpandHome(cfg.SQLite.Path)
	cfg.Embedding.CacheDir = pkgconfig.ExpandHome(cfg.Embedding.CacheDir)
	if cfg.Embedding.CacheDir == "" && cfg.Embedding.Provider == embedding.ProviderFastEmbed {
		cfg.Embedding.CacheDir = filepath.Join(filepath.Dir(cfg.SQLite.Path), "models")
	}
	return cfg, nil
}

// PreferencesFile persists and reloads the preferences stored in a
// configuration file, leaving its other sections as they are on disk.
type PreferencesFile struct {
	Path string
}

// Load reads the preferences section of the file.
func (f PreferencesFile) Load() (settings.Preferences, error) {
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(f.Path, cfg); err != nil {
		return settings.Preferences{}, err
	}
	return cfg.Preferences, nil
}

// Save replaces the preferences section of the file with prefs.
func (f PreferencesFile) Save(prefs settings.Preferences) error {
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(f.Path, cfg); err != nil {
		return err
	}
	cfg.Preferences = prefs
	return pkgconfig.Save(f.Path, cfg)
}
