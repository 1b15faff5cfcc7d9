// Package settings owns the hot-swappable user preferences: capture
// toggles, retention caps, privacy rules, search tuning and the LLM
// provider. Readers take an immutable Snapshot; writers go through Store.
package settings

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/privacy"
)

// LLM providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Settings holds capture toggles, literal-search case sensitivity and
// per-source retention caps. A limit of 0 means unlimited.
type Settings struct {
	CaptureClipboard             bool `yaml:"capture_clipboard" json:"capture_clipboard"`
	CaptureShell                 bool `yaml:"capture_shell" json:"capture_shell"`
	CaptureShellHistoryWithFiles bool `yaml:"capture_shell_history_with_files" json:"capture_shell_history_with_files"`
	ShellCaseSensitive           bool `yaml:"shell_case_sensitive" json:"shell_case_sensitive"`
	ClipboardCaseSensitive       bool `yaml:"clipboard_case_sensitive" json:"clipboard_case_sensitive"`
	ClipboardLimit               int  `yaml:"clipboard_limit" json:"clipboard_limit"`
	ShellLimit                   int  `yaml:"shell_limit" json:"shell_limit"`
}

// Validate validates the settings.
func (s *Settings) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.ClipboardLimit, validation.Min(0)),
		validation.Field(&s.ShellLimit, validation.Min(0)),
	)
}

// Enabled reports whether captures from src are accepted.
// Notes are explicit user input and are always accepted.
func (s Settings) Enabled(src models.SourceType) bool {
	switch src {
	case models.SourceClipboard:
		return s.CaptureClipboard
	case models.SourceShell:
		return s.CaptureShell
	case models.SourceFile:
		return s.CaptureShellHistoryWithFiles
	case models.SourceNote:
		return true
	}
	return false
}

// Limit returns the retention cap for src, 0 meaning unlimited.
func (s Settings) Limit(src models.SourceType) int {
	switch src {
	case models.SourceClipboard:
		return s.ClipboardLimit
	case models.SourceShell:
		return s.ShellLimit
	}
	return 0
}

// CaseSensitive reports whether literal search over sources is
// case-sensitive. File entries follow the shell flag and notes follow the
// clipboard flag. With no filter, every category must be case-sensitive.
func (s Settings) CaseSensitive(sources []models.SourceType) bool {
	if len(sources) == 0 {
		sources = models.SourceTypes
	}
	for _, src := range sources {
		var cs bool
		switch src {
		case models.SourceShell, models.SourceFile:
			cs = s.ShellCaseSensitive
		default:
			cs = s.ClipboardCaseSensitive
		}
		if !cs {
			return false
		}
	}
	return true
}

// SearchConfig tunes retrieval.
type SearchConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`
	MaxResults          int     `yaml:"max_results" json:"max_results"`
	FuzzyMatching       bool    `yaml:"fuzzy_matching" json:"fuzzy_matching"`
	AutoMinResults      int     `yaml:"auto_min_results" json:"auto_min_results"`
}

// Validate validates the search configuration.
func (c *SearchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SimilarityThreshold, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&c.MaxResults, validation.Required, validation.Min(1)),
		validation.Field(&c.AutoMinResults, validation.Min(0)),
	)
}

// LLMConfig selects and tunes the local language model.
type LLMConfig struct {
	Provider          string        `yaml:"provider" json:"provider"`
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	APIKey            string        `yaml:"api_key" json:"-"`
	Model             string        `yaml:"model" json:"model"`
	MaxTokens         int           `yaml:"max_tokens" json:"max_tokens"`
	Temperature       float64       `yaml:"temperature" json:"temperature"`
	MaxHistoryResults int           `yaml:"max_history_results" json:"max_history_results"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
}

// Validate validates the LLM configuration.
func (c *LLMConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(ProviderOllama, ProviderOpenAI)),
		validation.Field(&c.BaseURL, validation.Required),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.MaxTokens, validation.Required, validation.Min(1)),
		validation.Field(&c.Temperature, validation.Min(0.0), validation.Max(2.0)),
		validation.Field(&c.MaxHistoryResults, validation.Required, validation.Min(1)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// Preferences is the hot-swappable part of the configuration file.
type Preferences struct {
	Settings Settings       `yaml:"settings" json:"settings"`
	Privacy  privacy.Config `yaml:"privacy" json:"privacy"`
	Search   SearchConfig   `yaml:"search" json:"search"`
	LLM      LLMConfig      `yaml:"llm" json:"llm"`
}

// Validate validates every section except privacy patterns, which are
// compiled separately so that a broken rule on disk does not prevent startup.
func (p *Preferences) Validate() error {
	if err := p.Settings.Validate(); err != nil {
		return err
	}
	if err := p.Search.Validate(); err != nil {
		return err
	}
	return p.LLM.Validate()
}

// Clone returns a deep copy of p.
func (p Preferences) Clone() Preferences {
	p.Privacy = p.Privacy.Clone()
	return p
}

// DefaultPreferences returns the preferences of a fresh install.
func DefaultPreferences() Preferences {
	return Preferences{
		Settings: Settings{
			CaptureClipboard: true,
			CaptureShell:     true,
			ClipboardLimit:   10000,
			ShellLimit:       5000,
		},
		Privacy: privacy.DefaultConfig(),
		Search: SearchConfig{
			SimilarityThreshold: 0.5,
			MaxResults:          10,
			FuzzyMatching:       true,
			AutoMinResults:      3,
		},
		LLM: LLMConfig{
			Provider:          ProviderOllama,
			BaseURL:           "http://localhost:11434",
			Model:             "qwen2.5:3b",
			MaxTokens:         500,
			Temperature:       0.3,
			MaxHistoryResults: 10,
			Timeout:           60 * time.Second,
		},
	}
}
