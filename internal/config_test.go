package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/mnemo/internal/settings"
	pkgconfig "github.com/starford/mnemo/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestFullConfig_DefaultsValid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestFullConfig_PreferencesValidated(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Search.SimilarityThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("out-of-range threshold should fail")
	}
}

func TestHTTPConfig_Address(t *testing.T) {
	c := HTTPConfig{Host: "127.0.0.1", Port: 7821}
	if got := c.Address(); got != "127.0.0.1:7821" {
		t.Errorf("Address = %q", got)
	}
}

func TestLoadConfig_CreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Search.MaxResults != 10 || cfg.LLM.Model != "qwen2.5:3b" {
		t.Errorf("unexpected defaults: %+v %+v", cfg.Search, cfg.LLM)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"sqlite:", "privacy:", "llm:", "similarity_threshold:"} {
		if !strings.Contains(string(data), key) {
			t.Errorf("written config lacks %q", key)
		}
	}
}

func TestLoadConfig_ReadsPreferencesAtTopLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
sqlite:
  path: /tmp/mnemo-test.db
search:
  similarity_threshold: 0.7
  max_results: 5
settings:
  capture_clipboard: false
  capture_shell: true
  shell_limit: 42
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Search.SimilarityThreshold != 0.7 || cfg.Search.MaxResults != 5 {
		t.Errorf("search = %+v", cfg.Search)
	}
	if cfg.Settings.CaptureClipboard || cfg.Settings.ShellLimit != 42 {
		t.Errorf("settings = %+v", cfg.Settings)
	}
	if cfg.LLM.Provider != settings.ProviderOllama {
		t.Errorf("llm defaults lost: %+v", cfg.LLM)
	}
}

func TestPreferencesFile_SaveKeepsOtherSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.App.HTTP.Port = 9999
	cfg.SQLite.Path = "/tmp/other.db"
	if err := pkgconfig.Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	pf := PreferencesFile{Path: path}
	prefs := settings.DefaultPreferences()
	prefs.Settings.ShellLimit = 7
	if err := pf.Save(prefs); err != nil {
		t.Fatal(err)
	}

	again, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if again.App.HTTP.Port != 9999 || again.SQLite.Path != "/tmp/other.db" {
		t.Errorf("non-preference sections changed: %+v %+v", again.App, again.SQLite)
	}
	loaded, err := pf.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Settings.ShellLimit != 7 {
		t.Errorf("shell_limit = %d, want 7", loaded.Settings.ShellLimit)
	}
}
