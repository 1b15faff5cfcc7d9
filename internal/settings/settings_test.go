package settings

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/privacy"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestSettings_EnabledAndLimit(t *testing.T) {
	s := DefaultPreferences().Settings
	s.CaptureClipboard = false

	if s.Enabled(models.SourceClipboard) {
		t.Error("clipboard toggle ignored")
	}
	if !s.Enabled(models.SourceShell) || s.Enabled(models.SourceFile) || !s.Enabled(models.SourceNote) {
		t.Error("unexpected toggle mapping")
	}
	if s.Limit(models.SourceClipboard) != 10000 || s.Limit(models.SourceShell) != 5000 || s.Limit(models.SourceNote) != 0 {
		t.Error("unexpected limits")
	}
}

func TestSettings_CaseSensitive(t *testing.T) {
	s := Settings{ShellCaseSensitive: true}
	if !s.CaseSensitive([]models.SourceType{models.SourceShell}) {
		t.Error("shell filter should follow shell flag")
	}
	if s.CaseSensitive(nil) {
		t.Error("unfiltered search is case-sensitive only when every category is")
	}
	s.ClipboardCaseSensitive = true
	if !s.CaseSensitive(nil) {
		t.Error("all flags set should make unfiltered search case-sensitive")
	}
}

func TestStore_UpdateValidatesBeforePersist(t *testing.T) {
	var persisted atomic.Int32
	store := NewStore(DefaultPreferences(), func(Preferences) error {
		persisted.Add(1)
		return nil
	}, quietLogger())

	_, err := store.AddPrivacyRule(privacy.CategoryRegex, "(")
	if !apperr.IsConfig(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	bad := DefaultPreferences().Settings
	bad.ShellLimit = -1
	if _, err := store.UpdateSettings(bad); !apperr.IsConfig(err) {
		t.Fatalf("expected ConfigError for negative limit, got %v", err)
	}
	if persisted.Load() != 0 {
		t.Error("rejected updates must not be persisted")
	}
	if len(store.Snapshot().Privacy.Regex) != 0 {
		t.Error("rejected update leaked into the active snapshot")
	}

	snap, err := store.AddPrivacyRule(privacy.CategoryContains, "api_key")
	if err != nil {
		t.Fatal(err)
	}
	if persisted.Load() != 1 {
		t.Error("accepted update should be persisted once")
	}
	if !snap.Rules.Evaluate("API_KEY=1", models.SourceClipboard, models.Context{}).Dropped() {
		t.Error("new rule should be active in the returned snapshot")
	}
	if store.Snapshot() != snap {
		t.Error("store should publish the new snapshot")
	}
}

func TestStore_PersistFailureKeepsSnapshot(t *testing.T) {
	store := NewStore(DefaultPreferences(), func(Preferences) error {
		return errors.New("disk full")
	}, quietLogger())
	before := store.Snapshot()

	search := before.Search
	search.MaxResults = 42
	if _, err := store.UpdateSearch(search); err == nil {
		t.Fatal("expected persist error")
	}
	if store.Snapshot() != before {
		t.Error("snapshot changed despite persist failure")
	}
}

func TestStore_SnapshotIsolation(t *testing.T) {
	store := NewStore(DefaultPreferences(), nil, quietLogger())
	old := store.Snapshot()

	s := old.Settings
	s.CaptureShell = false
	if _, err := store.UpdateSettings(s); err != nil {
		t.Fatal(err)
	}
	if !old.Settings.CaptureShell {
		t.Error("in-flight snapshot must not observe later updates")
	}
	if store.Snapshot().Settings.CaptureShell {
		t.Error("new snapshot should carry the update")
	}
}

func TestStore_ReloadIsLenient(t *testing.T) {
	store := NewStore(DefaultPreferences(), nil, quietLogger())
	var notified atomic.Int32
	store.OnChange(func(*Snapshot) { notified.Add(1) })

	prefs := DefaultPreferences()
	prefs.Privacy.Regex = []string{"(", "token"}
	changed, err := store.Reload(prefs)
	if err != nil || !changed {
		t.Fatalf("Reload = %v, %v", changed, err)
	}
	if !store.Snapshot().Rules.Evaluate("my token", models.SourceClipboard, models.Context{}).Dropped() {
		t.Error("valid pattern should apply after reload")
	}
	if changed, _ := store.Reload(prefs); changed {
		t.Error("identical reload should be a no-op")
	}
	if notified.Load() != 1 {
		t.Errorf("expected one change notification, got %d", notified.Load())
	}
}

func TestWatch_ReloadsExternalEdit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	write := func(p Preferences) {
		data, err := yaml.Marshal(p)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write(DefaultPreferences())

	load := func() (Preferences, error) {
		var p Preferences
		data, err := os.ReadFile(path)
		if err != nil {
			return p, err
		}
		return p, yaml.Unmarshal(data, &p)
	}

	store := NewStore(DefaultPreferences(), nil, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Watch(ctx, path, load, store, quietLogger())

	time.Sleep(100 * time.Millisecond)

	edited := DefaultPreferences()
	edited.Settings.CaptureClipboard = false
	write(edited)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return !store.Snapshot().Settings.CaptureClipboard
	}, "external edit was not reloaded")
}
