package main

import (
	"testing"
	"time"

	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/settings"
)

func TestApplySetting(t *testing.T) {
	prefs := settings.DefaultPreferences()

	for _, a := range []string{
		"shell_limit=2000",
		"capture_clipboard=false",
		"search.similarity_threshold=0.65",
		"llm.timeout=45s",
		"llm.base_url=http://localhost:11434",
	} {
		if err := applySetting(&prefs, a); err != nil {
			t.Fatalf("applySetting(%q): %v", a, err)
		}
	}

	if prefs.Settings.ShellLimit != 2000 {
		t.Errorf("ShellLimit = %d, want 2000", prefs.Settings.ShellLimit)
	}
	if prefs.Settings.CaptureClipboard {
		t.Error("CaptureClipboard should be false")
	}
	if prefs.Search.SimilarityThreshold != 0.65 {
		t.Errorf("SimilarityThreshold = %v, want 0.65", prefs.Search.SimilarityThreshold)
	}
	if prefs.LLM.Timeout != 45*time.Second {
		t.Errorf("Timeout = %v, want 45s", prefs.LLM.Timeout)
	}
	if prefs.LLM.BaseURL != "http://localhost:11434" {
		t.Errorf("BaseURL = %q", prefs.LLM.BaseURL)
	}
}

func TestApplySetting_Errors(t *testing.T) {
	tests := []string{
		"shell_limit",
		"=5",
		"nope=1",
		"privacy.contains=x",
		"shell_limit=lots",
	}
	for _, a := range tests {
		t.Run(a, func(t *testing.T) {
			prefs := settings.DefaultPreferences()
			if err := applySetting(&prefs, a); err == nil {
				t.Fatalf("applySetting(%q) should fail", a)
			}
		})
	}
}

func TestParseSources(t *testing.T) {
	got, err := parseSources([]string{"shell,clipboard", " note "})
	if err != nil {
		t.Fatalf("parseSources: %v", err)
	}
	want := []models.SourceType{models.SourceShell, models.SourceClipboard, models.SourceNote}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if _, err := parseSources([]string{"browser"}); err == nil {
		t.Error("unknown source should fail")
	}
}

func TestOneLine(t *testing.T) {
	if got := oneLine("git   status\n  --short"); got != "git status --short" {
		t.Errorf("oneLine = %q", got)
	}
}

func TestParseScope(t *testing.T) {
	loc := time.FixedZone("test", -5*60*60)
	now := time.Date(2026, 7, 1, 10, 0, 0, 0, loc)

	q, err := parseScope("/srv/app", "2026-06-01", "2026-06-15T12:00:00Z", "", now)
	if err != nil {
		t.Fatalf("parseScope: %v", err)
	}
	if q.Cwd != "/srv/app" {
		t.Errorf("Cwd = %q", q.Cwd)
	}
	if want := time.Date(2026, 6, 1, 0, 0, 0, 0, loc); !q.Since.Equal(want) {
		t.Errorf("Since = %v, want %v", q.Since, want)
	}
	if want := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC); !q.Until.Equal(want) {
		t.Errorf("Until = %v, want %v", q.Until, want)
	}

	q, err = parseScope("", "", "", "yesterday", now)
	if err != nil {
		t.Fatalf("parseScope: %v", err)
	}
	if want := time.Date(2026, 6, 30, 0, 0, 0, 0, loc); !q.Since.Equal(want) || !q.Until.Equal(want.AddDate(0, 0, 1)) {
		t.Errorf("yesterday = [%v, %v)", q.Since, q.Until)
	}

	for _, bad := range [][4]string{
		{"", "last week", "", ""},
		{"", "", "06/15/2026", ""},
		{"", "", "", "forever"},
	} {
		if _, err := parseScope(bad[0], bad[1], bad[2], bad[3], now); err == nil {
			t.Errorf("parseScope(%q) should fail", bad)
		}
	}
}
