package privacy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/models"
)

func withHome(t *testing.T, home string) {
	t.Helper()
	prev := HomeDir
	HomeDir = func() string { return home }
	t.Cleanup(func() { HomeDir = prev })
}

func mustCompile(t *testing.T, cfg Config) *Rules {
	t.Helper()
	r, err := Compile(cfg)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return r
}

func TestEvaluate_ContainsIsCaseInsensitive(t *testing.T) {
	r := mustCompile(t, Config{Contains: []string{"password"}})

	d := r.Evaluate("my PASSWORD is hunter2", models.SourceClipboard, models.Context{})
	if !d.Dropped() || d.Category != CategoryContains || d.Pattern != "password" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	d = r.Evaluate("my ＰＡＳＳＷＯＲＤ is hunter2", models.SourceClipboard, models.Context{})
	if !d.Dropped() {
		t.Error("fullwidth text should fold onto the pattern")
	}
	if r.Evaluate("nothing secret", models.SourceClipboard, models.Context{}).Dropped() {
		t.Error("unrelated text should be kept")
	}
}

func TestEvaluate_StartsAndEndsWith(t *testing.T) {
	r := mustCompile(t, Config{StartsWith: []string{"export AWS_"}, EndsWith: []string{".pem"}})

	if d := r.Evaluate("EXPORT aws_secret=1", models.SourceShell, models.Context{}); d.Category != CategoryStartsWith {
		t.Errorf("expected starts_with drop, got %+v", d)
	}
	if d := r.Evaluate("cat key.PEM", models.SourceShell, models.Context{}); d.Category != CategoryEndsWith {
		t.Errorf("expected ends_with drop, got %+v", d)
	}
	if r.Evaluate("echo export AWS_X", models.SourceShell, models.Context{}).Dropped() {
		t.Error("starts_with must anchor at the beginning")
	}
}

func TestEvaluate_Regex(t *testing.T) {
	r := mustCompile(t, Config{Regex: []string{`sk-[A-Za-z0-9]{8,}`}})

	if !r.Evaluate("token sk-abcdefgh123", models.SourceClipboard, models.Context{}).Dropped() {
		t.Error("expected regex drop")
	}
	if r.Evaluate("SK-abcdefgh123", models.SourceClipboard, models.Context{}).Dropped() {
		t.Error("regex without (?i) is case-sensitive")
	}
}

func TestCompile_RejectsBadRegex(t *testing.T) {
	_, err := Compile(Config{Regex: []string{"("}})
	if !apperr.IsConfig(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if _, err := Compile(Config{Contains: []string{"  "}}); !apperr.IsConfig(err) {
		t.Errorf("expected ConfigError for empty pattern, got %v", err)
	}
}

func TestCompileLenient_SkipsBadPatterns(t *testing.T) {
	r := CompileLenient(Config{Regex: []string{"(", "secret"}}, nil)
	if !r.Evaluate("a secret", models.SourceClipboard, models.Context{}).Dropped() {
		t.Error("valid pattern should still apply")
	}
	if r.Evaluate("(", models.SourceClipboard, models.Context{}).Dropped() {
		t.Error("invalid pattern must never match")
	}
}

func TestEvaluate_HomeFolderPrefix(t *testing.T) {
	withHome(t, "/home/alice")
	r := mustCompile(t, Config{ExcludeFolders: []string{"~/.ssh"}})

	d := r.Evaluate("ssh user@staging.example.com", models.SourceShell, models.Context{Cwd: "~/.ssh/config"})
	if !d.Dropped() || d.Category != CategoryExcludeFolders {
		t.Fatalf("expected folder drop, got %+v", d)
	}
	if !r.Evaluate("ls", models.SourceShell, models.Context{Cwd: "/home/alice/.ssh"}).Dropped() {
		t.Error("exact folder should match")
	}
	if r.Evaluate("ls", models.SourceShell, models.Context{Cwd: "/home/alice/.sshkeys"}).Dropped() {
		t.Error("prefix must respect component boundaries")
	}
}

func TestEvaluate_BareNameMatchesAnyComponent(t *testing.T) {
	r := mustCompile(t, DefaultConfig())

	if !r.Evaluate("git status", models.SourceShell, models.Context{Cwd: "/src/app/.git/hooks"}).Dropped() {
		t.Error(".git component should match")
	}
	if !r.Evaluate("x", models.SourceFile, models.Context{Path: "/src/app/node_modules/x/index.js"}).Dropped() {
		t.Error("node_modules in file path should match")
	}
	if r.Evaluate("ls", models.SourceShell, models.Context{Cwd: "/src/app/.github"}).Dropped() {
		t.Error(".github is not .git")
	}
}

func TestEvaluate_GlobMatchesAncestors(t *testing.T) {
	r := mustCompile(t, Config{ExcludeFolders: []string{"/secrets/*"}})

	if !r.Evaluate("ls", models.SourceShell, models.Context{Cwd: "/secrets/prod/deep/dir"}).Dropped() {
		t.Error("glob should match an ancestor of the cwd")
	}
	if r.Evaluate("ls", models.SourceShell, models.Context{Cwd: "/public/prod"}).Dropped() {
		t.Error("unrelated path should be kept")
	}
}

func TestEvaluate_FolderRulesSkipClipboard(t *testing.T) {
	r := mustCompile(t, Config{ExcludeFolders: []string{"/tmp"}})
	if r.Evaluate("copied", models.SourceClipboard, models.Context{Cwd: "/tmp"}).Dropped() {
		t.Error("folder rules must not apply to clipboard entries")
	}
}

func TestEvaluate_ResolvesSymlinks(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "vault")
	if err := os.Mkdir(real, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "shortcut")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	r := mustCompile(t, Config{ExcludeFolders: []string{real}})
	if !r.Evaluate("ls", models.SourceShell, models.Context{Cwd: link}).Dropped() {
		t.Error("symlinked cwd should resolve onto the excluded folder")
	}
}

func TestEvaluate_CachesResolvedLocations(t *testing.T) {
	calls := map[string]int{}
	prev := resolveSymlinks
	resolveSymlinks = func(p string) (string, error) {
		calls[p]++
		if p == "/home/u/work" {
			return "/mnt/secure/work", nil
		}
		return p, nil
	}
	t.Cleanup(func() { resolveSymlinks = prev })

	r := mustCompile(t, Config{ExcludeFolders: []string{"/mnt/secure"}})
	for i := 0; i < 5; i++ {
		if !r.Evaluate("ls", models.SourceShell, models.Context{Cwd: "/home/u/work/"}).Dropped() {
			t.Fatalf("capture %d: symlinked cwd should stay excluded", i)
		}
		if r.Evaluate("ls", models.SourceShell, models.Context{Cwd: "/home/u/play"}).Dropped() {
			t.Fatalf("capture %d: unrelated cwd dropped", i)
		}
	}
	if calls["/home/u/work"] != 1 || calls["/home/u/play"] != 1 {
		t.Errorf("resolver calls = %v, want one per location", calls)
	}

	// Recompiled rules start with an empty cache.
	r = mustCompile(t, Config{ExcludeFolders: []string{"/mnt/secure"}})
	r.Evaluate("ls", models.SourceShell, models.Context{Cwd: "/home/u/work"})
	if calls["/home/u/work"] != 2 {
		t.Errorf("resolver calls after recompile = %d, want 2", calls["/home/u/work"])
	}
}

func TestConfig_WithRuleAndWithoutRule(t *testing.T) {
	base := DefaultConfig()
	next, err := base.WithRule(CategoryRegex, `\d{16}`)
	if err != nil {
		t.Fatal(err)
	}
	if len(base.Regex) != 0 {
		t.Error("WithRule must not mutate the receiver")
	}
	if got := next.Patterns(CategoryRegex); len(got) != 1 {
		t.Fatalf("expected one regex, got %v", got)
	}
	again, _ := next.WithRule(CategoryRegex, `\d{16}`)
	if len(again.Regex) != 1 {
		t.Error("duplicate add should be a no-op")
	}
	removed, err := next.WithoutRule(CategoryRegex, `\d{16}`)
	if err != nil || len(removed.Regex) != 0 {
		t.Errorf("remove failed: %v %v", removed.Regex, err)
	}
	if _, err := base.WithRule("bogus", "x"); err == nil {
		t.Error("unknown category should fail")
	}
}
