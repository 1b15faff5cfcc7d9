package privacy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/textnorm"
)

// Verdict is the outcome of evaluating an event against the rules.
type Verdict int

const (
	Keep Verdict = iota
	Drop
)

func (v Verdict) String() string {
	if v == Drop {
		return "drop"
	}
	return "keep"
}

// Decision reports the verdict and, for Drop, which rule fired.
type Decision struct {
	Verdict  Verdict
	Category Category
	Pattern  string
}

// Dropped reports whether the event must not be persisted.
func (d Decision) Dropped() bool { return d.Verdict == Drop }

type folderKind int

const (
	folderPrefix folderKind = iota
	folderComponent
	folderGlob
)

type folderRule struct {
	raw      string
	kind     folderKind
	prefixes []string
	name     string
	g        glob.Glob
}

type textRule struct {
	raw    string
	folded string
}

// Rules is a compiled form of Config. It is safe for concurrent use.
type Rules struct {
	contains []textRule
	starts   []textRule
	ends     []textRule
	regexes  []*regexp.Regexp
	regexRaw []string
	folders  []folderRule

	// locations caches the resolved forms of capture paths. Entries expire
	// so a retargeted symlink is picked up.
	locations *lru.Cache[string, resolvedLocation]
}

type resolvedLocation struct {
	forms []string
	at    time.Time
}

const (
	locationCacheSize = 512
	locationCacheTTL  = 30 * time.Second
)

// resolveSymlinks is filepath.EvalSymlinks. Tests may replace it.
var resolveSymlinks = filepath.EvalSymlinks

// HomeDir resolves "~" in folder rules and paths. Tests may replace it.
var HomeDir = sync.OnceValue(func() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
})

// Compile builds Rules from cfg. Any malformed pattern yields a ConfigError
// naming the offending category; nothing is partially applied.
func Compile(cfg Config) (*Rules, error) {
	r, errs := compile(cfg)
	if len(errs) > 0 {
		return nil, apperr.NewConfigError("privacy", errors.Join(errs...))
	}
	return r, nil
}

// CompileLenient builds Rules from cfg, logging and skipping malformed
// patterns so that they never match.
func CompileLenient(cfg Config, logger *slog.Logger) *Rules {
	r, errs := compile(cfg)
	if logger != nil {
		for _, err := range errs {
			logger.Warn("ignoring invalid privacy rule", slog.Any("error", err))
		}
	}
	return r
}

func compile(cfg Config) (*Rules, []error) {
	var errs []error
	r := &Rules{}

	text := func(cat Category, patterns []string) []textRule {
		var out []textRule
		for _, p := range patterns {
			if strings.TrimSpace(p) == "" {
				errs = append(errs, fmt.Errorf("%s: empty pattern", cat))
				continue
			}
			out = append(out, textRule{raw: p, folded: textnorm.Fold(p)})
		}
		return out
	}
	r.contains = text(CategoryContains, cfg.Contains)
	r.starts = text(CategoryStartsWith, cfg.StartsWith)
	r.ends = text(CategoryEndsWith, cfg.EndsWith)

	for _, p := range cfg.Regex {
		if p == "" {
			errs = append(errs, fmt.Errorf("%s: empty pattern", CategoryRegex))
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", CategoryRegex, p, err))
			continue
		}
		r.regexes = append(r.regexes, re)
		r.regexRaw = append(r.regexRaw, p)
	}

	for _, p := range cfg.ExcludeFolders {
		fr, err := compileFolder(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", CategoryExcludeFolders, p, err))
			continue
		}
		r.folders = append(r.folders, fr)
	}
	if len(r.folders) > 0 {
		r.locations, _ = lru.New[string, resolvedLocation](locationCacheSize)
	}
	return r, errs
}

func compileFolder(p string) (folderRule, error) {
	raw := p
	p = strings.TrimSpace(p)
	if p == "" {
		return folderRule{}, errors.New("empty pattern")
	}
	if strings.ContainsAny(p, "*?[{") {
		pat := foldPath(expandHome(p))
		g, err := glob.Compile(pat, '/')
		if err != nil {
			return folderRule{}, err
		}
		return folderRule{raw: raw, kind: folderGlob, g: g}, nil
	}
	if !strings.ContainsAny(p, `/\`) && p != "~" {
		return folderRule{raw: raw, kind: folderComponent, name: textnorm.Fold(p)}, nil
	}
	return folderRule{raw: raw, kind: folderPrefix, prefixes: pathForms(p)}, nil
}

// Evaluate decides whether text captured from src with ctx may be stored.
// The first matching rule wins.
func (r *Rules) Evaluate(text string, src models.SourceType, ctx models.Context) Decision {
	if r == nil {
		return Decision{Verdict: Keep}
	}

	if len(r.contains)+len(r.starts)+len(r.ends) > 0 {
		folded := textnorm.Fold(text)
		for _, tr := range r.contains {
			if strings.Contains(folded, tr.folded) {
				return drop(CategoryContains, tr.raw)
			}
		}
		for _, tr := range r.starts {
			if strings.HasPrefix(folded, tr.folded) {
				return drop(CategoryStartsWith, tr.raw)
			}
		}
		for _, tr := range r.ends {
			if strings.HasSuffix(folded, tr.folded) {
				return drop(CategoryEndsWith, tr.raw)
			}
		}
	}

	if len(r.regexes) > 0 {
		normalized := textnorm.Normalize(text)
		for i, re := range r.regexes {
			if re.MatchString(normalized) {
				return drop(CategoryRegex, r.regexRaw[i])
			}
		}
	}

	if len(r.folders) > 0 && src.HasPath() {
		if loc := ctx.Location(src); loc != "" {
			if fr, ok := r.matchFolder(loc); ok {
				return drop(CategoryExcludeFolders, fr.raw)
			}
		}
	}
	return Decision{Verdict: Keep}
}

func (r *Rules) matchFolder(loc string) (folderRule, bool) {
	forms := r.locationForms(loc)
	for _, fr := range r.folders {
		for _, p := range forms {
			if fr.matches(p) {
				return fr, true
			}
		}
	}
	return folderRule{}, false
}

func (fr folderRule) matches(p string) bool {
	switch fr.kind {
	case folderPrefix:
		for _, prefix := range fr.prefixes {
			if hasPathPrefix(p, prefix) {
				return true
			}
		}
	case folderComponent:
		for _, c := range strings.Split(p, "/") {
			if c == fr.name {
				return true
			}
		}
	case folderGlob:
		for cur := p; ; {
			if fr.g.Match(cur) {
				return true
			}
			parent := parentPath(cur)
			if parent == cur {
				return false
			}
			cur = parent
		}
	}
	return false
}

func drop(cat Category, pattern string) Decision {
	return Decision{Verdict: Drop, Category: cat, Pattern: pattern}
}

func (r *Rules) locationForms(loc string) []string {
	if r.locations == nil {
		return pathForms(loc)
	}
	key := filepath.Clean(expandHome(loc))
	now := time.Now()
	if cached, ok := r.locations.Get(key); ok && now.Sub(cached.at) < locationCacheTTL {
		return cached.forms
	}
	forms := pathForms(key)
	r.locations.Add(key, resolvedLocation{forms: forms, at: now})
	return forms
}

// pathForms returns the folded, cleaned path and, when it differs, the
// folded form with symlinks resolved.
func pathForms(p string) []string {
	cleaned := filepath.Clean(expandHome(p))
	forms := []string{foldPath(cleaned)}
	if resolved, err := resolveSymlinks(cleaned); err == nil {
		if f := foldPath(resolved); f != forms[0] {
			forms = append(forms, f)
		}
	}
	return forms
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home := HomeDir(); home != "" {
			return home + p[1:]
		}
	}
	return p
}

func foldPath(p string) string {
	return textnorm.Fold(filepath.ToSlash(p))
}

func hasPathPrefix(p, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(p, "/")
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func parentPath(p string) string {
	i := strings.LastIndex(p, "/")
	switch {
	case i < 0:
		return p
	case i == 0:
		if p == "/" {
			return p
		}
		return "/"
	}
	return p[:i]
}
