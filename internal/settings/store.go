package settings

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/starford/mnemo/internal/apperr"
	"github.com/starford/mnemo/internal/models"
	"github.com/starford/mnemo/internal/privacy"
)

// Snapshot is an immutable view of the preferences together with the
// compiled privacy rules. Operations take one snapshot when they start and
// use it throughout.
type Snapshot struct {
	Preferences
	Rules *privacy.Rules
}

// Enabled reports whether captures from src are accepted.
func (s *Snapshot) Enabled(src models.SourceType) bool { return s.Settings.Enabled(src) }

// PersistFunc writes accepted preferences to durable storage.
type PersistFunc func(Preferences) error

// ChangeFunc is called after a new snapshot has been swapped in.
type ChangeFunc func(*Snapshot)

// Store holds the current Snapshot. Reads are lock-free; updates are
// serialized, validated, persisted and only then published.
type Store struct {
	mu       sync.Mutex
	current  atomic.Pointer[Snapshot]
	persist  PersistFunc
	logger   *slog.Logger
	onChange []ChangeFunc
}

// NewStore creates a Store seeded with prefs. Privacy rules are compiled
// leniently: broken patterns are logged and never match.
func NewStore(prefs Preferences, persist PersistFunc, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{persist: persist, logger: logger}
	s.current.Store(&Snapshot{
		Preferences: prefs.Clone(),
		Rules:       privacy.CompileLenient(prefs.Privacy, logger),
	})
	return s
}

// OnChange registers fn to run after every swap.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Update applies fn to a copy of the current preferences, validates the
// result, persists it and swaps it in. On any error the active snapshot and
// the persisted file are left unchanged.
func (s *Store) Update(fn func(*Preferences) error) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().Preferences.Clone()
	if err := fn(&next); err != nil {
		return nil, err
	}
	if err := next.Validate(); err != nil {
		return nil, apperr.NewConfigError("preferences", err)
	}
	rules, err := privacy.Compile(next.Privacy)
	if err != nil {
		return nil, err
	}
	if s.persist != nil {
		if err := s.persist(next); err != nil {
			return nil, fmt.Errorf("settings: persist: %w", err)
		}
	}
	return s.swap(&Snapshot{Preferences: next, Rules: rules}), nil
}

// Reload swaps in preferences read from disk after an external edit.
// Invalid sections keep the file from being applied; broken privacy
// patterns are tolerated. It reports whether anything changed.
func (s *Store) Reload(prefs Preferences) (bool, error) {
	if err := prefs.Validate(); err != nil {
		return false, apperr.NewConfigError("preferences", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := prefs.Clone()
	if reflect.DeepEqual(s.current.Load().Preferences, next) {
		return false, nil
	}
	s.swap(&Snapshot{
		Preferences: next,
		Rules:       privacy.CompileLenient(next.Privacy, s.logger),
	})
	return true, nil
}

func (s *Store) swap(snap *Snapshot) *Snapshot {
	s.current.Store(snap)
	for _, fn := range s.onChange {
		fn(snap)
	}
	return snap
}

// UpdateSettings replaces the capture settings.
func (s *Store) UpdateSettings(v Settings) (*Snapshot, error) {
	return s.Update(func(p *Preferences) error {
		p.Settings = v
		return nil
	})
}

// UpdatePrivacy replaces the whole privacy configuration.
func (s *Store) UpdatePrivacy(v privacy.Config) (*Snapshot, error) {
	return s.Update(func(p *Preferences) error {
		p.Privacy = v.Clone()
		return nil
	})
}

// AddPrivacyRule appends pattern to the named category.
func (s *Store) AddPrivacyRule(cat privacy.Category, pattern string) (*Snapshot, error) {
	return s.Update(func(p *Preferences) error {
		next, err := p.Privacy.WithRule(cat, pattern)
		if err != nil {
			return apperr.NewConfigError("privacy", err)
		}
		p.Privacy = next
		return nil
	})
}

// RemovePrivacyRule removes pattern from the named category.
func (s *Store) RemovePrivacyRule(cat privacy.Category, pattern string) (*Snapshot, error) {
	return s.Update(func(p *Preferences) error {
		next, err := p.Privacy.WithoutRule(cat, pattern)
		if err != nil {
			return apperr.NewConfigError("privacy", err)
		}
		p.Privacy = next
		return nil
	})
}

// UpdateSearch replaces the search configuration.
func (s *Store) UpdateSearch(v SearchConfig) (*Snapshot, error) {
	return s.Update(func(p *Preferences) error {
		p.Search = v
		return nil
	})
}

// UpdateLLM replaces the LLM configuration.
func (s *Store) UpdateLLM(v LLMConfig) (*Snapshot, error) {
	return s.Update(func(p *Preferences) error {
		p.LLM = v
		return nil
	})
}
