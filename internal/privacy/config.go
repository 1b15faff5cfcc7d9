// Package privacy decides whether a captured event may be persisted.
package privacy

import (
	"fmt"
	"slices"
	"strings"
)

// Category names one of the five rule lists.
type Category string

const (
	CategoryContains       Category = "contains"
	CategoryStartsWith     Category = "starts_with"
	CategoryEndsWith       Category = "ends_with"
	CategoryRegex          Category = "regex"
	CategoryExcludeFolders Category = "exclude_folders"
)

// Categories lists every rule category in evaluation order.
var Categories = []Category{
	CategoryContains,
	CategoryStartsWith,
	CategoryEndsWith,
	CategoryRegex,
	CategoryExcludeFolders,
}

// ParseCategory converts a user-supplied name into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if slices.Contains(Categories, c) {
		return c, nil
	}
	return "", fmt.Errorf("unknown privacy rule category %q", s)
}

// Config holds the user-editable exclusion patterns. An entry is dropped
// when it matches any pattern in any category.
type Config struct {
	Contains       []string `yaml:"contains" json:"contains"`
	StartsWith     []string `yaml:"starts_with" json:"starts_with"`
	EndsWith       []string `yaml:"ends_with" json:"ends_with"`
	Regex          []string `yaml:"regex" json:"regex"`
	ExcludeFolders []string `yaml:"exclude_folders" json:"exclude_folders"`
}

// DefaultConfig returns the rules a fresh install starts with.
func DefaultConfig() Config {
	return Config{
		Contains:       []string{"password"},
		StartsWith:     []string{},
		EndsWith:       []string{},
		Regex:          []string{},
		ExcludeFolders: []string{".git", "node_modules"},
	}
}

// Clone returns a deep copy of c with nil lists replaced by empty ones.
func (c Config) Clone() Config {
	return Config{
		Contains:       cloneList(c.Contains),
		StartsWith:     cloneList(c.StartsWith),
		EndsWith:       cloneList(c.EndsWith),
		Regex:          cloneList(c.Regex),
		ExcludeFolders: cloneList(c.ExcludeFolders),
	}
}

// Patterns returns the list for category.
func (c *Config) Patterns(cat Category) []string {
	if p := c.list(cat); p != nil {
		return *p
	}
	return nil
}

// WithRule returns a copy of c with pattern appended to category.
// Adding a pattern that is already present is a no-op.
func (c Config) WithRule(cat Category, pattern string) (Config, error) {
	out := c.Clone()
	p := out.list(cat)
	if p == nil {
		return c, fmt.Errorf("unknown privacy rule category %q", cat)
	}
	if strings.TrimSpace(pattern) == "" {
		return c, fmt.Errorf("%s: empty pattern", cat)
	}
	if !slices.Contains(*p, pattern) {
		*p = append(*p, pattern)
	}
	return out, nil
}

// WithoutRule returns a copy of c with pattern removed from category.
func (c Config) WithoutRule(cat Category, pattern string) (Config, error) {
	out := c.Clone()
	p := out.list(cat)
	if p == nil {
		return c, fmt.Errorf("unknown privacy rule category %q", cat)
	}
	*p = slices.DeleteFunc(*p, func(s string) bool { return s == pattern })
	return out, nil
}

func (c *Config) list(cat Category) *[]string {
	switch cat {
	case CategoryContains:
		return &c.Contains
	case CategoryStartsWith:
		return &c.StartsWith
	case CategoryEndsWith:
		return &c.EndsWith
	case CategoryRegex:
		return &c.Regex
	case CategoryExcludeFolders:
		return &c.ExcludeFolders
	}
	return nil
}

func cloneList(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}
