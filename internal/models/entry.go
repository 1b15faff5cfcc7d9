// Package models defines the domain types for mnemo.
package models

import (
	"fmt"
	"time"
)

// SourceType identifies where an entry was captured from.
type SourceType string

const (
	SourceClipboard SourceType = "clipboard"
	SourceShell     SourceType = "shell"
	SourceFile      SourceType = "file"
	SourceNote      SourceType = "note"
)

// SourceTypes lists every known source in display order.
var SourceTypes = []SourceType{SourceClipboard, SourceShell, SourceFile, SourceNote}

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	switch s {
	case SourceClipboard, SourceShell, SourceFile, SourceNote:
		return true
	}
	return false
}

// ParseSourceType converts a user-supplied name into a SourceType.
func ParseSourceType(s string) (SourceType, error) {
	st := SourceType(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown source type %q", s)
	}
	return st, nil
}

// HasPath reports whether entries of this source carry a filesystem path
// that folder exclusion rules apply to.
func (s SourceType) HasPath() bool {
	return s == SourceShell || s == SourceFile
}

// IndexState tracks an entry's progress through the embedding index.
type IndexState string

const (
	IndexPending IndexState = "pending"
	IndexIndexed IndexState = "indexed"
	IndexFailed  IndexState = "failed"
)

// Context is the optional metadata captured alongside an entry.
// Cwd, User and Host describe a shell command; Path is the file of a file capture.
type Context struct {
	Cwd  string `json:"cwd,omitempty"`
	User string `json:"user,omitempty"`
	Host string `json:"host,omitempty"`
	Path string `json:"path,omitempty"`
}

// Location returns the filesystem path folder rules are evaluated against.
func (c Context) Location(src SourceType) string {
	switch src {
	case SourceShell:
		return c.Cwd
	case SourceFile:
		if c.Path != "" {
			return c.Path
		}
		return c.Cwd
	}
	return ""
}

// Entry is a single captured unit.
type Entry struct {
	ID          int64      `json:"id"`
	Content     string     `json:"content"`
	Source      SourceType `json:"source_type"`
	Timestamp   time.Time  `json:"timestamp"`
	Context     Context    `json:"context"`
	ContentHash string     `json:"-"`
	Embedding   []float32  `json:"-"`
	IndexState  IndexState `json:"index_state"`
}

// Embedded reports whether the entry is semantically searchable.
func (e *Entry) Embedded() bool { return len(e.Embedding) > 0 }
