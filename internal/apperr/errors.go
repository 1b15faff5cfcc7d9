// Package apperr defines the error taxonomy shared by the core packages.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
)

// ConfigError reports a rejected configuration update. The active
// configuration is left untouched when one is returned.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError wraps err as a ConfigError for field.
func NewConfigError(field string, err error) error {
	return &ConfigError{Field: field, Err: err}
}

// StorageError reports an I/O or corruption failure in the entry database.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err as a StorageError. ErrNotFound passes through
// unwrapped so callers can keep matching on it directly.
func NewStorageError(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IndexError reports a failure to embed or index an entry. Temporary
// errors are retried by the indexer; permanent ones are not.
type IndexError struct {
	EntryID   int64
	Permanent bool
	Err       error
}

func (e *IndexError) Error() string {
	if e.EntryID == 0 {
		return fmt.Sprintf("index: %v", e.Err)
	}
	return fmt.Sprintf("index: entry %d: %v", e.EntryID, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// ProviderError reports an unreachable or failing model provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("provider %s: %v", e.Provider, e.Err) }

func (e *ProviderError) Unwrap() error { return e.Err }

// IsConfig reports whether err is a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsPermanentIndex reports whether err is an IndexError that must not be retried.
func IsPermanentIndex(err error) bool {
	var ie *IndexError
	return errors.As(err, &ie) && ie.Permanent
}
