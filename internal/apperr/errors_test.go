package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewStorageError_PassesNotFound(t *testing.T) {
	err := NewStorageError("get", fmt.Errorf("row: %w", ErrNotFound))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var se *StorageError
	if errors.As(err, &se) {
		t.Error("not-found should not be wrapped as StorageError")
	}
}

func TestNewStorageError_Wraps(t *testing.T) {
	cause := errors.New("disk full")
	err := NewStorageError("append", cause)
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %T", err)
	}
	if se.Op != "append" || !errors.Is(err, cause) {
		t.Errorf("unexpected wrap: %+v", se)
	}
	if NewStorageError("noop", nil) != nil {
		t.Error("nil error must stay nil")
	}
}

func TestIsConfig(t *testing.T) {
	err := fmt.Errorf("save: %w", NewConfigError("privacy.regex", errors.New("bad pattern")))
	if !IsConfig(err) {
		t.Error("expected ConfigError through wrapping")
	}
	if IsConfig(errors.New("plain")) {
		t.Error("plain error is not a ConfigError")
	}
}

func TestIsPermanentIndex(t *testing.T) {
	if !IsPermanentIndex(&IndexError{EntryID: 3, Permanent: true, Err: errors.New("dim")}) {
		t.Error("expected permanent")
	}
	if IsPermanentIndex(&IndexError{EntryID: 3, Err: errors.New("timeout")}) {
		t.Error("expected temporary")
	}
}
