package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies every error that leaves the core.
type Kind string

const (
	KindConfig      Kind = "config"
	KindEmbedding   Kind = "embedding"
	KindDimension   Kind = "dimension_mismatch"
	KindLock        Kind = "lock_contention"
	KindPartialSync Kind = "partial_sync"
	KindStorage     Kind = "storage"
)

// ConfigError reports missing credentials, endpoints or invalid options.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// EmbeddingError wraps a failed call to an embedding backend.
type EmbeddingError struct {
	Provider   string
	StatusCode int
	// Fatal is set for failures that will repeat identically (bad credentials).
	Fatal bool
	Err   error
}

func (e *EmbeddingError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("embedding %s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("embedding %s: %v", e.Provider, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Retryable reports whether retrying the same batch may succeed.
func (e *EmbeddingError) Retryable() bool {
	if e.Fatal {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// DimensionMismatchError is returned when a vector does not match the
// dimension already established for a collection.
type DimensionMismatchError struct {
	Collection string
	Expected   int
	Got        int
	ChunkID    string
}

func (e *DimensionMismatchError) Error() string {
	switch {
	case e.Collection == "":
		return fmt.Sprintf("embedding dimension %d, expected %d", e.Got, e.Expected)
	case e.ChunkID != "":
		return fmt.Sprintf("collection %s: chunk %s has dimension %d, expected %d", e.Collection, e.ChunkID, e.Got, e.Expected)
	}
	return fmt.Sprintf("collection %s: dimension %d, expected %d", e.Collection, e.Got, e.Expected)
}

// LockContentionError means another run already holds the course lock.
type LockContentionError struct {
	Key string
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("lock %s is held by another run: already in progress", e.Key)
}

// PartialSyncError collects per-chapter failures of a batch run.
type PartialSyncError struct {
	Failures map[string]error
}

func (e *PartialSyncError) Error() string {
	refs := make([]string, 0, len(e.Failures))
	for ref := range e.Failures {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	parts := make([]string, 0, len(refs))
	for _, ref := range refs {
		parts = append(parts, fmt.Sprintf("%s: %v", ref, e.Failures[ref]))
	}
	return fmt.Sprintf("%d chapter(s) failed: %s", len(refs), strings.Join(parts, "; "))
}

// Add records the failure of one chapter.
func (e *PartialSyncError) Add(chapterRef string, err error) {
	if e.Failures == nil {
		e.Failures = make(map[string]error)
	}
	e.Failures[chapterRef] = err
}

// ErrOrNil returns e when at least one chapter failed.
func (e *PartialSyncError) ErrOrNil() error {
	if e == nil || len(e.Failures) == 0 {
		return nil
	}
	return e
}

// Classify maps any error to one of the error kinds.
func Classify(err error) Kind {
	var (
		cfgErr  *ConfigError
		embErr  *EmbeddingError
		dimErr  *DimensionMismatchError
		lockErr *LockContentionError
		partErr *PartialSyncError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cfgErr):
		return KindConfig
	case errors.As(err, &dimErr):
		return KindDimension
	case errors.As(err, &embErr):
		return KindEmbedding
	case errors.As(err, &lockErr):
		return KindLock
	case errors.As(err, &partErr):
		return KindPartialSync
	default:
		return KindStorage
	}
}

// IsFatal reports whether further work in the same batch would fail the
// same way, so the batch should stop early.
func IsFatal(err error) bool {
	var embErr *EmbeddingError
	if errors.As(err, &embErr) {
		return embErr.Fatal
	}
	switch Classify(err) {
	case KindConfig, KindDimension:
		return true
	}
	return false
}
