package core

import (
	"errors"
	"time"

	"github.com/illarion/lockersim/internal/crypto"
)

// Op names a batch operation
type Op string

const (
	OpLock   Op = "lock"
	OpUnlock Op = "unlock"
)

// FailureKind classifies a per-file failure
type FailureKind string

const (
	KindAuthFailed    FailureKind = "authentication_failed"
	KindMalformedBlob FailureKind = "malformed_blob"
	KindIO            FailureKind = "io_error"
	KindConflict      FailureKind = "conflict"
)

// Failure is one file the batch could not transform
type Failure struct {
	Name string
	Kind FailureKind
	Err  error
}

// Transformed records one successful file transformation
type Transformed struct {
	From string
	To   string
	// Identical is set when unlock found the same plaintext already present
	// and only removed the blob.
	Identical bool
}

// Result is the report of one batch operation
type Result struct {
	RunID       string
	Op          Op
	Dir         string
	Transformed []Transformed
	Skipped     []string
	Failures    []Failure
	Started     time.Time
	Finished    time.Time
	// Interrupted is set when the context was cancelled mid-batch
	Interrupted bool
}

// Count returns the number of files successfully transformed
func (r *Result) Count() int {
	return len(r.Transformed)
}

// HasFailures reports whether any file failed
func (r *Result) HasFailures() bool {
	return len(r.Failures) > 0
}

func classify(err error) FailureKind {
	switch {
	case errors.Is(err, crypto.ErrAuthFailed):
		return KindAuthFailed
	case errors.Is(err, crypto.ErrMalformedBlob):
		return KindMalformedBlob
	case errors.Is(err, ErrTargetExists):
		return KindConflict
	default:
		return KindIO
	}
}
