package types

import (
	"errors"
	"fmt"
)

// The core distinguishes four fatal error kinds so callers can decide retry
// vs. abort. Per-record validation issues (empty name, self-loop, missing
// endpoint) are not errors: they are skipped during ingestion.
var (
	// ErrExtraction marks failures of the extraction backend. No store
	// mutation has happened when this is returned.
	ErrExtraction = errors.New("extraction failed")

	// ErrStore marks a write failure mid-transaction. The whole batch has
	// been rolled back when this is returned.
	ErrStore = errors.New("store operation failed")

	// ErrMigrationConflict is returned when an already-applied migration's
	// on-disk checksum no longer matches the ledger. The runner aborts
	// before applying any further unit.
	ErrMigrationConflict = errors.New("migration checksum conflict")

	// ErrBackup is returned when the store cannot be snapshotted before
	// migrating. The schema is untouched when this is returned.
	ErrBackup = errors.New("store backup failed")

	// ErrNotFound is returned by store lookups that match no row.
	ErrNotFound = errors.New("not found")
)

// ExtractionError wraps a failure of the external extraction collaborator.
type ExtractionError struct {
	Backend string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction via %s: %v", e.Backend, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Is reports true for ErrExtraction so callers can branch without knowing
// the concrete type.
func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// StoreError wraps a storage failure with the operation that caused it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }
