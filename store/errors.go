package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks normal absence on paths that must return an error
	// (snapshot restore by id). Point reads signal absence with ok=false
	// instead, so callers never conflate "no record" with "store broken".
	ErrNotFound = errors.New("record not found")

	// ErrIntegrity marks a checksum mismatch. Never auto-corrected; the
	// failing operation writes nothing.
	ErrIntegrity = errors.New("integrity check failed")
)

// StorageError wraps engine-level failures so workers can tell them apart
// from absence and from integrity violations.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func ErrSnapshotChecksumMismatch(id, stored, computed string) error {
	return fmt.Errorf("%w: snapshot %s stored=%s computed=%s", ErrIntegrity, id, stored, computed)
}
