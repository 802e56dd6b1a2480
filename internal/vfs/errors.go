package vfs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidName is a local validation failure; it never reaches the store.
	ErrInvalidName = errors.New("invalid name")

	// ErrFileTooLarge is returned for an upload above the byte ceiling.
	ErrFileTooLarge = errors.New("file too large")

	// ErrNotImage is returned for an upload whose content is not an image.
	ErrNotImage = errors.New("file is not an image")

	// ErrTooManyFiles rejects an upload batch above the per-call limit.
	ErrTooManyFiles = errors.New("too many files in one upload")

	// ErrDuplicateName is returned when the destination already exists.
	ErrDuplicateName = errors.New("an item with that name already exists")

	// ErrStoreUnavailable wraps adapter failures on reads.
	ErrStoreUnavailable = errors.New("object store unavailable")

	// ErrCreateFailed is returned when a folder marker could not be written.
	ErrCreateFailed = errors.New("create failed")

	// ErrMoveFailed is returned when the adapter refused a move.
	ErrMoveFailed = errors.New("move failed")

	// ErrDeleteFailed marks an item whose keys the store refused to delete.
	ErrDeleteFailed = errors.New("delete failed")

	// ErrInvalidMove rejects moving a folder into itself or its own subtree.
	ErrInvalidMove = errors.New("cannot move a folder into itself")

	// ErrPartialBatchFailure is matched by the error of a batch where some items failed.
	ErrPartialBatchFailure = errors.New("some items failed")
)

// PartialBatchError lists the failed items of a batch operation.
type PartialBatchError struct {
	Operation string
	Failed    []ItemResult
	Total     int
}

func (e *PartialBatchError) Error() string {
	names := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		names[i] = fmt.Sprintf("%s (%v)", f.Path, f.Err)
	}
	return fmt.Sprintf("%s: %d of %d items failed: %s", e.Operation, len(e.Failed), e.Total, strings.Join(names, ", "))
}

// Is makes errors.Is(err, ErrPartialBatchFailure) true.
func (e *PartialBatchError) Is(target error) bool {
	return target == ErrPartialBatchFailure
}
