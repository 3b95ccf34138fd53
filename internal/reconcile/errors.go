package reconcile

import (
	"errors"
	"fmt"

	"github.com/lalith-99/viewify/internal/models"
)

var (
	// ErrStoreCallFailed matches every *StoreError.
	ErrStoreCallFailed = errors.New("store call failed")
	// ErrUnauthorizedMutation is returned when someone other than the
	// author edits or deletes an entity. No store call is made.
	ErrUnauthorizedMutation = errors.New("only the author can change this")
	ErrInvalidInput         = errors.New("invalid input")
	// ErrNotConfirmed is returned for edits and deletes addressed to a row
	// the store has not assigned an id to yet.
	ErrNotConfirmed = errors.New("entity not confirmed yet")
	ErrUnmounted    = errors.New("collection closed")
	// ErrParentFailed finishes replies that were waiting on a parent whose
	// own submission failed.
	ErrParentFailed = errors.New("parent submission failed")
)

// StoreError wraps an error returned by the entity store.
//
//	errors.Is(err, ErrStoreCallFailed)    // true
//	errors.Is(err, repository.ErrNotFound) // true if the store said so
type StoreError struct {
	Op   string
	Kind models.Kind
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreCallFailed }
