// Package errs defines the sentinel error kinds surfaced by the engine's
// core contract, matching the style of the teacher's per-package
// errors.go files: one var block of errors.New sentinels, wrapped with
// call-site context via fmt.Errorf("...: %w", err).
package errs

import "errors"

var (
	// ErrCellEmpty is returned reading a cell that was never written.
	ErrCellEmpty = errors.New("cell is empty")

	// ErrTypeMismatch is returned when a cell's stored type tag does not
	// match the type requested by a downcast.
	ErrTypeMismatch = errors.New("unexpected type in cell")

	// ErrUntyped is returned trait-casting a payload without a runtime
	// type tag.
	ErrUntyped = errors.New("cell content is untyped")

	// ErrTraitNotImplemented is returned resolving a trait method on a
	// value whose concrete type does not implement the trait at all.
	ErrTraitNotImplemented = errors.New("value does not implement trait")

	// ErrMethodMissing is returned when a value implements the trait but
	// not the specific method being resolved.
	ErrMethodMissing = errors.New("trait implemented but method missing")

	// ErrTaskPanicked marks a task execution that aborted non-recoverably.
	// Cleared only by a fresh invalidation.
	ErrTaskPanicked = errors.New("task panicked")

	// ErrTaskError marks a task that completed with a domain error. Cached
	// identically to a successful output and participates in dependency
	// tracking.
	ErrTaskError = errors.New("task returned an error")

	// ErrCycleDetected is returned when resolving a RawVc chain loops back
	// on itself.
	ErrCycleDetected = errors.New("cycle detected while resolving RawVc")

	// ErrTaskNotFound is returned for operations against a TaskId the
	// backend has never seen (or has since evicted).
	ErrTaskNotFound = errors.New("task not found")

	// ErrBackendClosed names an operation attempted after Stop has been
	// called. Neither internal/memtask nor internal/persisttask returns it:
	// both keep serving calls after Stop.
	ErrBackendClosed = errors.New("backend is stopped")
)
