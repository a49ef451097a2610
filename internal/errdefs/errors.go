// Package errdefs defines the failure taxonomy shared by the store, the
// allocation engine, and the API layer. Callers match with errors.Is; the
// HTTP layer maps each sentinel to a status code without wrapping it away.
package errdefs

import "errors"

var (
	// ErrNotAuthorized means the caller lacks the scope or role for the
	// requested operation or filter.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrNotFound means a reference did not resolve to any entity.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousReference means a name resolved to more than one entity.
	ErrAmbiguousReference = errors.New("reference matches more than one entity")

	// ErrWindowOutOfBounds means a requested lease window exceeds the
	// offer's availability window.
	ErrWindowOutOfBounds = errors.New("requested window exceeds offer availability")

	// ErrWindowConflict means the requested window overlaps an existing
	// non-terminal lease on the same resource.
	ErrWindowConflict = errors.New("requested window conflicts with an existing lease")

	// ErrOfferNotAvailable means the referenced offer is not in an
	// available state.
	ErrOfferNotAvailable = errors.New("offer is not available")

	// ErrInvalidTransition means a status change is not permitted by the
	// entity's state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrReferentialConflict means a destroy or cancel is blocked by a
	// non-terminal dependent.
	ErrReferentialConflict = errors.New("entity is referenced by a non-terminal dependent")

	// ErrInvalidFilter means a query used an unsupported filter key.
	ErrInvalidFilter = errors.New("unsupported filter")

	// ErrInvalidTimeRange means exactly one of start_time/end_time was
	// supplied; they are only meaningful together.
	ErrInvalidTimeRange = errors.New("start_time and end_time must be supplied together")

	// ErrDuplicateEntity means a create collided with an existing UUID or
	// a per-project unique name.
	ErrDuplicateEntity = errors.New("entity already exists")

	// ErrInvalidArgument means a request field is missing or malformed.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStoreBusy is a transient store contention failure; callers may
	// retry.
	ErrStoreBusy = errors.New("store busy, retry")
)
