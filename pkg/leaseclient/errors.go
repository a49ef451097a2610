package leaseclient

import "fmt"

// ConflictError is the server's definitive refusal: an overlapping lease
// already holds part of the requested window, the offer is not available,
// or the entity is in a state that forbids the operation. Not retryable.
type ConflictError struct {
	Path    string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: path=%s msg=%s", e.Path, e.Message)
}

// BusyError signals a transient store contention failure. Retryable.
type BusyError struct {
	Path    string
	Message string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("server busy: path=%s msg=%s", e.Path, e.Message)
}

type UnexpectedStatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s %s -> %d body=%q", e.Method, e.Path, e.Code, e.Body)
}
