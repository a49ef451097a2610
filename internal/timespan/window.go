// Package timespan models half-open time windows [start, end) and the
// overlap and containment checks the allocation logic is built on.
package timespan

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidWindow is returned when a window's start is not strictly
// before its end.
var ErrInvalidWindow = errors.New("invalid window: start must be before end")

// Window is a half-open interval [Start, End). Two windows that merely
// touch at an endpoint do not overlap.
type Window struct {
	Start time.Time
	End   time.Time
}

// New validates and constructs a window.
func New(start, end time.Time) (Window, error) {
	if !start.Before(end) {
		return Window{}, fmt.Errorf("%w: start=%s end=%s",
			ErrInvalidWindow,
			start.UTC().Format(time.RFC3339),
			end.UTC().Format(time.RFC3339))
	}
	return Window{Start: start, End: end}, nil
}

// Overlaps reports whether w and other share at least one instant.
func (w Window) Overlaps(other Window) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Contains reports whether inner lies entirely within w.
func (w Window) Contains(inner Window) bool {
	return !w.Start.After(inner.Start) && !inner.End.After(w.End)
}

// Duration returns End - Start. Positive for any valid window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}
