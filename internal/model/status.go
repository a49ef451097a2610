package model

import "time"

// Status is an entity lifecycle state. Offers and leases share the value
// set but have distinct transition tables.
type Status string

const (
	StatusCreated   Status = "created"
	StatusAvailable Status = "available"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// StatusAny is the query sentinel that removes the default status filter.
const StatusAny = "any"

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusCancelled
}

var offerTransitions = map[Status][]Status{
	StatusCreated:   {StatusAvailable, StatusCancelled},
	StatusAvailable: {StatusExpired, StatusCancelled},
}

// created -> expired covers a lease whose whole window passed before it
// was ever observed active.
var leaseTransitions = map[Status][]Status{
	StatusCreated: {StatusActive, StatusExpired, StatusCancelled},
	StatusActive:  {StatusExpired, StatusCancelled},
}

func canTransition(table map[Status][]Status, from, to Status) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OfferCanTransition reports whether an offer may move from -> to.
func OfferCanTransition(from, to Status) bool {
	return canTransition(offerTransitions, from, to)
}

// LeaseCanTransition reports whether a lease may move from -> to.
func LeaseCanTransition(from, to Status) bool {
	return canTransition(leaseTransitions, from, to)
}

// EffectiveOfferStatus applies time-driven transitions lazily: an
// available offer whose end has passed is expired as of now. Stored
// terminal states are final.
func EffectiveOfferStatus(stored Status, end, now time.Time) Status {
	if stored.Terminal() {
		return stored
	}
	if !now.Before(end) {
		return StatusExpired
	}
	return stored
}

// EffectiveLeaseStatus applies time-driven transitions lazily: start
// reached makes a created lease active, end reached makes it expired.
// Stored terminal states are final.
func EffectiveLeaseStatus(stored Status, start, end, now time.Time) Status {
	if stored.Terminal() {
		return stored
	}
	if !now.Before(end) {
		return StatusExpired
	}
	if stored == StatusCreated && !now.Before(start) {
		return StatusActive
	}
	return stored
}

// DefaultLeaseStatuses is the non-terminal status set applied when a list
// query names no status.
func DefaultLeaseStatuses() []Status {
	return []Status{StatusCreated, StatusActive}
}

// DefaultOfferStatuses is the offer analogue of DefaultLeaseStatuses.
func DefaultOfferStatuses() []Status {
	return []Status{StatusCreated, StatusAvailable}
}

// TerminalStatuses lists the states excluded from conflict checks and
// referential-dependency counts.
func TerminalStatuses() []Status {
	return []Status{StatusExpired, StatusCancelled}
}

// Stored statuses that can lazily resolve into a given effective status.
var leaseLazySources = map[Status][]Status{
	StatusActive:  {StatusCreated},
	StatusExpired: {StatusCreated, StatusActive},
}

var offerLazySources = map[Status][]Status{
	StatusExpired: {StatusCreated, StatusAvailable},
}

// StoredLeaseStatuses widens an effective-status filter to every stored
// status that could lazily resolve into a requested one, so a SQL match
// on stored values misses no row. Callers re-check effective status
// after the read.
func StoredLeaseStatuses(requested []string) []string {
	return expandStored(leaseLazySources, requested)
}

// StoredOfferStatuses is the offer analogue of StoredLeaseStatuses.
func StoredOfferStatuses(requested []string) []string {
	return expandStored(offerLazySources, requested)
}

func expandStored(sources map[Status][]Status, requested []string) []string {
	seen := make(map[string]bool, len(requested))
	out := make([]string, 0, len(requested))
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, r := range requested {
		add(r)
		for _, src := range sources[Status(r)] {
			add(string(src))
		}
	}
	return out
}
