// Package auth derives the effective store filters a caller is permitted
// to query with. It is a pure function of the caller's identity claims and
// the requested parameters; it never touches the store, so the role rules
// are unit-testable on their own.
package auth

import (
	"fmt"
	"net/url"
	"time"

	"leaseserver/internal/errdefs"
)

// RoleAdmin may use view=all and scope queries to arbitrary projects.
// Every other role is scoped to its own project.
const RoleAdmin = "admin"

// ViewAll requests an unscoped listing. Admin only.
const ViewAll = "all"

// StatusAny is the sentinel that removes the default status restriction.
const StatusAny = "any"

// Identity is the caller's already-established claims. The project
// directory is never consulted for authorization decisions.
type Identity struct {
	ProjectID string
	Roles     []string
}

func (id Identity) IsAdmin() bool {
	for _, r := range id.Roles {
		if r == RoleAdmin {
			return true
		}
	}
	return false
}

// Query holds the caller-supplied list parameters after syntactic
// validation.
type Query struct {
	View      string
	ProjectID string
	Owner     string
	Status    string
	OfferUUID string
	Start     *time.Time
	End       *time.Time
}

// Filters is the effective scoping applied at the entity store.
// Zero-value string fields mean "no filter"; a nil Statuses slice means
// the status restriction was removed entirely.
type Filters struct {
	ProjectID string
	OwnerID   string
	OfferUUID string
	Statuses  []string
	Start     *time.Time
	End       *time.Time
}

var leaseQueryKeys = map[string]bool{
	"view": true, "project_id": true, "owner": true, "status": true,
	"offer_uuid": true, "start_time": true, "end_time": true,
}

var offerQueryKeys = map[string]bool{
	"view": true, "project_id": true, "status": true,
	"resource_type": true, "resource_uuid": true,
	"start_time": true, "end_time": true,
}

// ParseLeaseQuery validates lease list parameters. Unknown keys fail with
// ErrInvalidFilter; a lone start_time or end_time fails with
// ErrInvalidTimeRange.
func ParseLeaseQuery(values url.Values) (Query, error) {
	if err := checkKeys(values, leaseQueryKeys); err != nil {
		return Query{}, err
	}
	q := Query{
		View:      values.Get("view"),
		ProjectID: values.Get("project_id"),
		Owner:     values.Get("owner"),
		Status:    values.Get("status"),
		OfferUUID: values.Get("offer_uuid"),
	}
	var err error
	q.Start, q.End, err = parseTimeRange(values)
	if err != nil {
		return Query{}, err
	}
	return q, nil
}

// OfferQuery carries the offer-specific resource filters beside the
// shared scoping parameters.
type OfferQuery struct {
	Query
	ResourceType string
	ResourceUUID string
}

// ParseOfferQuery is the offer analogue of ParseLeaseQuery.
func ParseOfferQuery(values url.Values) (OfferQuery, error) {
	if err := checkKeys(values, offerQueryKeys); err != nil {
		return OfferQuery{}, err
	}
	q := OfferQuery{
		Query: Query{
			View:      values.Get("view"),
			ProjectID: values.Get("project_id"),
			Status:    values.Get("status"),
		},
		ResourceType: values.Get("resource_type"),
		ResourceUUID: values.Get("resource_uuid"),
	}
	var err error
	q.Start, q.End, err = parseTimeRange(values)
	if err != nil {
		return OfferQuery{}, err
	}
	return q, nil
}

func checkKeys(values url.Values, allowed map[string]bool) error {
	for key := range values {
		if !allowed[key] {
			return fmt.Errorf("%w: %q", errdefs.ErrInvalidFilter, key)
		}
	}
	return nil
}

func parseTimeRange(values url.Values) (*time.Time, *time.Time, error) {
	start, err := parseTimeParam(values, "start_time")
	if err != nil {
		return nil, nil, err
	}
	end, err := parseTimeParam(values, "end_time")
	if err != nil {
		return nil, nil, err
	}
	if (start == nil) != (end == nil) {
		return nil, nil, errdefs.ErrInvalidTimeRange
	}
	return start, end, nil
}

func parseTimeParam(values url.Values, key string) (*time.Time, error) {
	raw := values.Get(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// the original API accepted bare ISO timestamps without a zone
		t, err = time.Parse("2006-01-02T15:04:05", raw)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s=%q", errdefs.ErrInvalidFilter, key, raw)
	}
	return &t, nil
}

// defaultLeaseStatuses is the non-terminal set applied when the caller
// names no status. This is scoping policy, so it lives here rather than
// in the state machines.
var defaultLeaseStatuses = []string{"created", "active"}

var defaultOfferStatuses = []string{"created", "available"}

// EffectiveLeaseFilters resolves the caller's lease list scope.
//
// Admins may use view=all or scope to any explicit project_id/owner.
// Everyone else may only name their own project; with no explicit scoping
// the filter defaults to the caller's project plus the default
// non-terminal status set.
func EffectiveLeaseFilters(id Identity, q Query) (Filters, error) {
	f := Filters{
		OfferUUID: q.OfferUUID,
		Statuses:  normalizeStatuses(q.Status, defaultLeaseStatuses),
		Start:     q.Start,
		End:       q.End,
	}

	switch {
	case q.View == ViewAll:
		if !id.IsAdmin() {
			return Filters{}, fmt.Errorf("%w: view=all requires admin", errdefs.ErrNotAuthorized)
		}
	case q.View != "":
		return Filters{}, fmt.Errorf("%w: view=%q", errdefs.ErrInvalidFilter, q.View)
	case q.ProjectID != "" || q.Owner != "":
		// both parameters may be combined, but each must pass on its own
		if q.ProjectID != "" {
			if err := checkScope(id, q.ProjectID); err != nil {
				return Filters{}, err
			}
			f.ProjectID = q.ProjectID
		}
		if q.Owner != "" {
			if err := checkScope(id, q.Owner); err != nil {
				return Filters{}, err
			}
			f.OwnerID = q.Owner
		}
	default:
		f.ProjectID = id.ProjectID
	}
	return f, nil
}

// EffectiveOfferFilters resolves the caller's offer list scope under the
// same role rules; an offer's project_id is its owner.
func EffectiveOfferFilters(id Identity, q OfferQuery) (Filters, error) {
	f := Filters{
		Statuses: normalizeStatuses(q.Status, defaultOfferStatuses),
		Start:    q.Start,
		End:      q.End,
	}

	switch {
	case q.View == ViewAll:
		if !id.IsAdmin() {
			return Filters{}, fmt.Errorf("%w: view=all requires admin", errdefs.ErrNotAuthorized)
		}
	case q.View != "":
		return Filters{}, fmt.Errorf("%w: view=%q", errdefs.ErrInvalidFilter, q.View)
	case q.ProjectID != "":
		if err := checkScope(id, q.ProjectID); err != nil {
			return Filters{}, err
		}
		f.ProjectID = q.ProjectID
	default:
		f.ProjectID = id.ProjectID
	}
	return f, nil
}

func checkScope(id Identity, project string) error {
	if id.IsAdmin() || project == id.ProjectID {
		return nil
	}
	return fmt.Errorf("%w: project %q is outside caller scope", errdefs.ErrNotAuthorized, project)
}

func normalizeStatuses(status string, defaults []string) []string {
	switch status {
	case "":
		out := make([]string, len(defaults))
		copy(out, defaults)
		return out
	case StatusAny:
		return nil
	default:
		return []string{status}
	}
}
