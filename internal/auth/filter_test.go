package auth

import (
	"errors"
	"net/url"
	"reflect"
	"testing"
	"time"

	"leaseserver/internal/errdefs"
)

var (
	adminIdent  = Identity{ProjectID: "adminid", Roles: []string{"admin"}}
	ownerIdent  = Identity{ProjectID: "ownerid", Roles: []string{"owner"}}
	lesseeIdent = Identity{ProjectID: "lesseeid", Roles: []string{"lessee"}}
	randomIdent = Identity{ProjectID: "randomid", Roles: []string{"randomrole"}}
)

func TestLeaseFiltersDefaultScope(t *testing.T) {
	// no view, no project_id, no owner: scope to caller's project with the
	// default non-terminal statuses
	for _, id := range []Identity{adminIdent, ownerIdent, lesseeIdent, randomIdent} {
		got, err := EffectiveLeaseFilters(id, Query{})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", id.ProjectID, err)
		}
		want := Filters{ProjectID: id.ProjectID, Statuses: []string{"created", "active"}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s: got %+v, want %+v", id.ProjectID, got, want)
		}
	}
}

func TestLeaseFiltersExplicitStatusAndOffer(t *testing.T) {
	got, err := EffectiveLeaseFilters(lesseeIdent, Query{Status: "random", OfferUUID: "offeruuid"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Filters{
		ProjectID: "lesseeid",
		OfferUUID: "offeruuid",
		Statuses:  []string{"random"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestLeaseFiltersStatusAnyRemovesRestriction(t *testing.T) {
	got, err := EffectiveLeaseFilters(adminIdent, Query{Status: StatusAny})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Statuses != nil {
		t.Errorf("status=any must remove the status filter, got %v", got.Statuses)
	}
	if got.ProjectID != "adminid" {
		t.Errorf("project scope must still default, got %q", got.ProjectID)
	}
}

func TestLeaseFiltersProjectScoping(t *testing.T) {
	// admin may scope to any project
	got, err := EffectiveLeaseFilters(adminIdent, Query{ProjectID: "randomid"})
	if err != nil {
		t.Fatalf("admin scoping: %v", err)
	}
	if got.ProjectID != "randomid" {
		t.Errorf("got project %q, want randomid", got.ProjectID)
	}

	// non-admin may scope to itself
	got, err = EffectiveLeaseFilters(lesseeIdent, Query{ProjectID: "lesseeid"})
	if err != nil {
		t.Fatalf("self scoping: %v", err)
	}
	if got.ProjectID != "lesseeid" {
		t.Errorf("got project %q, want lesseeid", got.ProjectID)
	}

	// non-admin may not scope to another project
	_, err = EffectiveLeaseFilters(lesseeIdent, Query{ProjectID: "randomid"})
	if !errors.Is(err, errdefs.ErrNotAuthorized) {
		t.Errorf("foreign project_id: got %v, want ErrNotAuthorized", err)
	}
	_, err = EffectiveLeaseFilters(ownerIdent, Query{Owner: "randomid"})
	if !errors.Is(err, errdefs.ErrNotAuthorized) {
		t.Errorf("foreign owner: got %v, want ErrNotAuthorized", err)
	}
}

func TestLeaseFiltersOwnerAndProjectCombined(t *testing.T) {
	// both parameters at once: each must pass individually
	got, err := EffectiveLeaseFilters(ownerIdent, Query{Owner: "ownerid", ProjectID: "ownerid"})
	if err != nil {
		t.Fatalf("combined own scope: %v", err)
	}
	if got.OwnerID != "ownerid" || got.ProjectID != "ownerid" {
		t.Errorf("got %+v", got)
	}

	_, err = EffectiveLeaseFilters(ownerIdent, Query{Owner: "ownerid", ProjectID: "randomid"})
	if !errors.Is(err, errdefs.ErrNotAuthorized) {
		t.Errorf("combined with foreign project_id: got %v, want ErrNotAuthorized", err)
	}

	got, err = EffectiveLeaseFilters(adminIdent, Query{Owner: "ownerid", ProjectID: "lesseeid"})
	if err != nil {
		t.Fatalf("admin combined: %v", err)
	}
	if got.OwnerID != "ownerid" || got.ProjectID != "lesseeid" {
		t.Errorf("admin combined: got %+v", got)
	}
}

func TestLeaseFiltersViewAll(t *testing.T) {
	got, err := EffectiveLeaseFilters(adminIdent, Query{View: ViewAll, Status: "random"})
	if err != nil {
		t.Fatalf("admin view=all: %v", err)
	}
	want := Filters{Statuses: []string{"random"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("admin view=all: got %+v, want %+v", got, want)
	}

	for _, id := range []Identity{ownerIdent, lesseeIdent, randomIdent} {
		_, err := EffectiveLeaseFilters(id, Query{View: ViewAll})
		if !errors.Is(err, errdefs.ErrNotAuthorized) {
			t.Errorf("%s view=all: got %v, want ErrNotAuthorized", id.ProjectID, err)
		}
	}
}

func TestLeaseFiltersTimeRange(t *testing.T) {
	start := time.Date(2016, 7, 16, 19, 20, 30, 0, time.UTC)
	end := time.Date(2020, 7, 16, 19, 20, 30, 0, time.UTC)

	got, err := EffectiveLeaseFilters(adminIdent, Query{View: ViewAll, Start: &start, End: &end})
	if err != nil {
		t.Fatalf("paired range: %v", err)
	}
	if got.Start == nil || got.End == nil || !got.Start.Equal(start) || !got.End.Equal(end) {
		t.Errorf("got %+v", got)
	}

	// a lone bound is rejected at parse time
	_, err = ParseLeaseQuery(url.Values{"view": {"all"}, "start_time": {"2016-07-16T19:20:30"}})
	if !errors.Is(err, errdefs.ErrInvalidTimeRange) {
		t.Errorf("lone start_time: got %v, want ErrInvalidTimeRange", err)
	}
	_, err = ParseLeaseQuery(url.Values{"view": {"all"}, "end_time": {"2020-07-16T19:20:30"}})
	if !errors.Is(err, errdefs.ErrInvalidTimeRange) {
		t.Errorf("lone end_time: got %v, want ErrInvalidTimeRange", err)
	}
}

func TestParseLeaseQueryRejectsUnknownKeys(t *testing.T) {
	_, err := ParseLeaseQuery(url.Values{"flavor": {"large"}})
	if !errors.Is(err, errdefs.ErrInvalidFilter) {
		t.Fatalf("got %v, want ErrInvalidFilter", err)
	}
}

func TestParseLeaseQueryTimestampFormats(t *testing.T) {
	q, err := ParseLeaseQuery(url.Values{
		"start_time": {"2016-07-16T19:20:30"},
		"end_time":   {"2016-08-16T19:20:30Z"},
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if q.Start == nil || q.Start.Hour() != 19 {
		t.Errorf("start parsed wrong: %+v", q.Start)
	}
	if q.End == nil || q.End.Month() != time.August {
		t.Errorf("end parsed wrong: %+v", q.End)
	}
}

func TestOfferFilters(t *testing.T) {
	got, err := EffectiveOfferFilters(ownerIdent, OfferQuery{})
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	want := Filters{ProjectID: "ownerid", Statuses: []string{"created", "available"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("default: got %+v, want %+v", got, want)
	}

	_, err = EffectiveOfferFilters(lesseeIdent, OfferQuery{Query: Query{View: ViewAll}})
	if !errors.Is(err, errdefs.ErrNotAuthorized) {
		t.Errorf("non-admin view=all: got %v, want ErrNotAuthorized", err)
	}

	_, err = EffectiveOfferFilters(lesseeIdent, OfferQuery{Query: Query{ProjectID: "ownerid"}})
	if !errors.Is(err, errdefs.ErrNotAuthorized) {
		t.Errorf("foreign project: got %v, want ErrNotAuthorized", err)
	}

	_, err = EffectiveOfferFilters(adminIdent, OfferQuery{Query: Query{View: "mine"}})
	if !errors.Is(err, errdefs.ErrInvalidFilter) {
		t.Errorf("bogus view: got %v, want ErrInvalidFilter", err)
	}
}
