package service_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"leaseserver/internal/auth"
	"leaseserver/internal/errdefs"
	"leaseserver/internal/model"
	"leaseserver/internal/service"
	"leaseserver/internal/storage"
)

var (
	offerStart = time.Date(2016, 7, 16, 0, 0, 0, 0, time.UTC)
	offerEnd   = time.Date(2016, 10, 24, 0, 0, 0, 0, time.UTC)
	testNow    = time.Date(2016, 7, 16, 12, 0, 0, 0, time.UTC)

	leaseStart = time.Date(2016, 7, 16, 19, 20, 30, 0, time.UTC)
	leaseEnd   = time.Date(2016, 8, 16, 19, 20, 30, 0, time.UTC)
)

var (
	owner    = auth.Identity{ProjectID: "owner-1"}
	lessee   = auth.Identity{ProjectID: "lessee-1"}
	lessee2  = auth.Identity{ProjectID: "lessee-2"}
	admin    = auth.Identity{ProjectID: "admin-proj", Roles: []string{"admin"}}
	stranger = auth.Identity{ProjectID: "stranger"}
)

func newTestService(t *testing.T) *service.Service {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "leaseserver_test.db")

	db, err := storage.Open(context.Background(), storage.Config{
		Path:         dbPath,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 20,
		MaxIdleConns: 20,
	})
	if err != nil {
		t.Fatalf("db open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return service.New(storage.NewStore(db), nil, nil, nil, nil)
}

func mustCreateOffer(t *testing.T, svc *service.Service) string {
	t.Helper()
	offer, err := svc.CreateOffer(context.Background(), owner, service.CreateOfferRequest{
		ResourceType: "dedicated_node",
		ResourceUUID: "node-1",
		Start:        offerStart,
		End:          offerEnd,
		Now:          testNow,
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	return offer.UUID
}

func TestLeaseWithinOfferWindow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	offerUUID := mustCreateOffer(t, svc)

	lease, err := svc.CreateLease(ctx, lessee, service.CreateLeaseRequestInput{
		OfferRef: offerUUID,
		Start:    leaseStart,
		End:      leaseEnd,
		Now:      testNow,
	})
	if err != nil {
		t.Fatalf("create lease: %v", err)
	}
	if lease.Status != "created" {
		t.Fatalf("expected status created, got %s", lease.Status)
	}
	if lease.OwnerID != owner.ProjectID || lease.ProjectID != lessee.ProjectID {
		t.Fatalf("wrong ownership: owner=%s project=%s", lease.OwnerID, lease.ProjectID)
	}

	got, err := svc.GetLease(ctx, lease.UUID, testNow)
	if err != nil {
		t.Fatalf("get lease: %v", err)
	}
	if got.UUID != lease.UUID || got.OfferUUID != offerUUID {
		t.Fatalf("unexpected lease: %+v", got)
	}

	// reads are idempotent without intervening mutations
	again, err := svc.GetLease(ctx, lease.UUID, testNow)
	if err != nil {
		t.Fatalf("get lease again: %v", err)
	}
	if *again != *got {
		t.Fatalf("reads diverged: %+v vs %+v", got, again)
	}
}

func TestOverlappingLeaseRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	offerUUID := mustCreateOffer(t, svc)

	if _, err := svc.CreateLease(ctx, lessee, service.CreateLeaseRequestInput{
		OfferRef: offerUUID, Start: leaseStart, End: leaseEnd, Now: testNow,
	}); err != nil {
		t.Fatalf("first lease: %v", err)
	}

	// overlaps the middle of the first lease
	_, err := svc.CreateLease(ctx, lessee2, service.CreateLeaseRequestInput{
		OfferRef: offerUUID,
		Start:    time.Date(2016, 8, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2016, 9, 1, 0, 0, 0, 0, time.UTC),
		Now:      testNow,
	})
	if !errors.Is(err, errdefs.ErrWindowConflict) {
		t.Fatalf("expected ErrWindowConflict, got %v", err)
	}
}

func TestTouchingWindowsDoNotConflict(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	offerUUID := mustCreateOffer(t, svc)

	if _, err := svc.CreateLease(ctx, lessee, service.CreateLeaseRequestInput{
		OfferRef: offerUUID, Start: leaseStart, End: leaseEnd, Now: testNow,
	}); err != nil {
		t.Fatalf("first lease: %v", err)
	}

	// starts exactly when the first lease ends
	if _, err := svc.CreateLease(ctx, lessee2, service.CreateLeaseRequestInput{
		OfferRef: offerUUID,
		Start:    leaseEnd,
		End:      time.Date(2016, 9, 1, 0, 0, 0, 0, time.UTC),
		Now:      testNow,
	}); err != nil {
		t.Fatalf("touching lease should succeed: %v", err)
	}
}

func TestLeaseOutsideOfferWindowRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	offerUUID := mustCreateOffer(t, svc)

	// extends past the offer's end
	_, err := svc.CreateLease(ctx, lessee, service.CreateLeaseRequestInput{
		OfferRef: offerUUID,
		Start:    time.Date(2016, 10, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2016, 11, 1, 0, 0, 0, 0, time.UTC),
		Now:      testNow,
	})
	if !errors.Is(err, errdefs.ErrWindowOutOfBounds) {
		t.Fatalf("expected ErrWindowOutOfBounds, got %v", err)
	}
}

func TestInvertedWindowRejected(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.CreateLease(context.Background(), lessee, service.CreateLeaseRequestInput{
		OfferRef: "anything",
		Start:    leaseEnd,
		End:      leaseStart,
		Now:      testNow,
	})
	if err == nil {
		t.Fatal("expected error for inverted window")
	}
}

func TestLeaseReplayUUIDRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	offerUUID := mustCreateOffer(t, svc)

	const id = "3d0f0f70-7f7c-4ca7-9f47-333333333333"
	if _, err := svc.CreateLease(ctx, lessee, service.CreateLeaseRequestInput{
		UUID: id, OfferRef: offerUUID, Start: leaseStart, End: leaseEnd, Now: testNow,
	}); err != nil {
		t.Fatalf("first lease: %v", err)
	}

	// replaying the identical request surfaces the duplicate, not the
	// window conflict with the prior lease
	_, err := svc.CreateLease(ctx, lessee, service.CreateLeaseRequestInput{
		UUID: id, OfferRef: offerUUID, Start: leaseStart, End: leaseEnd, Now: testNow,
	})
	if !errors.Is(err, errdefs.ErrDuplicateEntity) {
		t.Fatalf("identical replay: expected ErrDuplicateEntity, got %v", err)
	}

	// same uuid, disjoint window: still a duplicate
	_, err = svc.CreateLease(ctx, lessee, service.CreateLeaseRequestInput{
		UUID:     id,
		OfferRef: offerUUID,
		Start:    time.Date(2016, 9, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2016, 9, 2, 0, 0, 0, 0, time.UTC),
		Now:      testNow,
	})
	if !errors.Is(err, errdefs.ErrDuplicateEntity) {
		t.Fatalf("disjoint replay: expected ErrDuplicateEntity, got %v", err)
	}
}

func TestOfferResolutionByName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	offer, err := svc.CreateOffer(ctx, owner, service.CreateOfferRequest{
		Name:         "compute-rack-a",
		ResourceType: "dedicated_node",
		ResourceUUID: "node-1",
		Start:        offerStart,
		End:          offerEnd,
		Now:          testNow,
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}

	got, err := svc.GetOffer(ctx, "compute-rack-a", nil, testNow)
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if got.UUID != offer.UUID {
		t.Fatalf("resolved wrong offer: %s", got.UUID)
	}

	if _, err := svc.GetOffer(ctx, "no-such-offer", nil, testNow); !errors.Is(err, errdefs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelOfferWithActiveLeaseRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	offerUUID := mustCreateOffer(t, svc)

	lease, err := svc.CreateLease(ctx, lessee, service.CreateLeaseRequestInput{
		OfferRef: offerUUID, Start: leaseStart, End: leaseEnd, Now: testNow,
	})
	if err != nil {
		t.Fatalf("create lease: %v", err)
	}

	if _, err := svc.CancelOffer(ctx, owner, offerUUID, testNow); !errors.Is(err, errdefs.ErrReferentialConflict) {
		t.Fatalf("expected ErrReferentialConflict, got %v", err)
	}

	// cancelling the lease unblocks the offer
	if _, err := svc.CancelLease(ctx, lessee, lease.UUID, testNow); err != nil {
		t.Fatalf("cancel lease: %v", err)
	}
	cancelled, err := svc.CancelOffer(ctx, owner, offerUUID, testNow)
	if err != nil {
		t.Fatalf("cancel offer after lease gone: %v", err)
	}
	if cancelled.Status != "cancelled" {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
}

func TestCancelAuthorization(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	offerUUID := mustCreateOffer(t, svc)

	lease, err := svc.CreateLease(ctx, lessee, service.CreateLeaseRequestInput{
		OfferRef: offerUUID, Start: leaseStart, End: leaseEnd, Now: testNow,
	})
	if err != nil {
		t.Fatalf("create lease: %v", err)
	}

	if _, err := svc.CancelLease(ctx, stranger, lease.UUID, testNow); !errors.Is(err, errdefs.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for stranger, got %v", err)
	}
	// the resource owner may also terminate the lease
	if _, err := svc.CancelLease(ctx, owner, lease.UUID, testNow); err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	// terminal leases reject further transitions
	if _, err := svc.CancelLease(ctx, lessee, lease.UUID, testNow); !errors.Is(err, errdefs.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestExpiredOfferNotLeasable(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	offerUUID := mustCreateOffer(t, svc)

	afterEnd := offerEnd.Add(time.Hour)
	_, err := svc.CreateLease(ctx, lessee, service.CreateLeaseRequestInput{
		OfferRef: offerUUID,
		Start:    afterEnd,
		End:      afterEnd.Add(time.Hour),
		Now:      afterEnd,
	})
	if !errors.Is(err, errdefs.ErrOfferNotAvailable) {
		t.Fatalf("expected ErrOfferNotAvailable, got %v", err)
	}

	// and the stored row now reads as expired
	got, err := svc.GetOffer(ctx, offerUUID, nil, afterEnd)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if got.Status != "expired" {
		t.Fatalf("expected effective expired, got %s", got.Status)
	}
}

func TestLeaseBecomesActiveThenExpires(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	offerUUID := mustCreateOffer(t, svc)

	lease, err := svc.CreateLease(ctx, lessee, service.CreateLeaseRequestInput{
		OfferRef: offerUUID, Start: leaseStart, End: leaseEnd, Now: testNow,
	})
	if err != nil {
		t.Fatalf("create lease: %v", err)
	}

	cases := []struct {
		at   time.Time
		want string
	}{
		{testNow, "created"},
		{leaseStart.Add(time.Hour), "active"},
		{leaseEnd, "expired"},
		{leaseEnd.Add(time.Hour), "expired"},
	}
	for _, tc := range cases {
		got, err := svc.GetLease(ctx, lease.UUID, tc.at)
		if err != nil {
			t.Fatalf("get lease at %s: %v", tc.at, err)
		}
		if string(got.Status) != tc.want {
			t.Fatalf("at %s: expected %s, got %s", tc.at, tc.want, got.Status)
		}
	}
}

func TestListLeasesVisibility(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	offerUUID := mustCreateOffer(t, svc)

	mk := func(who auth.Identity, start, end time.Time) {
		t.Helper()
		if _, err := svc.CreateLease(ctx, who, service.CreateLeaseRequestInput{
			OfferRef: offerUUID, Start: start, End: end, Now: testNow,
		}); err != nil {
			t.Fatalf("lease for %s: %v", who.ProjectID, err)
		}
	}
	mk(lessee, leaseStart, leaseEnd)
	mk(lessee2, leaseEnd, leaseEnd.Add(24*time.Hour))

	// non-admin default scope: own project only
	mine, err := svc.ListLeases(ctx, lessee, auth.Query{}, testNow)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 1 || mine[0].ProjectID != lessee.ProjectID {
		t.Fatalf("expected 1 own lease, got %d", len(mine))
	}

	// non-admin cannot widen the scope
	if _, err := svc.ListLeases(ctx, lessee, auth.Query{View: "all"}, testNow); !errors.Is(err, errdefs.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if _, err := svc.ListLeases(ctx, lessee, auth.Query{ProjectID: lessee2.ProjectID}, testNow); !errors.Is(err, errdefs.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	// admin view=all sees both
	all, err := svc.ListLeases(ctx, admin, auth.Query{View: "all"}, testNow)
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 leases, got %d", len(all))
	}

	// owner-side scoping: the offering project can query leases on its resources
	owned, err := svc.ListLeases(ctx, owner, auth.Query{Owner: owner.ProjectID, Status: "any"}, testNow)
	if err != nil {
		t.Fatalf("owner list: %v", err)
	}
	if len(owned) != 2 {
		t.Fatalf("expected 2 owned leases, got %d", len(owned))
	}
}

// A lease stored as created whose start has passed is effectively active
// and must be returned by an explicit status=active query before any
// sweep folds the stored value.
func TestStatusFilterSeesUnsweptRows(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	offerUUID := mustCreateOffer(t, svc)

	lease, err := svc.CreateLease(ctx, lessee, service.CreateLeaseRequestInput{
		OfferRef: offerUUID, Start: leaseStart, End: leaseEnd, Now: testNow,
	})
	if err != nil {
		t.Fatalf("create lease: %v", err)
	}

	midLease := leaseStart.Add(24 * time.Hour)

	got, err := svc.ListLeases(ctx, lessee, auth.Query{Status: "active"}, midLease)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(got) != 1 || got[0].UUID != lease.UUID || got[0].Status != model.StatusActive {
		t.Fatalf("expected the unswept lease as active, got %+v", got)
	}

	// the widened SQL set must not over-report: effectively active rows
	// stay out of a status=created query
	got, err = svc.ListLeases(ctx, lessee, auth.Query{Status: "created"}, midLease)
	if err != nil {
		t.Fatalf("list created: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no created leases, got %d", len(got))
	}

	// past its end the same stored row answers status=expired
	got, err = svc.ListLeases(ctx, lessee, auth.Query{Status: "expired"}, leaseEnd.Add(time.Hour))
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(got) != 1 || got[0].Status != model.StatusExpired {
		t.Fatalf("expected the lease as expired, got %+v", got)
	}

	// offers behave the same: stored available past its end is expired
	offers, err := svc.ListOffers(ctx, owner, auth.OfferQuery{Query: auth.Query{Status: "expired"}}, offerEnd.Add(time.Hour))
	if err != nil {
		t.Fatalf("list expired offers: %v", err)
	}
	if len(offers) != 1 || offers[0].Status != model.StatusExpired {
		t.Fatalf("expected the offer as expired, got %+v", offers)
	}
}

func TestUpdateMergesFieldsAndGuardsStatus(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	offerUUID := mustCreateOffer(t, svc)

	lease, err := svc.CreateLease(ctx, lessee, service.CreateLeaseRequestInput{
		OfferRef: offerUUID, Start: leaseStart, End: leaseEnd, Now: testNow,
	})
	if err != nil {
		t.Fatalf("create lease: %v", err)
	}

	// name-only patch leaves status untouched
	name := "batch-47"
	got, err := svc.UpdateLease(ctx, lessee, lease.UUID, storage.Patch{Name: &name}, testNow)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Name != "batch-47" || got.Status != model.StatusCreated {
		t.Fatalf("unexpected lease after patch: %+v", got)
	}

	// legal transition through the patch path
	active := model.StatusActive
	got, err = svc.UpdateLease(ctx, lessee, lease.UUID, storage.Patch{Status: &active}, testNow)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if got.Status != model.StatusActive || got.Name != "batch-47" {
		t.Fatalf("unexpected lease after activate: %+v", got)
	}

	// illegal transition is rejected
	created := model.StatusCreated
	if _, err := svc.UpdateLease(ctx, lessee, lease.UUID, storage.Patch{Status: &created}, testNow); !errors.Is(err, errdefs.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	// strangers cannot update
	if _, err := svc.UpdateLease(ctx, stranger, lease.UUID, storage.Patch{Name: &name}, testNow); !errors.Is(err, errdefs.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestConcurrentLeaseRequestsExactlyOneWins(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	offerUUID := mustCreateOffer(t, svc)

	const clients = 24

	var wins int64
	var conflicts int64
	var opErrors int64

	wg := sync.WaitGroup{}
	wg.Add(clients)
	for i := 0; i < clients; i++ {
		i := i
		go func() {
			defer wg.Done()
			who := auth.Identity{ProjectID: fmt.Sprintf("racer-%d", i)}

			// all racers want the same window; retry only transient busy
			for {
				_, err := svc.CreateLease(ctx, who, service.CreateLeaseRequestInput{
					OfferRef: offerUUID,
					Start:    leaseStart,
					End:      leaseEnd,
					Now:      testNow,
				})
				switch {
				case err == nil:
					atomic.AddInt64(&wins, 1)
					return
				case errors.Is(err, errdefs.ErrWindowConflict):
					atomic.AddInt64(&conflicts, 1)
					return
				case errors.Is(err, errdefs.ErrStoreBusy):
					time.Sleep(2 * time.Millisecond)
					continue
				default:
					atomic.AddInt64(&opErrors, 1)
					return
				}
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d (conflicts=%d errors=%d)", wins, conflicts, opErrors)
	}
	if conflicts != clients-1 {
		t.Fatalf("expected %d conflicts, got %d (errors=%d)", clients-1, conflicts, opErrors)
	}
	if opErrors != 0 {
		t.Fatalf("unexpected errors: %d", opErrors)
	}
}

func TestConcurrentDisjointWindowsAllSucceed(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	offerUUID := mustCreateOffer(t, svc)

	const clients = 16
	day := 24 * time.Hour

	var wins int64
	var opErrors int64

	wg := sync.WaitGroup{}
	wg.Add(clients)
	for i := 0; i < clients; i++ {
		i := i
		go func() {
			defer wg.Done()
			who := auth.Identity{ProjectID: fmt.Sprintf("racer-%d", i)}
			ws := offerStart.Add(time.Duration(i) * day)
			we := ws.Add(day)

			for {
				_, err := svc.CreateLease(ctx, who, service.CreateLeaseRequestInput{
					OfferRef: offerUUID, Start: ws, End: we, Now: testNow,
				})
				switch {
				case err == nil:
					atomic.AddInt64(&wins, 1)
					return
				case errors.Is(err, errdefs.ErrStoreBusy):
					time.Sleep(2 * time.Millisecond)
					continue
				default:
					atomic.AddInt64(&opErrors, 1)
					return
				}
			}
		}()
	}
	wg.Wait()

	if wins != clients || opErrors != 0 {
		t.Fatalf("expected %d wins, got %d (errors=%d)", clients, wins, opErrors)
	}
}
