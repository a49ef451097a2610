package service_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"leaseserver/internal/model"
	"leaseserver/internal/service"
	"leaseserver/internal/storage"
)

func TestSweepFoldsTimeIntoStoredStatus(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sweep_test.db")
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.Config{Path: dbPath, BusyTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("db open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	st := storage.NewStore(db)

	past := time.Now().UTC().Add(-48 * time.Hour)
	future := time.Now().UTC().Add(48 * time.Hour)
	created := past.Add(-time.Hour)

	offers := []*model.Offer{
		// still running: stays available
		{UUID: "offer-live", ProjectID: "p1", ResourceType: "dedicated_node", ResourceUUID: "node-1",
			StartTime: past, EndTime: future, Status: model.StatusAvailable, CreatedAt: created, UpdatedAt: created},
		// ended: sweeps to expired
		{UUID: "offer-done", ProjectID: "p1", ResourceType: "dedicated_node", ResourceUUID: "node-2",
			StartTime: past, EndTime: past.Add(time.Hour), Status: model.StatusAvailable, CreatedAt: created, UpdatedAt: created},
	}
	for _, o := range offers {
		if err := st.InsertOffer(ctx, st.DB(), o); err != nil {
			t.Fatalf("insert offer: %v", err)
		}
	}

	leases := []*model.Lease{
		// started, not ended: sweeps created -> active
		{UUID: "lease-running", ProjectID: "l1", OwnerID: "p1", OfferUUID: "offer-live",
			StartTime: past, EndTime: future, Status: model.StatusCreated, CreatedAt: created, UpdatedAt: created},
		// ended: sweeps to expired
		{UUID: "lease-done", ProjectID: "l1", OwnerID: "p1", OfferUUID: "offer-live",
			StartTime: past, EndTime: past.Add(time.Hour), Status: model.StatusActive, CreatedAt: created, UpdatedAt: created},
		// not started yet: stays created
		{UUID: "lease-future", ProjectID: "l1", OwnerID: "p1", OfferUUID: "offer-live",
			StartTime: future, EndTime: future.Add(time.Hour), Status: model.StatusCreated, CreatedAt: created, UpdatedAt: created},
		// cancelled rows are never touched
		{UUID: "lease-cancelled", ProjectID: "l1", OwnerID: "p1", OfferUUID: "offer-live",
			StartTime: past, EndTime: past.Add(time.Hour), Status: model.StatusCancelled, CreatedAt: created, UpdatedAt: created},
	}
	for _, l := range leases {
		if err := st.InsertLease(ctx, st.DB(), l); err != nil {
			t.Fatalf("insert lease: %v", err)
		}
	}

	service.NewSweeper(db.DB, nil, nil, time.Minute).SweepOnce(ctx)

	wantLeases := map[string]model.Status{
		"lease-running":   model.StatusActive,
		"lease-done":      model.StatusExpired,
		"lease-future":    model.StatusCreated,
		"lease-cancelled": model.StatusCancelled,
	}
	for uuid, want := range wantLeases {
		got, err := st.GetLease(ctx, st.DB(), uuid)
		if err != nil {
			t.Fatalf("get %s: %v", uuid, err)
		}
		if got.Status != want {
			t.Fatalf("%s: expected %s, got %s", uuid, want, got.Status)
		}
	}

	wantOffers := map[string]model.Status{
		"offer-live": model.StatusAvailable,
		"offer-done": model.StatusExpired,
	}
	for uuid, want := range wantOffers {
		got, err := st.GetOffer(ctx, st.DB(), uuid)
		if err != nil {
			t.Fatalf("get %s: %v", uuid, err)
		}
		if got.Status != want {
			t.Fatalf("%s: expected %s, got %s", uuid, want, got.Status)
		}
	}
}
