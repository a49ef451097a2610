// Package service implements the allocation engine and the service
// façade: offer/lease creation, listing under authorization scope, and
// status transitions. The conflict check-then-create runs inside a single
// serializable transaction so the store, not engine-side locking, enforces
// exclusivity.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"leaseserver/internal/auth"
	"leaseserver/internal/errdefs"
	"leaseserver/internal/inventory"
	"leaseserver/internal/model"
	"leaseserver/internal/obs"
	"leaseserver/internal/storage"
	"leaseserver/internal/timespan"
)

type Service struct {
	store   *storage.Store
	db      *sql.DB
	logger  *obs.Logger
	metrics *obs.Metrics
	backend inventory.Backend
	dir     inventory.Directory
}

func New(store *storage.Store, logger *obs.Logger, metrics *obs.Metrics, backend inventory.Backend, dir inventory.Directory) *Service {
	return &Service{
		store:   store,
		db:      store.DB(),
		logger:  logger,
		metrics: metrics,
		backend: backend,
		dir:     dir,
	}
}

func (s *Service) observeLatency(op string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.OpLatencyMS.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))
}

func (s *Service) incResult(op, result string) {
	if s.metrics == nil {
		return
	}
	switch op {
	case "create_offer":
		s.metrics.OfferCreateTotal.WithLabelValues(result).Inc()
	case "cancel_offer":
		s.metrics.OfferCancelTotal.WithLabelValues(result).Inc()
	case "create_lease":
		s.metrics.LeaseCreateTotal.WithLabelValues(result).Inc()
	case "cancel_lease":
		s.metrics.LeaseCancelTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) now(reqNow time.Time) time.Time {
	if !reqNow.IsZero() {
		return reqNow
	}
	return time.Now()
}

// busy converts a transient sqlite contention error to ErrStoreBusy and
// counts it; other errors pass through.
func (s *Service) busy(op string, err error) error {
	if !storage.IsBusy(err) {
		return err
	}
	if s.metrics != nil {
		s.metrics.DBBusyTotal.WithLabelValues(op).Inc()
	}
	s.incResult(op, "busy")
	return fmt.Errorf("%w: %s", errdefs.ErrStoreBusy, op)
}

func (s *Service) logOp(op string, start time.Time, fields obs.Fields, err error) {
	if s.logger == nil {
		return
	}
	fields["op"] = op
	fields["latency_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		s.logger.Error(fields)
		return
	}
	s.logger.Info(fields)
}

// newEntityUUID generates a UUID, or validates an explicit one supplied
// for idempotent replay.
func newEntityUUID(explicit string) (string, error) {
	if explicit == "" {
		return uuid.NewString(), nil
	}
	parsed, err := uuid.Parse(explicit)
	if err != nil {
		return "", fmt.Errorf("%w: malformed uuid %q", errdefs.ErrInvalidArgument, explicit)
	}
	return parsed.String(), nil
}

// CreateOfferRequest carries the caller-supplied offer fields. Now is
// injected for testability; if zero the service uses time.Now().
type CreateOfferRequest struct {
	UUID         string // optional, replay only
	Name         string
	ProjectID    string // optional; defaults to the caller's project
	ResourceType string
	ResourceUUID string
	Start        time.Time
	End          time.Time
	Now          time.Time
}

// CreateOffer validates the window, enforces name/UUID uniqueness, and
// stores the offer as available. Admins may create offers on behalf of
// another project.
func (s *Service) CreateOffer(ctx context.Context, caller auth.Identity, req CreateOfferRequest) (*model.Offer, error) {
	const op = "create_offer"
	start := time.Now()

	if req.ResourceType == "" || req.ResourceUUID == "" {
		return nil, fmt.Errorf("%w: resource_type and resource_uuid required", errdefs.ErrInvalidArgument)
	}
	window, err := timespan.New(req.Start, req.End)
	if err != nil {
		return nil, err
	}

	project := req.ProjectID
	if project == "" {
		project = caller.ProjectID
	}
	if project != caller.ProjectID && !caller.IsAdmin() {
		return nil, fmt.Errorf("%w: cannot create offer for project %q", errdefs.ErrNotAuthorized, project)
	}

	id, err := newEntityUUID(req.UUID)
	if err != nil {
		return nil, err
	}

	now := s.now(req.Now)
	offer := &model.Offer{
		UUID:         id,
		Name:         req.Name,
		ProjectID:    project,
		ResourceType: req.ResourceType,
		ResourceUUID: req.ResourceUUID,
		StartTime:    window.Start,
		EndTime:      window.End,
		// validation passed, so the offer goes straight to available
		Status:    model.StatusAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var opErr error
	defer func() {
		s.logOp(op, start, obs.Fields{
			"offer":    offer.UUID,
			"project":  project,
			"resource": req.ResourceUUID,
		}, opErr)
	}()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}
	defer func() { _ = tx.Rollback() }()

	if req.UUID != "" {
		if _, err := s.store.GetOffer(ctx, tx, offer.UUID); err == nil {
			opErr = fmt.Errorf("%w: offer %s", errdefs.ErrDuplicateEntity, offer.UUID)
			s.incResult(op, "fail")
			return nil, opErr
		}
	}

	if err := s.store.InsertOffer(ctx, tx, offer); err != nil {
		opErr = s.busy(op, err)
		s.incResult(op, "fail")
		return nil, opErr
	}
	if err := tx.Commit(); err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}

	s.incResult(op, "success")
	s.observeLatency(op, start)
	return offer, nil
}

// GetOffer resolves an offer by UUID or unique name. A non-empty status
// filter hides offers whose effective status does not match.
func (s *Service) GetOffer(ctx context.Context, ref string, statuses []model.Status, at time.Time) (*model.Offer, error) {
	now := s.now(at)
	offer, err := s.resolveOffer(ctx, s.db, ref)
	if err != nil {
		return nil, err
	}
	offer.Status = model.EffectiveOfferStatus(offer.Status, offer.EndTime, now)
	if len(statuses) > 0 && !statusIn(offer.Status, statuses) {
		return nil, fmt.Errorf("%w: offer %s is %s", errdefs.ErrNotFound, ref, offer.Status)
	}
	return offer, nil
}

func (s *Service) resolveOffer(ctx context.Context, q storage.Querier, ref string) (*model.Offer, error) {
	if _, err := uuid.Parse(ref); err == nil {
		return s.store.GetOffer(ctx, q, ref)
	}
	matches, err := s.store.OffersByName(ctx, q, ref)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: offer %q", errdefs.ErrNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: offer name %q has %d matches", errdefs.ErrAmbiguousReference, ref, len(matches))
	}
}

// ListOffers returns the offers visible to the caller under the effective
// authorization filters, with lazily recomputed statuses.
func (s *Service) ListOffers(ctx context.Context, caller auth.Identity, q auth.OfferQuery, at time.Time) ([]*model.Offer, error) {
	filters, err := auth.EffectiveOfferFilters(caller, q)
	if err != nil {
		return nil, err
	}

	lf := storage.ListFilters{Start: filters.Start, End: filters.End}
	if filters.ProjectID != "" {
		lf.Conditions = append(lf.Conditions, storage.Equal("project_id", filters.ProjectID))
	}
	if q.ResourceType != "" {
		lf.Conditions = append(lf.Conditions, storage.Equal("resource_type", q.ResourceType))
	}
	if q.ResourceUUID != "" {
		lf.Conditions = append(lf.Conditions, storage.Equal("resource_uuid", q.ResourceUUID))
	}
	// the SQL match runs on stored values, so it is widened to every
	// stored status that can lazily become a requested one; effective
	// status is re-checked below
	if filters.Statuses != nil {
		lf.Conditions = append(lf.Conditions, storage.AnyOf("status", anySlice(model.StoredOfferStatuses(filters.Statuses))...))
	}

	offers, err := s.store.ListOffers(ctx, s.db, lf)
	if err != nil {
		return nil, err
	}

	now := s.now(at)
	out := offers[:0]
	for _, o := range offers {
		o.Status = model.EffectiveOfferStatus(o.Status, o.EndTime, now)
		if filters.Statuses != nil && !statusNameIn(o.Status, filters.Statuses) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// CancelOffer moves an offer to cancelled. Only the owner or an admin may
// cancel, and only while no non-terminal lease references the offer.
func (s *Service) CancelOffer(ctx context.Context, caller auth.Identity, offerUUID string, at time.Time) (*model.Offer, error) {
	const op = "cancel_offer"
	start := time.Now()
	now := s.now(at)

	var opErr error
	defer func() {
		s.logOp(op, start, obs.Fields{"offer": offerUUID, "caller": caller.ProjectID}, opErr)
	}()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}
	defer func() { _ = tx.Rollback() }()

	offer, err := s.store.GetOffer(ctx, tx, offerUUID)
	if err != nil {
		opErr = err
		return nil, opErr
	}
	if offer.ProjectID != caller.ProjectID && !caller.IsAdmin() {
		opErr = fmt.Errorf("%w: offer %s belongs to %s", errdefs.ErrNotAuthorized, offerUUID, offer.ProjectID)
		return nil, opErr
	}

	dependents, err := s.store.CountOfferDependents(ctx, tx, offerUUID, now)
	if err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}
	if dependents > 0 {
		opErr = fmt.Errorf("%w: offer %s has %d non-terminal leases", errdefs.ErrReferentialConflict, offerUUID, dependents)
		s.incResult(op, "fail")
		return nil, opErr
	}

	effective := model.EffectiveOfferStatus(offer.Status, offer.EndTime, now)
	if !model.OfferCanTransition(effective, model.StatusCancelled) {
		opErr = fmt.Errorf("%w: offer %s is %s", errdefs.ErrInvalidTransition, offerUUID, effective)
		s.incResult(op, "fail")
		return nil, opErr
	}

	ok, err := s.store.SetOfferStatus(ctx, tx, offerUUID, offer.Status, model.StatusCancelled, now)
	if err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}
	if !ok {
		opErr = fmt.Errorf("%w: offer %s changed concurrently", errdefs.ErrInvalidTransition, offerUUID)
		return nil, opErr
	}
	if err := tx.Commit(); err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}

	offer.Status = model.StatusCancelled
	offer.UpdatedAt = now
	s.incResult(op, "success")
	s.observeLatency(op, start)
	return offer, nil
}

// UpdateOffer merges caller-supplied fields into an offer. Windows and
// ownership are immutable; a status change must be legal under the offer
// state machine. Only the owner or an admin may update.
func (s *Service) UpdateOffer(ctx context.Context, caller auth.Identity, offerUUID string, patch storage.Patch, at time.Time) (*model.Offer, error) {
	const op = "update_offer"
	start := time.Now()
	now := s.now(at)

	var opErr error
	defer func() {
		s.logOp(op, start, obs.Fields{"offer": offerUUID, "caller": caller.ProjectID}, opErr)
	}()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}
	defer func() { _ = tx.Rollback() }()

	offer, err := s.store.GetOffer(ctx, tx, offerUUID)
	if err != nil {
		opErr = err
		return nil, opErr
	}
	if offer.ProjectID != caller.ProjectID && !caller.IsAdmin() {
		opErr = fmt.Errorf("%w: offer %s belongs to %s", errdefs.ErrNotAuthorized, offerUUID, offer.ProjectID)
		return nil, opErr
	}

	updated, err := s.store.UpdateOffer(ctx, tx, offerUUID, patch, now)
	if err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}
	if err := tx.Commit(); err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}
	s.observeLatency(op, start)
	return updated, nil
}

// UpdateLease is the lease analogue of UpdateOffer; the lessee, the
// offer's owner, or an admin may update.
func (s *Service) UpdateLease(ctx context.Context, caller auth.Identity, leaseUUID string, patch storage.Patch, at time.Time) (*model.Lease, error) {
	const op = "update_lease"
	start := time.Now()
	now := s.now(at)

	var opErr error
	defer func() {
		s.logOp(op, start, obs.Fields{"lease": leaseUUID, "caller": caller.ProjectID}, opErr)
	}()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}
	defer func() { _ = tx.Rollback() }()

	lease, err := s.store.GetLease(ctx, tx, leaseUUID)
	if err != nil {
		opErr = err
		return nil, opErr
	}
	if lease.ProjectID != caller.ProjectID && lease.OwnerID != caller.ProjectID && !caller.IsAdmin() {
		opErr = fmt.Errorf("%w: lease %s", errdefs.ErrNotAuthorized, leaseUUID)
		return nil, opErr
	}

	updated, err := s.store.UpdateLease(ctx, tx, leaseUUID, patch, now)
	if err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}
	if err := tx.Commit(); err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}
	s.observeLatency(op, start)
	return updated, nil
}

// CreateLeaseRequestInput carries the caller-supplied lease fields.
type CreateLeaseRequestInput struct {
	UUID     string // optional, replay only
	Name     string
	OfferRef string // offer UUID or unique name
	Start    time.Time
	End      time.Time
	Now      time.Time
}

// CreateLease is the critical-section operation. Offer resolution, the
// availability and containment checks, the conflict scan, and the insert
// all run in one serializable transaction: of two concurrent requests for
// overlapping windows on the same resource, exactly one commits and the
// other observes it and fails with ErrWindowConflict.
func (s *Service) CreateLease(ctx context.Context, caller auth.Identity, req CreateLeaseRequestInput) (*model.Lease, error) {
	const op = "create_lease"
	start := time.Now()

	if req.OfferRef == "" {
		return nil, fmt.Errorf("%w: offer reference required", errdefs.ErrInvalidArgument)
	}
	window, err := timespan.New(req.Start, req.End)
	if err != nil {
		return nil, err
	}
	id, err := newEntityUUID(req.UUID)
	if err != nil {
		return nil, err
	}

	now := s.now(req.Now)

	logFields := obs.Fields{
		"lease":   id,
		"offer":   req.OfferRef,
		"lessee":  caller.ProjectID,
		"w_start": window.Start.UTC().Format(time.RFC3339),
		"w_end":   window.End.UTC().Format(time.RFC3339),
	}
	var opErr error
	defer func() { s.logOp(op, start, logFields, opErr) }()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}
	defer func() { _ = tx.Rollback() }()

	offer, err := s.resolveOffer(ctx, tx, req.OfferRef)
	if err != nil {
		opErr = err
		s.incResult(op, "fail")
		return nil, opErr
	}

	effective := model.EffectiveOfferStatus(offer.Status, offer.EndTime, now)
	if effective != model.StatusAvailable {
		opErr = fmt.Errorf("%w: offer %s is %s", errdefs.ErrOfferNotAvailable, offer.UUID, effective)
		s.incResult(op, "fail")
		return nil, opErr
	}

	if !offer.Window().Contains(window) {
		opErr = fmt.Errorf("%w: offer %s availability is [%s, %s)", errdefs.ErrWindowOutOfBounds,
			offer.UUID,
			offer.StartTime.UTC().Format(time.RFC3339),
			offer.EndTime.UTC().Format(time.RFC3339))
		s.incResult(op, "fail")
		return nil, opErr
	}

	// replay of an explicit UUID is a duplicate even when the prior lease
	// would also conflict on the window
	if req.UUID != "" {
		if _, err := s.store.GetLease(ctx, tx, id); err == nil {
			opErr = fmt.Errorf("%w: lease %s", errdefs.ErrDuplicateEntity, id)
			s.incResult(op, "fail")
			return nil, opErr
		}
	}

	conflicts, err := s.store.CountConflictingLeases(ctx, tx,
		offer.ResourceType, offer.ResourceUUID,
		storage.WindowNs(window.Start, window.End), now)
	if err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}
	if conflicts > 0 {
		// first valid request wins; no queueing, no partial allocation
		opErr = fmt.Errorf("%w: %d overlapping leases on resource %s", errdefs.ErrWindowConflict, conflicts, offer.ResourceUUID)
		s.incResult(op, "conflict")
		s.observeLatency(op, start)
		return nil, opErr
	}

	lease := &model.Lease{
		UUID:      id,
		Name:      req.Name,
		ProjectID: caller.ProjectID,
		OwnerID:   offer.ProjectID,
		OfferUUID: offer.UUID,
		StartTime: window.Start,
		EndTime:   window.End,
		Status:    model.StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertLease(ctx, tx, lease); err != nil {
		opErr = s.busy(op, err)
		s.incResult(op, "fail")
		return nil, opErr
	}
	if err := tx.Commit(); err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}

	logFields["owner"] = lease.OwnerID
	s.incResult(op, "success")
	s.observeLatency(op, start)
	return lease, nil
}

// GetLease returns a lease with its effective status as of now.
func (s *Service) GetLease(ctx context.Context, leaseUUID string, at time.Time) (*model.Lease, error) {
	now := s.now(at)
	lease, err := s.store.GetLease(ctx, s.db, leaseUUID)
	if err != nil {
		return nil, err
	}
	lease.Status = model.EffectiveLeaseStatus(lease.Status, lease.StartTime, lease.EndTime, now)
	return lease, nil
}

// ListLeases returns the leases visible to the caller under the effective
// authorization filters, with lazily recomputed statuses.
func (s *Service) ListLeases(ctx context.Context, caller auth.Identity, q auth.Query, at time.Time) ([]*model.Lease, error) {
	filters, err := auth.EffectiveLeaseFilters(caller, q)
	if err != nil {
		return nil, err
	}

	lf := storage.ListFilters{Start: filters.Start, End: filters.End}
	if filters.ProjectID != "" {
		lf.Conditions = append(lf.Conditions, storage.Equal("project_id", filters.ProjectID))
	}
	if filters.OwnerID != "" {
		lf.Conditions = append(lf.Conditions, storage.Equal("owner_id", filters.OwnerID))
	}
	if filters.OfferUUID != "" {
		lf.Conditions = append(lf.Conditions, storage.Equal("offer_uuid", filters.OfferUUID))
	}
	// widened to stored statuses that can lazily become the requested
	// ones; effective status is re-checked below
	if filters.Statuses != nil {
		lf.Conditions = append(lf.Conditions, storage.AnyOf("status", anySlice(model.StoredLeaseStatuses(filters.Statuses))...))
	}

	leases, err := s.store.ListLeases(ctx, s.db, lf)
	if err != nil {
		return nil, err
	}

	now := s.now(at)
	out := leases[:0]
	for _, l := range leases {
		l.Status = model.EffectiveLeaseStatus(l.Status, l.StartTime, l.EndTime, now)
		if filters.Statuses != nil && !statusNameIn(l.Status, filters.Statuses) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// CancelLease terminates a lease early. The lessee, the offer's owner,
// or an admin may cancel; terminal leases reject the transition.
func (s *Service) CancelLease(ctx context.Context, caller auth.Identity, leaseUUID string, at time.Time) (*model.Lease, error) {
	const op = "cancel_lease"
	start := time.Now()
	now := s.now(at)

	var opErr error
	defer func() {
		s.logOp(op, start, obs.Fields{"lease": leaseUUID, "caller": caller.ProjectID}, opErr)
	}()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}
	defer func() { _ = tx.Rollback() }()

	lease, err := s.store.GetLease(ctx, tx, leaseUUID)
	if err != nil {
		opErr = err
		return nil, opErr
	}
	if lease.ProjectID != caller.ProjectID && lease.OwnerID != caller.ProjectID && !caller.IsAdmin() {
		opErr = fmt.Errorf("%w: lease %s", errdefs.ErrNotAuthorized, leaseUUID)
		return nil, opErr
	}

	effective := model.EffectiveLeaseStatus(lease.Status, lease.StartTime, lease.EndTime, now)
	if !model.LeaseCanTransition(effective, model.StatusCancelled) {
		opErr = fmt.Errorf("%w: lease %s is %s", errdefs.ErrInvalidTransition, leaseUUID, effective)
		s.incResult(op, "fail")
		return nil, opErr
	}

	ok, err := s.store.SetLeaseStatus(ctx, tx, leaseUUID, lease.Status, model.StatusCancelled, now)
	if err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}
	if !ok {
		opErr = fmt.Errorf("%w: lease %s changed concurrently", errdefs.ErrInvalidTransition, leaseUUID)
		return nil, opErr
	}
	if err := tx.Commit(); err != nil {
		opErr = s.busy(op, err)
		return nil, opErr
	}

	lease.Status = model.StatusCancelled
	lease.UpdatedAt = now
	s.incResult(op, "success")
	s.observeLatency(op, start)
	return lease, nil
}

func statusIn(s model.Status, set []model.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func statusNameIn(s model.Status, names []string) bool {
	for _, v := range names {
		if v == string(s) {
			return true
		}
	}
	return false
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
