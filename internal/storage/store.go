package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"leaseserver/internal/errdefs"
	"leaseserver/internal/model"
)

// Op tags a filter condition. Conditions are combined conjunctively.
type Op int

const (
	// Equals matches rows whose column equals the single value.
	Equals Op = iota
	// OneOf matches rows whose column equals any of the values.
	OneOf
	// NotIn matches rows whose column equals none of the values.
	NotIn
)

// Filter is one typed query condition. Fields are logical names, mapped
// to columns per entity; an unknown field fails with ErrInvalidFilter.
type Filter struct {
	Field  string
	Op     Op
	Values []any
}

func Equal(field string, value any) Filter {
	return Filter{Field: field, Op: Equals, Values: []any{value}}
}

func AnyOf(field string, values ...any) Filter {
	return Filter{Field: field, Op: OneOf, Values: values}
}

func NoneOf(field string, values ...any) Filter {
	return Filter{Field: field, Op: NotIn, Values: values}
}

// ListFilters scopes a get-all. Start/End, when set (always together),
// restrict to entities whose window lies within [Start, End].
type ListFilters struct {
	Conditions []Filter
	Start      *time.Time
	End        *time.Time
}

var offerFields = map[string]string{
	"uuid":          "uuid",
	"name":          "name",
	"project_id":    "project_id",
	"status":        "status",
	"resource_type": "resource_type",
	"resource_uuid": "resource_uuid",
}

var leaseFields = map[string]string{
	"uuid":       "uuid",
	"name":       "name",
	"project_id": "project_id",
	"owner_id":   "owner_id",
	"offer_uuid": "offer_uuid",
	"status":     "status",
}

var namedEntityFields = map[string]string{
	"uuid":       "uuid",
	"name":       "name",
	"project_id": "project_id",
}

func compileFilters(fields map[string]string, f ListFilters) (string, []any, error) {
	var clauses []string
	var args []any

	for _, c := range f.Conditions {
		col, ok := fields[c.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: %q", errdefs.ErrInvalidFilter, c.Field)
		}
		switch c.Op {
		case Equals:
			if len(c.Values) != 1 {
				return "", nil, fmt.Errorf("%w: %q needs exactly one value", errdefs.ErrInvalidFilter, c.Field)
			}
			clauses = append(clauses, col+" = ?")
			args = append(args, c.Values[0])
		case OneOf:
			if len(c.Values) == 0 {
				// empty membership set matches nothing
				clauses = append(clauses, "1 = 0")
				continue
			}
			clauses = append(clauses, col+" IN ("+placeholders(len(c.Values))+")")
			args = append(args, c.Values...)
		case NotIn:
			if len(c.Values) == 0 {
				continue
			}
			clauses = append(clauses, col+" NOT IN ("+placeholders(len(c.Values))+")")
			args = append(args, c.Values...)
		default:
			return "", nil, fmt.Errorf("%w: unknown op %d", errdefs.ErrInvalidFilter, c.Op)
		}
	}

	if f.Start != nil && f.End != nil {
		clauses = append(clauses, "start_time_ns >= ?", "end_time_ns <= ?")
		args = append(args, f.Start.UnixNano(), f.End.UnixNano())
	}

	if len(clauses) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Store provides per-entity persistence primitives. Methods take a
// Querier so callers can run them inside their own transaction.
type Store struct {
	db *DB
}

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for transaction control.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

// --- offers ---

const offerColumns = `uuid, name, project_id, resource_type, resource_uuid,
start_time_ns, end_time_ns, status, created_at_ns, updated_at_ns`

func (s *Store) InsertOffer(ctx context.Context, q Querier, o *model.Offer) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO offers(`+offerColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, o.UUID, nullable(o.Name), o.ProjectID, o.ResourceType, o.ResourceUUID,
		o.StartTime.UnixNano(), o.EndTime.UnixNano(), string(o.Status),
		o.CreatedAt.UnixNano(), o.UpdatedAt.UnixNano())
	if IsConstraint(err) {
		return fmt.Errorf("%w: offer %s/%s", errdefs.ErrDuplicateEntity, o.ProjectID, ref(o.Name, o.UUID))
	}
	return err
}

func (s *Store) GetOffer(ctx context.Context, q Querier, uuid string) (*model.Offer, error) {
	row := q.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE uuid = ?;`, uuid)
	o, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: offer %s", errdefs.ErrNotFound, uuid)
	}
	return o, err
}

// OffersByName returns all offers carrying the name, across projects.
// Reference resolution decides between NotFound and AmbiguousReference.
func (s *Store) OffersByName(ctx context.Context, q Querier, name string) ([]*model.Offer, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE name = ?;`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOffers(rows)
}

func (s *Store) ListOffers(ctx context.Context, q Querier, f ListFilters) ([]*model.Offer, error) {
	where, args, err := compileFilters(offerFields, f)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `SELECT `+offerColumns+` FROM offers`+where+` ORDER BY created_at_ns;`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOffers(rows)
}

// SetOfferStatus updates status only when the stored status still matches
// from, so concurrent transitions cannot stomp each other.
func (s *Store) SetOfferStatus(ctx context.Context, q Querier, uuid string, from, to model.Status, now time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
UPDATE offers SET status = ?, updated_at_ns = ?
WHERE uuid = ? AND status = ?;
`, string(to), now.UnixNano(), uuid, string(from))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// CountOfferDependents counts leases on the offer that are non-terminal
// as of now. Effectively expired leases (end passed) do not count.
func (s *Store) CountOfferDependents(ctx context.Context, q Querier, offerUUID string, now time.Time) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `
SELECT COUNT(*) FROM leases
WHERE offer_uuid = ?
  AND status NOT IN ('expired', 'cancelled')
  AND end_time_ns > ?;
`, offerUUID, now.UnixNano()).Scan(&n)
	return n, err
}

// DestroyOffer physically removes an offer. It fails with
// ReferentialConflict while any non-terminal lease references it.
func (s *Store) DestroyOffer(ctx context.Context, q Querier, uuid string, now time.Time) error {
	n, err := s.CountOfferDependents(ctx, q, uuid, now)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: offer %s has %d non-terminal leases", errdefs.ErrReferentialConflict, uuid, n)
	}
	res, err := q.ExecContext(ctx, `DELETE FROM offers WHERE uuid = ?;`, uuid)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return fmt.Errorf("%w: offer %s", errdefs.ErrNotFound, uuid)
	}
	return nil
}

// --- leases ---

const leaseColumns = `uuid, name, project_id, owner_id, offer_uuid,
start_time_ns, end_time_ns, status, created_at_ns, updated_at_ns`

func (s *Store) InsertLease(ctx context.Context, q Querier, l *model.Lease) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO leases(`+leaseColumns+`)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, l.UUID, nullable(l.Name), l.ProjectID, l.OwnerID, l.OfferUUID,
		l.StartTime.UnixNano(), l.EndTime.UnixNano(), string(l.Status),
		l.CreatedAt.UnixNano(), l.UpdatedAt.UnixNano())
	if IsConstraint(err) {
		return fmt.Errorf("%w: lease %s/%s", errdefs.ErrDuplicateEntity, l.ProjectID, ref(l.Name, l.UUID))
	}
	return err
}

func (s *Store) GetLease(ctx context.Context, q Querier, uuid string) (*model.Lease, error) {
	row := q.QueryRowContext(ctx, `SELECT `+leaseColumns+` FROM leases WHERE uuid = ?;`, uuid)
	l, err := scanLease(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: lease %s", errdefs.ErrNotFound, uuid)
	}
	return l, err
}

func (s *Store) ListLeases(ctx context.Context, q Querier, f ListFilters) ([]*model.Lease, error) {
	where, args, err := compileFilters(leaseFields, f)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `SELECT `+leaseColumns+` FROM leases`+where+` ORDER BY created_at_ns;`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLeases(rows)
}

func (s *Store) SetLeaseStatus(ctx context.Context, q Querier, uuid string, from, to model.Status, now time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, `
UPDATE leases SET status = ?, updated_at_ns = ?
WHERE uuid = ? AND status = ?;
`, string(to), now.UnixNano(), uuid, string(from))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Patch carries the updatable entity fields; nil means keep. Windows and
// ownership are immutable after create.
type Patch struct {
	Name   *string
	Status *model.Status
}

// UpdateOffer merges the patch into the stored offer, re-validating a
// status change against the offer state machine. The UPDATE is guarded on
// the previously read status so concurrent transitions cannot stomp each
// other.
func (s *Store) UpdateOffer(ctx context.Context, q Querier, uuid string, p Patch, now time.Time) (*model.Offer, error) {
	o, err := s.GetOffer(ctx, q, uuid)
	if err != nil {
		return nil, err
	}
	name, status := o.Name, o.Status
	if p.Name != nil {
		name = *p.Name
	}
	if p.Status != nil && *p.Status != o.Status {
		if !model.OfferCanTransition(o.Status, *p.Status) {
			return nil, fmt.Errorf("%w: offer %s -> %s", errdefs.ErrInvalidTransition, o.Status, *p.Status)
		}
		status = *p.Status
	}

	res, err := q.ExecContext(ctx, `
UPDATE offers SET name = ?, status = ?, updated_at_ns = ?
WHERE uuid = ? AND status = ?;
`, nullable(name), string(status), now.UnixNano(), uuid, string(o.Status))
	if IsConstraint(err) {
		return nil, fmt.Errorf("%w: offer %s/%s", errdefs.ErrDuplicateEntity, o.ProjectID, name)
	}
	if err != nil {
		return nil, err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return nil, fmt.Errorf("%w: offer %s changed concurrently", errdefs.ErrInvalidTransition, uuid)
	}
	o.Name = name
	o.Status = status
	o.UpdatedAt = now
	return o, nil
}

// UpdateLease is the lease analogue of UpdateOffer.
func (s *Store) UpdateLease(ctx context.Context, q Querier, uuid string, p Patch, now time.Time) (*model.Lease, error) {
	l, err := s.GetLease(ctx, q, uuid)
	if err != nil {
		return nil, err
	}
	name, status := l.Name, l.Status
	if p.Name != nil {
		name = *p.Name
	}
	if p.Status != nil && *p.Status != l.Status {
		if !model.LeaseCanTransition(l.Status, *p.Status) {
			return nil, fmt.Errorf("%w: lease %s -> %s", errdefs.ErrInvalidTransition, l.Status, *p.Status)
		}
		status = *p.Status
	}

	res, err := q.ExecContext(ctx, `
UPDATE leases SET name = ?, status = ?, updated_at_ns = ?
WHERE uuid = ? AND status = ?;
`, nullable(name), string(status), now.UnixNano(), uuid, string(l.Status))
	if IsConstraint(err) {
		return nil, fmt.Errorf("%w: lease %s/%s", errdefs.ErrDuplicateEntity, l.ProjectID, name)
	}
	if err != nil {
		return nil, err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return nil, fmt.Errorf("%w: lease %s changed concurrently", errdefs.ErrInvalidTransition, uuid)
	}
	l.Name = name
	l.Status = status
	l.UpdatedAt = now
	return l, nil
}

// CountConflictingLeases counts non-terminal leases whose window overlaps
// [start, end) on the same underlying resource, across every offer for
// that resource. Resource identity, not offer identity, is the conflict
// key. Leases whose end has already passed are effectively expired and do
// not conflict.
func (s *Store) CountConflictingLeases(ctx context.Context, q Querier, resourceType, resourceUUID string, w NsWindow, now time.Time) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, `
SELECT COUNT(*) FROM leases l
JOIN offers o ON o.uuid = l.offer_uuid
WHERE o.resource_type = ?
  AND o.resource_uuid = ?
  AND l.status NOT IN ('expired', 'cancelled')
  AND l.end_time_ns > ?
  AND l.start_time_ns < ?
  AND l.end_time_ns > ?;
`, resourceType, resourceUUID, now.UnixNano(), w.EndNs, w.StartNs).Scan(&n)
	return n, err
}

// NsWindow is the nanosecond form of a half-open window for SQL
// comparisons.
type NsWindow struct {
	StartNs int64
	EndNs   int64
}

func WindowNs(start, end time.Time) NsWindow {
	return NsWindow{StartNs: start.UnixNano(), EndNs: end.UnixNano()}
}

// --- policies and lease requests (shared shape) ---

type namedEntity struct {
	UUID      string
	ProjectID string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Store) insertNamed(ctx context.Context, q Querier, table string, e namedEntity) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO `+table+`(uuid, project_id, name, created_at_ns, updated_at_ns)
VALUES(?, ?, ?, ?, ?);
`, e.UUID, e.ProjectID, nullable(e.Name), e.CreatedAt.UnixNano(), e.UpdatedAt.UnixNano())
	if IsConstraint(err) {
		return fmt.Errorf("%w: %s %s", errdefs.ErrDuplicateEntity, strings.TrimSuffix(table, "s"), e.UUID)
	}
	return err
}

func (s *Store) getNamed(ctx context.Context, q Querier, table, uuid string) (namedEntity, error) {
	var e namedEntity
	var name sql.NullString
	var createdNs, updatedNs int64
	err := q.QueryRowContext(ctx, `
SELECT uuid, project_id, name, created_at_ns, updated_at_ns
FROM `+table+` WHERE uuid = ?;
`, uuid).Scan(&e.UUID, &e.ProjectID, &name, &createdNs, &updatedNs)
	if errors.Is(err, sql.ErrNoRows) {
		return namedEntity{}, fmt.Errorf("%w: %s %s", errdefs.ErrNotFound, strings.TrimSuffix(table, "s"), uuid)
	}
	if err != nil {
		return namedEntity{}, err
	}
	e.Name = name.String
	e.CreatedAt = time.Unix(0, createdNs)
	e.UpdatedAt = time.Unix(0, updatedNs)
	return e, nil
}

func (s *Store) listNamed(ctx context.Context, q Querier, table string, f ListFilters) ([]namedEntity, error) {
	where, args, err := compileFilters(namedEntityFields, f)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `
SELECT uuid, project_id, name, created_at_ns, updated_at_ns
FROM `+table+where+` ORDER BY created_at_ns;`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []namedEntity
	for rows.Next() {
		var e namedEntity
		var name sql.NullString
		var createdNs, updatedNs int64
		if err := rows.Scan(&e.UUID, &e.ProjectID, &name, &createdNs, &updatedNs); err != nil {
			return nil, err
		}
		e.Name = name.String
		e.CreatedAt = time.Unix(0, createdNs)
		e.UpdatedAt = time.Unix(0, updatedNs)
		out = append(out, e)
	}
	return out, rows.Err()
}

// updateNamed merges the non-nil fields into the stored record.
func (s *Store) updateNamed(ctx context.Context, q Querier, table, uuid string, name *string, now time.Time) error {
	if name == nil {
		return nil
	}
	res, err := q.ExecContext(ctx, `
UPDATE `+table+` SET name = ?, updated_at_ns = ? WHERE uuid = ?;
`, nullable(*name), now.UnixNano(), uuid)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return fmt.Errorf("%w: %s %s", errdefs.ErrNotFound, strings.TrimSuffix(table, "s"), uuid)
	}
	return nil
}

// Policy wrappers.

func (s *Store) InsertPolicy(ctx context.Context, q Querier, p *model.Policy) error {
	return s.insertNamed(ctx, q, "policies", namedEntity{
		UUID: p.UUID, ProjectID: p.ProjectID, Name: p.Name,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
	})
}

func (s *Store) GetPolicy(ctx context.Context, q Querier, uuid string) (*model.Policy, error) {
	e, err := s.getNamed(ctx, q, "policies", uuid)
	if err != nil {
		return nil, err
	}
	return &model.Policy{UUID: e.UUID, ProjectID: e.ProjectID, Name: e.Name, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt}, nil
}

func (s *Store) ListPolicies(ctx context.Context, q Querier, f ListFilters) ([]*model.Policy, error) {
	es, err := s.listNamed(ctx, q, "policies", f)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Policy, 0, len(es))
	for _, e := range es {
		out = append(out, &model.Policy{UUID: e.UUID, ProjectID: e.ProjectID, Name: e.Name, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt})
	}
	return out, nil
}

func (s *Store) UpdatePolicy(ctx context.Context, q Querier, uuid string, name *string, now time.Time) error {
	return s.updateNamed(ctx, q, "policies", uuid, name, now)
}

// DestroyPolicy removes a policy unless PolicyNodes still reference it.
func (s *Store) DestroyPolicy(ctx context.Context, q Querier, uuid string) error {
	var n int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM policy_nodes WHERE policy_uuid = ?;`, uuid).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: policy %s has %d nodes", errdefs.ErrReferentialConflict, uuid, n)
	}
	res, err := q.ExecContext(ctx, `DELETE FROM policies WHERE uuid = ?;`, uuid)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return fmt.Errorf("%w: policy %s", errdefs.ErrNotFound, uuid)
	}
	return nil
}

// LeaseRequest wrappers.

func (s *Store) InsertLeaseRequest(ctx context.Context, q Querier, r *model.LeaseRequest) error {
	return s.insertNamed(ctx, q, "lease_requests", namedEntity{
		UUID: r.UUID, ProjectID: r.ProjectID, Name: r.Name,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	})
}

func (s *Store) GetLeaseRequest(ctx context.Context, q Querier, uuid string) (*model.LeaseRequest, error) {
	e, err := s.getNamed(ctx, q, "lease_requests", uuid)
	if err != nil {
		return nil, err
	}
	return &model.LeaseRequest{UUID: e.UUID, ProjectID: e.ProjectID, Name: e.Name, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt}, nil
}

func (s *Store) ListLeaseRequests(ctx context.Context, q Querier, f ListFilters) ([]*model.LeaseRequest, error) {
	es, err := s.listNamed(ctx, q, "lease_requests", f)
	if err != nil {
		return nil, err
	}
	out := make([]*model.LeaseRequest, 0, len(es))
	for _, e := range es {
		out = append(out, &model.LeaseRequest{UUID: e.UUID, ProjectID: e.ProjectID, Name: e.Name, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt})
	}
	return out, nil
}

func (s *Store) UpdateLeaseRequest(ctx context.Context, q Querier, uuid string, name *string, now time.Time) error {
	return s.updateNamed(ctx, q, "lease_requests", uuid, name, now)
}

// DestroyLeaseRequest removes a request unless PolicyNodes reference it.
func (s *Store) DestroyLeaseRequest(ctx context.Context, q Querier, uuid string) error {
	var n int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM policy_nodes WHERE request_uuid = ?;`, uuid).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: lease request %s has %d matched nodes", errdefs.ErrReferentialConflict, uuid, n)
	}
	res, err := q.ExecContext(ctx, `DELETE FROM lease_requests WHERE uuid = ?;`, uuid)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return fmt.Errorf("%w: lease request %s", errdefs.ErrNotFound, uuid)
	}
	return nil
}

// --- policy nodes ---

func (s *Store) InsertPolicyNode(ctx context.Context, q Querier, n *model.PolicyNode) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO policy_nodes(node_uuid, policy_uuid, request_uuid, created_at_ns, updated_at_ns)
VALUES(?, ?, ?, ?, ?);
`, n.NodeUUID, n.PolicyUUID, nullable(n.RequestUUID), n.CreatedAt.UnixNano(), n.UpdatedAt.UnixNano())
	if IsConstraint(err) {
		return fmt.Errorf("%w: policy node %s", errdefs.ErrDuplicateEntity, n.NodeUUID)
	}
	return err
}

func (s *Store) GetPolicyNode(ctx context.Context, q Querier, nodeUUID string) (*model.PolicyNode, error) {
	var n model.PolicyNode
	var requestUUID sql.NullString
	var createdNs, updatedNs int64
	err := q.QueryRowContext(ctx, `
SELECT node_uuid, policy_uuid, request_uuid, created_at_ns, updated_at_ns
FROM policy_nodes WHERE node_uuid = ?;
`, nodeUUID).Scan(&n.NodeUUID, &n.PolicyUUID, &requestUUID, &createdNs, &updatedNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: policy node %s", errdefs.ErrNotFound, nodeUUID)
	}
	if err != nil {
		return nil, err
	}
	n.RequestUUID = requestUUID.String
	n.CreatedAt = time.Unix(0, createdNs)
	n.UpdatedAt = time.Unix(0, updatedNs)
	return &n, nil
}

// ListPolicyNodes filters on policy_uuid and/or request_uuid.
func (s *Store) ListPolicyNodes(ctx context.Context, q Querier, policyUUID, requestUUID string) ([]*model.PolicyNode, error) {
	var clauses []string
	var args []any
	if policyUUID != "" {
		clauses = append(clauses, "policy_uuid = ?")
		args = append(args, policyUUID)
	}
	if requestUUID != "" {
		clauses = append(clauses, "request_uuid = ?")
		args = append(args, requestUUID)
	}
	query := `SELECT node_uuid, policy_uuid, request_uuid, created_at_ns, updated_at_ns FROM policy_nodes`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at_ns;"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.PolicyNode
	for rows.Next() {
		var n model.PolicyNode
		var requestUUID sql.NullString
		var createdNs, updatedNs int64
		if err := rows.Scan(&n.NodeUUID, &n.PolicyUUID, &requestUUID, &createdNs, &updatedNs); err != nil {
			return nil, err
		}
		n.RequestUUID = requestUUID.String
		n.CreatedAt = time.Unix(0, createdNs)
		n.UpdatedAt = time.Unix(0, updatedNs)
		out = append(out, &n)
	}
	return out, rows.Err()
}

// SetPolicyNodeRequest records the match of a node to a lease request.
func (s *Store) SetPolicyNodeRequest(ctx context.Context, q Querier, nodeUUID, requestUUID string, now time.Time) error {
	res, err := q.ExecContext(ctx, `
UPDATE policy_nodes SET request_uuid = ?, updated_at_ns = ? WHERE node_uuid = ?;
`, nullable(requestUUID), now.UnixNano(), nodeUUID)
	if IsConstraint(err) {
		return fmt.Errorf("%w: lease request %s", errdefs.ErrNotFound, requestUUID)
	}
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return fmt.Errorf("%w: policy node %s", errdefs.ErrNotFound, nodeUUID)
	}
	return nil
}

func (s *Store) DestroyPolicyNode(ctx context.Context, q Querier, nodeUUID string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM policy_nodes WHERE node_uuid = ?;`, nodeUUID)
	if err != nil {
		return err
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return fmt.Errorf("%w: policy node %s", errdefs.ErrNotFound, nodeUUID)
	}
	return nil
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOffer(r rowScanner) (*model.Offer, error) {
	var o model.Offer
	var name sql.NullString
	var status string
	var startNs, endNs, createdNs, updatedNs int64
	if err := r.Scan(&o.UUID, &name, &o.ProjectID, &o.ResourceType, &o.ResourceUUID,
		&startNs, &endNs, &status, &createdNs, &updatedNs); err != nil {
		return nil, err
	}
	o.Name = name.String
	o.Status = model.Status(status)
	o.StartTime = time.Unix(0, startNs)
	o.EndTime = time.Unix(0, endNs)
	o.CreatedAt = time.Unix(0, createdNs)
	o.UpdatedAt = time.Unix(0, updatedNs)
	return &o, nil
}

func collectOffers(rows *sql.Rows) ([]*model.Offer, error) {
	var out []*model.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanLease(r rowScanner) (*model.Lease, error) {
	var l model.Lease
	var name sql.NullString
	var status string
	var startNs, endNs, createdNs, updatedNs int64
	if err := r.Scan(&l.UUID, &name, &l.ProjectID, &l.OwnerID, &l.OfferUUID,
		&startNs, &endNs, &status, &createdNs, &updatedNs); err != nil {
		return nil, err
	}
	l.Name = name.String
	l.Status = model.Status(status)
	l.StartTime = time.Unix(0, startNs)
	l.EndTime = time.Unix(0, endNs)
	l.CreatedAt = time.Unix(0, createdNs)
	l.UpdatedAt = time.Unix(0, updatedNs)
	return &l, nil
}

func collectLeases(rows *sql.Rows) ([]*model.Lease, error) {
	var out []*model.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func ref(name, uuid string) string {
	if name != "" {
		return name
	}
	return uuid
}
