package service

import (
	"context"
	"fmt"
	"time"

	"leaseserver/internal/auth"
	"leaseserver/internal/errdefs"
	"leaseserver/internal/model"
	"leaseserver/internal/storage"
)

// Policies, PolicyNodes, and LeaseRequests form the higher-level
// request/approval workflow layered on top of direct offer/lease
// creation. They share the plain CRUD contract: uuid uniqueness and
// referential consistency, no conflict logic.

func (s *Service) CreatePolicy(ctx context.Context, caller auth.Identity, explicitUUID, name string, at time.Time) (*model.Policy, error) {
	id, err := newEntityUUID(explicitUUID)
	if err != nil {
		return nil, err
	}
	now := s.now(at)
	p := &model.Policy{
		UUID:      id,
		ProjectID: caller.ProjectID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if explicitUUID != "" {
		if _, err := s.store.GetPolicy(ctx, s.db, id); err == nil {
			return nil, fmt.Errorf("%w: policy %s", errdefs.ErrDuplicateEntity, id)
		}
	}
	if err := s.store.InsertPolicy(ctx, s.db, p); err != nil {
		return nil, s.busy("create_policy", err)
	}
	return p, nil
}

func (s *Service) GetPolicy(ctx context.Context, uuid string) (*model.Policy, error) {
	return s.store.GetPolicy(ctx, s.db, uuid)
}

// ListPolicies scopes to the caller's project unless the caller is an
// admin requesting view=all.
func (s *Service) ListPolicies(ctx context.Context, caller auth.Identity, view string) ([]*model.Policy, error) {
	f, err := projectScope(caller, view)
	if err != nil {
		return nil, err
	}
	return s.store.ListPolicies(ctx, s.db, f)
}

func (s *Service) UpdatePolicy(ctx context.Context, caller auth.Identity, uuid string, name *string, at time.Time) (*model.Policy, error) {
	p, err := s.store.GetPolicy(ctx, s.db, uuid)
	if err != nil {
		return nil, err
	}
	if err := requireOwnership(caller, p.ProjectID, "policy", uuid); err != nil {
		return nil, err
	}
	now := s.now(at)
	if err := s.store.UpdatePolicy(ctx, s.db, uuid, name, now); err != nil {
		return nil, s.busy("update_policy", err)
	}
	return s.store.GetPolicy(ctx, s.db, uuid)
}

func (s *Service) DeletePolicy(ctx context.Context, caller auth.Identity, uuid string) error {
	p, err := s.store.GetPolicy(ctx, s.db, uuid)
	if err != nil {
		return err
	}
	if err := requireOwnership(caller, p.ProjectID, "policy", uuid); err != nil {
		return err
	}
	return s.store.DestroyPolicy(ctx, s.db, uuid)
}

func (s *Service) CreateLeaseRequest(ctx context.Context, caller auth.Identity, explicitUUID, name string, at time.Time) (*model.LeaseRequest, error) {
	id, err := newEntityUUID(explicitUUID)
	if err != nil {
		return nil, err
	}
	now := s.now(at)
	r := &model.LeaseRequest{
		UUID:      id,
		ProjectID: caller.ProjectID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if explicitUUID != "" {
		if _, err := s.store.GetLeaseRequest(ctx, s.db, id); err == nil {
			return nil, fmt.Errorf("%w: lease request %s", errdefs.ErrDuplicateEntity, id)
		}
	}
	if err := s.store.InsertLeaseRequest(ctx, s.db, r); err != nil {
		return nil, s.busy("create_lease_request", err)
	}
	return r, nil
}

func (s *Service) GetLeaseRequest(ctx context.Context, uuid string) (*model.LeaseRequest, error) {
	return s.store.GetLeaseRequest(ctx, s.db, uuid)
}

func (s *Service) ListLeaseRequests(ctx context.Context, caller auth.Identity, view string) ([]*model.LeaseRequest, error) {
	f, err := projectScope(caller, view)
	if err != nil {
		return nil, err
	}
	return s.store.ListLeaseRequests(ctx, s.db, f)
}

func (s *Service) UpdateLeaseRequest(ctx context.Context, caller auth.Identity, uuid string, name *string, at time.Time) (*model.LeaseRequest, error) {
	r, err := s.store.GetLeaseRequest(ctx, s.db, uuid)
	if err != nil {
		return nil, err
	}
	if err := requireOwnership(caller, r.ProjectID, "lease request", uuid); err != nil {
		return nil, err
	}
	now := s.now(at)
	if err := s.store.UpdateLeaseRequest(ctx, s.db, uuid, name, now); err != nil {
		return nil, s.busy("update_lease_request", err)
	}
	return s.store.GetLeaseRequest(ctx, s.db, uuid)
}

func (s *Service) DeleteLeaseRequest(ctx context.Context, caller auth.Identity, uuid string) error {
	r, err := s.store.GetLeaseRequest(ctx, s.db, uuid)
	if err != nil {
		return err
	}
	if err := requireOwnership(caller, r.ProjectID, "lease request", uuid); err != nil {
		return err
	}
	return s.store.DestroyLeaseRequest(ctx, s.db, uuid)
}

// CreatePolicyNode attaches a node to a policy. The caller must own the
// parent policy (or be admin); the parent must exist.
func (s *Service) CreatePolicyNode(ctx context.Context, caller auth.Identity, nodeUUID, policyUUID string, at time.Time) (*model.PolicyNode, error) {
	if nodeUUID == "" {
		return nil, fmt.Errorf("%w: node_uuid required", errdefs.ErrInvalidArgument)
	}
	p, err := s.store.GetPolicy(ctx, s.db, policyUUID)
	if err != nil {
		return nil, err
	}
	if err := requireOwnership(caller, p.ProjectID, "policy", policyUUID); err != nil {
		return nil, err
	}
	now := s.now(at)
	n := &model.PolicyNode{
		NodeUUID:   nodeUUID,
		PolicyUUID: policyUUID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.InsertPolicyNode(ctx, s.db, n); err != nil {
		return nil, s.busy("create_policy_node", err)
	}
	return n, nil
}

func (s *Service) GetPolicyNode(ctx context.Context, nodeUUID string) (*model.PolicyNode, error) {
	return s.store.GetPolicyNode(ctx, s.db, nodeUUID)
}

func (s *Service) ListPolicyNodes(ctx context.Context, policyUUID, requestUUID string) ([]*model.PolicyNode, error) {
	return s.store.ListPolicyNodes(ctx, s.db, policyUUID, requestUUID)
}

// MatchPolicyNode records that a lease request has been matched to a
// node. The matching rule itself belongs to an external workflow; only
// referential consistency is enforced here.
func (s *Service) MatchPolicyNode(ctx context.Context, caller auth.Identity, nodeUUID, requestUUID string, at time.Time) (*model.PolicyNode, error) {
	n, err := s.store.GetPolicyNode(ctx, s.db, nodeUUID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetPolicy(ctx, s.db, n.PolicyUUID)
	if err != nil {
		return nil, err
	}
	if err := requireOwnership(caller, p.ProjectID, "policy", n.PolicyUUID); err != nil {
		return nil, err
	}
	if requestUUID != "" {
		if _, err := s.store.GetLeaseRequest(ctx, s.db, requestUUID); err != nil {
			return nil, err
		}
	}
	now := s.now(at)
	if err := s.store.SetPolicyNodeRequest(ctx, s.db, nodeUUID, requestUUID, now); err != nil {
		return nil, s.busy("match_policy_node", err)
	}
	return s.store.GetPolicyNode(ctx, s.db, nodeUUID)
}

func (s *Service) DeletePolicyNode(ctx context.Context, caller auth.Identity, nodeUUID string) error {
	n, err := s.store.GetPolicyNode(ctx, s.db, nodeUUID)
	if err != nil {
		return err
	}
	p, err := s.store.GetPolicy(ctx, s.db, n.PolicyUUID)
	if err != nil {
		return err
	}
	if err := requireOwnership(caller, p.ProjectID, "policy", n.PolicyUUID); err != nil {
		return err
	}
	return s.store.DestroyPolicyNode(ctx, s.db, nodeUUID)
}

func projectScope(caller auth.Identity, view string) (storage.ListFilters, error) {
	switch view {
	case "":
		return storage.ListFilters{
			Conditions: []storage.Filter{storage.Equal("project_id", caller.ProjectID)},
		}, nil
	case auth.ViewAll:
		if !caller.IsAdmin() {
			return storage.ListFilters{}, fmt.Errorf("%w: view=all requires admin", errdefs.ErrNotAuthorized)
		}
		return storage.ListFilters{}, nil
	default:
		return storage.ListFilters{}, fmt.Errorf("%w: view=%q", errdefs.ErrInvalidFilter, view)
	}
}

func requireOwnership(caller auth.Identity, project, kind, uuid string) error {
	if caller.IsAdmin() || caller.ProjectID == project {
		return nil
	}
	return fmt.Errorf("%w: %s %s belongs to %s", errdefs.ErrNotAuthorized, kind, uuid, project)
}
