package service

import (
	"context"
	"time"

	"leaseserver/internal/inventory"
	"leaseserver/internal/model"
	"leaseserver/internal/storage"
)

// Node is the merged view of an inventory resource: the backend's
// descriptor, the current offer/lease on it, and display names resolved
// through the project directory.
type Node struct {
	UUID          string
	Name          string
	ResourceClass string
	Owner         string // display name when resolvable, else project ID
	Lessee        string
	OfferUUID     string
	LeaseUUID     string
	Properties    map[string]string
}

// ListNodes enumerates leasable resources. The inventory backend supplies
// the descriptors; offers and leases come from the store; the directory
// is consulted only to swap project IDs for display names.
func (s *Service) ListNodes(ctx context.Context, f inventory.Filters, at time.Time) ([]*Node, error) {
	if s.backend == nil {
		return nil, nil
	}
	descriptors, err := s.backend.ListResources(ctx, f)
	if err != nil {
		return nil, err
	}

	now := s.now(at)
	names := s.projectNames(ctx)

	out := make([]*Node, 0, len(descriptors))
	for _, d := range descriptors {
		n := &Node{
			UUID:          d.UUID,
			Name:          d.Name,
			ResourceClass: d.ResourceClass,
			Owner:         displayName(names, d.OwnerProjectID),
			Lessee:        displayName(names, d.LesseeProjectID),
			Properties:    d.Properties,
		}

		offers, err := s.store.ListOffers(ctx, s.db, storage.ListFilters{
			Conditions: []storage.Filter{
				storage.Equal("resource_uuid", d.UUID),
				storage.NoneOf("status", "expired", "cancelled"),
			},
		})
		if err != nil {
			return nil, err
		}
		for _, o := range offers {
			if model.EffectiveOfferStatus(o.Status, o.EndTime, now) == model.StatusAvailable {
				n.OfferUUID = o.UUID
				n.Owner = displayName(names, o.ProjectID)
				break
			}
		}

		if n.OfferUUID != "" {
			leases, err := s.store.ListLeases(ctx, s.db, storage.ListFilters{
				Conditions: []storage.Filter{
					storage.Equal("offer_uuid", n.OfferUUID),
					storage.NoneOf("status", "expired", "cancelled"),
				},
			})
			if err != nil {
				return nil, err
			}
			for _, l := range leases {
				eff := model.EffectiveLeaseStatus(l.Status, l.StartTime, l.EndTime, now)
				if !eff.Terminal() {
					n.LeaseUUID = l.UUID
					n.Lessee = displayName(names, l.ProjectID)
					break
				}
			}
		}

		out = append(out, n)
	}
	return out, nil
}

// projectNames builds an ID -> display-name map; on directory failure the
// listing degrades to raw project IDs.
func (s *Service) projectNames(ctx context.Context) map[string]string {
	if s.dir == nil {
		return nil
	}
	projects, err := s.dir.ListProjects(ctx)
	if err != nil {
		return nil
	}
	names := make(map[string]string, len(projects))
	for _, p := range projects {
		names[p.ID] = p.Name
	}
	return names
}

func displayName(names map[string]string, projectID string) string {
	if name, ok := names[projectID]; ok {
		return name
	}
	return projectID
}
