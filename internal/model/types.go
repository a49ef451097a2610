package model

import (
	"time"

	"leaseserver/internal/timespan"
)

// Offer is a project's declaration that a resource is available for
// exclusive lease during a window. The availability window is immutable
// after creation; only status changes.
type Offer struct {
	UUID         string
	Name         string // optional, unique per owning project
	ProjectID    string // owning project
	ResourceType string
	ResourceUUID string
	StartTime    time.Time
	EndTime      time.Time
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (o *Offer) Window() timespan.Window {
	return timespan.Window{Start: o.StartTime, End: o.EndTime}
}

// Lease grants exclusive use of an offer's resource for a sub-window.
// OwnerID is the offer's project, denormalized at creation. The lease
// references its offer by UUID without owning it.
type Lease struct {
	UUID      string
	Name      string // optional, unique per requesting project
	ProjectID string // lessee project
	OwnerID   string
	OfferUUID string
	StartTime time.Time
	EndTime   time.Time
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (l *Lease) Window() timespan.Window {
	return timespan.Window{Start: l.StartTime, End: l.EndTime}
}

// Policy groups PolicyNodes under an owning project. Part of the
// higher-level request/approval workflow; no conflict logic beyond
// uniqueness and referential consistency.
type Policy struct {
	UUID      string
	ProjectID string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PolicyNode binds a node to a Policy and, once matched, to a
// LeaseRequest. Keyed by the node's UUID.
type PolicyNode struct {
	NodeUUID    string
	PolicyUUID  string
	RequestUUID string // empty until matched
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LeaseRequest is a project's ask, matched against PolicyNodes by an
// external workflow. Only storage and filtering are handled here.
type LeaseRequest struct {
	UUID      string
	ProjectID string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
