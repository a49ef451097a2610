package leaseclient

import "time"

// Offer is the SDK view of a resource offer.
type Offer struct {
	UUID         string
	Name         string
	ProjectID    string
	ResourceType string
	ResourceUUID string
	StartTime    time.Time
	EndTime      time.Time
	Status       string
}

// Lease is the SDK view of a lease. Consumers should pass the UUID back
// to Get/Cancel/Watch.
type Lease struct {
	UUID      string
	Name      string
	ProjectID string
	OwnerID   string
	OfferUUID string
	StartTime time.Time
	EndTime   time.Time
	Status    string
}

// Node is the merged inventory view returned by ListNodes.
type Node struct {
	UUID          string            `json:"uuid"`
	Name          string            `json:"name"`
	ResourceClass string            `json:"resource_class,omitempty"`
	Owner         string            `json:"owner,omitempty"`
	Lessee        string            `json:"lessee,omitempty"`
	OfferUUID     string            `json:"offer_uuid,omitempty"`
	LeaseUUID     string            `json:"lease_uuid,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
}

// LeaseOptions controls retry behavior for CreateLeaseWithRetry.
// Only transient server-busy failures are retried; a window conflict is a
// definitive answer and is returned immediately.
type LeaseOptions struct {
	MaxRetries   int           // bounded retry; 0 => default
	MaxTotalWait time.Duration // optional global cap; 0 => no cap
	MinRetry     time.Duration // default 25ms
	MaxRetry     time.Duration // default 1s
	JitterFrac   float64       // default 0.2 (20%)
}

// WatchOptions controls lease status polling.
type WatchOptions struct {
	Interval time.Duration // required; typically a few seconds
}
