// Package inventory defines the narrow interfaces to the resource backend
// and the project directory. Both feed display and enumeration only; the
// allocation conflict check never consults them.
package inventory

import "context"

// ResourceDescriptor describes one leasable resource as reported by the
// backend.
type ResourceDescriptor struct {
	UUID            string
	Name            string
	ResourceClass   string
	OwnerProjectID  string
	LesseeProjectID string
	Properties      map[string]string
}

// Filters narrows a resource listing.
type Filters struct {
	ResourceClass   string
	OwnerProjectID  string
	LesseeProjectID string
}

// Backend enumerates leasable resources.
type Backend interface {
	ListResources(ctx context.Context, f Filters) ([]ResourceDescriptor, error)
}

// Project is a directory entry.
type Project struct {
	ID   string
	Name string
}

// Directory resolves project identifiers to IDs and lists known projects.
// Used only for display-name resolution, never for authorization.
type Directory interface {
	ResolveProject(ctx context.Context, ident string) (string, error)
	ListProjects(ctx context.Context) ([]Project, error)
}
