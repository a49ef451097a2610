package inventory

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"leaseserver/internal/errdefs"
)

// Catalog is a YAML-declared inventory for standalone deployments and
// tests. Production deployments substitute real Backend/Directory
// implementations.
type Catalog struct {
	Resources []CatalogResource `yaml:"resources"`
	Projects  []Project         `yaml:"projects"`
}

type CatalogResource struct {
	UUID          string            `yaml:"uuid"`
	Name          string            `yaml:"name"`
	ResourceClass string            `yaml:"resource_class"`
	Owner         string            `yaml:"owner"`
	Lessee        string            `yaml:"lessee"`
	Properties    map[string]string `yaml:"properties"`
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return &c, nil
}

// StaticBackend serves resources from a loaded catalog.
type StaticBackend struct {
	catalog *Catalog
}

func NewStaticBackend(c *Catalog) *StaticBackend {
	return &StaticBackend{catalog: c}
}

func (b *StaticBackend) ListResources(_ context.Context, f Filters) ([]ResourceDescriptor, error) {
	var out []ResourceDescriptor
	for _, r := range b.catalog.Resources {
		if f.ResourceClass != "" && r.ResourceClass != f.ResourceClass {
			continue
		}
		if f.OwnerProjectID != "" && r.Owner != f.OwnerProjectID {
			continue
		}
		if f.LesseeProjectID != "" && r.Lessee != f.LesseeProjectID {
			continue
		}
		out = append(out, ResourceDescriptor{
			UUID:            r.UUID,
			Name:            r.Name,
			ResourceClass:   r.ResourceClass,
			OwnerProjectID:  r.Owner,
			LesseeProjectID: r.Lessee,
			Properties:      r.Properties,
		})
	}
	return out, nil
}

// StaticDirectory resolves projects from a loaded catalog by ID or name.
type StaticDirectory struct {
	catalog *Catalog
}

func NewStaticDirectory(c *Catalog) *StaticDirectory {
	return &StaticDirectory{catalog: c}
}

func (d *StaticDirectory) ResolveProject(_ context.Context, ident string) (string, error) {
	for _, p := range d.catalog.Projects {
		if p.ID == ident || p.Name == ident {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("%w: project %q", errdefs.ErrNotFound, ident)
}

func (d *StaticDirectory) ListProjects(_ context.Context) ([]Project, error) {
	out := make([]Project, len(d.catalog.Projects))
	copy(out, d.catalog.Projects)
	return out, nil
}
