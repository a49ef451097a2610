package inventory_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"leaseserver/internal/errdefs"
	"leaseserver/internal/inventory"
)

const catalogYAML = `
resources:
  - uuid: node-1
    name: compute-1
    resource_class: baremetal.general
    owner: owner-1
    properties:
      cpus: "64"
  - uuid: node-2
    name: compute-2
    resource_class: baremetal.gpu
    owner: owner-1
    lessee: lessee-1
  - uuid: node-3
    name: storage-1
    resource_class: baremetal.general
    owner: owner-2
projects:
  - id: owner-1
    name: infra-team
  - id: lessee-1
    name: research-lab
`

func loadTestCatalog(t *testing.T) *inventory.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(catalogYAML), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	c, err := inventory.LoadCatalog(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return c
}

func TestStaticBackendFilters(t *testing.T) {
	b := inventory.NewStaticBackend(loadTestCatalog(t))
	ctx := context.Background()

	all, err := b.ListResources(ctx, inventory.Filters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 resources, got %d", len(all))
	}
	if all[0].Properties["cpus"] != "64" {
		t.Fatalf("properties lost: %+v", all[0])
	}

	cases := []struct {
		name string
		f    inventory.Filters
		want int
	}{
		{"by class", inventory.Filters{ResourceClass: "baremetal.general"}, 2},
		{"by owner", inventory.Filters{OwnerProjectID: "owner-2"}, 1},
		{"by lessee", inventory.Filters{LesseeProjectID: "lessee-1"}, 1},
		{"combined", inventory.Filters{ResourceClass: "baremetal.gpu", OwnerProjectID: "owner-1"}, 1},
		{"no match", inventory.Filters{ResourceClass: "baremetal.gpu", OwnerProjectID: "owner-2"}, 0},
	}
	for _, tc := range cases {
		got, err := b.ListResources(ctx, tc.f)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if len(got) != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, len(got))
		}
	}
}

func TestStaticDirectoryResolve(t *testing.T) {
	d := inventory.NewStaticDirectory(loadTestCatalog(t))
	ctx := context.Background()

	for _, ident := range []string{"owner-1", "infra-team"} {
		id, err := d.ResolveProject(ctx, ident)
		if err != nil {
			t.Fatalf("resolve %q: %v", ident, err)
		}
		if id != "owner-1" {
			t.Fatalf("resolve %q: expected owner-1, got %s", ident, id)
		}
	}

	if _, err := d.ResolveProject(ctx, "nobody"); !errors.Is(err, errdefs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadCatalogMissingFile(t *testing.T) {
	if _, err := inventory.LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
