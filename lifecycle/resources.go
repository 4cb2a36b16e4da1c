package lifecycle

import (
	"context"

	"go.lakehouse.dev/core/am"
	"go.lakehouse.dev/core/stores"
)

// Resources performs the physical creation and removal of relation
// resources. Implementations must be idempotent: creating an existing
// resource, or removing a missing one, is not an error.
type Resources interface {
	Create(ctx context.Context, location string) error
	Remove(ctx context.Context, location string) error
	Exists(ctx context.Context, location string) (bool, error)
}

// StoreResources are prefixes of a stores.Store.
type StoreResources struct {
	Store stores.Store
	// Concurrency bounds parallel requests of prefix removals.
	Concurrency int
}

// ResourcesOf returns the StoreResources of the Relation.
func ResourcesOf(rel *am.Relation) Resources {
	return StoreResources{Store: rel.Store, Concurrency: rel.IOConcurrency}
}

func (r StoreResources) Create(ctx context.Context, location string) error {
	return stores.MakePrefix(ctx, r.Store, location)
}

func (r StoreResources) Remove(ctx context.Context, location string) error {
	return stores.RemovePrefix(ctx, r.Store, location, r.Concurrency)
}

func (r StoreResources) Exists(ctx context.Context, location string) (bool, error) {
	return stores.PrefixExists(ctx, r.Store, location)
}
