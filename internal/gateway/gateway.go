// Package gateway talks to the upstream product-data provider.
package gateway

import (
	"context"

	"github.com/agenthands/correlator/internal/core/model"
)

// Gateway is bound to one product-data credential.
type Gateway interface {
	// Lookup returns the records the provider recognizes; unknown ids are omitted.
	Lookup(ctx context.Context, ids []string) ([]model.ProductRecord, error)
	// SearchByFacets returns up to one page of ids for a brand/category pair.
	// Provider failures are logged and yield an empty list.
	SearchByFacets(ctx context.Context, brand string, categoryID int64) []string
	// Availability reports whether the id is listed in the given marketplace.
	Availability(ctx context.Context, marketplace model.Marketplace, id string) (bool, error)
}

// Provider hands out gateways for a resolved credential.
type Provider interface {
	ForKey(key string) Gateway
}
