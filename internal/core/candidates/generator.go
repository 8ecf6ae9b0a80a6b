package candidates

import (
	"context"

	"github.com/agenthands/correlator/internal/core/model"
	"github.com/agenthands/correlator/internal/gateway"
	"github.com/agenthands/correlator/internal/logging"
)

const DefaultMaxSimilar = 20

// Result is the output of one generation pass. Variants are auto-approved;
// Similar still needs classification.
type Result struct {
	Variants []model.Candidate
	Similar  []model.Candidate
	// Excluded holds the primary and every reported variant id, resolved or not.
	Excluded map[string]struct{}
}

type Generator struct {
	MaxSimilar int
}

func NewGenerator(maxSimilar int) *Generator {
	if maxSimilar <= 0 {
		maxSimilar = DefaultMaxSimilar
	}
	return &Generator{MaxSimilar: maxSimilar}
}

// Generate resolves the primary's variants and, when brand and category are
// known, the facet-search neighbours that are not variants.
func (g *Generator) Generate(ctx context.Context, gw gateway.Gateway, primary model.ProductRecord) Result {
	res := Result{Excluded: map[string]struct{}{primary.ID: {}}}

	var variantIDs []string
	for _, id := range primary.VariationIDs {
		if _, seen := res.Excluded[id]; seen || id == "" {
			continue
		}
		res.Excluded[id] = struct{}{}
		variantIDs = append(variantIDs, id)
	}

	if len(variantIDs) > 0 {
		records, err := gw.Lookup(ctx, variantIDs)
		if err != nil {
			logging.Warn().Err(err).Str("primary", primary.ID).Int("variants", len(variantIDs)).Msg("variant lookup failed, continuing without variants")
		}
		for _, r := range records {
			if _, ok := res.Excluded[r.ID]; !ok || r.ID == primary.ID {
				continue
			}
			res.Variants = append(res.Variants, model.CandidateFromRecord(r, model.KindVariant))
		}
	}

	if !primary.HasFacets() {
		logging.Info().Str("primary", primary.ID).Msg("primary has no brand/category facets, skipping similar search")
		return res
	}

	var similarIDs []string
	for _, id := range gw.SearchByFacets(ctx, primary.Brand, primary.CategoryID) {
		if _, excluded := res.Excluded[id]; excluded {
			continue
		}
		similarIDs = append(similarIDs, id)
		if len(similarIDs) == g.MaxSimilar {
			break
		}
	}
	if len(similarIDs) == 0 {
		return res
	}

	records, err := gw.Lookup(ctx, similarIDs)
	if err != nil {
		logging.Warn().Err(err).Str("primary", primary.ID).Int("similar", len(similarIDs)).Msg("similar lookup failed, continuing without similar candidates")
		return res
	}
	for _, r := range records {
		if _, excluded := res.Excluded[r.ID]; excluded {
			continue
		}
		res.Similar = append(res.Similar, model.CandidateFromRecord(r, model.KindSimilar))
	}
	return res
}
