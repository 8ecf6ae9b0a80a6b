package model

// ProductRecord is what the product-data provider returns for one identifier.
type ProductRecord struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Brand        string   `json:"brand,omitempty"`
	CategoryID   int64    `json:"category_id,omitempty"` // 0 means the provider reported no category
	ImageURL     string   `json:"image_url,omitempty"`
	URL          string   `json:"url,omitempty"`
	VariationIDs []string `json:"variation_ids,omitempty"`
}

// HasFacets reports whether the record can seed a brand/category search.
func (p ProductRecord) HasFacets() bool {
	return p.Brand != "" && p.CategoryID != 0
}

type CandidateKind string

const (
	KindVariant CandidateKind = "variant"
	KindSimilar CandidateKind = "similar"
)

// Provenance tags recorded on every correlation row.
const (
	ProvenanceVariations  = "provider_variations"
	ProvenanceFacetSearch = "facet_search_ai"
)

// Candidate is a product discovered from a primary during one run.
type Candidate struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Brand    string        `json:"brand,omitempty"`
	ImageURL string        `json:"image_url,omitempty"`
	URL      string        `json:"url,omitempty"`
	Kind     CandidateKind `json:"kind"`
}

// CandidateFromRecord tags a provider record with the pipeline that found it.
func CandidateFromRecord(p ProductRecord, kind CandidateKind) Candidate {
	return Candidate{
		ID:       p.ID,
		Title:    p.Title,
		Brand:    p.Brand,
		ImageURL: p.ImageURL,
		URL:      p.URL,
		Kind:     kind,
	}
}

// Marketplace is a storefront code probed for availability and tracked for publishing.
type Marketplace string

const (
	MarketplaceUS Marketplace = "us"
	MarketplaceCA Marketplace = "ca"
	MarketplaceUK Marketplace = "uk"
	MarketplaceDE Marketplace = "de"
)

// Marketplaces is the fixed probe set, in probe order.
var Marketplaces = []Marketplace{MarketplaceUS, MarketplaceCA, MarketplaceUK, MarketplaceDE}

func ParseMarketplace(code string) (Marketplace, bool) {
	for _, m := range Marketplaces {
		if string(m) == code {
			return m, true
		}
	}
	return "", false
}
