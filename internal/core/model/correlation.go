package model

import "time"

type Decision string

const (
	DecisionNone     Decision = ""
	DecisionAccepted Decision = "accepted"
	DecisionDeclined Decision = "declined"
)

func ParseDecision(s string) (Decision, bool) {
	switch Decision(s) {
	case DecisionAccepted, DecisionDeclined:
		return Decision(s), true
	}
	return DecisionNone, false
}

type AvailabilityState string

const (
	Available   AvailabilityState = "available"
	Unavailable AvailabilityState = "unavailable"
	Unknown     AvailabilityState = "unknown"
)

// CorrelationKey is the unique identity of a correlation row.
type CorrelationKey struct {
	Owner       string `json:"owner"`
	SearchID    string `json:"search_id"`
	CandidateID string `json:"candidate_id"`
}

// Discovery holds the fields owned by discovery runs. Upserts write only these.
type Discovery struct {
	CandidateID    string        `json:"candidate_id"`
	Title          string        `json:"title"`
	ImageURL       string        `json:"image_url,omitempty"`
	SearchImageURL string        `json:"search_image_url,omitempty"`
	SearchTitle    string        `json:"search_title,omitempty"`
	Kind           CandidateKind `json:"kind"`
	Provenance     string        `json:"provenance"`
	URL            string        `json:"url,omitempty"`
	Confidence     *float64      `json:"confidence,omitempty"`
}

// Feedback holds the fields owned by the feedback ledger. Discovery never writes them.
type Feedback struct {
	Decision              Decision                          `json:"decision,omitempty"`
	DecisionReason        string                            `json:"decision_reason,omitempty"`
	DecidedAt             *time.Time                        `json:"decided_at,omitempty"`
	Availability          map[Marketplace]AvailabilityState `json:"availability,omitempty"`
	AvailabilityCheckedAt *time.Time                        `json:"availability_checked_at,omitempty"`
	Published             map[Marketplace]time.Time         `json:"published,omitempty"`
}

// CorrelationRecord is one persisted primary -> candidate relationship.
type CorrelationRecord struct {
	ID       string `json:"id"`
	Owner    string `json:"owner"`
	SearchID string `json:"search_id"`
	Discovery
	Feedback
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r CorrelationRecord) Key() CorrelationKey {
	return CorrelationKey{Owner: r.Owner, SearchID: r.SearchID, CandidateID: r.CandidateID}
}

// DiscoveryFor builds the discovery half of a row for a candidate of the given primary.
func DiscoveryFor(primary ProductRecord, c Candidate) Discovery {
	provenance := ProvenanceFacetSearch
	if c.Kind == KindVariant {
		provenance = ProvenanceVariations
	}
	return Discovery{
		CandidateID:    c.ID,
		Title:          c.Title,
		ImageURL:       c.ImageURL,
		SearchImageURL: primary.ImageURL,
		SearchTitle:    primary.Title,
		Kind:           c.Kind,
		Provenance:     provenance,
		URL:            c.URL,
	}
}
