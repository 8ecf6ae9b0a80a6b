// Package store persists correlation rows and criteria profiles.
//
// Every backend upserts on the (owner, search id, candidate id) key at the
// storage level and never lets a discovery write touch feedback fields.
package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/agenthands/correlator/internal/config"
	"github.com/agenthands/correlator/internal/core/model"
	"github.com/agenthands/correlator/internal/driver"
)

type CorrelationStore interface {
	// CheckExisting lists the owner's rows for one search id.
	CheckExisting(ctx context.Context, owner, searchID string) ([]model.CorrelationRecord, error)
	// UpsertBatch writes discovery fields and returns the number of rows written.
	// Rows pointing at the search id itself are skipped.
	UpsertBatch(ctx context.Context, owner, searchID string, rows []model.Discovery) (int, error)
	Get(ctx context.Context, key model.CorrelationKey) (model.CorrelationRecord, error)
	SetDecision(ctx context.Context, key model.CorrelationKey, decision model.Decision, reason string, at time.Time) error
	ClearDecision(ctx context.Context, key model.CorrelationKey) error
	SetAvailability(ctx context.Context, key model.CorrelationKey, availability map[model.Marketplace]model.AvailabilityState, at time.Time) error
	MarkPublished(ctx context.Context, key model.CorrelationKey, marketplace model.Marketplace, at time.Time) error
	// DecidedHistory returns the owner's decided rows, most recent decision first.
	DecidedHistory(ctx context.Context, owner string) ([]model.CorrelationRecord, error)
}

type ProfileStore interface {
	// GetProfile returns nil without error when the owner has no profile.
	GetProfile(ctx context.Context, owner string) (*model.CriteriaProfile, error)
	SaveProfile(ctx context.Context, profile model.CriteriaProfile) error
	SetProfileEnabled(ctx context.Context, owner string, enabled bool) error
}

type Store interface {
	CorrelationStore
	ProfileStore
	EnsureSchema(ctx context.Context) error
	Close(ctx context.Context) error
}

// New opens the backend selected by cfg.Store.Backend.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "memgraph":
		d, err := driver.NewMemgraphDriver(ctx, cfg.Memgraph)
		if err != nil {
			return nil, err
		}
		return NewGraphStore(d), nil
	case "postgres":
		return NewPostgresStore(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

// normalizeRows drops self references and empty ids and keeps the last row
// per candidate.
func normalizeRows(searchID string, rows []model.Discovery) []model.Discovery {
	index := make(map[string]int, len(rows))
	out := make([]model.Discovery, 0, len(rows))
	for _, r := range rows {
		if r.CandidateID == "" || r.CandidateID == searchID {
			continue
		}
		if i, ok := index[r.CandidateID]; ok {
			out[i] = r
			continue
		}
		index[r.CandidateID] = len(out)
		out = append(out, r)
	}
	return out
}

// sortForDisplay puts variants first, then orders by candidate id.
func sortForDisplay(records []model.CorrelationRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Kind != records[j].Kind {
			return records[i].Kind == model.KindVariant
		}
		return records[i].CandidateID < records[j].CandidateID
	})
}

func sortByDecidedDesc(records []model.CorrelationRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].DecidedAt, records[j].DecidedAt
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.After(*b)
	})
}

func notFound(key model.CorrelationKey) error {
	return model.NotFound("no correlation %s for search %s", key.CandidateID, key.SearchID)
}
