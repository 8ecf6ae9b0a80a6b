package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenthands/correlator/internal/core/model"
)

// MemoryStore keeps everything in process. The mutex stands in for the
// storage-level atomicity the database backends get from their constraints.
type MemoryStore struct {
	mu       sync.Mutex
	rows     map[model.CorrelationKey]*model.CorrelationRecord
	profiles map[string]model.CriteriaProfile
	Now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:     make(map[model.CorrelationKey]*model.CorrelationRecord),
		profiles: make(map[string]model.CriteriaProfile),
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) EnsureSchema(ctx context.Context) error { return nil }
func (s *MemoryStore) Close(ctx context.Context) error        { return nil }

func (s *MemoryStore) CheckExisting(ctx context.Context, owner, searchID string) ([]model.CorrelationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.CorrelationRecord
	for key, r := range s.rows {
		if key.Owner == owner && key.SearchID == searchID {
			out = append(out, cloneRecord(r))
		}
	}
	sortForDisplay(out)
	return out, nil
}

func (s *MemoryStore) UpsertBatch(ctx context.Context, owner, searchID string, rows []model.Discovery) (int, error) {
	rows = normalizeRows(searchID, rows)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	for _, d := range rows {
		key := model.CorrelationKey{Owner: owner, SearchID: searchID, CandidateID: d.CandidateID}
		if existing, ok := s.rows[key]; ok {
			existing.Discovery = d
			existing.UpdatedAt = now
			continue
		}
		s.rows[key] = &model.CorrelationRecord{
			ID:        uuid.New().String(),
			Owner:     owner,
			SearchID:  searchID,
			Discovery: d,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return len(rows), nil
}

func (s *MemoryStore) Get(ctx context.Context, key model.CorrelationKey) (model.CorrelationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[key]
	if !ok {
		return model.CorrelationRecord{}, notFound(key)
	}
	return cloneRecord(r), nil
}

func (s *MemoryStore) SetDecision(ctx context.Context, key model.CorrelationKey, decision model.Decision, reason string, at time.Time) error {
	return s.update(key, func(r *model.CorrelationRecord) {
		r.Decision = decision
		r.DecisionReason = reason
		r.DecidedAt = &at
	})
}

func (s *MemoryStore) ClearDecision(ctx context.Context, key model.CorrelationKey) error {
	return s.update(key, func(r *model.CorrelationRecord) {
		r.Decision = model.DecisionNone
		r.DecisionReason = ""
		r.DecidedAt = nil
	})
}

func (s *MemoryStore) SetAvailability(ctx context.Context, key model.CorrelationKey, availability map[model.Marketplace]model.AvailabilityState, at time.Time) error {
	return s.update(key, func(r *model.CorrelationRecord) {
		r.Availability = make(map[model.Marketplace]model.AvailabilityState, len(availability))
		for m, st := range availability {
			r.Availability[m] = st
		}
		r.AvailabilityCheckedAt = &at
	})
}

func (s *MemoryStore) MarkPublished(ctx context.Context, key model.CorrelationKey, marketplace model.Marketplace, at time.Time) error {
	return s.update(key, func(r *model.CorrelationRecord) {
		if r.Published == nil {
			r.Published = make(map[model.Marketplace]time.Time)
		}
		if _, ok := r.Published[marketplace]; !ok {
			r.Published[marketplace] = at
		}
	})
}

func (s *MemoryStore) DecidedHistory(ctx context.Context, owner string) ([]model.CorrelationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.CorrelationRecord
	for key, r := range s.rows {
		if key.Owner == owner && r.Decision != model.DecisionNone {
			out = append(out, cloneRecord(r))
		}
	}
	sortByDecidedDesc(out)
	return out, nil
}

func (s *MemoryStore) GetProfile(ctx context.Context, owner string) (*model.CriteriaProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[owner]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStore) SaveProfile(ctx context.Context, profile model.CriteriaProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[profile.Owner] = profile
	return nil
}

func (s *MemoryStore) SetProfileEnabled(ctx context.Context, owner string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[owner]
	if !ok {
		return model.NotFound("no criteria profile for owner %s", owner)
	}
	p.Enabled = enabled
	s.profiles[owner] = p
	return nil
}

func (s *MemoryStore) update(key model.CorrelationKey, fn func(*model.CorrelationRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[key]
	if !ok {
		return notFound(key)
	}
	fn(r)
	return nil
}

func cloneRecord(r *model.CorrelationRecord) model.CorrelationRecord {
	out := *r
	if r.Availability != nil {
		out.Availability = make(map[model.Marketplace]model.AvailabilityState, len(r.Availability))
		for k, v := range r.Availability {
			out.Availability[k] = v
		}
	}
	if r.Published != nil {
		out.Published = make(map[model.Marketplace]time.Time, len(r.Published))
		for k, v := range r.Published {
			out.Published[k] = v
		}
	}
	return out
}
