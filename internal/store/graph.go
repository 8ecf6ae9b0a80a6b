package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/correlator/internal/core/model"
	"github.com/agenthands/correlator/internal/driver"
	"github.com/agenthands/correlator/internal/logging"
)

// timeLayout is fixed width so string ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const maxConflictRetries = 3

// GraphStore keeps correlations as :Correlation nodes in Memgraph.
type GraphStore struct {
	Driver driver.GraphDriver
	Now    func() time.Time
}

var _ Store = (*GraphStore)(nil)

func NewGraphStore(d driver.GraphDriver) *GraphStore {
	return &GraphStore{
		Driver: d,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *GraphStore) EnsureSchema(ctx context.Context) error {
	return s.Driver.BuildIndices(ctx)
}

func (s *GraphStore) Close(ctx context.Context) error {
	return s.Driver.Close(ctx)
}

func (s *GraphStore) CheckExisting(ctx context.Context, owner, searchID string) ([]model.CorrelationRecord, error) {
	res, err := s.Driver.ExecuteQuery(ctx, driver.ListCorrelationsQuery, map[string]interface{}{
		"owner":     owner,
		"search_id": searchID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list correlations: %w", err)
	}
	return recordsFromResult(res)
}

func (s *GraphStore) UpsertBatch(ctx context.Context, owner, searchID string, rows []model.Discovery) (int, error) {
	rows = normalizeRows(searchID, rows)
	if len(rows) == 0 {
		return 0, nil
	}

	params := map[string]interface{}{
		"owner":     owner,
		"search_id": searchID,
		"now":       formatTime(s.Now()),
		"rows":      discoveryParams(rows),
	}

	var res neo4j.EagerResult
	err := withConflictRetry(ctx, func() error {
		var execErr error
		res, execErr = s.Driver.ExecuteQuery(ctx, driver.UpsertCorrelationsQuery, params)
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert correlations: %w", err)
	}

	if len(res.Records) > 0 {
		if written, ok := res.Records[0].Get("written"); ok {
			if n, ok := written.(int64); ok {
				return int(n), nil
			}
		}
	}
	return len(rows), nil
}

func (s *GraphStore) Get(ctx context.Context, key model.CorrelationKey) (model.CorrelationRecord, error) {
	res, err := s.Driver.ExecuteQuery(ctx, driver.GetCorrelationQuery, keyParams(key))
	if err != nil {
		return model.CorrelationRecord{}, fmt.Errorf("failed to get correlation: %w", err)
	}
	records, err := recordsFromResult(res)
	if err != nil {
		return model.CorrelationRecord{}, err
	}
	if len(records) == 0 {
		return model.CorrelationRecord{}, notFound(key)
	}
	return records[0], nil
}

func (s *GraphStore) SetDecision(ctx context.Context, key model.CorrelationKey, decision model.Decision, reason string, at time.Time) error {
	params := keyParams(key)
	params["decision"] = string(decision)
	params["reason"] = reason
	params["decided_at"] = formatTime(at)
	return s.mutate(ctx, key, driver.SetDecisionQuery, params)
}

func (s *GraphStore) ClearDecision(ctx context.Context, key model.CorrelationKey) error {
	return s.mutate(ctx, key, driver.ClearDecisionQuery, keyParams(key))
}

func (s *GraphStore) SetAvailability(ctx context.Context, key model.CorrelationKey, availability map[model.Marketplace]model.AvailabilityState, at time.Time) error {
	encoded, err := json.Marshal(availability)
	if err != nil {
		return fmt.Errorf("failed to encode availability: %w", err)
	}
	params := keyParams(key)
	params["availability"] = string(encoded)
	params["checked_at"] = formatTime(at)
	return s.mutate(ctx, key, driver.SetAvailabilityQuery, params)
}

func (s *GraphStore) MarkPublished(ctx context.Context, key model.CorrelationKey, marketplace model.Marketplace, at time.Time) error {
	params := keyParams(key)
	params["marketplace"] = string(marketplace)
	params["at"] = formatTime(at)
	return s.mutate(ctx, key, driver.MarkPublishedQuery, params)
}

func (s *GraphStore) DecidedHistory(ctx context.Context, owner string) ([]model.CorrelationRecord, error) {
	res, err := s.Driver.ExecuteQuery(ctx, driver.DecidedHistoryQuery, map[string]interface{}{"owner": owner})
	if err != nil {
		return nil, fmt.Errorf("failed to load decision history: %w", err)
	}
	records, err := recordsFromResult(res)
	if err != nil {
		return nil, err
	}
	sortByDecidedDesc(records)
	return records, nil
}

func (s *GraphStore) GetProfile(ctx context.Context, owner string) (*model.CriteriaProfile, error) {
	res, err := s.Driver.ExecuteQuery(ctx, driver.GetProfileQuery, map[string]interface{}{"owner": owner})
	if err != nil {
		return nil, fmt.Errorf("failed to get criteria profile: %w", err)
	}
	if len(res.Records) == 0 {
		return nil, nil
	}

	rec := res.Records[0]
	p := &model.CriteriaProfile{Owner: owner}
	if v, ok := rec.Get("criteria"); ok {
		p.Criteria, _ = v.(string)
	}
	if v, ok := rec.Get("enabled"); ok {
		p.Enabled, _ = v.(bool)
	}
	if v, ok := rec.Get("based_on_count"); ok {
		if n, ok := v.(int64); ok {
			p.BasedOnCount = int(n)
		}
	}
	if v, ok := rec.Get("regenerated_at"); ok {
		if t := parseTime(v); t != nil {
			p.RegeneratedAt = *t
		}
	}
	return p, nil
}

func (s *GraphStore) SaveProfile(ctx context.Context, profile model.CriteriaProfile) error {
	_, err := s.Driver.ExecuteQuery(ctx, driver.SaveProfileQuery, map[string]interface{}{
		"owner":          profile.Owner,
		"criteria":       profile.Criteria,
		"enabled":        profile.Enabled,
		"based_on_count": int64(profile.BasedOnCount),
		"regenerated_at": formatTime(profile.RegeneratedAt),
	})
	if err != nil {
		return fmt.Errorf("failed to save criteria profile: %w", err)
	}
	return nil
}

func (s *GraphStore) SetProfileEnabled(ctx context.Context, owner string, enabled bool) error {
	res, err := s.Driver.ExecuteQuery(ctx, driver.SetProfileEnabledQuery, map[string]interface{}{
		"owner":   owner,
		"enabled": enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to toggle criteria profile: %w", err)
	}
	if len(res.Records) == 0 {
		return model.NotFound("no criteria profile for owner %s", owner)
	}
	return nil
}

// mutate runs a MATCH ... SET query and maps "no row matched" to NotFound.
func (s *GraphStore) mutate(ctx context.Context, key model.CorrelationKey, query string, params map[string]interface{}) error {
	var res neo4j.EagerResult
	err := withConflictRetry(ctx, func() error {
		var execErr error
		res, execErr = s.Driver.ExecuteQuery(ctx, query, params)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to update correlation: %w", err)
	}
	if len(res.Records) == 0 {
		return notFound(key)
	}
	return nil
}

// withConflictRetry retries transactions Memgraph aborted because a concurrent
// writer won the race on the same key.
func withConflictRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err = fn(); err == nil || !isConflict(err) {
			return err
		}
		logging.Debug().Err(err).Int("attempt", attempt+1).Msg("retrying conflicting write")
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
		}
	}
	return err
}

func isConflict(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "conflict") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "serializ")
}

func keyParams(key model.CorrelationKey) map[string]interface{} {
	return map[string]interface{}{
		"owner":        key.Owner,
		"search_id":    key.SearchID,
		"candidate_id": key.CandidateID,
	}
}

func discoveryParams(rows []model.Discovery) []interface{} {
	out := make([]interface{}, 0, len(rows))
	for _, d := range rows {
		var confidence interface{}
		if d.Confidence != nil {
			confidence = *d.Confidence
		}
		out = append(out, map[string]interface{}{
			"id":               uuid.New().String(),
			"candidate_id":     d.CandidateID,
			"title":            d.Title,
			"image_url":        d.ImageURL,
			"search_image_url": d.SearchImageURL,
			"search_title":     d.SearchTitle,
			"kind":             string(d.Kind),
			"provenance":       d.Provenance,
			"url":              d.URL,
			"confidence":       confidence,
		})
	}
	return out
}

func recordsFromResult(res neo4j.EagerResult) ([]model.CorrelationRecord, error) {
	out := make([]model.CorrelationRecord, 0, len(res.Records))
	for _, rec := range res.Records {
		raw, ok := rec.Get("props")
		if !ok {
			continue
		}
		props, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unexpected correlation payload %T", raw)
		}
		r, err := recordFromProps(props)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func recordFromProps(props map[string]interface{}) (model.CorrelationRecord, error) {
	str := func(key string) string {
		s, _ := props[key].(string)
		return s
	}

	r := model.CorrelationRecord{
		ID:       str("id"),
		Owner:    str("owner"),
		SearchID: str("search_id"),
		Discovery: model.Discovery{
			CandidateID:    str("candidate_id"),
			Title:          str("title"),
			ImageURL:       str("image_url"),
			SearchImageURL: str("search_image_url"),
			SearchTitle:    str("search_title"),
			Kind:           model.CandidateKind(str("kind")),
			Provenance:     str("provenance"),
			URL:            str("url"),
		},
		Feedback: model.Feedback{
			Decision:       model.Decision(str("decision")),
			DecisionReason: str("decision_reason"),
			DecidedAt:      parseTime(props["decided_at"]),
		},
	}
	if c, ok := props["confidence"].(float64); ok {
		r.Confidence = &c
	}
	if t := parseTime(props["created_at"]); t != nil {
		r.CreatedAt = *t
	}
	if t := parseTime(props["updated_at"]); t != nil {
		r.UpdatedAt = *t
	}

	if raw := str("availability"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &r.Availability); err != nil {
			return r, fmt.Errorf("corrupt availability on %s: %w", r.CandidateID, err)
		}
		r.AvailabilityCheckedAt = parseTime(props["availability_checked_at"])
	}

	for _, m := range model.Marketplaces {
		if t := parseTime(props["published_"+string(m)]); t != nil {
			if r.Published == nil {
				r.Published = make(map[model.Marketplace]time.Time)
			}
			r.Published[m] = *t
		}
	}
	return r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v interface{}) *time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return nil
	}
	return &t
}
