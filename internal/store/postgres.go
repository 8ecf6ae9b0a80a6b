package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agenthands/correlator/internal/config"
	"github.com/agenthands/correlator/internal/core/model"
	"github.com/agenthands/correlator/internal/logging"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS correlations (
	id                      UUID PRIMARY KEY,
	owner_id                TEXT NOT NULL,
	search_id               TEXT NOT NULL,
	candidate_id            TEXT NOT NULL,
	title                   TEXT NOT NULL DEFAULT '',
	image_url               TEXT NOT NULL DEFAULT '',
	search_image_url        TEXT NOT NULL DEFAULT '',
	search_title            TEXT NOT NULL DEFAULT '',
	kind                    TEXT NOT NULL,
	provenance              TEXT NOT NULL,
	url                     TEXT NOT NULL DEFAULT '',
	confidence              DOUBLE PRECISION,
	decision                TEXT,
	decision_reason         TEXT,
	decided_at              TIMESTAMPTZ,
	availability            JSONB,
	availability_checked_at TIMESTAMPTZ,
	published               JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at              TIMESTAMPTZ NOT NULL,
	updated_at              TIMESTAMPTZ NOT NULL,
	CONSTRAINT correlations_key UNIQUE (owner_id, search_id, candidate_id)
);

CREATE INDEX IF NOT EXISTS correlations_decided_idx
	ON correlations (owner_id, decided_at DESC) WHERE decision IS NOT NULL;

CREATE TABLE IF NOT EXISTS criteria_profiles (
	owner_id       TEXT PRIMARY KEY,
	criteria       TEXT NOT NULL,
	enabled        BOOLEAN NOT NULL DEFAULT TRUE,
	based_on_count INTEGER NOT NULL DEFAULT 0,
	regenerated_at TIMESTAMPTZ NOT NULL
);
`

// upsertCorrelationSQL never lists a feedback column in its update set.
const upsertCorrelationSQL = `
INSERT INTO correlations
	(id, owner_id, search_id, candidate_id, title, image_url, search_image_url, search_title,
	 kind, provenance, url, confidence, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
ON CONFLICT (owner_id, search_id, candidate_id) DO UPDATE SET
	title = EXCLUDED.title,
	image_url = EXCLUDED.image_url,
	search_image_url = EXCLUDED.search_image_url,
	search_title = EXCLUDED.search_title,
	kind = EXCLUDED.kind,
	provenance = EXCLUDED.provenance,
	url = EXCLUDED.url,
	confidence = EXCLUDED.confidence,
	updated_at = EXCLUDED.updated_at`

const selectCorrelationColumns = `
SELECT id::text, owner_id, search_id, candidate_id, title, image_url, search_image_url, search_title,
	kind, provenance, url, confidence, decision, decision_reason, decided_at,
	availability, availability_checked_at, published, created_at, updated_at
FROM correlations`

// PostgresStore keeps correlations in a single table keyed by a unique constraint.
type PostgresStore struct {
	pool *pgxpool.Pool
	Now  func() time.Time
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	logging.Info().Int32("max_conns", poolCfg.MaxConns).Msg("connected to postgres")
	return &PostgresStore{pool: pool, Now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to apply postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CheckExisting(ctx context.Context, owner, searchID string) ([]model.CorrelationRecord, error) {
	rows, err := s.pool.Query(ctx, selectCorrelationColumns+`
		WHERE owner_id = $1 AND search_id = $2
		ORDER BY (kind = 'variant') DESC, candidate_id`, owner, searchID)
	if err != nil {
		return nil, fmt.Errorf("query correlations: %w", err)
	}
	return collectRecords(rows)
}

func (s *PostgresStore) UpsertBatch(ctx context.Context, owner, searchID string, rows []model.Discovery) (int, error) {
	rows = normalizeRows(searchID, rows)
	if len(rows) == 0 {
		return 0, nil
	}

	now := s.Now()
	b := &pgx.Batch{}
	for _, d := range rows {
		b.Queue(upsertCorrelationSQL,
			uuid.New().String(), owner, searchID, d.CandidateID, d.Title, d.ImageURL, d.SearchImageURL, d.SearchTitle,
			string(d.Kind), d.Provenance, d.URL, d.Confidence, now,
		)
	}

	br := s.pool.SendBatch(ctx, b)
	total := 0
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return total, fmt.Errorf("upsert correlation: %w", err)
		}
		total += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return total, fmt.Errorf("close batch: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) Get(ctx context.Context, key model.CorrelationKey) (model.CorrelationRecord, error) {
	rows, err := s.pool.Query(ctx, selectCorrelationColumns+`
		WHERE owner_id = $1 AND search_id = $2 AND candidate_id = $3`, key.Owner, key.SearchID, key.CandidateID)
	if err != nil {
		return model.CorrelationRecord{}, fmt.Errorf("query correlation: %w", err)
	}
	records, err := collectRecords(rows)
	if err != nil {
		return model.CorrelationRecord{}, err
	}
	if len(records) == 0 {
		return model.CorrelationRecord{}, notFound(key)
	}
	return records[0], nil
}

func (s *PostgresStore) SetDecision(ctx context.Context, key model.CorrelationKey, decision model.Decision, reason string, at time.Time) error {
	return s.exec(ctx, key, `
		UPDATE correlations SET decision = $4, decision_reason = NULLIF($5, ''), decided_at = $6
		WHERE owner_id = $1 AND search_id = $2 AND candidate_id = $3`,
		string(decision), reason, at)
}

func (s *PostgresStore) ClearDecision(ctx context.Context, key model.CorrelationKey) error {
	return s.exec(ctx, key, `
		UPDATE correlations SET decision = NULL, decision_reason = NULL, decided_at = NULL
		WHERE owner_id = $1 AND search_id = $2 AND candidate_id = $3`)
}

func (s *PostgresStore) SetAvailability(ctx context.Context, key model.CorrelationKey, availability map[model.Marketplace]model.AvailabilityState, at time.Time) error {
	return s.exec(ctx, key, `
		UPDATE correlations SET availability = $4, availability_checked_at = $5
		WHERE owner_id = $1 AND search_id = $2 AND candidate_id = $3`,
		availability, at)
}

// MarkPublished keeps the first timestamp recorded for a marketplace.
func (s *PostgresStore) MarkPublished(ctx context.Context, key model.CorrelationKey, marketplace model.Marketplace, at time.Time) error {
	return s.exec(ctx, key, `
		UPDATE correlations
		SET published = jsonb_build_object($4::text, $5::timestamptz) || published
		WHERE owner_id = $1 AND search_id = $2 AND candidate_id = $3`,
		string(marketplace), at)
}

func (s *PostgresStore) DecidedHistory(ctx context.Context, owner string) ([]model.CorrelationRecord, error) {
	rows, err := s.pool.Query(ctx, selectCorrelationColumns+`
		WHERE owner_id = $1 AND decision IS NOT NULL
		ORDER BY decided_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("query decision history: %w", err)
	}
	return collectRecords(rows)
}

func (s *PostgresStore) GetProfile(ctx context.Context, owner string) (*model.CriteriaProfile, error) {
	p := model.CriteriaProfile{Owner: owner}
	err := s.pool.QueryRow(ctx, `
		SELECT criteria, enabled, based_on_count, regenerated_at
		FROM criteria_profiles WHERE owner_id = $1`, owner).
		Scan(&p.Criteria, &p.Enabled, &p.BasedOnCount, &p.RegeneratedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query criteria profile: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) SaveProfile(ctx context.Context, profile model.CriteriaProfile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO criteria_profiles (owner_id, criteria, enabled, based_on_count, regenerated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id) DO UPDATE SET
			criteria = EXCLUDED.criteria,
			enabled = EXCLUDED.enabled,
			based_on_count = EXCLUDED.based_on_count,
			regenerated_at = EXCLUDED.regenerated_at`,
		profile.Owner, profile.Criteria, profile.Enabled, profile.BasedOnCount, profile.RegeneratedAt)
	if err != nil {
		return fmt.Errorf("upsert criteria profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetProfileEnabled(ctx context.Context, owner string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE criteria_profiles SET enabled = $2 WHERE owner_id = $1`, owner, enabled)
	if err != nil {
		return fmt.Errorf("toggle criteria profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFound("no criteria profile for owner %s", owner)
	}
	return nil
}

func (s *PostgresStore) exec(ctx context.Context, key model.CorrelationKey, sql string, args ...any) error {
	all := append([]any{key.Owner, key.SearchID, key.CandidateID}, args...)
	tag, err := s.pool.Exec(ctx, sql, all...)
	if err != nil {
		return fmt.Errorf("update correlation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(key)
	}
	return nil
}

func collectRecords(rows pgx.Rows) ([]model.CorrelationRecord, error) {
	defer rows.Close()

	var out []model.CorrelationRecord
	for rows.Next() {
		var (
			r            model.CorrelationRecord
			kind         string
			decision     *string
			reason       *string
			availability map[model.Marketplace]model.AvailabilityState
			published    map[model.Marketplace]time.Time
		)
		err := rows.Scan(
			&r.ID, &r.Owner, &r.SearchID, &r.CandidateID, &r.Title, &r.ImageURL, &r.SearchImageURL, &r.SearchTitle,
			&kind, &r.Provenance, &r.URL, &r.Confidence, &decision, &reason, &r.DecidedAt,
			&availability, &r.AvailabilityCheckedAt, &published, &r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan correlation: %w", err)
		}
		r.Kind = model.CandidateKind(kind)
		if decision != nil {
			r.Decision = model.Decision(*decision)
		}
		if reason != nil {
			r.DecisionReason = *reason
		}
		r.Availability = availability
		if len(published) > 0 {
			r.Published = published
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}
