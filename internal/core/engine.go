package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/agenthands/correlator/internal/config"
	"github.com/agenthands/correlator/internal/core/candidates"
	"github.com/agenthands/correlator/internal/core/classify"
	"github.com/agenthands/correlator/internal/core/feedback"
	"github.com/agenthands/correlator/internal/core/model"
	"github.com/agenthands/correlator/internal/core/personalize"
	"github.com/agenthands/correlator/internal/credentials"
	"github.com/agenthands/correlator/internal/gateway"
	"github.com/agenthands/correlator/internal/llm"
	"github.com/agenthands/correlator/internal/logging"
	"github.com/agenthands/correlator/internal/metrics"
	"github.com/agenthands/correlator/internal/store"
)

type Action string

const (
	ActionCheck Action = "check"
	ActionSync  Action = "sync"
)

func ParseAction(s string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case "", ActionCheck:
		return ActionCheck, true
	case ActionSync:
		return ActionSync, true
	}
	return "", false
}

// Result sources.
const (
	SourceStore = "store"
	SourceSync  = "sync"
)

type DiscoverRequest struct {
	Owner              string
	Identifier         string
	Action             Action
	CredentialOverride string
}

type SyncStats struct {
	Variants  int `json:"variants"`
	Similar   int `json:"similar"`
	Evaluated int `json:"evaluated"`
	Rejected  int `json:"rejected"`
}

type DiscoverResult struct {
	Identifier   string                    `json:"identifier"`
	Exists       bool                      `json:"exists"`
	Correlations []model.CorrelationRecord `json:"correlations"`
	Count        int                       `json:"count"`
	Source       string                    `json:"source"`
	Stats        *SyncStats                `json:"stats,omitempty"`
}

type FeedbackAction string

const (
	FeedbackDecide        FeedbackAction = "decide"
	FeedbackUndo          FeedbackAction = "undo"
	FeedbackMarkPublished FeedbackAction = "mark_published"
)

type FeedbackRequest struct {
	Owner              string
	SearchID           string
	CandidateID        string
	Action             FeedbackAction
	Decision           string
	Reason             string
	Marketplace        string
	CredentialOverride string
}

// Engine wires discovery, feedback and personalization over injected handles.
type Engine struct {
	Store        store.Store
	Gateways     gateway.Provider
	Credentials  credentials.Resolver
	Generator    *candidates.Generator
	Classifier   *classify.Classifier
	Ledger       *feedback.Ledger
	Personalizer *personalize.Personalizer

	identifier  *regexp.Regexp
	syncTimeout time.Duration
}

func NewEngine(cfg *config.Config, s store.Store, gateways gateway.Provider, resolver credentials.Resolver, llmClient llm.LLMClient) (*Engine, error) {
	pattern, err := regexp.Compile(cfg.Discovery.IdentifierPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid identifier pattern: %w", err)
	}

	var marketplaces []model.Marketplace
	for _, code := range cfg.Gateway.Marketplaces {
		m, ok := model.ParseMarketplace(code)
		if !ok {
			return nil, fmt.Errorf("unsupported marketplace %q", code)
		}
		marketplaces = append(marketplaces, m)
	}

	return &Engine{
		Store:        s,
		Gateways:     gateways,
		Credentials:  resolver,
		Generator:    candidates.NewGenerator(cfg.Discovery.MaxSimilar),
		Classifier:   classify.NewClassifier(llmClient, cfg.Classifier),
		Ledger:       feedback.NewLedger(s, marketplaces),
		Personalizer: personalize.NewPersonalizer(llmClient, s, cfg.Personalizer, cfg.Classifier.DefaultCriteria),
		identifier:   pattern,
		syncTimeout:  cfg.Discovery.SyncTimeout.Duration,
	}, nil
}

func (e *Engine) EnsureSchema(ctx context.Context) error {
	return e.Store.EnsureSchema(ctx)
}

// Discover serves check (store only) and sync (full discovery run).
func (e *Engine) Discover(ctx context.Context, req DiscoverRequest) (DiscoverResult, error) {
	start := time.Now()
	res, err := e.discover(ctx, req)

	outcome := "success"
	if err != nil {
		outcome = string(model.KindOf(err))
	}
	metrics.DiscoveryRuns.WithLabelValues(string(req.Action), outcome).Inc()
	metrics.DiscoveryDuration.WithLabelValues(string(req.Action)).Observe(time.Since(start).Seconds())
	return res, err
}

func (e *Engine) discover(ctx context.Context, req DiscoverRequest) (DiscoverResult, error) {
	if err := requireOwner(req.Owner); err != nil {
		return DiscoverResult{}, err
	}
	id, err := e.normalizeIdentifier(req.Identifier)
	if err != nil {
		return DiscoverResult{}, err
	}

	switch req.Action {
	case ActionCheck:
		rows, err := e.Store.CheckExisting(ctx, req.Owner, id)
		if err != nil {
			return DiscoverResult{}, internal("failed to read correlations", err)
		}
		return newResult(id, rows, SourceStore, nil), nil
	case ActionSync:
		key, err := credentials.Resolve(ctx, e.Credentials, req.Owner, req.CredentialOverride)
		if err != nil {
			return DiscoverResult{}, err
		}
		// The run outlives an abandoned request but not its own time budget.
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.syncTimeout)
		defer cancel()
		return e.sync(runCtx, req.Owner, id, e.Gateways.ForKey(key))
	default:
		return DiscoverResult{}, model.InvalidRequest("unknown action %q", req.Action)
	}
}

func (e *Engine) sync(ctx context.Context, owner, id string, gw gateway.Gateway) (DiscoverResult, error) {
	log := logging.With().Str("owner", owner).Str("identifier", id).Logger()

	records, err := gw.Lookup(ctx, []string{id})
	if err != nil {
		return DiscoverResult{}, err
	}
	primary, ok := findRecord(records, id)
	if !ok {
		return DiscoverResult{}, model.NotFound("product %s is not known to the product data provider", id)
	}

	found := e.Generator.Generate(ctx, gw, primary)

	profile, err := e.Store.GetProfile(ctx, owner)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load criteria profile, using default criteria")
	}
	verdicts := e.Classifier.ClassifyBatch(ctx, primary, found.Similar, classify.PolicyFor(profile))
	approved := classify.Approved(verdicts)

	rows := make([]model.Discovery, 0, len(found.Variants)+len(approved))
	for _, c := range found.Variants {
		rows = append(rows, model.DiscoveryFor(primary, c))
	}
	for _, c := range approved {
		if _, excluded := found.Excluded[c.ID]; excluded {
			continue
		}
		rows = append(rows, model.DiscoveryFor(primary, c))
	}

	written, err := e.Store.UpsertBatch(ctx, owner, id, rows)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return DiscoverResult{}, internal("sync run exceeded its time budget", err)
		}
		return DiscoverResult{}, internal("failed to persist correlations", err)
	}
	metrics.CorrelationsUpserted.WithLabelValues(string(model.KindVariant)).Add(float64(len(found.Variants)))
	metrics.CorrelationsUpserted.WithLabelValues(string(model.KindSimilar)).Add(float64(len(approved)))

	log.Info().
		Int("variants", len(found.Variants)).
		Int("similar_evaluated", len(found.Similar)).
		Int("similar_approved", len(approved)).
		Int("written", written).
		Msg("sync complete")

	existing, err := e.Store.CheckExisting(ctx, owner, id)
	if err != nil {
		return DiscoverResult{}, internal("failed to read correlations", err)
	}
	stats := &SyncStats{
		Variants:  len(found.Variants),
		Similar:   len(approved),
		Evaluated: len(found.Similar),
		Rejected:  len(found.Similar) - len(approved),
	}
	return newResult(id, existing, SourceSync, stats), nil
}

func (e *Engine) GetFeedback(ctx context.Context, owner, searchID string) ([]model.CorrelationRecord, error) {
	if err := requireOwner(owner); err != nil {
		return nil, err
	}
	id, err := e.normalizeIdentifier(searchID)
	if err != nil {
		return nil, err
	}
	rows, err := e.Ledger.List(ctx, owner, id)
	if err != nil {
		return nil, internal("failed to read feedback", err)
	}
	return rows, nil
}

// PostFeedback applies one feedback action and returns the row afterwards.
func (e *Engine) PostFeedback(ctx context.Context, req FeedbackRequest) (model.CorrelationRecord, error) {
	if err := requireOwner(req.Owner); err != nil {
		return model.CorrelationRecord{}, err
	}
	searchID, err := e.normalizeIdentifier(req.SearchID)
	if err != nil {
		return model.CorrelationRecord{}, err
	}
	candidateID := strings.ToUpper(strings.TrimSpace(req.CandidateID))
	if candidateID == "" {
		return model.CorrelationRecord{}, model.InvalidRequest("candidate_id is required")
	}
	key := model.CorrelationKey{Owner: req.Owner, SearchID: searchID, CandidateID: candidateID}

	switch req.Action {
	case FeedbackDecide:
		decision, ok := model.ParseDecision(strings.ToLower(strings.TrimSpace(req.Decision)))
		if !ok {
			return model.CorrelationRecord{}, model.InvalidRequest("decision must be accepted or declined")
		}
		var gw gateway.Gateway
		if decision == model.DecisionAccepted {
			gw = e.probeGateway(ctx, req.Owner, req.CredentialOverride)
		}
		return e.Ledger.SetDecision(ctx, key, decision, strings.TrimSpace(req.Reason), gw)
	case FeedbackUndo:
		if err := e.Ledger.Undo(ctx, key); err != nil {
			return model.CorrelationRecord{}, err
		}
	case FeedbackMarkPublished:
		code := strings.ToLower(strings.TrimSpace(req.Marketplace))
		if code == "" {
			return model.CorrelationRecord{}, model.InvalidRequest("marketplace is required")
		}
		if err := e.Ledger.MarkPublished(ctx, key, model.Marketplace(code)); err != nil {
			return model.CorrelationRecord{}, err
		}
	default:
		return model.CorrelationRecord{}, model.InvalidRequest("unknown feedback action %q", req.Action)
	}
	return e.Store.Get(ctx, key)
}

// probeGateway returns nil when the owner has no usable credential.
func (e *Engine) probeGateway(ctx context.Context, owner, override string) gateway.Gateway {
	key, err := credentials.Resolve(ctx, e.Credentials, owner, override)
	if err != nil {
		logging.Info().Err(err).Str("owner", owner).Msg("skipping availability probe")
		return nil
	}
	return e.Gateways.ForKey(key)
}

func (e *Engine) RegeneratePrompt(ctx context.Context, owner string) (personalize.Result, error) {
	if err := requireOwner(owner); err != nil {
		return personalize.Result{}, err
	}
	return e.Personalizer.Regenerate(ctx, owner)
}

func (e *Engine) Profile(ctx context.Context, owner string) (model.CriteriaProfile, error) {
	if err := requireOwner(owner); err != nil {
		return model.CriteriaProfile{}, err
	}
	p, err := e.Store.GetProfile(ctx, owner)
	if err != nil {
		return model.CriteriaProfile{}, internal("failed to read criteria profile", err)
	}
	if p == nil {
		return model.CriteriaProfile{}, model.NotFound("no criteria profile for owner %s", owner)
	}
	return *p, nil
}

func (e *Engine) SetProfileEnabled(ctx context.Context, owner string, enabled bool) (model.CriteriaProfile, error) {
	if err := requireOwner(owner); err != nil {
		return model.CriteriaProfile{}, err
	}
	if err := e.Store.SetProfileEnabled(ctx, owner, enabled); err != nil {
		return model.CriteriaProfile{}, err
	}
	return e.Profile(ctx, owner)
}

func (e *Engine) normalizeIdentifier(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if !e.identifier.MatchString(id) {
		return "", model.NewError(model.KindInvalidIdentifier, fmt.Sprintf("identifier %q does not match the expected format", raw), nil)
	}
	return id, nil
}

func requireOwner(owner string) error {
	if strings.TrimSpace(owner) == "" {
		return model.InvalidRequest("owner is required")
	}
	return nil
}

func internal(message string, err error) error {
	var typed *model.Error
	if errors.As(err, &typed) {
		return err
	}
	return model.NewError(model.KindInternal, message, err)
}

func findRecord(records []model.ProductRecord, id string) (model.ProductRecord, bool) {
	for _, r := range records {
		if strings.EqualFold(r.ID, id) {
			return r, true
		}
	}
	return model.ProductRecord{}, false
}

func newResult(id string, rows []model.CorrelationRecord, source string, stats *SyncStats) DiscoverResult {
	if rows == nil {
		rows = []model.CorrelationRecord{}
	}
	return DiscoverResult{
		Identifier:   id,
		Exists:       len(rows) > 0,
		Correlations: rows,
		Count:        len(rows),
		Source:       source,
		Stats:        stats,
	}
}
