package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/correlator/internal/config"
	"github.com/agenthands/correlator/internal/core/model"
	"github.com/agenthands/correlator/internal/store"
)

const owner = "alice"

type fixture struct {
	engine   *Engine
	store    *store.MemoryStore
	gateway  *MockGateway
	provider *MockProvider
	llm      *MockLLM
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Discovery.IdentifierPattern = `^B[0-9A-Z]{10}$`

	gw := &MockGateway{
		Products: map[string]model.ProductRecord{
			"B0TESTPRIM1": {
				ID: "B0TESTPRIM1", Title: "Acme Kettle 1.7L", Brand: "Acme", CategoryID: 42,
				ImageURL: "https://img/prim.jpg", VariationIDs: []string{"B0TESTVAR01", "B0TESTVAR02"},
			},
			"B0TESTVAR01": {ID: "B0TESTVAR01", Title: "Acme Kettle 1.7L Black", Brand: "Acme"},
			"B0TESTVAR02": {ID: "B0TESTVAR02", Title: "Acme Kettle 1.7L White", Brand: "Acme"},
			"B0TESTSIM01": {ID: "B0TESTSIM01", Title: "Acme Kettle Red", Brand: "Acme"},
			"B0TESTSIM02": {ID: "B0TESTSIM02", Title: "Acme Kettle Descaler", Brand: "Acme"},
		},
		SearchIDs: []string{"B0TESTVAR01", "B0TESTSIM01", "B0TESTSIM02"},
	}
	provider := &MockProvider{Gateway: gw}
	llmClient := &MockLLM{Approve: []string{"Acme Kettle Red"}}
	s := store.NewMemoryStore()

	e, err := NewEngine(cfg, s, provider, staticResolver{owner: "alice-key"}, llmClient)
	require.NoError(t, err)

	return &fixture{engine: e, store: s, gateway: gw, provider: provider, llm: llmClient}
}

func (f *fixture) sync(t *testing.T) DiscoverResult {
	t.Helper()
	res, err := f.engine.Discover(context.Background(), DiscoverRequest{Owner: owner, Identifier: "B0TESTPRIM1", Action: ActionSync})
	require.NoError(t, err)
	return res
}

func kinds(res DiscoverResult) map[string]model.CandidateKind {
	out := map[string]model.CandidateKind{}
	for _, r := range res.Correlations {
		out[r.CandidateID] = r.Kind
	}
	return out
}

func TestDiscoverSync_VariantsAndApprovedSimilar(t *testing.T) {
	f := newFixture(t)

	res := f.sync(t)

	assert.Equal(t, SourceSync, res.Source)
	assert.True(t, res.Exists)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, map[string]model.CandidateKind{
		"B0TESTVAR01": model.KindVariant,
		"B0TESTVAR02": model.KindVariant,
		"B0TESTSIM01": model.KindSimilar,
	}, kinds(res))
	require.NotNil(t, res.Stats)
	assert.Equal(t, SyncStats{Variants: 2, Similar: 1, Evaluated: 2, Rejected: 1}, *res.Stats)

	assert.Equal(t, 2, f.llm.Calls, "variants bypass the classifier")
	assert.Equal(t, []string{"alice-key"}, f.provider.Keys)

	for _, r := range res.Correlations {
		assert.Equal(t, "https://img/prim.jpg", r.SearchImageURL)
		assert.NotEqual(t, "B0TESTPRIM1", r.CandidateID)
		if r.Kind == model.KindVariant {
			assert.Equal(t, model.ProvenanceVariations, r.Provenance)
		} else {
			assert.Equal(t, model.ProvenanceFacetSearch, r.Provenance)
		}
	}
}

func TestDiscoverSync_IdempotentAndKeepsDecisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.sync(t)
	_, err := f.engine.PostFeedback(ctx, FeedbackRequest{
		Owner: owner, SearchID: "B0TESTPRIM1", CandidateID: "B0TESTSIM01",
		Action: FeedbackDecide, Decision: "declined", Reason: "different size",
	})
	require.NoError(t, err)

	second := f.sync(t)
	assert.Equal(t, first.Count, second.Count)

	row, err := f.store.Get(ctx, model.CorrelationKey{Owner: owner, SearchID: "B0TESTPRIM1", CandidateID: "B0TESTSIM01"})
	require.NoError(t, err)
	assert.Equal(t, model.DecisionDeclined, row.Decision)
	assert.Equal(t, "different size", row.DecisionReason)
}

func TestDiscoverSync_ExclusionWhenClassifierApprovesEverything(t *testing.T) {
	f := newFixture(t)
	f.gateway.SearchIDs = []string{"B0TESTPRIM1", "B0TESTVAR01", "B0TESTVAR02", "B0TESTSIM01"}
	f.llm.Approve = []string{"Acme Kettle 1.7L Black", "Acme Kettle 1.7L White", "Acme Kettle 1.7L", "Acme Kettle Red"}

	res := f.sync(t)

	k := kinds(res)
	assert.Equal(t, model.KindVariant, k["B0TESTVAR01"])
	assert.Equal(t, model.KindVariant, k["B0TESTVAR02"])
	assert.NotContains(t, k, "B0TESTPRIM1")
	assert.Equal(t, 1, f.llm.Calls)
}

func TestDiscoverSync_FailClosed(t *testing.T) {
	f := newFixture(t)
	f.llm.Err = errors.New("model overloaded")

	res := f.sync(t)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 0, res.Stats.Similar)
	assert.NotContains(t, kinds(res), "B0TESTSIM01")
}

func TestDiscoverSync_UsesEnabledProfile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SaveProfile(context.Background(), model.CriteriaProfile{
		Owner: owner, Criteria: "ACCEPT IF:\n- kettles only\nREJECT IF:\n- descalers", Enabled: true,
	}))

	f.sync(t)
	require.NotEmpty(t, f.llm.Prompts)
	assert.Contains(t, f.llm.Prompts[0], "kettles only")
}

func TestDiscoverSync_CredentialOverride(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Discover(context.Background(), DiscoverRequest{
		Owner: "bob", Identifier: "b0testprim1", Action: ActionSync, CredentialOverride: "bob-key",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob-key"}, f.provider.Keys)
}

func TestDiscoverSync_MissingCredential(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Discover(context.Background(), DiscoverRequest{Owner: "bob", Identifier: "B0TESTPRIM1", Action: ActionSync})
	assert.ErrorIs(t, err, model.ErrMissingCredential)
	assert.Zero(t, f.gateway.Lookups)
}

func TestDiscover_InvalidIdentifier(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"", "X0TESTPRIM1", "B0TEST", "B0TESTPRIM1X", "B0TEST-RIM1"} {
		_, err := f.engine.Discover(context.Background(), DiscoverRequest{Owner: owner, Identifier: id, Action: ActionSync})
		assert.ErrorIs(t, err, model.ErrInvalidIdentifier, id)
	}
	assert.Zero(t, f.gateway.Lookups)
}

func TestDiscoverSync_PrimaryNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Discover(context.Background(), DiscoverRequest{Owner: owner, Identifier: "B0UNKNOWN01", Action: ActionSync})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDiscoverSync_PrimaryLookupFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.LookupErr = model.Upstream("product lookup failed", errors.New("502"))

	_, err := f.engine.Discover(context.Background(), DiscoverRequest{Owner: owner, Identifier: "B0TESTPRIM1", Action: ActionSync})
	assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)
}

func TestDiscoverSync_SurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.engine.Discover(ctx, DiscoverRequest{Owner: owner, Identifier: "B0TESTPRIM1", Action: ActionSync})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
}

func TestDiscoverCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Discover(ctx, DiscoverRequest{Owner: owner, Identifier: "B0TESTPRIM1", Action: ActionCheck})
	require.NoError(t, err)
	assert.False(t, res.Exists)
	assert.NotNil(t, res.Correlations)
	assert.Empty(t, res.Correlations)
	assert.Nil(t, res.Stats)
	assert.Zero(t, f.gateway.Lookups)

	f.sync(t)
	res, err = f.engine.Discover(ctx, DiscoverRequest{Owner: owner, Identifier: "B0TESTPRIM1", Action: ActionCheck})
	require.NoError(t, err)
	assert.Equal(t, SourceStore, res.Source)
	assert.Equal(t, 3, res.Count)

	res, err = f.engine.Discover(ctx, DiscoverRequest{Owner: "bob", Identifier: "B0TESTPRIM1", Action: ActionCheck})
	require.NoError(t, err)
	assert.Zero(t, res.Count, "rows are owner scoped")
}

func TestPostFeedback_AcceptProbesEveryMarketplace(t *testing.T) {
	f := newFixture(t)
	f.sync(t)
	f.gateway.FailingProbe = map[model.Marketplace]bool{model.MarketplaceUK: true}

	row, err := f.engine.PostFeedback(context.Background(), FeedbackRequest{
		Owner: owner, SearchID: "B0TESTPRIM1", CandidateID: "B0TESTSIM01",
		Action: FeedbackDecide, Decision: "accepted",
	})
	require.NoError(t, err)

	assert.Len(t, f.gateway.Probes, 4)
	assert.Equal(t, model.DecisionAccepted, row.Decision)
	require.Len(t, row.Availability, 4)
	assert.Equal(t, model.Unknown, row.Availability[model.MarketplaceUK])
	assert.Equal(t, model.Available, row.Availability[model.MarketplaceUS])
	assert.NotNil(t, row.AvailabilityCheckedAt)
}

func TestPostFeedback_AcceptWithoutCredentialStillCommits(t *testing.T) {
	f := newFixture(t)
	f.sync(t)
	_, err := f.store.UpsertBatch(context.Background(), "bob", "B0TESTPRIM1", []model.Discovery{{CandidateID: "B0TESTSIM01", Kind: model.KindSimilar}})
	require.NoError(t, err)

	row, err := f.engine.PostFeedback(context.Background(), FeedbackRequest{
		Owner: "bob", SearchID: "B0TESTPRIM1", CandidateID: "B0TESTSIM01",
		Action: FeedbackDecide, Decision: "accepted",
	})
	require.NoError(t, err)
	assert.Equal(t, model.DecisionAccepted, row.Decision)
	assert.Empty(t, f.gateway.Probes)
	assert.Nil(t, row.Availability)
}

func TestPostFeedback_DecisionRequiresDiscoveryRow(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.PostFeedback(context.Background(), FeedbackRequest{
		Owner: owner, SearchID: "B0TESTPRIM1", CandidateID: "B0TESTSIM02",
		Action: FeedbackDecide, Decision: "declined",
	})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestPostFeedback_UndoTwice(t *testing.T) {
	f := newFixture(t)
	f.sync(t)
	ctx := context.Background()
	base := FeedbackRequest{Owner: owner, SearchID: "B0TESTPRIM1", CandidateID: "B0TESTSIM01"}

	decide := base
	decide.Action, decide.Decision = FeedbackDecide, "declined"
	_, err := f.engine.PostFeedback(ctx, decide)
	require.NoError(t, err)

	undo := base
	undo.Action = FeedbackUndo
	_, err = f.engine.PostFeedback(ctx, undo)
	require.NoError(t, err)
	row, err := f.engine.PostFeedback(ctx, undo)
	require.NoError(t, err)

	assert.Equal(t, model.DecisionNone, row.Decision)
	assert.Nil(t, row.DecidedAt)
}

func TestPostFeedback_MarkPublished(t *testing.T) {
	f := newFixture(t)
	f.sync(t)

	row, err := f.engine.PostFeedback(context.Background(), FeedbackRequest{
		Owner: owner, SearchID: "B0TESTPRIM1", CandidateID: "B0TESTVAR01",
		Action: FeedbackMarkPublished, Marketplace: "DE",
	})
	require.NoError(t, err)
	assert.Contains(t, row.Published, model.MarketplaceDE)
}

func TestPostFeedback_Validation(t *testing.T) {
	f := newFixture(t)
	f.sync(t)
	ctx := context.Background()

	cases := []FeedbackRequest{
		{Owner: owner, SearchID: "B0TESTPRIM1", CandidateID: "B0TESTSIM01", Action: FeedbackDecide, Decision: "maybe"},
		{Owner: owner, SearchID: "B0TESTPRIM1", CandidateID: "B0TESTSIM01", Action: FeedbackMarkPublished},
		{Owner: owner, SearchID: "B0TESTPRIM1", CandidateID: "B0TESTSIM01", Action: FeedbackMarkPublished, Marketplace: "jp"},
		{Owner: owner, SearchID: "B0TESTPRIM1", CandidateID: "B0TESTSIM01", Action: "delete"},
		{Owner: owner, SearchID: "B0TESTPRIM1", Action: FeedbackUndo},
		{SearchID: "B0TESTPRIM1", CandidateID: "B0TESTSIM01", Action: FeedbackUndo},
	}
	for _, req := range cases {
		_, err := f.engine.PostFeedback(ctx, req)
		assert.ErrorIs(t, err, model.ErrInvalidRequest, "%+v", req)
	}

	_, err := f.engine.PostFeedback(ctx, FeedbackRequest{Owner: owner, SearchID: "nope", CandidateID: "B0TESTSIM01", Action: FeedbackUndo})
	assert.ErrorIs(t, err, model.ErrInvalidIdentifier)
}

func TestGetFeedback(t *testing.T) {
	f := newFixture(t)
	f.sync(t)

	rows, err := f.engine.GetFeedback(context.Background(), owner, "B0TESTPRIM1")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestRegeneratePrompt_Threshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var rows []model.Discovery
	for _, id := range []string{"B0CANDID001", "B0CANDID002", "B0CANDID003", "B0CANDID004", "B0CANDID005"} {
		rows = append(rows, model.Discovery{CandidateID: id, Title: id, Kind: model.KindSimilar})
	}
	_, err := f.store.UpsertBatch(ctx, owner, "B0TESTPRIM1", rows)
	require.NoError(t, err)

	decide := func(id string) {
		_, err := f.engine.PostFeedback(ctx, FeedbackRequest{
			Owner: owner, SearchID: "B0TESTPRIM1", CandidateID: id, Action: FeedbackDecide, Decision: "declined",
		})
		require.NoError(t, err)
	}
	for _, r := range rows[:4] {
		decide(r.CandidateID)
	}

	res, err := f.engine.RegeneratePrompt(ctx, owner)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 4, res.BasedOnCount)
	assert.Zero(t, f.llm.Calls)

	decide(rows[4].CandidateID)
	f.llm.Approve = nil
	res, err = f.engine.RegeneratePrompt(ctx, owner)
	// MockLLM answers NO, which is not a criteria block.
	assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)
	assert.Equal(t, 1, f.llm.Calls, "five decisions trigger generation")
}

func TestProfileToggle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Profile(ctx, owner)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = f.engine.SetProfileEnabled(ctx, owner, false)
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, f.store.SaveProfile(ctx, model.CriteriaProfile{Owner: owner, Criteria: "ACCEPT IF:\nREJECT IF:", Enabled: true}))
	p, err := f.engine.SetProfileEnabled(ctx, owner, false)
	require.NoError(t, err)
	assert.False(t, p.Enabled)
}

func TestNewEngine_Validation(t *testing.T) {
	cfg := config.Default()
	cfg.Discovery.IdentifierPattern = "("
	_, err := NewEngine(cfg, store.NewMemoryStore(), &MockProvider{}, staticResolver{}, &MockLLM{})
	assert.Error(t, err)

	cfg = config.Default()
	cfg.Gateway.Marketplaces = []string{"us", "fr"}
	_, err = NewEngine(cfg, store.NewMemoryStore(), &MockProvider{}, staticResolver{}, &MockLLM{})
	assert.Error(t, err)
}

func TestParseAction(t *testing.T) {
	a, ok := ParseAction("")
	assert.True(t, ok)
	assert.Equal(t, ActionCheck, a)

	a, ok = ParseAction("SYNC")
	assert.True(t, ok)
	assert.Equal(t, ActionSync, a)

	_, ok = ParseAction("refresh")
	assert.False(t, ok)
}
