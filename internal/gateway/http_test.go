package gateway

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/correlator/internal/config"
	"github.com/agenthands/correlator/internal/core/model"
	"github.com/agenthands/correlator/internal/logging"
)

type fakeProvider struct {
	mu          sync.Mutex
	products    map[string]model.ProductRecord
	search      []string
	searchFails bool
	missingIn   map[string]bool // marketplace -> listing absent
	batches     [][]string
	keys        []string
	queries     []string
	extra       []model.ProductRecord // returned on every product call
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/product", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		ids := strings.Split(q.Get("ids"), ",")

		f.mu.Lock()
		f.batches = append(f.batches, ids)
		f.keys = append(f.keys, r.Header.Get(KeyHeader))
		f.queries = append(f.queries, r.URL.RawQuery)
		f.mu.Unlock()

		if f.missingIn[q.Get("domain")] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var resp productResponse
		for _, id := range ids {
			if p, ok := f.products[id]; ok {
				resp.Products = append(resp.Products, p)
			}
		}
		resp.Products = append(resp.Products, f.extra...)
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if f.searchFails {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(searchResponse{IDs: f.search})
	})
	return mux
}

func newTestGateway(t *testing.T, f *fakeProvider, mutate func(*config.GatewayConfig)) Gateway {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	cfg := config.Default().Gateway
	cfg.BaseURL = srv.URL
	cfg.RPS = 1000
	cfg.Burst = 1000
	cfg.Timeout = config.Duration{Duration: 2 * time.Second}
	if mutate != nil {
		mutate(&cfg)
	}

	p, err := NewHTTPProvider(cfg)
	require.NoError(t, err)
	return p.ForKey("owner-key")
}

func TestLookup_BatchesAndOmitsUnknown(t *testing.T) {
	f := &fakeProvider{products: map[string]model.ProductRecord{
		"B000000001": {ID: "B000000001", Title: "One"},
		"B000000003": {ID: "B000000003", Title: "Three"},
	}}
	gw := newTestGateway(t, f, func(c *config.GatewayConfig) { c.BatchSize = 2 })

	records, err := gw.Lookup(context.Background(), []string{"B000000001", "B000000002", "B000000003", "B000000001"})
	require.NoError(t, err)

	assert.Len(t, records, 2)
	assert.Equal(t, [][]string{{"B000000001", "B000000002"}, {"B000000003"}}, f.batches, "duplicates are dropped and batches honor the size")
	for _, k := range f.keys {
		assert.Equal(t, "owner-key", k)
	}
	for _, q := range f.queries {
		assert.NotContains(t, q, "owner-key", "credential stays out of the URL")
	}
}

func TestLookup_TransportFailureIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := config.Default().Gateway
	cfg.BaseURL = srv.URL
	p, err := NewHTTPProvider(cfg)
	require.NoError(t, err)

	_, err = p.ForKey("k").Lookup(context.Background(), []string{"B000000001"})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)
}

func TestLookup_EmptyInputMakesNoCall(t *testing.T) {
	f := &fakeProvider{}
	gw := newTestGateway(t, f, nil)

	records, err := gw.Lookup(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, f.batches)
}

func TestSearchByFacets(t *testing.T) {
	f := &fakeProvider{search: []string{"B1", "B2", "B2", "B3"}}
	gw := newTestGateway(t, f, func(c *config.GatewayConfig) { c.PageSize = 2 })

	ids := gw.SearchByFacets(context.Background(), "Acme", 42)
	assert.Equal(t, []string{"B1", "B2"}, ids)
}

func TestSearchByFacets_FailureYieldsEmpty(t *testing.T) {
	f := &fakeProvider{searchFails: true}
	gw := newTestGateway(t, f, nil)

	ids := gw.SearchByFacets(context.Background(), "Acme", 42)
	assert.Empty(t, ids)
}

func TestAvailability(t *testing.T) {
	f := &fakeProvider{
		products:  map[string]model.ProductRecord{"B000000001": {ID: "B000000001", Title: "One"}},
		missingIn: map[string]bool{"de": true},
	}
	gw := newTestGateway(t, f, nil)
	ctx := context.Background()

	ok, err := gw.Availability(ctx, model.MarketplaceUS, "B000000001")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gw.Availability(ctx, model.MarketplaceDE, "B000000001")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = gw.Availability(ctx, model.MarketplaceUS, "B000000009")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewHTTPProvider_Validation(t *testing.T) {
	cfg := config.Default().Gateway
	_, err := NewHTTPProvider(cfg)
	assert.Error(t, err, "base url is required")

	cfg.BaseURL = "http://localhost"
	cfg.Marketplace = "fr"
	_, err = NewHTTPProvider(cfg)
	assert.Error(t, err)
}

func TestBreaker_NotFoundDoesNotTrip(t *testing.T) {
	f := &fakeProvider{missingIn: map[string]bool{"us": true}}
	gw := newTestGateway(t, f, nil)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		records, err := gw.Lookup(ctx, []string{"B000000001"})
		require.NoError(t, err)
		assert.Empty(t, records)
	}
	assert.Len(t, f.batches, 15, "every call reached the provider")
}

func TestBreaker_OpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := config.Default().Gateway
	cfg.BaseURL = srv.URL
	cfg.RPS = 1000
	cfg.Burst = 1000
	p, err := NewHTTPProvider(cfg)
	require.NoError(t, err)
	gw := p.ForKey("k")

	for i := 0; i < 15; i++ {
		_, err := gw.Lookup(context.Background(), []string{"B000000001"})
		assert.ErrorIs(t, err, model.ErrUpstreamUnavailable)
	}
	assert.Equal(t, int32(10), calls.Load(), "open breaker short-circuits further requests")
}

func TestLookup_DropsRecordsThatWereNotRequested(t *testing.T) {
	f := &fakeProvider{
		products: map[string]model.ProductRecord{"B000000001": {ID: "B000000001", Title: "One"}},
		extra:    []model.ProductRecord{{ID: "B000000099", Title: "Stowaway"}, {ID: "", Title: "Blank"}},
	}
	gw := newTestGateway(t, f, nil)

	records, err := gw.Lookup(context.Background(), []string{"B000000001"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "B000000001", records[0].ID)
}

func TestTransportFailure_DoesNotLogCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logging.Init(logging.Config{Level: "info", Format: "json", Output: &buf})
	defer logging.Init(logging.Config{Level: "info"})

	cfg := config.Default().Gateway
	cfg.BaseURL = srv.URL
	cfg.Timeout = config.Duration{Duration: 50 * time.Millisecond}
	p, err := NewHTTPProvider(cfg)
	require.NoError(t, err)
	gw := p.ForKey("super-secret-key")

	ids := gw.SearchByFacets(context.Background(), "Acme", 42)
	assert.Empty(t, ids)

	_, err = gw.Lookup(context.Background(), []string{"B000000001"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "super-secret-key")

	out := buf.String()
	assert.Contains(t, out, "facet search failed")
	assert.NotContains(t, out, "super-secret-key")
}

func TestBreaker_RejectedKeyDoesNotAffectOtherOwners(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(KeyHeader) != "good-key" {
			http.Error(w, "invalid key", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(productResponse{Products: []model.ProductRecord{{ID: "B000000001", Title: "One"}}})
	}))
	defer srv.Close()

	cfg := config.Default().Gateway
	cfg.BaseURL = srv.URL
	cfg.RPS = 1000
	cfg.Burst = 1000
	p, err := NewHTTPProvider(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	bad := p.ForKey("revoked-key")
	for i := 0; i < 12; i++ {
		_, err := bad.Lookup(ctx, []string{"B000000001"})
		var clientErr *ClientError
		require.ErrorAs(t, err, &clientErr)
		assert.Equal(t, http.StatusUnauthorized, clientErr.StatusCode)
	}

	records, err := p.ForKey("good-key").Lookup(ctx, []string{"B000000001"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
