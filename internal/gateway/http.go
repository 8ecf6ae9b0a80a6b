package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/agenthands/correlator/internal/config"
	"github.com/agenthands/correlator/internal/core/model"
	"github.com/agenthands/correlator/internal/logging"
	"github.com/agenthands/correlator/internal/metrics"
)

const breakerName = "product-data"

// KeyHeader carries the product-data credential. It is never put in the URL.
const KeyHeader = "X-Api-Key"

// HTTPProvider owns the HTTP client, rate limiter and circuit breaker shared by
// every per-credential gateway.
//
// Expected endpoints:
//
//	GET {base}/product?domain=..&ids=A,B,C  -> {"products":[...]}
//	GET {base}/search?domain=..&brand=..&category=..&per_page=..  -> {"ids":[...]}
//
// Both authenticate with the KeyHeader request header.
type HTTPProvider struct {
	baseURL     string
	client      *http.Client
	limiter     *rate.Limiter
	cb          *gobreaker.CircuitBreaker[[]byte]
	batchSize   int
	pageSize    int
	marketplace model.Marketplace
}

var _ Provider = (*HTTPProvider)(nil)

func NewHTTPProvider(cfg config.GatewayConfig) (*HTTPProvider, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("gateway base_url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid gateway base_url: %w", err)
	}
	marketplace, ok := model.ParseMarketplace(cfg.Marketplace)
	if !ok {
		return nil, fmt.Errorf("unsupported marketplace %q", cfg.Marketplace)
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		// Unknown ids and rejected credentials are answers, not outages.
		// The breaker is shared by every owner, so one bad key must not open it.
		IsSuccessful: func(err error) bool {
			var clientErr *ClientError
			return err == nil || errors.Is(err, errNotFound) || errors.As(err, &clientErr)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &HTTPProvider{
		baseURL:     strings.TrimRight(base, "/"),
		client:      &http.Client{Timeout: cfg.Timeout.Duration},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		cb:          cb,
		batchSize:   cfg.BatchSize,
		pageSize:    cfg.PageSize,
		marketplace: marketplace,
	}, nil
}

func (p *HTTPProvider) ForKey(key string) Gateway {
	return &HTTPGateway{provider: p, key: key}
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// HTTPGateway is an HTTPProvider bound to one credential.
type HTTPGateway struct {
	provider *HTTPProvider
	key      string
}

var _ Gateway = (*HTTPGateway)(nil)

type productResponse struct {
	Products []model.ProductRecord `json:"products"`
}

type searchResponse struct {
	IDs []string `json:"ids"`
}

func (g *HTTPGateway) Lookup(ctx context.Context, ids []string) ([]model.ProductRecord, error) {
	return g.lookupIn(ctx, g.provider.marketplace, dedupe(ids))
}

func (g *HTTPGateway) lookupIn(ctx context.Context, marketplace model.Marketplace, ids []string) ([]model.ProductRecord, error) {
	var records []model.ProductRecord
	batch := g.provider.batchSize

	for i := 0; i < len(ids); i += batch {
		end := i + batch
		if end > len(ids) {
			end = len(ids)
		}

		q := url.Values{}
		q.Set("domain", string(marketplace))
		q.Set("ids", strings.Join(ids[i:end], ","))

		body, err := g.get(ctx, "product", "/product", q)
		if err != nil {
			return nil, model.Upstream("product lookup failed", err)
		}
		if body == nil {
			continue
		}

		var resp productResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, model.Upstream("product lookup returned malformed payload", err)
		}
		requested := make(map[string]struct{}, end-i)
		for _, id := range ids[i:end] {
			requested[id] = struct{}{}
		}
		for _, r := range resp.Products {
			if _, ok := requested[r.ID]; !ok {
				continue
			}
			records = append(records, r)
		}
	}
	return records, nil
}

func (g *HTTPGateway) SearchByFacets(ctx context.Context, brand string, categoryID int64) []string {
	q := url.Values{}
	q.Set("domain", string(g.provider.marketplace))
	q.Set("brand", brand)
	q.Set("category", strconv.FormatInt(categoryID, 10))
	q.Set("per_page", strconv.Itoa(g.provider.pageSize))

	body, err := g.get(ctx, "search", "/search", q)
	if err != nil {
		logging.Warn().Err(err).Str("brand", brand).Int64("category", categoryID).Msg("facet search failed, continuing without similar candidates")
		return nil
	}
	if body == nil {
		return nil
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		logging.Warn().Err(err).Str("brand", brand).Int64("category", categoryID).Msg("facet search returned malformed payload")
		return nil
	}

	ids := dedupe(resp.IDs)
	if len(ids) > g.provider.pageSize {
		ids = ids[:g.provider.pageSize]
	}
	return ids
}

func (g *HTTPGateway) Availability(ctx context.Context, marketplace model.Marketplace, id string) (bool, error) {
	records, err := g.lookupIn(ctx, marketplace, []string{id})
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if r.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// get returns the body of a 200 response, nil for 404, and an error otherwise.
func (g *HTTPGateway) get(ctx context.Context, operation, path string, q url.Values) ([]byte, error) {
	if err := g.provider.limiter.Wait(ctx); err != nil {
		metrics.GatewayRequests.WithLabelValues(operation, "rate_limited").Inc()
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := g.provider.baseURL + path + "?" + q.Encode()

	body, err := g.provider.cb.Execute(func() ([]byte, error) {
		return g.do(ctx, endpoint)
	})
	var clientErr *ClientError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.GatewayRequests.WithLabelValues(operation, "rejected").Inc()
		return nil, err
	case errors.Is(err, errNotFound):
		metrics.GatewayRequests.WithLabelValues(operation, "not_found").Inc()
		return nil, nil
	case errors.As(err, &clientErr):
		metrics.GatewayRequests.WithLabelValues(operation, "client_error").Inc()
		return nil, err
	case err != nil:
		metrics.GatewayRequests.WithLabelValues(operation, "failure").Inc()
		return nil, err
	}
	metrics.GatewayRequests.WithLabelValues(operation, "success").Inc()
	return body, nil
}

var errNotFound = errors.New("not found")

// ClientError is a 4xx reply other than 404, e.g. a revoked or invalid key.
type ClientError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("provider rejected request with %s: %s", e.Status, e.Body)
}

func (g *HTTPGateway) do(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(KeyHeader, g.key)

	resp, err := g.provider.client.Do(req)
	if err != nil {
		// *url.Error repeats the whole URL; keep only the cause
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ClientError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(payload))}
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("provider returned %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
