package server

import (
	"context"
	"strings"

	"github.com/agenthands/correlator/internal/core/model"
	"github.com/agenthands/correlator/internal/gateway"
)

type MockGateway struct {
	Products  map[string]model.ProductRecord
	SearchIDs []string
}

func (m *MockGateway) Lookup(ctx context.Context, ids []string) ([]model.ProductRecord, error) {
	var out []model.ProductRecord
	for _, id := range ids {
		if p, ok := m.Products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockGateway) SearchByFacets(ctx context.Context, brand string, categoryID int64) []string {
	return m.SearchIDs
}

func (m *MockGateway) Availability(ctx context.Context, marketplace model.Marketplace, id string) (bool, error) {
	return marketplace != model.MarketplaceDE, nil
}

type MockProvider struct {
	Gateway *MockGateway
}

func (p *MockProvider) ForKey(key string) gateway.Gateway {
	return p.Gateway
}

type MockLLMClient struct {
	Approve string
}

func (m *MockLLMClient) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "Title: "+m.Approve+"\n") {
		return "YES", nil
	}
	return "NO", nil
}

type staticResolver map[string]string

func (r staticResolver) Credential(ctx context.Context, owner, service string) (string, error) {
	return r[owner], nil
}
