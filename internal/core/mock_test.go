package core

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/agenthands/correlator/internal/core/model"
	"github.com/agenthands/correlator/internal/gateway"
)

type MockGateway struct {
	mu           sync.Mutex
	Products     map[string]model.ProductRecord
	SearchIDs    []string
	LookupErr    error
	FailingProbe map[model.Marketplace]bool
	Probes       []model.Marketplace
	Lookups      int
}

func (m *MockGateway) Lookup(ctx context.Context, ids []string) ([]model.ProductRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lookups++
	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
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
	m.mu.Lock()
	m.Probes = append(m.Probes, marketplace)
	m.mu.Unlock()
	if m.FailingProbe[marketplace] {
		return false, errors.New("probe timed out")
	}
	return true, nil
}

type MockProvider struct {
	Gateway *MockGateway
	Keys    []string
}

func (p *MockProvider) ForKey(key string) gateway.Gateway {
	p.Keys = append(p.Keys, key)
	return p.Gateway
}

// MockLLM approves candidates whose title appears in Approve.
type MockLLM struct {
	mu      sync.Mutex
	Approve []string
	Err     error
	Calls   int
	Prompts []string
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	for _, title := range m.Approve {
		if strings.Contains(prompt, "Title: "+title+"\n") {
			return "YES", nil
		}
	}
	return "NO", nil
}

type staticResolver map[string]string

func (r staticResolver) Credential(ctx context.Context, owner, service string) (string, error) {
	return r[owner], nil
}
