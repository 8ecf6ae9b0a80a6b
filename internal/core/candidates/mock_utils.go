package candidates

import (
	"context"
	"sync"

	"github.com/agenthands/correlator/internal/core/model"
)

type MockGateway struct {
	mu          sync.Mutex
	Products    map[string]model.ProductRecord
	SearchIDs   []string
	LookupErr   error
	LookupCalls [][]string
	SearchCalls int
}

func (m *MockGateway) Lookup(ctx context.Context, ids []string) ([]model.ProductRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LookupCalls = append(m.LookupCalls, ids)
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
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchCalls++
	return m.SearchIDs
}

func (m *MockGateway) Availability(ctx context.Context, marketplace model.Marketplace, id string) (bool, error) {
	return false, nil
}
