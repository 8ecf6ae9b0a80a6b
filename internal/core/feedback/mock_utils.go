package feedback

import (
	"context"
	"sync"

	"github.com/agenthands/correlator/internal/core/model"
)

type MockGateway struct {
	mu       sync.Mutex
	Listed   map[model.Marketplace]bool
	Failing  map[model.Marketplace]error
	ProbeLog []model.Marketplace
}

func (m *MockGateway) Lookup(ctx context.Context, ids []string) ([]model.ProductRecord, error) {
	return nil, nil
}

func (m *MockGateway) SearchByFacets(ctx context.Context, brand string, categoryID int64) []string {
	return nil
}

func (m *MockGateway) Availability(ctx context.Context, marketplace model.Marketplace, id string) (bool, error) {
	m.mu.Lock()
	m.ProbeLog = append(m.ProbeLog, marketplace)
	m.mu.Unlock()

	if err := m.Failing[marketplace]; err != nil {
		return false, err
	}
	return m.Listed[marketplace], nil
}
