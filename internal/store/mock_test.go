package store

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type MockDriver struct {
	QueryExecuted string
	QueryParams   map[string]interface{}
	Queries       []string
	MockResult    neo4j.EagerResult
	ResultQueue   []neo4j.EagerResult
	ErrQueue      []error
	Err           error
	IndicesBuilt  bool
}

func (m *MockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	m.QueryExecuted = query
	m.QueryParams = params
	m.Queries = append(m.Queries, query)

	if len(m.ErrQueue) > 0 {
		err := m.ErrQueue[0]
		m.ErrQueue = m.ErrQueue[1:]
		if err != nil {
			return neo4j.EagerResult{}, err
		}
	}
	if m.Err != nil {
		return neo4j.EagerResult{}, m.Err
	}
	if len(m.ResultQueue) > 0 {
		res := m.ResultQueue[0]
		m.ResultQueue = m.ResultQueue[1:]
		return res, nil
	}
	return m.MockResult, nil
}

func (m *MockDriver) BuildIndices(ctx context.Context) error {
	m.IndicesBuilt = true
	return nil
}

func (m *MockDriver) Close(ctx context.Context) error {
	return nil
}

func propsResult(props ...map[string]interface{}) neo4j.EagerResult {
	res := neo4j.EagerResult{Keys: []string{"props"}}
	for _, p := range props {
		res.Records = append(res.Records, &neo4j.Record{Keys: []string{"props"}, Values: []any{p}})
	}
	return res
}

func idResult(id string) neo4j.EagerResult {
	return neo4j.EagerResult{
		Keys:    []string{"id"},
		Records: []*neo4j.Record{{Keys: []string{"id"}, Values: []any{id}}},
	}
}
