package personalize

import (
	"context"
)

type MockLLMClient struct {
	Response string
	Err      error
	Prompt   string
	Calls    int
}

func (m *MockLLMClient) Generate(ctx context.Context, prompt string) (string, error) {
	m.Calls++
	m.Prompt = prompt
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}
