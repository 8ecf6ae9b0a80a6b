package llm

import (
	"context"
)

// LLMClient is a single-turn completion: one prompt in, one text reply out.
type LLMClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
