package classify

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/agenthands/correlator/internal/config"
	"github.com/agenthands/correlator/internal/core/common"
	"github.com/agenthands/correlator/internal/core/model"
	"github.com/agenthands/correlator/internal/llm"
	"github.com/agenthands/correlator/internal/logging"
	"github.com/agenthands/correlator/internal/metrics"
)

const DefaultConcurrency = 10

// Policy carries the criteria block for one run. Empty Criteria means the
// default accept/reject block.
type Policy struct {
	Criteria string
}

// PolicyFor uses the owner's profile when it is enabled.
func PolicyFor(profile *model.CriteriaProfile) Policy {
	return Policy{Criteria: profile.Active()}
}

type Verdict struct {
	Candidate model.Candidate
	Approved  bool
	Err       error
}

type Classifier struct {
	LLM         llm.LLMClient
	Prompts     config.ClassifierPrompts
	Concurrency int
}

func NewClassifier(llmClient llm.LLMClient, prompts config.ClassifierPrompts) *Classifier {
	concurrency := prompts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Classifier{
		LLM:         llmClient,
		Prompts:     prompts,
		Concurrency: concurrency,
	}
}

// Classify asks whether candidate is the same product as primary. Only an
// unambiguous YES approves.
func (c *Classifier) Classify(ctx context.Context, primary model.ProductRecord, candidate model.Candidate, policy Policy) (bool, error) {
	prompt := fmt.Sprintf(c.Prompts.Decision,
		primary.Title, orUnknown(primary.Brand),
		candidate.Title, orUnknown(candidate.Brand),
		c.criteria(policy),
	)

	response, err := c.LLM.Generate(ctx, prompt)
	if err != nil {
		return false, fmt.Errorf("failed to generate similarity verdict: %w", err)
	}

	approved, err := common.ParseVerdict(response)
	if err != nil {
		return false, fmt.Errorf("failed to parse similarity verdict: %w", err)
	}
	return approved, nil
}

// ClassifyBatch classifies every candidate with at most Concurrency calls in
// flight. Verdicts keep the input order; a failed call is a decline.
func (c *Classifier) ClassifyBatch(ctx context.Context, primary model.ProductRecord, candidates []model.Candidate, policy Policy) []Verdict {
	verdicts := make([]Verdict, len(candidates))

	var g errgroup.Group
	g.SetLimit(c.Concurrency)

	for i, candidate := range candidates {
		i, candidate := i, candidate
		g.Go(func() error {
			metrics.ClassifierInflight.Inc()
			defer metrics.ClassifierInflight.Dec()

			approved, err := c.Classify(ctx, primary, candidate, policy)
			verdicts[i] = Verdict{Candidate: candidate, Approved: approved && err == nil, Err: err}

			switch {
			case err != nil:
				metrics.ClassifierVerdicts.WithLabelValues("error").Inc()
				logging.Warn().Err(err).Str("primary", primary.ID).Str("candidate", candidate.ID).Msg("classification failed, treating as decline")
			case approved:
				metrics.ClassifierVerdicts.WithLabelValues("approved").Inc()
			default:
				metrics.ClassifierVerdicts.WithLabelValues("declined").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	return verdicts
}

// Approved returns the approved candidates in input order.
func Approved(verdicts []Verdict) []model.Candidate {
	var out []model.Candidate
	for _, v := range verdicts {
		if v.Approved {
			out = append(out, v.Candidate)
		}
	}
	return out
}

func (c *Classifier) criteria(policy Policy) string {
	if s := strings.TrimSpace(policy.Criteria); s != "" {
		return s
	}
	if s := strings.TrimSpace(c.Prompts.DefaultCriteria); s != "" {
		return s
	}
	return config.DefaultCriteria
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
