package personalize

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agenthands/correlator/internal/config"
	"github.com/agenthands/correlator/internal/core/common"
	"github.com/agenthands/correlator/internal/core/model"
	"github.com/agenthands/correlator/internal/llm"
	"github.com/agenthands/correlator/internal/logging"
	"github.com/agenthands/correlator/internal/metrics"
)

const (
	DefaultMinDecisions  = 5
	DefaultSamplePerSide = 20
)

// Store is the slice of persistence the personalizer needs.
type Store interface {
	DecidedHistory(ctx context.Context, owner string) ([]model.CorrelationRecord, error)
	SaveProfile(ctx context.Context, profile model.CriteriaProfile) error
}

type Result struct {
	Success      bool   `json:"success"`
	CriteriaText string `json:"criteria_text,omitempty"`
	BasedOnCount int    `json:"based_on_count"`
	Message      string `json:"message,omitempty"`
}

type criteriaReply struct {
	Criteria string `json:"criteria"`
}

type Personalizer struct {
	LLM             llm.LLMClient
	Store           Store
	Prompts         config.PersonalizerPrompts
	DefaultCriteria string
	Now             func() time.Time
}

func NewPersonalizer(llmClient llm.LLMClient, s Store, prompts config.PersonalizerPrompts, defaultCriteria string) *Personalizer {
	if prompts.MinDecisions <= 0 {
		prompts.MinDecisions = DefaultMinDecisions
	}
	if prompts.SamplePerSide <= 0 {
		prompts.SamplePerSide = DefaultSamplePerSide
	}
	if strings.TrimSpace(defaultCriteria) == "" {
		defaultCriteria = config.DefaultCriteria
	}
	return &Personalizer{
		LLM:             llmClient,
		Store:           s,
		Prompts:         prompts,
		DefaultCriteria: defaultCriteria,
		Now:             func() time.Time { return time.Now().UTC() },
	}
}

// Regenerate rewrites the default criteria from the owner's decisions and
// stores the result as the owner's enabled profile. Too little history is
// reported in the result, not as an error.
func (p *Personalizer) Regenerate(ctx context.Context, owner string) (Result, error) {
	history, err := p.Store.DecidedHistory(ctx, owner)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load decision history: %w", err)
	}

	count := len(history)
	if count < p.Prompts.MinDecisions {
		metrics.PromptRegenerations.WithLabelValues("not_enough_data").Inc()
		return Result{
			BasedOnCount: count,
			Message:      fmt.Sprintf("not enough data: %d of %d decisions recorded", count, p.Prompts.MinDecisions),
		}, nil
	}

	var accepted, declined []model.CorrelationRecord
	for _, r := range history {
		switch r.Decision {
		case model.DecisionAccepted:
			if len(accepted) < p.Prompts.SamplePerSide {
				accepted = append(accepted, r)
			}
		case model.DecisionDeclined:
			if len(declined) < p.Prompts.SamplePerSide {
				declined = append(declined, r)
			}
		}
	}

	prompt := fmt.Sprintf(p.Prompts.Regenerate,
		p.DefaultCriteria,
		formatExamples(accepted),
		formatExamples(declined),
		tallyReasons(history),
	)

	response, err := p.LLM.Generate(ctx, prompt)
	if err != nil {
		metrics.PromptRegenerations.WithLabelValues("error").Inc()
		return Result{}, model.Upstream("criteria generation failed", err)
	}

	criteria := extractCriteria(response)
	if !wellFormed(criteria) {
		metrics.PromptRegenerations.WithLabelValues("malformed").Inc()
		logging.Warn().Str("owner", owner).Str("reply", common.Truncate(response, 200)).Msg("generated criteria lack ACCEPT IF / REJECT IF sections")
		return Result{}, model.Upstream("generated criteria are missing the ACCEPT IF / REJECT IF sections", nil)
	}

	profile := model.CriteriaProfile{
		Owner:         owner,
		Criteria:      criteria,
		Enabled:       true,
		BasedOnCount:  count,
		RegeneratedAt: p.Now(),
	}
	if err := p.Store.SaveProfile(ctx, profile); err != nil {
		return Result{}, fmt.Errorf("failed to save criteria profile: %w", err)
	}

	metrics.PromptRegenerations.WithLabelValues("success").Inc()
	logging.Info().Str("owner", owner).Int("based_on", count).Msg("criteria profile regenerated")

	return Result{Success: true, CriteriaText: criteria, BasedOnCount: count}, nil
}

// extractCriteria prefers the JSON envelope and falls back to the raw reply.
func extractCriteria(response string) string {
	if reply, err := common.ParseJSON[criteriaReply](response); err == nil && strings.TrimSpace(reply.Criteria) != "" {
		return strings.TrimSpace(reply.Criteria)
	}
	return strings.TrimSpace(response)
}

func wellFormed(criteria string) bool {
	upper := strings.ToUpper(criteria)
	return strings.Contains(upper, config.AcceptHeader) && strings.Contains(upper, config.RejectHeader)
}

func formatExamples(records []model.CorrelationRecord) string {
	if len(records) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, r := range records {
		fmt.Fprintf(&sb, "- ORIGINAL: %s | CANDIDATE: %s\n", orID(r.SearchTitle, r.SearchID), orID(r.Title, r.CandidateID))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// tallyReasons counts free-text decline reasons, most frequent first.
func tallyReasons(history []model.CorrelationRecord) string {
	counts := map[string]int{}
	for _, r := range history {
		if r.Decision != model.DecisionDeclined {
			continue
		}
		reason := strings.ToLower(strings.TrimSpace(r.DecisionReason))
		if reason == "" {
			continue
		}
		counts[reason]++
	}
	if len(counts) == 0 {
		return "(none)"
	}

	reasons := make([]string, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool {
		if counts[reasons[i]] != counts[reasons[j]] {
			return counts[reasons[i]] > counts[reasons[j]]
		}
		return reasons[i] < reasons[j]
	})

	var sb strings.Builder
	for _, r := range reasons {
		fmt.Fprintf(&sb, "- %s (%d)\n", r, counts[r])
	}
	return strings.TrimRight(sb.String(), "\n")
}

func orID(title, id string) string {
	if strings.TrimSpace(title) == "" {
		return id
	}
	return title
}
