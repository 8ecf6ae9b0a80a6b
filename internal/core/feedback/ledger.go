package feedback

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agenthands/correlator/internal/core/model"
	"github.com/agenthands/correlator/internal/gateway"
	"github.com/agenthands/correlator/internal/logging"
	"github.com/agenthands/correlator/internal/metrics"
	"github.com/agenthands/correlator/internal/store"
)

const maxProbeConcurrency = 4

// Ledger owns the feedback half of correlation rows.
type Ledger struct {
	Store        store.CorrelationStore
	Marketplaces []model.Marketplace
	Now          func() time.Time
}

func NewLedger(s store.CorrelationStore, marketplaces []model.Marketplace) *Ledger {
	if len(marketplaces) == 0 {
		marketplaces = model.Marketplaces
	}
	return &Ledger{
		Store:        s,
		Marketplaces: marketplaces,
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) List(ctx context.Context, owner, searchID string) ([]model.CorrelationRecord, error) {
	return l.Store.CheckExisting(ctx, owner, searchID)
}

// SetDecision commits the decision, then on acceptance probes availability
// through gw when one is given. Probe problems never fail the call.
func (l *Ledger) SetDecision(ctx context.Context, key model.CorrelationKey, decision model.Decision, reason string, gw gateway.Gateway) (model.CorrelationRecord, error) {
	if decision != model.DecisionAccepted && decision != model.DecisionDeclined {
		return model.CorrelationRecord{}, model.InvalidRequest("decision must be accepted or declined")
	}
	if decision == model.DecisionAccepted {
		reason = ""
	}

	if err := l.Store.SetDecision(ctx, key, decision, reason, l.Now()); err != nil {
		return model.CorrelationRecord{}, err
	}

	if decision == model.DecisionAccepted && gw != nil {
		availability := l.Probe(ctx, gw, key.CandidateID)
		if err := l.Store.SetAvailability(ctx, key, availability, l.Now()); err != nil {
			logging.Warn().Err(err).Str("candidate", key.CandidateID).Msg("failed to record availability")
		}
	}

	return l.Store.Get(ctx, key)
}

// Undo clears the decision. Undoing an undecided row succeeds.
func (l *Ledger) Undo(ctx context.Context, key model.CorrelationKey) error {
	return l.Store.ClearDecision(ctx, key)
}

func (l *Ledger) MarkPublished(ctx context.Context, key model.CorrelationKey, marketplace model.Marketplace) error {
	if _, ok := model.ParseMarketplace(string(marketplace)); !ok {
		return model.InvalidRequest("unsupported marketplace %q", marketplace)
	}
	return l.Store.MarkPublished(ctx, key, marketplace, l.Now())
}

// Probe checks every marketplace once. A failed check records Unknown.
func (l *Ledger) Probe(ctx context.Context, gw gateway.Gateway, candidateID string) map[model.Marketplace]model.AvailabilityState {
	states := make([]model.AvailabilityState, len(l.Marketplaces))

	var g errgroup.Group
	g.SetLimit(maxProbeConcurrency)

	for i, m := range l.Marketplaces {
		i, m := i, m
		g.Go(func() error {
			ok, err := gw.Availability(ctx, m, candidateID)
			switch {
			case err != nil:
				logging.Warn().Err(err).Str("candidate", candidateID).Str("marketplace", string(m)).Msg("availability probe failed")
				states[i] = model.Unknown
			case ok:
				states[i] = model.Available
			default:
				states[i] = model.Unavailable
			}
			metrics.AvailabilityProbes.WithLabelValues(string(m), string(states[i])).Inc()
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[model.Marketplace]model.AvailabilityState, len(states))
	for i, m := range l.Marketplaces {
		out[m] = states[i]
	}
	return out
}
