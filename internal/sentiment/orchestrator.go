package sentiment

import (
	"context"
	"sync"
	"time"

	"github.com/bizarik/brkTrd-zr0/internal/config"
	"github.com/bizarik/brkTrd-zr0/internal/gateway"
	"github.com/bizarik/brkTrd-zr0/internal/models"
	"github.com/bizarik/brkTrd-zr0/internal/observ"
)

// Orchestrator fans one headline out to every enabled model and collects
// the votes that come back in time. A model that errors, times out, or is
// cancelled simply contributes no vote; consensus runs on whatever arrived.
type Orchestrator struct {
	scorer  gateway.ModelScorer
	catalog *Catalog
	cfgFn   func() config.Sentiment
}

// NewOrchestrator takes the sentiment config through a provider so model
// selection changes apply on the next fan-out without a rebuild.
func NewOrchestrator(scorer gateway.ModelScorer, catalog *Catalog, cfgFn func() config.Sentiment) *Orchestrator {
	return &Orchestrator{scorer: scorer, catalog: catalog, cfgFn: cfgFn}
}

// Weights returns the current per-model weights for consensus.
func (o *Orchestrator) Weights() map[string]float64 {
	cfg := o.cfgFn()
	weights := make(map[string]float64, len(cfg.Models))
	for _, m := range cfg.EnabledModels() {
		weights[m.ID] = m.Weight
	}
	return weights
}

// ScoreHeadline runs the enabled models against one headline. The whole
// fan-out shares a deadline; each call also has its own timeout.
func (o *Orchestrator) ScoreHeadline(ctx context.Context, h *models.Headline) []models.ModelVote {
	cfg := o.cfgFn()
	enabled := cfg.EnabledModels()
	if len(enabled) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.DeadlineMs)*time.Millisecond)
	defer cancel()

	sem := make(chan struct{}, cfg.MaxConcurrent)
	var mu sync.Mutex
	var wg sync.WaitGroup
	votes := make([]models.ModelVote, 0, len(enabled))

	for _, mc := range enabled {
		if !o.catalog.Has(ctx, mc.Provider, mc.ID) {
			observ.Log("model_unavailable", map[string]any{"model": mc.ID, "provider": mc.Provider})
			continue
		}
		wg.Add(1)
		go func(mc config.ModelConfig) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			callCtx, callCancel := context.WithTimeout(ctx, time.Duration(cfg.CallTimeoutMs)*time.Millisecond)
			defer callCancel()

			start := time.Now()
			observ.IncCounter("model_calls_total", map[string]string{"model": mc.ID, "provider": mc.Provider})
			res, err := o.scorer.Score(callCtx, gateway.ScoreRequest{
				Ticker:   h.Ticker,
				Company:  h.Company,
				Text:     h.Text,
				Model:    mc.ID,
				Provider: mc.Provider,
			})
			observ.RecordDuration("model_call_duration", time.Since(start),
				map[string]string{"model": mc.ID, "provider": mc.Provider})
			if err != nil {
				observ.IncCounter("model_failures_total", map[string]string{"model": mc.ID, "provider": mc.Provider})
				observ.LogError("model_call_failed", err, map[string]any{"model": mc.ID, "headline_id": h.ID})
				return
			}
			vote := models.ModelVote{
				ID:             models.NewID(),
				HeadlineID:     h.ID,
				Provider:       mc.Provider,
				Model:          mc.ID,
				Sentiment:      clampSigned(res.Sentiment),
				Confidence:     clamp01(res.Confidence),
				Horizon:        models.TimeHorizon(res.Horizon),
				Rationale:      res.Rationale,
				ResponseTimeMs: res.ResponseTimeMs,
				CreatedAt:      time.Now().UTC(),
			}
			mu.Lock()
			votes = append(votes, vote)
			mu.Unlock()
		}(mc)
	}
	wg.Wait()
	return votes
}

// Consensus builds the aggregate row for a headline from its votes.
func (o *Orchestrator) Consensus(h *models.Headline, votes []models.ModelVote) *models.SentimentAggregate {
	cfg := o.cfgFn()
	return Aggregate(h, votes, o.Weights(), AggregateOptions{
		ExpectedModels:    len(cfg.EnabledModels()),
		MinQuorumFraction: cfg.MinQuorumFraction,
		LowQuorumPenalty:  cfg.LowQuorumPenalty,
		NeutralEpsilon:    cfg.NeutralEpsilon,
	})
}

func clampSigned(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
