package sentiment

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bizarik/brkTrd-zr0/internal/config"
	"github.com/bizarik/brkTrd-zr0/internal/gateway"
	"github.com/bizarik/brkTrd-zr0/internal/models"
)

func defaultOpts(expected int) AggregateOptions {
	return AggregateOptions{
		ExpectedModels:    expected,
		MinQuorumFraction: 0.5,
		LowQuorumPenalty:  0.5,
		NeutralEpsilon:    0.05,
	}
}

func vote(model string, sentiment, confidence float64, horizon models.TimeHorizon) models.ModelVote {
	return models.ModelVote{
		ID: models.NewID(), HeadlineID: "h1", Model: model,
		Sentiment: sentiment, Confidence: confidence, Horizon: horizon,
	}
}

func TestAggregateMixedVotes(t *testing.T) {
	h := &models.Headline{ID: "h1", Ticker: "ACME", PublishedAt: time.Now().UTC()}
	votes := []models.ModelVote{
		vote("m1", 0.8, 0.9, models.HorizonSameDay),
		vote("m2", 0.6, 0.7, models.HorizonSameDay),
		vote("m3", -0.1, 0.6, models.Horizon1to4h),
	}

	a := Aggregate(h, votes, nil, defaultOpts(3))
	require.NotNil(t, a)
	require.InDelta(t, 0.4333, a.AvgSentiment, 1e-3)
	require.InDelta(t, 0.7333, a.AvgConfidence, 1e-3)
	// population std dev of [0.8, 0.6, -0.1]
	require.InDelta(t, 0.3859, a.Dispersion, 1e-3)
	require.Equal(t, 1, a.MajorityVote)
	require.Equal(t, models.HorizonSameDay, a.HorizonVote)
	require.Equal(t, 3, a.NumModels)
	require.False(t, a.LowQuorum)
}

func TestAggregateWeighted(t *testing.T) {
	h := &models.Headline{ID: "h1", Ticker: "ACME"}
	votes := []models.ModelVote{
		vote("heavy", 1.0, 1.0, models.HorizonSameDay),
		vote("light", 0.0, 0.0, models.HorizonSameDay),
	}
	a := Aggregate(h, votes, map[string]float64{"heavy": 3, "light": 1}, defaultOpts(2))
	require.NotNil(t, a)
	require.InDelta(t, 0.75, a.AvgSentiment, 1e-9)
	// Weights shift the mean but never the dispersion: population std dev
	// of [1.0, 0.0] regardless of weighting.
	require.InDelta(t, 0.5, a.Dispersion, 1e-9)
}

func TestAggregateTieIsNeutral(t *testing.T) {
	h := &models.Headline{ID: "h1", Ticker: "ACME"}
	votes := []models.ModelVote{
		vote("m1", 0.5, 0.8, models.HorizonSameDay),
		vote("m2", -0.5, 0.8, models.HorizonSameDay),
	}
	a := Aggregate(h, votes, nil, defaultOpts(2))
	require.Equal(t, 0, a.MajorityVote)
}

func TestAggregateEpsilonBandIsNeutral(t *testing.T) {
	h := &models.Headline{ID: "h1", Ticker: "ACME"}
	votes := []models.ModelVote{
		vote("m1", 0.03, 0.8, models.HorizonSameDay),
		vote("m2", -0.02, 0.8, models.HorizonSameDay),
	}
	a := Aggregate(h, votes, nil, defaultOpts(2))
	require.Equal(t, 0, a.MajorityVote)
}

func TestAggregateLowQuorumPenalty(t *testing.T) {
	h := &models.Headline{ID: "h1", Ticker: "ACME"}
	votes := []models.ModelVote{vote("m1", 0.6, 0.8, models.HorizonSameDay)}

	a := Aggregate(h, votes, nil, defaultOpts(4))
	require.True(t, a.LowQuorum)
	require.InDelta(t, 0.4, a.AvgConfidence, 1e-9)
}

func TestAggregateNoVotes(t *testing.T) {
	h := &models.Headline{ID: "h1", Ticker: "ACME"}
	require.Nil(t, Aggregate(h, nil, nil, defaultOpts(3)))
}

// --- orchestrator ---

type stubScorer struct {
	calls   atomic.Int64
	failFor string
	delay   time.Duration
}

func (s *stubScorer) Score(ctx context.Context, req gateway.ScoreRequest) (*gateway.ScoreResult, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if req.Model == s.failFor {
		return nil, errors.New("provider 500")
	}
	return &gateway.ScoreResult{Sentiment: 0.5, Confidence: 0.8, Horizon: "same_day"}, nil
}

type staticCatalog struct{ ids []string }

func (c *staticCatalog) ListModels(ctx context.Context, provider string) ([]gateway.CatalogModel, error) {
	out := make([]gateway.CatalogModel, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, gateway.CatalogModel{ID: id, Provider: provider})
	}
	return out, nil
}

func testSentimentConfig(models ...config.ModelConfig) config.Sentiment {
	return config.Sentiment{
		Models:            models,
		MaxConcurrent:     2,
		CallTimeoutMs:     200,
		DeadlineMs:        1000,
		MinQuorumFraction: 0.5,
		LowQuorumPenalty:  0.5,
		NeutralEpsilon:    0.05,
	}
}

func TestOrchestratorCollectsPartialVotes(t *testing.T) {
	cfg := testSentimentConfig(
		config.ModelConfig{ID: "good", Provider: "groq", Weight: 1, Enabled: true},
		config.ModelConfig{ID: "bad", Provider: "groq", Weight: 1, Enabled: true},
	)
	scorer := &stubScorer{failFor: "bad"}
	o := NewOrchestrator(scorer, NewCatalog(&staticCatalog{ids: []string{"good", "bad"}}), func() config.Sentiment { return cfg })

	h := &models.Headline{ID: models.NewID(), Ticker: "ACME", Text: "Acme beats estimates"}
	votes := o.ScoreHeadline(context.Background(), h)
	require.Len(t, votes, 1)
	require.Equal(t, "good", votes[0].Model)
	require.Equal(t, int64(2), scorer.calls.Load())
}

func TestOrchestratorSkipsDisabledAndUnknownModels(t *testing.T) {
	cfg := testSentimentConfig(
		config.ModelConfig{ID: "known", Provider: "groq", Weight: 1, Enabled: true},
		config.ModelConfig{ID: "disabled", Provider: "groq", Weight: 1, Enabled: false},
		config.ModelConfig{ID: "retired", Provider: "groq", Weight: 1, Enabled: true},
	)
	scorer := &stubScorer{}
	o := NewOrchestrator(scorer, NewCatalog(&staticCatalog{ids: []string{"known"}}), func() config.Sentiment { return cfg })

	h := &models.Headline{ID: models.NewID(), Ticker: "ACME", Text: "Acme beats estimates"}
	votes := o.ScoreHeadline(context.Background(), h)
	require.Len(t, votes, 1)
	require.Equal(t, int64(1), scorer.calls.Load())
}

func TestOrchestratorTimeoutDropsSlowModel(t *testing.T) {
	cfg := testSentimentConfig(
		config.ModelConfig{ID: "slow", Provider: "groq", Weight: 1, Enabled: true},
	)
	cfg.CallTimeoutMs = 20
	scorer := &stubScorer{delay: 500 * time.Millisecond}
	o := NewOrchestrator(scorer, NewCatalog(&staticCatalog{ids: []string{"slow"}}), func() config.Sentiment { return cfg })

	h := &models.Headline{ID: models.NewID(), Ticker: "ACME", Text: "Acme beats estimates"}
	votes := o.ScoreHeadline(context.Background(), h)
	require.Empty(t, votes)
}

// --- catalog ---

type flakyCatalog struct {
	fail  bool
	calls int
}

func (c *flakyCatalog) ListModels(ctx context.Context, provider string) ([]gateway.CatalogModel, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("catalog down")
	}
	return []gateway.CatalogModel{{ID: "live-model", Provider: provider}}, nil
}

func TestCatalogCachesWithinTTL(t *testing.T) {
	src := &flakyCatalog{}
	c := NewCatalog(src)

	first := c.Models(context.Background(), "groq")
	second := c.Models(context.Background(), "groq")
	require.Equal(t, first, second)
	require.Equal(t, 1, src.calls)
}

func TestCatalogFallsBackWhenSourceDown(t *testing.T) {
	src := &flakyCatalog{fail: true}
	c := NewCatalog(src)

	got := c.Models(context.Background(), "groq")
	require.NotEmpty(t, got, "static fallback must cover a cold cache")
	for _, m := range got {
		require.Equal(t, "groq", m.Provider)
	}
}
