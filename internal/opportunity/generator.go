package opportunity

import (
	"math"
	"sync"
	"time"

	"github.com/bizarik/brkTrd-zr0/internal/config"
	"github.com/bizarik/brkTrd-zr0/internal/models"
	"github.com/bizarik/brkTrd-zr0/internal/observ"
	"github.com/bizarik/brkTrd-zr0/internal/store"
)

// Generator turns per-ticker signals into opportunities. Within the
// cooldown window an existing active opportunity for the same
// ticker+direction is updated in place rather than duplicated.
type Generator struct {
	store *store.Store

	mu          sync.RWMutex
	lastCreated map[string]time.Time // "ticker|direction" -> creation time
}

func NewGenerator(st *store.Store) *Generator {
	return &Generator{store: st, lastCreated: make(map[string]time.Time)}
}

// Evaluate scores one signal and creates or refreshes the opportunity for
// its direction. Returns the resulting opportunity, or nil when the signal
// does not clear the thresholds.
func (g *Generator) Evaluate(sig *Signal, cfg config.Opportunity) (*models.Opportunity, error) {
	if len(sig.Aggregates) == 0 {
		return nil, nil
	}

	sentiment, confidence := sig.WeightedSentiment()
	if confidence < cfg.MinConfidence {
		return nil, nil
	}
	totalModels := 0
	for _, a := range sig.Aggregates {
		totalModels += a.NumModels
	}
	if totalModels < cfg.MinModels {
		return nil, nil
	}
	// Models in open disagreement produce no trade.
	if sig.Dispersion() > cfg.DispersionGuard {
		observ.IncCounter("opportunities_skipped_total", map[string]string{
			"ticker": sig.Ticker, "reason": "mixed_signal"})
		return nil, nil
	}

	var dir models.Direction
	switch {
	case sentiment > cfg.LongThreshold:
		dir = models.DirectionLong
	case sentiment < cfg.ShortThreshold:
		dir = models.DirectionShort
	default:
		return nil, nil
	}

	score := Score(sig, cfg)
	horizon := dominantHorizon(sig.Aggregates)
	sensitivity := Sensitivity(horizon, sig.Momentum)

	var entry, target, stop, rr float64
	if sig.Market != nil {
		entry, target, stop, rr = RiskParams(dir, sig.Market.Price, sig.Market, cfg)
	}

	supporting := make([]string, 0, len(sig.Aggregates))
	for _, a := range sig.Aggregates {
		supporting = append(supporting, a.HeadlineID)
	}

	now := sig.Now
	existing, err := g.store.ActiveOpportunity(sig.Ticker, dir)
	if err != nil {
		return nil, err
	}
	cooldown := time.Duration(cfg.CooldownMinutes) * time.Minute
	if existing != nil && g.withinCooldown(sig.Ticker, dir, existing.CreatedAt, now, cooldown) {
		existing.Score = score
		existing.Confidence = confidence
		existing.Priority = int(math.Round(score * 100))
		existing.Horizon = horizon
		existing.Sensitivity = sensitivity
		existing.AvgSentiment = sentiment
		existing.HeadlineCount = len(sig.Aggregates)
		existing.SupportingIDs = supporting
		if entry > 0 {
			existing.EntryPrice, existing.TargetPrice, existing.StopLoss, existing.RiskReward = entry, target, stop, rr
		}
		existing.UpdatedAt = now
		if err := g.store.UpsertOpportunity(existing); err != nil {
			return nil, err
		}
		observ.IncCounter("opportunities_refreshed_total", map[string]string{"ticker": sig.Ticker})
		return existing, nil
	}

	// Past the cooldown a fresh signal supersedes the stale active row, so
	// the ticker+direction pair keeps exactly one active opportunity.
	if existing != nil {
		existing.Status = models.StatusCancelled
		existing.UpdatedAt = now
		if err := g.store.UpsertOpportunity(existing); err != nil {
			return nil, err
		}
		observ.IncCounter("opportunities_superseded_total", map[string]string{"ticker": sig.Ticker})
	}

	opp := &models.Opportunity{
		ID:            models.NewID(),
		Ticker:        sig.Ticker,
		Direction:     dir,
		Score:         score,
		Confidence:    confidence,
		Priority:      int(math.Round(score * 100)),
		Horizon:       horizon,
		Sensitivity:   sensitivity,
		EntryPrice:    entry,
		TargetPrice:   target,
		StopLoss:      stop,
		RiskReward:    rr,
		SupportingIDs: supporting,
		AvgSentiment:  sentiment,
		HeadlineCount: len(sig.Aggregates),
		Status:        models.StatusActive,
		ExpiresAt:     now.Add(time.Duration(cfg.ExpiryHours) * time.Hour),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := g.store.UpsertOpportunity(opp); err != nil {
		return nil, err
	}
	g.recordCreation(sig.Ticker, dir, now)
	observ.IncCounter("opportunities_created_total", map[string]string{
		"ticker": sig.Ticker, "direction": string(dir)})
	observ.Log("opportunity_created", map[string]any{
		"ticker": sig.Ticker, "direction": dir, "score": score, "sensitivity": sensitivity,
	})
	return opp, nil
}

func (g *Generator) withinCooldown(ticker string, dir models.Direction, createdAt, now time.Time, cooldown time.Duration) bool {
	g.mu.RLock()
	last, ok := g.lastCreated[ticker+"|"+string(dir)]
	g.mu.RUnlock()
	if !ok || createdAt.After(last) {
		last = createdAt
	}
	return now.Sub(last) < cooldown
}

func (g *Generator) recordCreation(ticker string, dir models.Direction, at time.Time) {
	g.mu.Lock()
	g.lastCreated[ticker+"|"+string(dir)] = at
	g.mu.Unlock()
}

// dominantHorizon picks the most common horizon vote among the aggregates.
func dominantHorizon(aggs []models.SentimentAggregate) models.TimeHorizon {
	counts := map[models.TimeHorizon]int{}
	for _, a := range aggs {
		if models.ValidHorizon(a.HorizonVote) {
			counts[a.HorizonVote]++
		}
	}
	best, bestN := models.HorizonSameDay, 0
	for _, h := range []models.TimeHorizon{
		models.HorizonUnder1h, models.Horizon1to4h,
		models.HorizonSameDay, models.HorizonNextOpen, models.Horizon24h,
	} {
		if counts[h] > bestN {
			best, bestN = h, counts[h]
		}
	}
	return best
}
