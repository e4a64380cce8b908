package sentiment

import (
	"math"
	"time"

	"github.com/bizarik/brkTrd-zr0/internal/models"
)

// Aggregate folds model votes into one consensus row. Means are weighted by
// the configured model weight; dispersion is the plain population standard
// deviation of the sentiment values. Returns nil when no votes
// arrived, so a headline with zero responses never gets a neutral aggregate
// invented for it.
func Aggregate(h *models.Headline, votes []models.ModelVote, weights map[string]float64, opts AggregateOptions) *models.SentimentAggregate {
	if len(votes) == 0 {
		return nil
	}

	var wSum, sSum, cSum float64
	for _, v := range votes {
		w := weightFor(weights, v.Model)
		wSum += w
		sSum += w * v.Sentiment
		cSum += w * v.Confidence
	}
	if wSum == 0 {
		return nil
	}
	avgS := sSum / wSum
	avgC := cSum / wSum

	// Dispersion stays unweighted: it measures how much the models disagree,
	// not how much the trusted models disagree.
	var plainSum float64
	for _, v := range votes {
		plainSum += v.Sentiment
	}
	plainMean := plainSum / float64(len(votes))
	var varSum float64
	for _, v := range votes {
		d := v.Sentiment - plainMean
		varSum += d * d
	}
	dispersion := math.Sqrt(varSum / float64(len(votes)))

	// Majority vote by sign with a neutral epsilon band; ties are neutral.
	pos, neg := 0, 0
	for _, v := range votes {
		switch models.SentimentLabel(v.Sentiment, opts.NeutralEpsilon) {
		case 1:
			pos++
		case -1:
			neg++
		}
	}
	majority := 0
	switch {
	case pos > neg:
		majority = 1
	case neg > pos:
		majority = -1
	}

	lowQuorum := false
	if opts.ExpectedModels > 0 {
		got := float64(len(votes)) / float64(opts.ExpectedModels)
		if got < opts.MinQuorumFraction {
			lowQuorum = true
			avgC *= opts.LowQuorumPenalty
		}
	}

	return &models.SentimentAggregate{
		HeadlineID:    h.ID,
		Ticker:        h.Ticker,
		AvgSentiment:  avgS,
		AvgConfidence: clamp01(avgC),
		Dispersion:    dispersion,
		MajorityVote:  majority,
		HorizonVote:   horizonVote(votes),
		NumModels:     len(votes),
		LowQuorum:     lowQuorum,
		HeadlineAt:    h.PublishedAt,
		UpdatedAt:     time.Now().UTC(),
	}
}

type AggregateOptions struct {
	ExpectedModels    int
	MinQuorumFraction float64
	LowQuorumPenalty  float64
	NeutralEpsilon    float64
}

// horizonVote picks the most common horizon label among the votes. Ties
// break toward the shorter horizon since stale signals cost more than
// early ones.
func horizonVote(votes []models.ModelVote) models.TimeHorizon {
	counts := map[models.TimeHorizon]int{}
	for _, v := range votes {
		if models.ValidHorizon(v.Horizon) {
			counts[v.Horizon]++
		}
	}
	order := []models.TimeHorizon{
		models.HorizonUnder1h, models.Horizon1to4h,
		models.HorizonSameDay, models.HorizonNextOpen, models.Horizon24h,
	}
	best, bestN := models.HorizonSameDay, 0
	for _, h := range order {
		if counts[h] > bestN {
			best, bestN = h, counts[h]
		}
	}
	return best
}

func weightFor(weights map[string]float64, model string) float64 {
	if w, ok := weights[model]; ok {
		return w
	}
	return 1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
