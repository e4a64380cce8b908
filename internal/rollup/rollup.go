package rollup

import (
	"time"

	"github.com/bizarik/brkTrd-zr0/internal/models"
)

// Window geometry. Daily compares the last 24h against the 24h before it;
// intraday compares the last 6h against the 6h before it; momentum fits a
// slope over 24h buckets across the 72h lookback.
const (
	dailySpan      = 24 * time.Hour
	intradaySpan   = 6 * time.Hour
	momentumSpan   = 72 * time.Hour
	momentumBucket = 24 * time.Hour
)

// Compute builds the stat row for one ticker and window from its sentiment
// aggregates. Returns nil when the window holds no data, so tickers with no
// recent coverage are excluded rather than reported as zero.
func Compute(ticker string, window models.StatWindow, aggs []models.SentimentAggregate, now time.Time) *models.TickerBucketStat {
	switch window {
	case models.WindowDaily:
		return compare(ticker, window, aggs, now, dailySpan)
	case models.WindowIntraday:
		return compare(ticker, window, aggs, now, intradaySpan)
	case models.WindowMomentum:
		return momentum(ticker, aggs, now)
	}
	return nil
}

// compare computes current-vs-previous mean sentiment over two adjacent
// spans of equal length.
func compare(ticker string, window models.StatWindow, aggs []models.SentimentAggregate, now time.Time, span time.Duration) *models.TickerBucketStat {
	currentCut := now.Add(-span)
	previousCut := now.Add(-2 * span)

	var curS, curC float64
	var curN int
	var prevS float64
	var prevN int
	headlines := 0
	for _, a := range aggs {
		switch {
		case !a.HeadlineAt.Before(currentCut):
			curS += a.AvgSentiment
			curC += a.AvgConfidence
			curN++
			headlines++
		case !a.HeadlineAt.Before(previousCut):
			prevS += a.AvgSentiment
			prevN++
			headlines++
		}
	}
	if curN == 0 {
		return nil
	}

	st := &models.TickerBucketStat{
		Key:              models.StatKey(ticker, window),
		Ticker:           ticker,
		Window:           window,
		CurrentSentiment: curS / float64(curN),
		Confidence:       curC / float64(curN),
		BucketCount:      boolCount(curN > 0) + boolCount(prevN > 0),
		HeadlineCount:    headlines,
		ComputedAt:       now,
	}
	if prevN > 0 {
		st.PreviousSentiment = prevS / float64(prevN)
		st.SentimentChange = st.CurrentSentiment - st.PreviousSentiment
	}
	return st
}

// momentum fits an ordinary least squares slope to per-bucket mean
// sentiment. Fewer than two populated buckets, or a degenerate x spread,
// leaves the slope undefined and the ticker excluded.
func momentum(ticker string, aggs []models.SentimentAggregate, now time.Time) *models.TickerBucketStat {
	start := now.Add(-momentumSpan)
	nBuckets := int(momentumSpan / momentumBucket)
	sums := make([]float64, nBuckets)
	counts := make([]int, nBuckets)
	headlines := 0
	for _, a := range aggs {
		if a.HeadlineAt.Before(start) || a.HeadlineAt.After(now) {
			continue
		}
		idx := int(a.HeadlineAt.Sub(start) / momentumBucket)
		if idx >= nBuckets {
			idx = nBuckets - 1
		}
		sums[idx] += a.AvgSentiment
		counts[idx]++
		headlines++
	}

	var xs, ys []float64
	for i := 0; i < nBuckets; i++ {
		if counts[i] == 0 {
			continue
		}
		xs = append(xs, float64(i))
		ys = append(ys, sums[i]/float64(counts[i]))
	}
	if len(xs) < 2 {
		return nil
	}

	n := float64(len(xs))
	var sx, sy, sxy, sxx float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
		sxy += xs[i] * ys[i]
		sxx += xs[i] * xs[i]
	}
	denom := n*sxx - sx*sx
	if denom == 0 {
		return nil
	}
	slope := (n*sxy - sx*sy) / denom

	return &models.TickerBucketStat{
		Key:              models.StatKey(ticker, models.WindowMomentum),
		Ticker:           ticker,
		Window:           models.WindowMomentum,
		CurrentSentiment: ys[len(ys)-1],
		MomentumSlope:    slope,
		BucketCount:      len(xs),
		HeadlineCount:    headlines,
		ComputedAt:       now,
	}
}

func boolCount(b bool) int {
	if b {
		return 1
	}
	return 0
}
