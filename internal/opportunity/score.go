package opportunity

import (
	"math"
	"time"

	"github.com/bizarik/brkTrd-zr0/internal/config"
	"github.com/bizarik/brkTrd-zr0/internal/gateway"
	"github.com/bizarik/brkTrd-zr0/internal/models"
)

// Signal is the per-ticker input to scoring: the recent aggregates plus the
// rollup stats, with optional market context.
type Signal struct {
	Ticker     string
	Aggregates []models.SentimentAggregate
	Momentum   *models.TickerBucketStat
	Market     *gateway.MarketContext
	Now        time.Time
}

// WeightedSentiment is the confidence-weighted mean sentiment across the
// signal's aggregates.
func (s *Signal) WeightedSentiment() (sentiment, confidence float64) {
	var wSum, sSum, cSum float64
	for _, a := range s.Aggregates {
		w := a.AvgConfidence
		if w <= 0 {
			w = 0.01
		}
		wSum += w
		sSum += w * a.AvgSentiment
		cSum += a.AvgConfidence
	}
	if wSum == 0 {
		return 0, 0
	}
	return sSum / wSum, cSum / float64(len(s.Aggregates))
}

// dispersion across the contributing aggregates' sentiments; high values
// mean the models disagree and the signal should be skipped.
func (s *Signal) Dispersion() float64 {
	n := len(s.Aggregates)
	if n == 0 {
		return 0
	}
	var mean float64
	for _, a := range s.Aggregates {
		mean += a.AvgSentiment
	}
	mean /= float64(n)
	var varSum float64
	for _, a := range s.Aggregates {
		d := a.AvgSentiment - mean
		varSum += d * d
	}
	return math.Sqrt(varSum / float64(n))
}

// Score computes the composite opportunity score in [0,1]:
// magnitude, confidence, consensus (inverse dispersion), recency decay, and
// log-scaled headline volume, each weighted from config, plus small market
// boosts when quote context agrees with the signal.
func Score(sig *Signal, cfg config.Opportunity) float64 {
	sentiment, confidence := sig.WeightedSentiment()
	magnitude := math.Abs(sentiment)
	consensus := 1 - clamp01(sig.Dispersion())

	recency := 0.0
	if len(sig.Aggregates) > 0 {
		var sum float64
		for _, a := range sig.Aggregates {
			age := sig.Now.Sub(a.HeadlineAt).Hours()
			if age < 0 {
				age = 0
			}
			// Half-life of ~3h inside the lookback window.
			sum += math.Exp(-age / 3)
		}
		recency = sum / float64(len(sig.Aggregates))
	}

	volume := math.Log1p(float64(len(sig.Aggregates))) / math.Log1p(10)
	if volume > 1 {
		volume = 1
	}

	wTotal := cfg.WeightMagnitude + cfg.WeightConfidence + cfg.WeightConsensus +
		cfg.WeightRecency + cfg.WeightVolume
	if wTotal == 0 {
		return 0
	}
	score := (cfg.WeightMagnitude*magnitude +
		cfg.WeightConfidence*confidence +
		cfg.WeightConsensus*consensus +
		cfg.WeightRecency*recency +
		cfg.WeightVolume*volume) / wTotal

	score += marketBoost(sentiment, sig.Market)
	return clamp01(score)
}

// marketBoost rewards quote context that agrees with the sentiment signal:
// same-sign daily return, elevated relative volume, and RSI at an extreme
// that matches the trade direction.
func marketBoost(sentiment float64, mc *gateway.MarketContext) float64 {
	if mc == nil {
		return 0
	}
	boost := 0.0
	if sentiment > 0 && mc.DailyReturnPct > 0 || sentiment < 0 && mc.DailyReturnPct < 0 {
		boost += 0.1
	}
	if mc.RelativeVolume > 1.5 {
		boost += 0.05
	}
	if mc.RSI > 0 && (sentiment > 0 && mc.RSI < 30 || sentiment < 0 && mc.RSI > 70) {
		boost += 0.1
	}
	return boost
}

// RiskParams derives entry, target, and stop from the reference price. The
// configured offsets are scaled by volatility when available and inverted
// for shorts. Target sits twice as far as the stop in either direction.
func RiskParams(dir models.Direction, price float64, mc *gateway.MarketContext, cfg config.Opportunity) (entry, target, stop, riskReward float64) {
	if price <= 0 {
		return 0, 0, 0, 0
	}
	scale := 1.0
	if mc != nil && mc.Volatility > 0 {
		scale = mc.Volatility
	}
	stopOff := price * cfg.StopPct * scale
	targetOff := price * cfg.TargetPct * scale

	entry = price
	if dir == models.DirectionLong {
		target = entry + targetOff
		stop = entry - stopOff
	} else {
		target = entry - targetOff
		stop = entry + stopOff
	}
	if stopOff > 0 {
		riskReward = targetOff / stopOff
	}
	return entry, target, stop, riskReward
}

// Sensitivity tiers an opportunity by its horizon vote and momentum slope.
// Shorter horizons and steeper recent momentum escalate the tier.
func Sensitivity(horizon models.TimeHorizon, momentum *models.TickerBucketStat) models.TimeSensitivity {
	tier := map[models.TimeHorizon]models.TimeSensitivity{
		models.HorizonUnder1h:  models.SensitivityUrgent,
		models.Horizon1to4h:    models.SensitivityHigh,
		models.HorizonSameDay:  models.SensitivityMedium,
		models.HorizonNextOpen: models.SensitivityLow,
		models.Horizon24h:      models.SensitivityLow,
	}[horizon]
	if tier == "" {
		tier = models.SensitivityMedium
	}
	if momentum != nil && math.Abs(momentum.MomentumSlope) > 0.2 {
		tier = escalate(tier)
	}
	return tier
}

func escalate(t models.TimeSensitivity) models.TimeSensitivity {
	switch t {
	case models.SensitivityLow:
		return models.SensitivityMedium
	case models.SensitivityMedium:
		return models.SensitivityHigh
	case models.SensitivityHigh:
		return models.SensitivityUrgent
	}
	return t
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
