package models

import (
	"time"

	"github.com/google/uuid"
)

// MarketSession classifies when a headline landed relative to US market hours.
type MarketSession string

const (
	SessionPre     MarketSession = "pre"
	SessionRegular MarketSession = "regular"
	SessionAfter   MarketSession = "after"
	SessionClosed  MarketSession = "closed"
)

// TimeHorizon is a model's estimate of how long the edge from a headline lasts.
type TimeHorizon string

const (
	HorizonUnder1h  TimeHorizon = "<1h"
	Horizon1to4h    TimeHorizon = "1-4h"
	HorizonSameDay  TimeHorizon = "same_day"
	HorizonNextOpen TimeHorizon = "next_open"
	Horizon24h      TimeHorizon = "24h"
)

// ValidHorizon reports whether h is one of the enumerated horizons.
func ValidHorizon(h TimeHorizon) bool {
	switch h {
	case HorizonUnder1h, Horizon1to4h, HorizonSameDay, HorizonNextOpen, Horizon24h:
		return true
	}
	return false
}

// Headline is a single ingested news item tied to a ticker. Immutable after
// persistence except for the dedup flags, which are set exactly once at
// ingestion time.
type Headline struct {
	ID               string        `json:"id" badgerhold:"key"`
	Ticker           string        `json:"ticker" badgerholdIndex:"Ticker"`
	Company          string        `json:"company"`
	Text             string        `json:"text"`
	NormalizedText   string        `json:"normalized_text"`
	Hash             string        `json:"hash" badgerholdIndex:"Hash"`
	Source           string        `json:"source"`
	Link             string        `json:"link,omitempty"`
	Sector           string        `json:"sector,omitempty"`
	Industry         string        `json:"industry,omitempty"`
	PortfolioID      int           `json:"portfolio_id"`
	PublishedAt      time.Time     `json:"published_at"`
	FirstSeenAt      time.Time     `json:"first_seen_at"`
	MarketSession    MarketSession `json:"market_session"`
	AgeMinutes       int           `json:"age_minutes"`
	IsPrimarySource  bool          `json:"is_primary_source"`
	IsDuplicate      bool          `json:"is_duplicate"`
	ParentHeadlineID string        `json:"parent_headline_id,omitempty"`
}

// ModelVote is one model's sentiment judgment on one headline. Append-only.
type ModelVote struct {
	ID             string      `json:"id" badgerhold:"key"`
	HeadlineID     string      `json:"headline_id" badgerholdIndex:"HeadlineID"`
	Provider       string      `json:"provider"`
	Model          string      `json:"model"`
	Sentiment      float64     `json:"sentiment"`  // [-1, 1]
	Confidence     float64     `json:"confidence"` // [0, 1]
	Horizon        TimeHorizon `json:"horizon"`
	Rationale      string      `json:"rationale"`
	ResponseTimeMs int64       `json:"response_time_ms"`
	CreatedAt      time.Time   `json:"created_at"`
}

// SentimentAggregate is the weighted consensus over the full current ModelVote
// set for one headline. At most one per headline; replaced on recompute.
type SentimentAggregate struct {
	HeadlineID    string      `json:"headline_id" badgerhold:"key"`
	Ticker        string      `json:"ticker" badgerholdIndex:"Ticker"`
	AvgSentiment  float64     `json:"avg_sentiment"`
	AvgConfidence float64     `json:"avg_confidence"`
	Dispersion    float64     `json:"dispersion"`
	MajorityVote  int         `json:"majority_vote"` // -1, 0, 1
	HorizonVote   TimeHorizon `json:"horizon_vote"`
	NumModels     int         `json:"num_models"`
	LowQuorum     bool        `json:"low_quorum"`
	HeadlineAt    time.Time   `json:"headline_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// StatWindow selects the rollup window for TickerBucketStat.
type StatWindow string

const (
	WindowDaily    StatWindow = "daily"
	WindowIntraday StatWindow = "intraday"
	WindowMomentum StatWindow = "momentum"
)

// TickerBucketStat is a derived per-ticker, per-window rollup. Recomputed on
// schedule, never edited directly.
type TickerBucketStat struct {
	Key               string     `json:"key" badgerhold:"key"` // ticker|window
	Ticker            string     `json:"ticker" badgerholdIndex:"Ticker"`
	Window            StatWindow `json:"window"`
	CurrentSentiment  float64    `json:"current_sentiment"`
	PreviousSentiment float64    `json:"previous_sentiment"`
	SentimentChange   float64    `json:"sentiment_change"`
	MomentumSlope     float64    `json:"momentum_slope"`
	BucketCount       int        `json:"bucket_count"`
	HeadlineCount     int        `json:"headline_count"`
	Confidence        float64    `json:"confidence"`
	ComputedAt        time.Time  `json:"computed_at"`
}

// StatKey builds the store key for a ticker+window stat.
func StatKey(ticker string, window StatWindow) string {
	return ticker + "|" + string(window)
}

// Direction of a trade opportunity.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// OpportunityStatus lifecycle. Status transitions are the only mutation path
// after generation, apart from in-place refresh during the cooldown window.
type OpportunityStatus string

const (
	StatusActive    OpportunityStatus = "active"
	StatusExecuted  OpportunityStatus = "executed"
	StatusExpired   OpportunityStatus = "expired"
	StatusCancelled OpportunityStatus = "cancelled"
)

// TimeSensitivity tier for an opportunity.
type TimeSensitivity string

const (
	SensitivityUrgent TimeSensitivity = "urgent"
	SensitivityHigh   TimeSensitivity = "high"
	SensitivityMedium TimeSensitivity = "medium"
	SensitivityLow    TimeSensitivity = "low"
)

// Opportunity is a generated, scored trade candidate with risk parameters.
type Opportunity struct {
	ID            string            `json:"id" badgerhold:"key"`
	Ticker        string            `json:"ticker" badgerholdIndex:"Ticker"`
	Direction     Direction         `json:"direction"`
	Score         float64           `json:"score"`
	Confidence    float64           `json:"confidence"`
	Priority      int               `json:"priority"`
	Horizon       TimeHorizon       `json:"horizon"`
	Sensitivity   TimeSensitivity   `json:"time_sensitivity"`
	EntryPrice    float64           `json:"entry_price,omitempty"`
	TargetPrice   float64           `json:"target_price,omitempty"`
	StopLoss      float64           `json:"stop_loss,omitempty"`
	RiskReward    float64           `json:"risk_reward_ratio,omitempty"`
	SupportingIDs []string          `json:"supporting_headline_ids"`
	AvgSentiment  float64           `json:"avg_sentiment"`
	HeadlineCount int               `json:"headline_count"`
	Status        OpportunityStatus `json:"status" badgerholdIndex:"Status"`
	ExpiresAt     time.Time         `json:"expires_at"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewID returns a fresh record id.
func NewID() string {
	return uuid.NewString()
}

// SentimentLabel buckets a sentiment value with the epsilon band used for
// majority voting and display.
func SentimentLabel(s, epsilon float64) int {
	switch {
	case s > epsilon:
		return 1
	case s < -epsilon:
		return -1
	default:
		return 0
	}
}

// SessionFor classifies a UTC timestamp into a US-market session.
func SessionFor(ts time.Time) MarketSession {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return SessionClosed
	}
	et := ts.In(loc)
	if wd := et.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return SessionClosed
	}
	mins := et.Hour()*60 + et.Minute()
	switch {
	case mins >= 4*60 && mins < 9*60+30:
		return SessionPre
	case mins >= 9*60+30 && mins < 16*60:
		return SessionRegular
	case mins >= 16*60 && mins < 20*60:
		return SessionAfter
	default:
		return SessionClosed
	}
}
