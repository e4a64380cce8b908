package gateway

import (
	"context"
	"time"
)

// RawHeadline is one upstream news item before normalization or dedup.
type RawHeadline struct {
	Ticker      string    `json:"ticker"`
	Company     string    `json:"company"`
	Text        string    `json:"text"`
	Source      string    `json:"source"`
	Link        string    `json:"link"`
	Sector      string    `json:"sector"`
	Industry    string    `json:"industry"`
	PublishedAt time.Time `json:"published_at"`
}

// MarketContext carries the quote-side signals used to boost opportunity
// scores. Zero values mean the signal is unavailable.
type MarketContext struct {
	Price          float64 `json:"price"`
	DailyReturnPct float64 `json:"daily_return_pct"`
	RelativeVolume float64 `json:"relative_volume"`
	RSI            float64 `json:"rsi"`
	Volatility     float64 `json:"volatility"`
}

// CatalogModel is one entry from a provider's model listing.
type CatalogModel struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
}

// ScoreRequest asks one model for a sentiment read on one headline.
type ScoreRequest struct {
	Ticker   string
	Company  string
	Text     string
	Model    string
	Provider string
}

// ScoreResult is a single model's vote.
type ScoreResult struct {
	Sentiment      float64
	Confidence     float64
	Horizon        string
	Rationale      string
	ResponseTimeMs int64
}

// HeadlineSource fetches the current headline batch for one portfolio.
type HeadlineSource interface {
	FetchHeadlines(ctx context.Context, portfolioID int) ([]RawHeadline, error)
	Name() string
}

// MarketDataSource fetches quote context for a ticker. Implementations may
// return a nil context when data is unavailable; scoring then skips the
// market boosts rather than failing.
type MarketDataSource interface {
	FetchMarketContext(ctx context.Context, ticker string) (*MarketContext, error)
}

// ModelCatalogSource lists the models a provider currently offers.
type ModelCatalogSource interface {
	ListModels(ctx context.Context, provider string) ([]CatalogModel, error)
}

// ModelScorer runs a single sentiment call against one model.
type ModelScorer interface {
	Score(ctx context.Context, req ScoreRequest) (*ScoreResult, error)
}
