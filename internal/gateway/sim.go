package gateway

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// SimSource simulates the upstream news feed, model catalog, model scorer,
// and quote context in one adapter, for local runs and demos.
type SimSource struct {
	mu     sync.Mutex
	random *rand.Rand

	portfolios map[int][]simTicker
}

type simTicker struct {
	Ticker   string
	Company  string
	Price    float64
	Vol      float64
	Drift    float64 // baseline sentiment bias for generated stories
	Sector   string
	Industry string
}

func NewSimSource(seed int64) *SimSource {
	return &SimSource{
		random: rand.New(rand.NewSource(seed)),
		portfolios: map[int][]simTicker{
			1: {
				{Ticker: "AAPL", Company: "Apple Inc", Price: 206.80, Vol: 0.025, Drift: 0.3, Sector: "Technology", Industry: "Consumer Electronics"},
				{Ticker: "NVDA", Company: "NVIDIA Corp", Price: 450.00, Vol: 0.035, Drift: 0.5, Sector: "Technology", Industry: "Semiconductors"},
				{Ticker: "MSFT", Company: "Microsoft Corp", Price: 415.75, Vol: 0.022, Drift: 0.2, Sector: "Technology", Industry: "Software"},
			},
			2: {
				{Ticker: "BIOX", Company: "Bioxcel Therapeutics", Price: 12.50, Vol: 0.055, Drift: -0.4, Sector: "Healthcare", Industry: "Biotechnology"},
				{Ticker: "GOOGL", Company: "Alphabet Inc", Price: 172.50, Vol: 0.028, Drift: 0.1, Sector: "Technology", Industry: "Internet"},
			},
		},
	}
}

func (s *SimSource) Name() string { return "sim" }

var simTemplates = []struct {
	text string
	bias float64
}{
	{"%s beats quarterly earnings estimates", 0.6},
	{"%s announces expanded share buyback program", 0.4},
	{"%s guidance cut sends analysts scrambling", -0.5},
	{"%s faces regulatory probe over disclosures", -0.6},
	{"%s unveils next-generation product lineup", 0.3},
	{"BREAKING: %s in advanced acquisition talks", 0.2},
}

// FetchHeadlines generates a small batch per call; repeated calls produce
// occasional near-duplicates so the dedup path gets exercised.
func (s *SimSource) FetchHeadlines(ctx context.Context, portfolioID int) ([]RawHeadline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	tickers, ok := s.portfolios[portfolioID]
	if !ok {
		return nil, NewFatalError("sim", fmt.Sprintf("unknown portfolio %d", portfolioID), nil)
	}
	time.Sleep(time.Duration(10+s.random.Intn(40)) * time.Millisecond)

	now := time.Now().UTC()
	var out []RawHeadline
	for _, tk := range tickers {
		n := 1 + s.random.Intn(2)
		for i := 0; i < n; i++ {
			tmpl := simTemplates[s.random.Intn(len(simTemplates))]
			out = append(out, RawHeadline{
				Ticker:      tk.Ticker,
				Company:     tk.Company,
				Text:        fmt.Sprintf(tmpl.text, tk.Company),
				Source:      "sim",
				Link:        fmt.Sprintf("https://sim.local/news/%s/%d", strings.ToLower(tk.Ticker), now.UnixNano()),
				Sector:      tk.Sector,
				Industry:    tk.Industry,
				PublishedAt: now.Add(-time.Duration(s.random.Intn(120)) * time.Minute),
			})
		}
	}
	return out, nil
}

func (s *SimSource) ListModels(ctx context.Context, provider string) ([]CatalogModel, error) {
	switch provider {
	case "groq":
		return []CatalogModel{
			{ID: "llama-3.3-70b-versatile", Provider: provider},
			{ID: "llama-3.1-8b-instant", Provider: provider},
		}, nil
	case "openrouter":
		return []CatalogModel{
			{ID: "deepseek/deepseek-chat", Provider: provider},
			{ID: "google/gemini-2.0-flash-001", Provider: provider},
		}, nil
	}
	return nil, NewFatalError("sim", "unknown provider "+provider, nil)
}

// Score derives a deterministic-ish sentiment from the text content plus
// model-specific noise, so different models disagree a little.
func (s *SimSource) Score(ctx context.Context, req ScoreRequest) (*ScoreResult, error) {
	s.mu.Lock()
	latency := time.Duration(20+s.random.Intn(80)) * time.Millisecond
	noise := (s.random.Float64() - 0.5) * 0.3
	s.mu.Unlock()

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	base := textBias(req.Text)
	sentiment := clampSim(base + noise)
	horizons := []string{"<1h", "1-4h", "same_day", "next_open", "24h"}
	h := fnv.New32a()
	h.Write([]byte(req.Model + req.Text))
	return &ScoreResult{
		Sentiment:      sentiment,
		Confidence:     0.55 + math.Abs(sentiment)*0.4,
		Horizon:        horizons[h.Sum32()%uint32(len(horizons))],
		Rationale:      "simulated read on headline tone",
		ResponseTimeMs: latency.Milliseconds(),
	}, nil
}

func (s *SimSource) FetchMarketContext(ctx context.Context, ticker string) (*MarketContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tickers := range s.portfolios {
		for _, tk := range tickers {
			if tk.Ticker != ticker {
				continue
			}
			move := s.random.NormFloat64() * tk.Vol
			return &MarketContext{
				Price:          tk.Price * (1 + move),
				DailyReturnPct: move * 100,
				RelativeVolume: 0.7 + s.random.Float64()*1.6,
				RSI:            20 + s.random.Float64()*60,
				Volatility:     tk.Vol / 0.02, // normalized to a 2% baseline
			}, nil
		}
	}
	return nil, NewTransientError("sim", "no quote context for "+ticker, nil)
}

func textBias(text string) float64 {
	t := strings.ToLower(text)
	score := 0.0
	for word, w := range map[string]float64{
		"beats": 0.6, "buyback": 0.4, "unveils": 0.3, "acquisition": 0.2,
		"cut": -0.5, "probe": -0.6, "scrambling": -0.3, "regulatory": -0.2,
	} {
		if strings.Contains(t, word) {
			score += w
		}
	}
	return clampSim(score)
}

func clampSim(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
