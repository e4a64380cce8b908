package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bizarik/brkTrd-zr0/internal/config"
	"github.com/bizarik/brkTrd-zr0/internal/dedup"
	"github.com/bizarik/brkTrd-zr0/internal/gateway"
	"github.com/bizarik/brkTrd-zr0/internal/models"
	"github.com/bizarik/brkTrd-zr0/internal/observ"
	"github.com/bizarik/brkTrd-zr0/internal/opportunity"
	"github.com/bizarik/brkTrd-zr0/internal/rollup"
	"github.com/bizarik/brkTrd-zr0/internal/sentiment"
	opstore "github.com/bizarik/brkTrd-zr0/internal/store"
)

// ConfigFn supplies the current config at the start of each cycle, so
// runtime config updates apply within one cycle without a restart.
type ConfigFn func() config.Root

// Pipeline wires fetch, dedup, scoring, rollups, and opportunity
// generation into the two loops the scheduler drives.
type Pipeline struct {
	cfgFn     ConfigFn
	store     *opstore.Store
	headlines gateway.HeadlineSource
	market    gateway.MarketDataSource
	scorer    *sentiment.Orchestrator
	generator *opportunity.Generator
	limiter   *gateway.SourceLimiter
	retry     gateway.RetryPolicy
	breaker   *gateway.Breaker
	locks     *portfolioLocks
}

func New(cfgFn ConfigFn, st *opstore.Store, headlines gateway.HeadlineSource, market gateway.MarketDataSource, scorer *sentiment.Orchestrator, gen *opportunity.Generator) *Pipeline {
	cfg := cfgFn()
	return &Pipeline{
		cfgFn:     cfgFn,
		store:     st,
		headlines: headlines,
		market:    market,
		scorer:    scorer,
		generator: gen,
		limiter:   gateway.NewSourceLimiter(headlines.Name(), cfg.Gateway),
		retry:     gateway.NewRetryPolicy(cfg.Gateway),
		breaker:   gateway.NewBreaker(headlines.Name(), cfg.Scheduler.FailureThreshold, 10*time.Minute),
		locks:     newPortfolioLocks(time.Duration(cfg.Scheduler.LockTTLSeconds) * time.Second),
	}
}

// Ingest runs one full ingestion cycle: fetch per portfolio under bounded
// fanout, dedup, persist, score new primaries plus the unscored backlog,
// recompute rollups for affected tickers, then generate opportunities.
func (p *Pipeline) Ingest(ctx context.Context) error {
	cfg := p.cfgFn()
	now := time.Now().UTC()

	var mu sync.Mutex
	affected := map[string]bool{}
	var firstErr error
	failures := 0

	sem := make(chan struct{}, cfg.Scheduler.MaxPortfolioFanout)
	var wg sync.WaitGroup
	for _, pid := range cfg.Portfolios {
		if !p.locks.acquire(pid) {
			observ.Log("portfolio_locked_skip", map[string]any{"portfolio_id": pid})
			continue
		}
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			defer p.locks.release(pid)
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			tickers, err := p.ingestPortfolio(ctx, pid, cfg, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				if firstErr == nil {
					firstErr = err
				}
				observ.LogError("portfolio_ingest_failed", err, map[string]any{"portfolio_id": pid})
				return
			}
			for t := range tickers {
				affected[t] = true
			}
		}(pid)
	}
	wg.Wait()

	// Backlog retry: primaries that still lack an aggregate get rescored
	// each cycle until models respond.
	backlog, err := p.unscoredPrimaries(cfg)
	if err != nil {
		observ.LogError("backlog_query_failed", err, nil)
	}
	for i := range backlog {
		h := &backlog[i]
		if ctx.Err() != nil {
			break
		}
		if p.scoreHeadline(ctx, h) {
			affected[h.Ticker] = true
		}
	}

	for ticker := range affected {
		if err := p.recompute(ctx, ticker, cfg, now); err != nil {
			observ.LogError("recompute_failed", err, map[string]any{"ticker": ticker})
		}
	}

	if failures > 0 && failures == len(cfg.Portfolios) {
		return fmt.Errorf("all %d portfolios failed: %w", failures, firstErr)
	}
	return nil
}

// ingestPortfolio fetches one portfolio's batch, dedups it against both the
// batch itself and the store's lookback window, persists new rows, and
// scores the new primaries. Returns the affected tickers.
func (p *Pipeline) ingestPortfolio(ctx context.Context, pid int, cfg config.Root, now time.Time) (map[string]bool, error) {
	if !p.breaker.Allow() {
		observ.Log("fetch_skipped_breaker_open", map[string]any{"portfolio_id": pid})
		return nil, nil
	}
	var raw []gateway.RawHeadline
	err := p.retry.Do(ctx, p.headlines.Name(), func(ctx context.Context) error {
		if err := p.limiter.Acquire(ctx); err != nil {
			return err
		}
		var ferr error
		raw, ferr = p.headlines.FetchHeadlines(ctx, pid)
		return ferr
	})
	p.breaker.Record(err)
	if err != nil {
		return nil, err
	}

	// Oldest published first, so the earliest sighting of a story lands as
	// the primary and later rewrites attach to it whatever order the feed
	// delivered them in.
	sort.SliceStable(raw, func(i, j int) bool { return raw[i].PublishedAt.Before(raw[j].PublishedAt) })

	matcher := dedup.NewMatcher(cfg.Dedup.Threshold, time.Duration(cfg.Dedup.ProximityHours)*time.Hour)
	affected := map[string]bool{}
	var batch []models.Headline

	for _, r := range raw {
		if r.Ticker == "" || r.Text == "" {
			continue
		}
		norm := dedup.Normalize(r.Text)
		hash := dedup.Hash(r.Ticker, norm)

		// Exact duplicate of a stored row: nothing new to persist.
		if prior, err := p.store.HeadlineByHash(hash); err != nil {
			return affected, err
		} else if prior != nil {
			continue
		}

		h := models.Headline{
			ID:             models.NewID(),
			Ticker:         r.Ticker,
			Company:        r.Company,
			Text:           r.Text,
			NormalizedText: norm,
			Hash:           hash,
			Source:         r.Source,
			Link:           r.Link,
			Sector:         r.Sector,
			Industry:       r.Industry,
			PortfolioID:    pid,
			PublishedAt:    r.PublishedAt,
			FirstSeenAt:    now,
			MarketSession:  models.SessionFor(r.PublishedAt),
			AgeMinutes:     int(now.Sub(r.PublishedAt).Minutes()),
		}

		priors, err := p.store.HeadlinesForTickerSince(h.Ticker, now.Add(-time.Duration(cfg.Dedup.LookbackHours)*time.Hour))
		if err != nil {
			return affected, err
		}
		priors = append(priors, inBatchForTicker(batch, h.Ticker)...)
		if primary := matcher.FindPrimary(&h, priors); primary != nil {
			h.IsDuplicate = true
			h.ParentHeadlineID = primary.ID
		} else {
			h.IsPrimarySource = true
		}

		if err := p.store.UpsertHeadline(&h); err != nil {
			return affected, err
		}
		observ.IncCounter("headlines_persisted_total", map[string]string{"source": h.Source})
		batch = append(batch, h)

		// Duplicates are never scored; a primary with no votes stays in
		// the unscored backlog for next cycle.
		if !h.IsDuplicate && p.scoreHeadline(ctx, &h) {
			affected[h.Ticker] = true
		}
	}
	return affected, nil
}

// scoreHeadline fans the headline out to the models and persists votes and
// the consensus aggregate. Returns false when no votes arrived.
func (p *Pipeline) scoreHeadline(ctx context.Context, h *models.Headline) bool {
	votes := p.scorer.ScoreHeadline(ctx, h)
	for i := range votes {
		if err := p.store.PutVote(&votes[i]); err != nil {
			observ.LogError("vote_persist_failed", err, map[string]any{"headline_id": h.ID})
		}
	}
	agg := p.scorer.Consensus(h, votes)
	if agg == nil {
		return false
	}
	if err := p.store.UpsertAggregate(agg); err != nil {
		observ.LogError("aggregate_persist_failed", err, map[string]any{"headline_id": h.ID})
		return false
	}
	return true
}

// unscoredPrimaries returns non-duplicate headlines inside the lookback
// window that still have no aggregate.
func (p *Pipeline) unscoredPrimaries(cfg config.Root) ([]models.Headline, error) {
	since := time.Now().UTC().Add(-time.Duration(cfg.Dedup.LookbackHours) * time.Hour)
	hs, err := p.store.HeadlinesSince(since)
	if err != nil {
		return nil, err
	}
	var out []models.Headline
	for _, h := range hs {
		if h.IsDuplicate {
			continue
		}
		agg, err := p.store.AggregateForHeadline(h.ID)
		if err != nil {
			return nil, err
		}
		if agg == nil {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeenAt.Before(out[j].FirstSeenAt) })
	return out, nil
}

// recompute rebuilds the three rollup windows for a ticker from a single
// snapshot read, then runs opportunity generation on the result.
func (p *Pipeline) recompute(ctx context.Context, ticker string, cfg config.Root, now time.Time) error {
	aggs, err := p.store.AggregatesForTickerSince(ticker, now.Add(-72*time.Hour))
	if err != nil {
		return err
	}

	var momentumStat *models.TickerBucketStat
	for _, w := range []models.StatWindow{models.WindowDaily, models.WindowIntraday, models.WindowMomentum} {
		st := rollup.Compute(ticker, w, aggs, now)
		if st == nil {
			continue
		}
		if err := p.store.UpsertStat(st); err != nil {
			return err
		}
		if w == models.WindowMomentum {
			momentumStat = st
		}
	}

	var recent []models.SentimentAggregate
	cutoff := now.Add(-time.Duration(cfg.Opportunity.LookbackHours) * time.Hour)
	for _, a := range aggs {
		if !a.HeadlineAt.Before(cutoff) {
			recent = append(recent, a)
		}
	}
	if len(recent) == 0 {
		return nil
	}

	var mc *gateway.MarketContext
	if p.market != nil {
		if fetched, err := p.market.FetchMarketContext(ctx, ticker); err == nil {
			mc = fetched
		} else {
			observ.LogError("market_context_unavailable", err, map[string]any{"ticker": ticker})
		}
	}

	_, err = p.generator.Evaluate(&opportunity.Signal{
		Ticker:     ticker,
		Aggregates: recent,
		Momentum:   momentumStat,
		Market:     mc,
		Now:        now,
	}, cfg.Opportunity)
	return err
}

// Hygiene prunes headlines past retention, drops their votes and
// aggregates, expires stale opportunities, and recomputes rollups for the
// tickers the cleanup touched.
func (p *Pipeline) Hygiene(ctx context.Context) error {
	cfg := p.cfgFn()
	now := time.Now().UTC()
	cutoff := now.Add(-time.Duration(cfg.RetentionHours) * time.Hour)

	// Record affected tickers before the rows disappear.
	stale, err := p.store.HeadlinesSince(time.Time{})
	if err != nil {
		return err
	}
	affected := map[string]bool{}
	for _, h := range stale {
		if h.FirstSeenAt.Before(cutoff) {
			affected[h.Ticker] = true
		}
	}

	ids, err := p.store.DeleteHeadlinesBefore(cutoff)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := p.store.DeleteVotesForHeadline(id); err != nil {
			observ.LogError("orphan_vote_cleanup_failed", err, map[string]any{"headline_id": id})
		}
		if err := p.store.DeleteAggregate(id); err != nil {
			observ.LogError("orphan_aggregate_cleanup_failed", err, map[string]any{"headline_id": id})
		}
	}

	expired, err := p.store.ExpireOpportunitiesBefore(now)
	if err != nil {
		return err
	}

	for ticker := range affected {
		if err := p.recompute(ctx, ticker, cfg, now); err != nil {
			observ.LogError("recompute_failed", err, map[string]any{"ticker": ticker})
		}
	}

	observ.Log("hygiene_complete", map[string]any{
		"headlines_pruned":      len(ids),
		"opportunities_expired": expired,
	})
	return nil
}

func inBatchForTicker(batch []models.Headline, ticker string) []models.Headline {
	var out []models.Headline
	for _, h := range batch {
		if h.Ticker == ticker {
			out = append(out, h)
		}
	}
	return out
}
