package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/bizarik/brkTrd-zr0/internal/models"
)

// Store wraps the embedded database and exposes typed accessors for the
// pipeline's records. All methods are safe for concurrent use.
type Store struct {
	db *badgerhold.Store
}

// Open creates the data directory if needed and opens the database.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil
	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// --- headlines ---

// HeadlineByHash returns the stored headline with the given content hash, or
// nil when none exists. Hash lookup is the exact-duplicate fast path.
func (s *Store) HeadlineByHash(hash string) (*models.Headline, error) {
	var hs []models.Headline
	if err := s.db.Find(&hs, badgerhold.Where("Hash").Eq(hash).Index("Hash").Limit(1)); err != nil {
		return nil, err
	}
	if len(hs) == 0 {
		return nil, nil
	}
	return &hs[0], nil
}

func (s *Store) Headline(id string) (*models.Headline, error) {
	var h models.Headline
	err := s.db.Get(id, &h)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *Store) UpsertHeadline(h *models.Headline) error {
	return s.db.Upsert(h.ID, h)
}

// HeadlinesForTickerSince returns headlines for one ticker seen after the
// cutoff, duplicates included. Callers filter on IsDuplicate themselves.
func (s *Store) HeadlinesForTickerSince(ticker string, since time.Time) ([]models.Headline, error) {
	var hs []models.Headline
	err := s.db.Find(&hs, badgerhold.Where("Ticker").Eq(ticker).Index("Ticker").
		And("FirstSeenAt").Ge(since))
	return hs, err
}

func (s *Store) HeadlinesSince(since time.Time) ([]models.Headline, error) {
	var hs []models.Headline
	err := s.db.Find(&hs, badgerhold.Where("FirstSeenAt").Ge(since))
	return hs, err
}

// DeleteHeadlinesBefore removes headlines older than the cutoff and returns
// their ids so callers can clean up dependent records.
func (s *Store) DeleteHeadlinesBefore(cutoff time.Time) ([]string, error) {
	var hs []models.Headline
	if err := s.db.Find(&hs, badgerhold.Where("FirstSeenAt").Lt(cutoff)); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(hs))
	for _, h := range hs {
		if err := s.db.Delete(h.ID, &models.Headline{}); err != nil && err != badgerhold.ErrNotFound {
			return ids, err
		}
		ids = append(ids, h.ID)
	}
	return ids, nil
}

// --- model votes ---

func (s *Store) PutVote(v *models.ModelVote) error {
	return s.db.Upsert(v.ID, v)
}

func (s *Store) VotesForHeadline(headlineID string) ([]models.ModelVote, error) {
	var vs []models.ModelVote
	err := s.db.Find(&vs, badgerhold.Where("HeadlineID").Eq(headlineID).Index("HeadlineID"))
	return vs, err
}

func (s *Store) DeleteVotesForHeadline(headlineID string) error {
	err := s.db.DeleteMatching(&models.ModelVote{}, badgerhold.Where("HeadlineID").Eq(headlineID).Index("HeadlineID"))
	if err == badgerhold.ErrNotFound {
		return nil
	}
	return err
}

// --- sentiment aggregates ---

func (s *Store) UpsertAggregate(a *models.SentimentAggregate) error {
	return s.db.Upsert(a.HeadlineID, a)
}

func (s *Store) AggregateForHeadline(headlineID string) (*models.SentimentAggregate, error) {
	var a models.SentimentAggregate
	err := s.db.Get(headlineID, &a)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// AggregatesForTickerSince returns aggregates whose underlying headline was
// published after the cutoff.
func (s *Store) AggregatesForTickerSince(ticker string, since time.Time) ([]models.SentimentAggregate, error) {
	var as []models.SentimentAggregate
	err := s.db.Find(&as, badgerhold.Where("Ticker").Eq(ticker).Index("Ticker").
		And("HeadlineAt").Ge(since))
	return as, err
}

func (s *Store) DeleteAggregate(headlineID string) error {
	err := s.db.Delete(headlineID, &models.SentimentAggregate{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	return err
}

// --- ticker bucket stats ---

func (s *Store) UpsertStat(st *models.TickerBucketStat) error {
	return s.db.Upsert(st.Key, st)
}

func (s *Store) Stat(ticker string, window models.StatWindow) (*models.TickerBucketStat, error) {
	var st models.TickerBucketStat
	err := s.db.Get(models.StatKey(ticker, window), &st)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) StatsForTicker(ticker string) ([]models.TickerBucketStat, error) {
	var sts []models.TickerBucketStat
	err := s.db.Find(&sts, badgerhold.Where("Ticker").Eq(ticker))
	return sts, err
}

// --- opportunities ---

func (s *Store) UpsertOpportunity(o *models.Opportunity) error {
	return s.db.Upsert(o.ID, o)
}

func (s *Store) Opportunity(id string) (*models.Opportunity, error) {
	var o models.Opportunity
	err := s.db.Get(id, &o)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ActiveOpportunity returns the open opportunity for a ticker and direction,
// if any. At most one is kept active per pair; updates go through it.
func (s *Store) ActiveOpportunity(ticker string, dir models.Direction) (*models.Opportunity, error) {
	var ops []models.Opportunity
	err := s.db.Find(&ops, badgerhold.Where("Ticker").Eq(ticker).Index("Ticker").
		And("Direction").Eq(dir).
		And("Status").Eq(models.StatusActive))
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, nil
	}
	newest := ops[0]
	for _, o := range ops[1:] {
		if o.CreatedAt.After(newest.CreatedAt) {
			newest = o
		}
	}
	return &newest, nil
}

func (s *Store) OpportunitiesByStatus(status models.OpportunityStatus) ([]models.Opportunity, error) {
	var ops []models.Opportunity
	err := s.db.Find(&ops, badgerhold.Where("Status").Eq(status).Index("Status"))
	return ops, err
}

func (s *Store) AllOpportunities() ([]models.Opportunity, error) {
	var ops []models.Opportunity
	err := s.db.Find(&ops, badgerhold.Where("ID").Ne(""))
	return ops, err
}

// ExpireOpportunitiesBefore marks active opportunities past their expiry as
// expired and returns how many were flipped.
func (s *Store) ExpireOpportunitiesBefore(now time.Time) (int, error) {
	active, err := s.OpportunitiesByStatus(models.StatusActive)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range active {
		if active[i].ExpiresAt.After(now) {
			continue
		}
		active[i].Status = models.StatusExpired
		active[i].UpdatedAt = now
		if err := s.db.Upsert(active[i].ID, &active[i]); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
