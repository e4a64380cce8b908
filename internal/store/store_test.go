package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bizarik/brkTrd-zr0/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHeadlineHashLookup(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	h := &models.Headline{
		ID:          models.NewID(),
		Ticker:      "AAPL",
		Text:        "Apple beats earnings expectations",
		Hash:        "abc123",
		Source:      "sim",
		PublishedAt: now,
		FirstSeenAt: now,
	}
	require.NoError(t, s.UpsertHeadline(h))

	got, err := s.HeadlineByHash("abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, h.ID, got.ID)

	missing, err := s.HeadlineByHash("nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRetentionDeleteReturnsIDs(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	old := &models.Headline{ID: models.NewID(), Ticker: "TSLA", Hash: "h1", FirstSeenAt: now.Add(-100 * time.Hour)}
	fresh := &models.Headline{ID: models.NewID(), Ticker: "TSLA", Hash: "h2", FirstSeenAt: now.Add(-1 * time.Hour)}
	require.NoError(t, s.UpsertHeadline(old))
	require.NoError(t, s.UpsertHeadline(fresh))

	ids, err := s.DeleteHeadlinesBefore(now.Add(-72 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{old.ID}, ids)

	left, err := s.HeadlinesSince(now.Add(-200 * time.Hour))
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, fresh.ID, left[0].ID)
}

func TestVotesRoundTripAndOrphanCleanup(t *testing.T) {
	s := testStore(t)
	hid := models.NewID()
	for _, m := range []string{"m1", "m2"} {
		require.NoError(t, s.PutVote(&models.ModelVote{
			ID:         models.NewID(),
			HeadlineID: hid,
			Model:      m,
			Sentiment:  0.4,
			Confidence: 0.7,
		}))
	}

	vs, err := s.VotesForHeadline(hid)
	require.NoError(t, err)
	require.Len(t, vs, 2)

	require.NoError(t, s.DeleteVotesForHeadline(hid))
	vs, err = s.VotesForHeadline(hid)
	require.NoError(t, err)
	require.Empty(t, vs)
}

func TestAggregateTickerWindowQuery(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	in := &models.SentimentAggregate{HeadlineID: models.NewID(), Ticker: "NVDA", AvgSentiment: 0.6, HeadlineAt: now.Add(-2 * time.Hour)}
	out := &models.SentimentAggregate{HeadlineID: models.NewID(), Ticker: "NVDA", AvgSentiment: -0.2, HeadlineAt: now.Add(-30 * time.Hour)}
	require.NoError(t, s.UpsertAggregate(in))
	require.NoError(t, s.UpsertAggregate(out))

	got, err := s.AggregatesForTickerSince("NVDA", now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, in.HeadlineID, got[0].HeadlineID)
}

func TestActiveOpportunityPerDirection(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	long := &models.Opportunity{
		ID: models.NewID(), Ticker: "AMD", Direction: models.DirectionLong,
		Status: models.StatusActive, CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour),
	}
	require.NoError(t, s.UpsertOpportunity(long))

	got, err := s.ActiveOpportunity("AMD", models.DirectionLong)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, long.ID, got.ID)

	none, err := s.ActiveOpportunity("AMD", models.DirectionShort)
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestExpireOpportunities(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()

	stale := &models.Opportunity{
		ID: models.NewID(), Ticker: "MSFT", Direction: models.DirectionLong,
		Status: models.StatusActive, CreatedAt: now.Add(-30 * time.Hour), ExpiresAt: now.Add(-6 * time.Hour),
	}
	live := &models.Opportunity{
		ID: models.NewID(), Ticker: "MSFT", Direction: models.DirectionShort,
		Status: models.StatusActive, CreatedAt: now, ExpiresAt: now.Add(18 * time.Hour),
	}
	require.NoError(t, s.UpsertOpportunity(stale))
	require.NoError(t, s.UpsertOpportunity(live))

	n, err := s.ExpireOpportunitiesBefore(now)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := s.Opportunity(stale.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusExpired, got.Status)

	stillLive, err := s.Opportunity(live.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusActive, stillLive.Status)
}
