package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadDefaults(t *testing.T) {
	p := writeConfig(t, "portfolios: [1, 2]\n")
	c, err := Load(p)
	require.NoError(t, err)

	require.Equal(t, []int{1, 2}, c.Portfolios)
	require.Equal(t, 0.85, c.Dedup.Threshold)
	require.Equal(t, 72, c.Dedup.LookbackHours)
	require.Equal(t, 5, c.Scheduler.IngestEveryMinutes)
	require.Equal(t, 60, c.Scheduler.HygieneEveryMinutes)
	require.Equal(t, 3, c.Scheduler.MaxPortfolioFanout)
	require.Equal(t, 0.3, c.Opportunity.LongThreshold)
	require.Equal(t, -0.3, c.Opportunity.ShortThreshold)
	require.Equal(t, 0.5, c.Sentiment.MinQuorumFraction)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	p := writeConfig(t, "portfolioz: [1]\n")
	_, err := Load(p)
	require.Error(t, err)
}

func TestLoadValidatesModels(t *testing.T) {
	p := writeConfig(t, `
sentiment:
  models:
    - id: llama-3.3-70b
      provider: bogus
      weight: 1.0
      enabled: true
`)
	_, err := Load(p)
	require.Error(t, err)
}

func TestLoadAcceptsModelCatalog(t *testing.T) {
	p := writeConfig(t, `
sentiment:
  models:
    - id: llama-3.3-70b-versatile
      provider: groq
      weight: 1.0
      enabled: true
    - id: deepseek/deepseek-chat
      provider: openrouter
      weight: 0.8
      enabled: false
`)
	c, err := Load(p)
	require.NoError(t, err)
	require.Len(t, c.Sentiment.Models, 2)
	require.Len(t, c.Sentiment.EnabledModels(), 1)
	require.Equal(t, "llama-3.3-70b-versatile", c.Sentiment.EnabledModels()[0].ID)
}

func TestLoadRejectsOutOfRangeThreshold(t *testing.T) {
	p := writeConfig(t, "dedup:\n  threshold: 1.5\n")
	_, err := Load(p)
	require.Error(t, err)
}
