package sentiment

import (
	"context"
	"sync"
	"time"

	"github.com/bizarik/brkTrd-zr0/internal/gateway"
	"github.com/bizarik/brkTrd-zr0/internal/observ"
)

// fallback model lists, used when a provider's catalog cannot be fetched
// and nothing usable is cached.
var fallbackModels = map[string][]string{
	"groq": {
		"llama-3.3-70b-versatile",
		"llama-3.1-8b-instant",
		"qwen/qwen3-32b",
	},
	"openrouter": {
		"deepseek/deepseek-chat",
		"google/gemini-2.0-flash-001",
		"meta-llama/llama-3.3-70b-instruct",
	},
}

const catalogTTL = time.Hour

type catalogEntry struct {
	models    []gateway.CatalogModel
	fetchedAt time.Time
}

// Catalog caches each provider's model listing for an hour. Fetch failures
// fall back to the last good listing, then to the static lists.
type Catalog struct {
	source gateway.ModelCatalogSource

	mu      sync.RWMutex
	entries map[string]catalogEntry
}

func NewCatalog(source gateway.ModelCatalogSource) *Catalog {
	return &Catalog{source: source, entries: make(map[string]catalogEntry)}
}

func (c *Catalog) Models(ctx context.Context, provider string) []gateway.CatalogModel {
	c.mu.RLock()
	entry, ok := c.entries[provider]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < catalogTTL {
		return entry.models
	}

	models, err := c.source.ListModels(ctx, provider)
	if err == nil && len(models) > 0 {
		c.mu.Lock()
		c.entries[provider] = catalogEntry{models: models, fetchedAt: time.Now()}
		c.mu.Unlock()
		return models
	}
	if err != nil {
		observ.LogError("model_catalog_fetch_failed", err, map[string]any{"provider": provider})
	}

	// Stale cache beats the static fallback.
	if ok && len(entry.models) > 0 {
		return entry.models
	}
	ids := fallbackModels[provider]
	out := make([]gateway.CatalogModel, 0, len(ids))
	for _, id := range ids {
		out = append(out, gateway.CatalogModel{ID: id, Provider: provider})
	}
	return out
}

// Has reports whether the provider currently offers the model.
func (c *Catalog) Has(ctx context.Context, provider, modelID string) bool {
	for _, m := range c.Models(ctx, provider) {
		if m.ID == modelID {
			return true
		}
	}
	return false
}
