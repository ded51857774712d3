// Package catalog is the source of truth for model → provider, tier, and
// WTU multiplier mappings (spec §4.1, C1). Every caller asks the catalog
// for models "by tier" rather than hardcoding provider/model names; the
// fallback order returned by GetModelsByTier is deterministic and defines
// the order in which the Tiered Caller (package tiered) retries providers.
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Tier is a capability class used by callers in place of model names.
type Tier string

const (
	TierLight     Tier = "light"
	TierStandard  Tier = "standard"
	TierPremium   Tier = "premium"
	TierSearch    Tier = "search"
	TierEmbedding Tier = "embedding"
)

// Provider identifies which SDK/connector backs a model.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderGoogle     Provider = "google"
	ProviderPerplexity Provider = "perplexity"
)

// ModelEntry is an administrative, process-wide-cached catalog row.
// It is never mutated mid-request: the catalog is read-only to everyone
// except an explicit admin mutation (Upsert/Deactivate) that invalidates
// the cache.
type ModelEntry struct {
	ID       string
	Alias    string // unique identifier used by callers
	Provider Provider
	Model    string // provider-specific model name
	Tier     Tier

	InputWTUMultiplier  float64
	OutputWTUMultiplier float64

	IsActive bool

	PriceInputPerMillion  *float64
	PriceOutputPerMillion *float64

	// Order is the position within its tier used to break ties when the
	// backing store does not otherwise guarantee stable ordering.
	Order int
}

// NoModelsForTierError is raised when a tier has zero active entries.
type NoModelsForTierError struct {
	Tier Tier
}

func (e *NoModelsForTierError) Error() string {
	return "no active models for tier: " + string(e.Tier)
}

// Source is the backing store for catalog rows (e.g. a Postgres admin
// table). The in-process Catalog caches Source's output with a bounded
// TTL and serves List* calls from that cache.
type Source interface {
	ListModels(ctx context.Context) ([]ModelEntry, error)
}

// StaticSource is a Source backed by an in-memory slice, suitable for
// tests and for deployments that configure the catalog via a config file
// rather than a database.
type StaticSource struct {
	entries []ModelEntry
}

// NewStaticSource builds a StaticSource from entries, assigning IDs and
// per-tier Order where unset.
func NewStaticSource(entries []ModelEntry) *StaticSource {
	counters := map[Tier]int{}
	out := make([]ModelEntry, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.InputWTUMultiplier == 0 {
			e.InputWTUMultiplier = 1.0
		}
		if e.OutputWTUMultiplier == 0 {
			e.OutputWTUMultiplier = 1.0
		}
		if e.Order == 0 {
			counters[e.Tier]++
			e.Order = counters[e.Tier]
		}
		out[i] = e
	}
	return &StaticSource{entries: out}
}

func (s *StaticSource) ListModels(ctx context.Context) ([]ModelEntry, error) {
	out := make([]ModelEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// Catalog is the process-wide, in-memory-cached read model over Source.
type Catalog struct {
	mu     sync.RWMutex
	logger zerolog.Logger
	source Source

	ttl       time.Duration
	byTier    map[Tier][]ModelEntry
	byAlias   map[string]ModelEntry
	loadedAt  time.Time
}

// New creates a Catalog backed by source, refreshing the in-memory cache
// on first use and whenever it is older than ttl.
func New(logger zerolog.Logger, source Source, ttl time.Duration) *Catalog {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Catalog{
		logger: logger.With().Str("component", "catalog").Logger(),
		source: source,
		ttl:    ttl,
	}
}

// Refresh forces a reload from the backing Source, invalidating the cache.
// Admin mutations to the backing store must call Refresh for the in-memory
// cache to observe them before the TTL naturally expires.
func (c *Catalog) Refresh(ctx context.Context) error {
	entries, err := c.source.ListModels(ctx)
	if err != nil {
		return err
	}

	byTier := make(map[Tier][]ModelEntry)
	byAlias := make(map[string]ModelEntry)
	for _, e := range entries {
		byAlias[e.Alias] = e
		if !e.IsActive {
			continue
		}
		byTier[e.Tier] = append(byTier[e.Tier], e)
	}
	for tier := range byTier {
		list := byTier[tier]
		sort.SliceStable(list, func(i, j int) bool { return list[i].Order < list[j].Order })
		byTier[tier] = list
	}

	c.mu.Lock()
	c.byTier = byTier
	c.byAlias = byAlias
	c.loadedAt = time.Now()
	c.mu.Unlock()

	c.logger.Debug().Int("models", len(entries)).Msg("catalog refreshed")
	return nil
}

func (c *Catalog) ensureFresh(ctx context.Context) {
	c.mu.RLock()
	stale := c.loadedAt.IsZero() || time.Since(c.loadedAt) > c.ttl
	c.mu.RUnlock()
	if !stale {
		return
	}
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("catalog refresh failed, serving stale cache")
	}
}

// GetModelsByTier returns the ordered, active models for a tier. The
// ordering is stable across calls within a deployment and defines the
// fallback sequence used by the Tiered Caller.
func (c *Catalog) GetModelsByTier(ctx context.Context, tier Tier) ([]ModelEntry, error) {
	c.ensureFresh(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()
	models := c.byTier[tier]
	if len(models) == 0 {
		return nil, &NoModelsForTierError{Tier: tier}
	}
	out := make([]ModelEntry, len(models))
	copy(out, models)
	return out, nil
}

// GetModelByAlias returns a catalog row by alias, or ok=false if absent.
// Inactive models are still resolvable by alias (e.g. for historical
// WTU multiplier lookups) but are never returned by GetModelsByTier.
func (c *Catalog) GetModelByAlias(ctx context.Context, alias string) (ModelEntry, bool) {
	c.ensureFresh(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byAlias[alias]
	return e, ok
}

// LookupMultipliers satisfies wtu.MultiplierLookup without an import
// cycle: wtu depends on this narrow method set structurally, not on the
// catalog package itself.
func (c *Catalog) LookupMultipliers(ctx context.Context, alias string) (inputMult, outputMult float64, found bool) {
	e, ok := c.GetModelByAlias(ctx, alias)
	if !ok {
		return 0, 0, false
	}
	return e.InputWTUMultiplier, e.OutputWTUMultiplier, true
}

// GetActiveModels returns all active models, optionally filtered by kind
// (provider). An empty kind returns every active model across tiers.
func (c *Catalog) GetActiveModels(ctx context.Context, kind Provider) []ModelEntry {
	c.ensureFresh(ctx)

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []ModelEntry
	for _, models := range c.byTier {
		for _, m := range models {
			if kind != "" && m.Provider != kind {
				continue
			}
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].Order < out[j].Order
	})
	return out
}
