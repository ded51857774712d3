package agent

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/agentctx"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/catalog"
)

// CatalogLookup is the narrow catalog dependency the default model
// selector needs.
type CatalogLookup interface {
	GetModelByAlias(ctx context.Context, alias string) (catalog.ModelEntry, bool)
	GetModelsByTier(ctx context.Context, tier catalog.Tier) ([]catalog.ModelEntry, error)
}

// CatalogSelector picks a model alias per user preference and task
// complexity, grounded on the original's AIAgent._select_optimal_model:
// an explicit user default model wins if active, then preferred/
// avoided providers narrow the field, then complexity/quality
// preference selects a tier (quality work goes to the premium tier,
// fast/low-complexity work to the light tier, everything else to
// standard).
type CatalogSelector struct {
	logger  zerolog.Logger
	catalog CatalogLookup
}

// NewCatalogSelector wires a CatalogSelector.
func NewCatalogSelector(logger zerolog.Logger, catalogLookup CatalogLookup) *CatalogSelector {
	return &CatalogSelector{
		logger:  logger.With().Str("component", "model_selector").Logger(),
		catalog: catalogLookup,
	}
}

// SelectModel implements ModelSelector.
func (s *CatalogSelector) SelectModel(ctx context.Context, prefs agentctx.UserPreferences, complexity int) (string, string, error) {
	if prefs.DefaultModel != "" {
		if entry, ok := s.catalog.GetModelByAlias(ctx, prefs.DefaultModel); ok && entry.IsActive {
			return entry.Alias, "user_preference", nil
		}
	}

	tier := catalog.TierStandard
	switch {
	case complexity >= 4 || prefs.QualityPreference == "quality":
		tier = catalog.TierPremium
	case complexity <= 2 || prefs.QualityPreference == "speed":
		tier = catalog.TierLight
	}

	models, err := s.catalog.GetModelsByTier(ctx, tier)
	if err != nil || len(models) == 0 {
		s.logger.Warn().Err(err).Str("tier", string(tier)).Msg("no active models for preferred tier, falling back to standard")
		models, err = s.catalog.GetModelsByTier(ctx, catalog.TierStandard)
		if err != nil || len(models) == 0 {
			return "", "", err
		}
	}

	filtered := filterModels(models, prefs)
	if len(filtered) == 0 {
		filtered = models
	}

	return filtered[0].Alias, "tier_selection:" + string(tier), nil
}

func filterModels(models []catalog.ModelEntry, prefs agentctx.UserPreferences) []catalog.ModelEntry {
	out := models

	if len(prefs.PreferredProviders) > 0 {
		preferred := make(map[string]bool, len(prefs.PreferredProviders))
		for _, p := range prefs.PreferredProviders {
			preferred[p] = true
		}
		var byPreference []catalog.ModelEntry
		for _, m := range out {
			if preferred[string(m.Provider)] {
				byPreference = append(byPreference, m)
			}
		}
		if len(byPreference) > 0 {
			out = byPreference
		}
	}

	if len(prefs.AvoidModels) > 0 {
		avoid := make(map[string]bool, len(prefs.AvoidModels))
		for _, a := range prefs.AvoidModels {
			avoid[a] = true
		}
		var filtered []catalog.ModelEntry
		for _, m := range out {
			if !avoid[m.Alias] {
				filtered = append(filtered, m)
			}
		}
		out = filtered
	}

	return out
}
