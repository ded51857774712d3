// Package summarize implements the Summarization Pipeline (spec §4.7,
// C7): three sequential LIGHT-tier LLM calls (summary, tag candidates,
// category candidates) on cache miss, content-addressed caching of the
// unpersonalized result, and personalized tag/category selection on
// every read whether the call was a hit or a miss.
package summarize

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/cache"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/catalog"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/llmgateway"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/personalize"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/tiered"
)

// Caller is the narrow Tiered Caller dependency this package needs.
type Caller interface {
	Call(ctx context.Context, tier catalog.Tier, req llmgateway.ChatRequest) (tiered.CallResult, error)
}

// Accountant is the narrow WTU dependency this package needs.
type Accountant interface {
	ComputeWTUForAlias(ctx context.Context, alias string, inputTokens, outputTokens int) int
	ChargeActual(ctx context.Context, userID string, amount int) error
}

// ProfileLookup resolves a user's personalization profile.
type ProfileLookup interface {
	GetProfile(ctx context.Context, userID string) (personalize.UserProfile, error)
}

// UsageRecorder is the spec §4.6 record_usage write path: it feeds a
// user's accepted tags/category back into their personalization
// profile. personalize.InMemoryTagStore satisfies both this and
// ProfileLookup from the same underlying store.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, userID string, acceptedTags []string, acceptedCategory string) error
}

// Embedder computes embeddings for candidate tag/category text, used to
// score personalization similarity. Optional: when nil, personalization
// degrades to base+recency+popularity only.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Request describes one summarization call.
type Request struct {
	SourceType    cache.SourceType
	SourceURL     string
	RawBytes      []byte
	ExtractedText string
	UserID        string
	TagCount      int
	// Refresh bypasses the cache lookup entirely (spec §4.7 step 1),
	// forcing the 3-call LLM pipeline to run and overwrite whatever was
	// previously cached for this source.
	Refresh bool
}

// Result is the personalized, caller-facing summarization outcome.
type Result struct {
	Summary             string
	Tags                []string
	Category            string
	CandidateTags       []string
	CandidateCategories []string
	TotalWTU            int
	Cached              bool
}

// SummarizationFailedError wraps an underlying LLM failure, matching
// the original SummarizationFailedException's role as a single
// user-facing error for any pipeline-stage failure.
type SummarizationFailedError struct {
	Cause error
}

func (e *SummarizationFailedError) Error() string {
	return fmt.Sprintf("summarization failed: %v", e.Cause)
}

func (e *SummarizationFailedError) Unwrap() error { return e.Cause }

// Pipeline is the C7 Summarization Pipeline.
type Pipeline struct {
	logger       zerolog.Logger
	caller       Caller
	cacheEngine  *cache.Engine
	personalizer *personalize.Personalizer
	accountant   Accountant
	profiles     ProfileLookup
	embedder     Embedder
	usage        UsageRecorder
}

// New wires a Pipeline. embedder and usage may be nil.
func New(
	logger zerolog.Logger,
	caller Caller,
	cacheEngine *cache.Engine,
	personalizer *personalize.Personalizer,
	accountant Accountant,
	profiles ProfileLookup,
	embedder Embedder,
	usage UsageRecorder,
) *Pipeline {
	return &Pipeline{
		logger:       logger.With().Str("component", "summarization_pipeline").Logger(),
		caller:       caller,
		cacheEngine:  cacheEngine,
		personalizer: personalizer,
		accountant:   accountant,
		profiles:     profiles,
		embedder:     embedder,
		usage:        usage,
	}
}

// Summarize returns a personalized summary for req, generating it via
// the LLM pipeline on a cache/content-hash miss and reusing the cached
// unpersonalized result (re-personalized fresh) on a hit.
func (p *Pipeline) Summarize(ctx context.Context, req Request) (Result, error) {
	tagCount := req.TagCount
	if tagCount <= 0 {
		tagCount = 5
	}

	key := cache.ComputeCacheKey(req.SourceType, req.SourceURL, req.RawBytes)
	contentHash := cache.ComputeContentHash(req.ExtractedText)

	if !req.Refresh {
		entry, hit, err := p.cacheEngine.Lookup(ctx, key, contentHash)
		if err != nil {
			return Result{}, err
		}
		if hit {
			result, err := p.personalizeEntry(ctx, entry, req.UserID, tagCount)
			if err != nil {
				return Result{}, err
			}
			result.Cached = true
			return result, nil
		}
	}

	entry, totalWTU, err := p.runPipeline(ctx, req)
	if err != nil {
		return Result{}, &SummarizationFailedError{Cause: err}
	}
	entry.Key = key
	entry.ContentHash = contentHash
	entry.ExtractedText = req.ExtractedText
	entry.CacheType = req.SourceType
	entry.WTUCost = totalWTU

	if err := p.cacheEngine.StoreEntry(ctx, entry); err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("failed to persist summary cache entry")
	}

	if req.UserID != "" {
		if err := p.accountant.ChargeActual(ctx, req.UserID, totalWTU); err != nil {
			p.logger.Warn().Err(err).Str("user_id", req.UserID).Msg("failed to charge WTU for summarization")
		}
	}

	result, err := p.personalizeEntry(ctx, entry, req.UserID, tagCount)
	if err != nil {
		return Result{}, err
	}
	result.TotalWTU = totalWTU
	result.Cached = false
	return result, nil
}

func (p *Pipeline) runPipeline(ctx context.Context, req Request) (cache.Entry, int, error) {
	summaryPrompt := fmt.Sprintf(defaultSummaryPrompt, req.ExtractedText)
	summaryResult, err := p.caller.Call(ctx, catalog.TierLight, llmgateway.ChatRequest{
		Messages:    []llmgateway.ChatMessage{{Role: "user", Content: summaryPrompt}},
		Temperature: 0.3,
		MaxTokens:   400,
	})
	if err != nil {
		return cache.Entry{}, 0, fmt.Errorf("summary call: %w", err)
	}
	summaryText := summaryResult.Response.Content

	tagPrompt := fmt.Sprintf(tagExtractionPrompt, summaryText)
	tagResult, err := p.caller.Call(ctx, catalog.TierLight, llmgateway.ChatRequest{
		Messages:    []llmgateway.ChatMessage{{Role: "user", Content: tagPrompt}},
		Temperature: 0.2,
		MaxTokens:   200,
	})
	if err != nil {
		return cache.Entry{}, 0, fmt.Errorf("tag extraction call: %w", err)
	}

	categoryPrompt := fmt.Sprintf(categoryPredictionPrompt, summaryText)
	categoryResult, err := p.caller.Call(ctx, catalog.TierLight, llmgateway.ChatRequest{
		Messages:    []llmgateway.ChatMessage{{Role: "user", Content: categoryPrompt}},
		Temperature: 0.2,
		MaxTokens:   150,
	})
	if err != nil {
		return cache.Entry{}, 0, fmt.Errorf("category prediction call: %w", err)
	}

	candidateTags := parseJSONArray(tagResult.Response.Content)
	candidateCategories := parseJSONArray(categoryResult.Response.Content)

	totalWTU := p.accountant.ComputeWTUForAlias(ctx, summaryResult.Alias, summaryResult.Response.InputTokens, summaryResult.Response.OutputTokens) +
		p.accountant.ComputeWTUForAlias(ctx, tagResult.Alias, tagResult.Response.InputTokens, tagResult.Response.OutputTokens) +
		p.accountant.ComputeWTUForAlias(ctx, categoryResult.Alias, categoryResult.Response.InputTokens, categoryResult.Response.OutputTokens)

	entry := cache.Entry{
		Summary:             summaryText,
		CandidateTags:       toCandidates(candidateTags),
		CandidateCategories: toCandidates(candidateCategories),
	}
	return entry, totalWTU, nil
}

func toCandidates(values []string) []cache.Candidate {
	out := make([]cache.Candidate, len(values))
	for i, v := range values {
		out[i] = cache.Candidate{ID: v, Tags: []string{v}}
	}
	return out
}

func candidateStrings(c []cache.Candidate) []string {
	out := make([]string, len(c))
	for i, cand := range c {
		out[i] = cand.ID
	}
	return out
}

func (p *Pipeline) personalizeEntry(ctx context.Context, entry cache.Entry, userID string, tagCount int) (Result, error) {
	profile, err := p.resolveProfile(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	personalizedTags := p.rankAndTruncate(ctx, profile, entry.CandidateTags, tagCount)
	personalizedCategories := p.rankAndTruncate(ctx, profile, entry.CandidateCategories, 1)

	category := ""
	if len(personalizedCategories) > 0 {
		category = personalizedCategories[0]
	}

	return Result{
		Summary:             entry.Summary,
		Tags:                personalizedTags,
		Category:            category,
		CandidateTags:       candidateStrings(entry.CandidateTags),
		CandidateCategories: candidateStrings(entry.CandidateCategories),
	}, nil
}

// RecordUsage is the spec §4.6 record_usage operation: it feeds a
// user's accepted tags and category back into their personalization
// profile so future rankings favor what they actually kept. A nil
// UsageRecorder (no tag-usage store wired) makes this a no-op.
func (p *Pipeline) RecordUsage(ctx context.Context, userID string, acceptedTags []string, acceptedCategory string) error {
	if p.usage == nil || userID == "" {
		return nil
	}
	return p.usage.RecordUsage(ctx, userID, acceptedTags, acceptedCategory)
}

func (p *Pipeline) resolveProfile(ctx context.Context, userID string) (personalize.UserProfile, error) {
	if userID == "" || p.profiles == nil {
		return personalize.UserProfile{}, nil
	}
	return p.profiles.GetProfile(ctx, userID)
}

func (p *Pipeline) rankAndTruncate(ctx context.Context, profile personalize.UserProfile, candidates []cache.Candidate, limit int) []string {
	if len(candidates) == 0 {
		return nil
	}

	scored := p.personalizer.Rank(profile, toPersonalizeCandidates(ctx, p.embedder, candidates), time.Now().UTC())
	if limit > len(scored) {
		limit = len(scored)
	}
	out := make([]string, limit)
	for i := 0; i < limit; i++ {
		out[i] = scored[i].Candidate.ID
	}
	return out
}

func toPersonalizeCandidates(ctx context.Context, embedder Embedder, candidates []cache.Candidate) []personalize.Candidate {
	var embeddings [][]float64
	if embedder != nil {
		texts := make([]string, len(candidates))
		for i, c := range candidates {
			texts[i] = c.ID
		}
		if emb, err := embedder.Embed(ctx, texts); err == nil {
			embeddings = emb
		}
	}

	out := make([]personalize.Candidate, len(candidates))
	for i, c := range candidates {
		pc := personalize.Candidate{
			ID:             c.ID,
			Tags:           c.Tags,
			GlobalUseCount: c.GlobalUseCount,
			LastGlobalUse:  c.LastGlobalUse,
		}
		if i < len(embeddings) {
			pc.TagEmbedding = embeddings[i]
		}
		out[i] = pc
	}
	return out
}
