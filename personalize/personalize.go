// Package personalize implements the Personalizer (spec §4.6, C6):
// ranking the Summary Cache's unpersonalized candidates against a
// user's tag preferences and global usage stats. Personalization is
// recomputed on every read, cache hit or miss alike — the cache never
// stores a personalized order.
package personalize

import (
	"math"
	"strings"
	"time"
)

// Weights are the linear combination coefficients for the final score.
// Parameterized per the spec's design notes rather than hardcoded, so
// they can be tuned via config without a code change.
type Weights struct {
	Personalization float64 // default 0.5
	Recency         float64 // default 0.2
	Popularity      float64 // default 0.1
}

// DefaultWeights returns the spec's baseline coefficients.
func DefaultWeights() Weights {
	return Weights{Personalization: 0.5, Recency: 0.2, Popularity: 0.1}
}

// TagUsage is one row of a user's tag-usage history, spec §4.6's
// UserTagUsage: `{tag, embedding, use_count, last_used_at}`. Embedding
// may be zero-valued for a tag whose vector hasn't been computed yet —
// the spec allows that computation to be lazy or deferred to a
// background worker.
type TagUsage struct {
	Tag        string
	Embedding  []float64
	UseCount   int
	LastUsedAt time.Time
}

// UserProfile is the subset of a user's personalization state this
// package needs: their per-tag usage history, one row per tag they
// have explicitly engaged with.
type UserProfile struct {
	Tags []TagUsage
}

// Candidate is the narrow view of cache.Candidate this package scores.
// Personalize does not import package cache to avoid a dependency edge
// back toward it; callers adapt cache.Candidate into this shape.
type Candidate struct {
	ID             string
	Tags           []string
	TagEmbedding   []float64
	GlobalUseCount int
	LastGlobalUse  time.Time
}

// Scored pairs a candidate with its computed components, so callers can
// log or expose the breakdown without recomputing it.
type Scored struct {
	Candidate   Candidate
	Base        float64
	Personalize float64
	Recency     float64
	Popularity  float64
	Final       float64
}

// Personalizer scores and ranks candidates for a given user.
type Personalizer struct {
	weights      Weights
	normConstant float64 // default 0.25, divides the raw personalization term before clamping
}

// New creates a Personalizer with explicit weights and normalization
// constant; pass personalize.DefaultWeights() and 0.25 for spec defaults.
func New(weights Weights, normConstant float64) *Personalizer {
	if normConstant <= 0 {
		normConstant = 0.25
	}
	return &Personalizer{weights: weights, normConstant: normConstant}
}

// Rank scores every candidate against user and returns them sorted
// descending by final score, ties broken by original index (stable).
func (p *Personalizer) Rank(user UserProfile, candidates []Candidate, now time.Time) []Scored {
	k := len(candidates)
	topGlobal := topGlobalUseCount(candidates)

	out := make([]Scored, k)
	for i, c := range candidates {
		out[i] = p.score(user, c, i, k, topGlobal, now)
	}

	// Stable insertion sort by Final descending: k is always small (a
	// handful of summary variants), so O(k^2) is irrelevant and a stable
	// sort keeps ties in their original cache order.
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j].Final > out[j-1].Final {
			out[j], out[j-1] = out[j-1], out[j]
			j--
		}
	}
	return out
}

func topGlobalUseCount(candidates []Candidate) int {
	top := 0
	for _, c := range candidates {
		if c.GlobalUseCount > top {
			top = c.GlobalUseCount
		}
	}
	return top
}

func (p *Personalizer) score(user UserProfile, c Candidate, index, k, topGlobal int, now time.Time) Scored {
	denom := float64(k - 1)
	if denom < 1 {
		denom = 1
	}
	base := 1.0 - 0.9*float64(index)/denom

	var rawPersonalization float64
	for _, tu := range user.Tags {
		sim := cosineSimilarity(tu.Embedding, c.TagEmbedding)
		raw := sim * math.Log(1+float64(tu.UseCount))
		if raw > rawPersonalization {
			rawPersonalization = raw
		}
	}
	personalization := clamp01(rawPersonalization / p.normConstant)

	recency := 0.0
	if match, ok := matchingTagUsage(user.Tags, c.Tags); ok && !match.LastUsedAt.IsZero() {
		days := now.Sub(match.LastUsedAt).Hours() / 24
		recency = math.Exp(-days / 30)
	}

	popularity := 0.0
	if topGlobal > 0 {
		popularity = float64(c.GlobalUseCount) / float64(topGlobal)
	}

	final := base + p.weights.Personalization*personalization + p.weights.Recency*recency + p.weights.Popularity*popularity

	return Scored{
		Candidate:   c,
		Base:        base,
		Personalize: personalization,
		Recency:     recency,
		Popularity:  popularity,
		Final:       final,
	}
}

// matchingTagUsage returns the first of user's tag-usage rows whose tag
// matches one of candidateTags case-insensitively.
func matchingTagUsage(userTags []TagUsage, candidateTags []string) (TagUsage, bool) {
	for _, tu := range userTags {
		for _, ct := range candidateTags {
			if strings.EqualFold(tu.Tag, ct) {
				return tu, true
			}
		}
	}
	return TagUsage{}, false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// cosineSimilarity is grounded on the teacher's caching.cosineSimilarity:
// returns 0 for mismatched or empty vectors rather than erroring.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
