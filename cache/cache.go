// Package cache implements the Summary Cache (spec §4.5, C5): a
// content-addressed store of unpersonalized summary candidates, keyed
// by source identity, invalidated by a separate content hash so that
// re-extracted text (e.g. a webpage that changed) misses rather than
// serving stale candidates. Personalization (package personalize) is
// applied fresh on every read, including cache hits — the cache never
// stores a personalized ranking.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SourceType selects how a cache key is derived for a piece of content.
type SourceType string

const (
	SourceWebpage SourceType = "webpage"
	SourceYouTube SourceType = "youtube"
	SourcePDF     SourceType = "pdf"
)

// ComputeCacheKey derives the content-address used to look up cached
// candidates. Webpages and YouTube videos are addressed by their source
// URL (stable across re-fetches); PDFs have no stable URL, so they are
// addressed by the raw file bytes.
func ComputeCacheKey(sourceType SourceType, sourceURL string, rawBytes []byte) string {
	switch sourceType {
	case SourcePDF:
		return hashBytes(rawBytes)
	default:
		return hashBytes([]byte(sourceURL))
	}
}

// ComputeContentHash hashes the extracted text of a source. A cache hit
// whose stored ContentHash no longer matches the freshly extracted
// text's hash is treated as stale and must be recomputed.
func ComputeContentHash(extractedText string) string {
	return hashBytes([]byte(extractedText))
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Candidate is one unpersonalized tag or category option attached to a
// cached summary. Personalizer ranks a slice of these at read time; the
// cache itself never reorders or drops a candidate based on any one
// user's preferences.
type Candidate struct {
	ID             string // the tag or category text itself
	Tags           []string
	GlobalUseCount int
	LastGlobalUse  time.Time
}

// Entry is one cached, content-addressed summarization result: the
// generated summary plus the unpersonalized tag/category candidate
// pools the Personalizer ranks on every read.
type Entry struct {
	Key                 string
	CacheType           SourceType
	ContentHash         string
	ExtractedText       string
	Summary             string
	CandidateTags       []Candidate
	CandidateCategories []Candidate
	WTUCost             int // sum of the 3 LLM calls that produced this entry
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ExpiresAt           time.Time
}

// Store is the persistence boundary for cache entries. The in-memory
// implementation provides the full contract; RedisStore backs the same
// interface for multi-instance deployments, per the teacher's own
// documented in-memory-first / pluggable-backing-store pattern.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, key string) error
}

// InMemoryStore is a mutex-guarded Store.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]Entry)}
}

func (s *InMemoryStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok, nil
}

func (s *InMemoryStore) Put(ctx context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key] = entry
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Stats mirrors the teacher's CacheStats shape (atomics would be
// overkill here since every mutation already holds Engine's lock).
type Stats struct {
	Hits          int64
	Misses        int64
	StaleEvictions int64
}

// defaultTTL is the spec §3.1 default eviction window for a cache entry
// that doesn't specify its own.
const defaultTTL = 30 * 24 * time.Hour

// Engine is the C5 Summary Cache.
type Engine struct {
	mu     sync.Mutex
	logger zerolog.Logger
	store  Store
	stats  Stats
	ttl    time.Duration
}

// New wires an Engine over a Store. ttl of zero uses the spec's 30-day
// default; a negative ttl disables expiry entirely.
func New(logger zerolog.Logger, store Store, ttl time.Duration) *Engine {
	if ttl == 0 {
		ttl = defaultTTL
	}
	return &Engine{
		logger: logger.With().Str("component", "summary_cache").Logger(),
		store:  store,
		ttl:    ttl,
	}
}

// Lookup returns the cached entry for key if present and the stored
// content hash still matches currentContentHash. A mismatch is treated
// as a miss (and the stale entry is evicted) since the source content
// has changed since it was cached.
func (e *Engine) Lookup(ctx context.Context, key, currentContentHash string) (Entry, bool, error) {
	entry, ok, err := e.store.Get(ctx, key)
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		e.recordMiss()
		return Entry{}, false, nil
	}
	if !entry.ExpiresAt.IsZero() && time.Now().UTC().After(entry.ExpiresAt) {
		e.logger.Debug().Str("key", key).Time("expires_at", entry.ExpiresAt).Msg("cache entry expired")
		_ = e.store.Delete(ctx, key)
		e.recordStaleEviction()
		return Entry{}, false, nil
	}
	if entry.ContentHash != currentContentHash {
		e.logger.Debug().Str("key", key).Msg("cache entry stale, content hash changed")
		_ = e.store.Delete(ctx, key)
		e.recordStaleEviction()
		return Entry{}, false, nil
	}
	if !isValidEntry(entry) {
		e.logger.Warn().Str("key", key).Msg("cache entry failed validation, treating as miss")
		_ = e.store.Delete(ctx, key)
		e.recordStaleEviction()
		return Entry{}, false, nil
	}
	e.recordHit()
	return entry, true, nil
}

// isValidEntry guards against a poisoned or partially-written cache
// entry being served as a hit: a summary must actually be present, and
// at least one candidate pool must be non-empty, or the entry is
// useless to a caller and should be treated as a miss.
func isValidEntry(e Entry) bool {
	if e.Summary == "" {
		return false
	}
	return len(e.CandidateTags) > 0 || len(e.CandidateCategories) > 0
}

// StoreEntry persists a freshly generated summarization result under
// key. An entry that wouldn't pass Lookup's own validation is rejected
// before it ever reaches the store, so a bad write can't poison a later
// read.
func (e *Engine) StoreEntry(ctx context.Context, entry Entry) error {
	if !isValidEntry(entry) {
		return fmt.Errorf("refusing to cache invalid entry: empty summary or no candidates")
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if e.ttl > 0 {
		entry.ExpiresAt = now.Add(e.ttl)
	}
	return e.store.Put(ctx, entry)
}

// Invalidate forcibly evicts a key regardless of content hash, for
// explicit admin/user-triggered cache busting.
func (e *Engine) Invalidate(ctx context.Context, key string) error {
	return e.store.Delete(ctx, key)
}

// RecordCandidateUse increments a candidate's global use count and
// last-use timestamp in place; callers persist the updated entry via
// Store after a candidate is selected, so popularity/recency scoring in
// package personalize reflects real usage over time.
func RecordCandidateUse(c *Candidate, at time.Time) {
	c.GlobalUseCount++
	c.LastGlobalUse = at
}

func (e *Engine) recordHit() {
	e.mu.Lock()
	e.stats.Hits++
	e.mu.Unlock()
}

func (e *Engine) recordMiss() {
	e.mu.Lock()
	e.stats.Misses++
	e.mu.Unlock()
}

func (e *Engine) recordStaleEviction() {
	e.mu.Lock()
	e.stats.StaleEvictions++
	e.mu.Unlock()
}

// Stats returns a snapshot of cache hit/miss/eviction counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
