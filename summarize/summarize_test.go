package summarize_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/cache"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/catalog"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/llmgateway"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/personalize"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/summarize"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/tiered"
)

type scriptedCaller struct {
	responses []tiered.CallResult
	idx       int
}

func (s *scriptedCaller) Call(ctx context.Context, tier catalog.Tier, req llmgateway.ChatRequest) (tiered.CallResult, error) {
	r := s.responses[s.idx]
	s.idx++
	return r, nil
}

type fakeAccountant struct {
	charged map[string]int
}

func (f *fakeAccountant) ComputeWTUForAlias(ctx context.Context, alias string, inputTokens, outputTokens int) int {
	return 1
}

func (f *fakeAccountant) ChargeActual(ctx context.Context, userID string, amount int) error {
	if f.charged == nil {
		f.charged = map[string]int{}
	}
	f.charged[userID] += amount
	return nil
}

func newPipeline(t *testing.T, caller *scriptedCaller, acct *fakeAccountant) *summarize.Pipeline {
	t.Helper()
	cacheEngine := cache.New(zerolog.Nop(), cache.NewInMemoryStore(), 0)
	personalizer := personalize.New(personalize.DefaultWeights(), 0.25)
	return summarize.New(zerolog.Nop(), caller, cacheEngine, personalizer, acct, nil, nil, nil)
}

func scriptedResponses() []tiered.CallResult {
	return []tiered.CallResult{
		{Response: llmgateway.ChatResponse{Content: "a short summary", InputTokens: 100, OutputTokens: 50}, Alias: "light-1"},
		{Response: llmgateway.ChatResponse{Content: `["golang", "concurrency"]`, InputTokens: 20, OutputTokens: 10}, Alias: "light-1"},
		{Response: llmgateway.ChatResponse{Content: `["programming", "tech"]`, InputTokens: 20, OutputTokens: 10}, Alias: "light-1"},
	}
}

func TestSummarizeRunsPipelineOnMiss(t *testing.T) {
	caller := &scriptedCaller{responses: scriptedResponses()}
	acct := &fakeAccountant{}
	p := newPipeline(t, caller, acct)

	result, err := p.Summarize(context.Background(), summarize.Request{
		SourceType:    cache.SourceWebpage,
		SourceURL:     "https://example.com/post",
		ExtractedText: "some long article text",
		UserID:        "user-1",
		TagCount:      2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Cached {
		t.Fatalf("expected a fresh (non-cached) result")
	}
	if result.Summary != "a short summary" {
		t.Fatalf("unexpected summary: %q", result.Summary)
	}
	if len(result.Tags) != 2 {
		t.Fatalf("expected 2 tags truncated by TagCount, got %v", result.Tags)
	}
	if result.Category == "" {
		t.Fatalf("expected a non-empty category")
	}
	if acct.charged["user-1"] != result.TotalWTU {
		t.Fatalf("expected charged amount to equal TotalWTU, got charged=%d total=%d", acct.charged["user-1"], result.TotalWTU)
	}
}

func TestSummarizeCacheHitSkipsLLMCalls(t *testing.T) {
	caller := &scriptedCaller{responses: scriptedResponses()}
	acct := &fakeAccountant{}
	p := newPipeline(t, caller, acct)

	req := summarize.Request{
		SourceType:    cache.SourceWebpage,
		SourceURL:     "https://example.com/post2",
		ExtractedText: "identical text",
		UserID:        "user-1",
		TagCount:      2,
	}

	if _, err := p.Summarize(context.Background(), req); err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	firstCallCount := caller.idx

	result, err := p.Summarize(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if !result.Cached {
		t.Fatalf("expected second identical request to hit cache")
	}
	if caller.idx != firstCallCount {
		t.Fatalf("expected no additional LLM calls on cache hit, idx moved from %d to %d", firstCallCount, caller.idx)
	}
}

func TestSummarizeContentChangeInvalidatesCache(t *testing.T) {
	caller := &scriptedCaller{responses: append(scriptedResponses(), scriptedResponses()...)}
	acct := &fakeAccountant{}
	p := newPipeline(t, caller, acct)

	url := "https://example.com/post3"
	_, err := p.Summarize(context.Background(), summarize.Request{
		SourceType: cache.SourceWebpage, SourceURL: url, ExtractedText: "version one", UserID: "u", TagCount: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := p.Summarize(context.Background(), summarize.Request{
		SourceType: cache.SourceWebpage, SourceURL: url, ExtractedText: "version two, totally different", UserID: "u", TagCount: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Cached {
		t.Fatalf("expected changed content to force a cache miss")
	}
}

func TestSummarizeRefreshBypassesCacheHit(t *testing.T) {
	caller := &scriptedCaller{responses: append(scriptedResponses(), scriptedResponses()...)}
	acct := &fakeAccountant{}
	p := newPipeline(t, caller, acct)

	req := summarize.Request{
		SourceType: cache.SourceWebpage, SourceURL: "https://example.com/post4", ExtractedText: "same text", UserID: "u", TagCount: 2,
	}

	if _, err := p.Summarize(context.Background(), req); err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	firstCallCount := caller.idx

	req.Refresh = true
	result, err := p.Summarize(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error on refresh call: %v", err)
	}
	if result.Cached {
		t.Fatalf("expected refresh=true to force a fresh result even on an identical cache hit")
	}
	if caller.idx == firstCallCount {
		t.Fatalf("expected refresh=true to re-run the LLM pipeline, idx stayed at %d", caller.idx)
	}
}

func TestSummarizeStoresCacheTypeAndWTUCost(t *testing.T) {
	caller := &scriptedCaller{responses: scriptedResponses()}
	acct := &fakeAccountant{}
	cacheEngine := cache.New(zerolog.Nop(), cache.NewInMemoryStore(), 0)
	personalizer := personalize.New(personalize.DefaultWeights(), 0.25)
	p := summarize.New(zerolog.Nop(), caller, cacheEngine, personalizer, acct, nil, nil, nil)

	key := cache.ComputeCacheKey(cache.SourceWebpage, "https://example.com/post5", nil)
	hash := cache.ComputeContentHash("some text")
	if _, err := p.Summarize(context.Background(), summarize.Request{
		SourceType: cache.SourceWebpage, SourceURL: "https://example.com/post5", ExtractedText: "some text", UserID: "u", TagCount: 2,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, ok, err := cacheEngine.Lookup(context.Background(), key, hash)
	if err != nil || !ok {
		t.Fatalf("expected stored entry to be retrievable, ok=%v err=%v", ok, err)
	}
	if entry.CacheType != cache.SourceWebpage {
		t.Fatalf("expected CacheType to be stamped from the request, got %q", entry.CacheType)
	}
	if entry.WTUCost <= 0 {
		t.Fatalf("expected WTUCost to be stamped from the pipeline's total WTU, got %d", entry.WTUCost)
	}
}

type recordingUsageRecorder struct {
	userID           string
	acceptedTags     []string
	acceptedCategory string
	calls            int
}

func (r *recordingUsageRecorder) RecordUsage(ctx context.Context, userID string, acceptedTags []string, acceptedCategory string) error {
	r.userID = userID
	r.acceptedTags = acceptedTags
	r.acceptedCategory = acceptedCategory
	r.calls++
	return nil
}

func TestRecordUsageDelegatesToUsageRecorder(t *testing.T) {
	caller := &scriptedCaller{responses: scriptedResponses()}
	acct := &fakeAccountant{}
	cacheEngine := cache.New(zerolog.Nop(), cache.NewInMemoryStore(), 0)
	personalizer := personalize.New(personalize.DefaultWeights(), 0.25)
	recorder := &recordingUsageRecorder{}
	p := summarize.New(zerolog.Nop(), caller, cacheEngine, personalizer, acct, nil, nil, recorder)

	if err := p.RecordUsage(context.Background(), "user-1", []string{"golang", "concurrency"}, "programming"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recorder.calls != 1 || recorder.userID != "user-1" || recorder.acceptedCategory != "programming" {
		t.Fatalf("expected RecordUsage to delegate with the given arguments, got %+v", recorder)
	}
}

func TestRecordUsageWithoutUserIDIsNoop(t *testing.T) {
	caller := &scriptedCaller{responses: scriptedResponses()}
	acct := &fakeAccountant{}
	cacheEngine := cache.New(zerolog.Nop(), cache.NewInMemoryStore(), 0)
	personalizer := personalize.New(personalize.DefaultWeights(), 0.25)
	recorder := &recordingUsageRecorder{}
	p := summarize.New(zerolog.Nop(), caller, cacheEngine, personalizer, acct, nil, nil, recorder)

	if err := p.RecordUsage(context.Background(), "", []string{"golang"}, "programming"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if recorder.calls != 0 {
		t.Fatalf("expected no delegation for an empty user id, got %d calls", recorder.calls)
	}
}
