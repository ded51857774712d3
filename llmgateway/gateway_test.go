package llmgateway_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/llmgateway"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/tracing"
)

type fakeProvider struct {
	name    string
	content string
	failErr error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) ChatCompletion(ctx context.Context, req llmgateway.ChatRequest) (llmgateway.ChatResponse, error) {
	if f.failErr != nil {
		return llmgateway.ChatResponse{}, f.failErr
	}
	return llmgateway.ChatResponse{Content: f.content, InputTokens: 10, OutputTokens: 5}, nil
}

func (f *fakeProvider) ChatCompletionStream(ctx context.Context, req llmgateway.ChatRequest) (llmgateway.Stream, error) {
	return nil, nil
}

func (f *fakeProvider) Embeddings(ctx context.Context, req llmgateway.EmbeddingRequest) (llmgateway.EmbeddingResponse, error) {
	return llmgateway.EmbeddingResponse{}, nil
}

func (f *fakeProvider) HealthCheck(ctx context.Context) llmgateway.HealthStatus {
	return llmgateway.HealthStatus{Healthy: f.failErr == nil}
}

func newTestRegistry() *llmgateway.Registry {
	return llmgateway.NewRegistry(zerolog.Nop(), tracing.NewTracer(zerolog.Nop()))
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := newTestRegistry()
	r.Register(&fakeProvider{name: "openai"})

	p, ok := r.Get("openai")
	if !ok || p.Name() != "openai" {
		t.Fatalf("expected to find registered provider openai")
	}
}

func TestRegistryCallUnknownProvider(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Call(context.Background(), "ghost", llmgateway.ChatRequest{})
	var unknown *llmgateway.UnknownProviderError
	if err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	if !isUnknownProviderError(err, &unknown) {
		t.Fatalf("expected UnknownProviderError, got %v", err)
	}
}

func isUnknownProviderError(err error, target **llmgateway.UnknownProviderError) bool {
	if e, ok := err.(*llmgateway.UnknownProviderError); ok {
		*target = e
		return true
	}
	return false
}

func TestRegistryCallSuccess(t *testing.T) {
	r := newTestRegistry()
	r.Register(&fakeProvider{name: "openai", content: "hello"})

	resp, err := r.Call(context.Background(), "openai", llmgateway.ChatRequest{Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Fatalf("expected content 'hello', got %q", resp.Content)
	}
}

func TestHealthCheckAllConcurrentAndAggregated(t *testing.T) {
	r := newTestRegistry()
	r.Register(&fakeProvider{name: "openai"})
	r.Register(&fakeProvider{name: "anthropic", failErr: context.DeadlineExceeded})

	results := r.HealthCheckAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results["openai"].Healthy {
		t.Fatalf("expected openai to be healthy")
	}
	if results["anthropic"].Healthy {
		t.Fatalf("expected anthropic to be unhealthy")
	}
}

func TestListReturnsAllRegisteredNames(t *testing.T) {
	r := newTestRegistry()
	r.Register(&fakeProvider{name: "openai"})
	r.Register(&fakeProvider{name: "google"})

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %d", len(names))
	}
}
