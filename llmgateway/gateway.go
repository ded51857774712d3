// Package llmgateway is the C3 LLM Gateway: a uniform Provider interface
// over OpenAI, Anthropic, Google, and Perplexity, with a registry keyed
// by provider name. The Tiered Caller (package tiered) is the only
// caller that knows about catalog tiers; this package only knows about
// providers and models.
package llmgateway

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/tracing"
)

// ChatMessage is a single turn in a chat-style request.
type ChatMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	Model       string // provider-specific model name, resolved by the caller via catalog
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatResponse is a provider-agnostic chat completion result.
type ChatResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
	FinishReason string
}

// StreamChunk is one increment of a streamed chat completion.
type StreamChunk struct {
	Delta string
	Done  bool
	// Usage is only populated on the final chunk, if the provider reports it.
	InputTokens  int
	OutputTokens int
}

// Stream is returned by ChatCompletionStream. Callers must call Close.
type Stream interface {
	Recv() (StreamChunk, error)
	Close() error
}

// EmbeddingRequest requests vector embeddings for a batch of inputs.
type EmbeddingRequest struct {
	Model string
	Input []string
}

// EmbeddingResponse holds one embedding vector per input, in order.
type EmbeddingResponse struct {
	Embeddings  [][]float64
	InputTokens int
}

// HealthStatus is the result of a provider health probe.
type HealthStatus struct {
	Healthy bool
	Message string
}

// Provider is the uniform surface every connector implements.
type Provider interface {
	Name() string
	ChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error)
	ChatCompletionStream(ctx context.Context, req ChatRequest) (Stream, error)
	Embeddings(ctx context.Context, req EmbeddingRequest) (EmbeddingResponse, error)
	HealthCheck(ctx context.Context) HealthStatus
}

// Registry is a concurrency-safe, name-keyed set of registered providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	logger    zerolog.Logger
	tracer    *tracing.Tracer
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger zerolog.Logger, tracer *tracing.Tracer) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		logger:    logger.With().Str("component", "llm_gateway").Logger(),
		tracer:    tracer,
	}
}

// Register adds or replaces a provider under its own Name().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
	r.logger.Info().Str("provider", p.Name()).Msg("provider registered")
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// List returns the names of all registered providers.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// HealthCheckAll probes every registered provider concurrently.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]HealthStatus {
	r.mu.RLock()
	snapshot := make(map[string]Provider, len(r.providers))
	for name, p := range r.providers {
		snapshot[name] = p
	}
	r.mu.RUnlock()

	results := make(map[string]HealthStatus, len(snapshot))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, p := range snapshot {
		wg.Add(1)
		go func(name string, p Provider) {
			defer wg.Done()
			status := p.HealthCheck(ctx)
			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name, p)
	}
	wg.Wait()
	return results
}

// Call runs a ChatCompletion through provider name with a tracer span
// wrapping the call, recording provider/model/token attributes on
// completion.
func (r *Registry) Call(ctx context.Context, providerName string, req ChatRequest) (ChatResponse, error) {
	p, ok := r.Get(providerName)
	if !ok {
		return ChatResponse{}, &UnknownProviderError{Provider: providerName}
	}

	span := r.tracer.StartSpan("llm_gateway.chat_completion")
	span.SetAttribute("provider", providerName)
	span.SetAttribute("model", req.Model)
	defer r.tracer.EndSpan(span)

	resp, err := p.ChatCompletion(ctx, req)
	if err != nil {
		span.SetStatus("ERROR", err.Error())
		return ChatResponse{}, err
	}
	span.SetAttribute("input_tokens", itoa(resp.InputTokens))
	span.SetAttribute("output_tokens", itoa(resp.OutputTokens))
	span.SetStatus("OK", "")
	return resp, nil
}

// UnknownProviderError is returned when Call references an unregistered
// provider name.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return "llm_gateway: unknown provider: " + e.Provider
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
