// Package tiered implements the Tiered Caller (spec §4.4, C4): fallback
// across a tier's ordered catalog models. Non-streaming calls fall back
// on any provider error; streaming calls fall back only until the first
// chunk has been yielded to the caller, after which errors are
// propagated with no further fallback (the original Python
// implementation's call_with_fallback/stream_with_fallback split).
package tiered

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/catalog"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/llmgateway"
	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/tracing"
)

// AllProvidersFailed is returned when every active model in a tier has
// been tried and failed.
type AllProvidersFailed struct {
	Tier      catalog.Tier
	Attempted []string
}

func (e *AllProvidersFailed) Error() string {
	return "tiered: all providers failed for tier " + string(e.Tier) + ": " + strings.Join(e.Attempted, ", ")
}

// unregisteredProviderError backs the ModelCallLog recorded when a
// catalog entry names a provider the gateway has no connector for.
type unregisteredProviderError struct {
	Provider catalog.Provider
}

func (e *unregisteredProviderError) Error() string {
	return "tiered: provider not registered with gateway: " + string(e.Provider)
}

// CatalogLookup is the narrow catalog dependency this package needs.
type CatalogLookup interface {
	GetModelsByTier(ctx context.Context, tier catalog.Tier) ([]catalog.ModelEntry, error)
}

// GatewayLookup is the narrow gateway dependency this package needs.
type GatewayLookup interface {
	Get(name string) (llmgateway.Provider, bool)
}

// Caller is the C4 Tiered Caller.
type Caller struct {
	logger  zerolog.Logger
	catalog CatalogLookup
	gateway GatewayLookup
	tracer  *tracing.Tracer
	sink    CallLogSink
}

// New wires a Tiered Caller against a catalog and a gateway registry.
// tracer wraps each provider call in a span; sink records a
// ModelCallLog per attempt. Either may be nil.
func New(logger zerolog.Logger, catalog CatalogLookup, gateway GatewayLookup, tracer *tracing.Tracer, sink CallLogSink) *Caller {
	return &Caller{
		logger:  logger.With().Str("component", "tiered_caller").Logger(),
		catalog: catalog,
		gateway: gateway,
		tracer:  tracer,
		sink:    sink,
	}
}

// recordCall reports one attempt to the configured sink, if any.
func (c *Caller) recordCall(tier catalog.Tier, m catalog.ModelEntry, alias, status string, err error) {
	if c.sink == nil {
		return
	}
	c.sink.RecordCall(ModelCallLog{Tier: tier, Provider: m.Provider, Model: m.Model, Alias: alias, Status: status, Err: err})
}

// traced wraps fn in a span named name, tagged with provider/model,
// recording the error status on fn's return. Runs fn directly if no
// tracer is configured.
func (c *Caller) traced(name string, m catalog.ModelEntry, fn func() error) error {
	if c.tracer == nil {
		return fn()
	}
	span := c.tracer.StartSpan(name)
	span.SetAttribute("provider", string(m.Provider))
	span.SetAttribute("model", m.Model)
	defer c.tracer.EndSpan(span)

	err := fn()
	if err != nil {
		span.SetStatus("ERROR", err.Error())
		return err
	}
	span.SetStatus("OK", "")
	return nil
}

// CallResult carries the response along with which catalog alias
// actually served it, since the caller needs that to compute WTU.
type CallResult struct {
	Response llmgateway.ChatResponse
	Alias    string
	Provider catalog.Provider
}

// Call tries each active model in tier, in catalog order, until one
// succeeds. Every provider error is swallowed and logged; only complete
// exhaustion of the tier surfaces as AllProvidersFailed.
func (c *Caller) Call(ctx context.Context, tier catalog.Tier, req llmgateway.ChatRequest) (CallResult, error) {
	models, err := c.catalog.GetModelsByTier(ctx, tier)
	if err != nil {
		return CallResult{}, err
	}

	var attempted []string
	for i, m := range models {
		provider, ok := c.gateway.Get(string(m.Provider))
		if !ok {
			attempted = append(attempted, string(m.Provider)+"/"+m.Model)
			c.recordCall(tier, m, "", c.attemptStatus(i, len(models)), &unregisteredProviderError{Provider: m.Provider})
			continue
		}

		callReq := req
		callReq.Model = m.Model
		var resp llmgateway.ChatResponse
		err := c.traced("tiered_caller.chat_completion", m, func() error {
			var callErr error
			resp, callErr = provider.ChatCompletion(ctx, callReq)
			return callErr
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("provider", string(m.Provider)).Str("model", m.Model).Msg("provider call failed, trying next in tier")
			attempted = append(attempted, string(m.Provider)+"/"+m.Model)
			c.recordCall(tier, m, "", c.attemptStatus(i, len(models)), err)
			continue
		}

		c.recordCall(tier, m, m.Alias, CallStatusSuccess, nil)
		return CallResult{Response: resp, Alias: m.Alias, Provider: m.Provider}, nil
	}

	return CallResult{}, &AllProvidersFailed{Tier: tier, Attempted: attempted}
}

// attemptStatus reports whether the i-th of n attempts still has a
// fallback left to try.
func (c *Caller) attemptStatus(i, n int) string {
	if i == n-1 {
		return CallStatusFailed
	}
	return CallStatusFallback
}

// Embed calls the embedding tier's first active model with no
// fallback: the spec treats embeddings as a single-shot call.
func (c *Caller) Embed(ctx context.Context, req llmgateway.EmbeddingRequest) (llmgateway.EmbeddingResponse, string, error) {
	models, err := c.catalog.GetModelsByTier(ctx, catalog.TierEmbedding)
	if err != nil {
		return llmgateway.EmbeddingResponse{}, "", err
	}
	m := models[0]
	provider, ok := c.gateway.Get(string(m.Provider))
	if !ok {
		c.recordCall(catalog.TierEmbedding, m, "", CallStatusFailed, &unregisteredProviderError{Provider: m.Provider})
		return llmgateway.EmbeddingResponse{}, "", &AllProvidersFailed{Tier: catalog.TierEmbedding, Attempted: []string{string(m.Provider) + "/" + m.Model}}
	}
	callReq := req
	callReq.Model = m.Model
	var resp llmgateway.EmbeddingResponse
	err = c.traced("tiered_caller.embeddings", m, func() error {
		var callErr error
		resp, callErr = provider.Embeddings(ctx, callReq)
		return callErr
	})
	if err != nil {
		c.recordCall(catalog.TierEmbedding, m, "", CallStatusFailed, err)
		return llmgateway.EmbeddingResponse{}, "", err
	}
	c.recordCall(catalog.TierEmbedding, m, m.Alias, CallStatusSuccess, nil)
	return resp, m.Alias, nil
}

// fallbackStream wraps a sequence of candidate models, opening the next
// one on error only until the first real chunk has been handed to the
// caller. Once started is true, errors are returned verbatim.
type fallbackStream struct {
	ctx     context.Context
	caller  *Caller
	tier    catalog.Tier
	req     llmgateway.ChatRequest
	models  []catalog.ModelEntry
	idx     int
	current llmgateway.Stream
	started bool

	attempted []string
}

func (fs *fallbackStream) openNext() error {
	for fs.idx < len(fs.models) {
		m := fs.models[fs.idx]
		fs.idx++

		provider, ok := fs.caller.gateway.Get(string(m.Provider))
		if !ok {
			fs.attempted = append(fs.attempted, string(m.Provider)+"/"+m.Model)
			fs.caller.recordCall(fs.tier, m, "", fs.caller.attemptStatus(fs.idx-1, len(fs.models)), &unregisteredProviderError{Provider: m.Provider})
			continue
		}

		callReq := fs.req
		callReq.Model = m.Model
		var stream llmgateway.Stream
		err := fs.caller.traced("tiered_caller.chat_completion_stream", m, func() error {
			var openErr error
			stream, openErr = provider.ChatCompletionStream(fs.ctx, callReq)
			return openErr
		})
		if err != nil {
			fs.attempted = append(fs.attempted, string(m.Provider)+"/"+m.Model)
			fs.caller.recordCall(fs.tier, m, "", fs.caller.attemptStatus(fs.idx-1, len(fs.models)), err)
			continue
		}
		fs.caller.recordCall(fs.tier, m, m.Alias, CallStatusSuccess, nil)
		fs.current = stream
		return nil
	}
	return &AllProvidersFailed{Tier: fs.tier, Attempted: fs.attempted}
}

func (fs *fallbackStream) Recv() (llmgateway.StreamChunk, error) {
	chunk, err := fs.current.Recv()
	if err != nil {
		if fs.started {
			return llmgateway.StreamChunk{}, err
		}
		_ = fs.current.Close()
		if openErr := fs.openNext(); openErr != nil {
			return llmgateway.StreamChunk{}, openErr
		}
		return fs.Recv()
	}

	if chunk.Delta != "" || chunk.Done {
		fs.started = true
	}
	return chunk, nil
}

func (fs *fallbackStream) Close() error {
	if fs.current != nil {
		return fs.current.Close()
	}
	return nil
}

// CallStream opens a streaming chat completion with fallback. The
// returned Stream internally switches providers on error until its
// first chunk is yielded; after that, errors propagate without retry.
func (c *Caller) CallStream(ctx context.Context, tier catalog.Tier, req llmgateway.ChatRequest) (llmgateway.Stream, error) {
	models, err := c.catalog.GetModelsByTier(ctx, tier)
	if err != nil {
		return nil, err
	}

	fs := &fallbackStream{ctx: ctx, caller: c, tier: tier, req: req, models: models}
	if err := fs.openNext(); err != nil {
		return nil, err
	}
	return fs, nil
}
