package llmgateway

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

// AnthropicProvider backs chat calls via the official SDK. Anthropic has
// no public embeddings endpoint, so Embeddings always returns an error;
// the catalog is expected to never route an "embedding" tier model to
// this provider.
type AnthropicProvider struct {
	client *anthropic.Client
	logger zerolog.Logger
}

func NewAnthropicProvider(apiKey string, logger zerolog.Logger) *AnthropicProvider {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{
		client: &client,
		logger: logger.With().Str("provider", "anthropic").Logger(),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func splitSystemPrompt(msgs []ChatMessage) (system string, rest []anthropic.MessageParam) {
	for _, m := range msgs {
		switch m.Role {
		case "system":
			system = m.Content
		case "assistant":
			rest = append(rest, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			rest = append(rest, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, rest
}

func (p *AnthropicProvider) ChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	system, msgs := splitSystemPrompt(req.Messages)
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return ChatResponse{}, err
	}
	if len(resp.Content) == 0 {
		return ChatResponse{}, errors.New("anthropic: empty content blocks in response")
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return ChatResponse{
		Content:      text,
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
		FinishReason: string(resp.StopReason),
	}, nil
}

type anthropicStream struct {
	inner *anthropic.MessageStream
}

func (s *anthropicStream) Recv() (StreamChunk, error) {
	if !s.inner.Next() {
		if err := s.inner.Err(); err != nil {
			return StreamChunk{}, err
		}
		final := s.inner.Current()
		return StreamChunk{
			Done:         true,
			InputTokens:  int(final.Usage.InputTokens),
			OutputTokens: int(final.Usage.OutputTokens),
		}, nil
	}
	event := s.inner.Current()
	if event.Delta.Text != "" {
		return StreamChunk{Delta: event.Delta.Text}, nil
	}
	return StreamChunk{}, nil
}

func (s *anthropicStream) Close() error {
	return s.inner.Close()
}

func (p *AnthropicProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (Stream, error) {
	system, msgs := splitSystemPrompt(req.Messages)
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	return &anthropicStream{inner: stream}, nil
}

func (p *AnthropicProvider) Embeddings(ctx context.Context, req EmbeddingRequest) (EmbeddingResponse, error) {
	return EmbeddingResponse{}, errors.New("anthropic: embeddings not supported by this provider")
}

func (p *AnthropicProvider) HealthCheck(ctx context.Context) HealthStatus {
	_, err := p.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	return HealthStatus{Healthy: true}
}
