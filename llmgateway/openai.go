package llmgateway

import (
	"context"
	"errors"
	"io"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog"
)

// OpenAIProvider backs chat and embeddings calls with the official SDK,
// unlike the teacher's raw net/http connectors for this same provider —
// the SDK is available in the pack (intelligencedev-manifold) and saves
// hand-rolling request/response marshaling.
type OpenAIProvider struct {
	client *openai.Client
	logger zerolog.Logger
}

// NewOpenAIProvider builds a provider against the public OpenAI API.
func NewOpenAIProvider(apiKey string, logger zerolog.Logger) *OpenAIProvider {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIProvider{
		client: &client,
		logger: logger.With().Str("provider", "openai").Logger(),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func toOpenAIMessages(msgs []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return ChatResponse{}, err
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, errors.New("openai: empty choices in response")
	}

	return ChatResponse{
		Content:      resp.Choices[0].Message.Content,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}

type openAIStream struct {
	inner *openai.Stream[openai.ChatCompletionChunk]
}

func (s *openAIStream) Recv() (StreamChunk, error) {
	if !s.inner.Next() {
		if err := s.inner.Err(); err != nil {
			return StreamChunk{}, err
		}
		return StreamChunk{Done: true}, io.EOF
	}
	chunk := s.inner.Current()
	if len(chunk.Choices) == 0 {
		return StreamChunk{Delta: ""}, nil
	}
	out := StreamChunk{Delta: chunk.Choices[0].Delta.Content}
	if chunk.Usage.TotalTokens > 0 {
		out.InputTokens = int(chunk.Usage.PromptTokens)
		out.OutputTokens = int(chunk.Usage.CompletionTokens)
	}
	return out, nil
}

func (s *openAIStream) Close() error {
	return s.inner.Close()
}

func (p *OpenAIProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	return &openAIStream{inner: stream}, nil
}

func (p *OpenAIProvider) Embeddings(ctx context.Context, req EmbeddingRequest) (EmbeddingResponse, error) {
	params := openai.EmbeddingNewParams{
		Model: req.Model,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: req.Input},
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return EmbeddingResponse{}, err
	}

	vectors := make([][]float64, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return EmbeddingResponse{
		Embeddings:  vectors,
		InputTokens: int(resp.Usage.PromptTokens),
	}, nil
}

func (p *OpenAIProvider) HealthCheck(ctx context.Context) HealthStatus {
	_, err := p.client.Models.List(ctx)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	return HealthStatus{Healthy: true}
}
