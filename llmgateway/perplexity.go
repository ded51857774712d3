package llmgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const perplexityBaseURL = "https://api.perplexity.ai"

// PerplexityProvider is a raw net/http connector for Perplexity's
// OpenAI-compatible chat endpoint; it exists to serve the catalog's
// "search" tier, which has no equivalent in OpenAI or Anthropic.
type PerplexityProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

func NewPerplexityProvider(apiKey string, logger zerolog.Logger) *PerplexityProvider {
	transport := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &PerplexityProvider{
		apiKey:  apiKey,
		baseURL: perplexityBaseURL,
		client:  &http.Client{Transport: transport, Timeout: 90 * time.Second},
		logger:  logger.With().Str("provider", "perplexity").Logger(),
	}
}

func (p *PerplexityProvider) Name() string { return "perplexity" }

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type perplexityRequest struct {
	Model       string              `json:"model"`
	Messages    []perplexityMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature,omitempty"`
}

type perplexityResponse struct {
	Choices []struct {
		Message      perplexityMessage `json:"message"`
		FinishReason string            `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *PerplexityProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
}

func (p *PerplexityProvider) ChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	msgs := make([]perplexityMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = perplexityMessage{Role: m.Role, Content: m.Content}
	}
	reqBody := perplexityRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("perplexity request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return ChatResponse{}, fmt.Errorf("perplexity returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed perplexityResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ChatResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return ChatResponse{}, fmt.Errorf("perplexity: empty choices in response")
	}

	return ChatResponse{
		Content:      parsed.Choices[0].Message.Content,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		FinishReason: parsed.Choices[0].FinishReason,
	}, nil
}

func (p *PerplexityProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (Stream, error) {
	return nil, fmt.Errorf("perplexity: streaming not implemented by this connector")
}

func (p *PerplexityProvider) Embeddings(ctx context.Context, req EmbeddingRequest) (EmbeddingResponse, error) {
	return EmbeddingResponse{}, fmt.Errorf("perplexity: embeddings not supported")
}

func (p *PerplexityProvider) HealthCheck(ctx context.Context) HealthStatus {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/chat/completions", nil)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	p.setHeaders(httpReq)
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	defer resp.Body.Close()
	// A 4xx here (method not allowed / missing body) still proves the
	// endpoint and credentials are reachable; only network errors or 5xx
	// count as unhealthy.
	if resp.StatusCode >= 500 {
		return HealthStatus{Healthy: false, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return HealthStatus{Healthy: true}
}
