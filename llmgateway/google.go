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

const googleBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GoogleProvider is a raw net/http connector for Gemini, in the
// teacher's own style for providers it has no SDK for (see its
// provider/openai.go, hand-rolled over net/http rather than an SDK).
type GoogleProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

func NewGoogleProvider(apiKey string, logger zerolog.Logger) *GoogleProvider {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &GoogleProvider{
		apiKey:  apiKey,
		baseURL: googleBaseURL,
		client:  &http.Client{Transport: transport, Timeout: 90 * time.Second},
		logger:  logger.With().Str("provider", "google").Logger(),
	}
}

func (p *GoogleProvider) Name() string { return "google" }

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiRequest struct {
	Contents          []geminiContent    `json:"contents"`
	SystemInstruction *geminiContent     `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenConfig    `json:"generationConfig,omitempty"`
}

type geminiGenConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

func toGeminiContents(msgs []ChatMessage) ([]geminiContent, *geminiContent) {
	var system *geminiContent
	var contents []geminiContent
	for _, m := range msgs {
		if m.Role == "system" {
			system = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			continue
		}
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	return contents, system
}

func (p *GoogleProvider) ChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	contents, system := toGeminiContents(req.Messages)
	reqBody := geminiRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig: geminiGenConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, req.Model, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("google request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return ChatResponse{}, fmt.Errorf("google returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return ChatResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return ChatResponse{}, fmt.Errorf("google: empty candidates in response")
	}

	var text string
	for _, part := range parsed.Candidates[0].Content.Parts {
		text += part.Text
	}

	return ChatResponse{
		Content:      text,
		InputTokens:  parsed.UsageMetadata.PromptTokenCount,
		OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
		FinishReason: parsed.Candidates[0].FinishReason,
	}, nil
}

// ChatCompletionStream is unsupported for Google in this connector: the
// gateway's streaming fallback rule requires that a provider either
// stream properly or fail before yielding a first chunk, and this raw
// connector does not yet implement SSE parsing for Gemini's
// streamGenerateContent endpoint.
func (p *GoogleProvider) ChatCompletionStream(ctx context.Context, req ChatRequest) (Stream, error) {
	return nil, fmt.Errorf("google: streaming not implemented")
}

func (p *GoogleProvider) Embeddings(ctx context.Context, req EmbeddingRequest) (EmbeddingResponse, error) {
	return EmbeddingResponse{}, fmt.Errorf("google: embeddings not implemented by this connector")
}

func (p *GoogleProvider) HealthCheck(ctx context.Context) HealthStatus {
	url := fmt.Sprintf("%s/models?key=%s", p.baseURL, p.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return HealthStatus{Healthy: false, Message: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return HealthStatus{Healthy: false, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return HealthStatus{Healthy: true}
}
