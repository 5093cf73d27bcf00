// Package vision classifies listing photos for hidden valuable materials
// through an OpenAI-compatible vision endpoint.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gemscout/gemscout/internal/domain"
)

const defaultBaseURL = "https://api.openai.com/v1"

// defaultModels is the fallback order: the primary model first, a cheaper
// one when it errors.
var defaultModels = []string{"gpt-4o", "gpt-4o-mini"}

const analysisPrompt = `You are a professional jewelry authenticator.
Analyze the provided images and determine if the jewelry contains genuine valuable materials.

Look for:
- Hallmarks: 10K, 14K, 18K, 22K, 24K, 417, 585, 750, 916, 999, 925, Sterling, PT, PLAT
- Material clues (gold, silver, pearls, gemstones)
- Craftsmanship quality
- Signs of authenticity or value

Return ONLY valid JSON in this format:
{
  "confidence_score": 85,
  "is_valuable": true,
  "detected_materials": ["14K Gold", "Real Pearl"],
  "reasoning": "Clear 585 hallmark visible on clasp in photo 2."
}`

// Classifier calls the vision model. Construct with NewClassifier; use
// NewNoop when no API key is configured.
type Classifier struct {
	baseURL    string
	apiKey     string
	models     []string
	httpClient *http.Client
	logger     *slog.Logger
}

// Options configures the live classifier.
type Options struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for a compatible proxy.
	BaseURL string

	// Models overrides the fallback order.
	Models []string

	// Timeout bounds each model call. Defaults to 60s; vision calls are
	// slow.
	Timeout time.Duration

	Logger *slog.Logger
}

// NewClassifier builds a live classifier from opts.
func NewClassifier(opts Options) (*Classifier, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	models := opts.Models
	if len(models) == 0 {
		models = defaultModels
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Classifier{
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		models:     models,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// Classify sends the listing photos and title to the vision model and
// parses its verdict. An empty image list short-circuits to a
// zero-confidence verdict without a network call. Each model in the
// fallback order is tried once; when all fail the error is returned for
// the caller to degrade.
func (c *Classifier) Classify(ctx context.Context, imageURLs []string, title string) (domain.Classification, error) {
	if len(imageURLs) == 0 {
		return domain.Classification{
			Reasoning: "no images available for analysis",
		}, nil
	}

	var lastErr error
	for _, model := range c.models {
		verdict, err := c.classifyWith(ctx, model, imageURLs, title)
		if err != nil {
			c.logger.Warn("vision model call failed", "model", model, "error", err)
			lastErr = err
			continue
		}
		return verdict, nil
	}
	return domain.Classification{}, fmt.Errorf("all vision models failed: %w", lastErr)
}

func (c *Classifier) classifyWith(ctx context.Context, model string, imageURLs []string, title string) (domain.Classification, error) {
	content := []contentPart{{
		Type: "text",
		Text: fmt.Sprintf("%s\n\nListing title: %q", analysisPrompt, title),
	}}
	for _, u := range imageURLs {
		content = append(content, contentPart{
			Type:     "image_url",
			ImageURL: &imageRef{URL: u, Detail: "high"},
		})
	}

	reqBody := chatRequest{
		Model:          model,
		Messages:       []chatMessage{{Role: "user", Content: content}},
		MaxTokens:      1000,
		Temperature:    0.2,
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return domain.Classification{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Classification{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Classification{}, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return domain.Classification{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return domain.Classification{}, fmt.Errorf("no response content")
	}

	var verdict struct {
		ConfidenceScore   int      `json:"confidence_score"`
		IsValuable        bool     `json:"is_valuable"`
		DetectedMaterials []string `json:"detected_materials"`
		Reasoning         string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &verdict); err != nil {
		return domain.Classification{}, fmt.Errorf("unmarshal verdict: %w", err)
	}

	return domain.Classification{
		Confidence: clampConfidence(verdict.ConfidenceScore),
		Valuable:   verdict.IsValuable,
		Materials:  verdict.DetectedMaterials,
		Reasoning:  verdict.Reasoning,
	}, nil
}

func clampConfidence(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	MaxTokens      int            `json:"max_tokens"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
