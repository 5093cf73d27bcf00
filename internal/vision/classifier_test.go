package vision

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"

	"github.com/gemscout/gemscout/internal/domain"
)

const completionsURL = "https://api.openai.com/v1/chat/completions"

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := NewClassifier(Options{
		APIKey: "sk-test",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	httpmock.ActivateNonDefault(c.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func verdictResponse(content string) *http.Response {
	body := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	resp, _ := httpmock.NewJsonResponse(200, body)
	return resp
}

func TestClassifyParsesVerdict(t *testing.T) {
	c := newTestClassifier(t)

	var gotReq chatRequest
	httpmock.RegisterResponder("POST", completionsURL,
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&gotReq); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			return verdictResponse(`{"confidence_score": 85, "is_valuable": true,
				"detected_materials": ["925 Silver"], "reasoning": "hallmark on clasp"}`), nil
		})

	verdict, err := c.Classify(context.Background(),
		[]string{"https://images.vinted.net/a.jpg", "https://images.vinted.net/b.jpg"}, "Silver ring")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if verdict.Confidence != 85 || !verdict.Valuable {
		t.Fatalf("verdict = %+v", verdict)
	}
	if len(verdict.Materials) != 1 || verdict.Materials[0] != "925 Silver" {
		t.Fatalf("materials = %v", verdict.Materials)
	}

	if gotReq.Model != "gpt-4o" {
		t.Fatalf("model = %q, want primary model first", gotReq.Model)
	}
	if gotReq.ResponseFormat.Type != "json_object" {
		t.Fatalf("response format = %q", gotReq.ResponseFormat.Type)
	}
	// One text part plus one part per image.
	if len(gotReq.Messages) != 1 || len(gotReq.Messages[0].Content) != 3 {
		t.Fatalf("content parts = %d, want 3", len(gotReq.Messages[0].Content))
	}
}

func TestClassifyEmptyImagesSkipsNetwork(t *testing.T) {
	c := newTestClassifier(t)
	httpmock.RegisterResponder("POST", completionsURL,
		httpmock.NewStringResponder(500, "should not be called"))

	verdict, err := c.Classify(context.Background(), nil, "No photos")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if verdict.Confidence != 0 || verdict.Valuable {
		t.Fatalf("verdict = %+v, want zero verdict", verdict)
	}
	if verdict.Reasoning != "no images available for analysis" {
		t.Fatalf("reasoning = %q", verdict.Reasoning)
	}
	if httpmock.GetTotalCallCount() != 0 {
		t.Fatalf("network call made for empty image list")
	}
}

func TestClassifyFallsBackToSecondaryModel(t *testing.T) {
	c := newTestClassifier(t)

	httpmock.RegisterResponder("POST", completionsURL,
		func(req *http.Request) (*http.Response, error) {
			var body chatRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			if body.Model == "gpt-4o" {
				return httpmock.NewStringResponse(429, "rate limited"), nil
			}
			return verdictResponse(`{"confidence_score": 70, "is_valuable": true,
				"detected_materials": [], "reasoning": "fallback model verdict"}`), nil
		})

	verdict, err := c.Classify(context.Background(), []string{"https://images.vinted.net/a.jpg"}, "Ring")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if verdict.Confidence != 70 {
		t.Fatalf("verdict = %+v", verdict)
	}
	if httpmock.GetTotalCallCount() != 2 {
		t.Fatalf("calls = %d, want 2 (primary then fallback)", httpmock.GetTotalCallCount())
	}
}

func TestClassifyAllModelsFail(t *testing.T) {
	c := newTestClassifier(t)
	httpmock.RegisterResponder("POST", completionsURL,
		httpmock.NewStringResponder(500, "down"))

	if _, err := c.Classify(context.Background(), []string{"https://images.vinted.net/a.jpg"}, "Ring"); err == nil {
		t.Fatalf("want error when every model fails")
	}
	if httpmock.GetTotalCallCount() != len(defaultModels) {
		t.Fatalf("calls = %d, want one per model", httpmock.GetTotalCallCount())
	}
}

func TestClassifyClampsConfidence(t *testing.T) {
	c := newTestClassifier(t)
	httpmock.RegisterResponder("POST", completionsURL, func(*http.Request) (*http.Response, error) {
		return verdictResponse(`{"confidence_score": 250, "is_valuable": true, "reasoning": "x"}`), nil
	})

	verdict, err := c.Classify(context.Background(), []string{"https://images.vinted.net/a.jpg"}, "Ring")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if verdict.Confidence != 100 {
		t.Fatalf("confidence = %d, want clamped to 100", verdict.Confidence)
	}
}

func TestNewClassifierRequiresKey(t *testing.T) {
	if _, err := NewClassifier(Options{}); err == nil {
		t.Fatalf("want error without an API key")
	}
}

func TestNoopClassifier(t *testing.T) {
	_, err := NewNoop().Classify(context.Background(), []string{"x"}, "y")
	if !errors.Is(err, domain.ErrClassifierDisabled) {
		t.Fatalf("err = %v, want ErrClassifierDisabled", err)
	}
}
