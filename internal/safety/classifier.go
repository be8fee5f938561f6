package safety

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/text/cases"
)

// HTTPClassifier calls an external moderation service for per-category risk
// scores. Any transport or decoding failure propagates so the gate can fail
// closed.
type HTTPClassifier struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClassifier constructs a classifier against the given base URL.
func NewHTTPClassifier(baseURL string, client *http.Client) *HTTPClassifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClassifier{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type classifyRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	ImageBase64    string `json:"image_base64,omitempty"`
}

type classifyResponse struct {
	Scores map[string]float64 `json:"scores"`
}

// Scores requests category risk scores for the payload.
func (c *HTTPClassifier) Scores(ctx context.Context, p Payload) (map[string]float64, error) {
	reqBody := classifyRequest{Prompt: p.Prompt, NegativePrompt: p.NegativePrompt}
	if len(p.ImageBytes) > 0 {
		reqBody.ImageBase64 = base64.StdEncoding.EncodeToString(p.ImageBytes)
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("safety: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("safety: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("safety: classifier call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("safety: classifier status %d", resp.StatusCode)
	}
	var decoded classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("safety: decode response: %w", err)
	}
	return decoded.Scores, nil
}

// HeuristicClassifier scores payloads from moderate-term density. It stands
// in when no external moderation service is configured.
type HeuristicClassifier struct {
	fold cases.Caser
}

// NewHeuristicClassifier constructs the fallback classifier.
func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{fold: cases.Fold()}
}

// Scores counts moderate-term hits per category, saturating at 1.0.
func (c *HeuristicClassifier) Scores(_ context.Context, p Payload) (map[string]float64, error) {
	text := c.fold.String(p.Prompt + "\n" + p.NegativePrompt)
	scores := map[string]float64{
		CategoryViolence: 0,
		CategorySexual:   0,
		CategoryHate:     0,
		CategorySelfHarm: 0,
	}
	for term, category := range moderateTerms {
		if n := strings.Count(text, term); n > 0 {
			scores[category] += 0.35 * float64(n)
		}
	}
	for category := range scores {
		if scores[category] > 1.0 {
			scores[category] = 1.0
		}
	}
	return scores, nil
}
