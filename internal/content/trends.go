package content

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Trend is one marketing trend surfaced by a scan.
type Trend struct {
	// Topic is the trend in a few words.
	Topic string `json:"topic"`

	// Angle is a suggested content angle for acting on the trend.
	Angle string `json:"angle"`

	// Momentum grades how fast the trend is moving: "rising", "peaking", or
	// "fading".
	Momentum string `json:"momentum"`
}

const trendSystemPrompt = `You are a marketing trend analyst. Respond with a JSON array only — no prose, no code fences. Each element has the keys "topic", "angle", and "momentum" ("rising", "peaking", or "fading").`

// TrendScout finds current marketing trends for a niche by asking a Gemini
// text model for a structured, search-grounded scan.
type TrendScout struct {
	client *Client
	model  string
}

// NewTrendScout creates a TrendScout using client and the given text model.
func NewTrendScout(client *Client, model string) *TrendScout {
	return &TrendScout{client: client, model: model}
}

// Scan returns up to limit trends for the niche, strongest first, along with
// the web sources the scan was grounded on. Sources may be empty when the
// model answered from its own knowledge.
func (t *TrendScout) Scan(ctx context.Context, niche string, limit int) ([]Trend, []string, error) {
	if strings.TrimSpace(niche) == "" {
		return nil, nil, fmt.Errorf("content: trend scan needs a niche")
	}
	if limit <= 0 {
		limit = 5
	}

	prompt := fmt.Sprintf("Search for the %d strongest current marketing trends for the %q niche and list them strongest first.", limit, niche)
	raw, sources, err := t.client.GenerateGroundedText(ctx, t.model, trendSystemPrompt, prompt)
	if err != nil {
		return nil, nil, fmt.Errorf("content: trend scan: %w", err)
	}

	trends, err := parseTrends(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("content: trend scan: %w", err)
	}
	if len(trends) > limit {
		trends = trends[:limit]
	}
	return trends, sources, nil
}

// parseTrends decodes the model's JSON array, tolerating the code fences
// models add despite instructions.
func parseTrends(raw string) ([]Trend, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var trends []Trend
	if err := json.Unmarshal([]byte(cleaned), &trends); err != nil {
		return nil, fmt.Errorf("parse model output: %w", err)
	}

	out := trends[:0]
	for _, tr := range trends {
		if strings.TrimSpace(tr.Topic) == "" {
			continue
		}
		out = append(out, tr)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("model output contained no usable trends")
	}
	return out, nil
}
