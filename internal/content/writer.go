package content

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	anyllmgemini "github.com/mozilla-ai/any-llm-go/providers/gemini"
)

// ArticleRequest describes one article to write.
type ArticleRequest struct {
	// Topic is what the article is about. Required.
	Topic string

	// Tone sets the writing voice (e.g., "confident", "playful"). Empty
	// falls back to the writer's default tone.
	Tone string

	// Keywords are terms the article should work in naturally.
	Keywords []string

	// Audience describes who the article is for.
	Audience string
}

// Article is a generated long-form piece.
type Article struct {
	// Title is the first heading of the piece.
	Title string

	// Body is the full article in Markdown, title included.
	Body string
}

// Writer generates long-form marketing articles through a Gemini text model.
type Writer struct {
	backend     anyllmlib.Provider
	model       string
	defaultTone string
}

// NewWriter creates a Writer for the given model. Additional any-llm options
// (base URL overrides for tests, etc.) pass through to the backend.
func NewWriter(apiKey, model, defaultTone string, opts ...anyllmlib.Option) (*Writer, error) {
	if apiKey == "" {
		return nil, ErrMissingCredential
	}
	if model == "" {
		return nil, fmt.Errorf("content: writer needs a model")
	}
	backend, err := anyllmgemini.New(append([]anyllmlib.Option{anyllmlib.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("content: create gemini backend: %w", err)
	}
	return &Writer{backend: backend, model: model, defaultTone: defaultTone}, nil
}

// Write generates one article.
func (w *Writer) Write(ctx context.Context, req ArticleRequest) (Article, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return Article{}, fmt.Errorf("content: article needs a topic")
	}

	temperature := 0.7
	params := anyllmlib.CompletionParams{
		Model: w.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: writerSystemPrompt(w.defaultTone, req)},
			{Role: anyllmlib.RoleUser, Content: writerUserPrompt(req)},
		},
		Temperature: &temperature,
	}

	resp, err := w.backend.Completion(ctx, params)
	if err != nil {
		return Article{}, fmt.Errorf("content: write article: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Article{}, fmt.Errorf("content: write article: empty response")
	}

	body := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if body == "" {
		return Article{}, fmt.Errorf("content: write article: empty body")
	}
	return Article{Title: extractTitle(body), Body: body}, nil
}

// writerSystemPrompt builds the persona instruction for an article request.
func writerSystemPrompt(defaultTone string, req ArticleRequest) string {
	tone := req.Tone
	if tone == "" {
		tone = defaultTone
	}
	if tone == "" {
		tone = "confident"
	}

	var b strings.Builder
	b.WriteString("You are a senior marketing copywriter. Write in a ")
	b.WriteString(tone)
	b.WriteString(" tone. Produce Markdown with a single top-level heading as the title.")
	if req.Audience != "" {
		b.WriteString(" The audience is ")
		b.WriteString(req.Audience)
		b.WriteString(".")
	}
	return b.String()
}

// writerUserPrompt builds the article brief.
func writerUserPrompt(req ArticleRequest) string {
	var b strings.Builder
	b.WriteString("Write an article about: ")
	b.WriteString(req.Topic)
	if len(req.Keywords) > 0 {
		b.WriteString("\nWork these terms in naturally: ")
		b.WriteString(strings.Join(req.Keywords, ", "))
	}
	return b.String()
}

// extractTitle returns the first Markdown heading, or the first line when
// the model skipped the heading.
func extractTitle(body string) string {
	for line := range strings.Lines(body) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return strings.TrimSpace(strings.TrimLeft(line, "#"))
	}
	return ""
}
