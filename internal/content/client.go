// Package content implements the VoxMark content studio: trend scanning,
// article writing, marketing image generation, and one-shot speech synthesis,
// all backed by the Gemini REST API.
//
// The low-level REST plumbing lives in [Client]; higher-level helpers
// ([TrendScout], [Writer], [Narrator]) compose it into studio features.
package content

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/voxmark/voxmark/internal/observe"
	"github.com/voxmark/voxmark/internal/resilience"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// ErrMissingCredential is returned when a studio operation is attempted
// without a configured API key.
var ErrMissingCredential = errors.New("content: missing Gemini API key")

// ClientOption is a functional option for configuring a [Client].
type ClientOption func(*Client)

// WithBaseURL overrides the Gemini REST endpoint. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics attaches a metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// Client is a thin Gemini REST API client covering the generateContent and
// embedContent surfaces. Calls run through a shared circuit breaker and
// bounded retry so a struggling backend degrades fast instead of piling up.
//
// Safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	metrics    *observe.Metrics
}

// NewClient creates a Gemini REST client. apiKey must be non-empty.
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingCredential
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "gemini-rest",
		}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c, nil
}

// ── REST message types ─────────────────────────────────────────────────────────

type generateRequest struct {
	Contents          []restContent  `json:"contents"`
	SystemInstruction *restContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *restGenConfig `json:"generationConfig,omitempty"`
	Tools             []restTool     `json:"tools,omitempty"`
}

type restTool struct {
	GoogleSearch *restGoogleSearch `json:"googleSearch,omitempty"`
}

// restGoogleSearch enables the hosted Google Search grounding tool. The API
// takes an empty object.
type restGoogleSearch struct{}

type restContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []restPart `json:"parts"`
}

type restPart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *restInlineData `json:"inlineData,omitempty"`
}

type restInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type restGenConfig struct {
	ResponseModalities []string          `json:"responseModalities,omitempty"`
	Temperature        *float64          `json:"temperature,omitempty"`
	SpeechConfig       *restSpeechConfig `json:"speechConfig,omitempty"`
}

type restSpeechConfig struct {
	VoiceConfig restVoiceConfig `json:"voiceConfig"`
}

type restVoiceConfig struct {
	PrebuiltVoiceConfig restPrebuiltVoice `json:"prebuiltVoiceConfig"`
}

type restPrebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type generateResponse struct {
	Candidates []struct {
		Content           restContent            `json:"content"`
		GroundingMetadata *restGroundingMetadata `json:"groundingMetadata,omitempty"`
	} `json:"candidates"`
	Error *restError `json:"error,omitempty"`
}

type restGroundingMetadata struct {
	GroundingChunks []restGroundingChunk `json:"groundingChunks"`
}

type restGroundingChunk struct {
	Web *restWebSource `json:"web,omitempty"`
}

type restWebSource struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

type restError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type embedRequest struct {
	Content restContent `json:"content"`
}

type embedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
	Error *restError `json:"error,omitempty"`
}

// ── Operations ─────────────────────────────────────────────────────────────────

// GenerateText runs a single-turn text generation and returns the
// concatenated text parts of the first candidate.
func (c *Client) GenerateText(ctx context.Context, model, system, prompt string, temperature *float64) (string, error) {
	req := generateRequest{
		Contents: []restContent{{Role: "user", Parts: []restPart{{Text: prompt}}}},
	}
	if system != "" {
		req.SystemInstruction = &restContent{Parts: []restPart{{Text: system}}}
	}
	if temperature != nil {
		req.GenerationConfig = &restGenConfig{Temperature: temperature}
	}

	resp, err := c.generate(ctx, model, "text", req)
	if err != nil {
		return "", err
	}
	var out bytes.Buffer
	for _, p := range resp.Candidates[0].Content.Parts {
		out.WriteString(p.Text)
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("content: model %s returned no text", model)
	}
	return out.String(), nil
}

// GenerateGroundedText runs a single-turn text generation with the Google
// Search grounding tool enabled. It returns the concatenated text parts of
// the first candidate plus the distinct web source URIs the model grounded
// its answer on, in citation order. The source list is empty when the model
// answered without searching.
func (c *Client) GenerateGroundedText(ctx context.Context, model, system, prompt string) (string, []string, error) {
	req := generateRequest{
		Contents: []restContent{{Role: "user", Parts: []restPart{{Text: prompt}}}},
		Tools:    []restTool{{GoogleSearch: &restGoogleSearch{}}},
	}
	if system != "" {
		req.SystemInstruction = &restContent{Parts: []restPart{{Text: system}}}
	}

	resp, err := c.generate(ctx, model, "text", req)
	if err != nil {
		return "", nil, err
	}
	var out bytes.Buffer
	for _, p := range resp.Candidates[0].Content.Parts {
		out.WriteString(p.Text)
	}
	if out.Len() == 0 {
		return "", nil, fmt.Errorf("content: model %s returned no text", model)
	}

	var sources []string
	if gm := resp.Candidates[0].GroundingMetadata; gm != nil {
		seen := make(map[string]bool)
		for _, chunk := range gm.GroundingChunks {
			if chunk.Web == nil || chunk.Web.URI == "" || seen[chunk.Web.URI] {
				continue
			}
			seen[chunk.Web.URI] = true
			sources = append(sources, chunk.Web.URI)
		}
	}
	return out.String(), sources, nil
}

// GenerateImage produces a marketing image for the prompt. It returns the
// raw image bytes and their MIME type.
func (c *Client) GenerateImage(ctx context.Context, model, prompt string) ([]byte, string, error) {
	req := generateRequest{
		Contents:         []restContent{{Role: "user", Parts: []restPart{{Text: prompt}}}},
		GenerationConfig: &restGenConfig{ResponseModalities: []string{"IMAGE"}},
	}

	resp, err := c.generate(ctx, model, "image", req)
	if err != nil {
		return nil, "", err
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.InlineData == nil {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return nil, "", fmt.Errorf("content: decode image payload: %w", err)
		}
		return data, p.InlineData.MIMEType, nil
	}
	return nil, "", fmt.Errorf("content: model %s returned no image", model)
}

// SynthesizeSpeech renders text as speech with the given prebuilt voice and
// returns raw little-endian 16-bit PCM at 24 kHz.
func (c *Client) SynthesizeSpeech(ctx context.Context, model, voice, text string) ([]byte, error) {
	req := generateRequest{
		Contents: []restContent{{Role: "user", Parts: []restPart{{Text: text}}}},
		GenerationConfig: &restGenConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &restSpeechConfig{
				VoiceConfig: restVoiceConfig{
					PrebuiltVoiceConfig: restPrebuiltVoice{VoiceName: voice},
				},
			},
		},
	}

	resp, err := c.generate(ctx, model, "speech", req)
	if err != nil {
		return nil, err
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.InlineData == nil {
			continue
		}
		pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return nil, fmt.Errorf("content: decode speech payload: %w", err)
		}
		return pcm, nil
	}
	return nil, fmt.Errorf("content: model %s returned no audio", model)
}

// EmbedText returns the embedding vector for text.
func (c *Client) EmbedText(ctx context.Context, model, text string) ([]float32, error) {
	body := embedRequest{Content: restContent{Parts: []restPart{{Text: text}}}}

	var resp embedResponse
	err := c.call(ctx, "embed", fmt.Sprintf("%s/v1beta/models/%s:embedContent?key=%s", c.baseURL, model, c.apiKey), body, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("content: model %s returned an empty embedding", model)
	}
	return resp.Embedding.Values, nil
}

// generate runs one generateContent call and validates that a candidate with
// parts came back.
func (c *Client) generate(ctx context.Context, model, kind string, req generateRequest) (*generateResponse, error) {
	var resp generateResponse
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	if err := c.call(ctx, kind, url, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("content: model %s returned no candidates", model)
	}
	return &resp, nil
}

// call POSTs body to url and decodes the JSON response into out, running the
// request through the circuit breaker and retry policy. HTTP 4xx responses
// are permanent; 5xx and transport errors are retried.
func (c *Client) call(ctx context.Context, kind, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("content: marshal request: %w", err)
	}

	start := time.Now()
	err = c.breaker.Execute(func() error {
		return resilience.Retry(ctx, resilience.RetryConfig{Name: "gemini-" + kind}, func() error {
			return c.doPost(ctx, url, payload, out)
		})
	})

	status := "ok"
	if err != nil {
		status = "error"
		c.metrics.RecordContentError(ctx, kind)
	}
	c.metrics.RecordContentRequest(ctx, kind, status)
	c.metrics.ContentDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("kind", kind)))
	return err
}

func (c *Client) doPost(ctx context.Context, url string, payload []byte, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return resilience.Permanent(fmt.Errorf("content: build request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("content: request: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("content: read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("content: HTTP %d: %s", httpResp.StatusCode, truncate(data, 200))
		if httpResp.StatusCode >= 400 && httpResp.StatusCode < 500 && httpResp.StatusCode != http.StatusTooManyRequests {
			return resilience.Permanent(apiErr)
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("content: decode response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "…"
}
