// Package app wires all VoxMark subsystems into a running HTTP service.
//
// The App struct owns the full lifecycle: New creates and connects the
// content studio, the library store, and the live voice manager; Run serves
// the HTTP API until the context ends; Shutdown tears everything down in
// order.
//
// For testing, inject fakes via functional options (WithTrendScanner,
// WithVoiceManager, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxmark/voxmark/internal/config"
	"github.com/voxmark/voxmark/internal/content"
	"github.com/voxmark/voxmark/internal/health"
	"github.com/voxmark/voxmark/internal/library"
	"github.com/voxmark/voxmark/internal/observe"
	"github.com/voxmark/voxmark/internal/voice"
	"github.com/voxmark/voxmark/pkg/audio"
	"github.com/voxmark/voxmark/pkg/provider/live/gemini"
)

// shutdownTimeout bounds the HTTP server's graceful drain.
const shutdownTimeout = 10 * time.Second

// connectTimeout bounds the live session dial, covering microphone
// acquisition through the backend's acknowledgement.
const connectTimeout = 30 * time.Second

// TrendScanner surfaces marketing trends for a niche, along with the web
// sources the scan was grounded on.
type TrendScanner interface {
	Scan(ctx context.Context, niche string, limit int) ([]content.Trend, []string, error)
}

// ArticleWriter generates long-form articles.
type ArticleWriter interface {
	Write(ctx context.Context, req content.ArticleRequest) (content.Article, error)
}

// SpeechNarrator turns text into a WAV file.
type SpeechNarrator interface {
	Narrate(ctx context.Context, text string) ([]byte, error)
}

// ImageGenerator produces marketing images. Satisfied by [content.Client].
type ImageGenerator interface {
	GenerateImage(ctx context.Context, model, prompt string) ([]byte, string, error)
}

// TextEmbedder produces embedding vectors. Satisfied by [content.Client].
type TextEmbedder interface {
	EmbedText(ctx context.Context, model, text string) ([]float32, error)
}

// LibraryStore is the library surface the app needs: article persistence
// with related-article search, and transcripts of finished live sessions.
// Satisfied by [library.Store].
type LibraryStore interface {
	SaveArticle(ctx context.Context, a library.Article) (library.Article, error)
	GetArticle(ctx context.Context, id string) (library.Article, error)
	SearchRelated(ctx context.Context, embedding []float32, topK int) ([]library.RelatedArticle, error)
	SaveTranscript(ctx context.Context, tr library.Transcript) (library.Transcript, error)
	SessionTranscripts(ctx context.Context, sessionID string) ([]library.Transcript, error)
}

// Devices supplies the audio hardware for live sessions. NewOutput is called
// once per session so every conversation renders to a fresh device.
type Devices struct {
	Capture   audio.CaptureDevice
	NewOutput func() (audio.OutputDevice, error)
}

// App owns all subsystem lifetimes and serves the VoxMark HTTP API.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	trends   TrendScanner
	writer   ArticleWriter
	narrator SpeechNarrator
	images   ImageGenerator
	embedder TextEmbedder
	store    LibraryStore
	sessions *voice.Manager

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTrendScanner injects a trend scanner instead of building one from config.
func WithTrendScanner(s TrendScanner) Option {
	return func(a *App) { a.trends = s }
}

// WithArticleWriter injects an article writer.
func WithArticleWriter(w ArticleWriter) Option {
	return func(a *App) { a.writer = w }
}

// WithNarrator injects a speech narrator.
func WithNarrator(n SpeechNarrator) Option {
	return func(a *App) { a.narrator = n }
}

// WithImageGenerator injects an image generator.
func WithImageGenerator(g ImageGenerator) Option {
	return func(a *App) { a.images = g }
}

// WithTextEmbedder injects a text embedder.
func WithTextEmbedder(e TextEmbedder) Option {
	return func(a *App) { a.embedder = e }
}

// WithLibraryStore injects a library store instead of connecting from config.
func WithLibraryStore(s LibraryStore) Option {
	return func(a *App) { a.store = s }
}

// WithVoiceManager injects a live session manager.
func WithVoiceManager(m *voice.Manager) Option {
	return func(a *App) { a.sessions = m }
}

// WithMetrics injects a metrics set; nil falls back to the defaults.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. devices supplies the
// audio hardware for live sessions; pass a zero Devices when a voice manager
// is injected instead.
//
// Subsystems degrade independently: without an API key the studio endpoints
// answer 503, without a library DSN the library endpoints answer 503, and
// everything else keeps working.
func New(ctx context.Context, cfg *config.Config, devices Devices, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStudio(); err != nil {
		return nil, fmt.Errorf("app: init studio: %w", err)
	}
	if err := a.initLibrary(ctx); err != nil {
		return nil, fmt.Errorf("app: init library: %w", err)
	}
	a.initVoice(devices)

	return a, nil
}

// initStudio builds the Gemini-backed content components unless fakes were
// injected. Without an API key the slots stay nil and their endpoints
// answer 503.
func (a *App) initStudio() error {
	apiKey := a.cfg.Gemini.APIKey
	if apiKey == "" {
		slog.Warn("no Gemini API key; studio endpoints disabled")
		return nil
	}

	var clientOpts []content.ClientOption
	if a.cfg.Gemini.BaseURL != "" {
		clientOpts = append(clientOpts, content.WithBaseURL(a.cfg.Gemini.BaseURL))
	}
	client, err := content.NewClient(apiKey, clientOpts...)
	if err != nil {
		return err
	}

	if a.trends == nil {
		a.trends = content.NewTrendScout(client, a.cfg.Gemini.TextModel)
	}
	if a.writer == nil {
		writer, err := content.NewWriter(apiKey, a.cfg.Gemini.TextModel, a.cfg.Studio.DefaultTone)
		if err != nil {
			return err
		}
		a.writer = writer
	}
	if a.narrator == nil {
		a.narrator = content.NewNarrator(client, a.cfg.Gemini.TTSModel, a.cfg.Voice.Name)
	}
	if a.images == nil {
		a.images = client
	}
	if a.embedder == nil {
		a.embedder = client
	}
	return nil
}

// initLibrary connects the pgvector store when a DSN is configured.
func (a *App) initLibrary(ctx context.Context) error {
	if a.store != nil || a.cfg.Library.PostgresDSN == "" {
		return nil
	}
	store, err := library.NewStore(ctx, a.cfg.Library.PostgresDSN, a.cfg.Library.EmbeddingDimensions)
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initVoice builds the live session manager unless one was injected.
func (a *App) initVoice(devices Devices) {
	if a.sessions != nil || devices.Capture == nil || devices.NewOutput == nil {
		return
	}

	var dialerOpts []gemini.Option
	if a.cfg.Gemini.LiveModel != "" {
		dialerOpts = append(dialerOpts, gemini.WithModel(a.cfg.Gemini.LiveModel))
	}
	if a.cfg.Gemini.LiveBaseURL != "" {
		dialerOpts = append(dialerOpts, gemini.WithBaseURL(a.cfg.Gemini.LiveBaseURL))
	}

	a.sessions = voice.NewManager(voice.ManagerConfig{
		APIKey:       a.cfg.Gemini.APIKey,
		Instructions: a.cfg.Voice.SystemInstruction,
		Voice:        a.cfg.Voice.Name,
		Keywords:     a.cfg.Studio.Keywords,
		Dialer:       gemini.New(a.cfg.Gemini.APIKey, dialerOpts...),
		Capture:      devices.Capture,
		NewOutput:    devices.NewOutput,
		Metrics:      a.metrics,
	})
}

// ─── HTTP surface ────────────────────────────────────────────────────────────

// Handler returns the full API surface wrapped in the observability
// middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/trends", a.handleTrends)
	mux.HandleFunc("POST /api/article", a.handleArticle)
	mux.HandleFunc("GET /api/article/{id}", a.handleGetArticle)
	mux.HandleFunc("POST /api/image", a.handleImage)
	mux.HandleFunc("POST /api/speech", a.handleSpeech)
	mux.HandleFunc("POST /api/library/search", a.handleLibrarySearch)
	mux.HandleFunc("GET /api/library/transcripts/{session}", a.handleSessionTranscripts)
	mux.HandleFunc("POST /api/live/start", a.handleLiveStart)
	mux.HandleFunc("POST /api/live/stop", a.handleLiveStop)
	mux.HandleFunc("GET /api/live/transcript", a.handleTranscript)

	healthHandler := health.New(a.healthCheckers()...)
	healthHandler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(a.metrics)(mux)
}

// healthCheckers lists the readiness probes for the configured subsystems.
func (a *App) healthCheckers() []health.Checker {
	var checkers []health.Checker
	if store, ok := a.store.(*library.Store); ok {
		checkers = append(checkers, health.Checker{
			Name:  "library",
			Check: store.Ping,
		})
	}
	return checkers
}

// Run serves the HTTP API until ctx is cancelled, then drains in-flight
// requests and shuts the subsystems down.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: a.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("serving", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(drainCtx); err != nil {
			slog.Warn("server drain", "error", err)
		}
		return a.Shutdown(drainCtx)
	})
	return g.Wait()
}

// Shutdown stops the active voice session and tears down all subsystems in
// order. If ctx expires before all closers finish, the remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.sessions != nil {
			if err := a.sessions.Stop(); err != nil && !errors.Is(err, voice.ErrNoSession) {
				slog.Warn("stop voice session", "error", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Studio handlers ─────────────────────────────────────────────────────────

func (a *App) handleTrends(w http.ResponseWriter, r *http.Request) {
	if a.trends == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("studio not configured"))
		return
	}
	var req struct {
		Niche string `json:"niche"`
		Limit int    `json:"limit"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	trends, sources, err := a.trends.Scan(r.Context(), req.Niche, req.Limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp := map[string]any{"trends": trends}
	if len(sources) > 0 {
		resp["sources"] = sources
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleArticle(w http.ResponseWriter, r *http.Request) {
	if a.writer == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("studio not configured"))
		return
	}
	var req struct {
		Topic    string   `json:"topic"`
		Tone     string   `json:"tone"`
		Keywords []string `json:"keywords"`
		Audience string   `json:"audience"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	article, err := a.writer.Write(r.Context(), content.ArticleRequest{
		Topic:    req.Topic,
		Tone:     req.Tone,
		Keywords: req.Keywords,
		Audience: req.Audience,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	resp := map[string]any{"title": article.Title, "body": article.Body}
	if id := a.saveArticle(r.Context(), req.Topic, req.Tone, article); id != "" {
		resp["id"] = id
	}
	writeJSON(w, http.StatusOK, resp)
}

// saveArticle embeds and stores a generated article. Storage is best effort:
// a library failure is logged, not surfaced, so the caller still gets the
// article.
func (a *App) saveArticle(ctx context.Context, topic, tone string, article content.Article) string {
	if a.store == nil || a.embedder == nil {
		return ""
	}
	embedding, err := a.embedder.EmbedText(ctx, a.cfg.Gemini.EmbeddingModel, article.Body)
	if err != nil {
		slog.Warn("embed article", "error", err)
		return ""
	}
	saved, err := a.store.SaveArticle(ctx, library.Article{
		Topic:     topic,
		Title:     article.Title,
		Body:      article.Body,
		Tone:      tone,
		Embedding: embedding,
	})
	if err != nil {
		slog.Warn("save article", "error", err)
		return ""
	}
	return saved.ID
}

func (a *App) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("library not configured"))
		return
	}
	article, err := a.store.GetArticle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":    article.ID,
		"topic": article.Topic,
		"title": article.Title,
		"body":  article.Body,
		"tone":  article.Tone,
	})
}

func (a *App) handleImage(w http.ResponseWriter, r *http.Request) {
	if a.images == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("studio not configured"))
		return
	}
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	data, mime, err := a.images.GenerateImage(r.Context(), a.cfg.Gemini.ImageModel, req.Prompt)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", mime)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Warn("write image response", "error", err)
	}
}

func (a *App) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if a.narrator == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("studio not configured"))
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	wav, err := a.narrator.Narrate(r.Context(), req.Text)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(wav); err != nil {
		slog.Warn("write speech response", "error", err)
	}
}

func (a *App) handleLibrarySearch(w http.ResponseWriter, r *http.Request) {
	if a.store == nil || a.embedder == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("library not configured"))
		return
	}
	var req struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	embedding, err := a.embedder.EmbedText(r.Context(), a.cfg.Gemini.EmbeddingModel, req.Query)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	hits, err := a.store.SearchRelated(r.Context(), embedding, req.TopK)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	type hit struct {
		ID       string  `json:"id"`
		Topic    string  `json:"topic"`
		Title    string  `json:"title"`
		Distance float64 `json:"distance"`
	}
	out := make([]hit, len(hits))
	for i, h := range hits {
		out[i] = hit{ID: h.ID, Topic: h.Topic, Title: h.Title, Distance: h.Distance}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// ─── Live voice handlers ─────────────────────────────────────────────────────

func (a *App) handleLiveStart(w http.ResponseWriter, r *http.Request) {
	if a.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("voice not configured"))
		return
	}
	// The session outlives this request, so it must not inherit the request's
	// cancellation; the dial itself is bounded so a backend that accepts the
	// socket but never acknowledges cannot hold the start forever.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), connectTimeout)
	defer cancel()
	id, err := a.sessions.Start(ctx)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id})
}

func (a *App) handleLiveStop(w http.ResponseWriter, r *http.Request) {
	if a.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("voice not configured"))
		return
	}
	if err := a.sessions.Stop(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	sess, id, err := a.sessions.Session()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	a.saveTranscript(r, sess, id)
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"state":      sess.State().String(),
	})
}

// saveTranscript persists the stopped session's transcript to the library.
// Best-effort, like article persistence: a write failure is logged and the
// stop still succeeds.
func (a *App) saveTranscript(r *http.Request, sess *voice.Session, id string) {
	if a.store == nil {
		return
	}
	text := sess.Transcript().Text()
	if text == "" {
		return
	}
	_, err := a.store.SaveTranscript(context.WithoutCancel(r.Context()), library.Transcript{
		SessionID: id,
		Text:      text,
	})
	if err != nil {
		slog.Warn("save session transcript", "session_id", id, "error", err)
	}
}

func (a *App) handleSessionTranscripts(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("library not configured"))
		return
	}
	transcripts, err := a.store.SessionTranscripts(r.Context(), r.PathValue("session"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	type entry struct {
		ID        string    `json:"id"`
		Text      string    `json:"text"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]entry, len(transcripts))
	for i, tr := range transcripts {
		out[i] = entry{ID: tr.ID, Text: tr.Text, CreatedAt: tr.CreatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  r.PathValue("session"),
		"transcripts": out,
	})
}

func (a *App) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if a.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("voice not configured"))
		return
	}
	acc, err := a.sessions.Transcript()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	entries := acc.Entries()
	if tail := r.URL.Query().Get("tail"); tail != "" {
		n, err := strconv.Atoi(tail)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid tail %q", tail))
			return
		}
		entries = acc.Tail(n)
	}

	// ?chars=N bounds the concatenated text to its last N characters, for
	// display surfaces with a fixed budget.
	text := acc.Text()
	if chars := r.URL.Query().Get("chars"); chars != "" {
		n, err := strconv.Atoi(chars)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid chars %q", chars))
			return
		}
		text = acc.TailText(n)
	}

	type fragment struct {
		Text string    `json:"text"`
		At   time.Time `json:"at"`
	}
	out := make([]fragment, len(entries))
	for i, e := range entries {
		out[i] = fragment{Text: e.Text, At: e.At}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"text":      text,
		"fragments": out,
	})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, voice.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, voice.ErrNoSession), errors.Is(err, library.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, voice.ErrMissingCredential), errors.Is(err, content.ErrMissingCredential):
		return http.StatusServiceUnavailable
	case errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, voice.ErrConnectionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
