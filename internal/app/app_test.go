package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxmark/voxmark/internal/app"
	"github.com/voxmark/voxmark/internal/config"
	"github.com/voxmark/voxmark/internal/content"
	"github.com/voxmark/voxmark/internal/library"
	"github.com/voxmark/voxmark/internal/voice"
	"github.com/voxmark/voxmark/pkg/audio"
	audiomock "github.com/voxmark/voxmark/pkg/audio/mock"
	"github.com/voxmark/voxmark/pkg/provider/live"
)

// ─── Fakes ───────────────────────────────────────────────────────────────────

type fakeTrends struct {
	trends  []content.Trend
	sources []string
	err     error
}

func (f *fakeTrends) Scan(ctx context.Context, niche string, limit int) ([]content.Trend, []string, error) {
	return f.trends, f.sources, f.err
}

type fakeWriter struct {
	article content.Article
	err     error
}

func (f *fakeWriter) Write(ctx context.Context, req content.ArticleRequest) (content.Article, error) {
	return f.article, f.err
}

type fakeNarrator struct{ wav []byte }

func (f *fakeNarrator) Narrate(ctx context.Context, text string) ([]byte, error) {
	return f.wav, nil
}

type fakeImages struct {
	data []byte
	mime string
}

func (f *fakeImages) GenerateImage(ctx context.Context, model, prompt string) ([]byte, string, error) {
	return f.data, f.mime, nil
}

type fakeEmbedder struct{ vec []float32 }

func (f *fakeEmbedder) EmbedText(ctx context.Context, model, text string) ([]float32, error) {
	return f.vec, nil
}

type fakeStore struct {
	mu          sync.Mutex
	articles    map[string]library.Article
	related     []library.RelatedArticle
	transcripts []library.Transcript
}

func (f *fakeStore) SaveArticle(ctx context.Context, a library.Article) (library.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == "" {
		a.ID = "art-1"
	}
	if f.articles == nil {
		f.articles = map[string]library.Article{}
	}
	f.articles[a.ID] = a
	return a, nil
}

func (f *fakeStore) GetArticle(ctx context.Context, id string) (library.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.articles[id]
	if !ok {
		return library.Article{}, library.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) SearchRelated(ctx context.Context, embedding []float32, topK int) ([]library.RelatedArticle, error) {
	return f.related, nil
}

func (f *fakeStore) SaveTranscript(ctx context.Context, tr library.Transcript) (library.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tr.ID == "" {
		tr.ID = "tr-1"
	}
	f.transcripts = append(f.transcripts, tr)
	return tr, nil
}

func (f *fakeStore) SessionTranscripts(ctx context.Context, sessionID string) ([]library.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []library.Transcript
	for _, tr := range f.transcripts {
		if tr.SessionID == sessionID {
			out = append(out, tr)
		}
	}
	return out, nil
}

// scriptedDialer hands out one fresh live session per dial.
type scriptedDialer struct {
	lock     sync.Mutex
	sessions []*scriptedSession
}

func (d *scriptedDialer) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	sess := newScriptedSession()
	d.sessions = append(d.sessions, sess)
	return sess, nil
}

type scriptedSession struct {
	audioCh chan []byte
	textCh  chan string

	mu     sync.Mutex
	closed bool

	closeOnce sync.Once
}

func newScriptedSession() *scriptedSession {
	return &scriptedSession{
		audioCh: make(chan []byte, 4),
		textCh:  make(chan string, 4),
	}
}

func (s *scriptedSession) SendChunk(chunk audio.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("closed")
	}
	return nil
}

func (s *scriptedSession) Audio() <-chan []byte       { return s.audioCh }
func (s *scriptedSession) Transcripts() <-chan string { return s.textCh }
func (s *scriptedSession) OnError(func(error))        {}
func (s *scriptedSession) Err() error                 { return nil }

func (s *scriptedSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		close(s.audioCh)
		close(s.textCh)
	})
	return nil
}

// ─── Setup ───────────────────────────────────────────────────────────────────

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":0", LogLevel: config.LogInfo},
		Gemini: config.GeminiConfig{
			APIKey:         "test-key",
			TextModel:      "text-model",
			ImageModel:     "image-model",
			TTSModel:       "tts-model",
			EmbeddingModel: "embed-model",
		},
		Voice:  config.VoiceConfig{Name: "Aoede"},
		Studio: config.StudioConfig{Keywords: []string{"VoxMark"}},
	}
}

func testVoiceManager(dialer live.Dialer) *voice.Manager {
	return voice.NewManager(voice.ManagerConfig{
		APIKey:  "test-key",
		Voice:   "Aoede",
		Dialer:  dialer,
		Capture: &audiomock.CaptureDevice{HoldOpen: true},
		NewOutput: func() (audio.OutputDevice, error) {
			return &audiomock.OutputDevice{}, nil
		},
	})
}

func newTestApp(t *testing.T, opts ...app.Option) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), testConfig(), app.Devices{}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func getPath(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	rec := getPath(t, a.Handler(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	rec := getPath(t, a.Handler(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTrendsEndpoint(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, app.WithTrendScanner(&fakeTrends{
		trends:  []content.Trend{{Topic: "ai voice ads", Angle: "audio spots", Momentum: "rising"}},
		sources: []string{"https://example.com/trend-report"},
	}))

	rec := postJSON(t, a.Handler(), "/api/trends", map[string]any{"niche": "b2b saas", "limit": 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Trends  []content.Trend `json:"trends"`
		Sources []string        `json:"sources"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Trends) != 1 || resp.Trends[0].Topic != "ai voice ads" {
		t.Errorf("trends = %+v", resp.Trends)
	}
	if len(resp.Sources) != 1 || resp.Sources[0] != "https://example.com/trend-report" {
		t.Errorf("sources = %+v", resp.Sources)
	}
}

func TestTrendsEndpoint_BadJSON(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, app.WithTrendScanner(&fakeTrends{}))
	req := httptest.NewRequest(http.MethodPost, "/api/trends", strings.NewReader("{nope"))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestArticleEndpoint_SavesToLibrary(t *testing.T) {
	t.Parallel()
	store := &fakeStore{}
	a := newTestApp(t,
		app.WithArticleWriter(&fakeWriter{article: content.Article{
			Title: "Launch Week Done Right",
			Body:  "# Launch Week Done Right\n\nStart small.",
		}}),
		app.WithTextEmbedder(&fakeEmbedder{vec: []float32{1, 0}}),
		app.WithLibraryStore(store),
	)

	rec := postJSON(t, a.Handler(), "/api/article", map[string]any{
		"topic": "launch weeks",
		"tone":  "confident",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	decodeBody(t, rec, &resp)
	if resp.Title != "Launch Week Done Right" {
		t.Errorf("title = %q", resp.Title)
	}
	if resp.ID == "" {
		t.Fatal("article was not saved to the library")
	}

	getRec := getPath(t, a.Handler(), "/api/article/"+resp.ID)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d", getRec.Code)
	}
}

func TestGetArticle_NotFound(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, app.WithLibraryStore(&fakeStore{}))
	rec := getPath(t, a.Handler(), "/api/article/missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestImageEndpoint(t *testing.T) {
	t.Parallel()
	png := []byte{0x89, 'P', 'N', 'G'}
	a := newTestApp(t, app.WithImageGenerator(&fakeImages{data: png, mime: "image/png"}))

	rec := postJSON(t, a.Handler(), "/api/image", map[string]any{"prompt": "a bold banner"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), png) {
		t.Errorf("body = %v", rec.Body.Bytes())
	}
}

func TestSpeechEndpoint(t *testing.T) {
	t.Parallel()
	wav := audio.WrapWAV(make([]byte, 32), audio.PlaybackRate)
	a := newTestApp(t, app.WithNarrator(&fakeNarrator{wav: wav}))

	rec := postJSON(t, a.Handler(), "/api/speech", map[string]any{"text": "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), wav) {
		t.Error("body is not the narrated WAV")
	}
}

func TestLibrarySearchEndpoint(t *testing.T) {
	t.Parallel()
	store := &fakeStore{related: []library.RelatedArticle{
		{Article: library.Article{ID: "a1", Topic: "email", Title: "near"}, Distance: 0.1},
	}}
	a := newTestApp(t,
		app.WithTextEmbedder(&fakeEmbedder{vec: []float32{1, 0}}),
		app.WithLibraryStore(store),
	)

	rec := postJSON(t, a.Handler(), "/api/library/search", map[string]any{"query": "email tips", "top_k": 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Results []struct {
			ID       string  `json:"id"`
			Distance float64 `json:"distance"`
		} `json:"results"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Results) != 1 || resp.Results[0].ID != "a1" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestLibraryEndpoints_Unconfigured(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	rec := postJSON(t, a.Handler(), "/api/library/search", map[string]any{"query": "q"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLiveLifecycle(t *testing.T) {
	t.Parallel()
	dialer := &scriptedDialer{}
	a := newTestApp(t, app.WithVoiceManager(testVoiceManager(dialer)))
	h := a.Handler()

	rec := postJSON(t, h, "/api/live/start", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var started struct {
		SessionID string `json:"session_id"`
	}
	decodeBody(t, rec, &started)
	if started.SessionID == "" {
		t.Fatal("no session ID returned")
	}

	// A second start conflicts while the first session is live.
	rec = postJSON(t, h, "/api/live/start", map[string]any{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second start status = %d", rec.Code)
	}

	// Feed a transcript fragment and read it back.
	dialer.lock.Lock()
	sess := dialer.sessions[0]
	dialer.lock.Unlock()
	sess.textCh <- "Campaign draft ready."

	var transcript struct {
		Text string `json:"text"`
	}
	deadline := time.Now().Add(3 * time.Second)
	for transcript.Text == "" && time.Now().Before(deadline) {
		rec = getPath(t, h, "/api/live/transcript")
		if rec.Code != http.StatusOK {
			t.Fatalf("transcript status = %d", rec.Code)
		}
		decodeBody(t, rec, &transcript)
		if transcript.Text == "" {
			time.Sleep(2 * time.Millisecond)
		}
	}
	if transcript.Text != "Campaign draft ready." {
		t.Errorf("transcript = %q", transcript.Text)
	}

	rec = postJSON(t, h, "/api/live/stop", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var stopped struct {
		State string `json:"state"`
	}
	decodeBody(t, rec, &stopped)
	if stopped.State != "closed" {
		t.Errorf("state = %q, want closed", stopped.State)
	}
}

func TestLiveStop_PersistsTranscript(t *testing.T) {
	t.Parallel()
	dialer := &scriptedDialer{}
	store := &fakeStore{}
	a := newTestApp(t,
		app.WithVoiceManager(testVoiceManager(dialer)),
		app.WithLibraryStore(store),
	)
	h := a.Handler()

	rec := postJSON(t, h, "/api/live/start", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var started struct {
		SessionID string `json:"session_id"`
	}
	decodeBody(t, rec, &started)

	dialer.lock.Lock()
	sess := dialer.sessions[0]
	dialer.lock.Unlock()
	sess.textCh <- "Schedule the launch thread for Tuesday."

	// Wait until the fragment lands before stopping.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec = getPath(t, h, "/api/live/transcript")
		var tr struct {
			Text string `json:"text"`
		}
		decodeBody(t, rec, &tr)
		if tr.Text != "" {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	rec = postJSON(t, h, "/api/live/stop", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d, body = %s", rec.Code, rec.Body.String())
	}

	store.mu.Lock()
	saved := append([]library.Transcript(nil), store.transcripts...)
	store.mu.Unlock()
	if len(saved) != 1 {
		t.Fatalf("saved transcripts = %d, want 1", len(saved))
	}
	if saved[0].SessionID != started.SessionID {
		t.Errorf("session ID = %q, want %q", saved[0].SessionID, started.SessionID)
	}
	if saved[0].Text != "Schedule the launch thread for Tuesday." {
		t.Errorf("text = %q", saved[0].Text)
	}

	rec = getPath(t, h, "/api/library/transcripts/"+started.SessionID)
	if rec.Code != http.StatusOK {
		t.Fatalf("transcripts status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var listed struct {
		SessionID   string `json:"session_id"`
		Transcripts []struct {
			Text string `json:"text"`
		} `json:"transcripts"`
	}
	decodeBody(t, rec, &listed)
	if len(listed.Transcripts) != 1 || listed.Transcripts[0].Text != saved[0].Text {
		t.Errorf("listed transcripts = %+v", listed.Transcripts)
	}
}

func TestSessionTranscripts_Unconfigured(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	rec := getPath(t, a.Handler(), "/api/library/transcripts/some-session")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLiveStop_WithoutSession(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, app.WithVoiceManager(testVoiceManager(&scriptedDialer{})))
	rec := postJSON(t, a.Handler(), "/api/live/stop", map[string]any{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestLive_Unconfigured(t *testing.T) {
	t.Parallel()
	a := newTestApp(t)
	rec := postJSON(t, a.Handler(), "/api/live/start", map[string]any{})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}
