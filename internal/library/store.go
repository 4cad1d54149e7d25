// Package library persists studio output in PostgreSQL: generated articles
// with their embeddings for similarity lookup, and finished session
// transcripts.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("library: not found")

// Article is a stored studio article. Embedding holds the body's embedding
// vector and drives [Store.SearchRelated].
type Article struct {
	ID        string
	Topic     string
	Title     string
	Body      string
	Tone      string
	Embedding []float32
	CreatedAt time.Time
}

// RelatedArticle is a similarity search hit. Distance is the cosine distance
// to the query vector; lower is more similar.
type RelatedArticle struct {
	Article
	Distance float64
}

// Transcript is one finished voice session's transcript.
type Transcript struct {
	ID        string
	SessionID string
	Text      string
	CreatedAt time.Time
}

// Store is the PostgreSQL-backed content library. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, registers pgvector types on every
// connection, and runs [Migrate].
//
// embeddingDimensions must match the output dimension of the embedding model
// producing [Article.Embedding] values. Changing it after the first migration
// requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("library: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("library: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("library: ping: %w", err)
	}
	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("library: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases all connections held by the pool.
func (s *Store) Close() { s.pool.Close() }

// Ping verifies the database is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcripts_session_id
    ON transcripts (session_id);
`

// ddlArticles returns the articles DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type.
func ddlArticles(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS articles (
    id          TEXT         PRIMARY KEY,
    topic       TEXT         NOT NULL,
    title       TEXT         NOT NULL,
    body        TEXT         NOT NULL,
    tone        TEXT         NOT NULL DEFAULT '',
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_articles_embedding
    ON articles USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	for _, stmt := range []string{ddlArticles(embeddingDimensions), ddlTranscripts} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("library migrate: %w", err)
		}
	}
	return nil
}

// SaveArticle upserts an article. A missing ID or CreatedAt is filled in; the
// stored article is returned.
func (s *Store) SaveArticle(ctx context.Context, a Article) (Article, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO articles (id, topic, title, body, tone, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    topic      = EXCLUDED.topic,
		    title      = EXCLUDED.title,
		    body       = EXCLUDED.body,
		    tone       = EXCLUDED.tone,
		    embedding  = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at`

	_, err := s.pool.Exec(ctx, q,
		a.ID, a.Topic, a.Title, a.Body, a.Tone,
		pgvector.NewVector(a.Embedding), a.CreatedAt,
	)
	if err != nil {
		return Article{}, fmt.Errorf("library: save article: %w", err)
	}
	return a, nil
}

// GetArticle returns the article with the given ID, or [ErrNotFound].
func (s *Store) GetArticle(ctx context.Context, id string) (Article, error) {
	const q = `
		SELECT id, topic, title, body, tone, embedding, created_at
		FROM   articles
		WHERE  id = $1`

	var (
		a   Article
		vec pgvector.Vector
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&a.ID, &a.Topic, &a.Title, &a.Body, &a.Tone, &vec, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Article{}, ErrNotFound
	}
	if err != nil {
		return Article{}, fmt.Errorf("library: get article: %w", err)
	}
	a.Embedding = vec.Slice()
	return a, nil
}

// SearchRelated finds the topK articles whose embeddings are closest (cosine
// distance) to the query embedding, most similar first.
func (s *Store) SearchRelated(ctx context.Context, embedding []float32, topK int) ([]RelatedArticle, error) {
	if topK <= 0 {
		topK = 5
	}

	const q = `
		SELECT id, topic, title, body, tone, embedding, created_at,
		       embedding <=> $1 AS distance
		FROM   articles
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("library: search related: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RelatedArticle, error) {
		var (
			ra  RelatedArticle
			vec pgvector.Vector
		)
		if err := row.Scan(
			&ra.ID, &ra.Topic, &ra.Title, &ra.Body, &ra.Tone, &vec,
			&ra.CreatedAt, &ra.Distance,
		); err != nil {
			return RelatedArticle{}, err
		}
		ra.Embedding = vec.Slice()
		return ra, nil
	})
	if err != nil {
		return nil, fmt.Errorf("library: scan rows: %w", err)
	}
	if results == nil {
		results = []RelatedArticle{}
	}
	return results, nil
}

// SaveTranscript stores a session transcript and returns it with ID and
// CreatedAt filled in.
func (s *Store) SaveTranscript(ctx context.Context, tr Transcript) (Transcript, error) {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO transcripts (id, session_id, text, created_at)
		VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, tr.ID, tr.SessionID, tr.Text, tr.CreatedAt); err != nil {
		return Transcript{}, fmt.Errorf("library: save transcript: %w", err)
	}
	return tr, nil
}

// SessionTranscripts returns all transcripts stored for a session, oldest
// first.
func (s *Store) SessionTranscripts(ctx context.Context, sessionID string) ([]Transcript, error) {
	const q = `
		SELECT id, session_id, text, created_at
		FROM   transcripts
		WHERE  session_id = $1
		ORDER  BY created_at`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("library: session transcripts: %w", err)
	}
	results, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Transcript])
	if err != nil {
		return nil, fmt.Errorf("library: scan rows: %w", err)
	}
	if results == nil {
		results = []Transcript{}
	}
	return results, nil
}
