package store

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/brief/internal/models"
	"github.com/xhad/brief/internal/types"
)

var ErrSummaryNotFound = errors.New("summary not found")

type ArchiveConfig struct {
	ConnString  string
	TableName   string
	VectorDim   int
	SearchLimit int
}

// Archive keeps generated summaries with their embeddings so that earlier
// summaries of similar material can be found again.
type Archive struct {
	config   ArchiveConfig
	pool     *pgxpool.Pool
	embedder types.Embedder
}

func NewArchive(ctx context.Context, config ArchiveConfig, embedder types.Embedder) (*Archive, error) {
	if config.TableName == "" {
		config.TableName = "summaries"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.SearchLimit == 0 {
		config.SearchLimit = 5
	}
	if embedder == nil {
		return nil, errors.New("archive requires an embedder")
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &Archive{
		config:   config,
		pool:     pool,
		embedder: embedder,
	}

	if err := a.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return a, nil
}

func (a *Archive) initialize(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source_ref TEXT NOT NULL,
			model_id TEXT NOT NULL,
			word_target INTEGER NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			embedding vector(%d)
		)`, a.config.TableName, a.config.VectorDim)

	if _, err := a.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		a.config.TableName, a.config.TableName)

	if _, err := a.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// Save embeds and stores a summary. Saving the same ID again replaces it.
func (a *Archive) Save(ctx context.Context, summary models.Summary) error {
	content := sanitizeUTF8(summary.Text)
	vec, err := a.embedder.EmbedQuery(ctx, content)
	if err != nil {
		return fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(vec) != a.config.VectorDim {
		return fmt.Errorf("embedding has %d dimensions, archive expects %d", len(vec), a.config.VectorDim)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, source_ref, model_id, word_target, content, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`,
		a.config.TableName)

	_, err = a.pool.Exec(ctx, stmt,
		summary.ID,
		sanitizeUTF8(summary.SourceRef),
		summary.ModelID,
		summary.WordTarget,
		content,
		summary.CreatedAt,
		pgvector.NewVector(vec),
	)
	if err != nil {
		return fmt.Errorf("failed to insert summary: %w", err)
	}
	return nil
}

func (a *Archive) Get(ctx context.Context, id string) (models.Summary, error) {
	query := fmt.Sprintf(`
		SELECT id, source_ref, model_id, word_target, content, created_at
		FROM %s WHERE id = $1`, a.config.TableName)

	summary, err := scanSummary(a.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Summary{}, ErrSummaryNotFound
	}
	return summary, err
}

// Similar returns archived summaries closest to text, nearest first.
func (a *Archive) Similar(ctx context.Context, text string, limit int) ([]models.Summary, error) {
	if limit <= 0 {
		limit = a.config.SearchLimit
	}

	vec, err := a.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, source_ref, model_id, word_target, content, created_at
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		a.config.TableName)

	rows, err := a.pool.Query(ctx, query, pgvector.NewVector(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []models.Summary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

func (a *Archive) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func scanSummary(row pgx.Row) (models.Summary, error) {
	var s models.Summary
	err := row.Scan(&s.ID, &s.SourceRef, &s.ModelID, &s.WordTarget, &s.Text, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, err
		}
		return s, fmt.Errorf("failed to scan row: %w", err)
	}
	return s, nil
}

// sanitizeUTF8 drops invalid bytes, which Postgres rejects in TEXT columns.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
