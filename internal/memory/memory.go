// Package memory provides a concrete ports.VectorMemory over a
// pgvector-indexed Postgres table, grounded on Koopa0-assistant-go's
// PGVectorStore/VectorToPgVector (internal/langchain/vectorstore/pgvector.go,
// internal/platform/storage/postgres/conversions.go), generalized from a
// LangChain VectorStore adapter into the engine's narrower
// session-scoped Upsert/Search contract.
package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/tmc/langchaingo/embeddings"
)

// Store is a pgvector-backed ports.VectorMemory. Search failures are
// swallowed and reported as an empty slice per the port's contract
// (spec §6: memory is a non-blocking convenience, not a dependency the
// request can fail on).
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Embedder
}

// New creates a Store over an existing pool and embedder. The caller
// owns the pool's lifecycle.
func New(pool *pgxpool.Pool, embedder embeddings.Embedder) *Store {
	return &Store{pool: pool, embedder: embedder}
}

// EnsureSchema creates the backing table and its ivfflat index if they
// do not already exist. Call once at startup.
func (s *Store) EnsureSchema(ctx context.Context, dimensions int) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS session_memory (
			id         bigserial PRIMARY KEY,
			session_id text NOT NULL,
			content    text NOT NULL,
			metadata   jsonb NOT NULL DEFAULT '{}',
			embedding  vector(%d) NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS session_memory_session_idx ON session_memory (session_id);
	`, dimensions))
	return err
}

// Upsert embeds text and appends it to sessionID's memory, tagged with
// metadata (spec §6 VectorMemory.Upsert). Memory is append-only: a
// session's history accumulates turn by turn rather than overwriting.
func (s *Store) Upsert(ctx context.Context, sessionID, text string, metadata map[string]string) error {
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed memory entry: %w", err)
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal memory metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO session_memory (session_id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4)`,
		sessionID, text, metadataJSON, pgvector.NewVector(vec))
	return err
}

// Search returns the k texts in sessionID's memory most similar to text
// by cosine distance. On any failure — embedding, query, or scan — it
// returns nil rather than an error, per the VectorMemory contract.
func (s *Store) Search(ctx context.Context, sessionID, text string, k int) []string {
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT content FROM session_memory
		WHERE session_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3`, sessionID, pgvector.NewVector(vec), k)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil
		}
		results = append(results, content)
	}
	if rows.Err() != nil {
		return nil
	}
	return results
}
