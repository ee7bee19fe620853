package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"analyticalquery/internal/memory"
)

// fakeEmbedder returns a fixed low-dimension vector derived from text
// length, just distinct enough to exercise pgvector's distance ordering
// without depending on a real embedding model.
type fakeEmbedder struct{}

func (fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = vectorFor(t)
	}
	return vectors, nil
}

func (fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return vectorFor(text), nil
}

func vectorFor(text string) []float32 {
	return []float32{float32(len(text)), 0, 0}
}

// startMemoryFixture boots a disposable pgvector-enabled Postgres
// container, grounded on Koopa0-assistant-go's
// test/testutil.NewPostgreSQLContainer (pgvector/pgvector image), and
// returns a ready Store with its schema created.
func startMemoryFixture(t *testing.T) *memory.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in -short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "pgvector/pgvector:pg16",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	require.NoError(t, err)

	store := memory.New(pool, fakeEmbedder{})
	require.NoError(t, store.EnsureSchema(ctx, 3))
	return store
}

func TestStoreUpsertAndSearchReturnsAccumulatedHistory(t *testing.T) {
	store := startMemoryFixture(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "session-a", "what is the average order amount", map[string]string{"workspace_id": "ws1"}))
	require.NoError(t, store.Upsert(ctx, "session-a", "which supplier has the highest total", map[string]string{"workspace_id": "ws1"}))

	results := store.Search(ctx, "session-a", "average order amount", 5)
	require.NotEmpty(t, results)
}

func TestStoreSearchScopesToSession(t *testing.T) {
	store := startMemoryFixture(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, "session-a", "question in session a", nil))
	require.NoError(t, store.Upsert(ctx, "session-b", "question in session b", nil))

	results := store.Search(ctx, "session-a", "question", 10)
	require.Len(t, results, 1)
	require.Equal(t, "question in session a", results[0])
}

func TestStoreSearchReturnsNilOnUnknownSession(t *testing.T) {
	store := startMemoryFixture(t)
	results := store.Search(context.Background(), "no-such-session", "anything", 5)
	require.Empty(t, results)
}
