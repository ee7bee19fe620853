// Package ports declares the interfaces the engine expects from its
// external collaborators (spec §6): an LLM gateway, a SQL execution
// service bound to a tenant database, a schema introspector, a vector
// memory for prior-turn context, and a workspace/session store. The core
// engine never depends on a concrete implementation of any of these —
// only on these interfaces.
package ports

import (
	"context"
	"time"

	"analyticalquery/internal/engine/model"
)

// LLMGateway invokes a language model with a deterministic (temperature
// zero) setting. Streaming is not required.
type LLMGateway interface {
	Invoke(ctx context.Context, systemMessage, humanMessage string, timeout time.Duration) (string, error)
}

// SQLExecutionService executes SQL against the tenant database bound to a
// workspace, classifying failures per the taxonomy in spec §6.
type SQLExecutionService interface {
	Execute(ctx context.Context, sql string, timeout time.Duration) (*model.ExecutionResult, error)
}

// SchemaIntrospector reports tables, columns, foreign keys, row counts,
// and value-sampling statistics. All methods are idempotent.
type SchemaIntrospector interface {
	Tables(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) ([]model.Column, error)
	ForeignKeys(ctx context.Context, table string) ([]model.Relationship, error)
	RowCount(ctx context.Context, table string) (int64, error)
	SampleRows(ctx context.Context, table string, n int) ([]map[string]any, error)
	TopValues(ctx context.Context, table, column string, k int) ([]model.ValueFrequency, int, error)
	NumericRange(ctx context.Context, table, column string) (min, max, mean, median float64, err error)
	NullPercent(ctx context.Context, table, column string) (float64, error)
}

// VectorMemory stores and retrieves prior-turn context for a session.
// Failures are non-blocking: a failed search returns an empty slice
// rather than an error, per spec §6.
type VectorMemory interface {
	Upsert(ctx context.Context, sessionID, text string, metadata map[string]string) error
	Search(ctx context.Context, sessionID, text string, k int) []string
}

// WorkspaceStore provides the minimal read access the core needs into
// collaborator-owned persisted state: the last N messages of a session,
// used for memory context. The message log format itself is opaque to
// the core.
type WorkspaceStore interface {
	LastMessages(ctx context.Context, sessionID string, n int) ([]string, error)
}
