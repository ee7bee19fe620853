package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"analyticalquery/internal/engine/model"
)

// PostgresAdapter is a pooled ports.SQLExecutionService and
// ports.SchemaIntrospector over information_schema, grounded on the
// teacher's postgresql.go ExecuteQuery row-scan loop, generalized from a
// single database/sql connection to a pgxpool.Pool so the engine's DB
// semaphore bounds real pooled connections, and extended with the
// introspection queries SchemaIntrospector requires (the teacher adapter
// never introspected; it only executed pre-written queries).
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

// NewPostgresAdapter opens a pooled connection, failing fast if the
// database is unreachable.
func NewPostgresAdapter(ctx context.Context, config Config) (*PostgresAdapter, error) {
	poolConfig, err := pgxpool.ParseConfig(config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PostgresAdapter{pool: pool}, nil
}

// Close releases the underlying pool.
func (a *PostgresAdapter) Close() {
	a.pool.Close()
}

// Execute runs sql and returns a normalized ExecutionResult, satisfying
// ports.SQLExecutionService. Normalization of raw row values (decimal,
// time, etc.) happens one layer up in the Executor; this adapter hands
// back whatever pgx itself decoded.
func (a *PostgresAdapter) Execute(ctx context.Context, sql string, timeout time.Duration) (*model.ExecutionResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rows, err := a.pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	var result []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &model.ExecutionResult{Rows: result, RowCount: len(result)}, nil
}

// Tables lists base tables in the public schema, satisfying
// ports.SchemaIntrospector.
func (a *PostgresAdapter) Tables(ctx context.Context) ([]string, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Columns reports every column of table with its declared type and
// nullability.
func (a *PostgresAdapter) Columns(ctx context.Context, table string) ([]model.Column, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []model.Column
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, err
		}
		columns = append(columns, model.Column{
			Name:     name,
			Type:     dataType,
			Nullable: nullable == "YES",
		})
	}
	return columns, rows.Err()
}

// ForeignKeys reports the foreign-key edges declared on table.
func (a *PostgresAdapter) ForeignKeys(ctx context.Context, table string) ([]model.Relationship, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT
			kcu.column_name,
			ccu.table_name  AS foreign_table,
			ccu.column_name AS foreign_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = 'public' AND tc.table_name = $1`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relationships []model.Relationship
	for rows.Next() {
		var column, foreignTable, foreignColumn string
		if err := rows.Scan(&column, &foreignTable, &foreignColumn); err != nil {
			return nil, err
		}
		relationships = append(relationships, model.Relationship{
			SourceTable:   table,
			SourceColumns: []string{column},
			TargetTable:   foreignTable,
			TargetColumns: []string{foreignColumn},
		})
	}
	return relationships, rows.Err()
}

// RowCount returns table's approximate row count via a direct COUNT(*) —
// acceptable for the table sizes this engine targets; a planner-estimate
// query (pg_class.reltuples) would drift too far from ground truth for
// the statistics the Schema Context Builder presents verbatim.
func (a *PostgresAdapter) RowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	err := a.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(table))).Scan(&count)
	return count, err
}

// SampleRows returns up to n arbitrary rows from table.
func (a *PostgresAdapter) SampleRows(ctx context.Context, table string, n int) ([]map[string]any, error) {
	rows, err := a.pool.Query(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", quoteIdent(table), n))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	var result []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// TopValues returns the k most frequent non-null values of column in
// table along with the column's total distinct count.
func (a *PostgresAdapter) TopValues(ctx context.Context, table, column string, k int) ([]model.ValueFrequency, int, error) {
	var distinct int
	countQuery := fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s", quoteIdent(column), quoteIdent(table))
	if err := a.pool.QueryRow(ctx, countQuery).Scan(&distinct); err != nil {
		return nil, 0, err
	}

	topQuery := fmt.Sprintf(`
		SELECT %s::text AS v, COUNT(*) AS c
		FROM %s
		WHERE %s IS NOT NULL
		GROUP BY %s
		ORDER BY c DESC
		LIMIT %d`, quoteIdent(column), quoteIdent(table), quoteIdent(column), quoteIdent(column), k)

	rows, err := a.pool.Query(ctx, topQuery)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var values []model.ValueFrequency
	for rows.Next() {
		var value string
		var count int
		if err := rows.Scan(&value, &count); err != nil {
			return nil, 0, err
		}
		values = append(values, model.ValueFrequency{Value: value, Count: count})
	}
	return values, distinct, rows.Err()
}

// NumericRange returns min/max/mean/median for a numeric column.
func (a *PostgresAdapter) NumericRange(ctx context.Context, table, column string) (min, max, mean, median float64, err error) {
	query := fmt.Sprintf(`
		SELECT
			MIN(%s)::float8,
			MAX(%s)::float8,
			AVG(%s)::float8,
			PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY %s)::float8
		FROM %s`, quoteIdent(column), quoteIdent(column), quoteIdent(column), quoteIdent(column), quoteIdent(table))
	err = a.pool.QueryRow(ctx, query).Scan(&min, &max, &mean, &median)
	return
}

// NullPercent returns the fraction of rows in table where column is NULL.
func (a *PostgresAdapter) NullPercent(ctx context.Context, table, column string) (float64, error) {
	query := fmt.Sprintf(`
		SELECT
			CASE WHEN COUNT(*) = 0 THEN 0
			ELSE COUNT(*) FILTER (WHERE %s IS NULL)::float8 / COUNT(*)::float8
			END
		FROM %s`, quoteIdent(column), quoteIdent(table))
	var pct float64
	err := a.pool.QueryRow(ctx, query).Scan(&pct)
	return pct, err
}

// quoteIdent double-quotes a Postgres identifier, doubling any embedded
// quote. Table/column names reaching this adapter come from prior
// information_schema introspection or already-linted candidates, never
// raw user input, but this keeps identifier interpolation unambiguous
// regardless.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
