package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"analyticalquery/internal/engine/model"
)

// SQLiteAdapter is a database/sql-backed ports.SQLExecutionService and
// ports.SchemaIntrospector over SQLite's pragma introspection, grounded
// on the teacher's sqlite.go ExecuteQuery row-scan loop. It backs
// in-process demo/test workspaces; the cgo-free modernc.org/sqlite
// driver replaces the teacher's mattn/go-sqlite3 so the whole module
// stays cgo-free end to end.
type SQLiteAdapter struct {
	db       *sql.DB
	filePath string
}

// NewSQLiteAdapter opens (and, for a fresh file, creates) a SQLite
// database at filePath. Use ":memory:" for an ephemeral database.
func NewSQLiteAdapter(ctx context.Context, filePath string) (*SQLiteAdapter, error) {
	db, err := sql.Open("sqlite", filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQLiteAdapter{db: db, filePath: filePath}, nil
}

// Close closes the underlying connection.
func (a *SQLiteAdapter) Close() error {
	return a.db.Close()
}

// Execute runs sql and returns a normalized ExecutionResult.
func (a *SQLiteAdapter) Execute(ctx context.Context, query string, timeout time.Duration) (*model.ExecutionResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &model.ExecutionResult{Rows: result, RowCount: len(result)}, nil
}

// Tables lists the database's user tables, excluding sqlite's own
// bookkeeping tables.
func (a *SQLiteAdapter) Tables(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
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

// Columns reports every column of table via PRAGMA table_info.
func (a *SQLiteAdapter) Columns(ctx context.Context, table string) ([]model.Column, error) {
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []model.Column
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var dfltValue any
		var pk int
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		columns = append(columns, model.Column{Name: name, Type: dataType, Nullable: notNull == 0})
	}
	return columns, rows.Err()
}

// ForeignKeys reports the foreign-key edges declared on table via
// PRAGMA foreign_key_list.
func (a *SQLiteAdapter) ForeignKeys(ctx context.Context, table string) ([]model.Relationship, error) {
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%q)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relationships []model.Relationship
	for rows.Next() {
		var id, seq int
		var refTable, from, to string
		var onUpdate, onDelete, match string
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, err
		}
		relationships = append(relationships, model.Relationship{
			SourceTable: table, SourceColumns: []string{from},
			TargetTable: refTable, TargetColumns: []string{to},
		})
	}
	return relationships, rows.Err()
}

// RowCount returns table's exact row count.
func (a *SQLiteAdapter) RowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %q", table)).Scan(&count)
	return count, err
}

// SampleRows returns up to n arbitrary rows from table.
func (a *SQLiteAdapter) SampleRows(ctx context.Context, table string, n int) ([]map[string]any, error) {
	result, err := a.Execute(ctx, fmt.Sprintf("SELECT * FROM %q LIMIT %d", table, n), 0)
	if err != nil {
		return nil, err
	}
	return result.Rows, nil
}

// TopValues returns the k most frequent non-null values of column along
// with its total distinct count.
func (a *SQLiteAdapter) TopValues(ctx context.Context, table, column string, k int) ([]model.ValueFrequency, int, error) {
	var distinct int
	if err := a.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(DISTINCT %q) FROM %q", column, table)).Scan(&distinct); err != nil {
		return nil, 0, err
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %q AS v, COUNT(*) AS c FROM %q
		WHERE %q IS NOT NULL
		GROUP BY %q
		ORDER BY c DESC LIMIT %d`, column, table, column, column, k))
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

// NumericRange returns min/max/mean/median for a numeric column. SQLite
// lacks a built-in median aggregate, so it is approximated via an
// ordered-offset self-query.
func (a *SQLiteAdapter) NumericRange(ctx context.Context, table, column string) (min, max, mean, median float64, err error) {
	query := fmt.Sprintf("SELECT MIN(%q), MAX(%q), AVG(%q) FROM %q", column, column, column, table)
	if err = a.db.QueryRowContext(ctx, query).Scan(&min, &max, &mean); err != nil {
		return
	}
	medianQuery := fmt.Sprintf(`
		SELECT AVG(v) FROM (
			SELECT %q AS v FROM %q WHERE %q IS NOT NULL ORDER BY %q
			LIMIT 2 - (SELECT COUNT(*) FROM %q WHERE %q IS NOT NULL) %% 2
			OFFSET (SELECT (COUNT(*) - 1) / 2 FROM %q WHERE %q IS NOT NULL)
		)`, column, table, column, column, table, column, table, column)
	err = a.db.QueryRowContext(ctx, medianQuery).Scan(&median)
	return
}

// NullPercent returns the fraction of rows in table where column is NULL.
func (a *SQLiteAdapter) NullPercent(ctx context.Context, table, column string) (float64, error) {
	query := fmt.Sprintf(`
		SELECT CAST(SUM(CASE WHEN %q IS NULL THEN 1 ELSE 0 END) AS REAL) / COUNT(*)
		FROM %q`, column, table)
	var pct float64
	err := a.db.QueryRowContext(ctx, query).Scan(&pct)
	return pct, err
}
