package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"analyticalquery/internal/engine/model"
)

// MySQLAdapter is a database/sql-backed ports.SQLExecutionService and
// ports.SchemaIntrospector over MySQL's information_schema, grounded on
// the teacher's mysql.go ExecuteQuery row-scan loop and generalized with
// the introspection queries SchemaIntrospector requires.
type MySQLAdapter struct {
	db     *sql.DB
	config MySQLConfig
}

// MySQLConfig is a MySQL connection configuration.
type MySQLConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// NewMySQLAdapter opens and pings a MySQL connection.
func NewMySQLAdapter(ctx context.Context, config MySQLConfig) (*MySQLAdapter, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		config.User, config.Password, config.Host, config.Port, config.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &MySQLAdapter{db: db, config: config}, nil
}

// Close closes the underlying connection pool.
func (a *MySQLAdapter) Close() error {
	return a.db.Close()
}

// Execute runs sql and returns a normalized ExecutionResult.
func (a *MySQLAdapter) Execute(ctx context.Context, query string, timeout time.Duration) (*model.ExecutionResult, error) {
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

// Tables lists base tables in the configured database.
func (a *MySQLAdapter) Tables(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'
		ORDER BY table_name`, a.config.Database)
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
func (a *MySQLAdapter) Columns(ctx context.Context, table string) ([]model.Column, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, a.config.Database, table)
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
		columns = append(columns, model.Column{Name: name, Type: dataType, Nullable: nullable == "YES"})
	}
	return columns, rows.Err()
}

// ForeignKeys reports the foreign-key edges declared on table.
func (a *MySQLAdapter) ForeignKeys(ctx context.Context, table string) ([]model.Relationship, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT column_name, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ? AND table_name = ? AND referenced_table_name IS NOT NULL`,
		a.config.Database, table)
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
			SourceTable: table, SourceColumns: []string{column},
			TargetTable: foreignTable, TargetColumns: []string{foreignColumn},
		})
	}
	return relationships, rows.Err()
}

// RowCount returns table's exact row count.
func (a *MySQLAdapter) RowCount(ctx context.Context, table string) (int64, error) {
	var count int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM `%s`", table)).Scan(&count)
	return count, err
}

// SampleRows returns up to n arbitrary rows from table.
func (a *MySQLAdapter) SampleRows(ctx context.Context, table string, n int) ([]map[string]any, error) {
	result, err := a.Execute(ctx, fmt.Sprintf("SELECT * FROM `%s` LIMIT %d", table, n), 0)
	if err != nil {
		return nil, err
	}
	return result.Rows, nil
}

// TopValues returns the k most frequent non-null values of column along
// with its total distinct count.
func (a *MySQLAdapter) TopValues(ctx context.Context, table, column string, k int) ([]model.ValueFrequency, int, error) {
	var distinct int
	if err := a.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(DISTINCT `%s`) FROM `%s`", column, table)).Scan(&distinct); err != nil {
		return nil, 0, err
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT `+"`%s`"+` AS v, COUNT(*) AS c FROM `+"`%s`"+`
		WHERE `+"`%s`"+` IS NOT NULL
		GROUP BY `+"`%s`"+`
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

// NumericRange returns min/max/mean/median for a numeric column.
func (a *MySQLAdapter) NumericRange(ctx context.Context, table, column string) (min, max, mean, median float64, err error) {
	query := fmt.Sprintf("SELECT MIN(`%s`), MAX(`%s`), AVG(`%s`) FROM `%s`", column, column, column, table)
	if err = a.db.QueryRowContext(ctx, query).Scan(&min, &max, &mean); err != nil {
		return
	}
	// MySQL has no built-in PERCENTILE_CONT before 8.0's window-function
	// workarounds; approximate the median with the average of the two
	// central ordered values.
	medianQuery := fmt.Sprintf(`
		SELECT AVG(t.v) FROM (
			SELECT `+"`%s`"+` AS v FROM `+"`%s`"+`
			WHERE `+"`%s`"+` IS NOT NULL
			ORDER BY `+"`%s`"+`
			LIMIT 2 - (SELECT COUNT(*) FROM `+"`%s`"+` WHERE `+"`%s`"+` IS NOT NULL) %% 2
			OFFSET (SELECT (COUNT(*) - 1) / 2 FROM `+"`%s`"+` WHERE `+"`%s`"+` IS NOT NULL)
		) t`, column, table, column, column, table, column, table, column)
	err = a.db.QueryRowContext(ctx, medianQuery).Scan(&median)
	return
}

// NullPercent returns the fraction of rows in table where column is NULL.
func (a *MySQLAdapter) NullPercent(ctx context.Context, table, column string) (float64, error) {
	query := fmt.Sprintf(`
		SELECT IFNULL(SUM(CASE WHEN `+"`%s`"+` IS NULL THEN 1 ELSE 0 END) / COUNT(*), 0)
		FROM `+"`%s`", column, table)
	var pct float64
	err := a.db.QueryRowContext(ctx, query).Scan(&pct)
	return pct, err
}
