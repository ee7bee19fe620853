// Package retry implements the Retry-with-Exploration Loop (C8): on an
// empty or null-aggregation result, it explores the SQL's candidate
// columns, re-renders the schema section with an exploration block, and
// re-invokes the generator once. Grounded on original_source's
// analytical_manager _extract_relevant_columns / _enhance_query_with_...
// pair, reimplemented with Go regexp word-boundary matching the way the
// teacher already tokenizes SQL-ish text in schema_parser.go.
package retry

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"analyticalquery/internal/engine/exec"
	"analyticalquery/internal/engine/explore"
	"analyticalquery/internal/engine/model"
	"analyticalquery/internal/engine/sqlgen"
)

// aggNamePattern matches the aggregate-suggestive substrings used to
// detect null-aggregation results (spec §4.8 trigger condition).
var aggNamePattern = regexp.MustCompile(`(?i)avg|sum|count|min|max|total|mean`)

func isAggregateColumnName(name string) bool {
	return aggNamePattern.MatchString(name)
}

// ShouldRetry reports whether result meets any of the trigger conditions
// in spec §4.8: a syntax/unknown_column failure, a success with zero
// rows, or a success where every aggregation-named column is null.
func ShouldRetry(result model.ExecutionResult) bool {
	if !result.Success {
		return result.Error != nil &&
			(result.Error.Kind == model.ErrKindSyntax || result.Error.Kind == model.ErrKindUnknownColumn)
	}
	if result.RowCount == 0 {
		return true
	}
	return result.HasNullAggregation(isAggregateColumnName)
}

// Loop runs the retry-with-exploration procedure at most once per
// sub-question (spec §4.8): it extracts candidate columns from the
// failing SQL, explores each (excluding numerics), re-renders context,
// re-invokes the generator, executes the enhanced candidates once, and
// returns only the surviving non-empty, non-null results.
type Loop struct {
	explorer  *explore.Explorer
	generator *sqlgen.Generator
	executor  *exec.Executor
}

// New creates a retry Loop over its collaborators.
func New(explorer *explore.Explorer, generator *sqlgen.Generator, executor *exec.Executor) *Loop {
	return &Loop{explorer: explorer, generator: generator, executor: executor}
}

// Run executes the one-shot retry procedure for sub, given the failing
// original result, the sub-question's schema text, and the schema
// itself (for column-token matching). It returns the enhanced,
// surviving ExecutionResults; an empty slice means the retry did not
// recover anything, and the caller drops the sub-question's candidates
// without failing the request.
func (l *Loop) Run(ctx context.Context, sub model.SubQuestion, failing model.SQLCandidate, schema *model.SchemaContext, schemaText string) []model.ExecutionResult {
	columns := extractCandidateColumns(failing.SQL, schema)
	if len(columns) == 0 {
		return nil
	}

	explored := make(map[string]model.ColumnExploration, len(columns))
	for _, table := range tablesReferencing(columns, schema) {
		for _, col := range columns {
			exploration, err := l.explorer.Explore(ctx, table, col, explore.DefaultK, sub.Text)
			if err != nil || exploration.TotalDistinct == 0 {
				continue
			}
			explored[col] = *exploration
		}
	}
	if len(explored) == 0 {
		return nil
	}

	enhancedSchemaText := schemaText + "\n\n## COLUMN EXPLORATION RESULTS\n" + renderBlock(explored)

	candidates := l.generator.Generate(ctx, sub, schema, enhancedSchemaText, explored)
	var survivors []model.ExecutionResult
	for i := range candidates {
		candidates[i].EnhancedWithExploration = true
		result := l.executor.Execute(ctx, candidates[i], 0)
		if result.Success && result.RowCount > 0 && !result.HasNullAggregation(isAggregateColumnName) {
			survivors = append(survivors, result)
		}
	}
	return survivors
}

// extractCandidateColumns matches column names from the schema as whole
// tokens within the failing SQL (spec §4.8 step 1), excluding numeric
// columns (step 2 happens in Run via Explorer's own numeric skip).
func extractCandidateColumns(sql string, schema *model.SchemaContext) []string {
	if schema == nil {
		return nil
	}
	var found []string
	seen := map[string]bool{}
	for _, table := range schema.Tables {
		for _, col := range table.Columns {
			if seen[col.Name] {
				continue
			}
			pattern := `\b` + regexp.QuoteMeta(col.Name) + `\b`
			if matched, _ := regexp.MatchString(pattern, sql); matched {
				found = append(found, col.Name)
				seen[col.Name] = true
			}
		}
	}
	return found
}

func tablesReferencing(columns []string, schema *model.SchemaContext) []string {
	var tables []string
	seen := map[string]bool{}
	for _, t := range schema.Tables {
		for _, c := range t.Columns {
			for _, col := range columns {
				if c.Name == col && !seen[t.QualifiedName] {
					tables = append(tables, t.QualifiedName)
					seen[t.QualifiedName] = true
				}
			}
		}
	}
	return tables
}

func renderBlock(explored map[string]model.ColumnExploration) string {
	var sb strings.Builder
	for col, exp := range explored {
		sb.WriteString("- " + col + " (distinct=" + strconv.Itoa(exp.TotalDistinct) + "): ")
		parts := make([]string, 0, len(exp.Values()))
		for _, v := range exp.Values() {
			parts = append(parts, v.Value)
		}
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString("\n")
	}
	return sb.String()
}
