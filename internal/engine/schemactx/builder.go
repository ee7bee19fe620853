// Package schemactx implements the Schema Context Builder (C1): it turns
// a SchemaIntrospector into a SchemaContext plus a textual rendering
// grounded on the statistics-collection approach of the teacher's
// quality checker (null%, type-mismatch detection, top-K value
// frequencies), generalized from ad-hoc quality reporting into the
// statistics every prompt in the Prompt Library consumes.
package schemactx

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"analyticalquery/internal/engine/model"
	"analyticalquery/internal/engine/ports"
)

// schemaEncoding is the tokenizer used to keep a rendered SchemaContext
// within a prompt's context window, the same cl100k_base encoding the
// teacher's pipeline.go counts tokens with.
const schemaEncoding = "cl100k_base"

// categoricalDistinctThreshold is the distinct-count ceiling below which
// a column is treated as categorical-like and gets top-5 value/frequency
// statistics (spec §4.1).
const categoricalDistinctThreshold = 1000

// sampleRowCount is how many sample rows are kept per table for prompt
// grounding (spec §4.1: "up to three sample rows per table" in the
// rendering, sampled from five).
const sampleRowCount = 5

// Builder builds and caches a SchemaContext for one workspace.
type Builder struct {
	workspaceID  string
	introspector ports.SchemaIntrospector
	cached       *model.SchemaContext
}

// New creates a Builder bound to one workspace's introspector.
func New(workspaceID string, introspector ports.SchemaIntrospector) *Builder {
	return &Builder{workspaceID: workspaceID, introspector: introspector}
}

// Build constructs the SchemaContext, caching it for subsequent calls.
// Individual per-column statistics that fail do not fail the whole
// build — they are recorded as "unavailable" and the build continues
// (spec §4.1).
func (b *Builder) Build(ctx context.Context) (*model.SchemaContext, error) {
	tableNames, err := b.introspector.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("schemactx: list tables: %w", err)
	}

	sc := &model.SchemaContext{WorkspaceID: b.workspaceID, BuiltAt: time.Now()}
	seen := make(map[string]bool, len(tableNames))

	for _, name := range tableNames {
		unqualified := unqualify(name)
		if seen[unqualified] && !strings.Contains(name, ".") {
			// An unqualified duplicate of an already-seen table: the
			// qualified form (if present) is preferred, so skip this one.
			continue
		}

		table, err := b.buildTable(ctx, name, unqualified)
		if err != nil {
			continue // table-level failure shouldn't abort the whole build
		}
		sc.Tables = append(sc.Tables, *table)
		seen[unqualified] = true
	}

	sc.Tables = dedupeByUnqualifiedName(sc.Tables)

	for i := range sc.Tables {
		fks, err := b.introspector.ForeignKeys(ctx, sc.Tables[i].QualifiedName)
		if err != nil {
			continue
		}
		sc.Relationships = append(sc.Relationships, fks...)
	}

	b.cached = sc
	return sc, nil
}

// Refresh rebuilds the entire SchemaContext from scratch.
func (b *Builder) Refresh(ctx context.Context) (*model.SchemaContext, error) {
	b.cached = nil
	return b.Build(ctx)
}

// RefreshTable rebuilds a single table's entry in-place, leaving the rest
// of the cached SchemaContext untouched (partial refresh, spec §4.1).
func (b *Builder) RefreshTable(ctx context.Context, name string) error {
	if b.cached == nil {
		_, err := b.Build(ctx)
		return err
	}
	table, err := b.buildTable(ctx, name, unqualify(name))
	if err != nil {
		return err
	}
	for i := range b.cached.Tables {
		if b.cached.Tables[i].QualifiedName == table.QualifiedName {
			b.cached.Tables[i] = *table
			return nil
		}
	}
	b.cached.Tables = append(b.cached.Tables, *table)
	return nil
}

// Cached returns the last built SchemaContext, or nil if Build has never
// been called.
func (b *Builder) Cached() *model.SchemaContext { return b.cached }

func (b *Builder) buildTable(ctx context.Context, qualifiedName, unqualifiedName string) (*model.Table, error) {
	cols, err := b.introspector.Columns(ctx, qualifiedName)
	if err != nil {
		return nil, fmt.Errorf("schemactx: columns for %s: %w", qualifiedName, err)
	}

	rowCount, err := b.introspector.RowCount(ctx, qualifiedName)
	if err != nil {
		rowCount = 0
	}

	samples, err := b.introspector.SampleRows(ctx, qualifiedName, sampleRowCount)
	if err != nil {
		samples = nil
	}

	for i := range cols {
		cols[i].Stats = b.collectStats(ctx, qualifiedName, cols[i])
	}

	return &model.Table{
		QualifiedName:   qualifiedName,
		UnqualifiedName: unqualifiedName,
		RowCount:        rowCount,
		Columns:         cols,
		SampleRows:      samples,
	}, nil
}

func (b *Builder) collectStats(ctx context.Context, table string, col model.Column) *model.ColumnStats {
	stats := &model.ColumnStats{}

	if nullPct, err := b.introspector.NullPercent(ctx, table, col.Name); err == nil {
		stats.NullPercent = nullPct
	} else {
		stats.Unavailable = append(stats.Unavailable, "null_percent")
	}

	if isNumericType(col.Type) {
		if min, max, mean, median, err := b.introspector.NumericRange(ctx, table, col.Name); err == nil {
			stats.Min, stats.Max, stats.Mean, stats.Median = &min, &max, &mean, &median
		} else {
			stats.Unavailable = append(stats.Unavailable, "min", "max", "mean", "median")
		}
		// Numeric columns are not treated as categorical; skip top-K.
		return stats
	}

	values, distinct, err := b.introspector.TopValues(ctx, table, col.Name, 5)
	if err != nil {
		stats.Unavailable = append(stats.Unavailable, "top_values", "distinct_count")
		return stats
	}
	stats.DistinctCount = distinct
	if distinct < categoricalDistinctThreshold {
		stats.TopValues = values
	}
	return stats
}

func isNumericType(t string) bool {
	t = strings.ToUpper(t)
	for _, kw := range []string{"INT", "FLOAT", "DOUBLE", "DECIMAL", "NUMERIC", "REAL", "SERIAL"} {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

func unqualify(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

// dedupeByUnqualifiedName ensures each logical table appears exactly
// once in the rendering, preferring the qualified name when a collision
// exists (spec §4.1 Deduplication).
func dedupeByUnqualifiedName(tables []model.Table) []model.Table {
	best := make(map[string]model.Table, len(tables))
	order := make([]string, 0, len(tables))
	for _, t := range tables {
		existing, ok := best[t.UnqualifiedName]
		if !ok {
			best[t.UnqualifiedName] = t
			order = append(order, t.UnqualifiedName)
			continue
		}
		if !strings.Contains(existing.QualifiedName, ".") && strings.Contains(t.QualifiedName, ".") {
			best[t.UnqualifiedName] = t
		}
	}
	out := make([]model.Table, 0, len(order))
	for _, name := range order {
		out = append(out, best[name])
	}
	return out
}

// Render produces the textual description consumed by prompts: a compact
// summary section followed by a detailed per-column section with
// statistics and sample rows (spec §4.1).
func Render(sc *model.SchemaContext) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## Schema Summary (%d tables)\n\n", len(sc.Tables)))
	names := make([]string, 0, len(sc.Tables))
	for _, t := range sc.Tables {
		names = append(names, t.QualifiedName)
	}
	sort.Strings(names)
	for _, n := range names {
		sb.WriteString(fmt.Sprintf("- %s\n", n))
	}

	for _, rel := range sc.Relationships {
		sb.WriteString(fmt.Sprintf("- FK: %s(%s) -> %s(%s)\n",
			rel.SourceTable, strings.Join(rel.SourceColumns, ","),
			rel.TargetTable, strings.Join(rel.TargetColumns, ",")))
	}

	sb.WriteString("\n## Table Detail\n\n")
	for _, t := range sc.Tables {
		sb.WriteString(renderTable(t))
	}

	return sb.String()
}

// RenderBounded renders sc the way Render does, then drops whole tables
// from the detail section (lowest row count first) until the result
// fits within maxTokens, as counted by the cl100k_base tokenizer (spec
// §4.1: "SchemaContext as whole tokens" budget for large schemas). A
// maxTokens of zero or a tokenizer load failure falls back to the
// unbounded Render.
func RenderBounded(sc *model.SchemaContext, maxTokens int) string {
	full := Render(sc)
	if maxTokens <= 0 {
		return full
	}

	enc, err := tiktoken.GetEncoding(schemaEncoding)
	if err != nil {
		return full
	}
	if len(enc.Encode(full, nil, nil)) <= maxTokens {
		return full
	}

	tables := make([]model.Table, len(sc.Tables))
	copy(tables, sc.Tables)
	sort.Slice(tables, func(i, j int) bool { return tables[i].RowCount > tables[j].RowCount })

	trimmed := *sc
	for len(tables) > 0 {
		trimmed.Tables = tables
		rendered := Render(&trimmed)
		if len(enc.Encode(rendered, nil, nil)) <= maxTokens {
			return rendered
		}
		tables = tables[:len(tables)-1]
	}
	return Render(&model.SchemaContext{WorkspaceID: sc.WorkspaceID, BuiltAt: sc.BuiltAt})
}

func renderTable(t model.Table) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("### %s (%d rows)\n\n", t.QualifiedName, t.RowCount))

	for _, c := range t.Columns {
		sb.WriteString(fmt.Sprintf("- %s %s", c.Name, c.Type))
		if c.Stats != nil {
			if c.Stats.NullPercent > 0 {
				sb.WriteString(fmt.Sprintf(" null=%.1f%%", c.Stats.NullPercent))
			}
			if c.Stats.Min != nil {
				sb.WriteString(fmt.Sprintf(" range=[%.2f,%.2f] mean=%.2f median=%.2f",
					*c.Stats.Min, *c.Stats.Max, *c.Stats.Mean, *c.Stats.Median))
			}
			if len(c.Stats.TopValues) > 0 {
				parts := make([]string, 0, len(c.Stats.TopValues))
				for _, v := range c.Stats.TopValues {
					parts = append(parts, fmt.Sprintf("%s(%d)", v.Value, v.Count))
				}
				sb.WriteString(" top=[" + strings.Join(parts, ", ") + "]")
			}
			if len(c.Stats.Unavailable) > 0 {
				sb.WriteString(" unavailable=[" + strings.Join(c.Stats.Unavailable, ",") + "]")
			}
		}
		sb.WriteString("\n")
	}

	if len(t.SampleRows) > 0 {
		sb.WriteString("  sample rows:\n")
		limit := len(t.SampleRows)
		if limit > 3 {
			limit = 3
		}
		for _, row := range t.SampleRows[:limit] {
			sb.WriteString(fmt.Sprintf("  - %v\n", row))
		}
	}
	sb.WriteString("\n")
	return sb.String()
}
