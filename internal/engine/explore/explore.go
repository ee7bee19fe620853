// Package explore implements the Value Explorer (C2): on-demand top-K
// distinct-value sampling for a named column, optionally partitioned by a
// keyword hint. Grounded on the column-exploration routines of
// original_source's sql_generation manager, re-expressed as a single
// adapter-backed query against SchemaIntrospector.
package explore

import (
	"context"
	"fmt"
	"strings"

	"analyticalquery/internal/engine/model"
	"analyticalquery/internal/engine/ports"
)

// DefaultK is the default bound on returned values (spec §4.2).
const DefaultK = 20

// ExplorationError wraps a genuine DB-level failure encountered while
// exploring a column. A missing column is not an error — see Explore.
type ExplorationError struct {
	Column string
	Cause  error
}

func (e *ExplorationError) Error() string {
	return fmt.Sprintf("explore: column %q: %v", e.Column, e.Cause)
}

func (e *ExplorationError) Unwrap() error { return e.Cause }

// Explorer probes column values for one workspace's schema.
type Explorer struct {
	introspector ports.SchemaIntrospector
	schema       *model.SchemaContext
}

// New creates an Explorer bound to a schema and its introspector.
func New(introspector ports.SchemaIntrospector, schema *model.SchemaContext) *Explorer {
	return &Explorer{introspector: introspector, schema: schema}
}

// Explore returns up to k most-frequent non-null values for the named
// column. Numeric columns are explicitly skipped (spec §4.2: "kept
// exploration focused on categorical grounding"). A missing column
// yields an empty result with TotalDistinct=0, not an error; only a
// genuine DB error returns ExplorationError.
func (e *Explorer) Explore(ctx context.Context, table, column string, k int, keywordHint string) (*model.ColumnExploration, error) {
	if k <= 0 {
		k = DefaultK
	}

	col, found := e.findColumn(table, column)
	if !found {
		return &model.ColumnExploration{Column: column, TotalDistinct: 0}, nil
	}
	if isNumeric(col.Type) {
		return &model.ColumnExploration{Column: column, TotalDistinct: 0}, nil
	}

	// Over-fetch so that partitioning by keyword still yields up to k
	// total values without a second round trip in the common case.
	values, distinct, err := e.introspector.TopValues(ctx, table, column, k)
	if err != nil {
		return nil, &ExplorationError{Column: column, Cause: err}
	}

	result := &model.ColumnExploration{Column: column, TotalDistinct: distinct}

	if keywordHint == "" {
		if len(values) > k {
			values = values[:k]
		}
		result.Matching = values
		return result, nil
	}

	hint := strings.ToLower(keywordHint)
	var matching, other []model.ValueFrequency
	for _, v := range values {
		val := strings.ToLower(v.Value)
		if strings.Contains(val, hint) || strings.Contains(hint, val) {
			matching = append(matching, v)
		} else {
			other = append(other, v)
		}
	}

	total := len(matching) + len(other)
	if total > k {
		// Matching values come first; trim from the tail of "other"
		// first, then from "matching" if still over budget.
		overflow := total - k
		otherLen := len(other)
		if overflow <= otherLen {
			other = other[:otherLen-overflow]
		} else {
			remaining := overflow - otherLen
			other = nil
			matching = matching[:len(matching)-remaining]
		}
	}

	result.Matching = matching
	result.Other = other
	return result, nil
}

func (e *Explorer) findColumn(table, column string) (model.Column, bool) {
	if e.schema == nil {
		return model.Column{}, false
	}
	t, ok := e.schema.TableByName(table)
	if !ok {
		return model.Column{}, false
	}
	for _, c := range t.Columns {
		if c.Name == column {
			return c, true
		}
	}
	return model.Column{}, false
}

func isNumeric(t string) bool {
	t = strings.ToUpper(t)
	for _, kw := range []string{"INT", "FLOAT", "DOUBLE", "DECIMAL", "NUMERIC", "REAL", "SERIAL"} {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}
