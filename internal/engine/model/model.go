// Package model defines the core entities of the analytical query engine:
// the derived SchemaContext, the per-request decomposition and generation
// artifacts, and the final synthesized Answer. Everything here is a plain
// value type — persistence and mutation live in the owning components.
package model

import "time"

// Column describes one column of a Table, including optional statistics
// gathered by the Schema Context Builder (C1).
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Stats    *ColumnStats
}

// ColumnStats holds deterministic, pre-computed statistics for a single
// column. All fields are optional: a failed individual statistic must not
// prevent the rest of the table from building (see SchemaContext.Builder).
type ColumnStats struct {
	Min           *float64
	Max           *float64
	Mean          *float64
	Median        *float64
	DistinctCount int
	NullPercent   float64
	TopValues     []ValueFrequency
	Unavailable   []string // names of statistics that could not be computed
}

// ValueFrequency is one (value, frequency) pair, used both for per-column
// top-K statistics in SchemaContext and for ColumnExploration results.
type ValueFrequency struct {
	Value string
	Count int
}

// Relationship is a directed foreign-key edge between two tables.
type Relationship struct {
	SourceTable   string
	SourceColumns []string
	TargetTable   string
	TargetColumns []string
}

// Table is one logical table in the SchemaContext: a qualified name, row
// count, ordered columns, and up to three sample rows for prompt grounding.
type Table struct {
	QualifiedName   string
	UnqualifiedName string
	RowCount        int64
	Columns         []Column
	SampleRows      []map[string]any
}

// SchemaContext is the engine's immutable, per-workspace view of the
// target database. It is built once per workspace activation and shared
// read-only across all requests against that workspace.
type SchemaContext struct {
	WorkspaceID   string
	Tables        []Table
	Relationships []Relationship
	BuiltAt       time.Time
}

// TableByName looks up a table by either its qualified or unqualified
// name. Qualified names are preferred when both forms are registered
// (see SchemaContext invariant in spec §3).
func (sc *SchemaContext) TableByName(name string) (*Table, bool) {
	for i := range sc.Tables {
		if sc.Tables[i].QualifiedName == name {
			return &sc.Tables[i], true
		}
	}
	for i := range sc.Tables {
		if sc.Tables[i].UnqualifiedName == name {
			return &sc.Tables[i], true
		}
	}
	return nil, false
}

// HasColumn reports whether any table in the schema declares a column
// with the given name. Used to enforce the "no fabricated columns"
// invariant across C4–C6.
func (sc *SchemaContext) HasColumn(name string) bool {
	for _, t := range sc.Tables {
		for _, c := range t.Columns {
			if c.Name == name {
				return true
			}
		}
	}
	return false
}

// ColumnExploration is the result of value-probing a single column: up to
// K most-frequent non-null values, optionally partitioned by a keyword
// hint. Discarded when the owning request completes.
type ColumnExploration struct {
	Column        string
	TotalDistinct int
	Matching      []ValueFrequency
	Other         []ValueFrequency
}

// Values returns Matching followed by Other, the combined list bounded to
// K by construction (see explore.Explorer.Explore).
func (e ColumnExploration) Values() []ValueFrequency {
	out := make([]ValueFrequency, 0, len(e.Matching)+len(e.Other))
	out = append(out, e.Matching...)
	out = append(out, e.Other...)
	return out
}

// DimensionTag categorizes the analytical angle a SubQuestion targets.
type DimensionTag string

const (
	DimensionSupplier   DimensionTag = "supplier"
	DimensionGeographic DimensionTag = "geographic"
	DimensionTemporal   DimensionTag = "temporal"
	DimensionRole       DimensionTag = "role"
	DimensionOverall    DimensionTag = "overall"
	DimensionOther      DimensionTag = "other"
)

// Priority is the relative importance the Decomposer assigns a SubQuestion.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// SubQuestion is one decomposed analytical unit, scoped to a single
// dimension (and, for multi-entity comparisons, a single entity).
type SubQuestion struct {
	Text      string
	Priority  Priority
	Dimension DimensionTag
	Entity    string // non-empty only for multi-entity comparison questions
}

// QueryPlan is the Query Planner's (C5) advisory output for one SubQuestion.
type QueryPlan struct {
	NeedsMultiple bool
	Reasoning     string
	Explorations  []string // suggested column names for proactive exploration
}

// CandidateType tags the shape of a generated SQL candidate.
type CandidateType string

const (
	CandidateAggregate    CandidateType = "aggregate"
	CandidateGrouped      CandidateType = "grouped"
	CandidateOverallRange CandidateType = "overall_range"
)

// SQLCandidate is one SQL statement proposed by the Contextual SQL
// Generator (C6), possibly enhanced by the Retry-with-Exploration Loop (C8).
type SQLCandidate struct {
	SQL                     string
	Description             string
	Type                    CandidateType
	EnhancedWithExploration bool
}

// ExecutionErrorKind classifies why a SQLCandidate failed to execute.
type ExecutionErrorKind string

const (
	ErrKindSyntax        ExecutionErrorKind = "syntax"
	ErrKindUnknownColumn ExecutionErrorKind = "unknown_column"
	ErrKindPermission    ExecutionErrorKind = "permission"
	ErrKindTimeout       ExecutionErrorKind = "timeout"
	ErrKindConnection    ExecutionErrorKind = "connection"
	ErrKindOther         ExecutionErrorKind = "other"
)

// ExecutionError describes a classified SQL execution failure.
type ExecutionError struct {
	Kind    ExecutionErrorKind
	Message string
}

// ExecutionResult is the outcome of running one SQLCandidate.
type ExecutionResult struct {
	Candidate     SQLCandidate
	Success       bool
	Rows          []map[string]any
	RowCount      int
	ExecutionTime time.Duration
	Error         *ExecutionError
}

// HasNullAggregation reports whether every column whose name suggests an
// aggregate (avg/sum/count/min/max/total/mean) is null across all rows —
// one of the Retry-with-Exploration trigger conditions (spec §4.8).
func (r ExecutionResult) HasNullAggregation(aggColumns func(name string) bool) bool {
	if !r.Success || r.RowCount == 0 {
		return false
	}
	found := false
	for _, row := range r.Rows {
		for col, val := range row {
			if !aggColumns(col) {
				continue
			}
			found = true
			if val != nil {
				return false
			}
		}
	}
	return found
}

// ScoredResult augments an ExecutionResult with an LLM-assigned quality
// score, reasoning, and key insights (C9).
type ScoredResult struct {
	Result       ExecutionResult
	SubQuestion  SubQuestion
	QualityScore int
	Reasoning    string
	KeyInsights  []string
	Weight       float64
}

// AnswerTable is one focused table surfaced in the final synthesized Answer.
type AnswerTable struct {
	Title   string
	Columns []string
	Rows    [][]any
}

// SubQuestionStats records per-sub-question execution statistics attached
// to the final Answer for observability.
type SubQuestionStats struct {
	SubQuestion     SubQuestion
	CandidateCount  int
	RetriedExplored bool
	RetainedCount   int
}

// Answer is the final synthesized artifact returned by process_question.
type Answer struct {
	Narrative        string
	Tables           []AnswerTable
	UsedCandidates   []SQLCandidate
	Stats            []SubQuestionStats
	Truncated        bool
	NoAnswer         bool
	NoAnswerReason   string
	NoAnswerRephrase string
}
