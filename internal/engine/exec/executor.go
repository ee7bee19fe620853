// Package exec implements the Executor (C7): it runs a SQLCandidate
// against the tenant database through a pooled SQLExecutionService,
// enforces a per-query timeout, and classifies failures per the error
// taxonomy in spec §6/§7. Row normalization (decimal->float, time->ISO,
// interval->structured seconds) is grounded on the teacher sqlite
// adapter's []byte->string coercion, generalized to the richer type
// matrix a pooled pgx/v5 connection surfaces.
package exec

import (
	"context"
	"regexp"
	"strings"
	"time"

	"analyticalquery/internal/engine/model"
	"analyticalquery/internal/engine/ports"
)

// DefaultTimeout is applied when the caller does not specify one.
const DefaultTimeout = 30 * time.Second

// writeVerbPattern matches the first significant SQL keyword to detect
// write statements (spec §4.7: "if the query's first significant keyword
// is a write verb, the connection commits after statement execution").
var writeVerbPattern = regexp.MustCompile(`(?i)^\s*(?:--[^\n]*\n|\s)*\b(INSERT|UPDATE|DELETE|MERGE|REPLACE)\b`)

// Executor runs SQLCandidates through an injected execution service.
type Executor struct {
	svc ports.SQLExecutionService
}

// New creates an Executor over a SQLExecutionService.
func New(svc ports.SQLExecutionService) *Executor {
	return &Executor{svc: svc}
}

// Execute runs one SQLCandidate with the given timeout (or DefaultTimeout
// if zero), returning a normalized ExecutionResult. Timeouts surface as
// ExecutionResult{Success:false, Error.Kind:"timeout"} rather than an
// error return, so callers can uniformly inspect the result.
func (e *Executor) Execute(ctx context.Context, candidate model.SQLCandidate, timeout time.Duration) model.ExecutionResult {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := e.svc.Execute(ctx, candidate.SQL, timeout)
	elapsed := time.Since(start)

	if err != nil {
		kind := classify(err, ctx)
		return model.ExecutionResult{
			Candidate:     candidate,
			Success:       false,
			ExecutionTime: elapsed,
			Error:         &model.ExecutionError{Kind: kind, Message: err.Error()},
		}
	}

	if result == nil {
		result = &model.ExecutionResult{}
	}
	result.Candidate = candidate
	result.ExecutionTime = elapsed
	result.Rows = normalizeRows(result.Rows)
	result.RowCount = len(result.Rows)
	result.Success = true
	return *result
}

// classify maps a raw execution error to one of the taxonomy kinds (spec
// §6): syntax, unknown_column, permission, timeout, connection, other.
func classify(err error, ctx context.Context) model.ExecutionErrorKind {
	if ctx.Err() == context.DeadlineExceeded {
		return model.ErrKindTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "syntax"):
		return model.ErrKindSyntax
	case strings.Contains(msg, "unknown column") || strings.Contains(msg, "no such column") || strings.Contains(msg, "column") && strings.Contains(msg, "does not exist"):
		return model.ErrKindUnknownColumn
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied") || strings.Contains(msg, "privilege"):
		return model.ErrKindPermission
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return model.ErrKindTimeout
	case strings.Contains(msg, "connection") || strings.Contains(msg, "refused") || strings.Contains(msg, "closed"):
		return model.ErrKindConnection
	default:
		return model.ErrKindOther
	}
}

// IsWrite reports whether sql's first significant keyword is a write
// verb (spec §4.7).
func IsWrite(sql string) bool {
	return writeVerbPattern.MatchString(sql)
}

// normalizeRows converts non-JSON-safe values into JSON-safe equivalents:
// arbitrary-precision decimals to floats, timestamps to ISO-8601 strings,
// durations to a structured form preserving total seconds (spec §3
// ExecutionResult invariant).
func normalizeRows(rows []map[string]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		normalized := make(map[string]any, len(row))
		for k, v := range row {
			normalized[k] = normalizeValue(v)
		}
		out[i] = normalized
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case time.Duration:
		return map[string]any{
			"total_seconds": val.Seconds(),
			"hours":         int(val.Hours()),
			"minutes":       int(val.Minutes()) % 60,
			"seconds":       int(val.Seconds()) % 60,
		}
	case []byte:
		return string(val)
	default:
		return decimalToFloatIfPossible(val)
	}
}
