// Package apperr declares the typed error kinds surfaced (or deliberately
// swallowed) by the engine, per spec §7. PlanningParseError and
// GenerationLintFailure are recovered locally by their owning components
// and never reach the caller; the rest are request-level and propagate.
package apperr

import (
	"fmt"
	"regexp"
)

// Kind is the stable tag attached to every surfaced error.
type Kind string

const (
	KindPlanningParse       Kind = "planning_parse_error"
	KindGenerationLint      Kind = "generation_lint_failure"
	KindExecution           Kind = "execution_error"
	KindDeadlineExceeded    Kind = "deadline_exceeded"
	KindUnrecoverableSchema Kind = "unrecoverable_schema_error"
	KindDependencyUnavail   Kind = "dependency_unavailable"
)

// PlanningParseError records that LLM output for decomposition, planning,
// or scoring could not be parsed. Handled locally by a documented
// fallback; never surfaced to the caller.
type PlanningParseError struct {
	Stage string // "decomposition" | "planning" | "scoring"
	Raw   string
	Cause error
}

func (e *PlanningParseError) Error() string {
	return fmt.Sprintf("%s: planning parse failure at stage %q: %v", KindPlanningParse, e.Stage, e.Cause)
}

func (e *PlanningParseError) Unwrap() error { return e.Cause }

// GenerationLintFailure records that every SQL candidate for a
// sub-question was rejected by the post-generation linter. Handled by
// falling back to a single simple aggregate query; never surfaced.
type GenerationLintFailure struct {
	SubQuestion string
	Reasons     []string
}

func (e *GenerationLintFailure) Error() string {
	return fmt.Sprintf("%s: all candidates rejected for %q: %v", KindGenerationLint, e.SubQuestion, e.Reasons)
}

// ExecutionError is a classified per-query failure. It either triggers
// the retry loop or is dropped; it is not surfaced verbatim to the caller.
type ExecutionError struct {
	ErrKind string // mirrors model.ExecutionErrorKind
	Message string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s: %s", KindExecution, e.ErrKind, Redact(e.Message))
}

// DeadlineExceededError is request-level: the composer was invoked with
// whatever results were already in hand, and the Answer carries a
// truncation marker.
type DeadlineExceededError struct {
	CompletedSubQuestions int
	TotalSubQuestions     int
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("%s: deadline exceeded after %d/%d sub-questions completed",
		KindDeadlineExceeded, e.CompletedSubQuestions, e.TotalSubQuestions)
}

// UnrecoverableSchemaError means SchemaContext could not be built at all.
// The core returns this without calling any prompts.
type UnrecoverableSchemaError struct {
	WorkspaceID string
	Cause       error
}

func (e *UnrecoverableSchemaError) Error() string {
	return fmt.Sprintf("%s: workspace %q: %v", KindUnrecoverableSchema, e.WorkspaceID, e.Cause)
}

func (e *UnrecoverableSchemaError) Unwrap() error { return e.Cause }

// DependencyUnavailableError means the LLM gateway or DB is unreachable
// beyond retry. The failing dependency is named in the message.
type DependencyUnavailableError struct {
	Dependency string // "llm_gateway" | "db_execution_service"
	Cause      error
}

func (e *DependencyUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s unavailable: %v", KindDependencyUnavail, e.Dependency, e.Cause)
}

func (e *DependencyUnavailableError) Unwrap() error { return e.Cause }

// opaqueTokenPattern heuristically matches long alphanumeric runs that
// look like secrets (API keys, session tokens) rather than business data.
var opaqueTokenPattern = regexp.MustCompile(`[A-Za-z0-9_\-]{24,}`)

// Redact scrubs long opaque tokens from an error message before it is
// attached to a surfaced error, so that user-supplied values that look
// like secrets never leak verbatim (spec §7).
func Redact(msg string) string {
	return opaqueTokenPattern.ReplaceAllString(msg, "[redacted]")
}
