// Package sqlgen implements the Contextual SQL Generator (C6): it emits
// 1-5 SQL candidates per sub-question, grounded in schema and (optionally)
// value-exploration results, then runs a deterministic post-generation
// linter that enforces the structural rules the prompt cannot guarantee
// on its own. Linting is grounded on the teacher's schema_parser.go
// regex-driven tokenization technique, repurposed from DDL parsing to
// SELECT/WHERE identifier extraction.
package sqlgen

import (
	"context"
	"regexp"
	"strings"

	"analyticalquery/internal/engine/model"
	"analyticalquery/internal/engine/ports"
	"analyticalquery/internal/engine/prompt"
)

type queriesResponse struct {
	Queries []struct {
		SQL         string `json:"sql"`
		Description string `json:"description"`
		Type        string `json:"type"`
	} `json:"queries"`
}

// Generator produces and lints SQL candidates for one SubQuestion.
type Generator struct {
	llm ports.LLMGateway
}

// New creates a Generator over an LLM gateway.
func New(llm ports.LLMGateway) *Generator {
	return &Generator{llm: llm}
}

// Generate returns 1-5 linted SQLCandidates for sub. If every generated
// candidate is rejected by the linter, it falls back to a single simple
// aggregate query derived verbatim from the sub-question text (spec
// §4.6). explored carries any ColumnExploration results already gathered
// for this sub-question (empty on the first pass, populated by the
// retry loop on the second).
func (g *Generator) Generate(ctx context.Context, sub model.SubQuestion, schema *model.SchemaContext, schemaText string, explored map[string]model.ColumnExploration) []model.SQLCandidate {
	human := "Sub-question: " + sub.Text
	if sub.Entity != "" {
		human += "\nScoped entity: " + sub.Entity
	}
	human += "\n\nSchema:\n" + schemaText
	if len(explored) > 0 {
		human += "\n\nCOLUMN EXPLORATION RESULTS:\n" + renderExploration(explored)
	}

	raw, err := g.llm.Invoke(ctx, prompt.ContextualSQL.System, human, 0)
	if err != nil {
		return []model.SQLCandidate{fallbackCandidate(sub)}
	}

	var resp queriesResponse
	if err := prompt.ParseStrictJSON(raw, &resp); err != nil {
		return []model.SQLCandidate{fallbackCandidate(sub)}
	}

	candidates := make([]model.SQLCandidate, 0, len(resp.Queries))
	for i, q := range resp.Queries {
		if i >= 5 {
			break
		}
		candidates = append(candidates, model.SQLCandidate{
			SQL:         q.SQL,
			Description: q.Description,
			Type:        candidateType(q.Type),
		})
	}

	surviving := Lint(candidates, sub, schema, explored)
	if len(surviving) == 0 {
		return []model.SQLCandidate{fallbackCandidate(sub)}
	}
	return surviving
}

func candidateType(t string) model.CandidateType {
	switch model.CandidateType(t) {
	case model.CandidateAggregate, model.CandidateGrouped, model.CandidateOverallRange:
		return model.CandidateType(t)
	default:
		return model.CandidateAggregate
	}
}

func fallbackCandidate(sub model.SubQuestion) model.SQLCandidate {
	// A simple aggregate query derived from the sub-question verbatim;
	// the exact table/column is unknowable without schema linking, so
	// this is a descriptive placeholder the Executor will classify as a
	// syntax failure if unusable — which is acceptable since the retry
	// loop and result filtering are designed to drop unusable candidates
	// without failing the sub-question (spec §4.6, §4.8).
	return model.SQLCandidate{
		SQL:         "-- unable to generate a valid candidate for: " + sub.Text,
		Description: "fallback aggregate derived from sub-question text",
		Type:        model.CandidateAggregate,
	}
}

func renderExploration(explored map[string]model.ColumnExploration) string {
	var sb strings.Builder
	for col, exp := range explored {
		sb.WriteString("- " + col + ": ")
		parts := make([]string, 0, len(exp.Values()))
		for _, v := range exp.Values() {
			parts = append(parts, v.Value)
		}
		sb.WriteString(strings.Join(parts, ", "))
		sb.WriteString("\n")
	}
	return sb.String()
}

// identPattern extracts bare identifiers from a SQL string for rule-1
// column-existence checking. It is deliberately conservative: it does
// not attempt a full SQL parse, only word-boundary token extraction, the
// same technique the teacher's schema_parser.go uses for DDL.
var identPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// stringLiteralPattern matches single- and double-quoted SQL literals so
// their contents can be stripped before identifier extraction — otherwise
// a literal like 'BI Developer' would surface "BI" and "Developer" as
// bogus column references.
var stringLiteralPattern = regexp.MustCompile(`'[^']*'|"[^"]*"`)

var sqlKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "BY": true,
	"ORDER": true, "HAVING": true, "AS": true, "AND": true, "OR": true,
	"NOT": true, "NULL": true, "IS": true, "IN": true, "LIKE": true,
	"JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "OUTER": true,
	"ON": true, "LIMIT": true, "OFFSET": true, "DISTINCT": true, "COUNT": true,
	"SUM": true, "AVG": true, "MIN": true, "MAX": true, "CASE": true, "WHEN": true,
	"THEN": true, "ELSE": true, "END": true, "ASC": true, "DESC": true,
	"PERCENTILE_CONT": true, "WITHIN": true, "GROUP_CONCAT": true,
}

var likePattern = regexp.MustCompile(`(?i)([A-Za-z_][A-Za-z0-9_.]*)\s+(?:NOT\s+)?LIKE\s+`)
var inListPattern = regexp.MustCompile(`(?i)([A-Za-z_][A-Za-z0-9_.]*)\s+IN\s*\(\s*'[^)]*,[^)]*'\s*\)`)
var groupByPattern = regexp.MustCompile(`(?i)GROUP\s+BY\s+(.+?)(?:HAVING|ORDER|LIMIT|$)`)

// Lint rejects candidates that violate rules 1 (unknown column), 3
// (LIKE over an explored exact-value column), 4 (IN-list combining
// compared entities), or 5 (multi-dimension GROUP BY). Rejected
// candidates are discarded, never repaired (spec §4.6).
func Lint(candidates []model.SQLCandidate, sub model.SubQuestion, schema *model.SchemaContext, explored map[string]model.ColumnExploration) []model.SQLCandidate {
	var surviving []model.SQLCandidate
	for _, c := range candidates {
		if violatesUnknownColumn(c.SQL, schema) {
			continue
		}
		if violatesLikeOverExplored(c.SQL, explored) {
			continue
		}
		if sub.Entity == "" && violatesEntityInList(c.SQL) {
			continue
		}
		if !allowsCrossTabulation(sub.Text) && violatesMultiDimensionGroupBy(c.SQL) {
			continue
		}
		surviving = append(surviving, c)
	}
	return surviving
}

func violatesUnknownColumn(sql string, schema *model.SchemaContext) bool {
	if schema == nil {
		return false
	}
	stripped := stringLiteralPattern.ReplaceAllString(sql, "''")
	for _, tok := range identPattern.FindAllString(stripped, -1) {
		upper := strings.ToUpper(tok)
		if sqlKeywords[upper] {
			continue
		}
		if isNumericLiteral(tok) {
			continue
		}
		if schema.HasColumn(tok) {
			continue
		}
		if tableOrAliasLike(tok, schema) {
			continue
		}
		// An identifier that matches neither a known column, a known
		// table, nor a SQL keyword is treated as a fabricated reference.
		return true
	}
	return false
}

func isNumericLiteral(tok string) bool {
	for _, r := range tok {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(tok) > 0
}

func tableOrAliasLike(tok string, schema *model.SchemaContext) bool {
	for _, t := range schema.Tables {
		if strings.EqualFold(t.QualifiedName, tok) || strings.EqualFold(t.UnqualifiedName, tok) {
			return true
		}
	}
	return false
}

func violatesLikeOverExplored(sql string, explored map[string]model.ColumnExploration) bool {
	if len(explored) == 0 {
		return false
	}
	for _, m := range likePattern.FindAllStringSubmatch(sql, -1) {
		col := lastSegment(m[1])
		if _, ok := explored[col]; ok {
			return true
		}
	}
	return false
}

func lastSegment(ident string) string {
	if idx := strings.LastIndex(ident, "."); idx >= 0 {
		return ident[idx+1:]
	}
	return ident
}

func violatesEntityInList(sql string) bool {
	return inListPattern.MatchString(sql)
}

// allowsCrossTabulation reports whether the sub-question explicitly asks
// for a cross-tabulation, the one case where multi-dimension GROUP BY is
// permitted (spec §4.6 rule 5).
func allowsCrossTabulation(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "cross-tab") ||
		strings.Contains(lower, "cross tab") ||
		strings.Contains(lower, "breakdown by") && strings.Contains(lower, " and ")
}

func violatesMultiDimensionGroupBy(sql string) bool {
	m := groupByPattern.FindStringSubmatch(sql)
	if m == nil {
		return false
	}
	cols := strings.Split(m[1], ",")
	count := 0
	for _, c := range cols {
		if strings.TrimSpace(c) != "" {
			count++
		}
	}
	return count > 1
}
