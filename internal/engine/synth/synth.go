// Package synth implements the Synthesis Composer (C10): it merges
// scored, weighted results across all sub-questions into a single
// structured narrative Answer. Structure grounded on original_source's
// analytical_manager generate_comprehensive_analysis synthesis prompt.
package synth

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"analyticalquery/internal/engine/model"
	"analyticalquery/internal/engine/ports"
	"analyticalquery/internal/engine/prompt"
)

// minRowsForTable is the minimum row count a dimension needs before the
// composer includes a focused table for it (spec §4.10).
const minRowsForTable = 3

// maxTableRows bounds every focused table to at most five rows.
const maxTableRows = 5

// Composer synthesizes the final Answer from retained ScoredResults.
type Composer struct {
	llm ports.LLMGateway
}

// New creates a Composer over an LLM gateway.
func New(llm ports.LLMGateway) *Composer {
	return &Composer{llm: llm}
}

// Compose merges retained across all sub-questions into a single Answer.
// If retained is empty, it emits a "no answer" message naming the likely
// cause and a rewording suggestion instead of invoking the LLM (spec
// §4.10, §7).
func (c *Composer) Compose(ctx context.Context, question string, retained []model.ScoredResult, stats []model.SubQuestionStats, schemaText string, truncated bool) model.Answer {
	if len(retained) == 0 {
		return noAnswer(stats)
	}

	human := buildSynthesisPrompt(question, retained, schemaText)
	narrative, err := c.llm.Invoke(ctx, prompt.Synthesis.System, human, 0)
	if err != nil {
		narrative = fallbackNarrative(retained)
	} else if violatesBareNumericRate(narrative) {
		// The prompt asks for low-high ranges on rate-style aggregates, but
		// nothing prevents a model from collapsing one into a bare figure
		// anyway; the light post-validator in spec §4.10/invariant 5 catches
		// that here and falls back to the deterministic narrative instead
		// of shipping an unranged number.
		narrative = fallbackNarrative(retained)
	}

	answer := model.Answer{
		Narrative: narrative,
		Tables:    buildTables(retained),
		Stats:     stats,
		Truncated: truncated,
	}
	for _, r := range retained {
		answer.UsedCandidates = append(answer.UsedCandidates, r.Result.Candidate)
	}
	return answer
}

func buildSynthesisPrompt(question string, retained []model.ScoredResult, schemaText string) string {
	var sb strings.Builder
	sb.WriteString("User question: " + question + "\n\n")
	sb.WriteString("Scored results by dimension:\n")
	for _, r := range retained {
		sb.WriteString(fmt.Sprintf("- [%s] weight=%.2f score=%d: %s -> %d rows\n",
			r.SubQuestion.Dimension, r.Weight, r.QualityScore, r.Result.Candidate.Description, r.Result.RowCount))
	}
	sb.WriteString("\nSchema:\n" + schemaText)
	return sb.String()
}

// buildTables groups retained results by dimension and, for any
// dimension with at least minRowsForTable total rows across its results,
// emits a focused table capped at maxTableRows with a balanced mix of
// high- and low-end rows (spec §4.10).
func buildTables(retained []model.ScoredResult) []model.AnswerTable {
	byDimension := make(map[model.DimensionTag][]model.ScoredResult)
	order := []model.DimensionTag{}
	for _, r := range retained {
		if _, ok := byDimension[r.SubQuestion.Dimension]; !ok {
			order = append(order, r.SubQuestion.Dimension)
		}
		byDimension[r.SubQuestion.Dimension] = append(byDimension[r.SubQuestion.Dimension], r)
	}

	var tables []model.AnswerTable
	for _, dim := range order {
		rows := flattenRows(byDimension[dim])
		if len(rows) < minRowsForTable {
			continue
		}
		tables = append(tables, model.AnswerTable{
			Title:   string(dim),
			Columns: rows.columns,
			Rows:    balancedSample(rows.data, maxTableRows),
		})
	}
	return tables
}

type flatRows struct {
	columns []string
	data    [][]any
}

func flattenRows(results []model.ScoredResult) flatRows {
	var fr flatRows
	colSeen := map[string]bool{}
	for _, r := range results {
		for _, row := range r.Result.Rows {
			if len(fr.columns) == 0 {
				for k := range row {
					if !colSeen[k] {
						fr.columns = append(fr.columns, k)
						colSeen[k] = true
					}
				}
				sort.Strings(fr.columns)
			}
			values := make([]any, len(fr.columns))
			for i, col := range fr.columns {
				values[i] = row[col]
			}
			fr.data = append(fr.data, values)
		}
	}
	return fr
}

// balancedSample keeps a mix of high- and low-end rows (first half and
// last half of the slice, which results are expected to already be
// ordered by magnitude by the SQL candidate itself), bounded to n rows.
func balancedSample(rows [][]any, n int) [][]any {
	if len(rows) <= n {
		return rows
	}
	half := n / 2
	out := make([][]any, 0, n)
	out = append(out, rows[:half]...)
	out = append(out, rows[len(rows)-(n-half):]...)
	return out
}

// rateWordPattern flags a line as describing a rate-style aggregate.
var rateWordPattern = regexp.MustCompile(`(?i)\brate\b`)

// rangeIndicatorPattern matches a low-high pair joined by a hyphen, an
// en/em dash, or "to" — the shape the synthesis prompt asks for.
var rangeIndicatorPattern = regexp.MustCompile(`(?i)\$?\d[\d,]*(\.\d+)?\s*(-|–|—|to)\s*\$?\d[\d,]*(\.\d+)?`)

// bareNumericPattern matches any standalone numeric or dollar figure.
var bareNumericPattern = regexp.MustCompile(`\$?\d[\d,]*(\.\d+)?`)

// violatesBareNumericRate reports whether narrative states a rate-style
// aggregate as a single bare number instead of the required low-high
// range (invariant 5, spec §8): any line mentioning "rate" that carries
// a numeric value but no range indicator.
func violatesBareNumericRate(narrative string) bool {
	for _, line := range strings.Split(narrative, "\n") {
		if !rateWordPattern.MatchString(line) {
			continue
		}
		if rangeIndicatorPattern.MatchString(line) {
			continue
		}
		if bareNumericPattern.MatchString(line) {
			return true
		}
	}
	return false
}

func fallbackNarrative(retained []model.ScoredResult) string {
	var sb strings.Builder
	sb.WriteString("## Summary\n\n")
	sb.WriteString("The synthesis model was unavailable; here is a raw summary of retained results.\n\n")
	for _, r := range retained {
		sb.WriteString(fmt.Sprintf("- **%s**: %s (%d rows, score %d)\n",
			r.SubQuestion.Dimension, r.Result.Candidate.Description, r.Result.RowCount, r.QualityScore))
	}
	return sb.String()
}

// NoAnswerForExpiredDeadline builds the "no answer" Answer for the
// zero-deadline boundary case (spec §8): the request is treated as
// already expired, so no sub-question ever ran and Stats is empty.
func NoAnswerForExpiredDeadline() model.Answer {
	return model.Answer{
		NoAnswer:         true,
		NoAnswerReason:   "the request deadline was already zero, so no sub-question could be attempted",
		NoAnswerRephrase: "Retry with a positive deadline so decomposition and execution have time to run.",
		Truncated:        true,
	}
}

func noAnswer(stats []model.SubQuestionStats) model.Answer {
	reason := "no matching rows were found for any sub-question"
	for _, s := range stats {
		if s.CandidateCount == 0 {
			reason = "the schema appears to lack the dimension the question asked about"
			break
		}
	}
	return model.Answer{
		NoAnswer:         true,
		NoAnswerReason:   reason,
		NoAnswerRephrase: "Try rephrasing with a specific table, column, or time range you expect the data to cover.",
		Stats:            stats,
	}
}
