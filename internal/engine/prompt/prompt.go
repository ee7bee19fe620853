// Package prompt is the versioned, parameterized Prompt Library (C3).
// Each template is a (system message, human message) pair with an
// enumerated input set and an output contract enforced by ParseStrictJSON.
// Centralizing JSON extraction here replaces the ad-hoc code-fence and
// brace-hunting that would otherwise be scattered across every caller —
// the REDESIGN FLAGS in spec §9 call this out explicitly.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Template pairs a system message with a human-message builder and
// documents its declared inputs and output contract in Name/Description.
type Template struct {
	Name        string
	Description string
	System      string
}

// sharedRules are the forbidden-behavior clauses every machine-parsed
// template embeds verbatim (spec §4.3): no schema-qualified quoting, no
// LIKE over columns whose exact values were explored, no abbreviation
// expansion, no fabricated columns, and JSON-only output.
const sharedRules = `Rules that apply to every answer you give:
- Never quote schema-qualified table names.
- Never use LIKE against a column whose exact values were supplied in an
  exploration section — use equality against the exact value instead.
- Never expand abbreviations found in the question or in sample data.
- Never reference a column that is not listed in the schema context.
- Respond with a single JSON document only: no prose, no markdown code
  fences, no trailing commentary.`

// AnalyticalQuestions is the decomposition template (C4).
var AnalyticalQuestions = Template{
	Name:        "analytical_questions",
	Description: "Inputs: schema text, user question, memory excerpt. Output: {questions:[{question,priority}]}, length 2-3, dimension-diverse.",
	System: `You are a senior data analyst decomposing a business question into a
small set of dimension-diverse analytical sub-questions.

Produce 2 to 3 sub-questions. If the question names multiple comparable
entities (e.g. "X and Y", "vs", "between X and Y"), scope one sub-question
per entity. Otherwise, prefer this dimension order when the schema
supports it: supplier/vendor first (unless the user explicitly excludes
suppliers), then geographic, then temporal, then role/seniority. Never
invent a dimension the schema cannot answer.

` + sharedRules + `

Output schema: {"questions": [{"question": string, "priority": "high"|"medium"|"low"}]}`,
}

// QueryPlanning is the planning template (C5).
var QueryPlanning = Template{
	Name:        "query_planning",
	Description: "Inputs: sub-question, schema text. Output: {needs_multiple_queries, reasoning, suggested_explorations:[column]}.",
	System: `You are planning how to answer one analytical sub-question against a
relational database. Decide whether a single query suffices or whether
multiple queries (spanning different dimensions) are needed, and suggest
which columns, if any, are worth exploring for exact values before SQL is
written.

` + sharedRules + `

Output schema: {"needs_multiple_queries": bool, "reasoning": string, "suggested_explorations": [string]}`,
}

// ContextualSQL is the SQL generation template (C6).
var ContextualSQL = Template{
	Name:        "contextual_sql",
	Description: "Inputs: sub-question, schema+exploration text. Output: {queries:[{sql,description,type}]}, length 1-5.",
	System: `You generate SQL candidates that together answer one analytical
sub-question through distinct dimensions. Produce 1 to 5 candidates.

Follow these rules without exception:
1. Only reference columns present in the schema context.
2. Rate-style questions (per-unit pricing, rates, costs) must use
   percentile aggregations (25th/50th/75th) rather than plain mean, min,
   or max — unless the user explicitly asked for min/max.
3. When the exploration section provides exact values for a column, any
   predicate on that column must use equality, never LIKE.
4. For multi-entity comparison questions, generate one query per entity;
   never combine entities into a single IN list.
5. Each candidate groups by at most one dimension, unless the
   sub-question explicitly asks for cross-tabulation.
6. Include one "whole-market" candidate with no GROUP BY for rate-style
   questions.
7. For compound entity filters (e.g. specialization plus role title),
   require predicates on every named column.

` + sharedRules + `

Output schema: {"queries": [{"sql": string, "description": string, "type": "aggregate"|"grouped"|"overall_range"}]}`,
}

// Scoring is the result-scoring template (C9).
var Scoring = Template{
	Name:        "scoring",
	Description: "Inputs: original question, list of result summaries. Output: {scores:[{score,reasoning,key_insights}]} in the same order.",
	System: `You score executed SQL query results for relevance and quality against
the user's original question. Score each result from 0 to 100. Return
scores in the exact same order the results were given to you.

` + sharedRules + `

Output schema: {"scores": [{"score": int, "reasoning": string, "key_insights": [string]}]}`,
}

// Synthesis is the final narrative-composition template (C10).
var Synthesis = Template{
	Name:        "synthesis",
	Description: "Inputs: user question, aggregated scored results, schema. Output: free-text markdown narrative.",
	System: `You write the final answer to a business question from a set of scored,
weighted SQL query results spanning several analytical dimensions.

Structure your answer as:
1. A direct-answer paragraph. For rate-style data, integrate the overall
   range (low-high) — never state a single bare number for a rate-style
   aggregate.
2. Zero or more focused markdown tables, one per dimension with three or
   more rows, each with at most five rows and a balanced mix of high- and
   low-end examples.
3. Sections named after the dimensions actually present in the data, not
   generic headings.
4. Percentage-based comparisons wherever you juxtapose two numeric ranges.

If every sub-question produced zero usable results, instead write a short
apology naming the likely reason (no matching rows, or the schema lacks
the dimension asked about) and suggest a rewording.

Never quote schema-qualified table names or fabricate a column. Respond
with markdown prose, not JSON.`,
}

// ParseStrictJSON extracts a single JSON document from raw LLM text and
// unmarshals it into out. It tolerates the two failure modes every LLM
// gateway in the corpus exhibits: markdown code fences around the JSON,
// and leading/trailing prose around the outermost braces. Any other
// malformation is a genuine parse failure, returned as-is so the caller
// can apply its documented fallback (spec §4.4, §4.5, §4.9; §9 calls for
// exactly this kind of single centralized utility).
func ParseStrictJSON(text string, out any) error {
	candidate := strings.TrimSpace(text)

	candidate = strings.TrimPrefix(candidate, "```json")
	candidate = strings.TrimPrefix(candidate, "```")
	candidate = strings.TrimSuffix(candidate, "```")
	candidate = strings.TrimSpace(candidate)

	if err := json.Unmarshal([]byte(candidate), out); err == nil {
		return nil
	}

	start := strings.IndexAny(candidate, "{[")
	if start < 0 {
		return fmt.Errorf("parse_strict_json: no JSON document found in response")
	}
	end := strings.LastIndexAny(candidate, "}]")
	if end < start {
		return fmt.Errorf("parse_strict_json: unterminated JSON document in response")
	}

	if err := json.Unmarshal([]byte(candidate[start:end+1]), out); err != nil {
		return fmt.Errorf("parse_strict_json: %w", err)
	}
	return nil
}
