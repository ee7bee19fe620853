// Package decompose implements the Question Decomposer (C4): it converts
// one user question into 2-3 dimension-diverse SubQuestions, detecting
// multi-entity comparisons the way original_source's QueryAnalyzer
// detects question intent with regex indicator sets, re-expressed in Go.
package decompose

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"analyticalquery/internal/engine/model"
	"analyticalquery/internal/engine/ports"
	"analyticalquery/internal/engine/prompt"
)

// questionsResponse mirrors the analytical_questions output contract.
type questionsResponse struct {
	Questions []struct {
		Question string `json:"question"`
		Priority string `json:"priority"`
	} `json:"questions"`
}

// comparisonPattern detects "X and Y", "X vs Y", "between X and Y" style
// multi-entity comparisons (spec §4.4).
var comparisonPattern = regexp.MustCompile(`(?i)\b(between\s+.+\s+and\s+.+|.+\s+vs\.?\s+.+|.+\s+and\s+.+)\b`)

// Decomposer produces a decomposition set for one user question.
type Decomposer struct {
	llm ports.LLMGateway
}

// New creates a Decomposer over an LLM gateway.
func New(llm ports.LLMGateway) *Decomposer {
	return &Decomposer{llm: llm}
}

// Decompose converts the user question into 2-3 SubQuestions. Malformed
// LLM output never fails the request: a fallback extractor scans for
// numbered questions, or failing that, produces a single default
// sub-question (spec §4.4).
func (d *Decomposer) Decompose(ctx context.Context, question, schemaText, memoryExcerpt string, schema *model.SchemaContext) []model.SubQuestion {
	human := "User question: " + question + "\n\nSchema:\n" + schemaText
	if memoryExcerpt != "" {
		human += "\n\nPrior context:\n" + memoryExcerpt
	}

	raw, err := d.llm.Invoke(ctx, prompt.AnalyticalQuestions.System, human, 0)
	if err != nil {
		return fallback(question)
	}

	var resp questionsResponse
	if err := prompt.ParseStrictJSON(raw, &resp); err != nil {
		return extractFromText(raw, question)
	}
	if len(resp.Questions) < 1 {
		return fallback(question)
	}

	entities := detectComparisonEntities(question)
	subs := make([]model.SubQuestion, 0, len(resp.Questions))
	usedDims := map[model.DimensionTag]bool{}

	for i, q := range resp.Questions {
		if i >= 3 {
			break
		}
		entity := ""
		if len(entities) > 0 {
			entity = entities[i%len(entities)]
		}
		dim := inferDimension(q.Question, schema)
		// Enforce the one-dimension-per-sub-question invariant unless
		// this is an explicit multi-entity comparison (spec §3 invariant).
		if usedDims[dim] && len(entities) == 0 {
			dim = nextAvailableDimension(usedDims)
		}
		usedDims[dim] = true

		subs = append(subs, model.SubQuestion{
			Text:      q.Question,
			Priority:  priorityOrDefault(q.Priority),
			Dimension: dim,
			Entity:    entity,
		})
	}

	return ensureMinimum(subs, question)
}

func priorityOrDefault(p string) model.Priority {
	switch model.Priority(p) {
	case model.PriorityHigh, model.PriorityMedium, model.PriorityLow:
		return model.Priority(p)
	default:
		return model.PriorityMedium
	}
}

// detectComparisonEntities extracts the compared entity names when the
// question matches a comparison pattern, using known categorical values
// from the schema as anchors where possible; falls back to raw token
// splitting around "and"/"vs"/"between".
func detectComparisonEntities(question string) []string {
	if !comparisonPattern.MatchString(question) {
		return nil
	}

	lower := strings.ToLower(question)
	var sep string
	switch {
	case strings.Contains(lower, " vs "):
		sep = " vs "
	case strings.Contains(lower, " vs. "):
		sep = " vs. "
	case strings.Contains(lower, " and "):
		sep = " and "
	default:
		return nil
	}

	idx := strings.LastIndex(lower, sep)
	if idx < 0 {
		return nil
	}

	before := question[:idx]
	after := question[idx+len(sep):]

	beforeWords := strings.Fields(before)
	afterWords := strings.Fields(after)
	if len(beforeWords) == 0 || len(afterWords) == 0 {
		return nil
	}

	left := strings.Trim(beforeWords[len(beforeWords)-1], ".,?!")
	right := strings.Trim(strings.Split(after, " ")[0], ".,?!")
	if left == "" || right == "" {
		return nil
	}
	return []string{left, right}
}

// inferDimension guesses a dimension tag for a generated sub-question
// text by matching schema column names against known dimension keywords.
// This never fabricates a dimension the schema cannot answer: if no
// column matches, it tags "other".
func inferDimension(text string, schema *model.SchemaContext) model.DimensionTag {
	lower := strings.ToLower(text)
	check := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}

	switch {
	case check("supplier", "vendor"):
		return model.DimensionSupplier
	case check("country", "region", "location", "geograph"):
		return model.DimensionGeographic
	case check("year", "month", "quarter", "trend", "over time", "time"):
		return model.DimensionTemporal
	case check("role", "title", "seniority", "level", "position"):
		return model.DimensionRole
	case check("overall", "market", "total", "all "):
		return model.DimensionOverall
	}
	_ = schema
	return model.DimensionOther
}

func nextAvailableDimension(used map[model.DimensionTag]bool) model.DimensionTag {
	order := []model.DimensionTag{
		model.DimensionSupplier, model.DimensionGeographic,
		model.DimensionTemporal, model.DimensionRole,
		model.DimensionOverall, model.DimensionOther,
	}
	for _, d := range order {
		if !used[d] {
			return d
		}
	}
	return model.DimensionOther
}

// extractFromText is the fallback extractor for malformed LLM output: it
// scans for numbered-list-style questions ("1. ...", "2. ..."); if none
// are found, it produces a single default sub-question (spec §4.4).
func extractFromText(raw, question string) []model.SubQuestion {
	lines := strings.Split(raw, "\n")
	numbered := regexp.MustCompile(`^\s*(\d+)[.)]\s*(.+)$`)

	var subs []model.SubQuestion
	for _, line := range lines {
		m := numbered.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if _, err := strconv.Atoi(m[1]); err != nil {
			continue
		}
		text := strings.TrimSpace(m[2])
		if text == "" {
			continue
		}
		subs = append(subs, model.SubQuestion{
			Text:      text,
			Priority:  model.PriorityMedium,
			Dimension: model.DimensionOther,
		})
		if len(subs) == 3 {
			break
		}
	}

	if len(subs) == 0 {
		return fallback(question)
	}
	return subs
}

func fallback(question string) []model.SubQuestion {
	return []model.SubQuestion{{
		Text:      "Provide analysis for: " + question,
		Priority:  model.PriorityMedium,
		Dimension: model.DimensionOverall,
	}}
}

func ensureMinimum(subs []model.SubQuestion, question string) []model.SubQuestion {
	if len(subs) == 0 {
		return fallback(question)
	}
	return subs
}
