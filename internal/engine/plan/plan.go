// Package plan implements the Query Planner (C5): for each SubQuestion it
// invokes the planning prompt and decides (advisory only) whether a
// single or multi-query approach is needed.
package plan

import (
	"context"

	"analyticalquery/internal/engine/model"
	"analyticalquery/internal/engine/ports"
	"analyticalquery/internal/engine/prompt"
)

type planResponse struct {
	NeedsMultipleQueries  bool     `json:"needs_multiple_queries"`
	Reasoning             string   `json:"reasoning"`
	SuggestedExplorations []string `json:"suggested_explorations"`
}

// Planner produces a QueryPlan for one SubQuestion at a time.
type Planner struct {
	llm ports.LLMGateway
}

// New creates a Planner over an LLM gateway.
func New(llm ports.LLMGateway) *Planner {
	return &Planner{llm: llm}
}

// Plan invokes the planning prompt for sub. On malformed output it
// defaults to needs_multiple=false with reasoning "parse failure" — the
// planner never fails the request (spec §4.5).
func (p *Planner) Plan(ctx context.Context, sub model.SubQuestion, schemaText string) model.QueryPlan {
	human := "Sub-question: " + sub.Text + "\n\nSchema:\n" + schemaText

	raw, err := p.llm.Invoke(ctx, prompt.QueryPlanning.System, human, 0)
	if err != nil {
		return model.QueryPlan{Reasoning: "parse failure"}
	}

	var resp planResponse
	if err := prompt.ParseStrictJSON(raw, &resp); err != nil {
		return model.QueryPlan{Reasoning: "parse failure"}
	}

	return model.QueryPlan{
		NeedsMultiple: resp.NeedsMultipleQueries,
		Reasoning:     resp.Reasoning,
		Explorations:  resp.SuggestedExplorations,
	}
}
