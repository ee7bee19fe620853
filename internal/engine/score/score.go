// Package score implements the Result Scorer & Filter (C9): it LLM-scores
// each executed candidate for relevance and quality, then filters by a
// quality threshold with a two-tier fallback and assigns normalized
// weights. Grounded on original_source's analytical_manager
// _score_query_results / _filter_by_quality_score pair.
package score

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"analyticalquery/internal/engine/model"
	"analyticalquery/internal/engine/ports"
	"analyticalquery/internal/engine/prompt"
)

// initialThreshold and loweredThreshold implement the two-tier filter
// policy of spec §4.9.
const (
	initialThreshold = 60
	loweredThreshold = 30
	topNFallback     = 3
)

type scoresResponse struct {
	Scores []struct {
		Score       int      `json:"score"`
		Reasoning   string   `json:"reasoning"`
		KeyInsights []string `json:"key_insights"`
	} `json:"scores"`
}

// Scorer scores and filters a sub-question's executed results.
type Scorer struct {
	llm ports.LLMGateway
}

// New creates a Scorer over an LLM gateway.
func New(llm ports.LLMGateway) *Scorer {
	return &Scorer{llm: llm}
}

// ScoreAndFilter scores every successful result in results against
// originalQuestion, drops failures, applies the threshold-lowering
// fallback, and assigns normalized weights to the retained set (spec
// §4.9). On scoring-prompt parse failure it assigns the deterministic
// default score min(50+row_count, 100) per successful result, 0 for
// failures.
func (s *Scorer) ScoreAndFilter(ctx context.Context, sub model.SubQuestion, originalQuestion string, results []model.ExecutionResult) []model.ScoredResult {
	successful := make([]model.ExecutionResult, 0, len(results))
	for _, r := range results {
		if r.Success {
			successful = append(successful, r)
		}
	}
	if len(successful) == 0 {
		return nil
	}

	scores, reasonings, insights := s.invokeScoring(ctx, originalQuestion, successful)

	all := make([]model.ScoredResult, len(successful))
	for i, r := range successful {
		all[i] = model.ScoredResult{
			Result:       r,
			SubQuestion:  sub,
			QualityScore: scores[i],
			Reasoning:    reasonings[i],
			KeyInsights:  insights[i],
		}
	}

	retained := filterByThreshold(all, initialThreshold)
	if len(retained) == 0 {
		retained = filterByThreshold(all, loweredThreshold)
	}
	if len(retained) == 0 {
		retained = topN(all, topNFallback)
	} else {
		sort.Slice(retained, func(i, j int) bool {
			if retained[i].QualityScore != retained[j].QualityScore {
				return retained[i].QualityScore > retained[j].QualityScore
			}
			return retained[i].Result.ExecutionTime < retained[j].Result.ExecutionTime
		})
	}

	assignWeights(retained)
	return retained
}

func (s *Scorer) invokeScoring(ctx context.Context, question string, results []model.ExecutionResult) (scores []int, reasonings []string, insights [][]string) {
	scores = make([]int, len(results))
	reasonings = make([]string, len(results))
	insights = make([][]string, len(results))

	human := buildScoringPrompt(question, results)
	raw, err := s.llm.Invoke(ctx, prompt.Scoring.System, human, 0)
	if err == nil {
		var resp scoresResponse
		if err := prompt.ParseStrictJSON(raw, &resp); err == nil && len(resp.Scores) == len(results) {
			for i, sc := range resp.Scores {
				scores[i] = clamp(sc.Score, 0, 100)
				reasonings[i] = sc.Reasoning
				insights[i] = sc.KeyInsights
			}
			return scores, reasonings, insights
		}
	}

	// Deterministic default on parse failure (spec §4.9).
	for i, r := range results {
		scores[i] = clamp(50+r.RowCount, 0, 100)
		reasonings[i] = "default score: scoring prompt parse failure"
	}
	return scores, reasonings, insights
}

func buildScoringPrompt(question string, results []model.ExecutionResult) string {
	var sb strings.Builder
	sb.WriteString("Original question: " + question + "\n\nResults:\n")
	for i, r := range results {
		sample := r.Rows
		if len(sample) > 3 {
			sample = sample[:3]
		}
		sb.WriteString(fmt.Sprintf("%d. %s -> %d rows, sample=%v\n", i+1, r.Candidate.Description, r.RowCount, sample))
	}
	return sb.String()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func filterByThreshold(all []model.ScoredResult, threshold int) []model.ScoredResult {
	var out []model.ScoredResult
	for _, r := range all {
		if r.QualityScore >= threshold {
			out = append(out, r)
		}
	}
	return out
}

// topN keeps the n highest-scoring results, breaking equal scores by
// faster execution time (spec §9 open question: resolved in favor of
// execution time as a tiebreaker, since a faster query is cheaper to
// have retained and no other deterministic signal distinguishes them).
func topN(all []model.ScoredResult, n int) []model.ScoredResult {
	sorted := make([]model.ScoredResult, len(all))
	copy(sorted, all)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].QualityScore != sorted[j].QualityScore {
			return sorted[i].QualityScore > sorted[j].QualityScore
		}
		return sorted[i].Result.ExecutionTime < sorted[j].Result.ExecutionTime
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// assignWeights sets each retained result's Weight to score/sum(scores)
// (spec §4.9).
func assignWeights(retained []model.ScoredResult) {
	sum := 0
	for _, r := range retained {
		sum += r.QualityScore
	}
	if sum == 0 {
		return
	}
	for i := range retained {
		retained[i].Weight = float64(retained[i].QualityScore) / float64(sum)
	}
}
