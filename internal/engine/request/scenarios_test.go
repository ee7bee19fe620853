package request_test

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analyticalquery/internal/engine/model"
	"analyticalquery/internal/engine/request"
)

// scoringLinePattern matches the "N. description -> R rows, sample=..."
// lines buildScoringPrompt emits, letting a fake scorer assign a
// row-count-aware score without hardcoding how many results a call holds.
var scoringLinePattern = regexp.MustCompile(`(?m)^\d+\..*?->\s*(\d+)\s+rows`)

// rowAwareScoresJSON scores every result line found in humanMessage: zero
// rows scores low enough to be filtered out, any other row count scores
// high enough to be retained. This mirrors what a real scoring model is
// expected to do given the same prompt (spec §4.9) without needing the
// fake to track per-call result counts itself.
func rowAwareScoresJSON(humanMessage string) string {
	matches := scoringLinePattern.FindAllStringSubmatch(humanMessage, -1)
	if len(matches) == 0 {
		return `{"scores":[{"score":90,"reasoning":"ok","key_insights":[]}]}`
	}
	var sb strings.Builder
	sb.WriteString(`{"scores":[`)
	for i, m := range matches {
		rows, _ := strconv.Atoi(m[1])
		score := 90
		if rows == 0 {
			score = 20
		}
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(`{"score":`)
		sb.WriteString(strconv.Itoa(score))
		sb.WriteString(`,"reasoning":"ok","key_insights":[]}`)
	}
	sb.WriteString("]}")
	return sb.String()
}

// --- S1: simple rate question, single dimension exists -------------------

type s1Introspector struct{}

func (s1Introspector) Tables(ctx context.Context) ([]string, error) { return []string{"rates"}, nil }

func (s1Introspector) Columns(ctx context.Context, table string) ([]model.Column, error) {
	return []model.Column{
		{Name: "id", Type: "INTEGER"},
		{Name: "supplier_name", Type: "TEXT"},
		{Name: "hourly_rate_in_usd", Type: "NUMERIC"},
		{Name: "normalized_role_title", Type: "TEXT"},
	}, nil
}

func (s1Introspector) ForeignKeys(ctx context.Context, table string) ([]model.Relationship, error) {
	return nil, nil
}

func (s1Introspector) RowCount(ctx context.Context, table string) (int64, error) { return 250, nil }

func (s1Introspector) SampleRows(ctx context.Context, table string, n int) ([]map[string]any, error) {
	return nil, nil
}

func (s1Introspector) TopValues(ctx context.Context, table, column string, k int) ([]model.ValueFrequency, int, error) {
	if column == "supplier_name" {
		return []model.ValueFrequency{{Value: "Acme", Count: 10}, {Value: "Globex", Count: 8}, {Value: "ThirdCo", Count: 5}}, 3, nil
	}
	return nil, 0, nil
}

func (s1Introspector) NumericRange(ctx context.Context, table, column string) (min, max, mean, median float64, err error) {
	if column == "hourly_rate_in_usd" {
		return 20, 80, 50, 48, nil
	}
	return 0, 0, 0, 0, nil
}

func (s1Introspector) NullPercent(ctx context.Context, table, column string) (float64, error) {
	return 0, nil
}

type s1LLM struct{}

func (s1LLM) Invoke(ctx context.Context, systemMessage, humanMessage string, timeout time.Duration) (string, error) {
	switch {
	case containsAny(systemMessage, "decomposing"):
		return `{"questions":[
			{"question":"What is the average rate by supplier?","priority":"high"},
			{"question":"What is the overall rate range for developers?","priority":"medium"}
		]}`, nil
	case containsAny(systemMessage, "planning"):
		return `{"needs_multiple_queries": false, "reasoning": "single query suffices", "suggested_explorations": []}`, nil
	case containsAny(systemMessage, "generate SQL"):
		if containsAny(humanMessage, "supplier") {
			return `{"queries":[{"sql":"SELECT supplier_name, PERCENTILE_CONT(0.5) WITHIN GROUP (ORDER BY hourly_rate_in_usd) FROM rates GROUP BY supplier_name","description":"supplier percentile breakdown","type":"grouped"}]}`, nil
		}
		return `{"queries":[{"sql":"SELECT PERCENTILE_CONT(0.25) WITHIN GROUP (ORDER BY hourly_rate_in_usd), PERCENTILE_CONT(0.75) WITHIN GROUP (ORDER BY hourly_rate_in_usd) FROM rates","description":"overall rate range","type":"overall_range"}]}`, nil
	case containsAny(systemMessage, "score executed SQL"):
		return rowAwareScoresJSON(humanMessage), nil
	default:
		return "## Summary\n\nDeveloper rates range from $38 to $62 per hour across suppliers.\n", nil
	}
}

type s1SQLService struct{}

func (s1SQLService) Execute(ctx context.Context, sql string, timeout time.Duration) (*model.ExecutionResult, error) {
	if strings.Contains(sql, "GROUP BY supplier_name") {
		return &model.ExecutionResult{Rows: []map[string]any{
			{"supplier_name": "Acme", "median_rate": 42.0},
			{"supplier_name": "Globex", "median_rate": 58.0},
			{"supplier_name": "ThirdCo", "median_rate": 50.0},
		}}, nil
	}
	return &model.ExecutionResult{Rows: []map[string]any{{"p25": 38.0, "p75": 62.0}}}, nil
}

func TestScenarioS1SimpleRateQuestion(t *testing.T) {
	engine := request.New("ws-s1", s1LLM{}, s1SQLService{}, s1Introspector{}, nil, nil, nil, request.Config{})

	answer, err := engine.ProcessQuestion(context.Background(), "sess-s1", "What is the average rate for developers?", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, answer.NoAnswer)
	assert.Contains(t, answer.Narrative, "range")
	assert.Contains(t, answer.Narrative, "$38")
	assert.Contains(t, answer.Narrative, "$62")
	for _, c := range answer.UsedCandidates {
		assert.NotContains(t, strings.ToUpper(c.SQL), "LIKE", "no candidate should filter role title with LIKE")
	}
}

// --- S2: multi-entity comparison ------------------------------------------

type s2Introspector struct{}

func (s2Introspector) Tables(ctx context.Context) ([]string, error) { return []string{"rates"}, nil }

func (s2Introspector) Columns(ctx context.Context, table string) ([]model.Column, error) {
	return []model.Column{
		{Name: "id", Type: "INTEGER"},
		{Name: "country_of_work", Type: "TEXT"},
		{Name: "hourly_rate_in_usd", Type: "NUMERIC"},
	}, nil
}

func (s2Introspector) ForeignKeys(ctx context.Context, table string) ([]model.Relationship, error) {
	return nil, nil
}

func (s2Introspector) RowCount(ctx context.Context, table string) (int64, error) { return 300, nil }

func (s2Introspector) SampleRows(ctx context.Context, table string, n int) ([]map[string]any, error) {
	return nil, nil
}

func (s2Introspector) TopValues(ctx context.Context, table, column string, k int) ([]model.ValueFrequency, int, error) {
	if column == "country_of_work" {
		return []model.ValueFrequency{{Value: "IND", Count: 50}, {Value: "USA", Count: 40}}, 2, nil
	}
	return nil, 0, nil
}

func (s2Introspector) NumericRange(ctx context.Context, table, column string) (min, max, mean, median float64, err error) {
	return 10, 90, 40, 38, nil
}

func (s2Introspector) NullPercent(ctx context.Context, table, column string) (float64, error) {
	return 0, nil
}

type s2LLM struct{}

func (s2LLM) Invoke(ctx context.Context, systemMessage, humanMessage string, timeout time.Duration) (string, error) {
	switch {
	case containsAny(systemMessage, "decomposing"):
		return `{"questions":[
			{"question":"Developer rates in IND","priority":"high"},
			{"question":"Developer rates in USA","priority":"high"}
		]}`, nil
	case containsAny(systemMessage, "planning"):
		return `{"needs_multiple_queries": false, "reasoning": "scoped per entity", "suggested_explorations": []}`, nil
	case containsAny(systemMessage, "generate SQL"):
		if containsAny(humanMessage, "Scoped entity: IND") {
			return `{"queries":[{"sql":"SELECT country_of_work, AVG(hourly_rate_in_usd) FROM rates WHERE country_of_work = 'IND'","description":"IND average rate","type":"aggregate"}]}`, nil
		}
		return `{"queries":[{"sql":"SELECT country_of_work, AVG(hourly_rate_in_usd) FROM rates WHERE country_of_work = 'USA'","description":"USA average rate","type":"aggregate"}]}`, nil
	case containsAny(systemMessage, "score executed SQL"):
		return rowAwareScoresJSON(humanMessage), nil
	default:
		return "## Summary\n\nIND and USA rates are compared below.\n", nil
	}
}

type s2SQLService struct{}

func (s2SQLService) Execute(ctx context.Context, sql string, timeout time.Duration) (*model.ExecutionResult, error) {
	if strings.Contains(sql, "'IND'") {
		return &model.ExecutionResult{Rows: []map[string]any{
			{"country_of_work": "IND", "avg_rate": 20.0},
			{"country_of_work": "IND", "avg_rate": 22.0},
		}}, nil
	}
	return &model.ExecutionResult{Rows: []map[string]any{
		{"country_of_work": "USA", "avg_rate": 45.0},
		{"country_of_work": "USA", "avg_rate": 48.0},
	}}, nil
}

func TestScenarioS2MultiEntityComparison(t *testing.T) {
	engine := request.New("ws-s2", s2LLM{}, s2SQLService{}, s2Introspector{}, nil, nil, nil, request.Config{})

	answer, err := engine.ProcessQuestion(context.Background(), "sess-s2", "Developer rates in IND and USA", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, answer.NoAnswer)
	for _, c := range answer.UsedCandidates {
		assert.NotContains(t, strings.ToUpper(c.SQL), "IN (", "entities must be scoped with equality, never combined into an IN list")
	}
	require.Len(t, answer.Tables, 1, "both countries share one dimension table")
	assert.Len(t, answer.Tables[0].Rows, 4, "one row per country per candidate")
}

// --- S3: retry-with-exploration fixes an empty result ---------------------

type s3Introspector struct{}

func (s3Introspector) Tables(ctx context.Context) ([]string, error) {
	return []string{"employees"}, nil
}

func (s3Introspector) Columns(ctx context.Context, table string) ([]model.Column, error) {
	return []model.Column{
		{Name: "id", Type: "INTEGER"},
		{Name: "normalized_role_title", Type: "TEXT"},
		{Name: "hourly_rate_in_usd", Type: "NUMERIC"},
	}, nil
}

func (s3Introspector) ForeignKeys(ctx context.Context, table string) ([]model.Relationship, error) {
	return nil, nil
}

func (s3Introspector) RowCount(ctx context.Context, table string) (int64, error) { return 80, nil }

func (s3Introspector) SampleRows(ctx context.Context, table string, n int) ([]map[string]any, error) {
	return nil, nil
}

func (s3Introspector) TopValues(ctx context.Context, table, column string, k int) ([]model.ValueFrequency, int, error) {
	if column == "normalized_role_title" {
		return []model.ValueFrequency{{Value: "BI Developer", Count: 5}}, 1, nil
	}
	return nil, 0, nil
}

func (s3Introspector) NumericRange(ctx context.Context, table, column string) (min, max, mean, median float64, err error) {
	return 10, 100, 40, 38, nil
}

func (s3Introspector) NullPercent(ctx context.Context, table, column string) (float64, error) {
	return 0, nil
}

type s3LLM struct{}

func (s3LLM) Invoke(ctx context.Context, systemMessage, humanMessage string, timeout time.Duration) (string, error) {
	switch {
	case containsAny(systemMessage, "decomposing"):
		return `{"questions":[{"question":"Average rate for BI Developer","priority":"high"}]}`, nil
	case containsAny(systemMessage, "planning"):
		return `{"needs_multiple_queries": false, "reasoning": "single query suffices", "suggested_explorations": ["normalized_role_title"]}`, nil
	case containsAny(systemMessage, "generate SQL"):
		if containsAny(humanMessage, "COLUMN EXPLORATION") {
			return `{"queries":[{"sql":"SELECT AVG(hourly_rate_in_usd) FROM employees WHERE normalized_role_title = 'BI Developer'","description":"bi developer avg rate (explored)","type":"aggregate"}]}`, nil
		}
		return `{"queries":[{"sql":"SELECT AVG(hourly_rate_in_usd) FROM employees WHERE normalized_role_title = 'Business Intelligence Developer'","description":"bi developer avg rate","type":"aggregate"}]}`, nil
	case containsAny(systemMessage, "score executed SQL"):
		return rowAwareScoresJSON(humanMessage), nil
	default:
		return "## Summary\n\nBI Developers average a specific hourly rate once the exact role title is matched.\n", nil
	}
}

type s3SQLService struct{}

func (s3SQLService) Execute(ctx context.Context, sql string, timeout time.Duration) (*model.ExecutionResult, error) {
	if strings.Contains(sql, "'Business Intelligence Developer'") {
		return &model.ExecutionResult{Rows: nil}, nil
	}
	return &model.ExecutionResult{Rows: []map[string]any{{"avg_rate": 45.0}}}, nil
}

func TestScenarioS3RetryWithExplorationRecoversEmptyResult(t *testing.T) {
	engine := request.New("ws-s3", s3LLM{}, s3SQLService{}, s3Introspector{}, nil, nil, nil, request.Config{})

	answer, err := engine.ProcessQuestion(context.Background(), "sess-s3", "Average rate for BI Developer", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, answer.NoAnswer)
	require.Len(t, answer.Stats, 1)
	assert.True(t, answer.Stats[0].RetriedExplored)
	require.GreaterOrEqual(t, len(answer.UsedCandidates), 1)
	foundEnhanced := false
	for _, c := range answer.UsedCandidates {
		if c.EnhancedWithExploration {
			foundEnhanced = true
			assert.Contains(t, c.SQL, "'BI Developer'")
		}
	}
	assert.True(t, foundEnhanced, "the enhanced, exploration-backed candidate must be the one retained")
}

// --- S4: all candidates fail, no retained results -------------------------

type s4Introspector struct{}

func (s4Introspector) Tables(ctx context.Context) ([]string, error) { return []string{"sales"}, nil }

func (s4Introspector) Columns(ctx context.Context, table string) ([]model.Column, error) {
	return []model.Column{
		{Name: "id", Type: "INTEGER"},
		{Name: "region", Type: "TEXT"},
		{Name: "amount", Type: "NUMERIC"},
	}, nil
}

func (s4Introspector) ForeignKeys(ctx context.Context, table string) ([]model.Relationship, error) {
	return nil, nil
}

func (s4Introspector) RowCount(ctx context.Context, table string) (int64, error) { return 500, nil }

func (s4Introspector) SampleRows(ctx context.Context, table string, n int) ([]map[string]any, error) {
	return nil, nil
}

func (s4Introspector) TopValues(ctx context.Context, table, column string, k int) ([]model.ValueFrequency, int, error) {
	if column == "region" {
		return []model.ValueFrequency{{Value: "east", Count: 5}, {Value: "west", Count: 3}}, 2, nil
	}
	return nil, 0, nil
}

func (s4Introspector) NumericRange(ctx context.Context, table, column string) (min, max, mean, median float64, err error) {
	return 0, 1000, 500, 480, nil
}

func (s4Introspector) NullPercent(ctx context.Context, table, column string) (float64, error) {
	return 0, nil
}

type s4LLM struct{}

func (s4LLM) Invoke(ctx context.Context, systemMessage, humanMessage string, timeout time.Duration) (string, error) {
	switch {
	case containsAny(systemMessage, "decomposing"):
		return `{"questions":[{"question":"What is the stock price trend?","priority":"high"}]}`, nil
	case containsAny(systemMessage, "planning"):
		return `{"needs_multiple_queries": false, "reasoning": "no market data available", "suggested_explorations": []}`, nil
	case containsAny(systemMessage, "generate SQL"):
		return `{"queries":[{"sql":"SELECT AVG(stock_price) FROM sales","description":"stock price average","type":"aggregate"}]}`, nil
	case containsAny(systemMessage, "score executed SQL"):
		return rowAwareScoresJSON(humanMessage), nil
	default:
		return "I'm unable to answer this question from the available data.\n", nil
	}
}

type s4SQLService struct{}

func (s4SQLService) Execute(ctx context.Context, sql string, timeout time.Duration) (*model.ExecutionResult, error) {
	if strings.HasPrefix(strings.TrimSpace(sql), "--") {
		return nil, errors.New("syntax error at or near \"--\"")
	}
	return &model.ExecutionResult{Rows: nil}, nil
}

func TestScenarioS4AllCandidatesFailNoAnswer(t *testing.T) {
	engine := request.New("ws-s4", s4LLM{}, s4SQLService{}, s4Introspector{}, nil, nil, nil, request.Config{})

	answer, err := engine.ProcessQuestion(context.Background(), "sess-s4", "What is the stock price trend?", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, answer.NoAnswer)
	assert.NotEmpty(t, answer.NoAnswerReason)
	assert.NotEmpty(t, answer.NoAnswerRephrase, "the composer must suggest a rewording")
}

// --- S5: deadline expires mid-flight ---------------------------------------

type s5Introspector struct{}

func (s5Introspector) Tables(ctx context.Context) ([]string, error) { return []string{"sales"}, nil }

func (s5Introspector) Columns(ctx context.Context, table string) ([]model.Column, error) {
	return []model.Column{
		{Name: "id", Type: "INTEGER"},
		{Name: "supplier_name", Type: "TEXT"},
		{Name: "region", Type: "TEXT"},
		{Name: "amount", Type: "NUMERIC"},
	}, nil
}

func (s5Introspector) ForeignKeys(ctx context.Context, table string) ([]model.Relationship, error) {
	return nil, nil
}

func (s5Introspector) RowCount(ctx context.Context, table string) (int64, error) { return 400, nil }

func (s5Introspector) SampleRows(ctx context.Context, table string, n int) ([]map[string]any, error) {
	return nil, nil
}

func (s5Introspector) TopValues(ctx context.Context, table, column string, k int) ([]model.ValueFrequency, int, error) {
	switch column {
	case "supplier_name":
		return []model.ValueFrequency{{Value: "Acme", Count: 10}}, 1, nil
	case "region":
		return []model.ValueFrequency{{Value: "east", Count: 10}}, 1, nil
	}
	return nil, 0, nil
}

func (s5Introspector) NumericRange(ctx context.Context, table, column string) (min, max, mean, median float64, err error) {
	return 0, 200, 80, 75, nil
}

func (s5Introspector) NullPercent(ctx context.Context, table, column string) (float64, error) {
	return 0, nil
}

type s5LLM struct{}

func (s5LLM) Invoke(ctx context.Context, systemMessage, humanMessage string, timeout time.Duration) (string, error) {
	switch {
	case containsAny(systemMessage, "decomposing"):
		return `{"questions":[
			{"question":"How do rates vary by supplier?","priority":"medium"},
			{"question":"How do rates vary by country or region?","priority":"medium"},
			{"question":"What is the overall trend over time?","priority":"low"}
		]}`, nil
	case containsAny(systemMessage, "planning"):
		return `{"needs_multiple_queries": false, "reasoning": "single query per dimension", "suggested_explorations": []}`, nil
	case containsAny(systemMessage, "generate SQL"):
		switch {
		case containsAny(humanMessage, "supplier"):
			return `{"queries":[{"sql":"SELECT supplier_name, AVG(amount) FROM sales GROUP BY supplier_name","description":"supplier avg","type":"grouped"}]}`, nil
		case containsAny(humanMessage, "country") || containsAny(humanMessage, "region"):
			return `{"queries":[{"sql":"SELECT region, AVG(amount) FROM sales GROUP BY region","description":"region avg","type":"grouped"}]}`, nil
		default:
			return `{"queries":[{"sql":"SELECT AVG(amount) FROM sales","description":"overall trend","type":"aggregate"}]}`, nil
		}
	case containsAny(systemMessage, "score executed SQL"):
		return rowAwareScoresJSON(humanMessage), nil
	default:
		return "## Summary\n\nResults reflect the sub-questions that completed before the deadline.\n", nil
	}
}

type s5SQLService struct{}

func (s5SQLService) Execute(ctx context.Context, sql string, timeout time.Duration) (*model.ExecutionResult, error) {
	switch {
	case strings.Contains(sql, "GROUP BY supplier_name"):
		return &model.ExecutionResult{Rows: []map[string]any{{"supplier_name": "Acme", "avg_amount": 40.0}}}, nil
	case strings.Contains(sql, "GROUP BY region"):
		return &model.ExecutionResult{Rows: []map[string]any{{"region": "east", "avg_amount": 50.0}}}, nil
	default:
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func TestScenarioS5DeadlineExpiresMidFlight(t *testing.T) {
	engine := request.New("ws-s5", s5LLM{}, s5SQLService{}, s5Introspector{}, nil, nil, nil, request.Config{})

	answer, err := engine.ProcessQuestion(context.Background(), "sess-s5", "Compare rates by supplier, region, and overall trend", 30*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, answer.Truncated, "the deadline elapsing mid-flight must be reflected in the answer")
	require.Len(t, answer.Stats, 3)
	assert.GreaterOrEqual(t, len(answer.UsedCandidates), 1, "the two completed sub-questions still contribute results")
}

// --- S6: scoring parse failure ---------------------------------------------

type s6Introspector struct{}

func (s6Introspector) Tables(ctx context.Context) ([]string, error) { return []string{"sales"}, nil }

func (s6Introspector) Columns(ctx context.Context, table string) ([]model.Column, error) {
	return []model.Column{
		{Name: "id", Type: "INTEGER"},
		{Name: "amount", Type: "NUMERIC"},
	}, nil
}

func (s6Introspector) ForeignKeys(ctx context.Context, table string) ([]model.Relationship, error) {
	return nil, nil
}

func (s6Introspector) RowCount(ctx context.Context, table string) (int64, error) { return 1000, nil }

func (s6Introspector) SampleRows(ctx context.Context, table string, n int) ([]map[string]any, error) {
	return nil, nil
}

func (s6Introspector) TopValues(ctx context.Context, table, column string, k int) ([]model.ValueFrequency, int, error) {
	return nil, 0, nil
}

func (s6Introspector) NumericRange(ctx context.Context, table, column string) (min, max, mean, median float64, err error) {
	return 0, 2000, 900, 850, nil
}

func (s6Introspector) NullPercent(ctx context.Context, table, column string) (float64, error) {
	return 0, nil
}

type s6LLM struct{}

func (s6LLM) Invoke(ctx context.Context, systemMessage, humanMessage string, timeout time.Duration) (string, error) {
	switch {
	case containsAny(systemMessage, "decomposing"):
		return `{"questions":[{"question":"Total sales amount","priority":"medium"}]}`, nil
	case containsAny(systemMessage, "planning"):
		return `{"needs_multiple_queries": false, "reasoning": "single query suffices", "suggested_explorations": []}`, nil
	case containsAny(systemMessage, "generate SQL"):
		return `{"queries":[{"sql":"SELECT SUM(amount) FROM sales","description":"total sales","type":"aggregate"}]}`, nil
	case containsAny(systemMessage, "score executed SQL"):
		return "this is not valid JSON at all {{{", nil
	default:
		return "## Summary\n\nTotal sales amounted to $1000.\n", nil
	}
}

type s6SQLService struct{}

func (s6SQLService) Execute(ctx context.Context, sql string, timeout time.Duration) (*model.ExecutionResult, error) {
	return &model.ExecutionResult{Rows: []map[string]any{{"total": 1000.0}}}, nil
}

func TestScenarioS6ScoringParseFailureFallsBackToDefault(t *testing.T) {
	engine := request.New("ws-s6", s6LLM{}, s6SQLService{}, s6Introspector{}, nil, nil, nil, request.Config{})

	answer, err := engine.ProcessQuestion(context.Background(), "sess-s6", "Total sales amount", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, answer.NoAnswer, "a malformed scoring response must fall back to the deterministic default, not fail the request")
	require.Len(t, answer.UsedCandidates, 1)
	assert.Contains(t, answer.Narrative, "1000")
}
