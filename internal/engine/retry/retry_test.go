package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analyticalquery/internal/engine/exec"
	"analyticalquery/internal/engine/explore"
	"analyticalquery/internal/engine/model"
	"analyticalquery/internal/engine/ports"
	"analyticalquery/internal/engine/retry"
	"analyticalquery/internal/engine/sqlgen"
)

func TestShouldRetryOnUnknownColumn(t *testing.T) {
	result := model.ExecutionResult{Success: false, Error: &model.ExecutionError{Kind: model.ErrKindUnknownColumn}}
	assert.True(t, retry.ShouldRetry(result))
}

func TestShouldRetryOnPermissionFailure(t *testing.T) {
	result := model.ExecutionResult{Success: false, Error: &model.ExecutionError{Kind: model.ErrKindPermission}}
	assert.False(t, retry.ShouldRetry(result), "permission failures are not recoverable by exploration")
}

func TestShouldRetryOnEmptyRows(t *testing.T) {
	result := model.ExecutionResult{Success: true, RowCount: 0}
	assert.True(t, retry.ShouldRetry(result))
}

func TestShouldRetryOnNullAggregation(t *testing.T) {
	result := model.ExecutionResult{
		Success:  true,
		RowCount: 1,
		Rows:     []map[string]any{{"total_amount": nil}},
	}
	assert.True(t, retry.ShouldRetry(result))
}

func TestShouldNotRetryOnHealthyResult(t *testing.T) {
	result := model.ExecutionResult{
		Success:  true,
		RowCount: 1,
		Rows:     []map[string]any{{"total_amount": 42.0}},
	}
	assert.False(t, retry.ShouldRetry(result))
}

type fakeIntrospector struct {
	ports.SchemaIntrospector
	values []model.ValueFrequency
}

func (f *fakeIntrospector) TopValues(ctx context.Context, table, column string, k int) ([]model.ValueFrequency, int, error) {
	return f.values, len(f.values), nil
}

type staticGateway struct{ response string }

func (g staticGateway) Invoke(ctx context.Context, systemMessage, humanMessage string, timeout time.Duration) (string, error) {
	return g.response, nil
}

type staticSQLService struct{ result model.ExecutionResult }

func (s staticSQLService) Execute(ctx context.Context, sql string, timeout time.Duration) (*model.ExecutionResult, error) {
	r := s.result
	return &r, nil
}

func TestRunRecoversViaExploration(t *testing.T) {
	schema := &model.SchemaContext{
		Tables: []model.Table{{
			QualifiedName:   "orders",
			UnqualifiedName: "orders",
			Columns: []model.Column{
				{Name: "region", Type: "TEXT"},
				{Name: "amount", Type: "NUMERIC"},
			},
		}},
	}
	introspector := &fakeIntrospector{values: []model.ValueFrequency{{Value: "east", Count: 5}}}
	explorer := explore.New(introspector, schema)
	generator := sqlgen.New(staticGateway{response: `{"queries":[
		{"sql":"SELECT AVG(amount) FROM orders WHERE region = 'east'", "description":"d", "type":"aggregate"}
	]}`})
	executor := exec.New(staticSQLService{result: model.ExecutionResult{
		Success: true, RowCount: 1, Rows: []map[string]any{{"amount": 10.0}},
	}})

	loop := retry.New(explorer, generator, executor)
	failing := model.SQLCandidate{SQL: "SELECT AVG(amount) FROM orders WHERE region = 'unknownregion'"}

	results := loop.Run(context.Background(), model.SubQuestion{Text: "average amount in east"}, failing, schema, "schema text")
	require.Len(t, results, 1)
	assert.True(t, results[0].Candidate.EnhancedWithExploration)
}

func TestRunReturnsNilWhenNoColumnsMatch(t *testing.T) {
	schema := &model.SchemaContext{
		Tables: []model.Table{{QualifiedName: "orders", UnqualifiedName: "orders", Columns: []model.Column{{Name: "amount", Type: "NUMERIC"}}}},
	}
	introspector := &fakeIntrospector{}
	explorer := explore.New(introspector, schema)
	generator := sqlgen.New(staticGateway{})
	executor := exec.New(staticSQLService{})

	loop := retry.New(explorer, generator, executor)
	failing := model.SQLCandidate{SQL: "SELECT 1"}

	results := loop.Run(context.Background(), model.SubQuestion{}, failing, schema, "schema text")
	assert.Nil(t, results)
}
