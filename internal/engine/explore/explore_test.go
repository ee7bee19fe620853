package explore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analyticalquery/internal/engine/explore"
	"analyticalquery/internal/engine/model"
	"analyticalquery/internal/engine/ports"
)

type fakeIntrospector struct {
	ports.SchemaIntrospector
	values   []model.ValueFrequency
	distinct int
	err      error
}

func (f *fakeIntrospector) TopValues(ctx context.Context, table, column string, k int) ([]model.ValueFrequency, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.values, f.distinct, nil
}

func schemaWithColumn(table, column, colType string) *model.SchemaContext {
	return &model.SchemaContext{
		Tables: []model.Table{{
			QualifiedName:   table,
			UnqualifiedName: table,
			Columns:         []model.Column{{Name: column, Type: colType}},
		}},
	}
}

func TestExploreMissingColumnYieldsEmptyResult(t *testing.T) {
	schema := schemaWithColumn("orders", "amount", "NUMERIC")
	e := explore.New(&fakeIntrospector{}, schema)

	result, err := e.Explore(context.Background(), "orders", "nonexistent", 0, "")
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalDistinct)
	assert.Empty(t, result.Values())
}

func TestExploreSkipsNumericColumns(t *testing.T) {
	schema := schemaWithColumn("orders", "amount", "NUMERIC")
	fake := &fakeIntrospector{values: []model.ValueFrequency{{Value: "10", Count: 5}}, distinct: 1}
	e := explore.New(fake, schema)

	result, err := e.Explore(context.Background(), "orders", "amount", 0, "")
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalDistinct, "numeric columns must not be explored")
}

func TestExploreReturnsValuesForCategoricalColumn(t *testing.T) {
	schema := schemaWithColumn("suppliers", "region", "TEXT")
	fake := &fakeIntrospector{
		values:   []model.ValueFrequency{{Value: "east", Count: 10}, {Value: "west", Count: 5}},
		distinct: 2,
	}
	e := explore.New(fake, schema)

	result, err := e.Explore(context.Background(), "suppliers", "region", 10, "")
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalDistinct)
	assert.Equal(t, []model.ValueFrequency{{Value: "east", Count: 10}, {Value: "west", Count: 5}}, result.Matching)
}

func TestExplorePartitionsByKeywordHint(t *testing.T) {
	schema := schemaWithColumn("suppliers", "region", "TEXT")
	fake := &fakeIntrospector{
		values: []model.ValueFrequency{
			{Value: "east coast", Count: 10},
			{Value: "west coast", Count: 5},
			{Value: "central", Count: 1},
		},
		distinct: 3,
	}
	e := explore.New(fake, schema)

	result, err := e.Explore(context.Background(), "suppliers", "region", 10, "east")
	require.NoError(t, err)
	assert.Len(t, result.Matching, 1)
	assert.Equal(t, "east coast", result.Matching[0].Value)
	assert.Len(t, result.Other, 2)
}

func TestExploreWrapsDBFailure(t *testing.T) {
	schema := schemaWithColumn("suppliers", "region", "TEXT")
	cause := errors.New("connection reset")
	fake := &fakeIntrospector{err: cause}
	e := explore.New(fake, schema)

	_, err := e.Explore(context.Background(), "suppliers", "region", 10, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, cause))
}
