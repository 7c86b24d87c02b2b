package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var doc = map[string]any{
	"lang":  "go",
	"stars": float64(42),
	"meta": map[string]any{
		"author": map[string]any{"name": "ada"},
		"draft":  false,
	},
	"tags": []any{"db", "vector"},
}

func TestLookupDottedPath(t *testing.T) {
	value, ok := Lookup(doc, "meta.author.name")
	require.True(t, ok)
	assert.Equal(t, "ada", value)

	_, ok = Lookup(doc, "meta.missing")
	assert.False(t, ok)

	// A scalar in the middle of the path stops descent
	_, ok = Lookup(doc, "lang.anything")
	assert.False(t, ok)

	_, ok = Lookup(nil, "lang")
	assert.False(t, ok)
}

func TestEqualityFilter(t *testing.T) {
	assert.True(t, NewEqualityFilter("lang", "go").Match(doc))
	assert.False(t, NewEqualityFilter("lang", "rust").Match(doc))
	assert.True(t, NewEqualityFilter("meta.author.name", "ada").Match(doc))

	// Numeric coercion: int query against a float64 document value
	assert.True(t, NewEqualityFilter("stars", 42).Match(doc))
	assert.True(t, NewEqualityFilter("meta.draft", false).Match(doc))
}

func TestNotEqualFilter(t *testing.T) {
	assert.True(t, NewNotEqualFilter("lang", "rust").Match(doc))
	assert.False(t, NewNotEqualFilter("lang", "go").Match(doc))
	// ne matches when the field is absent
	assert.True(t, NewNotEqualFilter("missing", "x").Match(doc))
}

func TestRangeFilters(t *testing.T) {
	assert.True(t, NewRangeFilter("stars", GreaterThan, 10).Match(doc))
	assert.False(t, NewRangeFilter("stars", GreaterThan, 42).Match(doc))
	assert.True(t, NewRangeFilter("stars", GreaterOrEqual, 42).Match(doc))
	assert.True(t, NewRangeFilter("stars", LessThan, 100).Match(doc))
	assert.True(t, NewRangeFilter("stars", LessOrEqual, 42).Match(doc))

	// Strings order lexicographically
	assert.True(t, NewRangeFilter("lang", GreaterThan, "ada").Match(doc))

	// Incomparable types never match
	assert.False(t, NewRangeFilter("lang", LessThan, 5).Match(doc))
	// Absent field never matches
	assert.False(t, NewRangeFilter("missing", LessThan, 5).Match(doc))
}

func TestMembershipFilters(t *testing.T) {
	assert.True(t, NewInFilter("lang", []any{"go", "rust"}).Match(doc))
	assert.False(t, NewInFilter("lang", []any{"c", "rust"}).Match(doc))
	assert.False(t, NewNotInFilter("lang", []any{"go"}).Match(doc))
	assert.True(t, NewNotInFilter("lang", []any{"c"}).Match(doc))
	assert.True(t, NewNotInFilter("missing", []any{"c"}).Match(doc))
	assert.True(t, NewInFilter("stars", []any{41, 42}).Match(doc))
}

func TestExistsFilter(t *testing.T) {
	assert.True(t, NewExistsFilter("meta.author.name").Match(doc))
	assert.False(t, NewExistsFilter("meta.editor").Match(doc))
}

func TestLogicalFilters(t *testing.T) {
	isGo := NewEqualityFilter("lang", "go")
	popular := NewRangeFilter("stars", GreaterThan, 10)
	draft := NewEqualityFilter("meta.draft", true)

	assert.True(t, NewAndFilter(isGo, popular).Match(doc))
	assert.False(t, NewAndFilter(isGo, draft).Match(doc))
	assert.True(t, NewOrFilter(draft, popular).Match(doc))
	assert.False(t, NewOrFilter(draft, NewEqualityFilter("lang", "rust")).Match(doc))
	assert.True(t, NewNotFilter(draft).Match(doc))
}

func TestLogicalValidate(t *testing.T) {
	assert.Error(t, NewAndFilter().Validate())
	assert.Error(t, (&LogicalFilter{Operator: NotOperator, Filters: []Filter{
		NewEqualityFilter("a", 1), NewEqualityFilter("b", 2),
	}}).Validate())
	assert.NoError(t, NewNotFilter(NewEqualityFilter("a", 1)).Validate())
}

func TestFieldsUnion(t *testing.T) {
	f := NewAndFilter(
		NewEqualityFilter("lang", "go"),
		NewOrFilter(NewRangeFilter("stars", GreaterThan, 1), NewEqualityFilter("lang", "c")),
	)
	assert.ElementsMatch(t, []string{"lang", "stars"}, f.Fields())
}

func TestParse(t *testing.T) {
	node := map[string]any{
		"op": "and",
		"filters": []any{
			map[string]any{"op": "eq", "field": "lang", "value": "go"},
			map[string]any{"op": "gte", "field": "stars", "value": float64(10)},
			map[string]any{"op": "not", "filter": map[string]any{"op": "eq", "field": "meta.draft", "value": true}},
			map[string]any{"op": "in", "field": "lang", "value": []any{"go", "rust"}},
			map[string]any{"op": "exists", "field": "meta.author.name"},
		},
	}

	f, err := Parse(node)
	require.NoError(t, err)
	require.NoError(t, f.Validate())
	assert.True(t, f.Match(doc))
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []map[string]any{
		{},
		{"op": "frobnicate"},
		{"op": "eq", "value": 1},
		{"op": "eq", "field": "x"},
		{"op": "in", "field": "x", "value": "not-a-list"},
		{"op": "and"},
		{"op": "and", "filters": []any{}},
		{"op": "not"},
	}
	for _, node := range cases {
		_, err := Parse(node)
		assert.Error(t, err, "node %v", node)
	}
}

func TestSelectivityEstimates(t *testing.T) {
	eq := NewEqualityFilter("a", 1)
	assert.InDelta(t, 0.1, eq.EstimateSelectivity(), 1e-9)
	assert.InDelta(t, 0.9, NewNotEqualFilter("a", 1).EstimateSelectivity(), 1e-9)

	and := NewAndFilter(eq, eq)
	assert.InDelta(t, 0.01, and.EstimateSelectivity(), 1e-9)

	or := NewOrFilter(eq, eq)
	assert.InDelta(t, 0.2, or.EstimateSelectivity(), 1e-9)

	assert.InDelta(t, 0.9, NewNotFilter(eq).EstimateSelectivity(), 1e-9)
}
