package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollyscale/core/internal/store"
)

func TestBuildFilterSQLEmpty(t *testing.T) {
	sql, args, err := buildFilterSQL(nil, spanColumns, "s.attributes", 2)
	require.NoError(t, err)
	assert.Equal(t, "TRUE", sql)
	assert.Empty(t, args)
}

func TestBuildFilterSQLKnownColumn(t *testing.T) {
	filters := []store.Filter{{Field: "span_name", Op: store.OpEq, Value: "GET /users"}}
	sql, args, err := buildFilterSQL(filters, spanColumns, "s.attributes", 2)
	require.NoError(t, err)
	assert.Equal(t, "s.name = $3", sql)
	assert.Equal(t, []interface{}{"GET /users"}, args)
}

func TestBuildFilterSQLAttributeFallback(t *testing.T) {
	filters := []store.Filter{{Field: "http.method", Op: store.OpEq, Value: "GET"}}
	sql, _, err := buildFilterSQL(filters, spanColumns, "s.attributes", 2)
	require.NoError(t, err)
	assert.Equal(t, "s.attributes->>'http.method' = $3", sql)
}

func TestBuildFilterSQLMultipleAndComposed(t *testing.T) {
	filters := []store.Filter{
		{Field: "span_name", Op: store.OpEq, Value: "op"},
		{Field: "status_code", Op: store.OpGte, Value: "2"},
	}
	sql, args, err := buildFilterSQL(filters, spanColumns, "s.attributes", 2)
	require.NoError(t, err)
	assert.Equal(t, "s.name = $3 AND s.status_code::numeric >= $4", sql)
	assert.Equal(t, []interface{}{"op", "2"}, args)
}

func TestBuildFilterSQLRejectsUnparseableRegex(t *testing.T) {
	filters := []store.Filter{{Field: "span_name", Op: store.OpRegex, Value: "(unterminated"}}
	_, _, err := buildFilterSQL(filters, spanColumns, "s.attributes", 2)
	require.Error(t, err)
}

func TestBuildFilterSQLRejectsUnknownOp(t *testing.T) {
	filters := []store.Filter{{Field: "span_name", Op: "bogus", Value: "x"}}
	_, _, err := buildFilterSQL(filters, spanColumns, "s.attributes", 2)
	require.Error(t, err)
}

func TestSQLIdentSafeStripsQuotesAndBackslashes(t *testing.T) {
	assert.Equal(t, "droptable", sqlIdentSafe("drop'table\\"))
}
