package querysql

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/queryir"
)

func TestCompile_Namespace(t *testing.T) {
	compiler := NewSQLCompiler()

	sql, params, err := compiler.Compile(queryir.Namespace{Name: queryir.Lit(ir.IRString("spec"))}, 7)
	require.NoError(t, err)

	assert.Equal(t, "SELECT cid FROM resources WHERE seq <= ? AND (kind = 'json' AND namespace = ?) ORDER BY cid COLLATE BINARY", sql)
	assert.Equal(t, []any{int64(7), "spec"}, params)
}

func TestCompile_NoSnapshotBound(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.All(), -1)
	require.NoError(t, err)

	assert.Equal(t, "SELECT cid FROM resources WHERE 1 = 1 ORDER BY cid COLLATE BINARY", sql)
	assert.Empty(t, params)
}

func TestCompile_OrderByMandatory(t *testing.T) {
	preds := []queryir.Predicate{
		queryir.All(),
		queryir.FieldExists{Field: "a"},
		queryir.Or{Predicates: []queryir.Predicate{queryir.FieldExists{Field: "a"}}},
		queryir.Not{Predicate: queryir.FieldExists{Field: "a"}},
	}
	for _, p := range preds {
		sql, _, err := NewSQLCompiler().Compile(p, 1)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(sql, "ORDER BY cid COLLATE BINARY"), sql)
	}
}

func TestCompile_FieldEqualsPinsType(t *testing.T) {
	tests := []struct {
		name     string
		value    ir.IRValue
		fragment string
		params   []any
	}{
		{"string", ir.IRString("passing"), "json_type(doc, ?) = 'text'", []any{`$."status"`, `$."status"`, "passing"}},
		{"int", ir.IRInt(3), "json_type(doc, ?) = 'integer'", []any{`$."status"`, `$."status"`, int64(3)}},
		{"bool", ir.IRBool(true), "json_type(doc, ?) = ?", []any{`$."status"`, "true"}},
		{"object", ir.IRObject{"b": ir.IRInt(1), "a": ir.IRInt(2)}, "json_extract(doc, ?) = ?", []any{`$."status"`, "object", `$."status"`, `{"a":2,"b":1}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := NewSQLCompiler().Compile(queryir.FieldEquals{Field: "status", Value: queryir.Lit(tt.value)}, -1)
			require.NoError(t, err)
			assert.Contains(t, sql, tt.fragment)
			assert.Equal(t, tt.params, params)
		})
	}
}

func TestCompile_NestedPathAndPrefix(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.FieldPrefix{
		Field:  "meta.title",
		Prefix: queryir.Lit(ir.IRString("Zürich")),
	}, -1)
	require.NoError(t, err)

	assert.Contains(t, sql, "substr(json_extract(doc, ?), 1, ?) = ?")
	assert.Equal(t, []any{`$."meta"."title"`, `$."meta"."title"`, 6, "Zürich"}, params)
}

func TestCompile_Adjacency(t *testing.T) {
	target := ir.MustCIDOf([]byte(`{"x":1}`))

	sql, params, err := NewSQLCompiler().Compile(queryir.And{Predicates: []queryir.Predicate{
		queryir.References{Target: queryir.Lit(ir.IRString(target))},
		queryir.Not{Predicate: queryir.ReferencedBy{Source: queryir.Lit(ir.IRString(target))}},
	}}, -1)
	require.NoError(t, err)

	assert.Contains(t, sql, "(cid IN (SELECT src FROM refs WHERE dst = ?) AND NOT (cid IN (SELECT dst FROM refs WHERE src = ?)))")
	assert.Equal(t, []any{string(target), string(target)}, params)
}

func TestCompile_CIDIn(t *testing.T) {
	a := ir.MustCIDOf([]byte(`{"a":1}`))
	b := ir.MustCIDOf([]byte(`{"b":1}`))

	sql, params, err := NewSQLCompiler().Compile(queryir.CIDIn{CIDs: []queryir.Operand{
		queryir.Lit(ir.IRString(a)),
		queryir.Lit(ir.IRString(b)),
	}}, -1)
	require.NoError(t, err)

	assert.Contains(t, sql, "cid IN (?, ?)")
	assert.Equal(t, []any{string(a), string(b)}, params)
}

func TestCompile_NoStringInterpolation(t *testing.T) {
	evil := "x'; DROP TABLE resources; --"
	sql, params, err := NewSQLCompiler().Compile(queryir.FieldEquals{
		Field: "title",
		Value: queryir.Lit(ir.IRString(evil)),
	}, -1)
	require.NoError(t, err)

	assert.NotContains(t, sql, "DROP")
	assert.Contains(t, params, evil)
}

func TestCompile_UnboundParam(t *testing.T) {
	_, _, err := NewSQLCompiler().Compile(queryir.Namespace{Name: queryir.Param("ns")}, -1)
	assert.ErrorContains(t, err, `"ns"`)
}

func TestCompile_UnsupportedField(t *testing.T) {
	_, _, err := NewSQLCompiler().Compile(queryir.FieldExists{Field: `we"ird`}, -1)
	assert.True(t, errors.Is(err, ErrUnsupported))

	sql, params := NewSQLCompiler().ScanAll(3)
	assert.Equal(t, "SELECT cid FROM resources WHERE seq <= ? ORDER BY cid COLLATE BINARY", sql)
	assert.Equal(t, []any{int64(3)}, params)
}

func TestCompile_ReferencedByRespectsSnapshot(t *testing.T) {
	source := ir.MustCIDOf([]byte(`{"x":1}`))

	sql, params, err := NewSQLCompiler().Compile(queryir.ReferencedBy{Source: queryir.Lit(ir.IRString(source))}, 2)
	require.NoError(t, err)

	assert.Contains(t, sql, "JOIN resources s ON s.cid = r.src WHERE r.src = ? AND s.seq <= ?")
	assert.Equal(t, []any{int64(2), string(source), int64(2)}, params)
}

func TestCompile_NegationNeedsExactChild(t *testing.T) {
	tests := []struct {
		name      string
		pred      queryir.Predicate
		supported bool
	}{
		{"namespace", queryir.Namespace{Name: queryir.Lit(ir.IRString(""))}, true},
		{"scalar equals", queryir.FieldEquals{Field: "n", Value: queryir.Lit(ir.IRInt(1))}, true},
		{"object equals", queryir.FieldEquals{Field: "n", Value: queryir.Lit(ir.IRObject{"a": ir.IRInt(1)})}, false},
		{"array equals inside or", queryir.Or{Predicates: []queryir.Predicate{
			queryir.FieldExists{Field: "a"},
			queryir.FieldEquals{Field: "n", Value: queryir.Lit(ir.IRArray{ir.IRInt(1)})},
		}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewSQLCompiler().Compile(queryir.Not{Predicate: tt.pred}, -1)
			if tt.supported {
				require.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrUnsupported), "got %v", err)
		})
	}

	// Un-negated structured equality still compiles as a superset.
	_, _, err := NewSQLCompiler().Compile(queryir.FieldEquals{Field: "n", Value: queryir.Lit(ir.IRArray{ir.IRInt(1)})}, -1)
	require.NoError(t, err)
}
