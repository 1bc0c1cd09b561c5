package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/prism/internal/ir"
)

func mustParse(t *testing.T, src string) Predicate {
	t.Helper()
	v, err := ir.UnmarshalIRValue([]byte(src))
	require.NoError(t, err)
	p, err := Parse(v)
	require.NoError(t, err)
	return p
}

func TestParse(t *testing.T) {
	cid := ir.MustCIDOf([]byte(`{"x":1}`))

	tests := []struct {
		name string
		src  string
		want Predicate
	}{
		{"namespace", `{"namespace":"spec"}`, Namespace{Name: Lit(ir.IRString("spec"))}},
		{"eq param", `{"field":"status","eq":"$status"}`, FieldEquals{Field: "status", Value: Param("status")}},
		{"eq int", `{"field":"n","eq":3}`, FieldEquals{Field: "n", Value: Lit(ir.IRInt(3))}},
		{"escaped dollar", `{"field":"price","eq":"$$5"}`, FieldEquals{Field: "price", Value: Lit(ir.IRString("$5"))}},
		{"prefix", `{"field":"title","prefix":"Auth"}`, FieldPrefix{Field: "title", Prefix: Lit(ir.IRString("Auth"))}},
		{"exists", `{"field":"owner","exists":true}`, FieldExists{Field: "owner"}},
		{"not exists", `{"field":"owner","exists":false}`, Not{Predicate: FieldExists{Field: "owner"}}},
		{"cid single", `{"cid":"$root"}`, CIDIn{CIDs: []Operand{Param("root")}}},
		{"cid list", `{"cid":["` + string(cid) + `"]}`, CIDIn{CIDs: []Operand{Lit(ir.IRString(cid))}}},
		{"references", `{"references":"$spec"}`, References{Target: Param("spec")}},
		{"referenced_by", `{"referenced_by":"$suite"}`, ReferencedBy{Source: Param("suite")}},
		{"composite", `{"and":[{"namespace":"test"},{"not":{"or":[]}}]}`, And{Predicates: []Predicate{
			Namespace{Name: Lit(ir.IRString("test"))},
			Not{Predicate: Or{Predicates: []Predicate{}}},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustParse(t, tt.src))
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		`["namespace"]`,
		`{"namespace":"a","references":"b"}`,
		`{"bogus":1}`,
		`{"field":"x"}`,
		`{"field":"x","eq":1,"prefix":"y"}`,
		`{"field":"x","exists":"yes"}`,
		`{"and":{"namespace":"x"}}`,
		`{"namespace":"$"}`,
		`{"namespace":["a"]}`,
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			v, err := ir.UnmarshalIRValue([]byte(src))
			require.NoError(t, err)
			_, err = Parse(v)
			assert.Error(t, err)
		})
	}
}

func TestBind(t *testing.T) {
	a := ir.MustCIDOf([]byte(`{"a":1}`))
	b := ir.MustCIDOf([]byte(`{"b":1}`))

	p := mustParse(t, `{"and":[{"field":"status","eq":"$status"},{"cid":"$roots"}]}`)
	assert.Equal(t, []string{"roots", "status"}, Params(p))

	bound, err := Bind(p, ir.IRObject{
		"status": ir.IRString("passing"),
		"roots":  ir.IRArray{ir.IRString(a), ir.IRString(b)},
	})
	require.NoError(t, err)
	assert.Empty(t, Params(bound))
	assert.Equal(t, And{Predicates: []Predicate{
		FieldEquals{Field: "status", Value: Lit(ir.IRString("passing"))},
		CIDIn{CIDs: []Operand{Lit(ir.IRString(a)), Lit(ir.IRString(b))}},
	}}, bound)

	_, err = Bind(p, ir.IRObject{"status": ir.IRString("x")})
	assert.ErrorContains(t, err, `"roots"`)
}

func TestMatch(t *testing.T) {
	spec := ir.MustCIDOf([]byte(`{"namespace":"spec"}`))
	testValue := ir.IRObject{
		"namespace": ir.IRString("test"),
		"name":      ir.IRString("Auth login"),
		"status":    ir.IRString("passing"),
		"meta":      ir.IRObject{"owner": ir.IRString("ada")},
		"spec":      ir.IRString(spec),
	}
	res := Resource{
		CID:   ir.MustCIDOf([]byte(`{"namespace":"test"}`)),
		Value: testValue,
		Refs:  ir.ExtractRefs(testValue),
	}
	suite := ir.MustCIDOf([]byte(`{"namespace":"suite"}`))
	refsOf := func(c ir.CID) ([]ir.Ref, error) {
		if c == suite {
			return []ir.Ref{{Field: "tests", To: res.CID}}, nil
		}
		return nil, nil
	}

	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"namespace hit", `{"namespace":"test"}`, true},
		{"namespace miss", `{"namespace":"spec"}`, false},
		{"eq", `{"field":"status","eq":"passing"}`, true},
		{"eq type mismatch", `{"field":"status","eq":1}`, false},
		{"nested path", `{"field":"meta.owner","eq":"ada"}`, true},
		{"prefix", `{"field":"name","prefix":"Auth"}`, true},
		{"prefix miss", `{"field":"name","prefix":"auth"}`, false},
		{"exists", `{"field":"meta","exists":true}`, true},
		{"absent", `{"field":"missing","exists":false}`, true},
		{"references", `{"references":"` + string(spec) + `"}`, true},
		{"referenced_by", `{"referenced_by":"` + string(suite) + `"}`, true},
		{"cid", `{"cid":"` + string(res.CID) + `"}`, true},
		{"or", `{"or":[{"namespace":"x"},{"namespace":"test"}]}`, true},
		{"empty or", `{"or":[]}`, false},
		{"empty and", `{"and":[]}`, true},
		{"not", `{"not":{"namespace":"test"}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(mustParse(t, tt.src), res, refsOf)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchRawResource(t *testing.T) {
	raw := Resource{CID: ir.MustCIDOf([]byte("plain bytes"))}

	ok, err := Match(mustParse(t, `{"namespace":"x"}`), raw, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = Match(mustParse(t, `{"cid":"`+string(raw.CID)+`"}`), raw, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMatchUnboundParam(t *testing.T) {
	_, err := Match(mustParse(t, `{"namespace":"$ns"}`), Resource{}, nil)
	assert.ErrorContains(t, err, "not bound")
}

func TestValidate(t *testing.T) {
	valid := Validate(mustParse(t, `{"and":[{"namespace":"$ns"},{"field":"a.b","exists":true}]}`))
	assert.True(t, valid.Valid())
	assert.Empty(t, valid.Warnings)

	result := Validate(And{Predicates: []Predicate{
		FieldEquals{Field: "a..b", Value: Lit(ir.IRInt(1))},
		FieldPrefix{Field: "x", Prefix: Lit(ir.IRInt(1))},
		References{Target: Lit(ir.IRString("not-a-cid"))},
		CIDIn{},
		Not{},
		Or{},
	}})
	assert.False(t, result.Valid())
	assert.Len(t, result.Errors, 5)
	assert.Len(t, result.Warnings, 1)
}

func TestContentOnly(t *testing.T) {
	assert.True(t, ContentOnly(mustParse(t, `{"and":[{"namespace":"x"},{"not":{"field":"a","exists":true}}]}`)))
	assert.False(t, ContentOnly(mustParse(t, `{"or":[{"namespace":"x"},{"references":"$r"}]}`)))
}
