package ir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveCIDFormat(t *testing.T) {
	cid := MustCIDOf([]byte(`{"a":1}`))

	assert.True(t, strings.HasPrefix(string(cid), CIDPrefix))
	assert.Len(t, string(cid), len(CIDPrefix)+64)
	assert.True(t, IsCID(string(cid)))
	assert.Len(t, cid.Short(), 12)
}

func TestDeriveCIDDeterministic(t *testing.T) {
	// Known vector: pins the domain prefix and separator so a silent change
	// to either shows up here.
	c, err := Canonicalize([]byte(`{"b":2,"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, CIDPrefix+hashWithDomain(DomainJSON, []byte(`{"a":1,"b":2}`)), string(DeriveCID(c)))
	assert.Equal(t, DeriveCID(c), MustCIDOf([]byte(`{"a":1,"b":2}`)))
}

func TestIsCID(t *testing.T) {
	valid := CIDPrefix + strings.Repeat("a", 64)
	tests := []struct {
		in   string
		want bool
	}{
		{valid, true},
		{strings.ToUpper(valid), false},
		{CIDPrefix + strings.Repeat("g", 64), false},
		{CIDPrefix + strings.Repeat("a", 63), false},
		{"sha1:" + strings.Repeat("a", 64), false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsCID(tt.in), tt.in)
	}

	_, err := ParseCID("nope")
	assert.Error(t, err)
}

func TestParamsHash(t *testing.T) {
	a, err := ParamsHash(IRObject{"x": IRInt(1), "y": IRString("z")})
	require.NoError(t, err)
	b, err := ParamsHash(IRObject{"y": IRString("z"), "x": IRInt(1)})
	require.NoError(t, err)
	empty, err := ParamsHash(nil)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, empty)
	assert.False(t, IsCID(a))
}

func TestExtractRefs(t *testing.T) {
	spec := MustCIDOf([]byte(`{"namespace":"spec"}`))
	t1 := MustCIDOf([]byte(`{"namespace":"test","n":1}`))
	t2 := MustCIDOf([]byte(`{"namespace":"test","n":2}`))

	v := IRObject{
		"namespace": IRString("suite"),
		"spec":      IRString(spec),
		"tests":     IRArray{IRString(t2), IRString(t1), IRString(t1)},
		"links":     IRObject{"docs": IRArray{IRObject{"target": IRString(spec)}}},
		"title":     IRString("not a cid"),
	}

	refs := ExtractRefs(v)
	expected := []Ref{
		{Field: "links.docs.target", To: spec},
		{Field: "spec", To: spec},
	}
	tests := []Ref{{Field: "tests", To: t1}, {Field: "tests", To: t2}}
	if t2 < t1 {
		tests[0], tests[1] = tests[1], tests[0]
	}
	expected = append(expected, tests...)

	assert.Equal(t, expected, refs)
}

func TestFieldMatches(t *testing.T) {
	assert.True(t, FieldMatches("*", "anything"))
	assert.True(t, FieldMatches("links", "links"))
	assert.True(t, FieldMatches("links", "links.docs"))
	assert.False(t, FieldMatches("links", "linksx"))
	assert.False(t, FieldMatches("links.docs", "links"))
}
