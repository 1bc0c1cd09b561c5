package ir

import (
	"slices"
	"strings"
)

// Ref is an outgoing edge from a structured resource. Field is the dotted
// path of object keys leading to the CID string; array indices are dropped,
// so every element of "tests": [cid, cid] has Field "tests".
type Ref struct {
	Field string `json:"field"`
	To    CID    `json:"to"`
}

// ExtractRefs returns every CID-shaped string inside v, sorted by
// (Field, To) with duplicates removed.
func ExtractRefs(v IRValue) []Ref {
	var refs []Ref
	collectRefs(v, "", &refs)
	slices.SortFunc(refs, CompareRefs)
	return slices.Compact(refs)
}

func collectRefs(v IRValue, field string, out *[]Ref) {
	switch val := v.(type) {
	case IRString:
		if IsCID(string(val)) {
			*out = append(*out, Ref{Field: field, To: CID(val)})
		}
	case IRArray:
		for _, elem := range val {
			collectRefs(elem, field, out)
		}
	case IRObject:
		for k, elem := range val {
			collectRefs(elem, JoinPath(field, k), out)
		}
	}
}

// CompareRefs orders refs by field then target.
func CompareRefs(a, b Ref) int {
	if c := strings.Compare(a.Field, b.Field); c != 0 {
		return c
	}
	return strings.Compare(string(a.To), string(b.To))
}

// FieldMatches reports whether a ref field satisfies a follow rule entry.
// "*" matches every field; otherwise the rule matches the field itself and
// any field nested below it.
func FieldMatches(rule, field string) bool {
	if rule == "*" || rule == field {
		return true
	}
	return strings.HasPrefix(field, rule+".")
}
