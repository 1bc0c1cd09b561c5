package ir

import "cmp"

// typeRank fixes the cross-type order used by Compare.
func typeRank(v IRValue) int {
	switch v.(type) {
	case IRBool:
		return 1
	case IRInt:
		return 2
	case IRString:
		return 3
	case IRArray:
		return 4
	case IRObject:
		return 5
	default:
		return 0
	}
}

// Compare defines a total order over values: bool < int < string < array <
// object, then by value. Strings compare by UTF-16 code units, arrays
// element-wise, objects by sorted key then value.
func Compare(a, b IRValue) int {
	if c := cmp.Compare(typeRank(a), typeRank(b)); c != 0 {
		return c
	}
	switch av := a.(type) {
	case IRBool:
		bv := b.(IRBool)
		switch {
		case av == bv:
			return 0
		case !bool(av):
			return -1
		}
		return 1
	case IRInt:
		return cmp.Compare(av, b.(IRInt))
	case IRString:
		return CompareStrings(string(av), string(b.(IRString)))
	case IRArray:
		bv := b.(IRArray)
		for i := 0; i < len(av) && i < len(bv); i++ {
			if c := Compare(av[i], bv[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(av), len(bv))
	case IRObject:
		bv := b.(IRObject)
		ak, bk := av.SortedKeys(), bv.SortedKeys()
		for i := 0; i < len(ak) && i < len(bk); i++ {
			if c := CompareStrings(ak[i], bk[i]); c != 0 {
				return c
			}
			if c := Compare(av[ak[i]], bv[bk[i]]); c != 0 {
				return c
			}
		}
		return cmp.Compare(len(ak), len(bk))
	}
	return 0
}

// Equal reports whether two values are structurally identical.
func Equal(a, b IRValue) bool {
	return Compare(a, b) == 0
}
