package ir

import "strings"

// JoinPath appends a key to a dotted field path.
func JoinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

// Lookup resolves a dotted field path inside v. The empty path resolves to
// v itself. Only object keys are traversed.
func Lookup(v IRValue, path string) (IRValue, bool) {
	if v == nil {
		return nil, false
	}
	if path == "" {
		return v, true
	}
	cur := v
	for _, seg := range strings.Split(path, ".") {
		obj, ok := cur.(IRObject)
		if !ok {
			return nil, false
		}
		next, ok := obj[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Namespace returns the top-level "namespace" string of a structured
// resource, or "" when absent.
func Namespace(v IRValue) string {
	obj, ok := v.(IRObject)
	if !ok {
		return ""
	}
	s, _ := obj["namespace"].(IRString)
	return string(s)
}
