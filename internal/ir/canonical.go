package ir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Kind distinguishes the two canonical encodings of a resource.
type Kind uint8

const (
	// KindRaw is opaque bytes; the canonical form is the input itself.
	KindRaw Kind = iota
	// KindJSON is a structured resource in canonical JSON.
	KindJSON
)

func (k Kind) String() string {
	if k == KindJSON {
		return "json"
	}
	return "raw"
}

// Canonical is the result of canonicalizing resource bytes.
// Value is nil for raw resources.
type Canonical struct {
	Kind  Kind
	Bytes []byte
	Value IRValue
}

// CanonicalizationError reports input that has no single canonical form.
type CanonicalizationError struct {
	Reason string
	Path   string
}

func (e *CanonicalizationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("canonicalization: %s", e.Reason)
	}
	return fmt.Sprintf("canonicalization: %s at %s", e.Reason, e.Path)
}

// IsCanonicalizationError reports whether err is a CanonicalizationError.
func IsCanonicalizationError(err error) bool {
	var ce *CanonicalizationError
	return errors.As(err, &ce)
}

// Canonicalize maps resource bytes to their canonical encoding.
//
// Input whose first non-whitespace byte is '{' or '[' is structured and must
// be strict JSON: no floats, no null, no duplicate keys (including keys that
// only differ before NFC normalization), valid UTF-8, nothing after the
// top-level value. Anything else is raw and canonicalizes to itself.
func Canonicalize(data []byte) (Canonical, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		raw := make([]byte, len(data))
		copy(raw, data)
		return Canonical{Kind: KindRaw, Bytes: raw}, nil
	}

	if !utf8.Valid(data) {
		return Canonical{}, &CanonicalizationError{Reason: "invalid UTF-8"}
	}

	p := &strictParser{dec: json.NewDecoder(bytes.NewReader(data))}
	p.dec.UseNumber()

	v, err := p.value("$")
	if err != nil {
		return Canonical{}, err
	}
	if _, err := p.dec.Token(); err != io.EOF {
		return Canonical{}, &CanonicalizationError{Reason: "trailing data after top-level value"}
	}

	out, err := MarshalCanonical(v)
	if err != nil {
		return Canonical{}, &CanonicalizationError{Reason: err.Error()}
	}
	return Canonical{Kind: KindJSON, Bytes: out, Value: v}, nil
}

// CanonicalizeValue encodes an in-memory value as a structured resource.
func CanonicalizeValue(v IRValue) (Canonical, error) {
	switch v.(type) {
	case IRObject, IRArray:
	default:
		return Canonical{}, &CanonicalizationError{Reason: fmt.Sprintf("top-level %s is not a structured resource", TypeName(v))}
	}
	out, err := MarshalCanonical(v)
	if err != nil {
		return Canonical{}, &CanonicalizationError{Reason: err.Error()}
	}
	// Re-parse so Value carries NFC-normalized strings, same as Canonicalize.
	return Canonicalize(out)
}

// strictParser walks the JSON token stream so duplicate keys are visible.
type strictParser struct {
	dec *json.Decoder
}

func (p *strictParser) value(path string) (IRValue, error) {
	tok, err := p.dec.Token()
	if err != nil {
		return nil, &CanonicalizationError{Reason: fmt.Sprintf("invalid JSON: %v", err), Path: path}
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return p.object(path)
		case '[':
			return p.array(path)
		}
		return nil, &CanonicalizationError{Reason: fmt.Sprintf("unexpected delimiter %q", t), Path: path}
	case string:
		return IRString(norm.NFC.String(t)), nil
	case bool:
		return IRBool(t), nil
	case json.Number:
		s := string(t)
		if strings.ContainsAny(s, ".eE") {
			return nil, &CanonicalizationError{Reason: "floats are forbidden: " + s, Path: path}
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, &CanonicalizationError{Reason: "integer out of int64 range: " + s, Path: path}
		}
		return IRInt(n), nil
	case nil:
		return nil, &CanonicalizationError{Reason: "null is forbidden", Path: path}
	default:
		return nil, &CanonicalizationError{Reason: fmt.Sprintf("unexpected token %T", tok), Path: path}
	}
}

func (p *strictParser) object(path string) (IRValue, error) {
	obj := IRObject{}
	for p.dec.More() {
		tok, err := p.dec.Token()
		if err != nil {
			return nil, &CanonicalizationError{Reason: fmt.Sprintf("invalid JSON: %v", err), Path: path}
		}
		key, ok := tok.(string)
		if !ok {
			return nil, &CanonicalizationError{Reason: "object key is not a string", Path: path}
		}
		nk := norm.NFC.String(key)
		if _, dup := obj[nk]; dup {
			reason := fmt.Sprintf("duplicate key %q", key)
			if nk != key {
				reason = fmt.Sprintf("key %q collides with another key after NFC normalization", key)
			}
			return nil, &CanonicalizationError{Reason: reason, Path: path}
		}
		v, err := p.value(path + "." + key)
		if err != nil {
			return nil, err
		}
		obj[nk] = v
	}
	if _, err := p.dec.Token(); err != nil {
		return nil, &CanonicalizationError{Reason: fmt.Sprintf("invalid JSON: %v", err), Path: path}
	}
	return obj, nil
}

func (p *strictParser) array(path string) (IRValue, error) {
	arr := IRArray{}
	for i := 0; p.dec.More(); i++ {
		v, err := p.value(fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	if _, err := p.dec.Token(); err != nil {
		return nil, &CanonicalizationError{Reason: fmt.Sprintf("invalid JSON: %v", err), Path: path}
	}
	return arr, nil
}

// MarshalCanonical produces RFC 8785 canonical JSON.
// This is the only serialization used for content-addressed identity.
//
// Differences from json.Marshal:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping
//  3. Strings are NFC normalized
//  4. No floats, no null
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case IRString:
		return writeCanonicalString(buf, string(val))
	case IRInt:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case IRBool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case IRArray:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case IRObject:
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		irv, err := FromAny(v)
		if err != nil {
			return err
		}
		return writeCanonical(buf, irv)
	}
	return nil
}

// writeCanonicalString writes an NFC-normalized JSON string. Only control
// characters, backslash and quote are escaped; U+2028 and U+2029 stay literal.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	s = norm.NFC.String(s)
	if !utf8.ValidString(s) {
		return fmt.Errorf("invalid UTF-8 in string")
	}

	buf.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '"':
			buf.WriteString(`\"`)
		case r == '\\':
			buf.WriteString(`\\`)
		case r == '\b':
			buf.WriteString(`\b`)
		case r == '\f':
			buf.WriteString(`\f`)
		case r == '\n':
			buf.WriteString(`\n`)
		case r == '\r':
			buf.WriteString(`\r`)
		case r == '\t':
			buf.WriteString(`\t`)
		case r < 0x20:
			fmt.Fprintf(buf, `\u%04x`, r)
		default:
			buf.WriteRune(r)
		}
	}
	buf.WriteByte('"')
	return nil
}
