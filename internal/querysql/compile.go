// Package querysql compiles queryir predicates into SQLite queries over the
// resources and refs tables of the SQLite backend.
package querysql

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/queryir"
)

// ErrUnsupported marks predicates that have no exact SQL translation.
// Callers fall back to a full scan and filter in memory.
var ErrUnsupported = errors.New("querysql: predicate not expressible in SQL")

// SQLCompiler translates bound predicates into parameterized SQL.
//
// Every leaf is wrapped in COALESCE(..., 0) so JSON functions that yield NULL
// for raw resources (doc IS NULL) behave as false instead of poisoning NOT.
// A leaf may over-select, but never under a NOT: negating a superset drops
// rows the in-memory filter cannot recover, so such predicates are
// reported as unsupported.
type SQLCompiler struct{}

// NewSQLCompiler creates a new compiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile returns a complete SELECT statement selecting the CIDs visible at
// asOf (asOf < 0 means no snapshot bound) that match p, with parameters.
//
// Results are always ordered by cid COLLATE BINARY so repeated queries over
// the same snapshot return identical sequences.
func (c *SQLCompiler) Compile(p queryir.Predicate, asOf int64) (string, []any, error) {
	where, params, err := c.compilePredicate(p, asOf)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT cid FROM resources WHERE ")
	if asOf >= 0 {
		sb.WriteString("seq <= ? AND ")
		params = append([]any{asOf}, params...)
	}
	sb.WriteString(where)
	sb.WriteString(" ORDER BY cid COLLATE BINARY")
	return sb.String(), params, nil
}

// ScanAll returns the statement used when a predicate is unsupported.
func (c *SQLCompiler) ScanAll(asOf int64) (string, []any) {
	if asOf >= 0 {
		return "SELECT cid FROM resources WHERE seq <= ? ORDER BY cid COLLATE BINARY", []any{asOf}
	}
	return "SELECT cid FROM resources ORDER BY cid COLLATE BINARY", nil
}

func (c *SQLCompiler) compilePredicate(p queryir.Predicate, asOf int64) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil, nil
	case queryir.Namespace:
		v, err := literal(pred.Name)
		if err != nil {
			return "", nil, err
		}
		s, ok := v.(ir.IRString)
		if !ok {
			return "1 = 0", nil, nil
		}
		return "(kind = 'json' AND namespace = ?)", []any{string(s)}, nil
	case queryir.FieldEquals:
		return c.compileEquals(pred)
	case queryir.FieldPrefix:
		return c.compilePrefix(pred)
	case queryir.FieldExists:
		path, err := jsonPath(pred.Field)
		if err != nil {
			return "", nil, err
		}
		return "COALESCE(json_type(doc, ?) IS NOT NULL, 0)", []any{path}, nil
	case queryir.CIDIn:
		if len(pred.CIDs) == 0 {
			return "1 = 0", nil, nil
		}
		params := make([]any, 0, len(pred.CIDs))
		for _, op := range pred.CIDs {
			v, err := literal(op)
			if err != nil {
				return "", nil, err
			}
			s, ok := v.(ir.IRString)
			if !ok {
				continue
			}
			params = append(params, string(s))
		}
		if len(params) == 0 {
			return "1 = 0", nil, nil
		}
		return "cid IN (" + placeholders(len(params)) + ")", params, nil
	case queryir.References:
		target, err := literal(pred.Target)
		if err != nil {
			return "", nil, err
		}
		return "cid IN (SELECT src FROM refs WHERE dst = ?)", []any{irValueToParam(target)}, nil
	case queryir.ReferencedBy:
		source, err := literal(pred.Source)
		if err != nil {
			return "", nil, err
		}
		// The source only counts while it is visible at the snapshot.
		if asOf < 0 {
			return "cid IN (SELECT dst FROM refs WHERE src = ?)", []any{irValueToParam(source)}, nil
		}
		return "cid IN (SELECT r.dst FROM refs r JOIN resources s ON s.cid = r.src WHERE r.src = ? AND s.seq <= ?)",
			[]any{irValueToParam(source), asOf}, nil
	case queryir.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1", asOf)
	case queryir.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0", asOf)
	case queryir.Not:
		if !exact(pred.Predicate) {
			return "", nil, fmt.Errorf("%w: negated predicate has no exact translation", ErrUnsupported)
		}
		sql, params, err := c.compilePredicate(pred.Predicate, asOf)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + sql + ")", params, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileJunction(preds []queryir.Predicate, op, empty string, asOf int64) (string, []any, error) {
	if len(preds) == 0 {
		return empty, nil, nil
	}
	parts := make([]string, 0, len(preds))
	var all []any
	for _, p := range preds {
		sql, params, err := c.compilePredicate(p, asOf)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		all = append(all, params...)
	}
	return "(" + strings.Join(parts, op) + ")", all, nil
}

// exact reports whether p compiles to SQL selecting exactly the resources
// queryir.Match accepts. Structured equality compares json_extract text,
// which can differ from the canonical encoding, so it is only a superset.
func exact(p queryir.Predicate) bool {
	switch pred := p.(type) {
	case queryir.FieldEquals:
		switch pred.Value.Lit.(type) {
		case ir.IRArray, ir.IRObject:
			return false
		}
		return pred.Field != ""
	case queryir.FieldPrefix:
		return pred.Field != ""
	case queryir.FieldExists:
		return pred.Field != ""
	case queryir.And:
		return allExact(pred.Predicates)
	case queryir.Or:
		return allExact(pred.Predicates)
	case queryir.Not:
		return exact(pred.Predicate)
	default:
		return true
	}
}

func allExact(preds []queryir.Predicate) bool {
	for _, p := range preds {
		if !exact(p) {
			return false
		}
	}
	return true
}

// compileEquals pins both the JSON type and the value, since SQLite would
// otherwise compare the string "1" and the integer 1 loosely in some cases.
func (c *SQLCompiler) compileEquals(eq queryir.FieldEquals) (string, []any, error) {
	path, err := jsonPath(eq.Field)
	if err != nil {
		return "", nil, err
	}
	v, err := literal(eq.Value)
	if err != nil {
		return "", nil, err
	}

	switch val := v.(type) {
	case ir.IRString:
		return "COALESCE(json_type(doc, ?) = 'text' AND json_extract(doc, ?) = ?, 0)",
			[]any{path, path, string(val)}, nil
	case ir.IRInt:
		return "COALESCE(json_type(doc, ?) = 'integer' AND json_extract(doc, ?) = ?, 0)",
			[]any{path, path, int64(val)}, nil
	case ir.IRBool:
		want := "false"
		if val {
			want = "true"
		}
		return "COALESCE(json_type(doc, ?) = ?, 0)", []any{path, want}, nil
	case ir.IRArray, ir.IRObject:
		canonical, err := ir.MarshalCanonical(val)
		if err != nil {
			return "", nil, fmt.Errorf("convert value: %w", err)
		}
		return "COALESCE(json_type(doc, ?) = ? AND json_extract(doc, ?) = ?, 0)",
			[]any{path, ir.TypeName(val), path, string(canonical)}, nil
	default:
		return "", nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

func (c *SQLCompiler) compilePrefix(fp queryir.FieldPrefix) (string, []any, error) {
	path, err := jsonPath(fp.Field)
	if err != nil {
		return "", nil, err
	}
	v, err := literal(fp.Prefix)
	if err != nil {
		return "", nil, err
	}
	s, ok := v.(ir.IRString)
	if !ok {
		return "1 = 0", nil, nil
	}
	return "COALESCE(json_type(doc, ?) = 'text' AND substr(json_extract(doc, ?), 1, ?) = ?, 0)",
		[]any{path, path, utf8.RuneCountInString(string(s)), string(s)}, nil
}

// jsonPath converts a dotted field path into a SQLite JSON path with every
// label quoted. Labels containing a double quote cannot be expressed.
func jsonPath(field string) (string, error) {
	if field == "" {
		return "", fmt.Errorf("%w: empty field path", ErrUnsupported)
	}
	var sb strings.Builder
	sb.WriteString("$")
	for _, seg := range strings.Split(field, ".") {
		if strings.ContainsRune(seg, '"') {
			return "", fmt.Errorf("%w: field %q", ErrUnsupported, field)
		}
		sb.WriteString(`."`)
		sb.WriteString(seg)
		sb.WriteString(`"`)
	}
	return sb.String(), nil
}

func literal(op queryir.Operand) (ir.IRValue, error) {
	if op.IsParam() {
		return nil, fmt.Errorf("parameter %q is not bound", op.Param)
	}
	return op.Lit, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// irValueToParam converts a scalar IRValue to a database/sql parameter.
func irValueToParam(v ir.IRValue) any {
	switch val := v.(type) {
	case ir.IRString:
		return string(val)
	case ir.IRInt:
		return int64(val)
	case ir.IRBool:
		if val {
			return int64(1)
		}
		return int64(0)
	default:
		return nil
	}
}
