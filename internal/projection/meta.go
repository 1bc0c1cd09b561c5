package projection

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/prism/internal/ir"
)

// MetaSchema is the CUE schema every definition must satisfy. It defines
// #Schema, so it can serve directly as a role schema.
//
//go:embed meta.cue
var MetaSchema string

// MetaName is the name of the bootstrap meta-projection.
const MetaName = "prism.meta"

// MetaDefinition returns the bootstrap meta-projection: a projection over
// all stored definitions whose single role is constrained by MetaSchema.
// It is itself a definition, and satisfies its own schema.
func MetaDefinition() ir.IRObject {
	return ir.Obj(
		ir.O("namespace", ir.IRString(DefinitionNamespace)),
		ir.O("name", ir.IRString(MetaName)),
		ir.O("description", ir.IRString("Every stored projection definition, checked against the meta schema.")),
		ir.O("query", ir.Obj(
			ir.O("where", ir.Obj(ir.O("namespace", ir.IRString(DefinitionNamespace)))),
		)),
		ir.O("roles", ir.Obj(
			ir.O("definition", ir.Obj(
				ir.O("match", ir.Obj(ir.O("namespace", ir.IRString(DefinitionNamespace)))),
				ir.O("schema", ir.Obj(ir.O("cue", ir.IRString(MetaSchema)))),
			)),
		)),
		ir.O("transform", ir.IRArray{
			ir.Obj(
				ir.O("op", ir.IRString("extract")),
				ir.O("role", ir.IRString("definition")),
				ir.O("into", ir.IRString("definitions")),
				ir.O("fields", ir.Strings("name", "description")),
			),
			ir.Obj(
				ir.O("op", ir.IRString("order")),
				ir.O("set", ir.IRString("definitions")),
				ir.O("by", ir.IRString("name")),
			),
			ir.Obj(
				ir.O("op", ir.IRString("compute")),
				ir.O("set", ir.IRString("definitions")),
				ir.O("fn", ir.IRString("count")),
				ir.O("into", ir.IRString("count")),
			),
		}),
	)
}

// SchemaValue compiles a CUE constraint in ctx. When the source defines
// #Schema, that definition is the constraint; otherwise the whole value is.
func SchemaValue(ctx *cue.Context, src string) (cue.Value, error) {
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return cue.Value{}, err
	}
	if def := v.LookupPath(cue.ParsePath("#Schema")); def.Exists() {
		return def, nil
	}
	return v, nil
}

// CheckSchema unifies canonical JSON content with a CUE constraint and
// returns one message per violation. A fresh CUE context is used per call,
// so CheckSchema is safe for concurrent use.
func CheckSchema(src string, content []byte) ([]string, error) {
	ctx := cuecontext.New()
	schema, err := SchemaValue(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	data := ctx.CompileBytes(content)
	if err := data.Err(); err != nil {
		return nil, fmt.Errorf("compile content: %w", err)
	}

	err = schema.Unify(data).Validate(cue.Concrete(true))
	if err == nil {
		return nil, nil
	}
	var msgs []string
	for _, e := range cueerrors.Errors(err) {
		path := strings.Join(e.Path(), ".")
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path != "" {
			msg = path + ": " + msg
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		msgs = []string{err.Error()}
	}
	return msgs, nil
}

// CheckMeta validates definition content against MetaSchema.
func CheckMeta(content []byte) []ValidationError {
	msgs, err := CheckSchema(MetaSchema, content)
	if err != nil {
		return []ValidationError{{Field: "$", Message: err.Error(), Code: ErrMetaSchema}}
	}
	errs := make([]ValidationError, 0, len(msgs))
	for _, msg := range msgs {
		field, text, ok := strings.Cut(msg, ": ")
		if !ok {
			field, text = "$", msg
		}
		errs = append(errs, ValidationError{Field: field, Message: text, Code: ErrMetaSchema})
	}
	return errs
}

// Compile runs the full load-time check on canonical definition content:
// meta schema, decode, then semantic validation. Any failure returns an
// *InvalidError listing every problem found at the failing stage.
func Compile(c ir.Canonical) (*Definition, error) {
	name := ""
	if obj, ok := c.Value.(ir.IRObject); ok {
		if s, ok := obj["name"].(ir.IRString); ok {
			name = string(s)
		}
	}
	if c.Kind != ir.KindJSON {
		return nil, &InvalidError{Errors: []ValidationError{{Field: "$", Message: "definition must be structured content", Code: ErrDecode}}}
	}

	if errs := CheckMeta(c.Bytes); len(errs) > 0 {
		return nil, &InvalidError{Name: name, Errors: errs}
	}

	def, err := Decode(c.Value)
	if err != nil {
		field, msg := "$", err.Error()
		if de, ok := err.(*DecodeError); ok {
			field, msg = de.Field, de.Message
		}
		return nil, &InvalidError{Name: name, Errors: []ValidationError{{Field: field, Message: msg, Code: ErrDecode}}}
	}
	def.CID = ir.DeriveCID(c)

	if errs := Validate(def); len(errs) > 0 {
		return nil, &InvalidError{Name: name, Errors: errs}
	}
	return def, nil
}
