package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/prism/internal/engine"
	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/store"
)

// ExecOptions holds the flags shared by commands that execute a definition.
type ExecOptions struct {
	*RootOptions
	Params []string // key=value pairs
	Object string   // JSON or YAML object of parameters
	At     int64    // pinned snapshot; negative means head
}

func (o *ExecOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&o.Params, "param", "p", nil, "parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&o.Object, "params", "", "parameters as a JSON or YAML object")
	cmd.Flags().Int64Var(&o.At, "at", -1, "run against this snapshot instead of the head")
}

// request resolves the definition reference and builds an execution request.
func (o *ExecOptions) request(cmd *cobra.Command, eng *engine.Engine, ref string) (engine.Request, error) {
	def, err := eng.Resolve(cmd.Context(), ref)
	if err != nil {
		return engine.Request{}, err
	}
	params, err := parseParams(o.Object, o.Params)
	if err != nil {
		return engine.Request{}, err
	}
	req := engine.Request{Definition: def.CID, Params: params}
	if o.At >= 0 {
		req.Snapshot = engine.At(store.Snapshot(o.At))
	}
	return req, nil
}

// parseParams builds execution parameters from an object and key=value
// pairs; pairs win. Values are read as YAML scalars, so 3 is an int, true a
// bool and [a, b] an array. Anything else is a string.
func parseParams(object string, pairs []string) (ir.IRObject, error) {
	params := ir.IRObject{}
	if object != "" {
		var doc map[string]any
		if err := yaml.Unmarshal([]byte(object), &doc); err != nil {
			return nil, fmt.Errorf("--params: %w", err)
		}
		for k, v := range doc {
			val, err := ir.FromAny(normalize(v))
			if err != nil {
				return nil, fmt.Errorf("--params %s: %w", k, err)
			}
			params[k] = val
		}
	}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--param %q: want key=value", pair)
		}
		val, err := scalar(raw)
		if err != nil {
			return nil, fmt.Errorf("--param %s: %w", key, err)
		}
		params[key] = val
	}
	return params, nil
}

func scalar(raw string) (ir.IRValue, error) {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return ir.IRString(raw), nil
	}
	return ir.FromAny(normalize(v))
}

// normalize turns the map[interface{}]interface{} nodes yaml.v3 may produce
// inside flow sequences into string-keyed maps.
func normalize(v any) any {
	switch val := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case map[string]any:
		for k, e := range val {
			val[k] = normalize(e)
		}
		return val
	case []any:
		for i, e := range val {
			val[i] = normalize(e)
		}
		return val
	default:
		return v
	}
}

// readInput reads a file argument, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// snapshotFlag returns the pinned snapshot for --at, or store.Latest.
func snapshotFlag(at int64) store.Snapshot {
	if at < 0 {
		return store.Latest
	}
	return store.Snapshot(at)
}
