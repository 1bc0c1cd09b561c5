package projection

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"gopkg.in/yaml.v3"

	"github.com/roach88/prism/internal/ir"
)

// Source is one definition read from an authoring file, canonicalized but
// not yet validated.
type Source struct {
	Origin    string // file and position within it
	Canonical ir.Canonical
}

// LoadError reports an authoring file that could not be read.
type LoadError struct {
	Origin string
	Err    error
}

func (e *LoadError) Error() string { return fmt.Sprintf("%s: %v", e.Origin, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// LoadPath reads definitions from a file or directory. JSON files hold one
// definition or an array of them; YAML files may hold several documents;
// CUE files declare definitions under a top-level "projection" struct,
// where the label supplies the name when none is given. A directory is
// loaded as one CUE instance plus every JSON and YAML file in it.
func LoadPath(path string) ([]Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Origin: path, Err: err}
	}
	if !info.IsDir() {
		return loadFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, &LoadError{Origin: path, Err: err}
	}
	var out []Source
	hasCUE := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		file := filepath.Join(path, e.Name())
		switch filepath.Ext(file) {
		case ".json", ".yaml", ".yml":
			srcs, err := loadFile(file)
			if err != nil {
				return nil, err
			}
			out = append(out, srcs...)
		case ".cue":
			hasCUE = true
		}
	}
	if hasCUE {
		srcs, err := loadCUEDir(path)
		if err != nil {
			return nil, err
		}
		out = append(out, srcs...)
	}
	return out, nil
}

func loadFile(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Origin: path, Err: err}
	}
	switch filepath.Ext(path) {
	case ".json":
		return LoadJSON(path, data)
	case ".yaml", ".yml":
		return LoadYAML(path, data)
	case ".cue":
		return LoadCUE(path, data)
	}
	return nil, &LoadError{Origin: path, Err: errors.New("unsupported file type (want .json, .yaml, .yml or .cue)")}
}

// LoadJSON reads one definition or an array of definitions.
func LoadJSON(origin string, data []byte) ([]Source, error) {
	c, err := ir.Canonicalize(data)
	if err != nil {
		return nil, &LoadError{Origin: origin, Err: err}
	}
	if arr, ok := c.Value.(ir.IRArray); ok {
		out := make([]Source, 0, len(arr))
		for i, elem := range arr {
			ec, err := ir.CanonicalizeValue(elem)
			if err != nil {
				return nil, &LoadError{Origin: fmt.Sprintf("%s[%d]", origin, i), Err: err}
			}
			out = append(out, Source{Origin: fmt.Sprintf("%s[%d]", origin, i), Canonical: ec})
		}
		return out, nil
	}
	return []Source{{Origin: origin, Canonical: c}}, nil
}

// LoadYAML reads every document in a YAML stream.
func LoadYAML(origin string, data []byte) ([]Source, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var out []Source
	for i := 0; ; i++ {
		var doc any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		docOrigin := fmt.Sprintf("%s#%d", origin, i)
		if err != nil {
			return nil, &LoadError{Origin: docOrigin, Err: err}
		}
		if doc == nil {
			continue
		}
		c, err := canonicalFromAny(doc)
		if err != nil {
			return nil, &LoadError{Origin: docOrigin, Err: err}
		}
		out = append(out, Source{Origin: docOrigin, Canonical: c})
	}
	return out, nil
}

// LoadCUE reads definitions from a single CUE file.
func LoadCUE(origin string, data []byte) ([]Source, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(origin))
	if err := v.Err(); err != nil {
		return nil, &LoadError{Origin: origin, Err: err}
	}
	return extractCUE(origin, v)
}

func loadCUEDir(dir string) ([]Source, error) {
	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Origin: dir, Err: errors.New("no CUE instances loaded")}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Origin: dir, Err: inst.Err}
	}
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, &LoadError{Origin: dir, Err: err}
	}
	return extractCUE(dir, v)
}

func extractCUE(origin string, v cue.Value) ([]Source, error) {
	defs := v.LookupPath(cue.ParsePath("projection"))
	if !defs.Exists() {
		return nil, &LoadError{Origin: origin, Err: errors.New(`no top-level "projection" struct`)}
	}
	iter, err := defs.Fields()
	if err != nil {
		return nil, &LoadError{Origin: origin, Err: err}
	}

	var out []Source
	for iter.Next() {
		label := iter.Label()
		val := iter.Value()
		at := fmt.Sprintf("%s:projection.%s", origin, label)
		if p := val.Pos(); p.IsValid() {
			at = fmt.Sprintf("%s:%d:%d", p.Filename(), p.Line(), p.Column())
		}

		if !val.LookupPath(cue.ParsePath("name")).Exists() {
			val = val.FillPath(cue.ParsePath("name"), label)
		}
		if !val.LookupPath(cue.ParsePath("namespace")).Exists() {
			val = val.FillPath(cue.ParsePath("namespace"), DefinitionNamespace)
		}

		data, err := val.MarshalJSON()
		if err != nil {
			return nil, &LoadError{Origin: at, Err: err}
		}
		c, err := ir.Canonicalize(data)
		if err != nil {
			return nil, &LoadError{Origin: at, Err: err}
		}
		out = append(out, Source{Origin: at, Canonical: c})
	}
	slices.SortFunc(out, func(a, b Source) int {
		return bytes.Compare(a.Canonical.Bytes, b.Canonical.Bytes)
	})
	return out, nil
}

func canonicalFromAny(doc any) (ir.Canonical, error) {
	v, err := ir.FromAny(normalizeYAML(doc))
	if err != nil {
		return ir.Canonical{}, err
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return ir.Canonical{}, err
	}
	return ir.Canonicalize(data)
}

// normalizeYAML converts map[any]any nodes, which yaml.v3 can produce for
// non-string keys, into map[string]any.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalizeYAML(elem)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[fmt.Sprint(k)] = normalizeYAML(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalizeYAML(elem)
		}
		return out
	}
	return v
}
