package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"

	"github.com/roach88/prism/internal/conform"
	"github.com/roach88/prism/internal/engine"
	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/projection"
	"github.com/roach88/prism/internal/store"
	"github.com/roach88/prism/internal/testutil"
)

// CodeCompositionCycle and CodeEmissionFailed name failures that carry no
// code of their own.
const (
	CodeCompositionCycle = "COMPOSITION_CYCLE"
	CodeEmissionFailed   = "EMISSION_FAILED"
)

// placeholder matches "${name}" references to bound CIDs.
var placeholder = regexp.MustCompile(`\$\{([A-Za-z0-9_.-]+)\}`)

// Harness runs scenarios against a fresh in-memory store.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	logger   *slog.Logger
	bindings map[string]ir.CID
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory store for isolation, with a fixed
// execution ID, so the same scenario always produces the same container.
//
// Execution flow:
// 1. Store resources in order, binding each name to its CID
// 2. Register definitions in order, binding names the same way
// 3. Execute (or materialize) the selected definition
// 4. Evaluate assertions against the outcome
//
// A definition that fails its load-time checks is reported as the
// scenario's execution error, so scenarios can assert on invalid
// definitions. Any other setup failure is returned as an error.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st := store.NewMemory(store.WithLogger(testutil.QuietLogger()))
	defer st.Close()

	h := &Harness{
		store: st,
		engine: engine.New(st,
			engine.WithIDGenerator(testutil.NewFixedIDGenerator(scenario.ExecutionID)),
			engine.WithLogger(testutil.QuietLogger()),
		),
		logger:   testutil.QuietLogger(),
		bindings: map[string]ir.CID{},
	}

	result := NewResult()
	if err := h.storeResources(ctx, scenario.Resources); err != nil {
		return nil, fmt.Errorf("failed to store resources: %w", err)
	}

	target, err := h.defineAll(ctx, scenario)
	var invalid *projection.InvalidError
	switch {
	case errors.As(err, &invalid):
		h.fail(result, err)
	case err != nil:
		return nil, fmt.Errorf("failed to define projections: %w", err)
	default:
		if err := h.execute(ctx, scenario, target, result); err != nil {
			return nil, err
		}
	}
	maps.Copy(result.Bindings, h.bindings)

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) storeResources(ctx context.Context, steps []ResourceStep) error {
	for i, step := range steps {
		var (
			cid ir.CID
			err error
		)
		if step.Content != nil {
			var v ir.IRValue
			if v, err = h.value(step.Content); err != nil {
				return fmt.Errorf("resources[%d] %s: %w", i, step.Name, err)
			}
			cid, err = h.store.PutValue(ctx, v)
		} else {
			cid, err = h.store.Put(ctx, []byte(step.Raw))
		}
		if err != nil {
			return fmt.Errorf("resources[%d] %s: %w", i, step.Name, err)
		}
		h.bindings[step.Name] = cid
		h.logger.Debug("stored resource", "name", step.Name, "cid", cid)
	}
	return nil
}

// defineAll registers every definition and returns the one to run.
func (h *Harness) defineAll(ctx context.Context, s *Scenario) (ir.CID, error) {
	run := s.Run
	if run == "" {
		run = s.Definitions[len(s.Definitions)-1].Name
	}
	for i, step := range s.Definitions {
		v, err := h.value(step.Content)
		if err != nil {
			return "", fmt.Errorf("definitions[%d] %s: %w", i, step.Name, err)
		}
		def, err := h.engine.DefineValue(ctx, v)
		if err != nil {
			return "", err
		}
		h.bindings[step.Name] = def.CID
	}
	return h.bindings[run], nil
}

func (h *Harness) execute(ctx context.Context, s *Scenario, def ir.CID, result *Result) error {
	params := ir.IRObject{}
	if len(s.Params) > 0 {
		v, err := h.value(s.Params)
		if err != nil {
			return fmt.Errorf("params: %w", err)
		}
		params = v.(ir.IRObject)
	}
	req := engine.Request{Definition: def, Params: params}

	if s.Materialize {
		c, emitted, err := h.engine.Materialize(ctx, req, engine.ViewRuntime{})
		if err != nil {
			h.fail(result, err)
			return nil
		}
		result.Container = c
		result.Emitted = &emitted
		return nil
	}

	c, err := h.engine.Execute(ctx, req)
	if err != nil {
		h.fail(result, err)
		return nil
	}
	result.Container = c
	return nil
}

func (h *Harness) fail(result *Result, err error) {
	result.Err = err
	result.Codes = ErrorCodes(err)
	h.logger.Debug("scenario execution failed", "error", err, "codes", result.Codes)
}

// value converts YAML-decoded data to IR and resolves placeholders.
func (h *Harness) value(v any) (ir.IRValue, error) {
	return toIR(v, h.bindings)
}

func toIR(v any, bindings map[string]ir.CID) (ir.IRValue, error) {
	irv, err := ir.FromAny(v)
	if err != nil {
		return nil, err
	}
	return substitute(irv, bindings)
}

// substitute replaces every "${name}" in strings with the bound CID.
func substitute(v ir.IRValue, bindings map[string]ir.CID) (ir.IRValue, error) {
	switch val := v.(type) {
	case ir.IRString:
		var missing []string
		out := placeholder.ReplaceAllStringFunc(string(val), func(m string) string {
			name := placeholder.FindStringSubmatch(m)[1]
			cid, ok := bindings[name]
			if !ok {
				missing = append(missing, name)
				return m
			}
			return string(cid)
		})
		if len(missing) > 0 {
			return nil, fmt.Errorf("unbound name %q", missing[0])
		}
		return ir.IRString(out), nil
	case ir.IRArray:
		out := make(ir.IRArray, len(val))
		for i, elem := range val {
			s, err := substitute(elem, bindings)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	case ir.IRObject:
		out := make(ir.IRObject, len(val))
		for k, elem := range val {
			s, err := substitute(elem, bindings)
			if err != nil {
				return nil, err
			}
			out[k] = s
		}
		return out, nil
	}
	return v, nil
}

// ErrorCodes returns every code err carries, sorted: conformance violation
// codes, the execution error code, the store error kind, definition
// validation codes, and the cycle and emission markers.
func ErrorCodes(err error) []string {
	if err == nil {
		return nil
	}
	var codes []string

	var pe *conform.ProjectionError
	if errors.As(err, &pe) {
		for _, v := range pe.Violations {
			codes = append(codes, string(v.Code))
		}
	}
	var ee *engine.ExecutionError
	if errors.As(err, &ee) {
		codes = append(codes, string(ee.Code))
	}
	var se *store.Error
	if errors.As(err, &se) {
		codes = append(codes, string(se.Kind))
	}
	var ie *projection.InvalidError
	if errors.As(err, &ie) {
		for _, ve := range ie.Errors {
			codes = append(codes, ve.Code)
		}
	}
	if engine.IsCompositionCycle(err) {
		codes = append(codes, CodeCompositionCycle)
	}
	if engine.IsEmissionError(err) {
		codes = append(codes, CodeEmissionFailed)
	}

	slices.Sort(codes)
	return slices.Compact(codes)
}
