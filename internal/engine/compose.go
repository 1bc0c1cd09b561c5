package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/prism/internal/ir"
)

// Step is one stage of a sequential composition.
type Step struct {
	Request Request

	// Input names the parameter that receives the previous step's emitted
	// CIDs. Ignored for the first step.
	Input string

	// Runtime produces the outputs to emit. Nil means ViewRuntime.
	Runtime Runtime
}

// StepResult is the outcome of one completed step.
type StepResult struct {
	Container *Container
	Emitted   EmitResult
}

// Sequence runs steps in order. Each step's outputs are emitted before the
// next step starts; the next step runs at the snapshot that emission
// produced and receives the emitted CIDs as its Input parameter.
//
// A failing step stops the sequence. Emissions of the steps before it stay
// committed; the returned results cover them.
func (e *Engine) Sequence(ctx context.Context, steps []Step) ([]StepResult, error) {
	ctx, span := e.tracer.Start(ctx, "prism.Sequence",
		trace.WithAttributes(attribute.Int("steps", len(steps))),
	)
	defer span.End()

	var (
		results []StepResult
		tr      compositionTrace
		prev    *EmitResult
	)
	for i, st := range steps {
		req := st.Request
		if prev != nil {
			def, err := e.Load(ctx, req.Definition)
			if err != nil {
				return results, e.stepFailed(span, &CompositionError{Trace: append(tr.cids(), req.Definition), Mode: ModeSequence, Step: i, Err: err})
			}
			if st.Input == "" {
				err := fmt.Errorf("step %d has no input parameter", i)
				return results, e.stepFailed(span, &CompositionError{Trace: append(tr.cids(), def.CID), Mode: ModeSequence, Step: i, Err: err})
			}
			params := make(ir.IRObject, len(req.Params)+1)
			for k, v := range req.Params {
				params[k] = v
			}
			params[st.Input] = stepInput(def.Params[st.Input].Type, prev.CIDs())
			req.Params = params
			req.Snapshot = At(prev.Seq)
		}
		tr = append(tr, req.Definition)

		rt := st.Runtime
		if rt == nil {
			rt = ViewRuntime{}
		}
		c, res, err := e.Materialize(ctx, req, rt)
		if err != nil {
			return results, e.stepFailed(span, &CompositionError{Trace: tr.cids(), Mode: ModeSequence, Step: i, Err: err})
		}
		results = append(results, StepResult{Container: c, Emitted: res})
		prev = &results[len(results)-1].Emitted
	}
	return results, nil
}

// stepInput shapes emitted CIDs for the receiving parameter's type.
func stepInput(typ string, cids []ir.CID) ir.IRValue {
	if typ == "cid" && len(cids) == 1 {
		return ir.IRString(cids[0])
	}
	return cidArray(cids)
}

func (e *Engine) stepFailed(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "composition failed")
	e.logger.Debug("composition failed", "error", err)
	return err
}

// Parallel runs isolated executions concurrently. Requests without a
// snapshot are pinned to the same head, so all results describe one store
// state. Each execution has its own node budget.
//
// Results are delivered by index. When executions fail, the error of the
// lowest failing index is returned, so the outcome does not depend on
// scheduling.
func (e *Engine) Parallel(ctx context.Context, reqs []Request) ([]*Container, error) {
	ctx, span := e.tracer.Start(ctx, "prism.Parallel",
		trace.WithAttributes(attribute.Int("requests", len(reqs))),
	)
	defer span.End()

	head, err := e.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]*Container, len(reqs))
	errs := make([]error, len(reqs))

	var eg errgroup.Group
	if e.concurrency > 0 {
		eg.SetLimit(e.concurrency)
	}
	for i, req := range reqs {
		if req.Snapshot == nil {
			req.Snapshot = At(head)
		}
		eg.Go(func() error {
			results[i], errs[i] = e.Execute(ctx, req)
			return nil
		})
	}
	_ = eg.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		var ce *CompositionError
		if !errors.As(err, &ce) {
			err = &CompositionError{Trace: []ir.CID{reqs[i].Definition}, Mode: ModeParallel, Step: i, Err: err}
		}
		return nil, e.stepFailed(span, err)
	}
	return results, nil
}

// ParallelMerged runs Parallel and merges the results.
func (e *Engine) ParallelMerged(ctx context.Context, reqs []Request) (*Container, error) {
	cs, err := e.Parallel(ctx, reqs)
	if err != nil {
		return nil, err
	}
	return MergeContainers(cs), nil
}

