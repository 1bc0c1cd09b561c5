package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/prism/internal/ir"
	"github.com/roach88/prism/internal/projection"
	"github.com/roach88/prism/internal/store"
)

// Output is one result a runtime hands back for emission. Value takes
// precedence; when it is nil, Data is canonicalized as resource bytes.
type Output struct {
	Role  string
	Value ir.IRValue
	Data  []byte
}

// EmitRequest writes outputs under the catalog keys of one projection type
// and parameter set.
type EmitRequest struct {
	// Name is the definition name; catalog types are "<Name>/<role>".
	Name       string
	ParamsHash string
	Snapshot   store.Snapshot
	Refresh    string
	Outputs    []Output
}

// EmitRequestFor builds the emit request for a container's outputs.
func EmitRequestFor(c *Container, outputs []Output) EmitRequest {
	return EmitRequest{
		Name:       c.Name,
		ParamsHash: c.ParamsHash,
		Snapshot:   c.Snapshot,
		Refresh:    c.Refresh,
		Outputs:    outputs,
	}
}

// Emitted is one output as it was written.
type Emitted struct {
	Role string
	Key  store.CatalogKey
	CID  ir.CID
}

// EmitResult describes an emission.
type EmitResult struct {
	// Seq is the commit marker after the emission. It is unchanged when
	// everything emitted was already current.
	Seq store.Snapshot

	// Outputs are sorted by role.
	Outputs []Emitted

	Written []ir.CID
	Entries int
}

// CIDs returns the emitted CIDs in role order.
func (r EmitResult) CIDs() []ir.CID {
	out := make([]ir.CID, len(r.Outputs))
	for i, o := range r.Outputs {
		out[i] = o.CID
	}
	return out
}

// CatalogType is the catalog type of a definition's output role.
func CatalogType(name, role string) string {
	return name + "/" + role
}

// Emit writes outputs and their catalog entries in one atomic commit.
//
// Every output is canonicalized before anything is written, so an output
// that has no canonical form aborts the whole emission with nothing
// visible. Emitting content that is already current for its key writes
// nothing and leaves the snapshot unchanged.
func (e *Engine) Emit(ctx context.Context, req EmitRequest) (EmitResult, error) {
	ctx, span := e.tracer.Start(ctx, "prism.Emit",
		trace.WithAttributes(
			attribute.String("definition", req.Name),
			attribute.Int("outputs", len(req.Outputs)),
		),
	)
	defer span.End()

	res, err := e.emit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "emission failed")
		return EmitResult{}, err
	}
	span.SetAttributes(
		attribute.Int64("seq", int64(res.Seq)),
		attribute.Int("written", len(res.Written)),
	)
	e.logger.Debug("emitted",
		"definition", req.Name,
		"seq", res.Seq,
		"written", len(res.Written),
		"entries", res.Entries,
	)
	return res, nil
}

func (e *Engine) emit(ctx context.Context, req EmitRequest) (EmitResult, error) {
	if req.Name == "" {
		return EmitResult{}, &EmissionError{Stage: "validate", Err: errors.New("definition name is required")}
	}
	if req.Refresh == "" {
		req.Refresh = projection.RefreshManual
	}

	outputs := slices.Clone(req.Outputs)
	slices.SortStableFunc(outputs, func(a, b Output) int { return strings.Compare(a.Role, b.Role) })

	batch := store.Batch{}
	result := EmitResult{}
	for i, out := range outputs {
		if out.Role == "" || strings.Contains(out.Role, "/") {
			return EmitResult{}, &EmissionError{Stage: "validate", Role: out.Role, Err: fmt.Errorf("invalid output role %q", out.Role)}
		}
		if i > 0 && outputs[i-1].Role == out.Role {
			return EmitResult{}, &EmissionError{Stage: "validate", Role: out.Role, Err: errors.New("duplicate output role")}
		}

		c, err := canonicalOutput(out)
		if err != nil {
			return EmitResult{}, &EmissionError{Stage: "canonicalize", Role: out.Role, Err: err}
		}
		rec := store.NewRecord(c)
		key := store.CatalogKey{Type: CatalogType(req.Name, out.Role), ParamsHash: req.ParamsHash}
		batch.Records = append(batch.Records, rec)
		batch.Catalog = append(batch.Catalog, store.CatalogEntry{
			Key:      key,
			CID:      rec.CID,
			Snapshot: req.Snapshot,
			Refresh:  req.Refresh,
		})
		result.Outputs = append(result.Outputs, Emitted{Role: out.Role, Key: key, CID: rec.CID})
	}

	if err := ctx.Err(); err != nil {
		return EmitResult{}, &EmissionError{Stage: "commit", Err: err}
	}
	cr, err := e.store.Commit(ctx, batch)
	if err != nil {
		return EmitResult{}, &EmissionError{Stage: "commit", Err: err}
	}
	result.Seq = cr.Seq
	result.Written = cr.Written
	result.Entries = cr.Entries
	return result, nil
}

func canonicalOutput(out Output) (ir.Canonical, error) {
	if out.Value != nil {
		return ir.CanonicalizeValue(out.Value)
	}
	return ir.Canonicalize(out.Data)
}
