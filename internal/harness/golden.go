package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/prism/internal/ir"
)

// Snapshot renders a result as canonical JSON for golden comparison: the
// container (or the error codes of a failed execution) plus the CIDs of
// anything materialized. Every byte is derived from content, so the same
// scenario always renders the same snapshot.
func Snapshot(scenarioName string, r *Result) ([]byte, error) {
	snap := ir.Obj(ir.O("scenario", ir.IRString(scenarioName)))
	if r.Container != nil {
		snap["container"] = r.Container.Value()
	} else {
		snap["codes"] = ir.Strings(r.Codes...)
	}
	if r.Emitted != nil {
		emitted := make(ir.IRArray, len(r.Emitted.Outputs))
		for i, out := range r.Emitted.Outputs {
			emitted[i] = ir.Obj(
				ir.O("role", ir.IRString(out.Role)),
				ir.O("type", ir.IRString(out.Key.Type)),
				ir.O("cid", ir.IRString(out.CID)),
			)
		}
		snap["emitted"] = emitted
	}
	return ir.MarshalCanonical(snap)
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file. The golden file is stored in testdata/golden/{scenario.Name}.golden
// unless opts override the fixture directory.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...goldie.Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result, opts...)
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result, opts ...goldie.Option) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}
	g := newGoldie(t, opts...)
	g.Assert(t, scenarioName, data)
	return nil
}

func newGoldie(t *testing.T, opts ...goldie.Option) *goldie.Goldie {
	base := []goldie.Option{
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	}
	return goldie.New(t, append(base, opts...)...)
}
