package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// testEnv runs commands against one filesystem store.
type testEnv struct {
	t     *testing.T
	dir   string
	files int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("PRISM_OTEL_ENDPOINT", "")
	t.Setenv("PRISM_LOG_LEVEL", "error")
	return &testEnv{t: t, dir: t.TempDir()}
}

// run executes the root command with the store flags prepended.
func (e *testEnv) run(args ...string) (string, error) {
	e.t.Helper()
	return e.runWithInput("", args...)
}

func (e *testEnv) runWithInput(stdin string, args ...string) (string, error) {
	e.t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--backend", "fs", "--dir", filepath.Join(e.dir, "store")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// mustRun executes a command that must succeed.
func (e *testEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, out)
	return out
}

// file writes content under the environment directory and returns its path.
func (e *testEnv) file(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// put stores content and returns its CID.
func (e *testEnv) put(content string) string {
	e.t.Helper()
	e.files++
	return strings.TrimSpace(e.mustRun("put", e.file(fmt.Sprintf("resources/r%d.json", e.files), content)))
}

// specFixture stores a spec with two tests and returns the spec CID.
func (e *testEnv) specFixture() string {
	e.t.Helper()
	spec := e.put(`{"namespace":"spec","title":"Login"}`)
	e.put(fmt.Sprintf(`{"namespace":"test","name":"t-empty-password","spec":%q,"status":"passing"}`, spec))
	e.put(fmt.Sprintf(`{"namespace":"test","name":"t-lockout","spec":%q,"status":"failing"}`, spec))
	return spec
}

const specSuiteDef = `{
	"namespace": "prism.projection",
	"name": "spec-suite",
	"params": {"spec": {"type": "cid", "required": true}},
	"query": {"where": {"cid": "$spec"}, "min": 1, "max": 1},
	"traversal": {"max_depth": 1},
	"roles": {
		"spec": {"match": {"namespace": "spec"}, "min": 1, "max": 1,
		         "schema": {"fields": {"title": "string"}},
		         "follow": {"inbound": true}},
		"test": {"match": {"namespace": "test"}, "min": 1,
		         "references": [{"field": "spec", "role": "spec"}]}
	},
	"transform": [
		{"op": "extract", "role": "test", "into": "tests", "fields": ["name", "status"]},
		{"op": "order", "set": "tests", "by": "name"},
		{"op": "compute", "set": "tests", "fn": "count", "into": "total"},
		{"op": "extract", "role": "spec", "fields": ["title"]},
		{"op": "combine", "sets": ["spec"], "flatten": ["spec"], "into": "subject"}
	]
}`

// invalidDef references an undeclared role and an undeclared parameter.
const invalidDef = `{
	"namespace": "prism.projection",
	"name": "broken",
	"query": {"where": {"cid": "$missing"}},
	"roles": {
		"test": {"match": {"namespace": "test"},
		         "references": [{"field": "spec", "role": "spec"}]}
	}
}`
