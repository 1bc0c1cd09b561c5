// Package harness provides conformance testing for projection definitions.
//
// A scenario stores resources, registers definitions, runs one execution
// against a fresh in-memory store, and checks the outcome. Scenarios are
// executable contract tests: `prism test <dir>` runs every scenario file in
// a directory.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: login_suite
//	description: "A spec with its tests"
//	resources:
//	  - name: spec
//	    content: { namespace: spec, title: Login }
//	  - name: t1
//	    content: { namespace: test, name: t-empty, spec: "${spec}" }
//	  - name: notes
//	    raw: "free text is stored byte for byte"
//	definitions:
//	  - name: suite
//	    content:
//	      namespace: prism.projection
//	      name: spec-suite
//	      params: { spec: { type: cid, required: true } }
//	      query: { where: { cid: "$spec" } }
//	      roles: { ... }
//	params: { spec: "${spec}" }
//	assertions:
//	  - type: role_count
//	    role: test
//	    count: 1
//	  - type: fields
//	    expect: { total: 1 }
//
// "${name}" inside any string is replaced by the CID bound to name. Resources
// and definitions are bound in the order they appear, so a resource can
// reference an earlier one and a role can nest an earlier definition.
//
// # Assertion Types
//
//   - succeeds: the execution returned a container
//   - error: the execution failed with the given code
//   - role_count: a role has exactly N members
//   - root_count: the query selected exactly N roots
//   - fields: the container fields include the expected values (subset match)
//   - warning: a warning with the given code was recorded (N times if set)
//   - emitted: materialization wrote N outputs
//
// # Deterministic Testing
//
// Containers are derived from content alone, so the same scenario always
// produces byte-identical snapshots. RunWithGolden compares the snapshot
// against testdata/golden/{name}.golden.
package harness
