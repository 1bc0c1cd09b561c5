package testutil

// FixedIDGenerator returns the same execution ID every time.
//
// This keeps log lines and error messages byte-identical across runs of
// the same scenario. Unlike engine.FixedGenerator, which returns IDs in
// sequence and panics when they run out, this generator never runs out,
// so it suits scenarios whose execution count is not known in advance.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a fixed execution ID generator.
//
// If id is empty, Generate() returns "test-execution".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-execution"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed ID. Implements engine.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
