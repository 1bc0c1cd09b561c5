package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxNodes is the default node budget per execution, nested
// compositions included.
const DefaultMaxNodes = 10000

// NodeBudget tracks how many graph nodes one execution has materialized
// and enforces a ceiling.
//
// Each top-level execution has its own NodeBudget; nested compositions
// charge their parent's budget, so deep nesting cannot multiply the cost
// of a single request. Parallel executions are isolated and each get one.
//
// The per-walk max_nodes of a definition bounds a single traversal; the
// budget bounds the whole composition tree.
type NodeBudget struct {
	limit   int
	current int
}

// NewNodeBudget creates a budget with the given limit. A limit of zero or
// less disables enforcement.
func NewNodeBudget(limit int) *NodeBudget {
	return &NodeBudget{limit: limit}
}

// Charge adds n nodes and validates against the limit.
func (b *NodeBudget) Charge(n int) error {
	b.current += n
	if b.limit > 0 && b.current > b.limit {
		return &BudgetExceededError{Nodes: b.current, Limit: b.limit}
	}
	return nil
}

// Remaining returns how many nodes may still be charged, or -1 when the
// budget is unlimited.
func (b *NodeBudget) Remaining() int {
	if b.limit <= 0 {
		return -1
	}
	return max(b.limit-b.current, 0)
}

// Current returns the nodes charged so far.
func (b *NodeBudget) Current() int {
	return b.current
}

// BudgetExceededError is returned when an execution exceeds its node budget.
type BudgetExceededError struct {
	Nodes int
	Limit int
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("node budget exceeded: %d nodes > %d limit", e.Nodes, e.Limit)
}

// IsBudgetExceeded returns true if the error is a BudgetExceededError.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}
