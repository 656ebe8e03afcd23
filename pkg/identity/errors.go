package identity

import (
	"fmt"
	"strings"
)

// Conflict records two or more original identifiers resolving to the same
// rewritten identifier.
type Conflict struct {
	NewID       string   `json:"new_id"`
	OriginalIDs []string `json:"original_ids"`
}

// ConflictError aborts the entire run: nothing is persisted when any two
// resources would collapse to the same identifier. Every conflict found is
// listed, not just the first.
type ConflictError struct {
	StackName string     `json:"stack_name"`
	Conflicts []Conflict `json:"conflicts"`
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	lines := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		lines = append(lines, fmt.Sprintf("%s <- {%s}", c.NewID, strings.Join(c.OriginalIDs, ", ")))
	}
	return fmt.Sprintf("identity conflicts in stack %s: %s", e.StackName, strings.Join(lines, "; "))
}

// ExecutionError records a drift strategy that failed while evaluating or
// applying. It is carried in the strategy's application report; the run
// continues unless validate-before-apply escalates it.
type ExecutionError struct {
	Strategy string `json:"strategy"`
	Err      error  `json:"-"`
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("drift strategy %s failed: %v", e.Strategy, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}
