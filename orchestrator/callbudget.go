package orchestrator

import "fmt"

// callBudget caps backend invocations across one pipeline run. The per-stage
// retry loops already bound themselves, so this is the hard stop that keeps a
// pathological run from looping junior and senior retries past the configured
// ceiling. A max of 0 means uncapped.
type callBudget struct {
	max  int
	used int
}

func newCallBudget(max int) *callBudget {
	return &callBudget{max: max}
}

// take reserves one call, returning an error once the run's budget is spent.
func (b *callBudget) take(role string) error {
	b.used++
	if b.max > 0 && b.used > b.max {
		return fmt.Errorf("model call budget of %d exhausted, %s call denied", b.max, role)
	}
	return nil
}
