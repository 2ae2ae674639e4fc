package session

import "fmt"

// RuleError wraps a failure inside one rule execution with enough context
// to correlate it with the triggering event in the logs.
type RuleError struct {
	Rule      string
	FlowToken string
	Err       error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s (flow=%s): %v", e.Rule, e.FlowToken, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}
