package rules

import (
	"errors"
	"fmt"
)

// RuleConfigurationError reports a rule whose pattern cannot be used.
// It skips the offending rule for one event and never stops a watcher.
type RuleConfigurationError struct {
	ConditionID int64  // Rule the pattern belongs to (0 for a bare rename pattern)
	Field       string // "pattern" or "renamePattern"
	Pattern     string
	Err         error
}

// Error implements the error interface for RuleConfigurationError.
func (e *RuleConfigurationError) Error() string {
	if e.ConditionID != 0 {
		return fmt.Sprintf("condition #%d: invalid %s %q: %v", e.ConditionID, e.Field, e.Pattern, e.Err)
	}
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Pattern, e.Err)
}

// Unwrap returns the underlying regexp error.
func (e *RuleConfigurationError) Unwrap() error {
	return e.Err
}

// IsRuleConfigurationError checks if the error is or wraps a RuleConfigurationError.
func IsRuleConfigurationError(err error) bool {
	if err == nil {
		return false
	}
	var rce *RuleConfigurationError
	return errors.As(err, &rce)
}
