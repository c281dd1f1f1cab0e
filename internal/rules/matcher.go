// Package rules selects the rule that applies to a filesystem entry and
// computes the entry's destination filename.
//
// Both operations are pure: they never touch the filesystem or the store,
// so callers are expected to pass the rule set as it is right now.
package rules

import (
	"errors"
	"regexp"
	"strings"

	"github.com/Alanimdeo/conveyor/internal/models"
)

// Match returns the enabled rule of lowest priority that accepts the entry
// kind and whose pattern matches entryName. Equal priorities are broken by
// ascending rule ID. It returns nil when nothing matches.
//
// Rules with an invalid regular expression are skipped; one
// RuleConfigurationError per skipped rule is joined into the returned error,
// which may accompany a valid match.
func Match(entryName string, kind models.FileKind, conditions []models.WatchCondition) (*models.WatchCondition, error) {
	var best *models.WatchCondition
	var errs []error

	for i := range conditions {
		c := &conditions[i]
		if !c.Enabled || !c.Type.Accepts(kind) {
			continue
		}

		matched, err := matchPattern(entryName, c)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !matched {
			continue
		}

		if best == nil || outranks(c, best) {
			best = c
		}
	}

	if best == nil {
		return nil, errors.Join(errs...)
	}
	found := *best
	return &found, errors.Join(errs...)
}

// outranks reports whether a takes precedence over b
func outranks(a, b *models.WatchCondition) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.ID < b.ID
}

// matchPattern tests a single rule's pattern against the entry name
func matchPattern(entryName string, c *models.WatchCondition) (bool, error) {
	if !c.UseRegExp {
		return strings.Contains(entryName, c.Pattern), nil
	}

	re, err := regexp.Compile(c.Pattern)
	if err != nil {
		return false, &RuleConfigurationError{
			ConditionID: c.ID,
			Field:       "pattern",
			Pattern:     c.Pattern,
			Err:         err,
		}
	}
	return re.MatchString(entryName), nil
}
