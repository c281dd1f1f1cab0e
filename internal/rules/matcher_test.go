package rules

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/Alanimdeo/conveyor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rule(id int64, priority int, kind models.FileKind, regex bool, pattern string) models.WatchCondition {
	return models.WatchCondition{
		ID:          id,
		DirectoryID: 1,
		Enabled:     true,
		Priority:    priority,
		Type:        kind,
		UseRegExp:   regex,
		Pattern:     pattern,
		Destination: fmt.Sprintf("/dest/%d", id),
	}
}

func TestMatch(t *testing.T) {
	disabled := rule(9, -100, models.KindAll, false, "")
	disabled.Enabled = false

	tests := []struct {
		name   string
		entry  string
		kind   models.FileKind
		rules  []models.WatchCondition
		wantID int64 // 0 = no match
	}{
		{
			name:   "lowest priority wins",
			entry:  "report.tmp",
			kind:   models.KindFile,
			rules:  []models.WatchCondition{rule(2, 10, models.KindAll, false, ""), rule(1, 0, models.KindAll, true, `\.tmp$`)},
			wantID: 1,
		},
		{
			name:   "falls through to catch-all",
			entry:  "report.pdf",
			kind:   models.KindFile,
			rules:  []models.WatchCondition{rule(1, 0, models.KindAll, true, `\.tmp$`), rule(2, 10, models.KindAll, false, "")},
			wantID: 2,
		},
		{
			name:   "equal priority breaks ties by id",
			entry:  "a.txt",
			kind:   models.KindFile,
			rules:  []models.WatchCondition{rule(7, 5, models.KindAll, false, "a"), rule(3, 5, models.KindAll, false, "txt")},
			wantID: 3,
		},
		{
			name:   "kind filter excludes files",
			entry:  "photos",
			kind:   models.KindFile,
			rules:  []models.WatchCondition{rule(1, 0, models.KindDirectory, false, "photos")},
			wantID: 0,
		},
		{
			name:   "kind filter accepts directories",
			entry:  "photos",
			kind:   models.KindDirectory,
			rules:  []models.WatchCondition{rule(1, 0, models.KindDirectory, false, "photos"), rule(2, 1, models.KindFile, false, "")},
			wantID: 1,
		},
		{
			name:   "disabled rules are ignored",
			entry:  "anything",
			kind:   models.KindFile,
			rules:  []models.WatchCondition{disabled},
			wantID: 0,
		},
		{
			name:   "substring match is literal",
			entry:  "a.b.c",
			kind:   models.KindFile,
			rules:  []models.WatchCondition{rule(1, 0, models.KindAll, false, ".*")},
			wantID: 0,
		},
		{
			name:   "regexp search is unanchored",
			entry:  "invoice-2024.pdf",
			kind:   models.KindFile,
			rules:  []models.WatchCondition{rule(1, 0, models.KindFile, true, `\d{4}`)},
			wantID: 1,
		},
		{
			name:   "empty rule set",
			entry:  "a",
			kind:   models.KindFile,
			rules:  nil,
			wantID: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(tt.entry, tt.kind, tt.rules)
			require.NoError(t, err)
			if tt.wantID == 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestMatch_InvalidRegexpSkipsRule(t *testing.T) {
	conditions := []models.WatchCondition{
		rule(1, 0, models.KindAll, true, "*.tmp"),
		rule(2, 10, models.KindAll, false, ""),
	}

	got, err := Match("report.tmp", models.KindFile, conditions)
	require.Error(t, err)
	assert.True(t, IsRuleConfigurationError(err))
	assert.Contains(t, err.Error(), "condition #1")

	require.NotNil(t, got, "valid rules must still match")
	assert.Equal(t, int64(2), got.ID)
}

func TestMatch_ReturnsCopy(t *testing.T) {
	conditions := []models.WatchCondition{rule(1, 0, models.KindAll, false, "")}

	got, err := Match("a", models.KindFile, conditions)
	require.NoError(t, err)
	got.Destination = "/changed"

	assert.Equal(t, "/dest/1", conditions[0].Destination)
}

// For rule sets with unique priorities the result is the unique minimum
// priority rule among those whose kind and pattern match.
func TestMatch_UniquePriorityProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	patterns := []string{"", "a", "b", "tmp", ".pdf", "zz"}
	kinds := []models.FileKind{models.KindAll, models.KindFile, models.KindDirectory}
	names := []string{"a.tmp", "b.pdf", "report", "zz-top.pdf", "photos"}

	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(6)
		priorities := rng.Perm(50)[:n]
		conditions := make([]models.WatchCondition, n)
		for i := 0; i < n; i++ {
			conditions[i] = rule(int64(i+1), priorities[i], kinds[rng.Intn(len(kinds))], false, patterns[rng.Intn(len(patterns))])
			conditions[i].Enabled = rng.Intn(4) != 0
		}
		name := names[rng.Intn(len(names))]
		kind := models.KindFile
		if rng.Intn(2) == 0 {
			kind = models.KindDirectory
		}

		var want *models.WatchCondition
		for i := range conditions {
			c := &conditions[i]
			if !c.Enabled || !c.Type.Accepts(kind) || !strings.Contains(name, c.Pattern) {
				continue
			}
			if want == nil || c.Priority < want.Priority {
				want = c
			}
		}

		got, err := Match(name, kind, conditions)
		require.NoError(t, err)
		if want == nil {
			assert.Nil(t, got, "iteration %d", iter)
			continue
		}
		require.NotNil(t, got, "iteration %d", iter)
		assert.Equal(t, want.ID, got.ID, "iteration %d", iter)
	}
}
