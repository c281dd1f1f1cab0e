package rules

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Alanimdeo/conveyor/internal/models"
)

// Transform computes the destination filename for originalName.
//
// A nil rename returns originalName unchanged. A regular-expression rename
// replaces every match ($1-style expansion applies); a literal rename
// replaces the first occurrence only. With ExcludeExtension the last
// extension is held out of the replacement and appended afterwards.
func Transform(originalName string, rename *models.RenamePattern) (string, error) {
	if rename == nil {
		return originalName, nil
	}

	base, ext := originalName, ""
	if rename.ExcludeExtension {
		base, ext = SplitExtension(originalName)
	}

	if !rename.UseRegExp {
		return strings.Replace(base, rename.Pattern, rename.ReplaceValue, 1) + ext, nil
	}

	re, err := regexp.Compile(rename.Pattern)
	if err != nil {
		return "", &RuleConfigurationError{
			Field:   "renamePattern",
			Pattern: rename.Pattern,
			Err:     err,
		}
	}
	return re.ReplaceAllString(base, rename.ReplaceValue) + ext, nil
}

// SplitExtension splits name into base and last extension ("report.tar.gz"
// gives "report.tar" and ".gz"). A name whose only dot is the leading one,
// such as ".bashrc", has no extension.
func SplitExtension(name string) (string, string) {
	ext := filepath.Ext(name)
	if ext == name {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}
