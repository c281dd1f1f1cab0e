package auditlog

import (
	"fmt"

	"github.com/Alanimdeo/conveyor/internal/models"
)

// Moved describes a successful move, with the new name when the entry was renamed
func Moved(directoryID, conditionID int64, name, dest, newName string) models.LogEntry {
	msg := fmt.Sprintf("Moving %s to %s", name, dest)
	if newName != "" && newName != name {
		msg += " as " + newName
	}
	return info(directoryID, conditionID, msg)
}

// Renamed describes an in-place rename
func Renamed(directoryID, conditionID int64, name, newName string) models.LogEntry {
	return info(directoryID, conditionID, fmt.Sprintf("Renaming %s to %s", name, newName))
}

// Skipped describes an entry already at its destination under its final name
func Skipped(directoryID, conditionID int64, name string) models.LogEntry {
	return info(directoryID, conditionID, fmt.Sprintf("Skipping %s: already in destination", name))
}

// MoveFailed describes a failed move or in-place rename
func MoveFailed(directoryID, conditionID int64, name, dest string, err error) models.LogEntry {
	return failure(directoryID, conditionID, fmt.Sprintf("Failed to move %s to %s: %v", name, dest, err))
}

// RenameFailed describes a rename pattern that could not be applied
func RenameFailed(directoryID, conditionID int64, name string, err error) models.LogEntry {
	return failure(directoryID, conditionID, fmt.Sprintf("Failed to rename %s: %v", name, err))
}

func info(directoryID, conditionID int64, msg string) models.LogEntry {
	return models.LogEntry{DirectoryID: directoryID, ConditionID: conditionID, Level: models.LogInfo, Message: msg}
}

func failure(directoryID, conditionID int64, msg string) models.LogEntry {
	return models.LogEntry{DirectoryID: directoryID, ConditionID: conditionID, Level: models.LogError, Message: msg}
}
