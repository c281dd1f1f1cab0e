package models

import "time"

// LogLevel tags an audit log entry
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogError LogLevel = "error"
)

// LogEntry is one append-only audit record of a handled filesystem entry
type LogEntry struct {
	ID          int64     `json:"id" yaml:"id"`
	Date        time.Time `json:"date" yaml:"date"`
	DirectoryID int64     `json:"directoryId" yaml:"directory_id"`
	ConditionID int64     `json:"conditionId" yaml:"condition_id"`
	Level       LogLevel  `json:"level" yaml:"level"`
	Message     string    `json:"message" yaml:"message"`
}

// LogQuery filters audit log reads. Zero values mean "no filter".
type LogQuery struct {
	ID           int64
	DirectoryIDs []int64
	ConditionIDs []int64
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}
