package domain

import (
	"strings"
	"time"
)

type Execution struct {
	ID              string
	PipelineID      string
	ProjectID       string
	UserID          string
	Type            ExecutionType
	Status          ExecutionStatus
	ExternalBuildID string
	LogStreamRef    string
	Metadata        map[string]any
	StartedAt       time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ExecutionIDFromBuildID extracts the unique suffix of an external build id.
// Both "project:uuid" ids and full build ARNs are accepted.
func ExecutionIDFromBuildID(buildID string) string {
	buildID = strings.TrimSpace(buildID)
	if i := strings.LastIndex(buildID, ":"); i >= 0 {
		return buildID[i+1:]
	}
	return buildID
}

// MetadataString returns a string metadata value or ""
func (e *Execution) MetadataString(key string) string {
	if e.Metadata == nil {
		return ""
	}
	v, _ := e.Metadata[key].(string)
	return v
}
