package domain

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

type Deployment struct {
	ID                     uuid.UUID
	PipelineID             string
	UserID                 string
	ProjectID              string
	Status                 DeploymentStatus
	DeploymentType         DeploymentType
	DeployURL              string
	OrchestratorServiceRef string
	TargetGroupRef         string
	LoadBalancerRef        string
	ImageURI               string
	ErrorMessage           string
	Metadata               DeploymentMetadata
	// Version is bumped on every persisted change and guards conditional updates
	Version     int64
	StartedAt   time.Time
	DeployedAt  *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func NewDeployment(pipelineID, projectID, userID string, deploymentType DeploymentType) Deployment {
	return Deployment{
		ID:             uuid.New(),
		PipelineID:     pipelineID,
		ProjectID:      projectID,
		UserID:         userID,
		Status:         DeploymentStatusPending,
		DeploymentType: deploymentType,
		StartedAt:      time.Now().UTC(),
	}
}

// TaskAudit records a single orchestrator task observation
type TaskAudit struct {
	EventID        string    `json:"event_id,omitempty"`
	TaskRef        string    `json:"task_ref"`
	TaskDefinition string    `json:"task_definition,omitempty"`
	ExitCode       *int      `json:"exit_code,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	ObservedAt     time.Time `json:"observed_at"`
}

// TargetAudit records a single load balancer target health observation
type TargetAudit struct {
	EventID    string    `json:"event_id,omitempty"`
	TargetID   string    `json:"target_id"`
	Port       int       `json:"port,omitempty"`
	State      string    `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// DeploymentMetadata is the merge-only bag attached to a deployment.
// Scalars are overwritten only when a patch sets them, lists only ever grow.
type DeploymentMetadata struct {
	TaskDefinition   string         `json:"task_definition,omitempty"`
	DesiredCount     *int           `json:"desired_count,omitempty"`
	RunningCount     *int           `json:"running_count,omitempty"`
	PendingCount     *int           `json:"pending_count,omitempty"`
	SteadyStateAt    *time.Time     `json:"steady_state_at,omitempty"`
	RunningTasks     []TaskAudit    `json:"running_tasks,omitempty"`
	StoppedTasks     []TaskAudit    `json:"stopped_tasks,omitempty"`
	HealthyTargets   []TargetAudit  `json:"healthy_targets,omitempty"`
	UnhealthyTargets []TargetAudit  `json:"unhealthy_targets,omitempty"`
	Extra            map[string]any `json:"extra,omitempty"`
}

// Merge returns m with patch folded in. Neither argument is modified.
func (m DeploymentMetadata) Merge(patch DeploymentMetadata) DeploymentMetadata {
	out := m
	if patch.TaskDefinition != "" {
		out.TaskDefinition = patch.TaskDefinition
	}
	if patch.DesiredCount != nil {
		out.DesiredCount = patch.DesiredCount
	}
	if patch.RunningCount != nil {
		out.RunningCount = patch.RunningCount
	}
	if patch.PendingCount != nil {
		out.PendingCount = patch.PendingCount
	}
	if patch.SteadyStateAt != nil && out.SteadyStateAt == nil {
		out.SteadyStateAt = patch.SteadyStateAt
	}
	out.RunningTasks = appendTasks(m.RunningTasks, patch.RunningTasks)
	out.StoppedTasks = appendTasks(m.StoppedTasks, patch.StoppedTasks)
	out.HealthyTargets = appendTargets(m.HealthyTargets, patch.HealthyTargets)
	out.UnhealthyTargets = appendTargets(m.UnhealthyTargets, patch.UnhealthyTargets)
	if len(patch.Extra) > 0 {
		out.Extra = deepMerge(m.Extra, patch.Extra)
	}
	return out
}

// IsEmpty reports whether the patch carries nothing to merge
func (m DeploymentMetadata) IsEmpty() bool {
	return m.TaskDefinition == "" &&
		m.DesiredCount == nil && m.RunningCount == nil && m.PendingCount == nil &&
		m.SteadyStateAt == nil &&
		len(m.RunningTasks) == 0 && len(m.StoppedTasks) == 0 &&
		len(m.HealthyTargets) == 0 && len(m.UnhealthyTargets) == 0 &&
		len(m.Extra) == 0
}

// entries that carry an already recorded event id are re-deliveries and are skipped
func appendTasks(existing, added []TaskAudit) []TaskAudit {
	out := append([]TaskAudit(nil), existing...)
	for _, entry := range added {
		if entry.EventID != "" && containsTaskEvent(out, entry.EventID) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func containsTaskEvent(entries []TaskAudit, eventID string) bool {
	for _, e := range entries {
		if e.EventID == eventID {
			return true
		}
	}
	return false
}

func appendTargets(existing, added []TargetAudit) []TargetAudit {
	out := append([]TargetAudit(nil), existing...)
	for _, entry := range added {
		if entry.EventID != "" && containsTargetEvent(out, entry.EventID) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func containsTargetEvent(entries []TargetAudit, eventID string) bool {
	for _, e := range entries {
		if e.EventID == eventID {
			return true
		}
	}
	return false
}

func deepMerge(dst, src map[string]any) map[string]any {
	out := maps.Clone(dst)
	if out == nil {
		out = make(map[string]any, len(src))
	}
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := out[k].(map[string]any)
		if srcIsMap && dstIsMap {
			out[k] = deepMerge(dstMap, srcMap)
			continue
		}
		out[k] = v
	}
	return out
}
