package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// TaskIndexAudit verifies the mirror consistency of the grant indices.
	TaskIndexAudit = "rbac:index_audit"
	// TaskAuditPrune removes audit log entries past their retention window.
	TaskAuditPrune = "audit:prune"
)

// IndexAuditPayload bounds an index audit run.
type IndexAuditPayload struct {
	// SpaceID limits the audit to one space; zero audits everything.
	SpaceID int64 `json:"space_id"`
}

// NewIndexAuditTask constructs an index audit task.
func NewIndexAuditTask(spaceID int64) (*asynq.Task, error) {
	data, err := json.Marshal(IndexAuditPayload{SpaceID: spaceID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIndexAudit, data), nil
}

// AuditPrunePayload configures audit log retention.
type AuditPrunePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewAuditPruneTask constructs an audit prune task.
func NewAuditPruneTask(retentionDays int) (*asynq.Task, error) {
	data, err := json.Marshal(AuditPrunePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, data), nil
}
