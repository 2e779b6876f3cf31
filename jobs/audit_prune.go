package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultRetentionDays = 90

// AuditPruneJob deletes audit log entries older than the retention window.
type AuditPruneJob struct {
	Pool   *pgxpool.Pool
	Logger *slog.Logger
}

// NewAuditPruneJob initialises the audit prune handler.
func NewAuditPruneJob(pool *pgxpool.Pool, logger *slog.Logger) *AuditPruneJob {
	return &AuditPruneJob{Pool: pool, Logger: logger}
}

// Handle executes the prune.
func (j *AuditPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("audit prune: handler not configured")
	}
	var payload AuditPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionDays <= 0 {
		payload.RetentionDays = defaultRetentionDays
	}

	tag, err := j.Pool.Exec(ctx,
		`DELETE FROM audit_logs WHERE occurred_at < NOW() - make_interval(days => $1)`, payload.RetentionDays)
	if err != nil {
		return err
	}

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("audit logs pruned",
		slog.Int("retention_days", payload.RetentionDays),
		slog.Int64("deleted", tag.RowsAffected()))
	return nil
}
