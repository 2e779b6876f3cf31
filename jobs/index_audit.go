package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// auditQuerier is the slice of the pool the audit needs.
type auditQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IndexAuditJob verifies that the two grant indices stay mirror-consistent:
// every role_users row must have a matching user_roles row and vice versa,
// and the space role list must match the roles table. Drift indicates a bug
// in the cascade logic and is reported, never repaired silently.
type IndexAuditJob struct {
	DB     auditQuerier
	Logger *slog.Logger
}

// NewIndexAuditJob initialises the index audit handler.
func NewIndexAuditJob(pool *pgxpool.Pool, logger *slog.Logger) *IndexAuditJob {
	return &IndexAuditJob{DB: pool, Logger: logger}
}

// Handle executes the audit.
func (j *IndexAuditJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.DB == nil {
		return errors.New("index audit: handler not configured")
	}
	var payload IndexAuditPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	logger := j.logger().With(slog.Int64("space_id", payload.SpaceID))
	logger.Info("starting grant index audit")

	drift, err := j.scan(ctx, payload.SpaceID)
	if err != nil {
		logger.Error("index audit failed", slog.Any("error", err))
		return err
	}
	if drift > 0 {
		logger.Warn("grant index drift detected", slog.Int64("rows", drift))
		return nil
	}
	logger.Info("grant indices consistent")
	return nil
}

// driftQueries each count rows present in one index but missing from its
// mirror. A $1 of zero scans every space.
var driftQueries = []string{
	// Forward entries with no reverse mirror.
	`SELECT COUNT(*) FROM role_users ru
	 JOIN roles r ON r.id = ru.role_id
	 WHERE ($1 = 0 OR r.space_id = $1)
	   AND NOT EXISTS (
	     SELECT 1 FROM user_roles ur
	     WHERE ur.role_id = ru.role_id AND ur.account_id = ru.account_id AND ur.space_id = r.space_id)`,
	// Reverse entries with no forward mirror.
	`SELECT COUNT(*) FROM user_roles ur
	 WHERE ($1 = 0 OR ur.space_id = $1)
	   AND NOT EXISTS (
	     SELECT 1 FROM role_users ru
	     WHERE ru.role_id = ur.role_id AND ru.account_id = ur.account_id)`,
	// Grants referencing roles that no longer exist.
	`SELECT COUNT(*) FROM user_roles ur
	 WHERE ($1 = 0 OR ur.space_id = $1)
	   AND NOT EXISTS (SELECT 1 FROM roles r WHERE r.id = ur.role_id)`,
	// Space role list out of sync with the roles table.
	`SELECT COUNT(*) FROM space_roles sr
	 WHERE ($1 = 0 OR sr.space_id = $1)
	   AND NOT EXISTS (SELECT 1 FROM roles r WHERE r.id = sr.role_id AND r.space_id = sr.space_id)`,
	`SELECT COUNT(*) FROM roles r
	 WHERE ($1 = 0 OR r.space_id = $1)
	   AND NOT EXISTS (SELECT 1 FROM space_roles sr WHERE sr.role_id = r.id AND sr.space_id = r.space_id)`,
}

// scan sums the drift counts. spaceID of zero scans every space.
func (j *IndexAuditJob) scan(ctx context.Context, spaceID int64) (int64, error) {
	var total int64
	for _, q := range driftQueries {
		var count int64
		if err := j.DB.QueryRow(ctx, q, spaceID).Scan(&count); err != nil {
			return 0, err
		}
		total += count
	}
	return total, nil
}

func (j *IndexAuditJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
