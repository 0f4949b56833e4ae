package datasync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/leadfoundry/leadgen-cli/internal/db"
)

// Sync statuses recorded in sync_log.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// SyncEntry is a row in sync_log.
type SyncEntry struct {
	ID         string
	Dataset    string
	Source     string
	Status     string
	RowsSynced int64
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// SyncLog records dataset sync runs in the sync_log table.
type SyncLog struct {
	pool db.Pool
}

// NewSyncLog creates a SyncLog backed by the given pool.
func NewSyncLog(pool db.Pool) *SyncLog {
	return &SyncLog{pool: pool}
}

// Start records the beginning of a run, including which source variant was
// chosen, and returns the run id.
func (s *SyncLog) Start(ctx context.Context, dataset, source string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_log (id, dataset, source, status, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, dataset, source, StatusRunning, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "synclog: start %s", dataset)
	}
	return id, nil
}

// Complete marks a run as finished with its row count.
func (s *SyncLog) Complete(ctx context.Context, id string, rowsSynced int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sync_log SET status = $1, rows_synced = $2, finished_at = $3 WHERE id = $4`,
		StatusComplete, rowsSynced, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "synclog: complete %s", id)
}

// Fail marks a run as failed with the error message.
func (s *SyncLog) Fail(ctx context.Context, id string, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sync_log SET status = $1, error = $2, finished_at = $3 WHERE id = $4`,
		StatusFailed, errMsg, time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "synclog: fail %s", id)
}

// LastSuccess returns when the dataset last completed, nil if never.
func (s *SyncLog) LastSuccess(ctx context.Context, dataset string) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT started_at FROM sync_log
		 WHERE dataset = $1 AND status = $2
		 ORDER BY started_at DESC LIMIT 1`,
		dataset, StatusComplete,
	).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "synclog: last success for %s", dataset)
	}
	return &t, nil
}
