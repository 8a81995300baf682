package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

// SqliteHistoryStore implements Historian on a sqlite database.
type SqliteHistoryStore struct {
	db *sql.DB
}

// NewSqliteHistoryStore wraps an open sqlite handle.
func NewSqliteHistoryStore(db *sql.DB) *SqliteHistoryStore {
	return &SqliteHistoryStore{db: db}
}

// Bootstrap creates the history tables if they do not exist yet.
func (s *SqliteHistoryStore) Bootstrap(ctx context.Context) error {
	const runsTable = `
	create table if not exists pipeline_runs (
		id integer primary key autoincrement,
		run_id text not null unique,
		change_id text not null,
		services text not null,
		status text not null,
		failed_stage text not null default '',
		stages text not null default '',
		started_at text not null,
		finished_at text not null,
		created_at datetime default current_timestamp
	)`

	const actionsTable = `
	create table if not exists scaling_actions (
		id integer primary key autoincrement,
		service text not null,
		from_replicas integer not null,
		to_replicas integer not null,
		observed real not null,
		reason text not null default '',
		created_at datetime default current_timestamp
	)`

	if _, err := s.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("create pipeline_runs table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, actionsTable); err != nil {
		return fmt.Errorf("create scaling_actions table: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *SqliteHistoryStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordRun inserts one completed pipeline run.
func (s *SqliteHistoryStore) RecordRun(ctx context.Context, rec *RunRecord) error {
	const query = `
	insert into pipeline_runs
		(run_id, change_id, services, status, failed_stage, stages, started_at, finished_at)
	values (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		rec.RunID,
		rec.ChangeID,
		rec.Services,
		rec.Status,
		rec.FailedStage,
		rec.Stages,
		rec.StartedAt.UTC().Format(time.RFC3339),
		rec.FinishedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert pipeline run %s: %w", rec.RunID, err)
	}
	return nil
}

// RecordScalingAction inserts one applied scale command.
func (s *SqliteHistoryStore) RecordScalingAction(ctx context.Context, rec *ScalingAction) error {
	const query = `
	insert into scaling_actions
		(service, from_replicas, to_replicas, observed, reason, created_at)
	values (?, ?, ?, ?, ?, coalesce(?, current_timestamp))`

	var createdAt any
	if rec.CreatedAt != "" {
		createdAt = rec.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.Service,
		rec.FromReplicas,
		rec.ToReplicas,
		rec.Observed,
		rec.Reason,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert scaling action for %s: %w", rec.Service, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SqliteHistoryStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	const query = `
	select id, run_id, change_id, services, status, failed_stage, stages, started_at, finished_at, created_at
	from pipeline_runs
	order by id desc
	limit ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pipeline runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var startedAt, finishedAt string
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.ChangeID, &rec.Services,
			&rec.Status, &rec.FailedStage, &rec.Stages, &startedAt, &finishedAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pipeline run: %w", err)
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		rec.FinishedAt, _ = time.Parse(time.RFC3339, finishedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListScalingActions returns the most recent scale commands for a
// service, newest first. An empty service matches all services.
func (s *SqliteHistoryStore) ListScalingActions(ctx context.Context, service string, limit int) ([]ScalingAction, error) {
	const query = `
	select id, service, from_replicas, to_replicas, observed, reason, created_at
	from scaling_actions
	where (? = '' or service = ?)
	order by id desc
	limit ?`

	rows, err := s.db.QueryContext(ctx, query, service, service, limit)
	if err != nil {
		return nil, fmt.Errorf("list scaling actions: %w", err)
	}
	defer rows.Close()

	var out []ScalingAction
	for rows.Next() {
		var rec ScalingAction
		if err := rows.Scan(&rec.ID, &rec.Service, &rec.FromReplicas, &rec.ToReplicas,
			&rec.Observed, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scaling action: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes history rows created before olderThan and reports how
// many were removed.
func (s *SqliteHistoryStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := olderThan.UTC().Format(sqliteTimeLayout)

	var total int64
	for _, table := range []string{"pipeline_runs", "scaling_actions"} {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf("delete from %s where created_at < ?", table), cutoff)
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("prune %s rows affected: %w", table, err)
		}
		total += n
	}
	return total, nil
}
