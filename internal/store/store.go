// Package store persists pipeline run and scaling action history.
// Persistence is optional: a nil *Persistence disables it and the core
// operates purely in memory.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// RunRecord is one completed pipeline run.
type RunRecord struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	ChangeID    string    `json:"change_id"`
	Services    string    `json:"services"`
	Status      string    `json:"status"`
	FailedStage string    `json:"failed_stage"`
	Stages      string    `json:"stages"` // stage results as a JSON document
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	CreatedAt   string    `json:"created_at"`
}

// ScalingAction is one applied scale command.
type ScalingAction struct {
	ID           int64   `json:"id"`
	Service      string  `json:"service"`
	FromReplicas int     `json:"from_replicas"`
	ToReplicas   int     `json:"to_replicas"`
	Observed     float64 `json:"observed"`
	Reason       string  `json:"reason"`
	CreatedAt    string  `json:"created_at"`
}

// Historian records and queries deployment and scaling history.
type Historian interface {
	Bootstrap(context.Context) error
	Ping(context.Context) error
	RecordRun(context.Context, *RunRecord) error
	RecordScalingAction(context.Context, *ScalingAction) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	ListScalingActions(ctx context.Context, service string, limit int) ([]ScalingAction, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// Persistence groups the repositories behind a single optional handle.
type Persistence struct {
	History Historian
}

// New opens the sqlite database at path and returns the persistence
// handle, or nil when persistence is disabled.
func New(enabled bool, path string) (*Persistence, error) {
	if !enabled {
		return nil, nil
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	return &Persistence{
		History: NewSqliteHistoryStore(db),
	}, nil
}
