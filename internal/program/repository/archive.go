package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/progrunhq/progrun/internal/program/model"
)

// ExecutionArchive stores finished executions for analytics queries that the
// document store is a poor fit for.
type ExecutionArchive interface {
	Archive(ctx context.Context, execution *model.Execution) error
	Stats(ctx context.Context, programID string, period time.Duration) (*ExecutionStats, error)
	ListRecent(ctx context.Context, limit int) ([]*ArchivedExecution, error)
}

// ExecutionStats holds aggregate execution statistics
type ExecutionStats struct {
	TotalExecutions   int64
	SuccessCount      int64
	FailureCount      int64
	StoppedCount      int64
	AvgDurationMs     int64
	MinDurationMs     int64
	MaxDurationMs     int64
	SuccessRate       float64
	ExecutionsPerHour float64
}

// ArchivedExecution is the flattened row shape of an archived execution
type ArchivedExecution struct {
	ID          string
	ProgramID   string
	VersionID   string
	UserID      string
	Status      string
	ExitCode    int
	ErrorCode   string
	DurationMs  int64
	CPUTime     float64
	MemoryUsed  uint64
	Parameters  map[string]interface{}
	StartedAt   time.Time
	CompletedAt *time.Time
}

// PostgresExecutionArchive implements ExecutionArchive with PostgreSQL
type PostgresExecutionArchive struct {
	db *sql.DB
}

// NewPostgresExecutionArchive creates a new PostgreSQL execution archive
func NewPostgresExecutionArchive(db *sql.DB) *PostgresExecutionArchive {
	return &PostgresExecutionArchive{db: db}
}

// OpenPostgres opens the archive database with sane pool settings
func OpenPostgres(dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// Archive inserts a finished execution
func (a *PostgresExecutionArchive) Archive(ctx context.Context, execution *model.Execution) error {
	parameters, _ := json.Marshal(execution.Parameters)

	query := `
		INSERT INTO execution_archive (
			id, program_id, version_id, user_id, status,
			exit_code, error_code, duration_ms,
			cpu_time, memory_used, parameters,
			started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`

	_, err := a.db.ExecContext(ctx, query,
		execution.ID, execution.ProgramID, execution.VersionID, execution.UserID, execution.Status,
		execution.Results.ExitCode, execution.Results.ErrorCode, execution.Duration().Milliseconds(),
		execution.ResourceUsage.CPUTime, int64(execution.ResourceUsage.MemoryUsed), parameters,
		execution.StartedAt, execution.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive execution: %w", err)
	}
	return nil
}

// Stats returns aggregate statistics for a program over a period. An empty
// programID aggregates over all programs.
func (a *PostgresExecutionArchive) Stats(ctx context.Context, programID string, period time.Duration) (*ExecutionStats, error) {
	cutoff := time.Now().Add(-period)

	query := `
		SELECT
			COUNT(*) as total,
			COUNT(*) FILTER (WHERE status = 'completed') as success,
			COUNT(*) FILTER (WHERE status = 'failed') as failed,
			COUNT(*) FILTER (WHERE status = 'stopped') as stopped,
			COALESCE(AVG(duration_ms), 0) as avg_duration,
			COALESCE(MIN(duration_ms), 0) as min_duration,
			COALESCE(MAX(duration_ms), 0) as max_duration
		FROM execution_archive
		WHERE ($1 = '' OR program_id = $1)
		AND started_at >= $2`

	var stats ExecutionStats
	err := a.db.QueryRowContext(ctx, query, programID, cutoff).Scan(
		&stats.TotalExecutions, &stats.SuccessCount, &stats.FailureCount, &stats.StoppedCount,
		&stats.AvgDurationMs, &stats.MinDurationMs, &stats.MaxDurationMs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution stats: %w", err)
	}

	if stats.TotalExecutions > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(stats.TotalExecutions)
		stats.ExecutionsPerHour = float64(stats.TotalExecutions) / period.Hours()
	}

	return &stats, nil
}

// ListRecent lists the most recently archived executions
func (a *PostgresExecutionArchive) ListRecent(ctx context.Context, limit int) ([]*ArchivedExecution, error) {
	query := `
		SELECT id, program_id, version_id, user_id, status,
			exit_code, error_code, duration_ms,
			cpu_time, memory_used, parameters,
			started_at, completed_at
		FROM execution_archive
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := a.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived executions: %w", err)
	}
	defer rows.Close()

	var executions []*ArchivedExecution
	for rows.Next() {
		var e ArchivedExecution
		var parameters []byte
		var memoryUsed int64

		err := rows.Scan(
			&e.ID, &e.ProgramID, &e.VersionID, &e.UserID, &e.Status,
			&e.ExitCode, &e.ErrorCode, &e.DurationMs,
			&e.CPUTime, &memoryUsed, &parameters,
			&e.StartedAt, &e.CompletedAt,
		)
		if err != nil {
			return nil, err
		}

		e.MemoryUsed = uint64(memoryUsed)
		json.Unmarshal(parameters, &e.Parameters)
		executions = append(executions, &e)
	}

	return executions, rows.Err()
}
