// Copyright 2025 Fleetbridge
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
)

// Store persists executions in PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// NewStore creates the execution store and ensures its schema exists.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{
		db:     db,
		logger: log.New(os.Stdout, "[EXECUTIONS] ", log.LstdFlags),
	}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS executions (
		id VARCHAR(36) PRIMARY KEY,
		tenant_id BIGINT NOT NULL,
		instance_id BIGINT NOT NULL,
		commands JSONB NOT NULL,
		is_chain BOOLEAN NOT NULL DEFAULT FALSE,
		source VARCHAR(16) NOT NULL DEFAULT 'manual',
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		total_steps INTEGER NOT NULL DEFAULT 0,
		completed_steps INTEGER NOT NULL DEFAULT 0,
		output TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		pid INTEGER NOT NULL DEFAULT 0,
		is_retry BOOLEAN NOT NULL DEFAULT FALSE,
		retry_count INTEGER NOT NULL DEFAULT 0,
		original_id VARCHAR(36) NOT NULL DEFAULT '',
		dispatched_at TIMESTAMPTZ,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_executions_tenant ON executions(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const executionColumns = `id, tenant_id, instance_id, commands, is_chain, source,
	status, total_steps, completed_steps, output, error_message, pid,
	is_retry, retry_count, original_id,
	dispatched_at, started_at, finished_at, created_at, updated_at`

// Create records a new pending execution. An id is assigned when the caller
// did not set one, and TotalSteps defaults to the batch length.
func (s *Store) Create(ctx context.Context, e *Execution) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	if e.Source == "" {
		e.Source = SourceManual
	}
	if len(e.Commands) == 0 {
		return fmt.Errorf("execution %s has no commands", e.ID)
	}
	if e.TotalSteps == 0 {
		e.TotalSteps = len(e.Commands)
	}

	commands, err := json.Marshal(e.Commands)
	if err != nil {
		return fmt.Errorf("failed to encode commands: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO executions (id, tenant_id, instance_id, commands, is_chain,
			source, status, total_steps, is_retry, retry_count, original_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		e.ID, e.TenantID, e.InstanceID, commands, e.IsChain,
		string(e.Source), string(e.Status), e.TotalSteps,
		e.IsRetry, e.RetryCount, e.OriginalID,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create execution %s: %w", e.ID, err)
	}
	return nil
}

// Get returns one execution by id.
func (s *Store) Get(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id=$1`, id)
	return scanExecution(row)
}

// Filter narrows List. Zero values mean no constraint.
type Filter struct {
	TenantID int64
	Status   ExecutionStatus
	Limit    int
}

// List returns executions newest first, optionally filtered by tenant and
// status.
func (s *Store) List(ctx context.Context, f Filter) ([]*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE 1=1`
	args := []interface{}{}
	if f.TenantID != 0 {
		args = append(args, f.TenantID)
		query += fmt.Sprintf(" AND tenant_id=$%d", len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// MarkDispatched stamps the moment the application server accepted the
// webhook.
func (s *Store) MarkDispatched(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET dispatched_at=NOW(), updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark execution %s dispatched: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExecutionNotFound
	}
	return nil
}

// CallbackUpdate carries one progress report for an execution. Empty output
// and error strings leave the stored values alone, a zero PID keeps the
// previously reported one, and CompletedSteps only ever moves forward.
type CallbackUpdate struct {
	Status         ExecutionStatus
	Output         string
	ErrorMessage   string
	PID            int
	CompletedSteps int
}

// ApplyCallback advances an execution's lifecycle from a progress report.
// Terminal executions are never moved again: a late or replayed callback
// against a completed or failed execution returns ErrAlreadyTerminal.
func (s *Store) ApplyCallback(ctx context.Context, id string, u CallbackUpdate) (*Execution, error) {
	if !u.Status.Valid() {
		return nil, fmt.Errorf("unknown execution status %q", u.Status)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE executions SET
			status=$2,
			output=CASE WHEN $3 <> '' THEN $3 ELSE output END,
			error_message=CASE WHEN $4 <> '' THEN $4 ELSE error_message END,
			pid=CASE WHEN $5 > 0 THEN $5 ELSE pid END,
			completed_steps=CASE WHEN $6 > completed_steps THEN $6 ELSE completed_steps END,
			started_at=CASE WHEN $2='running' AND started_at IS NULL THEN NOW() ELSE started_at END,
			finished_at=CASE WHEN $2 IN ('completed','failed') THEN NOW() ELSE finished_at END,
			updated_at=NOW()
		WHERE id=$1 AND status NOT IN ('completed','failed')
		RETURNING `+executionColumns,
		id, string(u.Status), u.Output, u.ErrorMessage, u.PID, u.CompletedSteps)

	e, err := scanExecution(row)
	if err == ErrExecutionNotFound {
		// Distinguish a missing execution from one the guard refused to
		// touch.
		var current string
		lookupErr := s.db.QueryRowContext(ctx,
			`SELECT status FROM executions WHERE id=$1`, id).Scan(&current)
		if lookupErr == sql.ErrNoRows {
			return nil, ErrExecutionNotFound
		}
		if lookupErr != nil {
			return nil, fmt.Errorf("failed to inspect execution %s: %w", id, lookupErr)
		}
		s.logger.Printf("Refused callback %q for terminal execution %s (status=%s)", u.Status, id, current)
		return nil, ErrAlreadyTerminal
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply callback for execution %s: %w", id, err)
	}
	return e, nil
}

// InFlight returns the newest pending or running execution for a tenant, or
// ErrExecutionNotFound when the tenant has none.
func (s *Store) InFlight(ctx context.Context, tenantID int64) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE tenant_id=$1 AND status IN ('pending','running')
		ORDER BY created_at DESC LIMIT 1`, tenantID)
	return scanExecution(row)
}

// StaleRunning returns non-terminal executions whose last update is older
// than the cutoff. The reconciler decides what to do with them.
func (s *Store) StaleRunning(ctx context.Context, cutoff time.Time) ([]*Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM executions
		WHERE status IN ('pending','running') AND updated_at < $1
		ORDER BY updated_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func scanExecution(row interface {
	Scan(dest ...interface{}) error
}) (*Execution, error) {
	var (
		e          Execution
		commands   []byte
		dispatched sql.NullTime
		started    sql.NullTime
		finished   sql.NullTime
	)
	err := row.Scan(&e.ID, &e.TenantID, &e.InstanceID, &commands, &e.IsChain,
		&e.Source, &e.Status, &e.TotalSteps, &e.CompletedSteps,
		&e.Output, &e.ErrorMessage, &e.PID,
		&e.IsRetry, &e.RetryCount, &e.OriginalID,
		&dispatched, &started, &finished, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	if err := json.Unmarshal(commands, &e.Commands); err != nil {
		return nil, fmt.Errorf("failed to decode commands for execution %s: %w", e.ID, err)
	}
	if dispatched.Valid {
		e.DispatchedAt = &dispatched.Time
	}
	if started.Valid {
		e.StartedAt = &started.Time
	}
	if finished.Valid {
		e.FinishedAt = &finished.Time
	}
	return &e, nil
}
