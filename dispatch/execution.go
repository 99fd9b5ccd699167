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

// Package dispatch delivers command batches to tenant application servers
// over signed webhooks and tracks their lifecycle through asynchronous
// callbacks.
package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// ExecutionStatus is the lifecycle state of a dispatched command batch.
type ExecutionStatus string

const (
	// StatusPending means the execution is recorded but the webhook has not
	// been accepted by the application server yet.
	StatusPending ExecutionStatus = "pending"
	// StatusRunning means the application server acknowledged the batch and
	// reported a worker process for it.
	StatusRunning ExecutionStatus = "running"
	// StatusCompleted and StatusFailed are terminal. Once an execution
	// reaches either, no callback may move it anywhere else.
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known lifecycle states.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// TriggerSource records what started an execution.
type TriggerSource string

const (
	SourceManual    TriggerSource = "manual"
	SourceScheduled TriggerSource = "scheduled"
	SourceAPI       TriggerSource = "api"
)

// Valid reports whether s is a known trigger source.
func (s TriggerSource) Valid() bool {
	switch s {
	case SourceManual, SourceScheduled, SourceAPI:
		return true
	}
	return false
}

// Command is one console command inside a batch. Retry marks commands the
// application server may re-run on transient failure.
type Command struct {
	Command string `json:"command"`
	Retry   bool   `json:"retry"`
}

// Execution is one dispatched batch of commands for a tenant. Retries are
// separate records linked back through OriginalID, never in-place rewrites
// of the failed attempt.
type Execution struct {
	ID             string          `json:"id"`
	TenantID       int64           `json:"tenant_id"`
	InstanceID     int64           `json:"instance_id"`
	Commands       []Command       `json:"commands"`
	IsChain        bool            `json:"is_chain"`
	Source         TriggerSource   `json:"source"`
	Status         ExecutionStatus `json:"status"`
	TotalSteps     int             `json:"total_steps"`
	CompletedSteps int             `json:"completed_steps"`
	Output         string          `json:"output,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	PID            int             `json:"pid,omitempty"`
	IsRetry        bool            `json:"is_retry"`
	RetryCount     int             `json:"retry_count"`
	OriginalID     string          `json:"original_id,omitempty"`
	DispatchedAt   *time.Time      `json:"dispatched_at,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ErrExecutionNotFound is returned when an execution id is unknown.
var ErrExecutionNotFound = errors.New("execution not found")

// ErrAlreadyTerminal is returned when a callback or cancellation targets an
// execution that already reached completed or failed.
var ErrAlreadyTerminal = errors.New("execution already in a terminal state")

// ErrExecutionInFlight is returned by Dispatch when the tenant already has a
// running execution and the caller did not ask to dispatch anyway.
type ErrExecutionInFlight struct {
	TenantID    int64
	ExecutionID string
}

func (e *ErrExecutionInFlight) Error() string {
	return fmt.Sprintf("tenant %d already has execution %s in flight", e.TenantID, e.ExecutionID)
}
