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
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"fleetbridge/platform/directory"
	"fleetbridge/platform/instances"
)

// DefaultReconcileAge is how long a non-terminal execution may sit without
// an update before the reconciler inspects it.
const DefaultReconcileAge = 30 * time.Minute

// executionStore is the slice of Store the orchestrator drives.
type executionStore interface {
	Create(ctx context.Context, e *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	MarkDispatched(ctx context.Context, id string) error
	ApplyCallback(ctx context.Context, id string, u CallbackUpdate) (*Execution, error)
	InFlight(ctx context.Context, tenantID int64) (*Execution, error)
	StaleRunning(ctx context.Context, cutoff time.Time) ([]*Execution, error)
}

// tenantResolver maps directory ids to tenants. directory.Store satisfies it.
type tenantResolver interface {
	GetTenantByID(ctx context.Context, id int64) (*directory.Tenant, error)
}

// instanceResolver maps instance ids to instances. instances.Store
// satisfies it.
type instanceResolver interface {
	Get(ctx context.Context, id int64) (*instances.Instance, error)
}

// deliverer posts webhook payloads. Client satisfies it.
type deliverer interface {
	Deliver(ctx context.Context, appURL string, payload WebhookPayload) (Ack, error)
}

// Orchestrator dispatches command batches to application servers and keeps
// each execution record in step with what the remote side reports back.
type Orchestrator struct {
	store        executionStore
	tenants      tenantResolver
	instances    instanceResolver
	client       deliverer
	procs        ProcessController
	callbackBase string
	reconcileAge time.Duration
	logger       *log.Logger
}

// NewOrchestrator wires an Orchestrator. callbackBase is the externally
// reachable base URL of this control plane; callback URLs handed to
// application servers are built from it.
func NewOrchestrator(store executionStore, tenants tenantResolver, insts instanceResolver,
	client deliverer, procs ProcessController, callbackBase string) *Orchestrator {
	return &Orchestrator{
		store:        store,
		tenants:      tenants,
		instances:    insts,
		client:       client,
		procs:        procs,
		callbackBase: strings.TrimRight(callbackBase, "/"),
		reconcileAge: DefaultReconcileAge,
		logger:       log.New(os.Stdout, "[ORCHESTRATOR] ", log.LstdFlags),
	}
}

// DispatchRequest describes one batch to run for a tenant. TenantID is the
// directory row id, not the remote id.
type DispatchRequest struct {
	TenantID int64
	Commands []Command
	IsChain  bool
	Source   TriggerSource
	// Force bypasses the in-flight check. The check is advisory only, so
	// Force weakens a convention, not an enforced invariant.
	Force bool
}

// Dispatch creates an execution record and delivers its batch. On delivery
// failure the record is immediately terminal failed with the error text
// captured, and the delivery error is returned alongside the record. There
// is no automatic retry.
func (o *Orchestrator) Dispatch(ctx context.Context, req DispatchRequest) (*Execution, error) {
	if len(req.Commands) == 0 {
		return nil, errors.New("dispatch requires at least one command")
	}

	tenant, err := o.tenants.GetTenantByID(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant %d: %w", req.TenantID, err)
	}
	inst, err := o.instances.Get(ctx, tenant.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve instance %d: %w", tenant.InstanceID, err)
	}
	if inst.AppURL == "" {
		return nil, fmt.Errorf("instance %d has no application URL", inst.ID)
	}

	if !req.Force {
		inflight, err := o.store.InFlight(ctx, tenant.ID)
		if err == nil {
			return nil, &ErrExecutionInFlight{TenantID: tenant.ID, ExecutionID: inflight.ID}
		}
		if err != ErrExecutionNotFound {
			return nil, fmt.Errorf("failed to check in-flight executions: %w", err)
		}
	}

	exec := &Execution{
		TenantID:   tenant.ID,
		InstanceID: inst.ID,
		Commands:   req.Commands,
		IsChain:    req.IsChain,
		Source:     req.Source,
	}
	if err := o.store.Create(ctx, exec); err != nil {
		return nil, err
	}
	return o.deliver(ctx, exec, tenant, inst)
}

// Retry re-dispatches a failed execution's batch as a brand-new record
// linked back to the first attempt. The failed record is left untouched.
func (o *Orchestrator) Retry(ctx context.Context, id string) (*Execution, error) {
	orig, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.Status != StatusFailed {
		return nil, fmt.Errorf("execution %s is %s, only failed executions can be retried",
			orig.ID, orig.Status)
	}

	tenant, err := o.tenants.GetTenantByID(ctx, orig.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant %d: %w", orig.TenantID, err)
	}
	inst, err := o.instances.Get(ctx, tenant.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve instance %d: %w", tenant.InstanceID, err)
	}

	originalID := orig.OriginalID
	if originalID == "" {
		originalID = orig.ID
	}
	exec := &Execution{
		TenantID:   tenant.ID,
		InstanceID: inst.ID,
		Commands:   orig.Commands,
		IsChain:    orig.IsChain,
		Source:     orig.Source,
		IsRetry:    true,
		RetryCount: orig.RetryCount + 1,
		OriginalID: originalID,
	}
	if err := o.store.Create(ctx, exec); err != nil {
		return nil, err
	}
	return o.deliver(ctx, exec, tenant, inst)
}

func (o *Orchestrator) deliver(ctx context.Context, exec *Execution,
	tenant *directory.Tenant, inst *instances.Instance) (*Execution, error) {
	payload := WebhookPayload{
		ExecutionID: exec.ID,
		TenantID:    tenant.RemoteID,
		Commands:    exec.Commands,
		IsChain:     exec.IsChain,
		CallbackURL: o.callbackURL(exec.ID),
	}

	ack, err := o.client.Deliver(ctx, inst.AppURL, payload)
	if err != nil {
		o.logger.Printf("Dispatch of execution %s failed: %v", exec.ID, err)
		failed, markErr := o.store.ApplyCallback(ctx, exec.ID, CallbackUpdate{
			Status:       StatusFailed,
			ErrorMessage: err.Error(),
		})
		if markErr != nil {
			o.logger.Printf("Failed to mark execution %s failed: %v", exec.ID, markErr)
			return exec, err
		}
		return failed, err
	}

	if err := o.store.MarkDispatched(ctx, exec.ID); err != nil {
		o.logger.Printf("Failed to stamp dispatch of execution %s: %v", exec.ID, err)
	}
	running, err := o.store.ApplyCallback(ctx, exec.ID, CallbackUpdate{
		Status: StatusRunning,
		PID:    ack.PID,
	})
	if err != nil {
		return exec, err
	}
	o.logger.Printf("Execution %s running on instance %d (pid=%d)", exec.ID, inst.ID, ack.PID)
	return running, nil
}

// ApplyCallback records a progress report from an application server.
func (o *Orchestrator) ApplyCallback(ctx context.Context, id string, u CallbackUpdate) (*Execution, error) {
	exec, err := o.store.ApplyCallback(ctx, id, u)
	if err != nil {
		return nil, err
	}
	o.logger.Printf("Execution %s moved to %s (%d/%d steps)",
		exec.ID, exec.Status, exec.CompletedSteps, exec.TotalSteps)
	return exec, nil
}

// Cancel terminates a non-terminal execution. When a live worker pid is
// tracked it is signalled first; the record is marked failed with an
// explicit reason whether or not the signal landed.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (*Execution, error) {
	exec, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}

	if exec.PID > 0 && o.procs.Alive(exec.PID) {
		if err := o.procs.Terminate(ctx, exec.PID); err != nil {
			o.logger.Printf("Best-effort terminate of pid %d failed: %v", exec.PID, err)
		}
	}

	return o.store.ApplyCallback(ctx, id, CallbackUpdate{
		Status:       StatusFailed,
		ErrorMessage: "cancelled by user",
	})
}

// Reconcile sweeps executions that stopped reporting. A record tracking a
// dead worker process is forced to failed; one still backed by a live
// process is left alone no matter how old. Stale pending records whose
// dispatch never concluded are failed as well. Returns how many records
// were moved.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	stale, err := o.store.StaleRunning(ctx, time.Now().Add(-o.reconcileAge))
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, exec := range stale {
		reason := ""
		switch {
		case exec.PID > 0 && o.procs.Alive(exec.PID):
			continue
		case exec.PID > 0:
			reason = "process terminated unexpectedly"
		case exec.Status == StatusPending:
			reason = "dispatch was never acknowledged"
		default:
			// Running remotely with no tracked pid. Remote work can
			// legitimately outlive any local window.
			continue
		}

		if _, err := o.store.ApplyCallback(ctx, exec.ID, CallbackUpdate{
			Status:       StatusFailed,
			ErrorMessage: reason,
		}); err != nil {
			o.logger.Printf("Failed to reconcile execution %s: %v", exec.ID, err)
			continue
		}
		o.logger.Printf("Reconciled execution %s: %s", exec.ID, reason)
		reconciled++
	}
	return reconciled, nil
}

// StartReconciler runs Reconcile on an interval until the context ends.
func (o *Orchestrator) StartReconciler(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		o.logger.Printf("Reconciler started (interval=%s)", interval)
		for {
			select {
			case <-ctx.Done():
				o.logger.Printf("Reconciler stopped")
				return
			case <-ticker.C:
				if _, err := o.Reconcile(ctx); err != nil {
					o.logger.Printf("Reconcile pass failed: %v", err)
				}
			}
		}
	}()
}

func (o *Orchestrator) callbackURL(executionID string) string {
	return fmt.Sprintf("%s/api/v1/executions/%s/callback", o.callbackBase, executionID)
}
