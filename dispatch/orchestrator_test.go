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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbridge/platform/directory"
	"fleetbridge/platform/instances"
)

// memStore is an in-memory executionStore enforcing the same terminal guard
// as the real one.
type memStore struct {
	execs  map[string]*Execution
	nextID int
}

func newMemStore() *memStore {
	return &memStore{execs: make(map[string]*Execution)}
}

func (m *memStore) Create(_ context.Context, e *Execution) error {
	if e.ID == "" {
		m.nextID++
		e.ID = fmt.Sprintf("exec-%d", m.nextID)
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	if e.Source == "" {
		e.Source = SourceManual
	}
	if e.TotalSteps == 0 {
		e.TotalSteps = len(e.Commands)
	}
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	copied := *e
	m.execs[e.ID] = &copied
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*Execution, error) {
	e, ok := m.execs[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	copied := *e
	return &copied, nil
}

func (m *memStore) MarkDispatched(_ context.Context, id string) error {
	e, ok := m.execs[id]
	if !ok {
		return ErrExecutionNotFound
	}
	now := time.Now()
	e.DispatchedAt = &now
	return nil
}

func (m *memStore) ApplyCallback(_ context.Context, id string, u CallbackUpdate) (*Execution, error) {
	e, ok := m.execs[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	if e.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}
	e.Status = u.Status
	if u.Output != "" {
		e.Output = u.Output
	}
	if u.ErrorMessage != "" {
		e.ErrorMessage = u.ErrorMessage
	}
	if u.PID > 0 {
		e.PID = u.PID
	}
	if u.CompletedSteps > e.CompletedSteps {
		e.CompletedSteps = u.CompletedSteps
	}
	e.UpdatedAt = time.Now()
	copied := *e
	return &copied, nil
}

func (m *memStore) InFlight(_ context.Context, tenantID int64) (*Execution, error) {
	for _, e := range m.execs {
		if e.TenantID == tenantID && !e.Status.Terminal() {
			copied := *e
			return &copied, nil
		}
	}
	return nil, ErrExecutionNotFound
}

func (m *memStore) StaleRunning(_ context.Context, _ time.Time) ([]*Execution, error) {
	var stale []*Execution
	for _, e := range m.execs {
		if !e.Status.Terminal() {
			copied := *e
			stale = append(stale, &copied)
		}
	}
	return stale, nil
}

type fakeTenants struct {
	tenants map[int64]*directory.Tenant
}

func (f *fakeTenants) GetTenantByID(_ context.Context, id int64) (*directory.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return nil, directory.ErrTenantNotFound
	}
	return t, nil
}

type fakeInstanceSource struct {
	insts map[int64]*instances.Instance
}

func (f *fakeInstanceSource) Get(_ context.Context, id int64) (*instances.Instance, error) {
	inst, ok := f.insts[id]
	if !ok {
		return nil, instances.ErrNotFound
	}
	return inst, nil
}

type fakeDeliverer struct {
	payloads []WebhookPayload
	appURLs  []string
	ack      Ack
	err      error
}

func (f *fakeDeliverer) Deliver(_ context.Context, appURL string, payload WebhookPayload) (Ack, error) {
	f.appURLs = append(f.appURLs, appURL)
	f.payloads = append(f.payloads, payload)
	return f.ack, f.err
}

type fakeProcs struct {
	alive      map[int]bool
	terminated []int
}

func (f *fakeProcs) Alive(pid int) bool { return f.alive[pid] }

func (f *fakeProcs) Terminate(_ context.Context, pid int) error {
	f.terminated = append(f.terminated, pid)
	f.alive[pid] = false
	return nil
}

type orchestratorFixture struct {
	store  *memStore
	client *fakeDeliverer
	procs  *fakeProcs
	orch   *Orchestrator
	tenant *directory.Tenant
	inst   *instances.Instance
}

func newOrchestratorFixture() *orchestratorFixture {
	tenant := &directory.Tenant{ID: 7, InstanceID: 1, RemoteID: 42, Name: "Acme Dental"}
	inst := &instances.Instance{ID: 1, Name: "shard-1", AppURL: "https://acme.fleet.test"}

	store := newMemStore()
	client := &fakeDeliverer{}
	procs := &fakeProcs{alive: make(map[int]bool)}
	orch := NewOrchestrator(store,
		&fakeTenants{tenants: map[int64]*directory.Tenant{7: tenant}},
		&fakeInstanceSource{insts: map[int64]*instances.Instance{1: inst}},
		client, procs, "https://control.fleet.test/")
	return &orchestratorFixture{store: store, client: client, procs: procs,
		orch: orch, tenant: tenant, inst: inst}
}

func batch() []Command {
	return []Command{
		{Command: "billing:close-period", Retry: true},
		{Command: "reports:rebuild"},
		{Command: "cache:clear"},
	}
}

func TestDispatchHappyPath(t *testing.T) {
	fx := newOrchestratorFixture()
	fx.client.ack = Ack{PID: 4242}

	exec, err := fx.orch.Dispatch(context.Background(), DispatchRequest{
		TenantID: 7,
		Commands: batch(),
		Source:   SourceAPI,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusRunning, exec.Status)
	assert.Equal(t, 4242, exec.PID)
	assert.Equal(t, 3, exec.TotalSteps)

	require.Len(t, fx.client.payloads, 1)
	payload := fx.client.payloads[0]
	assert.Equal(t, exec.ID, payload.ExecutionID)
	assert.Equal(t, int64(42), payload.TenantID, "payload must carry the remote tenant id")
	assert.Equal(t,
		"https://control.fleet.test/api/v1/executions/"+exec.ID+"/callback",
		payload.CallbackURL)
	assert.Equal(t, "https://acme.fleet.test", fx.client.appURLs[0])

	stored, err := fx.store.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.DispatchedAt)
}

func TestDispatchDeliveryFailureIsTerminal(t *testing.T) {
	fx := newOrchestratorFixture()
	fx.client.err = errors.New("connection refused")

	exec, err := fx.orch.Dispatch(context.Background(), DispatchRequest{
		TenantID: 7,
		Commands: batch(),
	})
	require.Error(t, err)
	require.NotNil(t, exec)

	assert.Equal(t, StatusFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "connection refused")
}

func TestDispatchAdvisoryInFlightCheck(t *testing.T) {
	fx := newOrchestratorFixture()
	fx.client.ack = Ack{PID: 100}

	first, err := fx.orch.Dispatch(context.Background(), DispatchRequest{
		TenantID: 7, Commands: batch(),
	})
	require.NoError(t, err)

	_, err = fx.orch.Dispatch(context.Background(), DispatchRequest{
		TenantID: 7, Commands: batch(),
	})
	var inflight *ErrExecutionInFlight
	require.ErrorAs(t, err, &inflight)
	assert.Equal(t, first.ID, inflight.ExecutionID)

	// Force weakens the advisory check rather than the check blocking hard.
	forced, err := fx.orch.Dispatch(context.Background(), DispatchRequest{
		TenantID: 7, Commands: batch(), Force: true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, forced.ID)
}

func TestCallbackCompletionIsNeverReverted(t *testing.T) {
	fx := newOrchestratorFixture()
	fx.client.ack = Ack{PID: 4242}

	exec, err := fx.orch.Dispatch(context.Background(), DispatchRequest{
		TenantID: 7, Commands: batch(),
	})
	require.NoError(t, err)

	done, err := fx.orch.ApplyCallback(context.Background(), exec.ID, CallbackUpdate{
		Status:         StatusCompleted,
		CompletedSteps: 3,
		Output:         "all steps ok",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, 3, done.CompletedSteps)

	_, err = fx.orch.ApplyCallback(context.Background(), exec.ID, CallbackUpdate{
		Status: StatusRunning,
	})
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	stored, err := fx.store.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
}

func TestCancelTerminatesLiveProcess(t *testing.T) {
	fx := newOrchestratorFixture()
	fx.client.ack = Ack{PID: 555}
	fx.procs.alive[555] = true

	exec, err := fx.orch.Dispatch(context.Background(), DispatchRequest{
		TenantID: 7, Commands: batch(),
	})
	require.NoError(t, err)

	cancelled, err := fx.orch.Cancel(context.Background(), exec.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, cancelled.Status)
	assert.Equal(t, "cancelled by user", cancelled.ErrorMessage)
	assert.Equal(t, []int{555}, fx.procs.terminated)
}

func TestCancelTerminalExecutionRefused(t *testing.T) {
	fx := newOrchestratorFixture()
	fx.client.ack = Ack{PID: 1}

	exec, err := fx.orch.Dispatch(context.Background(), DispatchRequest{
		TenantID: 7, Commands: batch(),
	})
	require.NoError(t, err)
	_, err = fx.orch.ApplyCallback(context.Background(), exec.ID, CallbackUpdate{
		Status: StatusCompleted,
	})
	require.NoError(t, err)

	_, err = fx.orch.Cancel(context.Background(), exec.ID)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestRetryCreatesLinkedRecord(t *testing.T) {
	fx := newOrchestratorFixture()
	fx.client.err = errors.New("boom")

	failed, err := fx.orch.Dispatch(context.Background(), DispatchRequest{
		TenantID: 7, Commands: batch(), Source: SourceScheduled,
	})
	require.Error(t, err)

	fx.client.err = nil
	fx.client.ack = Ack{PID: 9}

	retried, err := fx.orch.Retry(context.Background(), failed.ID)
	require.NoError(t, err)

	assert.NotEqual(t, failed.ID, retried.ID)
	assert.True(t, retried.IsRetry)
	assert.Equal(t, 1, retried.RetryCount)
	assert.Equal(t, failed.ID, retried.OriginalID)
	assert.Equal(t, SourceScheduled, retried.Source)
	assert.Equal(t, StatusRunning, retried.Status)

	// The failed attempt stays in history untouched.
	orig, err := fx.store.Get(context.Background(), failed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, orig.Status)
}

func TestRetryRefusesNonFailedExecution(t *testing.T) {
	fx := newOrchestratorFixture()
	fx.client.ack = Ack{PID: 9}

	exec, err := fx.orch.Dispatch(context.Background(), DispatchRequest{
		TenantID: 7, Commands: batch(),
	})
	require.NoError(t, err)

	_, err = fx.orch.Retry(context.Background(), exec.ID)
	assert.Error(t, err)
}

func TestReconcileFailsDeadProcessExecutions(t *testing.T) {
	fx := newOrchestratorFixture()
	fx.client.ack = Ack{PID: 111}
	fx.procs.alive[111] = true
	fx.procs.alive[222] = true

	dead, err := fx.orch.Dispatch(context.Background(), DispatchRequest{
		TenantID: 7, Commands: batch(),
	})
	require.NoError(t, err)

	// Second execution's worker is still alive.
	fx.client.ack = Ack{PID: 222}
	live, err := fx.orch.Dispatch(context.Background(), DispatchRequest{
		TenantID: 7, Commands: batch(), Force: true,
	})
	require.NoError(t, err)

	fx.procs.alive[111] = false

	moved, err := fx.orch.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	reconciled, err := fx.store.Get(context.Background(), dead.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, reconciled.Status)
	assert.Equal(t, "process terminated unexpectedly", reconciled.ErrorMessage)

	untouched, err := fx.store.Get(context.Background(), live.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, untouched.Status)
}

func TestReconcileLeavesRemoteOnlyExecutionsAlone(t *testing.T) {
	fx := newOrchestratorFixture()
	fx.client.ack = Ack{} // no pid reported

	exec, err := fx.orch.Dispatch(context.Background(), DispatchRequest{
		TenantID: 7, Commands: batch(),
	})
	require.NoError(t, err)
	require.Equal(t, StatusRunning, exec.Status)

	moved, err := fx.orch.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, moved)
}
