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

package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetbridge/platform/directory"
	"fleetbridge/platform/dispatch"
	"fleetbridge/platform/instances"
	"fleetbridge/platform/router"
	"fleetbridge/platform/schedule"
)

type fakeRegistry struct {
	items   map[int64]*instances.Instance
	nextID  int64
	saveErr error
	delErr  error

	savedPasswords []string
	deleted        []int64
	healthUpdates  map[int64]instances.HealthState
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		items:         make(map[int64]*instances.Instance),
		nextID:        1,
		healthUpdates: make(map[int64]instances.HealthState),
	}
}

func (f *fakeRegistry) Save(_ context.Context, inst *instances.Instance, password string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if inst.ID == 0 {
		inst.ID = f.nextID
		f.nextID++
	}
	cp := *inst
	f.items[inst.ID] = &cp
	f.savedPasswords = append(f.savedPasswords, password)
	return nil
}

func (f *fakeRegistry) Get(_ context.Context, id int64) (*instances.Instance, error) {
	inst, ok := f.items[id]
	if !ok {
		return nil, instances.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (f *fakeRegistry) List(_ context.Context, onlyActive bool) ([]*instances.Instance, error) {
	var out []*instances.Instance
	for _, inst := range f.items {
		if onlyActive && !inst.Active {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func (f *fakeRegistry) Delete(_ context.Context, id int64) error {
	if f.delErr != nil {
		return f.delErr
	}
	if _, ok := f.items[id]; !ok {
		return instances.ErrNotFound
	}
	delete(f.items, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRegistry) UpdateHealth(_ context.Context, id int64, state instances.HealthState, _ time.Time) error {
	f.healthUpdates[id] = state
	return nil
}

type fakeProber struct {
	result router.ProbeResult
	probed []int64
	purged []int64
}

func (f *fakeProber) Purge(instanceID int64) {
	f.purged = append(f.purged, instanceID)
}

func (f *fakeProber) TestConnection(_ context.Context, inst *instances.Instance) router.ProbeResult {
	f.probed = append(f.probed, inst.ID)
	return f.result
}

func (f *fakeProber) RunHealthChecks(ctx context.Context, registry router.HealthRegistry) (map[int64]router.ProbeResult, error) {
	list, err := registry.List(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]router.ProbeResult, len(list))
	for _, inst := range list {
		out[inst.ID] = f.result
		_ = registry.UpdateHealth(ctx, inst.ID, f.result.HealthState(), time.Now())
	}
	return out, nil
}

type fakeDirAPI struct {
	tenants map[int64]*directory.Tenant
	routes  map[string]*directory.UserRoute
}

func (f *fakeDirAPI) ListTenants(_ context.Context, instanceID int64) ([]*directory.Tenant, error) {
	var out []*directory.Tenant
	for _, t := range f.tenants {
		if instanceID != 0 && t.InstanceID != instanceID {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeDirAPI) GetTenantByID(_ context.Context, id int64) (*directory.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return nil, directory.ErrTenantNotFound
	}
	return t, nil
}

func (f *fakeDirAPI) ResolveLogin(_ context.Context, login string) (*directory.UserRoute, error) {
	r, ok := f.routes[login]
	if !ok {
		return nil, directory.ErrRouteNotFound
	}
	return r, nil
}

type fakeSyncerAPI struct {
	result directory.SyncResult
	err    error

	syncedInstances []int64
	allForce        *bool
	truncated       *bool
}

func (f *fakeSyncerAPI) SyncTenants(_ context.Context, inst *instances.Instance, force bool) (directory.SyncResult, error) {
	f.syncedInstances = append(f.syncedInstances, inst.ID)
	return f.result, f.err
}

func (f *fakeSyncerAPI) SyncAllTenants(_ context.Context, force bool) (directory.SyncResult, error) {
	f.allForce = &force
	return f.result, f.err
}

func (f *fakeSyncerAPI) SyncUserRouting(_ context.Context, truncate bool) (directory.SyncResult, error) {
	f.truncated = &truncate
	return f.result, f.err
}

type fakeExecReader struct {
	execs  map[string]*dispatch.Execution
	listed []dispatch.Filter
}

func (f *fakeExecReader) Get(_ context.Context, id string) (*dispatch.Execution, error) {
	e, ok := f.execs[id]
	if !ok {
		return nil, dispatch.ErrExecutionNotFound
	}
	return e, nil
}

func (f *fakeExecReader) List(_ context.Context, filter dispatch.Filter) ([]*dispatch.Execution, error) {
	f.listed = append(f.listed, filter)
	var out []*dispatch.Execution
	for _, e := range f.execs {
		out = append(out, e)
	}
	return out, nil
}

type fakeOrchAPI struct {
	exec *dispatch.Execution
	err  error

	dispatched []dispatch.DispatchRequest
	cancelled  []string
	retried    []string
	callbacks  map[string]dispatch.CallbackUpdate
}

func (f *fakeOrchAPI) Dispatch(_ context.Context, req dispatch.DispatchRequest) (*dispatch.Execution, error) {
	f.dispatched = append(f.dispatched, req)
	return f.exec, f.err
}

func (f *fakeOrchAPI) Retry(_ context.Context, id string) (*dispatch.Execution, error) {
	f.retried = append(f.retried, id)
	return f.exec, f.err
}

func (f *fakeOrchAPI) Cancel(_ context.Context, id string) (*dispatch.Execution, error) {
	f.cancelled = append(f.cancelled, id)
	return f.exec, f.err
}

func (f *fakeOrchAPI) ApplyCallback(_ context.Context, id string, u dispatch.CallbackUpdate) (*dispatch.Execution, error) {
	if f.callbacks == nil {
		f.callbacks = make(map[string]dispatch.CallbackUpdate)
	}
	f.callbacks[id] = u
	return f.exec, f.err
}

type fakeTicker struct {
	result schedule.TickResult
	err    error
	opts   []schedule.TickOptions
}

func (f *fakeTicker) Tick(_ context.Context, _ time.Time, opts schedule.TickOptions) (schedule.TickResult, error) {
	f.opts = append(f.opts, opts)
	return f.result, f.err
}

type apiFixture struct {
	registry *fakeRegistry
	prober   *fakeProber
	dir      *fakeDirAPI
	syncer   *fakeSyncerAPI
	execs    *fakeExecReader
	orch     *fakeOrchAPI
	ticker   *fakeTicker
	signer   *dispatch.Signer
	router   *mux.Router
}

func newAPIFixture() *apiFixture {
	f := &apiFixture{
		registry: newFakeRegistry(),
		prober:   &fakeProber{result: router.ProbeResult{Success: true, Message: "Connection successful", LatencyMS: 12}},
		dir:      &fakeDirAPI{tenants: make(map[int64]*directory.Tenant), routes: make(map[string]*directory.UserRoute)},
		syncer:   &fakeSyncerAPI{result: directory.SyncResult{Synced: 3}},
		execs:    &fakeExecReader{execs: make(map[string]*dispatch.Execution)},
		orch:     &fakeOrchAPI{},
		ticker:   &fakeTicker{},
		signer:   dispatch.NewSigner("handler-test-secret"),
	}
	api := NewAPI(f.registry, nil, f.prober, f.dir, f.syncer, f.execs, f.orch, f.ticker, f.signer)

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/executions/{id}/callback", api.executionCallbackHandler).Methods("POST")
	r.HandleFunc("/api/v1/instances", api.listInstancesHandler).Methods("GET")
	r.HandleFunc("/api/v1/instances", api.createInstanceHandler).Methods("POST")
	r.HandleFunc("/api/v1/instances/health-checks", api.runHealthChecksHandler).Methods("POST")
	r.HandleFunc("/api/v1/instances/{id}", api.getInstanceHandler).Methods("GET")
	r.HandleFunc("/api/v1/instances/{id}", api.updateInstanceHandler).Methods("PUT")
	r.HandleFunc("/api/v1/instances/{id}", api.deleteInstanceHandler).Methods("DELETE")
	r.HandleFunc("/api/v1/instances/{id}/probe", api.probeInstanceHandler).Methods("POST")
	r.HandleFunc("/api/v1/instances/{id}/sync-tenants", api.syncInstanceTenantsHandler).Methods("POST")
	r.HandleFunc("/api/v1/directory/sync-tenants", api.syncAllTenantsHandler).Methods("POST")
	r.HandleFunc("/api/v1/directory/sync-user-routing", api.syncUserRoutingHandler).Methods("POST")
	r.HandleFunc("/api/v1/tenants", api.listTenantsHandler).Methods("GET")
	r.HandleFunc("/api/v1/tenants/{id}", api.getTenantHandler).Methods("GET")
	r.HandleFunc("/api/v1/routing/{login}", api.resolveLoginHandler).Methods("GET")
	r.HandleFunc("/api/v1/executions", api.listExecutionsHandler).Methods("GET")
	r.HandleFunc("/api/v1/executions", api.dispatchHandler).Methods("POST")
	r.HandleFunc("/api/v1/executions/{id}", api.getExecutionHandler).Methods("GET")
	r.HandleFunc("/api/v1/executions/{id}/cancel", api.cancelExecutionHandler).Methods("POST")
	r.HandleFunc("/api/v1/executions/{id}/retry", api.retryExecutionHandler).Methods("POST")
	r.HandleFunc("/api/v1/schedule/tick", api.scheduleTickHandler).Methods("POST")
	f.router = r
	return f
}

func (f *apiFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			panic(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateInstanceRequiresPassword(t *testing.T) {
	f := newAPIFixture()
	rec := f.do("POST", "/api/v1/instances", instanceRequest{
		Name: "fleet-01", Host: "db1.fleet.test", Port: 3306, Username: "fleet",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.registry.items)
}

func TestCreateInstanceReturnsCreated(t *testing.T) {
	f := newAPIFixture()
	rec := f.do("POST", "/api/v1/instances", instanceRequest{
		Name: "fleet-01", Host: "db1.fleet.test", Port: 3306,
		Username: "fleet", Password: "s3cret", Database: "app",
		AppURL: "https://app1.fleet.test", Active: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	require.Len(t, f.registry.savedPasswords, 1)
	assert.Equal(t, "s3cret", f.registry.savedPasswords[0])

	saved := f.registry.items[1]
	require.NotNil(t, saved)
	assert.Equal(t, "fleet-01", saved.Name)
}

func TestGetInstanceNotFound(t *testing.T) {
	f := newAPIFixture()
	rec := f.do("GET", "/api/v1/instances/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decodeResponse(t, rec).Success)
}

func TestUpdateInstanceKeepsCredentialWhenPasswordEmpty(t *testing.T) {
	f := newAPIFixture()
	f.registry.items[4] = &instances.Instance{
		ID: 4, Name: "fleet-04", Host: "db4.fleet.test", Port: 3306,
		Username: "fleet", Active: true,
	}

	rec := f.do("PUT", "/api/v1/instances/4", instanceRequest{
		Name: "fleet-04-renamed", Host: "db4.fleet.test", Port: 3306,
		Username: "fleet", Active: true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.registry.savedPasswords, 1)
	assert.Empty(t, f.registry.savedPasswords[0])
	assert.Equal(t, "fleet-04-renamed", f.registry.items[4].Name)
}

func TestUpdateInstancePurgesPooledHandles(t *testing.T) {
	f := newAPIFixture()
	f.registry.items[6] = &instances.Instance{
		ID: 6, Name: "fleet-06", Host: "db6.fleet.test", Port: 3306,
		Username: "fleet", Active: true,
	}

	rec := f.do("PUT", "/api/v1/instances/6", instanceRequest{
		Name: "fleet-06", Host: "db6.fleet.test", Port: 3306,
		Username: "fleet", Password: "rotated", Active: true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{6}, f.prober.purged)
}

func TestUpdateInstanceFailureLeavesHandlesAlone(t *testing.T) {
	f := newAPIFixture()
	f.registry.items[6] = &instances.Instance{
		ID: 6, Name: "fleet-06", Host: "db6.fleet.test", Port: 3306,
		Username: "fleet", Active: true,
	}
	f.registry.saveErr = errors.New("encryption unavailable")

	rec := f.do("PUT", "/api/v1/instances/6", instanceRequest{
		Name: "fleet-06", Host: "db6.fleet.test", Port: 3306,
		Username: "fleet", Password: "rotated", Active: true,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.prober.purged)
}

func TestDeleteInstancePurgesPooledHandles(t *testing.T) {
	f := newAPIFixture()
	f.registry.items[8] = &instances.Instance{ID: 8, Name: "fleet-08", Active: true}

	rec := f.do("DELETE", "/api/v1/instances/8", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{8}, f.prober.purged)
}

func TestDeleteInstanceConstraintConflict(t *testing.T) {
	f := newAPIFixture()
	f.registry.items[2] = &instances.Instance{ID: 2, Name: "fleet-02", Master: true}
	f.registry.delErr = &instances.ConstraintViolation{Reason: "instance is the master"}

	rec := f.do("DELETE", "/api/v1/instances/2", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProbeInstanceRecordsHealth(t *testing.T) {
	f := newAPIFixture()
	f.registry.items[3] = &instances.Instance{ID: 3, Name: "fleet-03", Active: true}
	f.prober.result = router.ProbeResult{Success: false, Message: "dial tcp: connection refused"}

	rec := f.do("POST", "/api/v1/instances/3/probe", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{3}, f.prober.probed)
	assert.Equal(t, instances.HealthDown, f.registry.healthUpdates[3])
}

func TestRunHealthChecksCoversActiveInstances(t *testing.T) {
	f := newAPIFixture()
	f.registry.items[1] = &instances.Instance{ID: 1, Name: "fleet-01", Active: true}
	f.registry.items[2] = &instances.Instance{ID: 2, Name: "fleet-02", Active: true}

	rec := f.do("POST", "/api/v1/instances/health-checks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, f.registry.healthUpdates, 2)
}

func TestSyncInstanceTenantsPassesInstance(t *testing.T) {
	f := newAPIFixture()
	f.registry.items[5] = &instances.Instance{ID: 5, Name: "fleet-05", Active: true}

	rec := f.do("POST", "/api/v1/instances/5/sync-tenants?force=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{5}, f.syncer.syncedInstances)
}

func TestSyncUserRoutingNoMasterConflict(t *testing.T) {
	f := newAPIFixture()
	f.syncer.err = instances.ErrNoMaster

	rec := f.do("POST", "/api/v1/directory/sync-user-routing", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSyncUserRoutingTruncateFlag(t *testing.T) {
	f := newAPIFixture()
	rec := f.do("POST", "/api/v1/directory/sync-user-routing?truncate=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.syncer.truncated)
	assert.True(t, *f.syncer.truncated)
}

func TestResolveLoginRoundTrip(t *testing.T) {
	f := newAPIFixture()
	f.dir.routes["ops@acme.test"] = &directory.UserRoute{
		Login: "ops@acme.test", InstanceID: 1, TenantID: 7, RemoteUserID: 42,
	}

	rec := f.do("GET", "/api/v1/routing/ops@acme.test", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do("GET", "/api/v1/routing/nobody@acme.test", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListExecutionsRejectsBadStatus(t *testing.T) {
	f := newAPIFixture()
	rec := f.do("GET", "/api/v1/executions?status=paused", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListExecutionsBuildsFilter(t *testing.T) {
	f := newAPIFixture()
	rec := f.do("GET", "/api/v1/executions?tenant_id=7&status=failed&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.execs.listed, 1)
	assert.Equal(t, dispatch.Filter{TenantID: 7, Status: dispatch.StatusFailed, Limit: 10}, f.execs.listed[0])
}

func TestDispatchDefaultsSourceToAPI(t *testing.T) {
	f := newAPIFixture()
	f.orch.exec = &dispatch.Execution{ID: "exec-1", TenantID: 7, Status: dispatch.StatusRunning}

	rec := f.do("POST", "/api/v1/executions", dispatchRequest{
		TenantID: 7,
		Commands: []dispatch.Command{{Command: "queue:work"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, f.orch.dispatched, 1)
	assert.Equal(t, dispatch.SourceAPI, f.orch.dispatched[0].Source)
}

func TestDispatchRejectsUnknownSource(t *testing.T) {
	f := newAPIFixture()
	rec := f.do("POST", "/api/v1/executions", dispatchRequest{
		TenantID: 7,
		Commands: []dispatch.Command{{Command: "queue:work"}},
		Source:   "cron",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.orch.dispatched)
}

func TestDispatchInFlightConflict(t *testing.T) {
	f := newAPIFixture()
	f.orch.err = &dispatch.ErrExecutionInFlight{TenantID: 7, ExecutionID: "exec-0"}

	rec := f.do("POST", "/api/v1/executions", dispatchRequest{
		TenantID: 7,
		Commands: []dispatch.Command{{Command: "queue:work"}},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDispatchDeliveryFailureReturnsRecord(t *testing.T) {
	f := newAPIFixture()
	f.orch.exec = &dispatch.Execution{ID: "exec-2", Status: dispatch.StatusFailed}
	f.orch.err = errors.New("webhook delivery failed")

	rec := f.do("POST", "/api/v1/executions", dispatchRequest{
		TenantID: 7,
		Commands: []dispatch.Command{{Command: "queue:work"}},
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.NotNil(t, resp.Data)
}

func TestCancelTerminalConflict(t *testing.T) {
	f := newAPIFixture()
	f.orch.err = dispatch.ErrAlreadyTerminal

	rec := f.do("POST", "/api/v1/executions/exec-3/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, []string{"exec-3"}, f.orch.cancelled)
}

func TestRetryReturnsCreated(t *testing.T) {
	f := newAPIFixture()
	f.orch.exec = &dispatch.Execution{ID: "exec-5", IsRetry: true, RetryCount: 1, OriginalID: "exec-4"}

	rec := f.do("POST", "/api/v1/executions/exec-4/retry", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"exec-4"}, f.orch.retried)
}

func signedCallback(t *testing.T, f *apiFixture, id string, body callbackRequest) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", fmt.Sprintf("/api/v1/executions/%s/callback", id), bytes.NewReader(raw))
	req.Header.Set(dispatch.SignatureHeader, f.signer.Sign(raw))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestCallbackRejectsMissingSignature(t *testing.T) {
	f := newAPIFixture()
	rec := f.do("POST", "/api/v1/executions/exec-1/callback", callbackRequest{Status: "running"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.orch.callbacks)
}

func TestCallbackRejectsTamperedBody(t *testing.T) {
	f := newAPIFixture()
	raw := []byte(`{"status":"running","pid":100}`)
	header := f.signer.Sign(raw)

	req := httptest.NewRequest("POST", "/api/v1/executions/exec-1/callback",
		bytes.NewReader([]byte(`{"status":"completed","pid":100}`)))
	req.Header.Set(dispatch.SignatureHeader, header)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCallbackAppliesUpdate(t *testing.T) {
	f := newAPIFixture()
	f.orch.exec = &dispatch.Execution{ID: "exec-1", Status: dispatch.StatusRunning}

	rec := signedCallback(t, f, "exec-1", callbackRequest{
		Status: "running", PID: 4242, CompletedSteps: 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	update, ok := f.orch.callbacks["exec-1"]
	require.True(t, ok)
	assert.Equal(t, dispatch.StatusRunning, update.Status)
	assert.Equal(t, 4242, update.PID)
	assert.Equal(t, 1, update.CompletedSteps)
}

func TestCallbackRejectsUnknownStatus(t *testing.T) {
	f := newAPIFixture()
	rec := signedCallback(t, f, "exec-1", callbackRequest{Status: "paused"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.orch.callbacks)
}

func TestCallbackConflictingTerminalWriteRejected(t *testing.T) {
	f := newAPIFixture()
	f.orch.err = dispatch.ErrAlreadyTerminal
	f.execs.execs["exec-1"] = &dispatch.Execution{ID: "exec-1", Status: dispatch.StatusFailed}

	rec := signedCallback(t, f, "exec-1", callbackRequest{Status: "completed"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCallbackTerminalReplayAcknowledged(t *testing.T) {
	f := newAPIFixture()
	f.orch.err = dispatch.ErrAlreadyTerminal
	f.execs.execs["exec-1"] = &dispatch.Execution{
		ID: "exec-1", Status: dispatch.StatusCompleted, CompletedSteps: 3,
	}

	rec := signedCallback(t, f, "exec-1", callbackRequest{Status: "completed", CompletedSteps: 3})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeResponse(t, rec).Success)
}

func TestScheduleTickRejectsBadFrequency(t *testing.T) {
	f := newAPIFixture()
	rec := f.do("POST", "/api/v1/schedule/tick", tickRequest{Frequency: "fortnightly"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.ticker.opts)
}

func TestScheduleTickPassesOptions(t *testing.T) {
	f := newAPIFixture()
	f.ticker.result = schedule.TickResult{Dispatched: 2, DryRun: true}

	rec := f.do("POST", "/api/v1/schedule/tick", tickRequest{
		TenantID: 7, Frequency: "daily", DryRun: true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.ticker.opts, 1)
	assert.Equal(t, schedule.TickOptions{
		TenantID: 7, Frequency: schedule.Daily, DryRun: true,
	}, f.ticker.opts[0])
}

func TestListTenantsFilterByInstance(t *testing.T) {
	f := newAPIFixture()
	f.dir.tenants[1] = &directory.Tenant{ID: 1, InstanceID: 1, Name: "Acme"}
	f.dir.tenants[2] = &directory.Tenant{ID: 2, InstanceID: 2, Name: "Globex"}

	rec := f.do("GET", "/api/v1/tenants?instance_id=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var tenants []directory.Tenant
	require.NoError(t, json.Unmarshal(raw, &tenants))
	require.Len(t, tenants, 1)
	assert.Equal(t, "Globex", tenants[0].Name)
}
