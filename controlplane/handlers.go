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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"fleetbridge/platform/directory"
	"fleetbridge/platform/dispatch"
	"fleetbridge/platform/instances"
	"fleetbridge/platform/router"
	"fleetbridge/platform/schedule"
)

// Callback bodies larger than this are rejected outright.
const maxCallbackBody = 1 << 20

type instanceRegistry interface {
	Save(ctx context.Context, inst *instances.Instance, password string) error
	Get(ctx context.Context, id int64) (*instances.Instance, error)
	List(ctx context.Context, onlyActive bool) ([]*instances.Instance, error)
	Delete(ctx context.Context, id int64) error
	UpdateHealth(ctx context.Context, id int64, state instances.HealthState, checkedAt time.Time) error
}

type connectionProber interface {
	TestConnection(ctx context.Context, inst *instances.Instance) router.ProbeResult
	RunHealthChecks(ctx context.Context, registry router.HealthRegistry) (map[int64]router.ProbeResult, error)
	Purge(instanceID int64)
}

type tenantDirectory interface {
	ListTenants(ctx context.Context, instanceID int64) ([]*directory.Tenant, error)
	GetTenantByID(ctx context.Context, id int64) (*directory.Tenant, error)
	ResolveLogin(ctx context.Context, login string) (*directory.UserRoute, error)
}

type directorySyncer interface {
	SyncTenants(ctx context.Context, inst *instances.Instance, force bool) (directory.SyncResult, error)
	SyncAllTenants(ctx context.Context, force bool) (directory.SyncResult, error)
	SyncUserRouting(ctx context.Context, truncate bool) (directory.SyncResult, error)
}

type executionReader interface {
	Get(ctx context.Context, id string) (*dispatch.Execution, error)
	List(ctx context.Context, f dispatch.Filter) ([]*dispatch.Execution, error)
}

type executionOrchestrator interface {
	Dispatch(ctx context.Context, req dispatch.DispatchRequest) (*dispatch.Execution, error)
	Retry(ctx context.Context, id string) (*dispatch.Execution, error)
	Cancel(ctx context.Context, id string) (*dispatch.Execution, error)
	ApplyCallback(ctx context.Context, id string, u dispatch.CallbackUpdate) (*dispatch.Execution, error)
}

type scheduleTicker interface {
	Tick(ctx context.Context, now time.Time, opts schedule.TickOptions) (schedule.TickResult, error)
}

// API bundles the HTTP handlers of the control plane around the components
// they drive. The registry doubles as the health registry for probe runs.
type API struct {
	registry  instanceRegistry
	health    router.HealthRegistry
	prober    connectionProber
	directory tenantDirectory
	syncer    directorySyncer
	execs     executionReader
	orch      executionOrchestrator
	ticker    scheduleTicker
	signer    *dispatch.Signer
	logger    *log.Logger
}

// NewAPI wires the handler set. health may be nil when registry also
// satisfies router.HealthRegistry.
func NewAPI(registry instanceRegistry, health router.HealthRegistry, prober connectionProber,
	dir tenantDirectory, syncer directorySyncer, execs executionReader,
	orch executionOrchestrator, ticker scheduleTicker, signer *dispatch.Signer) *API {
	if health == nil {
		// instanceRegistry subsumes the health registry method set.
		health = registry
	}
	return &API{
		registry:  registry,
		health:    health,
		prober:    prober,
		directory: dir,
		syncer:    syncer,
		execs:     execs,
		orch:      orch,
		ticker:    ticker,
		signer:    signer,
		logger:    log.New(os.Stdout, "[API] ", log.LstdFlags),
	}
}

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func sendJSONResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data}); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(apiResponse{Success: false, Error: message}); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// instanceRequest is the write model for instance create and update. The
// password travels only in requests, never in responses.
type instanceRequest struct {
	Name              string `json:"name"`
	Host              string `json:"host"`
	Port              int    `json:"port"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	Database          string `json:"database"`
	ProvidersDatabase string `json:"providers_database"`
	AppURL            string `json:"app_url"`
	Active            bool   `json:"active"`
	Master            bool   `json:"master"`
}

func (req *instanceRequest) apply(inst *instances.Instance) {
	inst.Name = req.Name
	inst.Host = req.Host
	inst.Port = req.Port
	inst.Username = req.Username
	inst.Database = req.Database
	inst.ProvidersDatabase = req.ProvidersDatabase
	inst.AppURL = req.AppURL
	inst.Active = req.Active
	inst.Master = req.Master
}

func (a *API) listInstancesHandler(w http.ResponseWriter, r *http.Request) {
	onlyActive := r.URL.Query().Get("all") != "true"
	list, err := a.registry.List(r.Context(), onlyActive)
	if err != nil {
		sendErrorResponse(w, "Failed to list instances: "+err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSONResponse(w, list, http.StatusOK)
}

func (a *API) getInstanceHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	inst, err := a.registry.Get(r.Context(), id)
	if err == instances.ErrNotFound {
		sendErrorResponse(w, "Instance not found", http.StatusNotFound)
		return
	}
	if err != nil {
		sendErrorResponse(w, "Failed to load instance: "+err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSONResponse(w, inst, http.StatusOK)
}

func (a *API) createInstanceHandler(w http.ResponseWriter, r *http.Request) {
	var req instanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Password == "" {
		sendErrorResponse(w, "A new instance requires a password", http.StatusBadRequest)
		return
	}

	inst := &instances.Instance{}
	req.apply(inst)
	if err := a.registry.Save(r.Context(), inst, req.Password); err != nil {
		sendSaveError(w, err)
		return
	}
	sendJSONResponse(w, inst, http.StatusCreated)
}

func (a *API) updateInstanceHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	inst, err := a.registry.Get(r.Context(), id)
	if err == instances.ErrNotFound {
		sendErrorResponse(w, "Instance not found", http.StatusNotFound)
		return
	}
	if err != nil {
		sendErrorResponse(w, "Failed to load instance: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var req instanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	req.apply(inst)
	// An empty password keeps the stored credential.
	if err := a.registry.Save(r.Context(), inst, req.Password); err != nil {
		sendSaveError(w, err)
		return
	}
	// Pooled handles still point at the old address and credential.
	a.prober.Purge(inst.ID)
	sendJSONResponse(w, inst, http.StatusOK)
}

func sendSaveError(w http.ResponseWriter, err error) {
	var cv *instances.ConstraintViolation
	if errors.As(err, &cv) {
		sendErrorResponse(w, err.Error(), http.StatusConflict)
		return
	}
	sendErrorResponse(w, err.Error(), http.StatusBadRequest)
}

func (a *API) deleteInstanceHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = a.registry.Delete(r.Context(), id)
	if err == instances.ErrNotFound {
		sendErrorResponse(w, "Instance not found", http.StatusNotFound)
		return
	}
	var cv *instances.ConstraintViolation
	if errors.As(err, &cv) {
		sendErrorResponse(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		sendErrorResponse(w, "Failed to delete instance: "+err.Error(), http.StatusInternalServerError)
		return
	}
	a.prober.Purge(id)
	sendJSONResponse(w, map[string]int64{"deleted": id}, http.StatusOK)
}

func (a *API) probeInstanceHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	inst, err := a.registry.Get(r.Context(), id)
	if err == instances.ErrNotFound {
		sendErrorResponse(w, "Instance not found", http.StatusNotFound)
		return
	}
	if err != nil {
		sendErrorResponse(w, "Failed to load instance: "+err.Error(), http.StatusInternalServerError)
		return
	}

	result := a.prober.TestConnection(r.Context(), inst)
	state := result.HealthState()
	promProbesTotal.WithLabelValues(string(state)).Inc()
	if err := a.registry.UpdateHealth(r.Context(), inst.ID, state, time.Now()); err != nil {
		a.logger.Printf("Failed to record health of instance %d: %v", inst.ID, err)
	}
	sendJSONResponse(w, result, http.StatusOK)
}

func (a *API) runHealthChecksHandler(w http.ResponseWriter, r *http.Request) {
	results, err := a.prober.RunHealthChecks(r.Context(), a.health)
	if err != nil {
		sendErrorResponse(w, "Health check run failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	for _, res := range results {
		promProbesTotal.WithLabelValues(string(res.HealthState())).Inc()
	}
	sendJSONResponse(w, results, http.StatusOK)
}

func (a *API) syncInstanceTenantsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	inst, err := a.registry.Get(r.Context(), id)
	if err == instances.ErrNotFound {
		sendErrorResponse(w, "Instance not found", http.StatusNotFound)
		return
	}
	if err != nil {
		sendErrorResponse(w, "Failed to load instance: "+err.Error(), http.StatusInternalServerError)
		return
	}

	force := r.URL.Query().Get("force") == "true"
	result, err := a.syncer.SyncTenants(r.Context(), inst, force)
	recordSyncRun("tenants", result, err)
	if err != nil {
		sendErrorResponse(w, "Tenant sync failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	sendJSONResponse(w, result, http.StatusOK)
}

func (a *API) syncAllTenantsHandler(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	result, err := a.syncer.SyncAllTenants(r.Context(), force)
	recordSyncRun("tenants", result, err)
	if err != nil {
		sendErrorResponse(w, "Tenant sync failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSONResponse(w, result, http.StatusOK)
}

func (a *API) syncUserRoutingHandler(w http.ResponseWriter, r *http.Request) {
	truncate := r.URL.Query().Get("truncate") == "true"
	result, err := a.syncer.SyncUserRouting(r.Context(), truncate)
	recordSyncRun("user_routing", result, err)
	if errors.Is(err, instances.ErrNoMaster) {
		sendErrorResponse(w, "No master instance configured", http.StatusConflict)
		return
	}
	if err != nil {
		sendErrorResponse(w, "User routing sync failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	sendJSONResponse(w, result, http.StatusOK)
}

func recordSyncRun(kind string, result directory.SyncResult, err error) {
	status := "ok"
	if err != nil || result.Failed() {
		status = "error"
	}
	promSyncRuns.WithLabelValues(kind, status).Inc()
}

func (a *API) listTenantsHandler(w http.ResponseWriter, r *http.Request) {
	var instanceID int64
	if raw := r.URL.Query().Get("instance_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			sendErrorResponse(w, "Invalid instance_id", http.StatusBadRequest)
			return
		}
		instanceID = id
	}
	tenants, err := a.directory.ListTenants(r.Context(), instanceID)
	if err != nil {
		sendErrorResponse(w, "Failed to list tenants: "+err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSONResponse(w, tenants, http.StatusOK)
}

func (a *API) getTenantHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	tenant, err := a.directory.GetTenantByID(r.Context(), id)
	if err == directory.ErrTenantNotFound {
		sendErrorResponse(w, "Tenant not found", http.StatusNotFound)
		return
	}
	if err != nil {
		sendErrorResponse(w, "Failed to load tenant: "+err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSONResponse(w, tenant, http.StatusOK)
}

func (a *API) resolveLoginHandler(w http.ResponseWriter, r *http.Request) {
	login := mux.Vars(r)["login"]
	if login == "" {
		sendErrorResponse(w, "Login is required", http.StatusBadRequest)
		return
	}
	route, err := a.directory.ResolveLogin(r.Context(), login)
	if err == directory.ErrRouteNotFound {
		sendErrorResponse(w, "No route for login", http.StatusNotFound)
		return
	}
	if err != nil {
		sendErrorResponse(w, "Failed to resolve login: "+err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSONResponse(w, route, http.StatusOK)
}

func (a *API) listExecutionsHandler(w http.ResponseWriter, r *http.Request) {
	var f dispatch.Filter
	q := r.URL.Query()
	if raw := q.Get("tenant_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			sendErrorResponse(w, "Invalid tenant_id", http.StatusBadRequest)
			return
		}
		f.TenantID = id
	}
	if raw := q.Get("status"); raw != "" {
		status := dispatch.ExecutionStatus(raw)
		if !status.Valid() {
			sendErrorResponse(w, "Invalid status "+raw, http.StatusBadRequest)
			return
		}
		f.Status = status
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			sendErrorResponse(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = limit
	}

	list, err := a.execs.List(r.Context(), f)
	if err != nil {
		sendErrorResponse(w, "Failed to list executions: "+err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSONResponse(w, list, http.StatusOK)
}

func (a *API) getExecutionHandler(w http.ResponseWriter, r *http.Request) {
	exec, err := a.execs.Get(r.Context(), mux.Vars(r)["id"])
	if err == dispatch.ErrExecutionNotFound {
		sendErrorResponse(w, "Execution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		sendErrorResponse(w, "Failed to load execution: "+err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSONResponse(w, exec, http.StatusOK)
}

// dispatchRequest is the write model for manual and API dispatches.
type dispatchRequest struct {
	TenantID int64              `json:"tenant_id"`
	Commands []dispatch.Command `json:"commands"`
	IsChain  bool               `json:"is_chain"`
	Source   string             `json:"source"`
	Force    bool               `json:"force"`
}

func (a *API) dispatchHandler(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.TenantID <= 0 || len(req.Commands) == 0 {
		sendErrorResponse(w, "tenant_id and at least one command are required", http.StatusBadRequest)
		return
	}
	source := dispatch.TriggerSource(req.Source)
	if req.Source == "" {
		source = dispatch.SourceAPI
	}
	if !source.Valid() {
		sendErrorResponse(w, "Invalid source "+req.Source, http.StatusBadRequest)
		return
	}

	exec, err := a.orch.Dispatch(r.Context(), dispatch.DispatchRequest{
		TenantID: req.TenantID,
		Commands: req.Commands,
		IsChain:  req.IsChain,
		Source:   source,
		Force:    req.Force,
	})
	var inflight *dispatch.ErrExecutionInFlight
	if errors.As(err, &inflight) {
		promDispatchesTotal.WithLabelValues(string(source), "rejected").Inc()
		sendErrorResponse(w, err.Error(), http.StatusConflict)
		return
	}
	if errors.Is(err, directory.ErrTenantNotFound) {
		sendErrorResponse(w, "Tenant not found", http.StatusNotFound)
		return
	}
	if err != nil {
		promDispatchesTotal.WithLabelValues(string(source), "failed").Inc()
		// Delivery failures still produce a terminal record worth returning.
		if exec != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			resp := apiResponse{Success: false, Data: exec, Error: err.Error()}
			if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
				log.Printf("Error encoding response: %v", encErr)
			}
			return
		}
		sendErrorResponse(w, "Dispatch failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	promDispatchesTotal.WithLabelValues(string(source), "ok").Inc()
	sendJSONResponse(w, exec, http.StatusCreated)
}

func (a *API) cancelExecutionHandler(w http.ResponseWriter, r *http.Request) {
	exec, err := a.orch.Cancel(r.Context(), mux.Vars(r)["id"])
	if err == dispatch.ErrExecutionNotFound {
		sendErrorResponse(w, "Execution not found", http.StatusNotFound)
		return
	}
	if err == dispatch.ErrAlreadyTerminal {
		sendErrorResponse(w, "Execution already finished", http.StatusConflict)
		return
	}
	if err != nil {
		sendErrorResponse(w, "Cancel failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSONResponse(w, exec, http.StatusOK)
}

func (a *API) retryExecutionHandler(w http.ResponseWriter, r *http.Request) {
	exec, err := a.orch.Retry(r.Context(), mux.Vars(r)["id"])
	if err == dispatch.ErrExecutionNotFound {
		sendErrorResponse(w, "Execution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		if exec != nil {
			sendErrorResponse(w, "Retry delivery failed: "+err.Error(), http.StatusBadGateway)
			return
		}
		sendErrorResponse(w, "Retry failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	sendJSONResponse(w, exec, http.StatusCreated)
}

// callbackRequest is the body remote applications POST back as a command
// batch progresses.
type callbackRequest struct {
	Status         string `json:"status"`
	Output         string `json:"output"`
	ErrorMessage   string `json:"error_message"`
	PID            int    `json:"pid"`
	CompletedSteps int    `json:"completed_steps"`
}

// executionCallbackHandler receives signed status callbacks from remote
// applications. It is authenticated by the webhook signature, not by JWT.
func (a *API) executionCallbackHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		sendErrorResponse(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if err := a.signer.Verify(r.Header.Get(dispatch.SignatureHeader), body); err != nil {
		promCallbacksTotal.WithLabelValues("unauthorized").Inc()
		sendErrorResponse(w, "Invalid callback signature", http.StatusUnauthorized)
		return
	}

	var req callbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	status := dispatch.ExecutionStatus(req.Status)
	if !status.Valid() {
		sendErrorResponse(w, "Invalid status "+req.Status, http.StatusBadRequest)
		return
	}

	id := mux.Vars(r)["id"]
	exec, err := a.orch.ApplyCallback(r.Context(), id, dispatch.CallbackUpdate{
		Status:         status,
		Output:         req.Output,
		ErrorMessage:   req.ErrorMessage,
		PID:            req.PID,
		CompletedSteps: req.CompletedSteps,
	})
	if err == dispatch.ErrExecutionNotFound {
		promCallbacksTotal.WithLabelValues("unknown").Inc()
		sendErrorResponse(w, "Execution not found", http.StatusNotFound)
		return
	}
	if err == dispatch.ErrAlreadyTerminal {
		// A replayed callback matching the stored terminal status is
		// acknowledged so remotes stop retrying. Only a conflicting
		// write against a finished execution is rejected.
		if current, getErr := a.execs.Get(r.Context(), id); getErr == nil && current.Status == status {
			promCallbacksTotal.WithLabelValues("replayed").Inc()
			sendJSONResponse(w, current, http.StatusOK)
			return
		}
		promCallbacksTotal.WithLabelValues("stale").Inc()
		sendErrorResponse(w, "Execution already finished", http.StatusConflict)
		return
	}
	if err != nil {
		promCallbacksTotal.WithLabelValues("error").Inc()
		sendErrorResponse(w, "Callback failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	promCallbacksTotal.WithLabelValues(string(status)).Inc()
	sendJSONResponse(w, exec, http.StatusOK)
}

// tickRequest is the body for operator-driven schedule runs.
type tickRequest struct {
	TenantID  int64  `json:"tenant_id"`
	Frequency string `json:"frequency"`
	DryRun    bool   `json:"dry_run"`
}

func (a *API) scheduleTickHandler(w http.ResponseWriter, r *http.Request) {
	var req tickRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	freq := schedule.Frequency(req.Frequency)
	if req.Frequency != "" && !freq.Valid() {
		sendErrorResponse(w, "Invalid frequency "+req.Frequency, http.StatusBadRequest)
		return
	}

	result, err := a.ticker.Tick(r.Context(), time.Now(), schedule.TickOptions{
		TenantID:  req.TenantID,
		Frequency: freq,
		DryRun:    req.DryRun,
	})
	if err != nil {
		sendErrorResponse(w, "Schedule tick failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSONResponse(w, result, http.StatusOK)
}
