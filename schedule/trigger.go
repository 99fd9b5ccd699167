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

package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"fleetbridge/platform/directory"
	"fleetbridge/platform/dispatch"
	"fleetbridge/platform/instances"
	"fleetbridge/platform/router"
)

// tenantLister reads the local tenant directory. directory.Store satisfies
// it.
type tenantLister interface {
	ListTenants(ctx context.Context, instanceID int64) ([]*directory.Tenant, error)
}

// instanceSource resolves instances. instances.Store satisfies it.
type instanceSource interface {
	Get(ctx context.Context, id int64) (*instances.Instance, error)
}

// connSource provisions remote handles. router.Router satisfies it.
type connSource interface {
	Get(ctx context.Context, inst *instances.Instance, role router.DatabaseRole) (*sql.DB, error)
}

// dispatcher hands finished batches to the orchestrator.
type dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.DispatchRequest) (*dispatch.Execution, error)
}

// Trigger turns due frequencies into per-tenant command batches.
type Trigger struct {
	tenants    tenantLister
	instances  instanceSource
	conns      connSource
	dispatcher dispatcher
	logger     *log.Logger
}

// NewTrigger wires a Trigger over the directory, instance registry,
// connection router, and orchestrator.
func NewTrigger(tenants tenantLister, insts instanceSource, conns connSource, d dispatcher) *Trigger {
	return &Trigger{
		tenants:    tenants,
		instances:  insts,
		conns:      conns,
		dispatcher: d,
		logger:     log.New(os.Stdout, "[SCHEDULE] ", log.LstdFlags),
	}
}

// TickOptions narrows one tick. Zero values mean no override.
type TickOptions struct {
	// TenantID restricts the tick to one tenant.
	TenantID int64
	// Frequency replaces the wall-clock due set, for operator-driven
	// catch-up runs.
	Frequency Frequency
	// DryRun renders batches without dispatching anything.
	DryRun bool
}

// TenantBatch is the rendered command list for one tenant this tick.
type TenantBatch struct {
	TenantID   int64    `json:"tenant_id"`
	TenantName string   `json:"tenant_name"`
	Commands   []string `json:"commands"`
}

// TickResult summarizes one tick in synced/skipped/errored style.
type TickResult struct {
	Due        []Frequency   `json:"due"`
	Planned    []TenantBatch `json:"planned"`
	Dispatched int           `json:"dispatched"`
	Skipped    int           `json:"skipped"`
	Errored    int           `json:"errored"`
	DryRun     bool          `json:"dry_run"`
}

// commandDef is one enabled command definition read from a tenant's
// instance.
type commandDef struct {
	Command             string
	Parameters          string
	Frequency           string
	RequiredIntegration string
	PerTenant           bool
	RetryEnabled        bool
}

// Tick computes the due frequencies for now, collects each tenant's
// eligible command definitions from its instance, and dispatches one batch
// per tenant. An unreachable instance skips that tenant only; it never
// blocks scheduling for the rest of the fleet.
func (t *Trigger) Tick(ctx context.Context, now time.Time, opts TickOptions) (TickResult, error) {
	result := TickResult{DryRun: opts.DryRun}

	if opts.Frequency != "" {
		if !opts.Frequency.Valid() {
			return result, fmt.Errorf("unknown frequency %q", opts.Frequency)
		}
		result.Due = []Frequency{opts.Frequency}
	} else {
		result.Due = DueFrequencies(now)
	}

	tenants, err := t.tenants.ListTenants(ctx, 0)
	if err != nil {
		return result, fmt.Errorf("failed to list tenants: %w", err)
	}

	for _, tenant := range tenants {
		if opts.TenantID != 0 && tenant.ID != opts.TenantID {
			continue
		}
		if tenant.Status == directory.StatusSuspended || tenant.Status == directory.StatusCancelled {
			result.Skipped++
			continue
		}

		commands, err := t.collectCommands(ctx, tenant, result.Due, now)
		if err != nil {
			t.logger.Printf("Skipping tenant %d (%s): %v", tenant.ID, tenant.Name, err)
			result.Errored++
			continue
		}
		if len(commands) == 0 {
			result.Skipped++
			continue
		}

		names := make([]string, len(commands))
		for i, c := range commands {
			names[i] = c.Command
		}
		result.Planned = append(result.Planned, TenantBatch{
			TenantID:   tenant.ID,
			TenantName: tenant.Name,
			Commands:   names,
		})

		if opts.DryRun {
			continue
		}

		_, err = t.dispatcher.Dispatch(ctx, dispatch.DispatchRequest{
			TenantID: tenant.ID,
			Commands: commands,
			IsChain:  len(commands) > 1,
			Source:   dispatch.SourceScheduled,
		})
		var inflight *dispatch.ErrExecutionInFlight
		if errors.As(err, &inflight) {
			t.logger.Printf("Tenant %d already has execution %s in flight, skipping",
				tenant.ID, inflight.ExecutionID)
			result.Skipped++
			continue
		}
		if err != nil {
			t.logger.Printf("Dispatch for tenant %d failed: %v", tenant.ID, err)
			result.Errored++
			continue
		}
		result.Dispatched++
	}

	t.logger.Printf("Tick due=%v dispatched=%d skipped=%d errored=%d dryRun=%v",
		result.Due, result.Dispatched, result.Skipped, result.Errored, result.DryRun)
	return result, nil
}

// collectCommands reads the tenant's due command definitions from its
// instance, filters them by the tenant's enabled integrations, and renders
// each into a concrete command string.
func (t *Trigger) collectCommands(ctx context.Context, tenant *directory.Tenant,
	due []Frequency, now time.Time) ([]dispatch.Command, error) {
	inst, err := t.instances.Get(ctx, tenant.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve instance %d: %w", tenant.InstanceID, err)
	}

	db, err := t.conns.Get(ctx, inst, router.RolePrimary)
	if err != nil {
		return nil, fmt.Errorf("instance %d unreachable: %w", inst.ID, err)
	}

	defs, err := fetchCommandDefs(ctx, db, due)
	if err != nil {
		return nil, err
	}

	// Only load the integration set when a definition actually gates on
	// one.
	var integrations map[string]bool
	for _, def := range defs {
		if def.RequiredIntegration != "" {
			integrations, err = t.fetchIntegrations(ctx, inst, tenant.RemoteID)
			if err != nil {
				return nil, err
			}
			break
		}
	}

	var commands []dispatch.Command
	for _, def := range defs {
		if def.RequiredIntegration != "" && !integrations[def.RequiredIntegration] {
			continue
		}
		rendered, err := renderCommand(def, tenant.RemoteID, now)
		if err != nil {
			t.logger.Printf("Skipping command %q for tenant %d: %v", def.Command, tenant.ID, err)
			continue
		}
		commands = append(commands, dispatch.Command{
			Command: rendered,
			Retry:   def.RetryEnabled,
		})
	}
	return commands, nil
}

func (t *Trigger) fetchIntegrations(ctx context.Context, inst *instances.Instance,
	remoteTenantID int64) (map[string]bool, error) {
	db, err := t.conns.Get(ctx, inst, router.RoleProviders)
	if err != nil {
		return nil, fmt.Errorf("providers catalog on instance %d unreachable: %w", inst.ID, err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT integration FROM tenant_integrations
		WHERE tenant_id = ? AND enabled = 1`, remoteTenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	enabled := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		enabled[name] = true
	}
	return enabled, rows.Err()
}

func fetchCommandDefs(ctx context.Context, db *sql.DB, due []Frequency) ([]commandDef, error) {
	placeholders := make([]string, len(due))
	args := make([]interface{}, len(due))
	for i, f := range due {
		placeholders[i] = "?"
		args[i] = string(f)
	}

	query := fmt.Sprintf(`
		SELECT command, parameters, frequency, required_integration, per_tenant, retry_enabled
		FROM scheduled_commands
		WHERE enabled = 1 AND frequency IN (%s)
		ORDER BY id`, strings.Join(placeholders, ","))

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list command definitions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var defs []commandDef
	for rows.Next() {
		var def commandDef
		if err := rows.Scan(&def.Command, &def.Parameters, &def.Frequency,
			&def.RequiredIntegration, &def.PerTenant, &def.RetryEnabled); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func renderCommand(def commandDef, remoteTenantID int64, now time.Time) (string, error) {
	cmd := def.Command
	if def.Parameters != "" {
		params, err := ResolveDateExprs(def.Parameters, now)
		if err != nil {
			return "", err
		}
		cmd += " " + params
	}
	if def.PerTenant {
		cmd += fmt.Sprintf(" --tenant=%d", remoteTenantID)
	}
	return cmd, nil
}
