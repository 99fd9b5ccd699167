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

package directory

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	"fleetbridge/platform/instances"
	"fleetbridge/platform/router"
)

// localDirectory is the slice of Store the syncer writes through.
type localDirectory interface {
	GetTenant(ctx context.Context, instanceID, remoteID int64) (*Tenant, error)
	IsStale(t *Tenant) bool
	UpsertTenant(ctx context.Context, t *Tenant) error
	UpsertUserRoute(ctx context.Context, r *UserRoute) error
	TruncateUserRoutes(ctx context.Context) error
}

// instanceSource is the slice of the instance registry the syncer reads.
type instanceSource interface {
	List(ctx context.Context, onlyActive bool) ([]*instances.Instance, error)
	Master(ctx context.Context) (*instances.Instance, error)
}

// connSource provisions remote database handles. router.Router satisfies it.
type connSource interface {
	Get(ctx context.Context, inst *instances.Instance, role router.DatabaseRole) (*sql.DB, error)
}

// Syncer refreshes the local tenant directory and user routing caches from
// the remote instances.
type Syncer struct {
	dir       localDirectory
	instances instanceSource
	conns     connSource
	logger    *log.Logger
}

// NewSyncer wires a Syncer over the directory store, instance registry, and
// connection router.
func NewSyncer(dir localDirectory, src instanceSource, conns connSource) *Syncer {
	return &Syncer{
		dir:       dir,
		instances: src,
		conns:     conns,
		logger:    log.New(os.Stdout, "[SYNC] ", log.LstdFlags),
	}
}

// remoteTenant is one row of an instance's tenants table.
type remoteTenant struct {
	ID          int64
	Name        string
	Email       string
	Status      string
	TrialEndsAt sql.NullTime
}

// SyncTenants mirrors every tenant of one instance into the local directory.
// Entries that are present and fresh are skipped unless force is set. A
// failure on one tenant is counted and logged, never fatal to the rest.
func (s *Syncer) SyncTenants(ctx context.Context, inst *instances.Instance, force bool) (SyncResult, error) {
	var result SyncResult

	db, err := s.conns.Get(ctx, inst, router.RolePrimary)
	if err != nil {
		return result, fmt.Errorf("instance %d unreachable: %w", inst.ID, err)
	}

	remote, err := listRemoteTenants(ctx, db)
	if err != nil {
		return result, fmt.Errorf("failed to list tenants on instance %d: %w", inst.ID, err)
	}

	for _, rt := range remote {
		existing, err := s.dir.GetTenant(ctx, inst.ID, rt.ID)
		if err == nil && !force && !s.dir.IsStale(existing) {
			result.Skipped++
			continue
		}
		if err != nil && err != ErrTenantNotFound {
			s.logger.Printf("Directory lookup failed for tenant %d/%d: %v", inst.ID, rt.ID, err)
			result.Errored++
			continue
		}

		userCount, locationCount, err := fetchTenantCounts(ctx, db, rt.ID)
		if err != nil {
			s.logger.Printf("Count query failed for tenant %d/%d: %v", inst.ID, rt.ID, err)
			result.Errored++
			continue
		}

		entry := &Tenant{
			InstanceID:    inst.ID,
			RemoteID:      rt.ID,
			Name:          rt.Name,
			ContactEmail:  strings.ToLower(rt.Email),
			Status:        normalizeStatus(rt.Status),
			UserCount:     userCount,
			LocationCount: locationCount,
		}
		if rt.TrialEndsAt.Valid {
			entry.TrialEndsAt = &rt.TrialEndsAt.Time
		}

		if err := s.dir.UpsertTenant(ctx, entry); err != nil {
			s.logger.Printf("Upsert failed for tenant %d/%d: %v", inst.ID, rt.ID, err)
			result.Errored++
			continue
		}
		result.Synced++
	}

	s.logger.Printf("Tenant sync for instance %d: synced=%d skipped=%d errored=%d",
		inst.ID, result.Synced, result.Skipped, result.Errored)
	return result, nil
}

// SyncAllTenants runs SyncTenants across every active instance. An
// unreachable instance is counted as one error and the sync moves on.
func (s *Syncer) SyncAllTenants(ctx context.Context, force bool) (SyncResult, error) {
	var result SyncResult

	insts, err := s.instances.List(ctx, true)
	if err != nil {
		return result, fmt.Errorf("failed to list instances: %w", err)
	}

	for _, inst := range insts {
		r, err := s.SyncTenants(ctx, inst, force)
		if err != nil {
			s.logger.Printf("Tenant sync failed for instance %d: %v", inst.ID, err)
			result.Errored++
			continue
		}
		result.Merge(r)
	}
	return result, nil
}

// SyncUserRouting mirrors the user routing table of the master instance.
// Rows whose tenant is missing from the local directory are skipped and
// counted; they resolve themselves once a tenant sync has run. Fails fast
// when no master instance is configured.
func (s *Syncer) SyncUserRouting(ctx context.Context, truncate bool) (SyncResult, error) {
	var result SyncResult

	master, err := s.instances.Master(ctx)
	if err != nil {
		return result, err
	}

	db, err := s.conns.Get(ctx, master, router.RolePrimary)
	if err != nil {
		return result, fmt.Errorf("master instance %d unreachable: %w", master.ID, err)
	}

	if truncate {
		if err := s.dir.TruncateUserRoutes(ctx); err != nil {
			return result, err
		}
	}

	rows, err := db.QueryContext(ctx,
		`SELECT email, instance_id, tenant_id, user_id FROM user_routing`)
	if err != nil {
		return result, fmt.Errorf("failed to list user routing on master: %w", err)
	}
	defer func() { _ = rows.Close() }()

	skippedTenants := make(map[int64]bool)
	for rows.Next() {
		var (
			login          string
			instanceID     int64
			remoteTenantID int64
			remoteUserID   int64
		)
		if err := rows.Scan(&login, &instanceID, &remoteTenantID, &remoteUserID); err != nil {
			s.logger.Printf("Failed to scan routing row: %v", err)
			result.Errored++
			continue
		}

		tenant, err := s.dir.GetTenant(ctx, instanceID, remoteTenantID)
		if err == ErrTenantNotFound {
			// Not an error needing remediation: the tenant simply has not
			// been synced yet.
			if !skippedTenants[remoteTenantID] {
				s.logger.Printf("Skipping routes for tenant %d/%d: tenant sync required",
					instanceID, remoteTenantID)
				skippedTenants[remoteTenantID] = true
			}
			result.Skipped++
			continue
		}
		if err != nil {
			s.logger.Printf("Directory lookup failed for tenant %d/%d: %v", instanceID, remoteTenantID, err)
			result.Errored++
			continue
		}

		route := &UserRoute{
			Login:        strings.ToLower(login),
			InstanceID:   instanceID,
			TenantID:     tenant.ID,
			RemoteUserID: remoteUserID,
		}
		if err := s.dir.UpsertUserRoute(ctx, route); err != nil {
			s.logger.Printf("Route upsert failed for %q: %v", route.Login, err)
			result.Errored++
			continue
		}
		result.Synced++
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("error iterating routing rows: %w", err)
	}

	s.logger.Printf("User routing sync: synced=%d skipped=%d errored=%d",
		result.Synced, result.Skipped, result.Errored)
	return result, nil
}

func listRemoteTenants(ctx context.Context, db *sql.DB) ([]remoteTenant, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, name, email, status, trial_ends_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []remoteTenant
	for rows.Next() {
		var rt remoteTenant
		if err := rows.Scan(&rt.ID, &rt.Name, &rt.Email, &rt.Status, &rt.TrialEndsAt); err != nil {
			return nil, err
		}
		result = append(result, rt)
	}
	return result, rows.Err()
}

func fetchTenantCounts(ctx context.Context, db *sql.DB, remoteID int64) (users, locations int, err error) {
	if err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE tenant_id = ?`, remoteID).Scan(&users); err != nil {
		return 0, 0, err
	}
	if err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM locations WHERE tenant_id = ?`, remoteID).Scan(&locations); err != nil {
		return 0, 0, err
	}
	return users, locations, nil
}

func normalizeStatus(raw string) TenantStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trial":
		return StatusTrial
	case "suspended":
		return StatusSuspended
	case "cancelled", "canceled":
		return StatusCancelled
	default:
		return StatusActive
	}
}
