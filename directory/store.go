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
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// DefaultStaleAfter is the directory staleness threshold when none is
// configured.
const DefaultStaleAfter = 45 * time.Minute

// Store persists the tenant directory and user routing caches in PostgreSQL.
type Store struct {
	db         *sql.DB
	staleAfter time.Duration
	cache      *LookupCache // optional hot-path routing cache
	logger     *log.Logger
}

// NewStore creates a directory store and initializes its schema. A
// staleAfter of zero selects DefaultStaleAfter.
func NewStore(db *sql.DB, staleAfter time.Duration) (*Store, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	s := &Store{
		db:         db,
		staleAfter: staleAfter,
		logger:     log.New(log.Writer(), "[DIRECTORY] ", log.LstdFlags),
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize directory schema: %w", err)
	}
	return s, nil
}

// SetLookupCache wires an optional redis-backed routing cache. Safe to leave
// unset; every read falls through to SQL.
func (s *Store) SetLookupCache(cache *LookupCache) {
	s.cache = cache
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS tenant_directory (
		id BIGSERIAL PRIMARY KEY,
		instance_id BIGINT NOT NULL,
		remote_id BIGINT NOT NULL,
		name VARCHAR(255) NOT NULL,
		contact_email VARCHAR(255) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL DEFAULT 'active',
		trial_ends_at TIMESTAMPTZ,
		user_count INTEGER NOT NULL DEFAULT 0,
		location_count INTEGER NOT NULL DEFAULT 0,
		refreshed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(instance_id, remote_id)
	);

	CREATE TABLE IF NOT EXISTS user_routing (
		id BIGSERIAL PRIMARY KEY,
		login VARCHAR(255) NOT NULL,
		instance_id BIGINT NOT NULL,
		tenant_id BIGINT NOT NULL,
		remote_user_id BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(login, tenant_id)
	);

	CREATE INDEX IF NOT EXISTS idx_tenant_directory_instance ON tenant_directory(instance_id);
	CREATE INDEX IF NOT EXISTS idx_user_routing_login ON user_routing(login);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const tenantColumns = `id, instance_id, remote_id, name, contact_email, status,
	trial_ends_at, user_count, location_count, refreshed_at`

// UpsertTenant inserts or refreshes a directory entry keyed by
// (instance, remote id). Repeated syncs of an unchanged tenant only move
// refreshed_at.
func (s *Store) UpsertTenant(ctx context.Context, t *Tenant) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tenant_directory (instance_id, remote_id, name, contact_email,
			status, trial_ends_at, user_count, location_count, refreshed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (instance_id, remote_id) DO UPDATE SET
			name=EXCLUDED.name,
			contact_email=EXCLUDED.contact_email,
			status=EXCLUDED.status,
			trial_ends_at=EXCLUDED.trial_ends_at,
			user_count=EXCLUDED.user_count,
			location_count=EXCLUDED.location_count,
			refreshed_at=NOW()
		RETURNING id, refreshed_at`,
		t.InstanceID, t.RemoteID, t.Name, t.ContactEmail, string(t.Status),
		t.TrialEndsAt, t.UserCount, t.LocationCount,
	).Scan(&t.ID, &t.RefreshedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant %d/%d: %w", t.InstanceID, t.RemoteID, err)
	}
	return nil
}

// GetTenant looks up a directory entry by its owning instance and remote id.
func (s *Store) GetTenant(ctx context.Context, instanceID, remoteID int64) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenant_directory WHERE instance_id=$1 AND remote_id=$2`,
		instanceID, remoteID)
	return scanTenant(row)
}

// GetTenantByID looks up a directory entry by its local id.
func (s *Store) GetTenantByID(ctx context.Context, id int64) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenant_directory WHERE id=$1`, id)
	return scanTenant(row)
}

// ListTenants returns directory entries, optionally restricted to one
// instance (instanceID zero means all).
func (s *Store) ListTenants(ctx context.Context, instanceID int64) ([]*Tenant, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if instanceID > 0 {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+tenantColumns+` FROM tenant_directory WHERE instance_id=$1 ORDER BY id`,
			instanceID)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+tenantColumns+` FROM tenant_directory ORDER BY id`)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// IsStale reports whether a directory entry is older than the staleness
// threshold. Staleness gates whether a sync may skip the entry, not whether
// reads are served.
func (s *Store) IsStale(t *Tenant) bool {
	return time.Since(t.RefreshedAt) > s.staleAfter
}

// UpsertUserRoute inserts or refreshes a routing entry keyed by
// (login, tenant). Logins are lower-cased so routing lookups stay
// case-insensitive regardless of database collation.
func (s *Store) UpsertUserRoute(ctx context.Context, r *UserRoute) error {
	r.Login = strings.ToLower(r.Login)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO user_routing (login, instance_id, tenant_id, remote_user_id, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (login, tenant_id) DO UPDATE SET
			instance_id=EXCLUDED.instance_id,
			remote_user_id=EXCLUDED.remote_user_id,
			updated_at=NOW()
		RETURNING id, updated_at`,
		r.Login, r.InstanceID, r.TenantID, r.RemoteUserID,
	).Scan(&r.ID, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert route for %q: %w", r.Login, err)
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, r); err != nil {
			s.logger.Printf("Failed to cache route for %q: %v", r.Login, err)
		}
	}
	return nil
}

// TruncateUserRoutes removes every cached routing entry.
func (s *Store) TruncateUserRoutes(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `TRUNCATE user_routing`); err != nil {
		return fmt.Errorf("failed to truncate user routing: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Flush(ctx); err != nil {
			s.logger.Printf("Failed to flush route cache: %v", err)
		}
	}
	return nil
}

// ResolveLogin returns the routing entry for a login, consulting the redis
// cache first when one is wired.
func (s *Store) ResolveLogin(ctx context.Context, login string) (*UserRoute, error) {
	login = strings.ToLower(login)

	if s.cache != nil {
		if route, ok := s.cache.Get(ctx, login); ok {
			return route, nil
		}
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, login, instance_id, tenant_id, remote_user_id, updated_at
		FROM user_routing WHERE login=$1 LIMIT 1`, login)

	var r UserRoute
	err := row.Scan(&r.ID, &r.Login, &r.InstanceID, &r.TenantID, &r.RemoteUserID, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRouteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve login %q: %w", login, err)
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, &r); err != nil {
			s.logger.Printf("Failed to cache route for %q: %v", login, err)
		}
	}
	return &r, nil
}

func scanTenant(row interface {
	Scan(dest ...interface{}) error
}) (*Tenant, error) {
	var t Tenant
	var trialEnds sql.NullTime
	err := row.Scan(&t.ID, &t.InstanceID, &t.RemoteID, &t.Name, &t.ContactEmail,
		&t.Status, &trialEnds, &t.UserCount, &t.LocationCount, &t.RefreshedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}
	if trialEnds.Valid {
		t.TrialEndsAt = &trialEnds.Time
	}
	return &t, nil
}
