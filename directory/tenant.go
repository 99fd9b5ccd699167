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
	"errors"
	"time"
)

// TenantStatus is a tenant's lifecycle state as reported by its instance.
type TenantStatus string

const (
	StatusActive    TenantStatus = "active"
	StatusTrial     TenantStatus = "trial"
	StatusSuspended TenantStatus = "suspended"
	StatusCancelled TenantStatus = "cancelled"
)

// Tenant is the control plane's cached summary of one remote tenant.
// Unique on (InstanceID, RemoteID).
type Tenant struct {
	ID            int64        `json:"id"`
	InstanceID    int64        `json:"instance_id"`
	RemoteID      int64        `json:"remote_id"`
	Name          string       `json:"name"`
	ContactEmail  string       `json:"contact_email"`
	Status        TenantStatus `json:"status"`
	TrialEndsAt   *time.Time   `json:"trial_ends_at,omitempty"`
	UserCount     int          `json:"user_count"`
	LocationCount int          `json:"location_count"`
	RefreshedAt   time.Time    `json:"refreshed_at"`
}

// UserRoute maps a normalized login to the instance and tenant owning it.
// Unique on (Login, TenantID).
type UserRoute struct {
	ID           int64     `json:"id"`
	Login        string    `json:"login"`
	InstanceID   int64     `json:"instance_id"`
	TenantID     int64     `json:"tenant_id"`
	RemoteUserID int64     `json:"remote_user_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ErrTenantNotFound is returned when a tenant is absent from the local cache.
var ErrTenantNotFound = errors.New("tenant not found in directory")

// ErrRouteNotFound is returned when no routing entry exists for a login.
var ErrRouteNotFound = errors.New("user route not found")

// SyncResult aggregates the outcome of a fleet-wide sync. Operators need to
// tell "everything worked", "some items unreachable", and "total failure"
// apart, so every sync reports all three counters.
type SyncResult struct {
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
	Errored int `json:"errored"`
}

// Failed reports whether the sync should be treated as an overall failure:
// nothing was written and at least one error occurred.
func (r SyncResult) Failed() bool {
	return r.Synced == 0 && r.Errored > 0
}

// Merge adds another result's counters into this one.
func (r *SyncResult) Merge(other SyncResult) {
	r.Synced += other.Synced
	r.Skipped += other.Skipped
	r.Errored += other.Errored
}
