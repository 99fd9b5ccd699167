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

package instances

import (
	"errors"
	"fmt"
	"time"
)

// HealthState describes the last observed health of an instance.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthDown     HealthState = "down"
	HealthUnknown  HealthState = "unknown"
)

// Instance is one remote database+application endpoint hosting tenants.
// The database credential is stored encrypted and is never serialized;
// use Store.Credential to obtain the decrypted connection credential.
type Instance struct {
	ID                int64       `json:"id"`
	Name              string      `json:"name"`
	Host              string      `json:"host"`
	Port              int         `json:"port"`
	Username          string      `json:"username"`
	EncryptedPassword []byte      `json:"-"`
	Database          string      `json:"database"`
	ProvidersDatabase string      `json:"providers_database"`
	AppURL            string      `json:"app_url"`
	Active            bool        `json:"active"`
	Master            bool        `json:"master"`
	Health            HealthState `json:"health"`
	LastHealthCheck   *time.Time  `json:"last_health_check,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Credential is a decrypted connection credential. It exists only in memory.
type Credential struct {
	Username string
	Password string
}

// ErrNotFound is returned when an instance does not exist.
var ErrNotFound = errors.New("instance not found")

// ErrNoMaster is returned when an operation requires a master instance and
// none is configured.
var ErrNoMaster = errors.New("no master instance configured")

// ConstraintViolation is returned when a delete would break an invariant,
// such as removing the master instance or an instance that still owns
// cached tenants.
type ConstraintViolation struct {
	InstanceID int64
	Reason     string
}

func (e *ConstraintViolation) Error() string {
	return fmt.Sprintf("instance %d: %s", e.InstanceID, e.Reason)
}

// Validate checks the fields an administrator must supply before a save.
func (i *Instance) Validate() error {
	if i.Name == "" {
		return fmt.Errorf("instance name is required")
	}
	if i.Host == "" {
		return fmt.Errorf("instance host is required")
	}
	if i.Port <= 0 || i.Port > 65535 {
		return fmt.Errorf("instance port %d is out of range", i.Port)
	}
	if i.Database == "" {
		return fmt.Errorf("primary database name is required")
	}
	return nil
}

// Addr returns the host:port network address of the instance.
func (i *Instance) Addr() string {
	return fmt.Sprintf("%s:%d", i.Host, i.Port)
}
