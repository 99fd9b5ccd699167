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

package router

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"fleetbridge/platform/instances"
)

// DatabaseRole selects which logical database of an instance a handle
// points at.
type DatabaseRole string

const (
	// RolePrimary is the instance's main application database.
	RolePrimary DatabaseRole = "primary"
	// RoleProviders is the instance's auxiliary providers catalog.
	RoleProviders DatabaseRole = "providers"
)

const (
	// DefaultMaxOpenConns is the per-handle connection pool ceiling.
	DefaultMaxOpenConns = 10
	// DefaultMaxIdleConns is the per-handle idle connection count.
	DefaultMaxIdleConns = 2
	// DefaultConnMaxLifetime bounds how long a pooled connection lives.
	DefaultConnMaxLifetime = 5 * time.Minute
	// DefaultConnectTimeout bounds the initial ping on a fresh handle.
	DefaultConnectTimeout = 10 * time.Second
)

// CredentialSource resolves the decrypted connection credential for an
// instance. instances.Store satisfies it.
type CredentialSource interface {
	Credential(inst *instances.Instance) *instances.Credential
}

// RouteError wraps a failure at the connection-routing boundary.
type RouteError struct {
	InstanceID int64
	Operation  string
	Message    string
	Cause      error
}

func (e *RouteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("instance %d: %s: %s (cause: %v)", e.InstanceID, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("instance %d: %s: %s", e.InstanceID, e.Operation, e.Message)
}

func (e *RouteError) Unwrap() error { return e.Cause }

// Router provisions and caches database handles for remote instances.
// Handles are keyed by (instance id, database role); repeated calls for the
// same key reuse the pooled handle, distinct instances never share state.
// The cache is a performance optimization only and is safe to discard at
// any time.
type Router struct {
	mu      sync.RWMutex
	handles map[string]*sql.DB
	creds   CredentialSource
	logger  *log.Logger

	// open is the handle factory; replaced in tests.
	open func(dsn string) (*sql.DB, error)

	connectTimeout time.Duration
}

// New creates a Router resolving credentials through creds.
func New(creds CredentialSource) *Router {
	return &Router{
		handles:        make(map[string]*sql.DB),
		creds:          creds,
		logger:         log.New(os.Stdout, "[ROUTER] ", log.LstdFlags),
		open:           func(dsn string) (*sql.DB, error) { return sql.Open("mysql", dsn) },
		connectTimeout: DefaultConnectTimeout,
	}
}

func handleKey(instanceID int64, role DatabaseRole) string {
	return fmt.Sprintf("%d/%s", instanceID, role)
}

// Get returns a pooled handle to one of the instance's logical databases,
// opening it on first use.
func (r *Router) Get(ctx context.Context, inst *instances.Instance, role DatabaseRole) (*sql.DB, error) {
	key := handleKey(inst.ID, role)

	r.mu.RLock()
	db, ok := r.handles[key]
	r.mu.RUnlock()
	if ok {
		return db, nil
	}

	return r.connect(ctx, inst, role)
}

func (r *Router) connect(ctx context.Context, inst *instances.Instance, role DatabaseRole) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := handleKey(inst.ID, role)
	if db, ok := r.handles[key]; ok {
		return db, nil
	}

	cred := r.creds.Credential(inst)
	if cred == nil {
		return nil, &RouteError{InstanceID: inst.ID, Operation: "connect", Message: "no credential available"}
	}

	dsn, err := buildDSN(inst, cred, role)
	if err != nil {
		return nil, &RouteError{InstanceID: inst.ID, Operation: "connect", Message: "failed to build DSN", Cause: err}
	}

	db, err := r.open(dsn)
	if err != nil {
		return nil, &RouteError{InstanceID: inst.ID, Operation: "connect", Message: "failed to open handle", Cause: err}
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, &RouteError{InstanceID: inst.ID, Operation: "connect", Message: "failed to ping database", Cause: err}
	}

	r.handles[key] = db
	r.logger.Printf("Opened handle for instance %d (%s)", inst.ID, role)
	return db, nil
}

// Purge discards every cached handle for an instance so the next Get
// reconnects. Used after credential or address changes.
func (r *Router) Purge(instanceID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, role := range []DatabaseRole{RolePrimary, RoleProviders} {
		key := handleKey(instanceID, role)
		if db, ok := r.handles[key]; ok {
			_ = db.Close()
			delete(r.handles, key)
			r.logger.Printf("Purged handle for instance %d (%s)", instanceID, role)
		}
	}
}

// Close discards all cached handles. Used during shutdown.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, db := range r.handles {
		_ = db.Close()
		delete(r.handles, key)
	}
	r.logger.Println("All handles closed")
}

// Count returns the number of cached handles.
func (r *Router) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// buildDSN constructs a MySQL DSN for one logical database of an instance.
func buildDSN(inst *instances.Instance, cred *instances.Credential, role DatabaseRole) (string, error) {
	database := inst.Database
	if role == RoleProviders {
		database = inst.ProvidersDatabase
	}
	if database == "" {
		return "", fmt.Errorf("instance %d has no %s database configured", inst.ID, role)
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s", cred.Username, cred.Password, inst.Addr(), database)
	dsn += "?parseTime=true" +
		"&loc=UTC" +
		"&charset=utf8mb4" +
		"&timeout=10s" +
		"&readTimeout=30s" +
		"&writeTimeout=30s" +
		"&multiStatements=false" +
		"&interpolateParams=false"
	return dsn, nil
}
