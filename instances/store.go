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
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Store persists instance records in PostgreSQL. Credentials are encrypted
// before they reach the database and decrypted only on demand.
type Store struct {
	db     *sql.DB
	cipher *Cipher
	logger *log.Logger
}

// NewStore creates an instance store and initializes its schema.
func NewStore(db *sql.DB, cipher *Cipher) (*Store, error) {
	s := &Store{
		db:     db,
		cipher: cipher,
		logger: log.New(log.Writer(), "[INSTANCES] ", log.LstdFlags),
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize instances schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS instances (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE,
		host VARCHAR(255) NOT NULL,
		port INTEGER NOT NULL DEFAULT 3306,
		username VARCHAR(255) NOT NULL,
		encrypted_password BYTEA,
		database_name VARCHAR(255) NOT NULL,
		providers_database VARCHAR(255) NOT NULL DEFAULT '',
		app_url VARCHAR(512) NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		master BOOLEAN NOT NULL DEFAULT FALSE,
		health VARCHAR(16) NOT NULL DEFAULT 'unknown',
		last_health_check TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_instances_active ON instances(active);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const instanceColumns = `id, name, host, port, username, encrypted_password,
	database_name, providers_database, app_url, active, master, health,
	last_health_check, created_at, updated_at`

// Save inserts or updates an instance. When password is non-empty it is
// encrypted and replaces the stored credential; an empty password keeps the
// existing ciphertext. When the record is flagged master, the flag is cleared
// on every other instance inside the same transaction.
func (s *Store) Save(ctx context.Context, inst *Instance, password string) error {
	if err := inst.Validate(); err != nil {
		return err
	}

	var encrypted []byte
	if password != "" {
		var err error
		encrypted, err = s.cipher.Encrypt(password)
		if err != nil {
			return fmt.Errorf("failed to encrypt credential: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if inst.ID == 0 {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO instances (name, host, port, username, encrypted_password,
				database_name, providers_database, app_url, active, master)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at, updated_at`,
			inst.Name, inst.Host, inst.Port, inst.Username, encrypted,
			inst.Database, inst.ProvidersDatabase, inst.AppURL, inst.Active, inst.Master,
		).Scan(&inst.ID, &inst.CreatedAt, &inst.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert instance: %w", err)
		}
	} else {
		if encrypted != nil {
			_, err = tx.ExecContext(ctx, `
				UPDATE instances SET name=$1, host=$2, port=$3, username=$4,
					encrypted_password=$5, database_name=$6, providers_database=$7,
					app_url=$8, active=$9, master=$10, updated_at=NOW()
				WHERE id=$11`,
				inst.Name, inst.Host, inst.Port, inst.Username, encrypted,
				inst.Database, inst.ProvidersDatabase, inst.AppURL, inst.Active,
				inst.Master, inst.ID)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE instances SET name=$1, host=$2, port=$3, username=$4,
					database_name=$5, providers_database=$6, app_url=$7,
					active=$8, master=$9, updated_at=NOW()
				WHERE id=$10`,
				inst.Name, inst.Host, inst.Port, inst.Username,
				inst.Database, inst.ProvidersDatabase, inst.AppURL, inst.Active,
				inst.Master, inst.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to update instance: %w", err)
		}
	}

	// At most one master at any time.
	if inst.Master {
		if _, err := tx.ExecContext(ctx,
			`UPDATE instances SET master=FALSE, updated_at=NOW() WHERE master=TRUE AND id<>$1`,
			inst.ID); err != nil {
			return fmt.Errorf("failed to clear master flag on other instances: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit instance save: %w", err)
	}

	s.logger.Printf("Saved instance %q (id=%d, master=%v)", inst.Name, inst.ID, inst.Master)
	return nil
}

// Get returns the instance with the given id.
func (s *Store) Get(ctx context.Context, id int64) (*Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id=$1`, id)
	return scanInstance(row)
}

// List returns all instances, optionally restricted to active ones.
func (s *Store) List(ctx context.Context, onlyActive bool) ([]*Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances`
	if onlyActive {
		query += ` WHERE active=TRUE`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

// Master returns the single master instance, or ErrNoMaster.
func (s *Store) Master(ctx context.Context) (*Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE master=TRUE LIMIT 1`)
	inst, err := scanInstance(row)
	if err == ErrNotFound {
		return nil, ErrNoMaster
	}
	return inst, err
}

// Delete removes an instance. It fails with a ConstraintViolation when the
// instance is flagged master or still owns tenant directory entries.
func (s *Store) Delete(ctx context.Context, id int64) error {
	inst, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if inst.Master {
		return &ConstraintViolation{InstanceID: id, Reason: "cannot delete the master instance"}
	}

	var tenants int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tenant_directory WHERE instance_id=$1`, id).Scan(&tenants); err != nil {
		return fmt.Errorf("failed to count owned tenants: %w", err)
	}
	if tenants > 0 {
		return &ConstraintViolation{
			InstanceID: id,
			Reason:     fmt.Sprintf("instance still owns %d cached tenants", tenants),
		}
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id=$1`, id); err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	s.logger.Printf("Deleted instance %q (id=%d)", inst.Name, id)
	return nil
}

// UpdateHealth persists the outcome of a health probe.
func (s *Store) UpdateHealth(ctx context.Context, id int64, state HealthState, checkedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE instances SET health=$1, last_health_check=$2, updated_at=NOW() WHERE id=$3`,
		string(state), checkedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update health for instance %d: %w", id, err)
	}
	return nil
}

// Credential decrypts the stored credential of an instance. A missing or
// undecryptable credential yields nil so that callers degrade to a probe
// failure instead of crashing.
func (s *Store) Credential(inst *Instance) *Credential {
	if len(inst.EncryptedPassword) == 0 {
		return nil
	}
	password, err := s.cipher.Decrypt(inst.EncryptedPassword)
	if err != nil {
		s.logger.Printf("Failed to decrypt credential for instance %d: %v", inst.ID, err)
		return nil
	}
	return &Credential{Username: inst.Username, Password: password}
}

// scanner abstracts *sql.Row and *sql.Rows for scanInstance.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row scanner) (*Instance, error) {
	var inst Instance
	var lastCheck sql.NullTime
	err := row.Scan(&inst.ID, &inst.Name, &inst.Host, &inst.Port, &inst.Username,
		&inst.EncryptedPassword, &inst.Database, &inst.ProvidersDatabase,
		&inst.AppURL, &inst.Active, &inst.Master, &inst.Health,
		&lastCheck, &inst.CreatedAt, &inst.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}
	if lastCheck.Valid {
		inst.LastHealthCheck = &lastCheck.Time
	}
	return &inst, nil
}
