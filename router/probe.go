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
	"time"

	"fleetbridge/platform/instances"
)

// DegradedLatency is the round-trip time above which a reachable instance
// is reported degraded rather than healthy.
const DegradedLatency = 2 * time.Second

// ProbeResult is the uniform outcome of a connectivity probe. TestConnection
// never returns an error; every failure mode lands here.
type ProbeResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	LatencyMS int64  `json:"latency_ms"`
}

// HealthState maps a probe result onto an instance health state.
func (p ProbeResult) HealthState() instances.HealthState {
	switch {
	case !p.Success:
		return instances.HealthDown
	case p.LatencyMS > DegradedLatency.Milliseconds():
		return instances.HealthDegraded
	default:
		return instances.HealthHealthy
	}
}

// HealthRegistry is the slice of the instance store that health checks need.
type HealthRegistry interface {
	List(ctx context.Context, onlyActive bool) ([]*instances.Instance, error)
	UpdateHealth(ctx context.Context, id int64, state instances.HealthState, checkedAt time.Time) error
}

// TestConnection opens (or reuses) a handle to the instance's primary
// database and executes a trivial round-trip query, measuring elapsed time.
// DNS, auth, and timeout failures are all reported uniformly in the result.
func (r *Router) TestConnection(ctx context.Context, inst *instances.Instance) ProbeResult {
	start := time.Now()

	db, err := r.Get(ctx, inst, RolePrimary)
	if err != nil {
		return ProbeResult{
			Success:   false,
			Message:   err.Error(),
			LatencyMS: time.Since(start).Milliseconds(),
		}
	}

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		// The cached handle may be stale after a remote restart; drop it so
		// the next probe reconnects.
		r.Purge(inst.ID)
		return ProbeResult{
			Success:   false,
			Message:   err.Error(),
			LatencyMS: time.Since(start).Milliseconds(),
		}
	}

	return ProbeResult{
		Success:   true,
		Message:   "connection ok",
		LatencyMS: time.Since(start).Milliseconds(),
	}
}

// RunHealthChecks probes every active instance, persists the resulting
// health state and timestamp, and returns a per-instance result map.
// A failing instance never aborts the checks on the others.
func (r *Router) RunHealthChecks(ctx context.Context, registry HealthRegistry) (map[int64]ProbeResult, error) {
	insts, err := registry.List(ctx, true)
	if err != nil {
		return nil, err
	}

	results := make(map[int64]ProbeResult, len(insts))
	for _, inst := range insts {
		result := r.TestConnection(ctx, inst)
		results[inst.ID] = result

		if err := registry.UpdateHealth(ctx, inst.ID, result.HealthState(), time.Now()); err != nil {
			r.logger.Printf("Failed to persist health for instance %d: %v", inst.ID, err)
		}
		if !result.Success {
			r.logger.Printf("Health check failed for instance %d: %s", inst.ID, result.Message)
		}
	}
	return results, nil
}
