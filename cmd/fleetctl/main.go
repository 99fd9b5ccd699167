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

// Package main is the Fleetbridge operations CLI.
//
// fleetctl wires the same component stack as the control plane service and
// runs fleet maintenance operations directly against the control plane
// database, so syncs and schedule runs work even when the HTTP service is
// down. It reads the same configuration environment as the service.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/spf13/cobra"

	"fleetbridge/platform/config"
	"fleetbridge/platform/controlplane"
	"fleetbridge/platform/directory"
	"fleetbridge/platform/instances"
	"fleetbridge/platform/schedule"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:     "fleetctl",
		Short:   "Fleetbridge fleet operations tool",
		Long:    `fleetctl runs fleet maintenance operations against the Fleetbridge control plane database.`,
		Version: version,
	}

	rootCmd.AddCommand(syncTenantsCmd(ctx))
	rootCmd.AddCommand(syncUserRoutingCmd(ctx))
	rootCmd.AddCommand(testConnectionsCmd(ctx))
	rootCmd.AddCommand(triggerSchedulesCmd(ctx))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildStack wires the full component stack the way the service does. The
// returned cleanup closes remote pools and the database handle.
func buildStack(ctx context.Context) (*controlplane.Server, func(), error) {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, nil, err
	}
	sm, err := cfg.NewSecretsManager(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ResolveSecrets(ctx, sm); err != nil {
		return nil, nil, err
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open control plane database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("control plane database unreachable: %w", err)
	}

	server, err := controlplane.NewServer(cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	cleanup := func() {
		server.Close()
		_ = db.Close()
	}
	return server, cleanup, nil
}

func reportSync(result directory.SyncResult) error {
	fmt.Printf("synced=%d skipped=%d errored=%d\n", result.Synced, result.Skipped, result.Errored)
	if result.Failed() {
		return fmt.Errorf("sync failed: nothing was written")
	}
	return nil
}

// syncTenantsCmd refreshes the local tenant directory from one instance or
// the whole fleet.
func syncTenantsCmd(ctx context.Context) *cobra.Command {
	var instanceID int64
	var force bool

	cmd := &cobra.Command{
		Use:   "sync-tenants",
		Short: "Refresh the tenant directory from remote instances",
		Long: `Refresh the local tenant directory from remote instances.

Without --instance every active instance is visited. Fresh entries are
skipped unless --force is given.

Examples:
  fleetctl sync-tenants
  fleetctl sync-tenants --instance 3 --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			server, cleanup, err := buildStack(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if instanceID > 0 {
				inst, err := server.Instances().Get(ctx, instanceID)
				if err != nil {
					return err
				}
				result, err := server.Syncer().SyncTenants(ctx, inst, force)
				if err != nil {
					return err
				}
				return reportSync(result)
			}

			result, err := server.Syncer().SyncAllTenants(ctx, force)
			if err != nil {
				return err
			}
			return reportSync(result)
		},
	}

	cmd.Flags().Int64Var(&instanceID, "instance", 0, "Sync a single instance by id")
	cmd.Flags().BoolVar(&force, "force", false, "Refresh entries even when fresh")
	return cmd
}

// syncUserRoutingCmd rebuilds the login routing table from the master
// instance.
func syncUserRoutingCmd(ctx context.Context) *cobra.Command {
	var truncate bool

	cmd := &cobra.Command{
		Use:   "sync-user-routing",
		Short: "Rebuild the user routing table from the master instance",
		Long: `Rebuild the local user routing table from the master instance.

With --truncate the local table and its cache are cleared first, so rows
removed upstream disappear here too.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			server, cleanup, err := buildStack(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := server.Syncer().SyncUserRouting(ctx, truncate)
			if err != nil {
				return err
			}
			return reportSync(result)
		},
	}

	cmd.Flags().BoolVar(&truncate, "truncate", false, "Clear the local table before loading")
	return cmd
}

// testConnectionsCmd probes instances and optionally records their health.
func testConnectionsCmd(ctx context.Context) *cobra.Command {
	var instanceID int64
	var updateHealth bool

	cmd := &cobra.Command{
		Use:   "test-connections",
		Short: "Probe instance connectivity",
		Long: `Probe instance database connectivity.

Without --instance every active instance is probed. With --update-health
each probe result is written back to the registry as the instance's
health status.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			server, cleanup, err := buildStack(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			rtr := server.ConnectionRouter()
			reg := server.Instances()

			targets, err := probeTargets(ctx, server, instanceID)
			if err != nil {
				return err
			}

			failures := 0
			for _, inst := range targets {
				res := rtr.TestConnection(ctx, inst)
				fmt.Printf("instance %d (%s): %s (%dms) %s\n",
					inst.ID, inst.Name, res.HealthState(), res.LatencyMS, res.Message)
				if !res.Success {
					failures++
				}
				if updateHealth {
					if err := reg.UpdateHealth(ctx, inst.ID, res.HealthState(), time.Now()); err != nil {
						return fmt.Errorf("failed to record health of instance %d: %w", inst.ID, err)
					}
				}
			}
			if failures > 0 {
				return fmt.Errorf("%d of %d instances unreachable", failures, len(targets))
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&instanceID, "instance", 0, "Probe a single instance by id")
	cmd.Flags().BoolVar(&updateHealth, "update-health", false, "Record probe results as instance health")
	return cmd
}

func probeTargets(ctx context.Context, server *controlplane.Server, instanceID int64) ([]*instances.Instance, error) {
	if instanceID > 0 {
		inst, err := server.Instances().Get(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		return []*instances.Instance{inst}, nil
	}
	return server.Instances().List(ctx, true)
}

// triggerSchedulesCmd runs one schedule tick, the operation cron invokes
// hourly in production.
func triggerSchedulesCmd(ctx context.Context) *cobra.Command {
	var tenantID int64
	var frequency string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "trigger-schedules",
		Short: "Dispatch scheduled commands due at the current hour",
		Long: `Dispatch scheduled commands due at the current hour.

Intended to run from cron once per hour. --frequency overrides the
wall-clock due set for catch-up runs, --tenant restricts the run to one
tenant, and --dry-run prints the planned batches without dispatching.

Examples:
  fleetctl trigger-schedules
  fleetctl trigger-schedules --tenant 7 --dry-run
  fleetctl trigger-schedules --frequency daily`,
		RunE: func(cmd *cobra.Command, args []string) error {
			freq := schedule.Frequency(frequency)
			if frequency != "" && !freq.Valid() {
				return fmt.Errorf("unknown frequency %q", frequency)
			}

			server, cleanup, err := buildStack(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			result, err := server.Trigger().Tick(ctx, time.Now(), schedule.TickOptions{
				TenantID:  tenantID,
				Frequency: freq,
				DryRun:    dryRun,
			})
			if err != nil {
				return err
			}

			for _, batch := range result.Planned {
				fmt.Printf("tenant %d (%s): %d command(s)\n", batch.TenantID, batch.TenantName, len(batch.Commands))
				for _, c := range batch.Commands {
					fmt.Printf("  %s\n", c)
				}
			}
			fmt.Printf("due=%v dispatched=%d skipped=%d errored=%d dry_run=%v\n",
				result.Due, result.Dispatched, result.Skipped, result.Errored, result.DryRun)
			if result.Errored > 0 && result.Dispatched == 0 && !result.DryRun {
				return fmt.Errorf("schedule run failed for all tenants")
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&tenantID, "tenant", 0, "Restrict the run to one tenant id")
	cmd.Flags().StringVar(&frequency, "frequency", "", "Override the due frequency set (hourly, every2h, every4h, every6h, every12h, daily, weekly)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print planned batches without dispatching")
	return cmd
}
