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

// Package main is the entry point for the Fleetbridge control plane service.
//
// The control plane is the fleet management service that:
// - Routes connections to remote tenant-hosting database instances
// - Keeps an encrypted registry of instances with a single master
// - Caches the tenant directory and user routing tables locally
// - Dispatches signed command batches to remote application servers
// - Triggers scheduled commands on their wall-clock cadence
//
// Usage:
//
//	./controlplane
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8090)
//	CONFIG_FILE - optional YAML configuration file
//	DATABASE_URL - PostgreSQL connection string (required)
//	CALLBACK_BASE_URL - public base URL for execution callbacks (required)
//	REDIS_URL - Redis URL for the user routing cache (optional)
//	SECRETS_BACKEND - aws, env, or local (default: env)
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"fleetbridge/platform/config"
	"fleetbridge/platform/controlplane"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	sm, err := cfg.NewSecretsManager(ctx)
	if err != nil {
		log.Fatalf("Secrets backend error: %v", err)
	}
	if err := cfg.ResolveSecrets(ctx, sm); err != nil {
		log.Fatalf("Failed to resolve secrets: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open control plane database: %v", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Control plane database unreachable: %v", err)
	}

	server, err := controlplane.NewServer(cfg, db)
	if err != nil {
		log.Fatalf("Failed to initialize control plane: %v", err)
	}
	defer server.Close()

	if err := server.Run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
