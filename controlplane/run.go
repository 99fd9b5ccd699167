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

package controlplane

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"fleetbridge/platform/config"
	"fleetbridge/platform/directory"
	"fleetbridge/platform/dispatch"
	"fleetbridge/platform/instances"
	"fleetbridge/platform/router"
	"fleetbridge/platform/schedule"
	"fleetbridge/platform/shared/logger"
)

// Fleetbridge Control Plane - fleet routing, tenant directory, and command
// dispatch service for remote tenant-hosting instances.

// Server owns every long-lived component of the control plane and the HTTP
// surface in front of them.
type Server struct {
	cfg *config.Config
	db  *sql.DB

	instances    *instances.Store
	router       *router.Router
	directory    *directory.Store
	cache        *directory.LookupCache
	syncer       *directory.Syncer
	executions   *dispatch.Store
	orchestrator *dispatch.Orchestrator
	trigger      *schedule.Trigger

	api       *API
	lg        *logger.Logger
	startedAt time.Time
}

// NewServer wires all components against the control plane database. The
// caller owns db and closes it after Close.
func NewServer(cfg *config.Config, db *sql.DB) (*Server, error) {
	cipher, err := instances.NewCipherFromPassphrase(cfg.Secrets.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build instance cipher: %w", err)
	}
	instStore, err := instances.NewStore(db, cipher)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize instance store: %w", err)
	}

	rtr := router.New(instStore)

	dirStore, err := directory.NewStore(db, time.Duration(cfg.DirectoryStaleAfter))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tenant directory: %w", err)
	}

	var cache *directory.LookupCache
	if cfg.RedisURL != "" {
		cache, err = directory.NewLookupCache(cfg.RedisURL, directory.DefaultRouteTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect lookup cache: %w", err)
		}
		dirStore.SetLookupCache(cache)
	}

	execStore, err := dispatch.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize execution store: %w", err)
	}

	signer := dispatch.NewSigner(cfg.Secrets.WebhookSecret)
	orch := dispatch.NewOrchestrator(execStore, dirStore, instStore,
		dispatch.NewClient(signer), dispatch.NewProcessController(), cfg.CallbackBaseURL)

	s := &Server{
		cfg:          cfg,
		db:           db,
		instances:    instStore,
		router:       rtr,
		directory:    dirStore,
		cache:        cache,
		syncer:       directory.NewSyncer(dirStore, instStore, rtr),
		executions:   execStore,
		orchestrator: orch,
		trigger:      schedule.NewTrigger(dirStore, instStore, rtr, orch),
		lg:           logger.New("controlplane"),
		startedAt:    time.Now(),
	}
	s.api = NewAPI(instStore, instStore, rtr, dirStore, s.syncer, execStore, orch, s.trigger, signer)
	return s, nil
}

// Handler builds the full HTTP surface: health and metrics endpoints, the
// signature-authenticated callback route, and the JWT-protected API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(requestLoggingMiddleware(s.lg))

	// Health check
	r.HandleFunc("/health", s.healthHandler).Methods("GET")

	// Metrics endpoints
	r.HandleFunc("/metrics", s.metricsHandler).Methods("GET")  // JSON metrics (legacy)
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET") // Prometheus native format

	// Execution callbacks authenticate with the webhook signature, so they
	// stay outside the JWT-protected subtree.
	r.HandleFunc("/api/v1/executions/{id}/callback", s.api.executionCallbackHandler).Methods("POST")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMiddleware(s.cfg.Secrets.JWTSecret, s.lg))

	// Instance registry
	api.HandleFunc("/instances", s.api.listInstancesHandler).Methods("GET")
	api.HandleFunc("/instances", s.api.createInstanceHandler).Methods("POST")
	api.HandleFunc("/instances/health-checks", s.api.runHealthChecksHandler).Methods("POST")
	api.HandleFunc("/instances/{id}", s.api.getInstanceHandler).Methods("GET")
	api.HandleFunc("/instances/{id}", s.api.updateInstanceHandler).Methods("PUT")
	api.HandleFunc("/instances/{id}", s.api.deleteInstanceHandler).Methods("DELETE")
	api.HandleFunc("/instances/{id}/probe", s.api.probeInstanceHandler).Methods("POST")
	api.HandleFunc("/instances/{id}/sync-tenants", s.api.syncInstanceTenantsHandler).Methods("POST")

	// Tenant directory
	api.HandleFunc("/directory/sync-tenants", s.api.syncAllTenantsHandler).Methods("POST")
	api.HandleFunc("/directory/sync-user-routing", s.api.syncUserRoutingHandler).Methods("POST")
	api.HandleFunc("/tenants", s.api.listTenantsHandler).Methods("GET")
	api.HandleFunc("/tenants/{id}", s.api.getTenantHandler).Methods("GET")
	api.HandleFunc("/routing/{login}", s.api.resolveLoginHandler).Methods("GET")

	// Command dispatch
	api.HandleFunc("/executions", s.api.listExecutionsHandler).Methods("GET")
	api.HandleFunc("/executions", s.api.dispatchHandler).Methods("POST")
	api.HandleFunc("/executions/{id}", s.api.getExecutionHandler).Methods("GET")
	api.HandleFunc("/executions/{id}/cancel", s.api.cancelExecutionHandler).Methods("POST")
	api.HandleFunc("/executions/{id}/retry", s.api.retryExecutionHandler).Methods("POST")

	// Schedule triggering
	api.HandleFunc("/schedule/tick", s.api.scheduleTickHandler).Methods("POST")

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// Run starts the background loops and serves HTTP until the listener
// fails or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.ReconcileInterval > 0 {
		s.orchestrator.StartReconciler(ctx, time.Duration(s.cfg.ReconcileInterval))
	}
	if s.cfg.HealthCheckInterval > 0 {
		go s.healthCheckLoop(ctx)
	}

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Fleetbridge control plane listening on %s", addr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) healthCheckLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.cfg.HealthCheckInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.router.RunHealthChecks(ctx, s.instances); err != nil {
				s.lg.Error(0, "", "health check run failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// Component accessors for command line reuse of the wired stack.

func (s *Server) Instances() *instances.Store { return s.instances }

func (s *Server) ConnectionRouter() *router.Router { return s.router }

func (s *Server) Syncer() *directory.Syncer { return s.syncer }

func (s *Server) Trigger() *schedule.Trigger { return s.trigger }

// Close releases pooled remote connections and the lookup cache. The
// control plane database handle belongs to the caller.
func (s *Server) Close() {
	s.router.Close()
	if s.cache != nil {
		_ = s.cache.Close()
	}
}

func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	metrics := map[string]interface{}{
		"service":            "fleetbridge-controlplane",
		"timestamp":          time.Now().UTC(),
		"uptime_seconds":     int64(time.Since(s.startedAt).Seconds()),
		"remote_connections": s.router.Count(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(metrics); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := map[string]bool{
		"database": s.db.PingContext(ctx) == nil,
	}
	status := "healthy"
	if !components["database"] {
		status = "degraded"
	}

	health := map[string]interface{}{
		"status":      status,
		"service":     "fleetbridge-controlplane",
		"version":     "1.0.0",
		"timestamp":   time.Now().UTC(),
		"components":  components,
		"connections": s.router.Count(),
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
