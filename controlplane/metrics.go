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
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_controlplane_requests_total",
			Help: "Total number of HTTP requests handled by the control plane",
		},
		[]string{"route", "status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetbridge_controlplane_request_duration_milliseconds",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
		},
		[]string{"route"},
	)
	promDispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_controlplane_dispatches_total",
			Help: "Total number of command batch dispatches",
		},
		[]string{"source", "status"},
	)
	promCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_controlplane_callbacks_total",
			Help: "Total number of execution callbacks received",
		},
		[]string{"status"},
	)
	promSyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_controlplane_sync_runs_total",
			Help: "Total number of directory sync runs",
		},
		[]string{"kind", "status"},
	)
	promProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetbridge_controlplane_probes_total",
			Help: "Total number of instance connection probes",
		},
		[]string{"result"},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promDispatchesTotal)
	prometheus.MustRegister(promCallbacksTotal)
	prometheus.MustRegister(promSyncRuns)
	prometheus.MustRegister(promProbesTotal)
}
