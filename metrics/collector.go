/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package metrics implements ioloop.MetricsCollector on top of
// prometheus/client_golang, for callers that construct a Loop with
// ioloop.WithMetrics. A Loop built without it pays nothing: every call site
// in the loop core is a nil interface check.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudwego/ioloop"
)

// Collector satisfies ioloop.MetricsCollector. Unlike a typical
// client_golang user it registers against its own *prometheus.Registry
// rather than prometheus.DefaultRegisterer, so creating more than one Loop
// (common in tests, or a process running several loops on different
// threads) never hits a duplicate-registration panic.
type Collector struct {
	registry *prometheus.Registry

	stepDuration prometheus.Histogram
	activeOps    prometheus.Gauge
	completions  *prometheus.CounterVec
	errors       *prometheus.CounterVec
}

// New creates a Collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ioloop_step_duration_seconds",
			Help:    "Wall-clock duration of one Loop.step call (poll + dispatch).",
			Buckets: prometheus.DefBuckets,
		}),
		activeOps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ioloop_active_operations",
			Help: "Operations currently Submitting or Active on the loop.",
		}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ioloop_completions_total",
			Help: "Completed operations, by variant.",
		}, []string{"variant"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ioloop_errors_total",
			Help: "Operation failures, by variant and error kind.",
		}, []string{"variant", "kind"}),
	}
	c.registry.MustRegister(c.stepDuration, c.activeOps, c.completions, c.errors)
	return c
}

// Registry exposes the underlying registry, for a caller that wants to
// merge it into a larger process-wide registry instead of using Handler.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler returns an http.Handler serving this Collector's metrics in the
// Prometheus exposition format, ready to mount at "/metrics".
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveStep(d time.Duration) {
	c.stepDuration.Observe(d.Seconds())
}

func (c *Collector) SetActiveOperations(n int) {
	c.activeOps.Set(float64(n))
}

func (c *Collector) IncCompletions(v ioloop.Variant) {
	c.completions.WithLabelValues(v.String()).Inc()
}

func (c *Collector) IncErrors(v ioloop.Variant, k ioloop.Kind) {
	c.errors.WithLabelValues(v.String(), k.String()).Inc()
}

var _ ioloop.MetricsCollector = (*Collector)(nil)
