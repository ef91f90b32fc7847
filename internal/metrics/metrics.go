// Copyright 2020 The blocks Authors
// This file is part of the blocks library.
//
// The blocks library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The blocks library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the blocks library. If not, see <http://www.gnu.org/licenses/>.

// Package metrics is the conductor's operability surface: Prometheus
// counters exposed on /metrics, plus an in-process go-metrics meter used
// to log ingestion throughput periodically, pairing rcrowley/go-metrics
// with a Prometheus-instrumented API surface.
package metrics

import (
	"net/http"
	"time"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	blockslog "github.com/ethingest/blocks/internal/log"
)

var logger = blockslog.NewModuleLogger(blockslog.API)

// Metrics bundles the conductor's counters.
type Metrics struct {
	jobsGenerated *prometheus.CounterVec
	jobsVerified  *prometheus.CounterVec
	jobsRejected  *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec

	blocksIngested gometrics.Meter
}

// New registers the conductor's Prometheus counters with the default
// Prometheus registry and the throughput meter with a fresh go-metrics
// registry.
func New() *Metrics {
	reg := gometrics.NewRegistry()
	meter := gometrics.NewMeter()
	reg.Register("blocks.ingested", meter)

	return &Metrics{
		jobsGenerated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "blocks_conductor_jobs_generated_total",
			Help: "Jobs handed out by the conductor, by worker type.",
		}, []string{"type"}),
		jobsVerified: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "blocks_conductor_jobs_verified_total",
			Help: "Jobs that passed verification, by worker type.",
		}, []string{"type"}),
		jobsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "blocks_conductor_jobs_rejected_total",
			Help: "Jobs rejected by a worker. The type label is always empty.",
		}, []string{"type"}),
		httpRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "blocks_conductor_http_requests_total",
			Help: "Requests served by the conductor HTTP surface, by route.",
		}, []string{"route"}),
		blocksIngested: meter,
	}
}

// Handler exposes the registered counters for Prometheus to scrape.
func (m *Metrics) Handler() http.Handler { return promhttp.Handler() }

func (m *Metrics) ObserveJobGenerated(jobType string) { m.jobsGenerated.WithLabelValues(jobType).Inc() }
func (m *Metrics) ObserveJobVerified(jobType string)  { m.jobsVerified.WithLabelValues(jobType).Inc() }
func (m *Metrics) ObserveJobRejected(jobType string)  { m.jobsRejected.WithLabelValues(jobType).Inc() }
func (m *Metrics) ObserveRequest(route string)        { m.httpRequests.WithLabelValues(route).Inc() }

// ObserveBlocksIngested marks n additional blocks stored, feeding the
// go-metrics throughput meter.
func (m *Metrics) ObserveBlocksIngested(n int64) { m.blocksIngested.Mark(n) }

// LogThroughputPeriodically logs the ingestion rate every interval until
// stop is closed. Intended to run in its own goroutine from main().
func (m *Metrics) LogThroughputPeriodically(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			logger.Info("ingestion throughput",
				"blocksPerMinute1", m.blocksIngested.Rate1(),
				"blocksTotal", m.blocksIngested.Count(),
			)
		}
	}
}
