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

// Package conductorapi is the conductor's HTTP surface:
// a small JSON-over-HTTP protocol exposing the conductor's operations
// to workers. Server replaces module-level singletons with an explicit
// struct injected at
// construction.
package conductorapi

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/ethingest/blocks/internal/conductor"
	blockslog "github.com/ethingest/blocks/internal/log"
	"github.com/ethingest/blocks/internal/metrics"
	"github.com/ethingest/blocks/internal/workertype"
)

var logger = blockslog.NewModuleLogger(blockslog.API)

// conductorIface is the subset of *conductor.Conductor this package
// calls, kept as an interface so handler tests can fake it.
type conductorIface interface {
	Status() bool
	KnownBlockCount() int
	BlockCount() (int64, error)
	TransactionCount() (int64, error)
	Ping(uuid string) error
	GenerateJob(ctx context.Context, wt workertype.Type, uuid string) (conductor.Job, error)
	VerifyJob(jobUUID string) (bool, []string, conductor.Job, error)
	DelJob(uuid string)
}

// Server holds the conductor AppState and builds the http.Handler.
type Server struct {
	conductor conductorIface
	metrics   *metrics.Metrics
}

// NewServer constructs a Server around the given conductor and metrics
// registry.
func NewServer(c conductorIface, m *metrics.Metrics) *Server {
	return &Server{conductor: c, metrics: m}
}

// Handler builds the routed, CORS-wrapped http.Handler for this server.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()

	router.GET("/", s.index)
	router.GET("/conductor-status", s.conductorStatus)
	router.GET("/known-blocks", s.knownBlocks)
	router.GET("/status", s.status)
	router.GET("/metrics", s.metricsHandler)
	router.POST("/ping", s.ping)
	router.POST("/job-request", s.jobRequest)
	router.POST("/job-submit", s.jobSubmit)
	router.POST("/job-reject", s.jobReject)

	return cors.Default().Handler(router)
}
