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

// Command conductor runs the dispatcher's HTTP surface: it owns the
// in-memory ingestion view and hands out jobs to the block, tx-prime
// and tx-detail workers.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/ethingest/blocks/internal/chainclient"
	"github.com/ethingest/blocks/internal/conductor"
	"github.com/ethingest/blocks/internal/conductorapi"
	"github.com/ethingest/blocks/internal/config"
	blockslog "github.com/ethingest/blocks/internal/log"
	"github.com/ethingest/blocks/internal/metrics"
	"github.com/ethingest/blocks/internal/store"
)

var logger = blockslog.NewModuleLogger(blockslog.Conductor)

const (
	exitOK            = 0
	exitMissingConfig = 1
	exitMissingChain  = 3
	exitMigrationFail = 51
)

func main() {
	app := cli.NewApp()
	app.Name = "conductor"
	app.Usage = "runs the ingestion dispatcher's HTTP surface"
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		logger.CritExit(exitMissingConfig, "failed to load configuration", "err", err)
		return nil
	}
	blockslog.SetLevel(cfg.LogLevel)

	if cfg.ChainEndpoint() == "" {
		logger.CritExit(exitMissingChain, "no chain endpoint configured")
		return nil
	}

	db, err := store.Open(cfg.DSN())
	if err != nil {
		logger.CritExit(exitMissingConfig, "failed to connect to database", "err", err)
		return nil
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		logger.CritExit(exitMigrationFail, "initial migration failed", "err", err)
		return nil
	}

	chain := chainclient.NewJSONRPCClient(cfg.ChainEndpoint())

	cond := conductor.New(db, chain, cfg.ConductorBatchSize)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cond.Init(ctx); err != nil {
		logger.CritExit(exitMissingChain, "failed to initialize conductor", "err", err)
		return nil
	}

	m := metrics.New()
	server := conductorapi.NewServer(cond, m)

	addr := fmt.Sprintf("%s:%d", cfg.ConductorHost, cfg.ConductorPort)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Handler(),
	}

	go cond.RunBackgroundSweeps(ctx)

	throughputStop := make(chan struct{})
	go m.LogThroughputPeriodically(time.Minute, throughputStop)

	go func() {
		logger.Info("conductor listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "err", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	close(throughputStop)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "err", err)
	}

	os.Exit(exitOK)
	return nil
}
