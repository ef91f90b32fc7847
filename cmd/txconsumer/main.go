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

// Command txconsumer fills in the remaining fields of dirty transaction
// stubs by fetching full transaction data from the chain, taking its
// batches of transaction hashes from the conductor.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/ethingest/blocks/internal/chainclient"
	"github.com/ethingest/blocks/internal/conductorclient"
	"github.com/ethingest/blocks/internal/config"
	blockslog "github.com/ethingest/blocks/internal/log"
	"github.com/ethingest/blocks/internal/locker"
	"github.com/ethingest/blocks/internal/store"
	"github.com/ethingest/blocks/internal/worker/txdetailworker"
	"github.com/ethingest/blocks/internal/workerrt"
)

var logger = blockslog.NewModuleLogger(blockslog.Worker)

const (
	exitMissingConfig = 1
	exitMissingChain  = 3
)

const lockName = "txconsumer"

func main() {
	app := cli.NewApp()
	app.Name = "txconsumer"
	app.Usage = "fills in transaction detail from the chain"
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

	chain := chainclient.NewJSONRPCClient(cfg.ChainEndpoint())
	conductorClient := conductorclient.New(cfg.ConductorEndpoint)
	w := txdetailworker.New(chain, conductorClient, db)

	l := locker.New(db)
	rt := workerrt.NewWithRandomPID(lockName, l, func(ctx context.Context) {
		w.Run(ctx)
	})

	rt.Run(context.Background())
	return nil
}
