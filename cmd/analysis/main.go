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

// Command analysis runs offline scans over stored ingestion data.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/ethingest/blocks/internal/analysis/blocktime"
	"github.com/ethingest/blocks/internal/config"
	blockslog "github.com/ethingest/blocks/internal/log"
	"github.com/ethingest/blocks/internal/store"
)

var logger = blockslog.NewModuleLogger(blockslog.Analysis)

const exitMissingConfig = 1

func main() {
	app := cli.NewApp()
	app.Name = "analysis"
	app.Usage = "runs offline scans over stored ingestion data"
	app.Commands = []cli.Command{
		{
			Name:  "blocktime",
			Usage: "scans stored blocks for timestamp anomalies",
			Flags: []cli.Flag{
				cli.Uint64Flag{Name: "start", Value: 0, Usage: "first block number to scan"},
				cli.StringFlag{Name: "end", Value: "latest", Usage: "last block number to scan, or \"latest\""},
			},
			Action: runBlocktime,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBlocktime(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		logger.CritExit(exitMissingConfig, "failed to load configuration", "err", err)
		return nil
	}
	blockslog.SetLevel(cfg.LogLevel)

	db, err := store.Open(cfg.DSN())
	if err != nil {
		logger.CritExit(exitMissingConfig, "failed to connect to database", "err", err)
		return nil
	}
	defer db.Close()

	start := c.Uint64("start")

	var end *uint64
	if v := c.String("end"); v != "" && v != "latest" {
		var parsed uint64
		if _, err := fmt.Sscanf(v, "%d", &parsed); err != nil {
			return fmt.Errorf("invalid --end value %q: %w", v, err)
		}
		// Scan takes an exclusive upper bound; --end names the last block.
		exclusive := parsed + 1
		end = &exclusive
	}

	result, err := blocktime.Scan(db, start, end)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	for _, b := range result.InvalidBlocks {
		color.Red("anomaly: block %d at %s", b.Number, b.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	}

	if result.InvalidBlockCount == 0 {
		color.Green("found 0 timestamp anomalies")
	} else {
		color.Yellow("found %d timestamp anomalies", result.InvalidBlockCount)
	}

	return nil
}
