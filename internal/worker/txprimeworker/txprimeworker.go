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

// Package txprimeworker links blocks to the transaction hashes they
// contain, creating dirty transaction stubs and marking each processed
// block primed. It does not fetch full transaction detail — that is the
// tx-detail worker's job.
package txprimeworker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pborman/uuid"

	"github.com/ethingest/blocks/internal/chainclient"
	blockslog "github.com/ethingest/blocks/internal/log"
	"github.com/ethingest/blocks/internal/store"
)

var logger = blockslog.NewModuleLogger(blockslog.Worker)

const (
	pingInterval  = 15 * time.Second
	backoffDelay  = 3 * time.Second
	workerTypeKey = "TX_PRIME"
)

// chainClient is the subset of chainclient.Client this worker needs.
type chainClient interface {
	BlockByNumber(ctx context.Context, number uint64) (*chainclient.Block, error)
}

// conductorClient is the subset of conductorclient.Client this worker
// needs.
type conductorClient interface {
	Ping(ctx context.Context, uuid string) error
	JobRequest(ctx context.Context, uuid, workerType string) (json.RawMessage, error)
	JobSubmit(ctx context.Context, jobUUID string) (bool, string, error)
	JobReject(ctx context.Context, jobUUID, reason string) error
}

// backingStore is the subset of store.Store this worker needs.
type backingStore interface {
	InsertTransactionStub(hash string, blockNumber *uint64) error
	MarkBlockPrimed(number uint64) error
}

type jobResponse struct {
	JobUUID      string   `json:"job_uuid"`
	ConsumerUUID string   `json:"consumer_uuid"`
	BlockNumbers []uint64 `json:"block_numbers"`
}

// Worker primes blocks for as long as Run is called with a live context.
type Worker struct {
	uuid     string
	chain    chainClient
	conduct  conductorClient
	store    backingStore
	lastPing time.Time
}

// New constructs a Worker with a fresh consumer UUID.
func New(chain chainClient, conduct conductorClient, store backingStore) *Worker {
	return &Worker{uuid: uuid.New(), chain: chain, conduct: conduct, store: store}
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	logger.Info("starting tx-prime worker", "uuid", w.uuid)

	for {
		select {
		case <-ctx.Done():
			logger.Info("tx-prime worker shutting down", "uuid", w.uuid)
			return
		default:
		}

		if time.Since(w.lastPing) >= pingInterval {
			if err := w.conduct.Ping(ctx, w.uuid); err != nil {
				logger.Warn("unable to reach conductor", "err", err)
				if sleepOrDone(ctx, backoffDelay) {
					return
				}
				continue
			}
			w.lastPing = time.Now()
		}

		raw, err := w.conduct.JobRequest(ctx, w.uuid, workerTypeKey)
		if err != nil {
			logger.Error("failed to request job", "err", err)
			if sleepOrDone(ctx, backoffDelay) {
				return
			}
			continue
		}
		if raw == nil {
			if sleepOrDone(ctx, backoffDelay) {
				return
			}
			continue
		}

		var job jobResponse
		if err := json.Unmarshal(raw, &job); err != nil {
			logger.Error("malformed job response", "err", err)
			if sleepOrDone(ctx, backoffDelay) {
				return
			}
			continue
		}

		if len(job.BlockNumbers) == 0 {
			if sleepOrDone(ctx, backoffDelay) {
				return
			}
			continue
		}

		if err := w.processJob(ctx, job.BlockNumbers); err != nil {
			logger.Error("job processing failed, rejecting", "job", job.JobUUID, "err", err)
			_ = w.conduct.JobReject(ctx, job.JobUUID, err.Error())
			continue
		}

		ok, msg, err := w.conduct.JobSubmit(ctx, job.JobUUID)
		if err != nil {
			logger.Error("failed to submit job", "job", job.JobUUID, "err", err)
			continue
		}
		if !ok {
			logger.Warn("job verification failed", "job", job.JobUUID, "message", msg)
		}
	}
}

func (w *Worker) processJob(ctx context.Context, numbers []uint64) error {
	for _, n := range numbers {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		blk, err := w.chain.BlockByNumber(ctx, n)
		if err != nil {
			return err
		}

		logger.Debug("priming block", "block", n, "transactions", len(blk.Transactions))
		for _, hash := range blk.Transactions {
			blockNumber := n
			if err := w.store.InsertTransactionStub(hash, &blockNumber); err != nil {
				if store.IsUniqueViolation(err) {
					logger.Warn("transaction already primed", "hash", hash)
					continue
				}
				return err
			}
		}

		if err := w.store.MarkBlockPrimed(n); err != nil {
			return err
		}
	}
	return nil
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}
