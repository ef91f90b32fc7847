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

// Package txdetailworker fills in the remaining fields of dirty
// transaction stubs (sender, recipient, value, gas, nonce, input) by
// fetching full transaction data from the chain.
package txdetailworker

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
	workerTypeKey = "TX_DETAIL"
)

// chainClient is the subset of chainclient.Client this worker needs.
type chainClient interface {
	TransactionByHash(ctx context.Context, hash string) (*chainclient.Transaction, error)
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
	UpdateTransactionDetail(hash string, d store.TransactionDetail) error
}

type jobResponse struct {
	JobUUID      string   `json:"job_uuid"`
	ConsumerUUID string   `json:"consumer_uuid"`
	Transactions []string `json:"transactions"`
}

// Worker fills in transaction detail for as long as Run is called with
// a live context.
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
	logger.Info("starting tx-detail worker", "uuid", w.uuid)

	for {
		select {
		case <-ctx.Done():
			logger.Info("tx-detail worker shutting down", "uuid", w.uuid)
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

		if len(job.Transactions) == 0 {
			if sleepOrDone(ctx, backoffDelay) {
				return
			}
			continue
		}

		if err := w.processJob(ctx, job.Transactions); err != nil {
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

func (w *Worker) processJob(ctx context.Context, hashes []string) error {
	for _, hash := range hashes {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		tx, err := w.chain.TransactionByHash(ctx, hash)
		if err != nil {
			return err
		}

		logger.Debug("processing transaction", "hash", tx.Hash)

		err = w.store.UpdateTransactionDetail(hash, store.TransactionDetail{
			BlockNumber: tx.BlockNumber,
			FromAddress: tx.From,
			ToAddress:   tx.To,
			Value:       tx.Value,
			GasPrice:    tx.GasPrice,
			GasLimit:    tx.Gas,
			Nonce:       tx.Nonce,
			Input:       tx.Input,
		})
		if err != nil {
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
