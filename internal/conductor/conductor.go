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

// Package conductor is the dispatcher: it owns the in-memory ingestion
// view, partitions work into jobs for the three worker roles, tracks
// outstanding jobs, and verifies completion against the Store.
package conductor

import (
	"context"
	"sync"
	"time"

	blockslog "github.com/ethingest/blocks/internal/log"
	"github.com/ethingest/blocks/internal/store"
	"github.com/ethingest/blocks/internal/workertype"
)

var logger = blockslog.NewModuleLogger(blockslog.Conductor)

// DefaultBatchSize is the number of units handed out per job.
const DefaultBatchSize = 500

// DefaultReapInterval and DefaultStaleWindow govern the stale-
// reservation sweep: a job is reaped if its owning consumer hasn't
// pinged or requested a job within staleWindow, checked every
// reapInterval.
const (
	DefaultReapInterval      = 5 * time.Minute
	DefaultStaleWindow       = 5 * time.Minute
	DefaultChainPollInterval = 30 * time.Second
	streamChunkSize          = 1_000_000
)

// chainClient is the subset of chainclient.Client the conductor needs.
type chainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// backingStore is the subset of store.Store the conductor needs,
// expressed as an interface so unit tests can supply a fake.
type backingStore interface {
	GetLatestBlockNumber() (uint64, bool, error)
	StreamBlockNumbers(chunkSize int, fn func([]store.BlockRef) error) error
	GetUnprimedBlocks(limit int, exclude []uint64) ([]uint64, error)
	GetRandomDirtyTransactionHashes(limit int) ([]string, error)
	ValidateBlock(number uint64) (bool, []string, error)
	ValidateBlockPrimed(number uint64) (bool, []string, error)
	ValidateTransaction(hash string) (bool, []string, error)
	CountBlocks() (int64, error)
	CountTransactions() (int64, error)
	PingConsumer(uuid string) error
	DeactivateConsumer(uuid string) error
}

// Conductor is the dispatcher's in-memory ingestion view plus the job
// lifecycle operations the HTTP surface (conductorapi) calls.
type Conductor struct {
	mu sync.Mutex

	store BackingStore
	chain chainClient

	batchSize int

	status bool

	latestInDB    uint64
	latestOnChain uint64

	knownBlockNumbers     map[uint64]struct{}
	selectedBlockNumbers  map[uint64]struct{}
	selectedBlocksToPrime map[uint64]struct{}
	knownTransactions     map[string]struct{}
	selectedTransactions  map[string]struct{}

	jobs []Job

	// lastSeen tracks per-consumer liveness independent of the
	// Store's consumer table, used by the stale-reservation sweep.
	// Updated on Ping and on every successful GenerateJob call.
	lastSeen map[string]time.Time

	reapInterval      time.Duration
	staleWindow       time.Duration
	chainPollInterval time.Duration
}

// BackingStore is the exported alias of backingStore so callers outside
// this package (cmd/conductor) can satisfy it with *store.Store without
// reaching into an unexported type.
type BackingStore = backingStore

// New constructs a Conductor. Call Init before serving traffic.
func New(s BackingStore, chain chainClient, batchSize int) *Conductor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Conductor{
		store:                 s,
		chain:                 chain,
		batchSize:             batchSize,
		knownBlockNumbers:     make(map[uint64]struct{}),
		selectedBlockNumbers:  make(map[uint64]struct{}),
		selectedBlocksToPrime: make(map[uint64]struct{}),
		knownTransactions:     make(map[string]struct{}),
		selectedTransactions:  make(map[string]struct{}),
		lastSeen:              make(map[string]time.Time),
		reapInterval:          DefaultReapInterval,
		staleWindow:           DefaultStaleWindow,
		chainPollInterval:     DefaultChainPollInterval,
	}
}

// Init populates latest_in_db, latest_on_chain, and known_block_numbers
// from the Store and chain client, then flips status to true.
func (c *Conductor) Init(ctx context.Context) error {
	latest, ok, err := c.store.GetLatestBlockNumber()
	if err != nil {
		return err
	}
	if ok {
		c.latestInDB = latest
	}

	onChain, err := c.chain.BlockNumber(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.latestOnChain = onChain
	c.mu.Unlock()

	err = c.store.StreamBlockNumbers(streamChunkSize, func(chunk []store.BlockRef) error {
		c.mu.Lock()
		for _, ref := range chunk {
			c.knownBlockNumbers[ref.Number] = struct{}{}
		}
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.status = true
	known := len(c.knownBlockNumbers)
	c.mu.Unlock()

	logger.Info("conductor initialized", "latestInDB", c.latestInDB, "latestOnChain", onChain, "knownBlocks", known)

	return nil
}

// Status reports whether initialization has completed.
func (c *Conductor) Status() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// KnownBlockCount returns len(known_block_numbers) (the /known-blocks route).
func (c *Conductor) KnownBlockCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.knownBlockNumbers)
}

// BlockCount and TransactionCount back the /status route.
func (c *Conductor) BlockCount() (int64, error)       { return c.store.CountBlocks() }
func (c *Conductor) TransactionCount() (int64, error) { return c.store.CountTransactions() }

// Ping records a consumer heartbeat, both in the Store and in the
// conductor's own liveness map.
func (c *Conductor) Ping(uuid string) error {
	c.mu.Lock()
	c.lastSeen[uuid] = time.Now()
	c.mu.Unlock()
	return c.store.PingConsumer(uuid)
}

// RemoveConsumer soft-deactivates a consumer registration.
func (c *Conductor) RemoveConsumer(uuid string) error {
	return c.store.DeactivateConsumer(uuid)
}

// getJob returns the job whose consumer_uuid or job_uuid equals uuid.
// Caller must hold c.mu.
func (c *Conductor) getJob(uuid string) Job {
	for _, j := range c.jobs {
		if j.ConsumerUUID() == uuid || j.JobUUID() == uuid {
			return j
		}
	}
	return nil
}

// delJob removes the job whose consumer_uuid or job_uuid equals uuid.
// Caller must hold c.mu.
func (c *Conductor) delJob(uuid string) {
	for i, j := range c.jobs {
		if j.ConsumerUUID() == uuid || j.JobUUID() == uuid {
			c.jobs = append(c.jobs[:i], c.jobs[i+1:]...)
			return
		}
	}
}

// DelJob drops a job from memory without restoring its reservation —
// an explicit design choice to avoid tight re-issue loops.
func (c *Conductor) DelJob(uuid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delJob(uuid)
}

// GenerateJob hands the consumer an existing in-flight job if one is
// already assigned to it, otherwise partitions fresh work by type.
func (c *Conductor) GenerateJob(ctx context.Context, wt workertype.Type, uuid string) (Job, error) {
	c.mu.Lock()
	c.lastSeen[uuid] = time.Now()

	if existing := c.getJob(uuid); existing != nil {
		c.mu.Unlock()
		return existing, nil
	}

	switch wt {
	case workertype.Block:
		job := c.generateBlockJobLocked(uuid)
		c.mu.Unlock()
		if len(job.BlockNumbers) == 0 {
			if err := c.refreshLatestOnChain(ctx); err != nil {
				logger.Warn("failed to refresh latest_on_chain", "err", err)
			}
		}
		return job, nil

	case workertype.TxPrime:
		job, err := c.generateTxPrimeJobLocked(uuid)
		c.mu.Unlock()
		return job, err

	case workertype.TxDetail:
		job, err := c.generateTxDetailJobLocked(uuid)
		c.mu.Unlock()
		return job, err

	default:
		c.mu.Unlock()
		return nil, nil
	}
}

// generateBlockJobLocked scans ascending block numbers for the first
// batch_size unassigned ones. Caller must hold c.mu; it appends the job
// (even if empty) before returning, matching the reference's
// unconditional append.
func (c *Conductor) generateBlockJobLocked(uuid string) *BlockJob {
	job := newBlockJob(uuid)

	var i uint64
	for i = 0; i < c.latestOnChain; i++ {
		if _, known := c.knownBlockNumbers[i]; known {
			continue
		}
		if _, selected := c.selectedBlockNumbers[i]; selected {
			continue
		}
		job.BlockNumbers = append(job.BlockNumbers, i)
		if len(job.BlockNumbers) >= c.batchSize {
			break
		}
	}

	for _, n := range job.BlockNumbers {
		c.selectedBlockNumbers[n] = struct{}{}
	}

	c.jobs = append(c.jobs, job)
	return job
}

// generateTxPrimeJobLocked asks the Store for unprimed blocks and
// reserves them. Caller must hold c.mu only around the map mutation —
// the Store call itself does not need the lock, but for simplicity (and
// because job generation is meant to be linearizable) we
// keep the whole operation under lock.
func (c *Conductor) generateTxPrimeJobLocked(uuid string) (*TxPrimeJob, error) {
	limit := c.batchSize / 100
	if limit < 1 {
		limit = 1
	}

	exclude := make([]uint64, 0, len(c.selectedBlocksToPrime))
	for n := range c.selectedBlocksToPrime {
		exclude = append(exclude, n)
	}

	numbers, err := c.store.GetUnprimedBlocks(limit, exclude)
	if err != nil {
		return nil, err
	}

	job := newTxPrimeJob(uuid)
	job.BlockNumbers = numbers

	for _, n := range numbers {
		c.selectedBlocksToPrime[n] = struct{}{}
	}

	c.jobs = append(c.jobs, job)
	return job, nil
}

// generateTxDetailJobLocked asks the Store for up to 2*batch_size
// randomly-ordered dirty hashes, filters out anything already known or
// selected, and reserves the remainder.
func (c *Conductor) generateTxDetailJobLocked(uuid string) (*TxDetailJob, error) {
	pool, err := c.store.GetRandomDirtyTransactionHashes(2 * c.batchSize)
	if err != nil {
		return nil, err
	}

	job := newTxDetailJob(uuid)
	for _, hash := range pool {
		if _, known := c.knownTransactions[hash]; known {
			continue
		}
		if _, selected := c.selectedTransactions[hash]; selected {
			continue
		}
		job.Transactions = append(job.Transactions, hash)
	}

	for _, hash := range job.Transactions {
		c.selectedTransactions[hash] = struct{}{}
	}

	c.jobs = append(c.jobs, job)
	return job, nil
}

// VerifyJob checks a completed job's output against the Store and, on
// success, drops it from the in-flight set. The job found for jobUUID is
// returned alongside the result (nil when no job matches) so callers can
// observe what was ingested (e.g. the HTTP surface's throughput metrics)
// without a second lookup.
func (c *Conductor) VerifyJob(jobUUID string) (bool, []string, Job, error) {
	c.mu.Lock()
	job := c.getJob(jobUUID)
	c.mu.Unlock()

	if job == nil {
		return false, []string{"invalid job uuid"}, nil, nil
	}

	switch j := job.(type) {
	case *BlockJob:
		ok, errs, err := c.verifyBlockJob(j)
		return ok, errs, j, err
	case *TxPrimeJob:
		ok, errs, err := c.verifyTxPrimeJob(j)
		return ok, errs, j, err
	case *TxDetailJob:
		ok, errs, err := c.verifyTxDetailJob(j)
		return ok, errs, j, err
	default:
		return false, []string{"unknown job type"}, nil, nil
	}
}

func (c *Conductor) verifyBlockJob(j *BlockJob) (bool, []string, error) {
	for _, n := range j.BlockNumbers {
		ok, errs, err := c.store.ValidateBlock(n)
		if err != nil {
			return false, nil, err
		}
		if !ok {
			logger.Warn("verify of block failed", "block", n, "errors", errs)
			return false, errs, nil
		}
	}

	// Reserved numbers are not promoted into known_block_numbers here;
	// they stay excluded only via selected_block_numbers for the
	// process lifetime.
	c.mu.Lock()
	c.delJob(j.Uuid)
	c.mu.Unlock()

	return true, nil, nil
}

func (c *Conductor) verifyTxPrimeJob(j *TxPrimeJob) (bool, []string, error) {
	if len(j.BlockNumbers) == 0 {
		return false, []string{"job missing block numbers"}, nil
	}

	for _, n := range j.BlockNumbers {
		ok, errs, err := c.store.ValidateBlockPrimed(n)
		if err != nil {
			return false, nil, err
		}
		if !ok {
			return false, errs, nil
		}
	}

	c.mu.Lock()
	c.delJob(j.Uuid)
	for _, n := range j.BlockNumbers {
		delete(c.selectedBlocksToPrime, n)
	}
	c.mu.Unlock()

	return true, nil, nil
}

func (c *Conductor) verifyTxDetailJob(j *TxDetailJob) (bool, []string, error) {
	if len(j.Transactions) == 0 {
		return false, []string{"job missing transactions"}, nil
	}

	for _, hash := range j.Transactions {
		ok, errs, err := c.store.ValidateTransaction(hash)
		if err != nil {
			return false, nil, err
		}
		if !ok {
			return false, errs, nil
		}
	}

	c.mu.Lock()
	c.delJob(j.Uuid)
	c.mu.Unlock()

	return true, nil, nil
}

func (c *Conductor) refreshLatestOnChain(ctx context.Context) error {
	onChain, err := c.chain.BlockNumber(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.latestOnChain = onChain
	c.mu.Unlock()
	return nil
}

// RunBackgroundSweeps starts the chain-height poller and the stale-
// reservation reaper. It blocks until ctx is cancelled.
func (c *Conductor) RunBackgroundSweeps(ctx context.Context) {
	chainTicker := time.NewTicker(c.chainPollInterval)
	reapTicker := time.NewTicker(c.reapInterval)
	defer chainTicker.Stop()
	defer reapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-chainTicker.C:
			if err := c.refreshLatestOnChain(ctx); err != nil {
				logger.Warn("background chain height refresh failed", "err", err)
			}
		case <-reapTicker.C:
			c.reapStaleJobs()
		}
	}
}

// reapStaleJobs releases the reservations of jobs whose owning consumer
// has not pinged within staleWindow.
func (c *Conductor) reapStaleJobs() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.staleWindow)

	var stale []Job
	for _, j := range c.jobs {
		seen, ok := c.lastSeen[j.ConsumerUUID()]
		if !ok || seen.Before(cutoff) {
			stale = append(stale, j)
		}
	}

	for _, j := range stale {
		c.delJob(j.JobUUID())
		switch job := j.(type) {
		case *BlockJob:
			for _, n := range job.BlockNumbers {
				delete(c.selectedBlockNumbers, n)
			}
		case *TxPrimeJob:
			for _, n := range job.BlockNumbers {
				delete(c.selectedBlocksToPrime, n)
			}
		case *TxDetailJob:
			for _, h := range job.Transactions {
				delete(c.selectedTransactions, h)
			}
		}
		logger.Info("reaped stale job", "job", j.JobUUID(), "consumer", j.ConsumerUUID(), "kind", j.Kind())
	}
}
