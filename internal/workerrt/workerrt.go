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

// Package workerrt is the common supervisor shared by the block,
// tx-prime and tx-detail worker binaries: it holds the named lock for
// its role, starts exactly one worker loop while the lock is held, and
// stops it the moment the lock is lost or a shutdown signal arrives.
package workerrt

import (
	"context"
	"math/rand"
	"os/signal"
	"sync"
	"syscall"
	"time"

	blockslog "github.com/ethingest/blocks/internal/log"
)

var logger = blockslog.NewModuleLogger(blockslog.Worker)

// LockAttemptInterval is how often the supervisor retries acquiring its
// role's lock.
const LockAttemptInterval = 15 * time.Second

// locker is the subset of *locker.Locker the runtime needs.
type locker interface {
	Lock(name string, pid int) (bool, error)
	Unlock(name string, pid int) error
}

// Role is a unit of work that runs for as long as ctx is not cancelled.
// Implementations should return promptly once ctx.Done() fires.
type Role func(ctx context.Context)

// Runtime supervises a single Role under a named, PID-scoped lock.
type Runtime struct {
	name   string
	pid    int
	locker locker
	role   Role

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Runtime. pid need not be the OS process id — it is
// only used to tell concurrently-running instances of the same role
// apart in the lock table.
func New(name string, pid int, l locker, role Role) *Runtime {
	return &Runtime{name: name, pid: pid, locker: l, role: role}
}

// NewWithRandomPID picks a random pid (0-9999), enough entropy to keep
// multiple instances on one host from colliding in the lock table
// without requiring a real OS pid.
func NewWithRandomPID(name string, l locker, role Role) *Runtime {
	return New(name, rand.Intn(10000), l, role)
}

// Run blocks until ctx is cancelled or a SIGINT/SIGTERM is received,
// acquiring and renewing the lock every LockAttemptInterval and
// starting/stopping the Role in step with lock ownership.
func (rt *Runtime) Run(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(LockAttemptInterval)
	defer ticker.Stop()

	rt.tryAcquire()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", "role", rt.name)
			rt.stopRole()
			_ = rt.locker.Unlock(rt.name, rt.pid)
			return
		case <-ticker.C:
			rt.tryAcquire()
		}
	}
}

func (rt *Runtime) tryAcquire() {
	acquired, err := rt.locker.Lock(rt.name, rt.pid)
	if err != nil {
		logger.Warn("lock attempt failed", "role", rt.name, "err", err)
		rt.stopRole()
		return
	}

	if acquired {
		rt.startRole()
		return
	}

	logger.Warn("lock held elsewhere, not running", "role", rt.name)
	rt.stopRole()
}

func (rt *Runtime) startRole() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.cancel != nil {
		return // already running
	}

	roleCtx, cancel := context.WithCancel(context.Background())
	rt.cancel = cancel
	rt.done = make(chan struct{})

	logger.Info("starting role", "role", rt.name)
	go func() {
		defer close(rt.done)
		rt.role(roleCtx)
	}()
}

func (rt *Runtime) stopRole() {
	rt.mu.Lock()
	cancel := rt.cancel
	done := rt.done
	rt.cancel = nil
	rt.done = nil
	rt.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}
