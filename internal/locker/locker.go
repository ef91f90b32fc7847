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

// Package locker implements the named, PID-tagged, time-leased lock
// that guarantees at most one active worker per role per
// database.
package locker

import (
	"errors"
	"time"

	"github.com/ethingest/blocks/internal/model"
)

// DefaultMaxLocks is the default cap on concurrently live locks sharing
// one name.
const DefaultMaxLocks = 50

// DefaultLease is the duration after which an un-renewed lock row is
// considered dead.
const DefaultLease = time.Hour

// ErrLockExists is returned when the cap on a lock name is reached by a
// different pid.
var ErrLockExists = errors.New("locker: lock exists")

// backingStore is the subset of store.Store the locker needs, so tests
// can fake it without a real Postgres instance.
type backingStore interface {
	CountLiveLocks(name string, pid int, lease time.Duration) (int64, error)
	FindLiveLock(name string, pid int, lease time.Duration) (*model.Lock, error)
	InsertLock(name string, pid int) error
	RenewLock(name string, pid int) error
	DeleteLocks(name string, pid int) error
}

// Locker grants named leases backed by the Store.
type Locker struct {
	store    backingStore
	maxLocks int
	lease    time.Duration
}

// New returns a Locker with the default cap and lease.
func New(s backingStore) *Locker {
	return &Locker{store: s, maxLocks: DefaultMaxLocks, lease: DefaultLease}
}

// WithLimits overrides the cap and lease, used in tests and by operators
// tuning MAX_LOCKS.
func (l *Locker) WithLimits(maxLocks int, lease time.Duration) *Locker {
	l.maxLocks = maxLocks
	l.lease = lease
	return l
}

// Lock attempts to acquire (or renew) name for pid. It succeeds if (a)
// pid already holds a live lock of this name — in which case the row is
// renewed — or (b) the number of *other* live locks with this name is
// below the cap. It fails with ErrLockExists when the cap is reached by
// other pids.
//
// Every successful call updates `updated = now()`, whether by renewal
// or by a fresh insert, so a lock holder that keeps calling Lock never
// goes stale under its own lease.
func (l *Locker) Lock(name string, pid int) (bool, error) {
	existing, err := l.store.FindLiveLock(name, pid, l.lease)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if err := l.store.RenewLock(name, pid); err != nil {
			return false, err
		}
		return true, nil
	}

	count, err := l.store.CountLiveLocks(name, pid, l.lease)
	if err != nil {
		return false, err
	}
	if count >= int64(l.maxLocks) {
		return false, ErrLockExists
	}

	if err := l.store.InsertLock(name, pid); err != nil {
		return false, err
	}
	return true, nil
}

// Unlock releases every lock row held by (name, pid).
func (l *Locker) Unlock(name string, pid int) error {
	return l.store.DeleteLocks(name, pid)
}
