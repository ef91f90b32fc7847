package locker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethingest/blocks/internal/model"
)

type lockRow struct {
	pid     int
	updated time.Time
}

type fakeStore struct {
	rows map[string][]lockRow
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string][]lockRow)}
}

func (f *fakeStore) isLive(r lockRow, lease time.Duration) bool {
	return time.Since(r.updated) < lease
}

func (f *fakeStore) CountLiveLocks(name string, pid int, lease time.Duration) (int64, error) {
	var count int64
	for _, r := range f.rows[name] {
		if r.pid != pid && f.isLive(r, lease) {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) FindLiveLock(name string, pid int, lease time.Duration) (*model.Lock, error) {
	for _, r := range f.rows[name] {
		if r.pid == pid && f.isLive(r, lease) {
			return &model.Lock{}, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertLock(name string, pid int) error {
	f.rows[name] = append(f.rows[name], lockRow{pid: pid, updated: time.Now()})
	return nil
}

func (f *fakeStore) RenewLock(name string, pid int) error {
	for i, r := range f.rows[name] {
		if r.pid == pid {
			f.rows[name][i].updated = time.Now()
		}
	}
	return nil
}

func (f *fakeStore) DeleteLocks(name string, pid int) error {
	var kept []lockRow
	for _, r := range f.rows[name] {
		if r.pid != pid {
			kept = append(kept, r)
		}
	}
	f.rows[name] = kept
	return nil
}

func TestLockAcquiresWhenFree(t *testing.T) {
	fs := newFakeStore()
	l := New(fs)

	ok, err := l.Lock("blockconsumer", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockRenewsExistingHolder(t *testing.T) {
	fs := newFakeStore()
	l := New(fs)

	ok, err := l.Lock("blockconsumer", 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Lock("blockconsumer", 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, fs.rows["blockconsumer"], 1)
}

func TestLockCapRejectsOverCap(t *testing.T) {
	fs := newFakeStore()
	l := New(fs).WithLimits(2, time.Hour)

	ok, err := l.Lock("blockconsumer", 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Lock("blockconsumer", 2)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Lock("blockconsumer", 3)
	require.Error(t, err)
	assert.Equal(t, ErrLockExists, err)
	assert.False(t, ok)
}

func TestLockRenewsAfterStaleTimeoutFreesSlot(t *testing.T) {
	fs := newFakeStore()
	l := New(fs).WithLimits(1, 10*time.Millisecond)

	ok, err := l.Lock("blockconsumer", 1)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)

	ok, err = l.Lock("blockconsumer", 2)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnlockReleasesAllRowsForPid(t *testing.T) {
	fs := newFakeStore()
	l := New(fs)

	_, err := l.Lock("blockconsumer", 1)
	require.NoError(t, err)

	require.NoError(t, l.Unlock("blockconsumer", 1))
	assert.Empty(t, fs.rows["blockconsumer"])
}
