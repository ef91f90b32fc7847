package conductor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethingest/blocks/internal/store"
	"github.com/ethingest/blocks/internal/workertype"
)

type fakeChain struct {
	height uint64
	err    error
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) { return f.height, f.err }

type fakeStore struct {
	latest      uint64
	hasLatest   bool
	blockRefs   []store.BlockRef
	unprimed    []uint64
	dirtyHashes []string

	validBlocks       map[uint64]bool
	validPrimedBlocks map[uint64]bool
	validTxs          map[string]bool

	blockCount int64
	txCount    int64

	pinged      []string
	deactivated []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		validBlocks:       make(map[uint64]bool),
		validPrimedBlocks: make(map[uint64]bool),
		validTxs:          make(map[string]bool),
	}
}

func (f *fakeStore) GetLatestBlockNumber() (uint64, bool, error) { return f.latest, f.hasLatest, nil }

func (f *fakeStore) StreamBlockNumbers(chunkSize int, fn func([]store.BlockRef) error) error {
	if len(f.blockRefs) == 0 {
		return nil
	}
	return fn(f.blockRefs)
}

func (f *fakeStore) GetUnprimedBlocks(limit int, exclude []uint64) ([]uint64, error) {
	excluded := make(map[uint64]bool, len(exclude))
	for _, n := range exclude {
		excluded[n] = true
	}
	var out []uint64
	for _, n := range f.unprimed {
		if excluded[n] {
			continue
		}
		out = append(out, n)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) GetRandomDirtyTransactionHashes(limit int) ([]string, error) {
	if limit > len(f.dirtyHashes) {
		limit = len(f.dirtyHashes)
	}
	return f.dirtyHashes[:limit], nil
}

func (f *fakeStore) ValidateBlock(number uint64) (bool, []string, error) {
	if f.validBlocks[number] {
		return true, nil, nil
	}
	return false, []string{"invalid"}, nil
}

func (f *fakeStore) ValidateBlockPrimed(number uint64) (bool, []string, error) {
	if f.validPrimedBlocks[number] {
		return true, nil, nil
	}
	return false, []string{"not primed"}, nil
}

func (f *fakeStore) ValidateTransaction(hash string) (bool, []string, error) {
	if f.validTxs[hash] {
		return true, nil, nil
	}
	return false, []string{"invalid"}, nil
}

func (f *fakeStore) CountBlocks() (int64, error)       { return f.blockCount, nil }
func (f *fakeStore) CountTransactions() (int64, error) { return f.txCount, nil }

func (f *fakeStore) PingConsumer(uuid string) error {
	f.pinged = append(f.pinged, uuid)
	return nil
}

func (f *fakeStore) DeactivateConsumer(uuid string) error {
	f.deactivated = append(f.deactivated, uuid)
	return nil
}

func newTestConductor(t *testing.T, fs *fakeStore, chain *fakeChain, batchSize int) *Conductor {
	t.Helper()
	c := New(fs, chain, batchSize)
	require.NoError(t, c.Init(context.Background()))
	return c
}

func TestInitPopulatesKnownBlocks(t *testing.T) {
	fs := newFakeStore()
	fs.latest, fs.hasLatest = 10, true
	fs.blockRefs = []store.BlockRef{{Number: 1}, {Number: 2}, {Number: 3}}
	chain := &fakeChain{height: 20}

	c := newTestConductor(t, fs, chain, 10)

	assert.True(t, c.Status())
	assert.Equal(t, 3, c.KnownBlockCount())
}

func TestGenerateBlockJobSkipsKnownAndSelected(t *testing.T) {
	fs := newFakeStore()
	fs.blockRefs = []store.BlockRef{{Number: 0}, {Number: 1}}
	chain := &fakeChain{height: 5}

	c := newTestConductor(t, fs, chain, 2)

	job, err := c.GenerateJob(context.Background(), workertype.Block, "consumer-a")
	require.NoError(t, err)
	bj, ok := job.(*BlockJob)
	require.True(t, ok)
	assert.Equal(t, []uint64{2, 3}, bj.BlockNumbers)

	// 2 and 3 are now selected, so the next consumer only gets 4.
	job, err = c.GenerateJob(context.Background(), workertype.Block, "consumer-b")
	require.NoError(t, err)
	bj, ok = job.(*BlockJob)
	require.True(t, ok)
	assert.Equal(t, []uint64{4}, bj.BlockNumbers)
}

func TestGenerateJobReturnsExistingAssignment(t *testing.T) {
	fs := newFakeStore()
	chain := &fakeChain{height: 5}
	c := newTestConductor(t, fs, chain, 2)

	first, err := c.GenerateJob(context.Background(), workertype.Block, "consumer-a")
	require.NoError(t, err)

	second, err := c.GenerateJob(context.Background(), workertype.Block, "consumer-a")
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestGenerateTxPrimeJobReservesAndExcludes(t *testing.T) {
	fs := newFakeStore()
	fs.unprimed = []uint64{7, 8, 9}
	chain := &fakeChain{height: 5}
	c := newTestConductor(t, fs, chain, 300)

	job, err := c.GenerateJob(context.Background(), workertype.TxPrime, "consumer-a")
	require.NoError(t, err)
	pj := job.(*TxPrimeJob)
	assert.Equal(t, []uint64{7, 8, 9}, pj.BlockNumbers)

	job, err = c.GenerateJob(context.Background(), workertype.TxPrime, "consumer-b")
	require.NoError(t, err)
	assert.Empty(t, job.(*TxPrimeJob).BlockNumbers)
}

func TestGenerateTxDetailJobFiltersKnown(t *testing.T) {
	fs := newFakeStore()
	fs.dirtyHashes = []string{"0xaaa", "0xbbb", "0xccc"}
	chain := &fakeChain{height: 5}
	c := newTestConductor(t, fs, chain, 10)

	c.mu.Lock()
	c.knownTransactions["0xbbb"] = struct{}{}
	c.mu.Unlock()

	job, err := c.GenerateJob(context.Background(), workertype.TxDetail, "consumer-a")
	require.NoError(t, err)
	dj := job.(*TxDetailJob)
	assert.ElementsMatch(t, []string{"0xaaa", "0xccc"}, dj.Transactions)
}

func TestVerifyBlockJobSucceeds(t *testing.T) {
	fs := newFakeStore()
	fs.blockRefs = []store.BlockRef{{Number: 0}}
	chain := &fakeChain{height: 5}
	c := newTestConductor(t, fs, chain, 2)

	job, err := c.GenerateJob(context.Background(), workertype.Block, "consumer-a")
	require.NoError(t, err)
	bj := job.(*BlockJob)
	for _, n := range bj.BlockNumbers {
		fs.validBlocks[n] = true
	}

	ok, errs, verified, err := c.VerifyJob(bj.Uuid)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, errs)
	assert.Same(t, bj, verified)

	assert.Nil(t, c.getJob(bj.Uuid))
}

func TestVerifyBlockJobFailsOnBadData(t *testing.T) {
	fs := newFakeStore()
	chain := &fakeChain{height: 5}
	c := newTestConductor(t, fs, chain, 2)

	job, err := c.GenerateJob(context.Background(), workertype.Block, "consumer-a")
	require.NoError(t, err)
	bj := job.(*BlockJob)

	ok, errs, verified, err := c.VerifyJob(bj.Uuid)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEmpty(t, errs)
	assert.Same(t, bj, verified)
}

func TestVerifyJobUnknownUUID(t *testing.T) {
	fs := newFakeStore()
	chain := &fakeChain{height: 5}
	c := newTestConductor(t, fs, chain, 2)

	ok, errs, verified, err := c.VerifyJob("does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"invalid job uuid"}, errs)
	assert.Nil(t, verified)
}

func TestReapStaleJobsReleasesReservations(t *testing.T) {
	fs := newFakeStore()
	fs.blockRefs = []store.BlockRef{{Number: 0}}
	chain := &fakeChain{height: 5}
	c := newTestConductor(t, fs, chain, 2)

	job, err := c.GenerateJob(context.Background(), workertype.Block, "consumer-a")
	require.NoError(t, err)
	bj := job.(*BlockJob)
	require.NotEmpty(t, bj.BlockNumbers)

	c.mu.Lock()
	c.lastSeen["consumer-a"] = c.lastSeen["consumer-a"].Add(-2 * c.staleWindow)
	c.mu.Unlock()

	c.reapStaleJobs()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Nil(t, c.getJob(bj.Uuid))
	for _, n := range bj.BlockNumbers {
		_, stillSelected := c.selectedBlockNumbers[n]
		assert.False(t, stillSelected)
	}
}

func TestDelJobDropsReservationWithoutRestoring(t *testing.T) {
	fs := newFakeStore()
	chain := &fakeChain{height: 5}
	c := newTestConductor(t, fs, chain, 2)

	job, err := c.GenerateJob(context.Background(), workertype.Block, "consumer-a")
	require.NoError(t, err)
	bj := job.(*BlockJob)

	c.DelJob(bj.Uuid)

	assert.Nil(t, c.getJob(bj.Uuid))
	// the block numbers stay excluded from future assignment
	_, stillSelected := c.selectedBlockNumbers[bj.BlockNumbers[0]]
	assert.True(t, stillSelected)
}
