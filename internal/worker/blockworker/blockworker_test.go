package blockworker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethingest/blocks/internal/chainclient"
	"github.com/ethingest/blocks/internal/model"
)

type fakeChain struct {
	blocks map[uint64]*chainclient.Block
	err    error
}

func (f *fakeChain) BlockByNumber(ctx context.Context, number uint64) (*chainclient.Block, error) {
	if f.err != nil {
		return nil, f.err
	}
	blk, ok := f.blocks[number]
	if !ok {
		return nil, errors.New("no such block")
	}
	return blk, nil
}

type fakeConductor struct{}

func (f *fakeConductor) Ping(ctx context.Context, uuid string) error { return nil }
func (f *fakeConductor) JobRequest(ctx context.Context, uuid, workerType string) (json.RawMessage, error) {
	return nil, nil
}
func (f *fakeConductor) JobSubmit(ctx context.Context, jobUUID string) (bool, string, error) {
	return true, "", nil
}
func (f *fakeConductor) JobReject(ctx context.Context, jobUUID, reason string) error { return nil }

type recordingStore struct {
	inserted          []*model.Block
	stubs             map[string]*uint64
	duplicateBlock    uint64
	hasDuplicateBlock bool
	duplicateStubHash string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{stubs: make(map[string]*uint64)}
}

func (s *recordingStore) InsertBlock(b *model.Block) error {
	if s.hasDuplicateBlock && b.BlockNumber == s.duplicateBlock {
		return &pq.Error{Code: "23505"}
	}
	s.inserted = append(s.inserted, b)
	return nil
}

func (s *recordingStore) InsertTransactionStub(hash string, blockNumber *uint64) error {
	if hash == s.duplicateStubHash {
		return &pq.Error{Code: "23505"}
	}
	s.stubs[hash] = blockNumber
	return nil
}

func TestProcessJobStoresBlockAndTransactionStubs(t *testing.T) {
	chain := &fakeChain{blocks: map[uint64]*chainclient.Block{
		1: {Number: 1, Timestamp: 100, Hash: "0xhash", Miner: "0xminer", Transactions: []string{"0xaaa", "0xbbb"}},
	}}
	store := newRecordingStore()
	w := New(chain, &fakeConductor{}, store)

	err := w.processJob(context.Background(), []uint64{1})
	require.NoError(t, err)

	require.Len(t, store.inserted, 1)
	assert.Equal(t, uint64(1), store.inserted[0].BlockNumber)
	assert.Equal(t, "0xhash", *store.inserted[0].Hash)

	require.Len(t, store.stubs, 2)
	assert.Equal(t, uint64(1), *store.stubs["0xaaa"])
}

func TestProcessJobPropagatesChainError(t *testing.T) {
	chain := &fakeChain{err: errors.New("rpc down")}
	store := newRecordingStore()
	w := New(chain, &fakeConductor{}, store)

	err := w.processJob(context.Background(), []uint64{1})
	assert.Error(t, err)
	assert.Empty(t, store.inserted)
}

func TestProcessJobStopsOnCancelledContext(t *testing.T) {
	chain := &fakeChain{blocks: map[uint64]*chainclient.Block{
		1: {Number: 1, Transactions: nil},
	}}
	store := newRecordingStore()
	w := New(chain, &fakeConductor{}, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.processJob(ctx, []uint64{1})
	assert.Error(t, err)
	assert.Empty(t, store.inserted)
}

func TestProcessJobRejectsOnDuplicateBlockRow(t *testing.T) {
	chain := &fakeChain{blocks: map[uint64]*chainclient.Block{
		1: {Number: 1, Transactions: []string{"0xaaa"}},
	}}
	store := newRecordingStore()
	store.hasDuplicateBlock = true
	store.duplicateBlock = 1
	w := New(chain, &fakeConductor{}, store)

	err := w.processJob(context.Background(), []uint64{1})
	assert.Error(t, err)
	assert.Empty(t, store.inserted)
	assert.Empty(t, store.stubs)
}

func TestProcessJobTreatsDuplicateTransactionStubAsIdempotent(t *testing.T) {
	chain := &fakeChain{blocks: map[uint64]*chainclient.Block{
		1: {Number: 1, Transactions: []string{"0xaaa", "0xbbb"}},
	}}
	store := newRecordingStore()
	store.duplicateStubHash = "0xaaa"
	w := New(chain, &fakeConductor{}, store)

	err := w.processJob(context.Background(), []uint64{1})
	require.NoError(t, err)
	require.Len(t, store.inserted, 1)
	assert.Len(t, store.stubs, 1)
	assert.Equal(t, uint64(1), *store.stubs["0xbbb"])
}
