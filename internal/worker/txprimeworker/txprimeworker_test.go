package txprimeworker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethingest/blocks/internal/chainclient"
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
	stubs         map[string]*uint64
	primed        []uint64
	duplicateHash string
}

func newRecordingStore() *recordingStore {
	return &recordingStore{stubs: make(map[string]*uint64)}
}

func (s *recordingStore) InsertTransactionStub(hash string, blockNumber *uint64) error {
	if hash == s.duplicateHash {
		return &pq.Error{Code: "23505"}
	}
	s.stubs[hash] = blockNumber
	return nil
}

func (s *recordingStore) MarkBlockPrimed(number uint64) error {
	s.primed = append(s.primed, number)
	return nil
}

func TestProcessJobStubsTransactionsAndMarksPrimed(t *testing.T) {
	chain := &fakeChain{blocks: map[uint64]*chainclient.Block{
		5: {Number: 5, Transactions: []string{"0xaaa", "0xbbb"}},
	}}
	store := newRecordingStore()
	w := New(chain, &fakeConductor{}, store)

	err := w.processJob(context.Background(), []uint64{5})
	require.NoError(t, err)

	assert.Len(t, store.stubs, 2)
	assert.Equal(t, []uint64{5}, store.primed)
}

func TestProcessJobTreatsDuplicateStubAsIdempotent(t *testing.T) {
	chain := &fakeChain{blocks: map[uint64]*chainclient.Block{
		5: {Number: 5, Transactions: []string{"0xaaa", "0xbbb"}},
	}}
	store := newRecordingStore()
	store.duplicateHash = "0xaaa"
	w := New(chain, &fakeConductor{}, store)

	err := w.processJob(context.Background(), []uint64{5})
	require.NoError(t, err)

	assert.Len(t, store.stubs, 1)
	assert.Equal(t, []uint64{5}, store.primed)
}

func TestProcessJobPropagatesNonUniqueViolationError(t *testing.T) {
	chain := &fakeChain{err: errors.New("rpc down")}
	store := newRecordingStore()
	w := New(chain, &fakeConductor{}, store)

	err := w.processJob(context.Background(), []uint64{5})
	assert.Error(t, err)
	assert.Empty(t, store.primed)
}
