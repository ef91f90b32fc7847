package txdetailworker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethingest/blocks/internal/chainclient"
	"github.com/ethingest/blocks/internal/store"
)

type fakeChain struct {
	txs map[string]*chainclient.Transaction
	err error
}

func (f *fakeChain) TransactionByHash(ctx context.Context, hash string) (*chainclient.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	tx, ok := f.txs[hash]
	if !ok {
		return nil, errors.New("no such transaction")
	}
	return tx, nil
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
	details map[string]store.TransactionDetail
}

func newRecordingStore() *recordingStore {
	return &recordingStore{details: make(map[string]store.TransactionDetail)}
}

func (s *recordingStore) UpdateTransactionDetail(hash string, d store.TransactionDetail) error {
	s.details[hash] = d
	return nil
}

func TestProcessJobFillsInTransactionDetail(t *testing.T) {
	chain := &fakeChain{txs: map[string]*chainclient.Transaction{
		"0xaaa": {Hash: "0xaaa", BlockNumber: 10, From: "0xfrom", To: "0xto", Value: "1000", GasPrice: "5", Gas: 21000, Nonce: 3, Input: "0x"},
	}}
	store := newRecordingStore()
	w := New(chain, &fakeConductor{}, store)

	err := w.processJob(context.Background(), []string{"0xaaa"})
	require.NoError(t, err)

	detail, ok := store.details["0xaaa"]
	require.True(t, ok)
	assert.Equal(t, uint64(10), detail.BlockNumber)
	assert.Equal(t, "0xfrom", detail.FromAddress)
	assert.Equal(t, "0xto", detail.ToAddress)
	assert.Equal(t, uint64(21000), detail.GasLimit)
}

func TestProcessJobPropagatesChainError(t *testing.T) {
	chain := &fakeChain{err: errors.New("rpc down")}
	store := newRecordingStore()
	w := New(chain, &fakeConductor{}, store)

	err := w.processJob(context.Background(), []string{"0xaaa"})
	assert.Error(t, err)
	assert.Empty(t, store.details)
}
