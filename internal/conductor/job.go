package conductor

import (
	"github.com/pborman/uuid"

	"github.com/ethingest/blocks/internal/workertype"
)

// Job is a tagged variant over BlockJob / TxPrimeJob / TxDetailJob.
type Job interface {
	JobUUID() string
	ConsumerUUID() string
	Kind() workertype.Type
}

// BlockJob reserves a set of block numbers for a BLOCK worker.
type BlockJob struct {
	Uuid         string
	Consumer     string
	BlockNumbers []uint64
}

func newBlockJob(consumer string) *BlockJob {
	return &BlockJob{Uuid: uuid.New(), Consumer: consumer}
}

func (j *BlockJob) JobUUID() string      { return j.Uuid }
func (j *BlockJob) ConsumerUUID() string { return j.Consumer }
func (j *BlockJob) Kind() workertype.Type { return workertype.Block }

// TxPrimeJob reserves a set of unprimed block numbers for a TX_PRIME
// worker.
type TxPrimeJob struct {
	Uuid         string
	Consumer     string
	BlockNumbers []uint64
}

func newTxPrimeJob(consumer string) *TxPrimeJob {
	return &TxPrimeJob{Uuid: uuid.New(), Consumer: consumer}
}

func (j *TxPrimeJob) JobUUID() string       { return j.Uuid }
func (j *TxPrimeJob) ConsumerUUID() string  { return j.Consumer }
func (j *TxPrimeJob) Kind() workertype.Type { return workertype.TxPrime }

// TxDetailJob reserves a set of dirty transaction hashes for a
// TX_DETAIL worker.
type TxDetailJob struct {
	Uuid         string
	Consumer     string
	Transactions []string
}

func newTxDetailJob(consumer string) *TxDetailJob {
	return &TxDetailJob{Uuid: uuid.New(), Consumer: consumer}
}

func (j *TxDetailJob) JobUUID() string       { return j.Uuid }
func (j *TxDetailJob) ConsumerUUID() string  { return j.Consumer }
func (j *TxDetailJob) Kind() workertype.Type { return workertype.TxDetail }
