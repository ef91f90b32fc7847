package store

import (
	"github.com/jinzhu/gorm"

	"github.com/ethingest/blocks/internal/model"
)

// InsertTransactionStub inserts a dirty, hash-only (plus optional
// block_number) transaction row. A unique-violation on hash surfaces as
// IsUniqueViolation(err) == true; callers treat that as idempotent.
func (s *Store) InsertTransactionStub(hash string, blockNumber *uint64) error {
	return s.db.Create(&model.Transaction{
		Hash:        hash,
		Dirty:       true,
		BlockNumber: blockNumber,
	}).Error
}

// GetRandomDirtyTransactionHashes returns up to limit transaction hashes
// with dirty=true, randomly ordered — database-side randomization to
// avoid head-of-line hot spots when several workers pull from the same
// dirty set concurrently.
func (s *Store) GetRandomDirtyTransactionHashes(limit int) ([]string, error) {
	var hashes []string
	err := s.db.Model(&model.Transaction{}).
		Where("dirty = ?", true).
		Order(gorm.Expr("RANDOM()")).
		Limit(limit).
		Pluck("hash", &hashes).Error
	return hashes, err
}

// TransactionDetail carries the fields the tx-detail worker fills in.
type TransactionDetail struct {
	BlockNumber uint64
	FromAddress string
	ToAddress   string
	Value       string
	GasPrice    string
	GasLimit    uint64
	Nonce       uint64
	Input       string
}

// UpdateTransactionDetail sets dirty=false and populates every detail
// field for the given hash in a single UPDATE.
func (s *Store) UpdateTransactionDetail(hash string, d TransactionDetail) error {
	return s.db.Model(&model.Transaction{}).Where("hash = ?", hash).Updates(map[string]interface{}{
		"dirty":        false,
		"block_number": d.BlockNumber,
		"from_address": d.FromAddress,
		"to_address":   d.ToAddress,
		"value":        d.Value,
		"gas_price":    d.GasPrice,
		"gas_limit":    d.GasLimit,
		"nonce":        d.Nonce,
		"input":        d.Input,
	}).Error
}

// CountTransactions returns the total number of transaction rows.
func (s *Store) CountTransactions() (int64, error) {
	var count int64
	err := s.db.Model(&model.Transaction{}).Count(&count).Error
	return count, err
}

// ValidateTransaction reports whether a transaction is complete: valid iff
// dirty=false and every other field is present and well-formed.
func (s *Store) ValidateTransaction(hash string) (bool, []string, error) {
	var tx model.Transaction
	err := s.db.Where("hash = ?", hash).First(&tx).Error
	if err == gorm.ErrRecordNotFound {
		return false, []string{"no transaction"}, nil
	}
	if err != nil {
		return false, nil, err
	}

	var errs []string
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	check(!tx.Dirty, "transaction still dirty")
	check(is256BitHash(tx.Hash), "hash is not a 256-bit hash")
	check(tx.BlockNumber != nil, "block_number missing")
	check(tx.FromAddress != nil && isAddress(*tx.FromAddress), "from_address is not a valid address")
	check(tx.ToAddress != nil && isAddress(*tx.ToAddress), "to_address is not a valid address")
	check(tx.Value != nil, "value missing")
	check(tx.GasPrice != nil, "gas_price missing")
	check(tx.GasLimit != nil, "gas_limit missing")
	check(tx.Nonce != nil, "nonce missing")
	check(tx.Input != nil, "input missing")

	return len(errs) == 0, errs, nil
}
