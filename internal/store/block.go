package store

import (
	"strings"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/ethingest/blocks/internal/model"
)

// BlockRef is the minimal (number, primed) pair streamed during
// conductor initialization.
type BlockRef struct {
	Number uint64
	Primed bool
}

// GetLatestBlockNumber returns max(block_number), or (0, false) if the
// block table is empty.
func (s *Store) GetLatestBlockNumber() (uint64, bool, error) {
	var max *uint64
	row := s.db.Table("block").Select("MAX(block_number)").Row()
	if err := row.Scan(&max); err != nil {
		return 0, false, err
	}
	if max == nil {
		return 0, false, nil
	}
	return *max, true, nil
}

// StreamBlockNumbers calls fn with successive chunks of (block_number,
// primed) ordered by block_number, chunkSize rows at a time, stopping at
// the first empty chunk or after the first chunk shorter than chunkSize.
func (s *Store) StreamBlockNumbers(chunkSize int, fn func(chunk []BlockRef) error) error {
	offset := 0
	for {
		var rows []struct {
			BlockNumber uint64
			Primed      bool
		}
		err := s.db.Table("block").
			Select("block_number, primed").
			Order("block_number ASC").
			Limit(chunkSize).
			Offset(offset).
			Scan(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		chunk := make([]BlockRef, len(rows))
		for i, r := range rows {
			chunk[i] = BlockRef{Number: r.BlockNumber, Primed: r.Primed}
		}
		if err := fn(chunk); err != nil {
			return err
		}

		if len(rows) < chunkSize {
			return nil
		}
		offset += chunkSize
	}
}

// InsertBlock inserts a new header row. A unique-violation on
// block_number surfaces as IsUniqueViolation(err) == true.
func (s *Store) InsertBlock(b *model.Block) error {
	return s.db.Create(b).Error
}

// BlockTime is the (number, timestamp) pair the blocktime anomaly scan
// needs; blocks with no timestamp recorded yet are skipped.
type BlockTime struct {
	Number    uint64
	Timestamp time.Time
}

// GetBlockTimesInRange returns every block in [start, end) that has a
// recorded timestamp, ordered ascending by block_number.
func (s *Store) GetBlockTimesInRange(start, end uint64) ([]BlockTime, error) {
	var rows []struct {
		BlockNumber    uint64
		BlockTimestamp time.Time
	}
	err := s.db.Table("block").
		Select("block_number, block_timestamp").
		Where("block_number >= ? AND block_number < ? AND block_timestamp IS NOT NULL", start, end).
		Order("block_number ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]BlockTime, len(rows))
	for i, r := range rows {
		out[i] = BlockTime{Number: r.BlockNumber, Timestamp: r.BlockTimestamp}
	}
	return out, nil
}

// GetUnprimedBlocks returns up to limit block numbers with primed=false,
// excluding the given numbers, ordered by block_number DESC so the
// newest unprimed blocks get attention first.
func (s *Store) GetUnprimedBlocks(limit int, exclude []uint64) ([]uint64, error) {
	q := s.db.Table("block").Where("primed = ?", false)
	if len(exclude) > 0 {
		q = q.Where("block_number NOT IN (?)", exclude)
	}

	var numbers []uint64
	err := q.Order("block_number DESC").Limit(limit).Pluck("block_number", &numbers).Error
	return numbers, err
}

// MarkBlockPrimed sets primed=true for the given block number.
func (s *Store) MarkBlockPrimed(number uint64) error {
	return s.db.Table("block").Where("block_number = ?", number).
		Update("primed", true).Error
}

// CountBlocks returns the total number of block rows.
func (s *Store) CountBlocks() (int64, error) {
	var count int64
	err := s.db.Model(&model.Block{}).Count(&count).Error
	return count, err
}

// ValidateBlock reports whether a block is complete: valid iff
// every required field is present and well-formed.
func (s *Store) ValidateBlock(number uint64) (bool, []string, error) {
	var blk model.Block
	err := s.db.Where("block_number = ?", number).First(&blk).Error
	if err == gorm.ErrRecordNotFound {
		return false, []string{"no block"}, nil
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

	check(blk.BlockTimestamp != nil, "block_timestamp is missing")
	check(blk.Difficulty != nil, "difficulty missing")
	check(blk.Hash != nil, "block hash missing")
	if blk.Hash != nil {
		check(is256BitHash(*blk.Hash), "block hash is not a hash")
	}
	check(blk.Miner != nil, "miner missing")
	if blk.Miner != nil {
		check(isAddress(*blk.Miner), "miner is not an address")
	}
	check(blk.GasUsed != nil, "gas_used missing")
	check(blk.GasLimit != nil, "gas_limit missing")
	check(blk.Nonce != nil, "nonce missing")
	check(blk.Size != nil, "size missing")

	return len(errs) == 0, errs, nil
}

// ValidateBlockPrimed reports whether a block has been primed:
// the block must be marked primed.
func (s *Store) ValidateBlockPrimed(number uint64) (bool, []string, error) {
	var blk model.Block
	err := s.db.Select("block_number, primed").Where("block_number = ?", number).First(&blk).Error
	if err == gorm.ErrRecordNotFound {
		return false, []string{"no block"}, nil
	}
	if err != nil {
		return false, nil, err
	}
	if !blk.Primed {
		return false, []string{"not marked primed"}, nil
	}
	return true, nil, nil
}

// is256BitHash reports whether v is a 256-bit (64 hex char) hash,
// optionally 0x-prefixed.
func is256BitHash(v string) bool {
	if !strings.HasPrefix(v, "0x") {
		v = "0x" + v
	}
	if len(v) != 66 {
		return false
	}
	return isHex(v[2:])
}

// isAddress reports whether v is a 20-byte (40 hex char) address,
// optionally 0x-prefixed.
func isAddress(v string) bool {
	if strings.HasPrefix(v, "0x") {
		v = v[2:]
	}
	if len(v) != 40 {
		return false
	}
	return isHex(v)
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
