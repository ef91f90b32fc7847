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

// Package blocktime scans stored blocks for timestamp anomalies: any
// block whose timestamp does not fall strictly between its neighbors'
// in a sliding three-block window is flagged.
package blocktime

import (
	"fmt"

	blockslog "github.com/ethingest/blocks/internal/log"
	"github.com/ethingest/blocks/internal/store"
)

var logger = blockslog.NewModuleLogger(blockslog.Analysis)

// chunkSize bounds how many blocks are pulled from the store per query.
const chunkSize = 50_000

// backingStore is the subset of store.Store this scan needs.
type backingStore interface {
	GetLatestBlockNumber() (uint64, bool, error)
	GetBlockTimesInRange(start, end uint64) ([]store.BlockTime, error)
}

// Result summarizes a completed scan.
type Result struct {
	InvalidBlockCount int
	InvalidBlocks     []store.BlockTime
}

// window is a fixed-size ring of the three most recently seen blocks,
// newest first.
type window struct {
	values []store.BlockTime
	size   int
}

func newWindow(size int) *window { return &window{size: size} }

func (w *window) push(v store.BlockTime) {
	w.values = append([]store.BlockTime{v}, w.values...)
	if len(w.values) > w.size {
		w.values = w.values[:w.size]
	}
}

func (w *window) full() bool { return len(w.values) == w.size }

// increasing reports whether a's timestamp is strictly after b's.
func increasing(a, b store.BlockTime) bool { return a.Timestamp.After(b.Timestamp) }

// valid reports whether the window's three entries are in strictly
// increasing timestamp order from oldest to newest. values[0] is the
// most recently pushed (newest) block; values[2] is the oldest.
func (w *window) valid() bool {
	if !w.full() {
		return false
	}
	return increasing(w.values[0], w.values[1]) && increasing(w.values[1], w.values[2])
}

// pickInvalid identifies the middle block of the window as the anomaly
// when the two neighboring comparisons disagree about ordering: the
// outer two blocks are still in order, but the middle block breaks it.
func (w *window) pickInvalid() *store.BlockTime {
	if !w.full() {
		return nil
	}
	a, b, c := w.values[0], w.values[1], w.values[2]
	if increasing(w.values[0], w.values[1]) && increasing(w.values[1], w.values[2]) {
		return nil
	}
	if increasing(a, c) && (!increasing(a, b) || !increasing(b, c)) {
		return &b
	}
	return nil
}

// Scan walks blocks in [start, end) (end=nil means "up to the latest
// known block") looking for timestamp anomalies.
func Scan(s backingStore, start uint64, end *uint64) (*Result, error) {
	var rangeEnd uint64
	if end != nil {
		rangeEnd = *end
	} else {
		latest, ok, err := s.GetLatestBlockNumber()
		if err != nil {
			return nil, err
		}
		if !ok {
			return &Result{}, nil
		}
		rangeEnd = latest + 1
	}

	if start > rangeEnd {
		return nil, fmt.Errorf("%w: start %d > end %d", store.ErrInvalidRange, start, rangeEnd)
	}

	win := newWindow(3)
	result := &Result{}

	for chunkStart := start; chunkStart < rangeEnd; chunkStart += chunkSize {
		chunkEnd := chunkStart + chunkSize
		if chunkEnd > rangeEnd {
			chunkEnd = rangeEnd
		}

		blocks, err := s.GetBlockTimesInRange(chunkStart, chunkEnd)
		if err != nil {
			return nil, err
		}

		for _, b := range blocks {
			win.push(b)

			if win.full() && !win.valid() {
				if bad := win.pickInvalid(); bad != nil {
					result.InvalidBlocks = append(result.InvalidBlocks, *bad)
					result.InvalidBlockCount++
					logger.Warn("timestamp anomaly", "block", bad.Number, "timestamp", bad.Timestamp)
				}
			}
		}
	}

	return result, nil
}
