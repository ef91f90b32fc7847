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

// Package model defines the four persisted entities: Block,
// Transaction, Consumer, and Lock. These are gorm models; table and
// column names match the schema a running deployment already has on
// disk, so migrating from an existing install needs no data rewrite.
package model

import "time"

// Block is a chain header row keyed by block number.
type Block struct {
	BlockNumber    uint64     `gorm:"primary_key;column:block_number"`
	BlockTimestamp *time.Time `gorm:"column:block_timestamp"`
	Difficulty     *string    `gorm:"column:difficulty"`
	Hash           *string    `gorm:"column:hash"`
	Miner          *string    `gorm:"column:miner"`
	GasUsed        *uint64    `gorm:"column:gas_used"`
	GasLimit       *uint64    `gorm:"column:gas_limit"`
	Nonce          *uint64    `gorm:"column:nonce"`
	Size           *uint64    `gorm:"column:size"`
	Primed         bool       `gorm:"column:primed;default:false"`
}

// TableName pins the gorm table name to "block"; gorm would otherwise
// pluralize it to "blocks".
func (Block) TableName() string { return "block" }

// Transaction is a chain transaction row keyed by hash. It exists first
// as a dirty stub (hash only, maybe block_number) and is later filled in
// by the tx-detail worker.
type Transaction struct {
	Hash        string  `gorm:"primary_key;column:hash"`
	Dirty       bool    `gorm:"column:dirty;default:true"`
	BlockNumber *uint64 `gorm:"column:block_number"`
	FromAddress *string `gorm:"column:from_address"`
	ToAddress   *string `gorm:"column:to_address"`
	Value       *string `gorm:"column:value"`
	GasPrice    *string `gorm:"column:gas_price"`
	GasLimit    *uint64 `gorm:"column:gas_limit"`
	Nonce       *uint64 `gorm:"column:nonce"`
	Input       *string `gorm:"column:input"`
}

func (Transaction) TableName() string { return "transaction" }

// Consumer is a registered worker process, heartbeated via /ping.
type Consumer struct {
	ConsumerUUID string     `gorm:"primary_key;column:consumer_uuid"`
	Name         string     `gorm:"column:name"`
	Address      string     `gorm:"column:address"`
	Port         int        `gorm:"column:port"`
	Active       bool       `gorm:"column:active;default:true"`
	LastSeen     *time.Time `gorm:"column:last_seen"`
}

func (Consumer) TableName() string { return "consumer" }

// Lock is a named, PID-tagged, time-leased lease row.
type Lock struct {
	LockID  uint64    `gorm:"primary_key;column:lock_id"`
	Name    string    `gorm:"column:name"`
	Pid     int       `gorm:"column:pid"`
	Updated time.Time `gorm:"column:updated"`
}

func (Lock) TableName() string { return "lock" }
