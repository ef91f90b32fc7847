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

// Package store is the relational persistence layer.
// It wraps github.com/jinzhu/gorm against PostgreSQL and exposes the
// narrow set of operations the conductor and the workers actually call;
// it intentionally does not expose a general-purpose query builder to
// callers outside this package.
package store

import (
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"

	blockslog "github.com/ethingest/blocks/internal/log"
	"github.com/ethingest/blocks/internal/model"
)

var logger = blockslog.NewModuleLogger(blockslog.Store)

// Store wraps a gorm DB handle open against Postgres.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres using dsn and returns a Store. Callers
// should call AutoMigrate once at process startup ("Initial
// DDL is applied once on empty schema").
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// AutoMigrate applies the initial DDL for all four tables. Failure here
// is fatal (exit code 51).
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&model.Block{},
		&model.Transaction{},
		&model.Consumer{},
		&model.Lock{},
	).Error
}
