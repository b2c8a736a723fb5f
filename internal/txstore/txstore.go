/*
 * Copyright © 2024 Kaleido, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with
 * the License. You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on
 * an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the License for the
 * specific language governing permissions and limitations under the License.
 *
 * SPDX-License-Identifier: Apache-2.0
 */

// Package txstore is a durable associative log: a single-process
// embedded journal of StoredTransaction records keyed by (from, nonce),
// backed by a SQLite file through GORM the way the teacher's
// publictxmgr persists persistedPubTx/persistedTxSubmission rows - the
// same storage technology, repurposed from a multi-submission history
// to a simpler "one unmined record per (from,nonce)" model.
package txstore

import (
	"context"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/kaleido-io/gsnrelay/internal/ethtx"
	"github.com/kaleido-io/gsnrelay/internal/msgs"
	"github.com/kaleido-io/gsnrelay/pkg/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// StoredTransaction is the in-memory form of a persisted transaction record.
type StoredTransaction struct {
	TxHash              ethtx.Hash
	From                ethtx.Address
	To                  *ethtx.Address
	Nonce               uint64
	GasPrice            string // decimal, see ethtx.ParseBigInt/BigIntToString
	GasLimit            uint64
	Value               string
	Data                ethtx.HexBytes
	CreationBlockNumber uint64
	CreationTimestamp   time.Time
	ServerAction        ethtx.ServerAction
	MinedBlockNumber    *uint64
}

// IsMined reports whether this record has been observed included in a block.
func (s *StoredTransaction) IsMined() bool { return s.MinedBlockNumber != nil }

// row is the GORM-persisted shape; StoredTransaction is what the rest of
// the engine works with, kept separate so storage concerns (column types)
// don't leak into business logic signatures.
type row struct {
	From                string `gorm:"column:from_address;primaryKey"`
	Nonce               uint64 `gorm:"primaryKey"`
	TxHash              string `gorm:"column:tx_hash"`
	To                  string `gorm:"column:to_address"`
	GasPrice            string
	GasLimit            uint64
	Value               string
	Data                string
	CreationBlockNumber uint64
	CreationTimestamp   int64
	ServerAction        string
	MinedBlockNumber    *uint64
}

func (row) TableName() string { return "stored_transactions" }

func toRow(s *StoredTransaction) *row {
	r := &row{
		From:                string(s.From),
		Nonce:               s.Nonce,
		TxHash:              string(s.TxHash),
		GasPrice:            s.GasPrice,
		GasLimit:            s.GasLimit,
		Value:               s.Value,
		Data:                string(s.Data),
		CreationBlockNumber: s.CreationBlockNumber,
		CreationTimestamp:   s.CreationTimestamp.UnixMilli(),
		ServerAction:        string(s.ServerAction),
		MinedBlockNumber:    s.MinedBlockNumber,
	}
	if s.To != nil {
		r.To = string(*s.To)
	}
	return r
}

func fromRow(r *row) *StoredTransaction {
	s := &StoredTransaction{
		TxHash:              ethtx.Hash(r.TxHash),
		From:                ethtx.Address(r.From),
		Nonce:               r.Nonce,
		GasPrice:            r.GasPrice,
		GasLimit:            r.GasLimit,
		Value:               r.Value,
		Data:                ethtx.HexBytes(r.Data),
		CreationBlockNumber: r.CreationBlockNumber,
		CreationTimestamp:   time.UnixMilli(r.CreationTimestamp),
		ServerAction:        ethtx.ServerAction(r.ServerAction),
		MinedBlockNumber:    r.MinedBlockNumber,
	}
	if r.To != "" {
		to := ethtx.Address(r.To)
		s.To = &to
	}
	return s
}

// Store is the transaction journal's storage port.
type Store interface {
	// Put inserts or replaces the record for (tx.From, tx.Nonce).
	Put(ctx context.Context, tx *StoredTransaction) error
	// GetAllBySigner returns every record for from, ordered by nonce ascending.
	GetAllBySigner(ctx context.Context, from ethtx.Address) ([]*StoredTransaction, error)
	// GetOldestPending returns the first (lowest nonce) unmined record for from, or nil.
	GetOldestPending(ctx context.Context, from ethtx.Address) (*StoredTransaction, error)
	// IsActionPending reports whether an unmined record with the given action exists,
	// optionally restricted to one signer.
	IsActionPending(ctx context.Context, action ethtx.ServerAction, signer *ethtx.Address) (bool, error)
	// HighestPersistedNonce returns one past the highest nonce ever stored for from,
	// and whether any record exists at all.
	HighestPersistedNonce(ctx context.Context, from ethtx.Address) (next uint64, exists bool, err error)
	// HighestConfirmedNonceAtDepth returns the highest nonce for from whose mined
	// record has reached at least confirmationsNeeded confirmations, scanning
	// contiguously from the lowest stored nonce and halting at the first gap -
	// pruning is only ever permitted from the lowest nonce upward, stopping
	// below the lowest unconfirmed one.
	HighestConfirmedNonceAtDepth(ctx context.Context, from ethtx.Address, currentBlock uint64, confirmationsNeeded uint64) (nonce uint64, found bool, err error)
	// RemoveTxsUntilNonce deletes every record for from with nonce <= n.
	RemoveTxsUntilNonce(ctx context.Context, from ethtx.Address, n uint64) error
	Close() error
}

type store struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the SQLite-backed transaction journal at path.
func Open(ctx context.Context, path string) (Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgTxStoreOpenFailed, path, err.Error())
	}
	if err := db.AutoMigrate(&row{}); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgTxStoreOpenFailed, path, err.Error())
	}
	log.L(ctx).Infof("Opened transaction store at %s", path)
	return &store{db: db}, nil
}

func (s *store) Put(ctx context.Context, tx *StoredTransaction) error {
	r := toRow(tx)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "from_address"}, {Name: "nonce"}},
		UpdateAll: true,
	}).Create(r).Error
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgTxStorePutFailed, tx.From, tx.Nonce, err.Error())
	}
	return nil
}

func (s *store) GetAllBySigner(ctx context.Context, from ethtx.Address) ([]*StoredTransaction, error) {
	var rows []*row
	if err := s.db.WithContext(ctx).
		Where("from_address = ?", string(from)).
		Order("nonce ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*StoredTransaction, len(rows))
	for i, r := range rows {
		out[i] = fromRow(r)
	}
	return out, nil
}

func (s *store) GetOldestPending(ctx context.Context, from ethtx.Address) (*StoredTransaction, error) {
	var r row
	err := s.db.WithContext(ctx).
		Where("from_address = ? AND mined_block_number IS NULL", string(from)).
		Order("nonce ASC").
		Limit(1).
		Take(&r).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromRow(&r), nil
}

func (s *store) IsActionPending(ctx context.Context, action ethtx.ServerAction, signer *ethtx.Address) (bool, error) {
	q := s.db.WithContext(ctx).Model(&row{}).
		Where("server_action = ? AND mined_block_number IS NULL", string(action))
	if signer != nil {
		q = q.Where("from_address = ?", string(*signer))
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *store) HighestPersistedNonce(ctx context.Context, from ethtx.Address) (uint64, bool, error) {
	var r row
	err := s.db.WithContext(ctx).
		Where("from_address = ?", string(from)).
		Order("nonce DESC").
		Limit(1).
		Take(&r).Error
	if err == gorm.ErrRecordNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return r.Nonce + 1, true, nil
}

func (s *store) HighestConfirmedNonceAtDepth(ctx context.Context, from ethtx.Address, currentBlock uint64, confirmationsNeeded uint64) (uint64, bool, error) {
	all, err := s.GetAllBySigner(ctx, from)
	if err != nil {
		return 0, false, err
	}
	var highest uint64
	found := false
	for _, tx := range all {
		if !tx.IsMined() {
			// A gap: an earlier nonce is unconfirmed, so pruning halts here -
			// only permitted from the lowest nonce upward.
			break
		}
		depth := currentBlock - *tx.MinedBlockNumber + 1
		if depth < confirmationsNeeded {
			break
		}
		highest = tx.Nonce
		found = true
	}
	if !found {
		log.L(ctx).Tracef("No confirmed-and-prunable nonce found for %s at block %d", from, currentBlock)
	}
	return highest, found, nil
}

func (s *store) RemoveTxsUntilNonce(ctx context.Context, from ethtx.Address, n uint64) error {
	return s.db.WithContext(ctx).
		Where("from_address = ? AND nonce <= ?", string(from), n).
		Delete(&row{}).Error
}

func (s *store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
