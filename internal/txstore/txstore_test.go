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

package txstore

import (
	"context"
	"testing"
	"time"

	"github.com/kaleido-io/gsnrelay/internal/ethtx"
	"github.com/stretchr/testify/require"
)

var testSigner = ethtx.MustParseAddress("0x1111111111111111111111111111111111111111")

func newTestStore(t *testing.T) Store {
	// An in-memory database in shared-cache form, so every pooled connection
	// sees the same data; closing the store in Cleanup discards it before the
	// next test opens its own.
	store, err := Open(context.Background(), "file::memory:?cache=shared&_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func stored(nonce uint64, action ethtx.ServerAction) *StoredTransaction {
	return &StoredTransaction{
		TxHash:              ethtx.Hash("0xaaaa"),
		From:                testSigner,
		Nonce:               nonce,
		GasPrice:            "1000",
		GasLimit:            21000,
		Value:               "0",
		CreationBlockNumber: 100,
		CreationTimestamp:   time.Now(),
		ServerAction:        action,
	}
}

func TestPutReplacesByFromAndNonce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tx := stored(0, ethtx.ActionStake)
	require.NoError(t, store.Put(ctx, tx))

	all, err := store.GetAllBySigner(ctx, testSigner)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, ethtx.Hash("0xaaaa"), all[0].TxHash)

	// A boost replaces the record in place: same (from, nonce), new hash
	// and gas price, per spec.md §3's "at most one unmined StoredTransaction
	// per (from, nonce)" invariant.
	boosted := stored(0, ethtx.ActionStake)
	boosted.TxHash = "0xbbbb"
	boosted.GasPrice = "2000"
	require.NoError(t, store.Put(ctx, boosted))

	all, err = store.GetAllBySigner(ctx, testSigner)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, ethtx.Hash("0xbbbb"), all[0].TxHash)
	require.Equal(t, "2000", all[0].GasPrice)
}

func TestGetOldestPendingSkipsMined(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mined := stored(0, ethtx.ActionStake)
	minedBlock := uint64(105)
	mined.MinedBlockNumber = &minedBlock
	require.NoError(t, store.Put(ctx, mined))

	pending := stored(1, ethtx.ActionAuthorizeHub)
	require.NoError(t, store.Put(ctx, pending))

	oldest, err := store.GetOldestPending(ctx, testSigner)
	require.NoError(t, err)
	require.NotNil(t, oldest)
	require.Equal(t, uint64(1), oldest.Nonce)
}

func TestIsActionPendingFiltersByActionAndSigner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, stored(0, ethtx.ActionStake)))

	pending, err := store.IsActionPending(ctx, ethtx.ActionStake, nil)
	require.NoError(t, err)
	require.True(t, pending)

	pending, err = store.IsActionPending(ctx, ethtx.ActionRegisterServer, nil)
	require.NoError(t, err)
	require.False(t, pending)

	other := ethtx.MustParseAddress("0x2222222222222222222222222222222222222222")
	pending, err = store.IsActionPending(ctx, ethtx.ActionStake, &other)
	require.NoError(t, err)
	require.False(t, pending)
}

func TestHighestPersistedNonceIsOnePastTheMax(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, exists, err := store.HighestPersistedNonce(ctx, testSigner)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, store.Put(ctx, stored(0, ethtx.ActionStake)))
	require.NoError(t, store.Put(ctx, stored(1, ethtx.ActionAuthorizeHub)))

	next, exists, err := store.HighestPersistedNonce(ctx, testSigner)
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, uint64(2), next)
}

func TestHighestConfirmedNonceAtDepthHaltsAtFirstGap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	minedAt := func(n uint64, block uint64) *StoredTransaction {
		tx := stored(n, ethtx.ActionStake)
		b := block
		tx.MinedBlockNumber = &b
		return tx
	}

	// Nonce 0 mined deep enough, nonce 1 mined deep enough, nonce 2 unmined:
	// pruning must stop at nonce 1 and never consider nonce 2's absence a gap
	// in the wrong direction, per spec.md §4.2's "only permitted from the
	// lowest nonce upward" rule.
	require.NoError(t, store.Put(ctx, minedAt(0, 100)))
	require.NoError(t, store.Put(ctx, minedAt(1, 105)))
	require.NoError(t, store.Put(ctx, stored(2, ethtx.ActionStake)))

	nonce, found, err := store.HighestConfirmedNonceAtDepth(ctx, testSigner, 120, 12)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), nonce)
}

func TestHighestConfirmedNonceAtDepthRespectsConfirmationsNeeded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	minedAt := func(n uint64, block uint64) *StoredTransaction {
		tx := stored(n, ethtx.ActionStake)
		b := block
		tx.MinedBlockNumber = &b
		return tx
	}
	require.NoError(t, store.Put(ctx, minedAt(0, 118)))

	// currentBlock=120, minedBlock=118: depth=3, below confirmationsNeeded=12.
	_, found, err := store.HighestConfirmedNonceAtDepth(ctx, testSigner, 120, 12)
	require.NoError(t, err)
	require.False(t, found)
}

func TestRemoveTxsUntilNonceDeletesOnlyUpToN(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, stored(0, ethtx.ActionStake)))
	require.NoError(t, store.Put(ctx, stored(1, ethtx.ActionAuthorizeHub)))
	require.NoError(t, store.Put(ctx, stored(2, ethtx.ActionAddWorker)))

	require.NoError(t, store.RemoveTxsUntilNonce(ctx, testSigner, 1))

	all, err := store.GetAllBySigner(ctx, testSigner)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, uint64(2), all[0].Nonce)
}
