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

package txmgr

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/kaleido-io/gsnrelay/internal/chainclient"
	"github.com/kaleido-io/gsnrelay/internal/confutil"
	"github.com/kaleido-io/gsnrelay/internal/ethtx"
	"github.com/kaleido-io/gsnrelay/internal/txstore"
	"github.com/stretchr/testify/require"
)

var (
	testManager = ethtx.MustParseAddress("0x1111111111111111111111111111111111111111")
	testWorker  = ethtx.MustParseAddress("0x2222222222222222222222222222222222222222")
	testTo      = ethtx.MustParseAddress("0x3333333333333333333333333333333333333333")
)

// fakeKeys is an in-memory KeyStore double: it hands out a deterministic,
// incrementing hash per signature rather than real secp256k1 signing, so
// these tests exercise the manager's orchestration, not cryptography.
type fakeKeys struct {
	addresses map[int]ethtx.Address
	signCount int
}

func (f *fakeKeys) GetAddress(ctx context.Context, index int) (ethtx.Address, error) {
	return f.addresses[index], nil
}

func (f *fakeKeys) Sign(ctx context.Context, addr ethtx.Address, tx *ethtx.UnsignedTx) ([]byte, ethtx.Hash, error) {
	f.signCount++
	hash := ethtx.Hash(fmt.Sprintf("0x%064x", f.signCount))
	return []byte{byte(f.signCount)}, hash, nil
}

func newTestManager(t *testing.T) (Manager, *chainclient.Fake, txstore.Store) {
	fc := chainclient.NewFake()
	fc.ChainIDVal = 1337
	store, err := txstore.Open(context.Background(), "file::memory:?cache=shared&_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	keys := &fakeKeys{addresses: map[int]ethtx.Address{0: testManager, 1: testWorker}}
	conf := &Config{
		MaxGasPrice:               confutil.P("1000000"),
		RetryGasPriceFactor:       confutil.P("1.3"),
		PendingTransactionTimeout: confutil.P(30),
		ConfirmationsNeeded:       confutil.P(12),
		EstimateGasMarginPercent:  confutil.P(0),
	}
	m := New(conf, fc.ChainIDVal, fc, keys, store)
	return m, fc, store
}

func TestSendTransactionAllocatesSequentialNonces(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	h1, _, err := m.SendTransaction(ctx, &SendDetails{Signer: testManager, Action: ethtx.ActionStake, To: &testTo, GasLimit: 21000, GasPrice: big.NewInt(100), CreationBlockNumber: 10})
	require.NoError(t, err)
	require.NotEmpty(t, h1)

	h2, _, err := m.SendTransaction(ctx, &SendDetails{Signer: testManager, Action: ethtx.ActionAuthorizeHub, To: &testTo, GasLimit: 21000, GasPrice: big.NewInt(100), CreationBlockNumber: 11})
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)

	nonce, err := m.PollNonce(ctx, testManager)
	require.NoError(t, err)
	require.Equal(t, uint64(2), nonce)
}

func TestPollNoncePrefersChainOverLocalWhenChainAhead(t *testing.T) {
	ctx := context.Background()
	m, fc, _ := newTestManager(t)

	fc.Nonces[testManager] = 5
	nonce, err := m.PollNonce(ctx, testManager)
	require.NoError(t, err)
	require.Equal(t, uint64(5), nonce)
}

func TestBoostIncreasesGasPriceWithoutChangingNonce(t *testing.T) {
	ctx := context.Background()
	m, fc, store := newTestManager(t)

	_, _, err := m.SendTransaction(ctx, &SendDetails{Signer: testManager, Action: ethtx.ActionStake, To: &testTo, GasLimit: 21000, GasPrice: big.NewInt(100), CreationBlockNumber: 10})
	require.NoError(t, err)

	fc.GasPriceVal = big.NewInt(50) // network price below the boosted floor

	hash, err := m.BoostOldestPendingTransactionForSigner(ctx, testManager, 41) // age=31 > timeout=30
	require.NoError(t, err)
	require.NotNil(t, hash)

	all, err := store.GetAllBySigner(ctx, testManager)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, uint64(0), all[0].Nonce)
	boostedPrice := ethtx.ParseBigInt(all[0].GasPrice)
	require.True(t, boostedPrice.Cmp(big.NewInt(100)) > 0, "boosted gas price %s should exceed prior 100", boostedPrice)
	require.True(t, boostedPrice.Cmp(big.NewInt(131)) <= 0, "boosted gas price %s should not overshoot 100*1.3 by more than rounding", boostedPrice)
}

func TestBoostSkippedBeforeTimeout(t *testing.T) {
	ctx := context.Background()
	m, _, store := newTestManager(t)

	_, _, err := m.SendTransaction(ctx, &SendDetails{Signer: testManager, Action: ethtx.ActionStake, To: &testTo, GasLimit: 21000, GasPrice: big.NewInt(100), CreationBlockNumber: 10})
	require.NoError(t, err)

	hash, err := m.BoostOldestPendingTransactionForSigner(ctx, testManager, 20) // age=10 < timeout=30
	require.NoError(t, err)
	require.Nil(t, hash)

	all, err := store.GetAllBySigner(ctx, testManager)
	require.NoError(t, err)
	require.Equal(t, "100", all[0].GasPrice)
}

func TestBoostCapsAtMaxGasPrice(t *testing.T) {
	ctx := context.Background()
	m, fc, store := newTestManager(t)

	_, _, err := m.SendTransaction(ctx, &SendDetails{Signer: testManager, Action: ethtx.ActionStake, To: &testTo, GasLimit: 21000, GasPrice: big.NewInt(900000), CreationBlockNumber: 10})
	require.NoError(t, err)

	fc.GasPriceVal = big.NewInt(10) // low network price, boost math would exceed maxGasPrice=1000000
	hash, err := m.BoostOldestPendingTransactionForSigner(ctx, testManager, 41)
	require.NoError(t, err)
	require.NotNil(t, hash)

	all, err := store.GetAllBySigner(ctx, testManager)
	require.NoError(t, err)
	require.Equal(t, "1000000", all[0].GasPrice)
}

func TestMarkMinedThenRemoveConfirmedTransactionsPrunesOnlyDeepEnough(t *testing.T) {
	ctx := context.Background()
	m, fc, store := newTestManager(t)

	for i := 0; i < 3; i++ {
		_, _, err := m.SendTransaction(ctx, &SendDetails{Signer: testManager, Action: ethtx.ActionStake, To: &testTo, GasLimit: 21000, GasPrice: big.NewInt(100), CreationBlockNumber: uint64(10 + i)})
		require.NoError(t, err)
	}

	// Chain reports 2 of the 3 nonces (0,1) as mined ("latest" count = 2);
	// nonce 2 remains pending.
	fc.Nonces[testManager] = 2
	require.NoError(t, m.MarkMinedTransactions(ctx, 100, []ethtx.Address{testManager}))

	all, err := store.GetAllBySigner(ctx, testManager)
	require.NoError(t, err)
	require.True(t, all[0].IsMined())
	require.True(t, all[1].IsMined())
	require.False(t, all[2].IsMined())

	// Not yet deep enough at block 105 (depth=6 < confirmationsNeeded=12).
	require.NoError(t, m.RemoveConfirmedTransactions(ctx, 105, []ethtx.Address{testManager}))
	all, err = store.GetAllBySigner(ctx, testManager)
	require.NoError(t, err)
	require.Len(t, all, 3)

	// Deep enough at block 120 (depth=21 >= 12): nonces 0 and 1 pruned,
	// nonce 2 (still unmined) survives.
	require.NoError(t, m.RemoveConfirmedTransactions(ctx, 120, []ethtx.Address{testManager}))
	all, err = store.GetAllBySigner(ctx, testManager)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, uint64(2), all[0].Nonce)
}

func TestIsActionPendingDelegatesToStore(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	pending, err := m.IsActionPending(ctx, ethtx.ActionStake, nil)
	require.NoError(t, err)
	require.False(t, pending)

	_, _, err = m.SendTransaction(ctx, &SendDetails{Signer: testManager, Action: ethtx.ActionStake, To: &testTo, GasLimit: 21000, GasPrice: big.NewInt(100), CreationBlockNumber: 10})
	require.NoError(t, err)

	pending, err = m.IsActionPending(ctx, ethtx.ActionStake, &testManager)
	require.NoError(t, err)
	require.True(t, pending)
}
