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

package registration

import (
	"context"
	"math/big"
	"testing"

	"github.com/kaleido-io/gsnrelay/internal/chain"
	"github.com/kaleido-io/gsnrelay/internal/confutil"
	"github.com/kaleido-io/gsnrelay/internal/ethtx"
	"github.com/kaleido-io/gsnrelay/internal/txmgr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testHub          = ethtx.MustParseAddress("0x1111111111111111111111111111111111111111")
	testStakeManager = ethtx.MustParseAddress("0x2222222222222222222222222222222222222222")
	testManager      = ethtx.MustParseAddress("0x3333333333333333333333333333333333333333")
	testWorker       = ethtx.MustParseAddress("0x4444444444444444444444444444444444444444")
	testOwner        = ethtx.MustParseAddress("0x5555555555555555555555555555555555555555")
)

// fakeChain is a minimal in-memory chain.Access double, returning a fixed
// (owner, stake, unstakeDelay, withdrawBlock) tuple the same shape
// hubabi.DecodeAddress/DecodeUint256 expect.
type fakeChain struct {
	chain.Access
	owner         ethtx.Address
	stake         *big.Int
	unstakeDelay  *big.Int
	withdrawBlock uint64
	balance       *big.Int
}

func (f *fakeChain) CallViewMethod(ctx context.Context, call chain.CallRequest) ([]byte, error) {
	out := make([]byte, 128)
	copy(out[12:32], f.owner.Bytes())
	f.stake.FillBytes(out[32:64])
	f.unstakeDelay.FillBytes(out[64:96])
	new(big.Int).SetUint64(f.withdrawBlock).FillBytes(out[96:128])
	return out, nil
}

func (f *fakeChain) GetBalance(ctx context.Context, addr ethtx.Address, tag chain.BlockTag) (*big.Int, error) {
	return f.balance, nil
}

// fakeTxManager is a minimal txmgr.Manager double recording every submitted
// SendDetails in order, with no pending transactions.
type fakeTxManager struct {
	txmgr.Manager
	sent []*txmgr.SendDetails
}

func (f *fakeTxManager) SendTransaction(ctx context.Context, details *txmgr.SendDetails) (ethtx.Hash, []byte, error) {
	f.sent = append(f.sent, details)
	return ethtx.Hash("0x" + "ab"), []byte{0xab}, nil
}

func (f *fakeTxManager) IsActionPending(ctx context.Context, action ethtx.ServerAction, signer *ethtx.Address) (bool, error) {
	return false, nil
}

func newTestManager(t *testing.T, fc *fakeChain, ftm *fakeTxManager) *Manager {
	conf := &Config{
		OwnerAddress:          testOwner.String(),
		ManagerMinBalance:     confutil.P("1000"),
		RegistrationBlockRate: confutil.P(100),
	}
	m, err := New(conf, fc, ftm, testHub, testStakeManager, testManager, testWorker, big.NewInt(500), big.NewInt(86400))
	require.NoError(t, err)
	return m
}

func TestInitUnstaked(t *testing.T) {
	fc := &fakeChain{owner: "", stake: big.NewInt(0), unstakeDelay: big.NewInt(0), balance: big.NewInt(0)}
	ftm := &fakeTxManager{}
	m := newTestManager(t, fc, ftm)

	err := m.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateUnstaked, m.State())
	terminal, _ := m.IsTerminal()
	assert.False(t, terminal)
}

func TestInitForeignOwnerIsTerminal(t *testing.T) {
	fc := &fakeChain{owner: ethtx.MustParseAddress("0x9999999999999999999999999999999999999999"), stake: big.NewInt(1), unstakeDelay: big.NewInt(0), balance: big.NewInt(0)}
	ftm := &fakeTxManager{}
	m := newTestManager(t, fc, ftm)

	err := m.Init(context.Background())
	require.NoError(t, err)
	terminal, reason := m.IsTerminal()
	assert.True(t, terminal)
	assert.Equal(t, StateMisconfigured, m.State())
	assert.Contains(t, reason, "owner")
}

func TestHandlePastEventsDrivesColdStartRegistration(t *testing.T) {
	fc := &fakeChain{owner: "", stake: big.NewInt(0), unstakeDelay: big.NewInt(0), balance: big.NewInt(0)}
	ftm := &fakeTxManager{}
	m := newTestManager(t, fc, ftm)
	ctx := context.Background()

	require.NoError(t, m.Init(ctx))

	// Block 100: UNSTAKED, no events yet -> submits stakeForAddress.
	hashes, err := m.HandlePastEvents(ctx, nil, 100, 100, false)
	require.NoError(t, err)
	require.Len(t, hashes, 1)
	require.Len(t, ftm.sent, 1)
	assert.Equal(t, ethtx.ActionStake, ftm.sent[0].Action)

	// Block 101: StakeAdded observed -> authorizeHubByOwner.
	hashes, err = m.HandlePastEvents(ctx, []chain.LogEvent{{Name: "StakeAdded", BlockNumber: 101, Args: map[string]interface{}{"stake": big.NewInt(500)}}}, 101, 101, false)
	require.NoError(t, err)
	require.Len(t, hashes, 1)
	assert.Equal(t, StateStakedUnauthorized, m.State())
	assert.Equal(t, ethtx.ActionAuthorizeHub, ftm.sent[1].Action)

	// Block 102: HubAuthorized -> addRelayWorkers.
	_, err = m.HandlePastEvents(ctx, []chain.LogEvent{{Name: "HubAuthorized", BlockNumber: 102}}, 102, 102, false)
	require.NoError(t, err)
	assert.Equal(t, StateStakedAuthorized, m.State())
	assert.Equal(t, ethtx.ActionAddWorker, ftm.sent[2].Action)

	// Block 103: RelayWorkersAdded -> registerRelayServer.
	_, err = m.HandlePastEvents(ctx, []chain.LogEvent{{Name: "RelayWorkersAdded", BlockNumber: 103}}, 103, 103, false)
	require.NoError(t, err)
	assert.Equal(t, StateWorkersAdded, m.State())
	assert.Equal(t, ethtx.ActionRegisterServer, ftm.sent[3].Action)

	// Block 104: RelayServerRegistered -> REGISTERED, no further tx.
	_, err = m.HandlePastEvents(ctx, []chain.LogEvent{{Name: "RelayServerRegistered", BlockNumber: 104}}, 104, 104, false)
	require.NoError(t, err)
	assert.Equal(t, StateRegistered, m.State())
	assert.True(t, m.IsRegistered())
	assert.Len(t, ftm.sent, 4)
}

func TestStakeUnlockedEntersTerminal(t *testing.T) {
	fc := &fakeChain{owner: testOwner, stake: big.NewInt(500), unstakeDelay: big.NewInt(0), balance: big.NewInt(0)}
	ftm := &fakeTxManager{}
	m := newTestManager(t, fc, ftm)
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))

	_, err := m.HandlePastEvents(ctx, []chain.LogEvent{{Name: "StakeUnlocked", BlockNumber: 200, Args: map[string]interface{}{"withdrawBlock": uint64(210)}}}, 200, 200, false)
	require.NoError(t, err)

	terminal, reason := m.IsTerminal()
	assert.True(t, terminal)
	assert.Contains(t, reason, "stake unlocked")
	assert.False(t, m.IsRegistered())
}

func TestHandlePastEventsIgnoresEventsForOtherManagers(t *testing.T) {
	fc := &fakeChain{owner: "", stake: big.NewInt(0), unstakeDelay: big.NewInt(0), balance: big.NewInt(0)}
	ftm := &fakeTxManager{}
	m := newTestManager(t, fc, ftm)
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))

	// The relayHub/stakeManager contracts are shared across every relay on
	// the network: a StakeUnlocked event whose Subject is some other
	// manager must not be allowed to drive this manager terminal.
	otherManager := ethtx.MustParseAddress("0x9999999999999999999999999999999999999999")
	_, err := m.HandlePastEvents(ctx, []chain.LogEvent{{
		Name:        "StakeUnlocked",
		BlockNumber: 200,
		Subject:     otherManager,
		Args:        map[string]interface{}{"withdrawBlock": uint64(210)},
	}}, 200, 200, false)
	require.NoError(t, err)

	terminal, _ := m.IsTerminal()
	assert.False(t, terminal, "an event for another manager must not force this manager terminal")
	assert.Equal(t, StateUnstaked, m.State())
	assert.Len(t, ftm.sent, 1, "only the cold-start stakeForAddress from Init/HandlePastEvents should have been sent")
}

func TestRefreshBalanceTracksRequirement(t *testing.T) {
	fc := &fakeChain{owner: "", stake: big.NewInt(0), unstakeDelay: big.NewInt(0), balance: big.NewInt(2000)}
	ftm := &fakeTxManager{}
	m := newTestManager(t, fc, ftm)
	ctx := context.Background()

	require.NoError(t, m.RefreshBalance(ctx))
	assert.True(t, m.BalanceRequired.IsSatisfied())
}

func TestShouldRegisterAgain(t *testing.T) {
	fc := &fakeChain{owner: "", stake: big.NewInt(0), unstakeDelay: big.NewInt(0), balance: big.NewInt(0)}
	ftm := &fakeTxManager{}
	m := newTestManager(t, fc, ftm)

	assert.False(t, m.ShouldRegisterAgain(50))
	m.lastRelayEventBlock = 100
	assert.False(t, m.ShouldRegisterAgain(150))
	assert.True(t, m.ShouldRegisterAgain(200))
}
