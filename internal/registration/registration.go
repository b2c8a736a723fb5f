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

// Package registration drives the relay through the stake/authorize/add
// workers/register state machine against the on-chain stake manager and
// hub, emitting exactly one transaction per tick for the next missing
// transition.
package registration

import (
	"context"
	"math/big"

	"github.com/kaleido-io/gsnrelay/internal/chain"
	"github.com/kaleido-io/gsnrelay/internal/confutil"
	"github.com/kaleido-io/gsnrelay/internal/ethtx"
	"github.com/kaleido-io/gsnrelay/internal/hubabi"
	"github.com/kaleido-io/gsnrelay/internal/msgs"
	"github.com/kaleido-io/gsnrelay/internal/requirement"
	"github.com/kaleido-io/gsnrelay/internal/txmgr"
	"github.com/kaleido-io/gsnrelay/pkg/log"

	"github.com/hyperledger/firefly-common/pkg/i18n"
)

// State is one node of the registration state machine.
type State string

const (
	StateUnstaked           State = "UNSTAKED"
	StateStakedUnauthorized State = "STAKED_UNAUTHORIZED"
	StateStakedAuthorized   State = "STAKED_AUTHORIZED"
	StateWorkersAdded       State = "WORKERS_ADDED"
	StateRegistered         State = "REGISTERED"
	// StateMisconfigured is a terminal sub-state distinguishing a foreign
	// on-chain owner from a stake-unlocked exit; both are terminal, but
	// operators benefit from telling the two failure causes apart in logs.
	StateMisconfigured State = "UNREGISTERED_MISCONFIGURED"
)

// RegistrationState is the on-chain registration snapshot, refreshed each tick.
type RegistrationState struct {
	Owner           ethtx.Address
	Stake           *big.Int
	UnstakeDelay    *big.Int
	WithdrawBlock   uint64
	IsHubAuthorized bool
	IsWorkerAdded   bool
}

// Manager is the RegistrationManager.
type Manager struct {
	chainAccess chain.Access
	txManager   txmgr.Manager

	hub           ethtx.Address
	stakeManager  ethtx.Address
	managerSigner ethtx.Address
	workerSigner  ethtx.Address
	expectedOwner ethtx.Address

	registrationBlockRate uint64
	stakeAmount           *big.Int
	unstakeDelaySeconds   *big.Int

	state State
	reg   RegistrationState

	lastRelayEventBlock uint64

	BalanceRequired *requirement.AmountRequired

	terminal       bool
	terminalReason string
}

// New constructs a RegistrationManager bound to a single manager signer and
// a single worker signer.
func New(conf *Config, chainAccess chain.Access, txManager txmgr.Manager, hub, stakeManager, managerSigner, workerSigner ethtx.Address, stakeAmount, unstakeDelaySeconds *big.Int) (*Manager, error) {
	expectedOwner, err := ethtx.ParseAddress(conf.OwnerAddress)
	if err != nil {
		return nil, err
	}
	minBalance := ethtx.ParseBigInt(confutil.StringNotEmpty(conf.ManagerMinBalance, *DefaultConfig.ManagerMinBalance))
	return &Manager{
		chainAccess:           chainAccess,
		txManager:             txManager,
		hub:                   hub,
		stakeManager:          stakeManager,
		managerSigner:         managerSigner,
		workerSigner:          workerSigner,
		expectedOwner:         expectedOwner,
		registrationBlockRate: uint64(confutil.IntMin(conf.RegistrationBlockRate, 1, *DefaultConfig.RegistrationBlockRate)),
		stakeAmount:           stakeAmount,
		unstakeDelaySeconds:   unstakeDelaySeconds,
		state:                 StateUnstaked,
		reg:                   RegistrationState{Stake: big.NewInt(0), UnstakeDelay: big.NewInt(0)},
		BalanceRequired:       requirement.New("manager balance", minBalance),
	}, nil
}

// Init resolves owner/stake/unstakeDelay/withdrawBlock for the manager
// signer by reading the stake manager's stake-tracking view.
func (m *Manager) Init(ctx context.Context) error {
	owner, stake, unstakeDelay, withdrawBlock, err := m.readStakeInfo(ctx)
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgRegistrationInitFailed, err.Error())
	}
	m.reg.Owner = owner
	m.reg.Stake = stake
	m.reg.UnstakeDelay = unstakeDelay
	m.reg.WithdrawBlock = withdrawBlock

	if !owner.IsZero() {
		if !owner.Equal(m.expectedOwner) {
			m.enterTerminal(ctx, StateMisconfigured, "on-chain owner does not match configured owner")
			return nil
		}
		if stake.Sign() > 0 {
			m.state = StateStakedUnauthorized
		}
	}
	log.L(ctx).Infof("Registration manager initialized: state=%s owner=%s stake=%s", m.state, m.reg.Owner, m.reg.Stake)
	return nil
}

// readStakeInfo calls the stake manager's getStakeInfo(address) view method
// and decodes the fixed-shape (owner, stake, unstakeDelay, withdrawBlock)
// tuple it returns - this repository only decodes the one fixed return
// shape it needs.
func (m *Manager) readStakeInfo(ctx context.Context) (owner ethtx.Address, stake, unstakeDelay *big.Int, withdrawBlock uint64, err error) {
	data := hubabi.Call("getStakeInfo(address)", hubabi.EncodeAddress(m.managerSigner))
	result, err := m.chainAccess.CallViewMethod(ctx, chain.CallRequest{To: m.stakeManager, Data: data})
	if err != nil {
		return "", big.NewInt(0), big.NewInt(0), 0, err
	}
	if len(result) < 128 {
		return "", big.NewInt(0), big.NewInt(0), 0, nil
	}
	owner = hubabi.DecodeAddress(result[0:32])
	stake = hubabi.DecodeUint256(result[32:64])
	unstakeDelay = hubabi.DecodeUint256(result[64:96])
	withdrawBlock = hubabi.DecodeUint256(result[96:128]).Uint64()
	return owner, stake, unstakeDelay, withdrawBlock, nil
}

// RefreshBalance refreshes BalanceRequired.Current from the manager
// signer's on-chain balance.
func (m *Manager) RefreshBalance(ctx context.Context) error {
	balance, err := m.chainAccess.GetBalance(ctx, m.managerSigner, chain.TagLatest)
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgBalanceRefreshFailed, m.managerSigner, err.Error())
	}
	m.BalanceRequired.SetCurrent(ctx, balance)
	return nil
}

// IsRegistered reports whether the state machine has reached REGISTERED
// and no withdrawal is currently pending.
func (m *Manager) IsRegistered() bool {
	return m.state == StateRegistered && m.reg.WithdrawBlock == 0
}

// IsTerminal reports whether the manager has entered a terminal state
// (foreign owner or stake unlocked) and will no longer attempt transitions.
func (m *Manager) IsTerminal() (bool, string) {
	return m.terminal, m.terminalReason
}

func (m *Manager) enterTerminal(ctx context.Context, state State, reason string) {
	m.state = state
	m.terminal = true
	m.terminalReason = reason
	log.L(ctx).Errorf("Registration manager entered terminal state %s: %s", state, reason)
}

// HandlePastEvents updates in-memory RegistrationState from events observed
// between fromBlock and toBlock, then emits exactly the next missing
// transition (if any) as a signed transaction. Returns the tx hashes
// submitted.
func (m *Manager) HandlePastEvents(ctx context.Context, events []chain.LogEvent, fromBlock, toBlock uint64, shouldRegisterAgain bool) ([]ethtx.Hash, error) {
	if m.terminal {
		return nil, nil
	}

	for _, ev := range events {
		// The relayHub/stakeManager contracts are shared across every
		// independent relay on the network; an event whose indexed subject
		// isn't this manager must never be allowed to drive this state
		// machine (e.g. a foreign StakeUnlocked would otherwise force this
		// manager into the terminal de-ready state). A zero Subject means
		// the caller (a direct test, or an older decode path) carried no
		// per-manager indexing information, and is let through unfiltered.
		if !ev.Subject.IsZero() && !ev.Subject.Equal(m.managerSigner) {
			continue
		}
		if ev.BlockNumber > m.lastRelayEventBlock {
			m.lastRelayEventBlock = ev.BlockNumber
		}
		switch ev.Name {
		case "StakeAdded":
			if v, ok := ev.Args["stake"].(*big.Int); ok {
				m.reg.Stake = v
			}
			if m.state == StateUnstaked {
				m.state = StateStakedUnauthorized
			}
		case "HubAuthorized":
			m.reg.IsHubAuthorized = true
			if m.state == StateStakedUnauthorized {
				m.state = StateStakedAuthorized
			}
		case "HubUnauthorized":
			m.reg.IsHubAuthorized = false
			if m.state == StateStakedAuthorized || m.state == StateWorkersAdded || m.state == StateRegistered {
				m.state = StateStakedUnauthorized
			}
		case "RelayWorkersAdded":
			m.reg.IsWorkerAdded = true
			if m.state == StateStakedAuthorized {
				m.state = StateWorkersAdded
			}
		case "RelayServerRegistered":
			if m.state == StateWorkersAdded {
				m.state = StateRegistered
			}
		case "StakeWithdrawn":
			m.reg.Stake = big.NewInt(0)
			m.reg.WithdrawBlock = 0
			m.state = StateUnstaked
		case "StakeUnlocked":
			if v, ok := ev.Args["withdrawBlock"].(uint64); ok {
				m.reg.WithdrawBlock = v
			}
			// Observed on-chain, this causes immediate de-readiness and is
			// treated as a terminal exit (no automatic setOwner(zero) is
			// attempted).
			m.enterTerminal(ctx, StateMisconfigured, "stake unlocked")
		case "OwnerSet":
			newOwner, _ := ev.Args["owner"].(ethtx.Address)
			m.reg.Owner = newOwner
			if !newOwner.Equal(m.expectedOwner) {
				m.enterTerminal(ctx, StateMisconfigured, "foreign owner set on-chain")
			}
		}
	}
	if m.terminal {
		return nil, nil
	}

	var hashes []ethtx.Hash
	tx, submitted, err := m.nextTransition(ctx, toBlock, shouldRegisterAgain)
	if err != nil {
		return hashes, err
	}
	if submitted {
		hashes = append(hashes, tx)
	}
	return hashes, nil
}

// nextTransition emits exactly the next missing transition for the current
// state. shouldRegisterAgain allows a REGISTERED relay whose
// lastRelayEventBlock has grown stale
// (registrationBlockRate blocks without a relay event) to resubmit
// registerRelayServer so indexers relying on event recency stay fresh.
func (m *Manager) nextTransition(ctx context.Context, currentBlock uint64, shouldRegisterAgain bool) (ethtx.Hash, bool, error) {
	switch m.state {
	case StateUnstaked:
		if pending, err := m.txManager.IsActionPending(ctx, ethtx.ActionStake, &m.managerSigner); err != nil || pending {
			return "", false, err
		}
		data := hubabi.Call("stakeForAddress(address,uint256)", hubabi.EncodeAddress(m.managerSigner), hubabi.EncodeUint256(m.unstakeDelaySeconds))
		return m.send(ctx, ethtx.ActionStake, m.managerSigner, &m.stakeManager, m.stakeAmount, data, currentBlock)

	case StateStakedUnauthorized:
		if pending, err := m.txManager.IsActionPending(ctx, ethtx.ActionAuthorizeHub, &m.managerSigner); err != nil || pending {
			return "", false, err
		}
		data := hubabi.Call("authorizeHubByOwner(address,address)", hubabi.EncodeAddress(m.managerSigner), hubabi.EncodeAddress(m.hub))
		return m.send(ctx, ethtx.ActionAuthorizeHub, m.managerSigner, &m.stakeManager, big.NewInt(0), data, currentBlock)

	case StateStakedAuthorized:
		if pending, err := m.txManager.IsActionPending(ctx, ethtx.ActionAddWorker, &m.managerSigner); err != nil || pending {
			return "", false, err
		}
		data := hubabi.Call("addRelayWorkers(address[])", hubabi.EncodeAddress(m.workerSigner))
		return m.send(ctx, ethtx.ActionAddWorker, m.managerSigner, &m.hub, big.NewInt(0), data, currentBlock)

	case StateWorkersAdded:
		if pending, err := m.txManager.IsActionPending(ctx, ethtx.ActionRegisterServer, &m.managerSigner); err != nil || pending {
			return "", false, err
		}
		data := hubabi.Call("registerRelayServer(string)")
		return m.send(ctx, ethtx.ActionRegisterServer, m.managerSigner, &m.hub, big.NewInt(0), data, currentBlock)

	case StateRegistered:
		if !shouldRegisterAgain {
			return "", false, nil
		}
		if pending, err := m.txManager.IsActionPending(ctx, ethtx.ActionRegisterServer, &m.managerSigner); err != nil || pending {
			return "", false, err
		}
		data := hubabi.Call("registerRelayServer(string)")
		return m.send(ctx, ethtx.ActionRegisterServer, m.managerSigner, &m.hub, big.NewInt(0), data, currentBlock)
	}
	return "", false, nil
}

func (m *Manager) send(ctx context.Context, action ethtx.ServerAction, signer ethtx.Address, to *ethtx.Address, value *big.Int, data ethtx.HexBytes, currentBlock uint64) (ethtx.Hash, bool, error) {
	hash, _, err := m.txManager.SendTransaction(ctx, &txmgr.SendDetails{
		Signer:              signer,
		Action:              action,
		To:                  to,
		Value:               value,
		Data:                data,
		CreationBlockNumber: currentBlock,
	})
	if err != nil {
		return "", false, err
	}
	log.L(ctx).Infof("Registration manager submitted %s (%s) from state %s", action, hash, m.state)
	return hash, true, nil
}

// ShouldRegisterAgain reports whether currentBlock has advanced far enough
// past lastRelayEventBlock to warrant a refresh registerRelayServer call.
func (m *Manager) ShouldRegisterAgain(currentBlock uint64) bool {
	if m.lastRelayEventBlock == 0 {
		return false
	}
	return currentBlock-m.lastRelayEventBlock >= m.registrationBlockRate
}

// State returns the current registration state, for readiness checks and logging.
func (m *Manager) State() State { return m.state }
