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

// Package txmgr is the TransactionManager of spec.md §4.2: nonce
// allocation, signing, broadcast, gas-price boosting of stuck
// transactions and confirmation pruning, each funneled through the
// per-signer lock of spec.md §5.
package txmgr

import (
	"context"
	"math/big"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/kaleido-io/gsnrelay/internal/chain"
	"github.com/kaleido-io/gsnrelay/internal/confutil"
	"github.com/kaleido-io/gsnrelay/internal/ethtx"
	"github.com/kaleido-io/gsnrelay/internal/keystore"
	"github.com/kaleido-io/gsnrelay/internal/msgs"
	"github.com/kaleido-io/gsnrelay/internal/txstore"
	"github.com/kaleido-io/gsnrelay/pkg/log"
)

// SendDetails carries everything sendTransaction needs to allocate a
// nonce, sign and broadcast, per spec.md §4.2.
type SendDetails struct {
	Signer              ethtx.Address
	Action              ethtx.ServerAction
	To                  *ethtx.Address
	Value               *big.Int
	GasLimit            uint64 // 0 means "estimate via attemptEstimateGas first"
	GasPrice            *big.Int
	Data                ethtx.HexBytes
	CreationBlockNumber uint64
}

// Manager is the TransactionManager public contract of spec.md §4.2.
type Manager interface {
	SendTransaction(ctx context.Context, details *SendDetails) (ethtx.Hash, []byte, error)
	PollNonce(ctx context.Context, signer ethtx.Address) (uint64, error)
	BoostOldestPendingTransactionForSigner(ctx context.Context, signer ethtx.Address, currentBlock uint64) (*ethtx.Hash, error)
	RemoveConfirmedTransactions(ctx context.Context, currentBlock uint64, signers []ethtx.Address) error
	MarkMinedTransactions(ctx context.Context, currentBlock uint64, signers []ethtx.Address) error
	AttemptEstimateGas(ctx context.Context, label string, call chain.CallRequest) (uint64, error)
	// IsActionPending reports whether an unmined record with the given action
	// exists, optionally restricted to one signer, per spec.md §3.
	IsActionPending(ctx context.Context, action ethtx.ServerAction, signer *ethtx.Address) (bool, error)
}

type manager struct {
	chainAccess chain.Access
	keys        keystore.KeyStore
	store       txstore.Store
	chainID     uint64
	locks       *signerLocks

	maxGasPrice               *big.Int
	retryGasPriceFactor       *big.Float
	pendingTransactionTimeout uint64
	confirmationsNeeded       uint64
	estimateGasMarginPercent  int64
}

// New builds a TransactionManager bound to chainID (resolved once at
// server init via ChainAccess.GetChainID, per spec.md §6).
func New(conf *Config, chainID uint64, chainAccess chain.Access, keys keystore.KeyStore, store txstore.Store) Manager {
	factor, _, err := big.ParseFloat(confutil.StringNotEmpty(conf.RetryGasPriceFactor, *DefaultConfig.RetryGasPriceFactor), 10, 64, big.ToNearestEven)
	if err != nil {
		factor = big.NewFloat(1.3)
	}
	return &manager{
		chainAccess:               chainAccess,
		keys:                      keys,
		store:                     store,
		chainID:                   chainID,
		locks:                     newSignerLocks(),
		maxGasPrice:               confutil.BigIntMin(conf.MaxGasPrice, big.NewInt(0), *DefaultConfig.MaxGasPrice),
		retryGasPriceFactor:       factor,
		pendingTransactionTimeout: uint64(confutil.IntMin(conf.PendingTransactionTimeout, 1, *DefaultConfig.PendingTransactionTimeout)),
		confirmationsNeeded:       uint64(confutil.IntMin(conf.ConfirmationsNeeded, 1, *DefaultConfig.ConfirmationsNeeded)),
		estimateGasMarginPercent:  int64(confutil.IntMin(conf.EstimateGasMarginPercent, 0, *DefaultConfig.EstimateGasMarginPercent)),
	}
}

// PollNonce returns the max of the chain-reported pending nonce and one
// past the highest locally-stored nonce for signer, per spec.md §4.2 and
// the testable property in spec.md §8 ("pollNonce(S) is strictly greater
// than the max persisted nonce of S for any unmined record").
func (m *manager) PollNonce(ctx context.Context, signer ethtx.Address) (uint64, error) {
	chainNonce, err := m.chainAccess.GetTransactionCount(ctx, signer, chain.TagPending)
	if err != nil {
		return 0, err
	}
	localNext, exists, err := m.store.HighestPersistedNonce(ctx, signer)
	if err != nil {
		return 0, err
	}
	if !exists || chainNonce > localNext {
		return chainNonce, nil
	}
	return localNext, nil
}

// SendTransaction allocates a nonce, signs and broadcasts, then persists -
// in that order, per spec.md §4.2's ordering invariant. The signer's lock
// spans the whole sequence so a concurrent boost or admission for the
// same signer cannot interleave.
func (m *manager) SendTransaction(ctx context.Context, details *SendDetails) (ethtx.Hash, []byte, error) {
	lock := m.locks.lockFor(details.Signer)
	lock.Lock()
	defer lock.Unlock()

	gasLimit := details.GasLimit
	if gasLimit == 0 {
		var err error
		gasLimit, err = m.AttemptEstimateGas(ctx, string(details.Action), chain.CallRequest{
			From:  details.Signer,
			To:    derefOrZero(details.To),
			Value: details.Value,
			Data:  details.Data,
		})
		if err != nil {
			return "", nil, err
		}
	}

	gasPrice := details.GasPrice
	if gasPrice == nil {
		networkPrice, err := m.chainAccess.GetGasPrice(ctx)
		if err != nil {
			return "", nil, err
		}
		gasPrice = networkPrice
	}
	gasPrice = m.capGasPrice(gasPrice)

	nonce, err := m.PollNonce(ctx, details.Signer)
	if err != nil {
		return "", nil, err
	}

	unsigned := &ethtx.UnsignedTx{
		ChainID:  m.chainID,
		Nonce:    nonce,
		To:       details.To,
		Value:    zeroIfNil(details.Value),
		GasPrice: gasPrice,
		GasLimit: gasLimit,
		Data:     details.Data,
	}
	raw, txHash, err := m.keys.Sign(ctx, details.Signer, unsigned)
	if err != nil {
		return "", nil, err
	}

	if _, err := m.chainAccess.SendRawTransaction(ctx, raw); err != nil {
		return "", nil, i18n.WrapError(ctx, err, msgs.MsgBroadcastFailed, details.Signer, nonce, err.Error())
	}

	stored := &txstore.StoredTransaction{
		TxHash:              txHash,
		From:                details.Signer,
		To:                  details.To,
		Nonce:               nonce,
		GasPrice:            ethtx.BigIntToString(gasPrice),
		GasLimit:            gasLimit,
		Value:               ethtx.BigIntToString(details.Value),
		Data:                details.Data,
		CreationBlockNumber: details.CreationBlockNumber,
		CreationTimestamp:   time.Now(),
		ServerAction:        details.Action,
	}
	if err := m.store.Put(ctx, stored); err != nil {
		// A crash here is tolerated per spec.md §4.2: the next pollNonce call
		// observes the chain-side nonce bump and re-derives. We still
		// surface the error so the caller (admission/reconcile) knows this
		// attempt's bookkeeping may be incomplete.
		return txHash, raw, err
	}

	log.L(ctx).Infof("Submitted %s tx %s from %s nonce %d gasPrice %s", details.Action, txHash, details.Signer, nonce, gasPrice)
	return txHash, raw, nil
}

// BoostOldestPendingTransactionForSigner re-signs the oldest unmined
// transaction for signer at a higher gas price if it has been pending
// longer than pendingTransactionTimeout blocks, per spec.md §4.2.
// Boosting never allocates a new nonce.
func (m *manager) BoostOldestPendingTransactionForSigner(ctx context.Context, signer ethtx.Address, currentBlock uint64) (*ethtx.Hash, error) {
	lock := m.locks.lockFor(signer)
	lock.Lock()
	defer lock.Unlock()

	oldest, err := m.store.GetOldestPending(ctx, signer)
	if err != nil || oldest == nil {
		return nil, err
	}
	age := currentBlock - oldest.CreationBlockNumber
	if age <= m.pendingTransactionTimeout {
		return nil, nil
	}

	networkGasPrice, err := m.chainAccess.GetGasPrice(ctx)
	if err != nil {
		log.L(ctx).Warnf("Boost for %s nonce %d skipped: failed to fetch network gas price: %s", signer, oldest.Nonce, err)
		return nil, nil
	}

	priorGasPrice := ethtx.ParseBigInt(oldest.GasPrice)
	boosted := new(big.Float).Mul(new(big.Float).SetInt(priorGasPrice), m.retryGasPriceFactor)
	boostedInt, _ := boosted.Int(nil)
	newGasPrice := networkGasPrice
	if boostedInt.Cmp(networkGasPrice) > 0 {
		newGasPrice = boostedInt
	}
	newGasPrice = m.capGasPrice(newGasPrice)
	if newGasPrice.Cmp(priorGasPrice) <= 0 {
		// Nothing to gain by resubmitting at the same or lower price.
		return nil, nil
	}

	unsigned := &ethtx.UnsignedTx{
		ChainID:  m.chainID,
		Nonce:    oldest.Nonce,
		To:       oldest.To,
		Value:    ethtx.ParseBigInt(oldest.Value),
		GasPrice: newGasPrice,
		GasLimit: oldest.GasLimit,
		Data:     oldest.Data,
	}
	raw, newHash, err := m.keys.Sign(ctx, signer, unsigned)
	if err != nil {
		log.L(ctx).Errorf("Boost for %s nonce %d failed to sign: %s", signer, oldest.Nonce, err)
		return nil, nil
	}
	if _, err := m.chainAccess.SendRawTransaction(ctx, raw); err != nil {
		log.L(ctx).Errorf("Boost for %s nonce %d failed to broadcast: %s", signer, oldest.Nonce, err)
		return nil, nil
	}

	oldest.TxHash = newHash
	oldest.GasPrice = ethtx.BigIntToString(newGasPrice)
	if err := m.store.Put(ctx, oldest); err != nil {
		log.L(ctx).Errorf("Boost for %s nonce %d broadcast but failed to persist: %s", signer, oldest.Nonce, err)
		return nil, err
	}

	log.L(ctx).Infof("Boosted %s nonce %d from gasPrice %s to %s, new hash %s", signer, oldest.Nonce, priorGasPrice, newGasPrice, newHash)
	return &newHash, nil
}

// RemoveConfirmedTransactions prunes, for each signer, every record whose
// nonce is <= the highest nonce confirmed to confirmationsNeeded depth,
// per spec.md §4.2. Errors for one signer are logged and do not prevent
// pruning the others.
func (m *manager) RemoveConfirmedTransactions(ctx context.Context, currentBlock uint64, signers []ethtx.Address) error {
	for _, signer := range signers {
		nonce, found, err := m.store.HighestConfirmedNonceAtDepth(ctx, signer, currentBlock, m.confirmationsNeeded)
		if err != nil {
			log.L(ctx).Errorf("Failed to compute prunable nonce for %s: %s", signer, err)
			continue
		}
		if !found {
			continue
		}
		if err := m.store.RemoveTxsUntilNonce(ctx, signer, nonce); err != nil {
			log.L(ctx).Errorf("Failed to prune %s up to nonce %d: %s", signer, nonce, err)
			continue
		}
		log.L(ctx).Debugf("Pruned confirmed transactions for %s up to nonce %d", signer, nonce)
	}
	return nil
}

// MarkMinedTransactions stamps minedBlockNumber on every stored record that
// has transitioned from unmined to mined since the last tick, per spec.md
// §3's "minedBlockNumber (nullable; set upon confirmation)". The
// ChainAccess port (spec.md §6) exposes no transaction-receipt call, so
// mining is inferred the same way pollNonce infers pending state: a
// signer's "latest" (mined-only) transaction count is the boundary below
// which every stored nonce has been included in some block. currentBlock
// is recorded as the confirmation depth's reference point rather than the
// transaction's exact mined block, which is an acceptable approximation
// since confirmationsNeeded only cares about how many blocks have elapsed
// since detection, and detection never lags the real mined block by more
// than one tick.
func (m *manager) MarkMinedTransactions(ctx context.Context, currentBlock uint64, signers []ethtx.Address) error {
	for _, signer := range signers {
		minedBoundary, err := m.chainAccess.GetTransactionCount(ctx, signer, chain.TagLatest)
		if err != nil {
			log.L(ctx).Warnf("Failed to fetch confirmed nonce count for %s: %s", signer, err)
			continue
		}
		all, err := m.store.GetAllBySigner(ctx, signer)
		if err != nil {
			log.L(ctx).Warnf("Failed to list stored transactions for %s: %s", signer, err)
			continue
		}
		for _, tx := range all {
			if tx.IsMined() || tx.Nonce >= minedBoundary {
				continue
			}
			minedBlock := currentBlock
			tx.MinedBlockNumber = &minedBlock
			if err := m.store.Put(ctx, tx); err != nil {
				log.L(ctx).Warnf("Failed to mark %s nonce %d mined at block %d: %s", signer, tx.Nonce, currentBlock, err)
				continue
			}
			log.L(ctx).Debugf("Marked %s nonce %d mined at block %d", signer, tx.Nonce, currentBlock)
		}
	}
	return nil
}

// AttemptEstimateGas estimates gas with a fixed margin, failing loudly if
// the call would revert, per spec.md §4.2.
func (m *manager) AttemptEstimateGas(ctx context.Context, label string, call chain.CallRequest) (uint64, error) {
	estimate, err := m.chainAccess.EstimateGas(ctx, call)
	if err != nil {
		return 0, i18n.WrapError(ctx, err, msgs.MsgEstimateGasReverted, label, err.Error())
	}
	margin := (int64(estimate) * m.estimateGasMarginPercent) / 100
	return estimate + uint64(margin), nil
}

// IsActionPending delegates to the TxStore so callers outside this package
// (RegistrationManager, the reconciliation loop's replenishment step) never
// reach into txstore directly, per spec.md §3's signer-lock boundary.
func (m *manager) IsActionPending(ctx context.Context, action ethtx.ServerAction, signer *ethtx.Address) (bool, error) {
	return m.store.IsActionPending(ctx, action, signer)
}

func (m *manager) capGasPrice(v *big.Int) *big.Int {
	if m.maxGasPrice.Sign() > 0 && v.Cmp(m.maxGasPrice) > 0 {
		return new(big.Int).Set(m.maxGasPrice)
	}
	return v
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func derefOrZero(a *ethtx.Address) ethtx.Address {
	if a == nil {
		return ""
	}
	return *a
}
