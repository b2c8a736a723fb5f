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

// Package admission validates, view-call simulates and submits a single
// relay request, in an ordered and fatal-on-first-failure sequence.
// Grounded on the teacher's prepareSubmission/ValidateTransaction path in
// publictxmgr/transaction_manager.go, which runs a similar ordered
// validate-then-estimate-then-submit pipeline per incoming transaction.
package admission

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/kaleido-io/gsnrelay/internal/chain"
	"github.com/kaleido-io/gsnrelay/internal/confutil"
	"github.com/kaleido-io/gsnrelay/internal/ethtx"
	"github.com/kaleido-io/gsnrelay/internal/hubabi"
	"github.com/kaleido-io/gsnrelay/internal/msgs"
	"github.com/kaleido-io/gsnrelay/internal/txmgr"
	"github.com/kaleido-io/gsnrelay/pkg/log"
)

// HubOverhead is the fixed gas the hub contract spends unwrapping and
// dispatching a relayCall, distinct from the relay's own GasReserve, when
// computing the worst-case maxPossibleGas for a relay call.
const HubOverhead = 50000

// ReadinessGate is the read-only capability the AdmissionPipeline needs
// from the ReconciliationLoop: current gas price, the debounced ready
// flag, alerted-state throttling, and a way to trigger an out-of-band
// replenish check. Declared here (rather than importing package reconcile
// directly) so the facade can wire a concrete *reconcile.Loop in, which
// already satisfies this interface.
type ReadinessGate interface {
	IsReady() bool
	GasPrice() *big.Int
	IsAlerted() bool
	AlertedDelayBounds() (min, max int)
	ReplenishNow(ctx context.Context, currentBlock uint64) ([]ethtx.Hash, error)
}

// Result is what a successful CreateRelayTransaction call returns.
type Result struct {
	SignedTx []byte
	TxHash   ethtx.Hash
}

// Pipeline validates, simulates and submits incoming relay requests.
type Pipeline struct {
	chainAccess chain.Access
	txManager   txmgr.Manager
	readiness   ReadinessGate
	cache       *paymasterCache

	hub                 ethtx.Address
	workerSigner        ethtx.Address
	pctRelayFee         *big.Int
	baseRelayFee        *big.Int
	maxAcceptanceBudget *big.Int
	trustedPaymasters   map[ethtx.Address]bool
}

// New constructs an AdmissionPipeline bound to this server's hub and worker.
func New(conf *Config, chainAccess chain.Access, txManager txmgr.Manager, readiness ReadinessGate, hub, workerSigner ethtx.Address) (*Pipeline, error) {
	trusted := make(map[ethtx.Address]bool, len(conf.TrustedPaymasters))
	var trustedList []ethtx.Address
	for _, s := range conf.TrustedPaymasters {
		a, err := ethtx.ParseAddress(s)
		if err != nil {
			return nil, err
		}
		trusted[a] = true
		trustedList = append(trustedList, a)
	}
	ttl := time.Duration(confutil.IntMin(conf.PaymasterCacheTTLSec, 1, *DefaultConfig.PaymasterCacheTTLSec)) * time.Second
	return &Pipeline{
		chainAccess:         chainAccess,
		txManager:           txManager,
		readiness:           readiness,
		cache:               newPaymasterCache(ttl, trustedList),
		hub:                 hub,
		workerSigner:        workerSigner,
		pctRelayFee:         ethtx.ParseBigInt(confutil.StringNotEmpty(conf.PctRelayFee, *DefaultConfig.PctRelayFee)),
		baseRelayFee:        ethtx.ParseBigInt(confutil.StringNotEmpty(conf.BaseRelayFee, *DefaultConfig.BaseRelayFee)),
		maxAcceptanceBudget: ethtx.ParseBigInt(confutil.StringNotEmpty(conf.MaxAcceptanceBudget, *DefaultConfig.MaxAcceptanceBudget)),
		trustedPaymasters:   trusted,
	}, nil
}

// CreateRelayTransaction runs nine ordered validations, each fatal on
// failure, then submits the relay call via the TransactionManager under
// action RELAY_CALL. currentBlock is the block number observed by the
// caller (the HTTP handler), used as the CreationBlockNumber of the
// submitted transaction.
func (p *Pipeline) CreateRelayTransaction(ctx context.Context, req *RelayTransactionRequest, currentBlock uint64) (*Result, error) {
	correlationID := uuid.NewString()
	log.L(ctx).Debugf("Admission %s: from=%s to=%s paymaster=%s", correlationID, req.Request.From, req.Request.To, req.RelayData.Paymaster)

	// Readiness gate: reject immediately while the relay isn't ready to serve.
	if !p.readiness.IsReady() {
		return nil, i18n.NewError(ctx, msgs.MsgNotReady)
	}

	// 1. Type/shape.
	if err := p.validateShape(ctx, req); err != nil {
		return nil, err
	}

	// 2. Hub address.
	if !req.Metadata.RelayHubAddress.Equal(p.hub) {
		return nil, i18n.NewError(ctx, msgs.MsgWrongHub, req.Metadata.RelayHubAddress, p.hub)
	}

	// 3. Worker address (case-insensitive).
	if !req.RelayData.RelayWorker.Equal(p.workerSigner) {
		return nil, i18n.NewError(ctx, msgs.MsgWrongWorker, req.RelayData.RelayWorker, p.workerSigner)
	}

	// 4. Gas price.
	currentGasPrice := p.readiness.GasPrice()
	if req.RelayData.GasPrice.Cmp(currentGasPrice) < 0 {
		return nil, i18n.NewError(ctx, msgs.MsgGasPriceTooLow, req.RelayData.GasPrice, currentGasPrice)
	}

	// 5. Fees - skipped entirely for a trusted paymaster.
	trusted := p.cache.isTrusted(req.RelayData.Paymaster)
	if !trusted {
		if req.RelayData.PctRelayFee.Cmp(p.pctRelayFee) < 0 || req.RelayData.BaseRelayFee.Cmp(p.baseRelayFee) < 0 {
			return nil, i18n.NewError(ctx, msgs.MsgRelayFeeTooLow, req.RelayData.PctRelayFee, req.RelayData.BaseRelayFee, p.pctRelayFee, p.baseRelayFee)
		}
	}

	// 6. Nonce horizon.
	nextNonce, err := p.txManager.PollNonce(ctx, p.workerSigner)
	if err != nil {
		return nil, err
	}
	if nextNonce > req.Metadata.RelayMaxNonce {
		return nil, i18n.NewError(ctx, msgs.MsgNonceTooHigh, nextNonce, req.Metadata.RelayMaxNonce)
	}

	// 7. Paymaster gas limits.
	limits, err := p.paymasterGasLimits(ctx, req.RelayData.Paymaster)
	if err != nil {
		return nil, err
	}
	if !trusted && limits.AcceptanceBudget.Cmp(p.maxAcceptanceBudget) > 0 {
		return nil, i18n.NewError(ctx, msgs.MsgAcceptanceBudgetHigh, limits.AcceptanceBudget, p.maxAcceptanceBudget)
	}

	// 8. Funding.
	maxPossibleGas := new(big.Int).SetUint64(uint64(GasReserve) + uint64(HubOverhead) + req.Request.Gas)
	maxPossibleGas.Add(maxPossibleGas, limits.PreRelayedGas)
	maxPossibleGas.Add(maxPossibleGas, limits.PostRelayedGas)
	maxCharge, err := p.calculateCharge(ctx, maxPossibleGas, req.RelayData.GasPrice)
	if err != nil {
		return nil, err
	}
	paymasterBalance, err := p.hubBalanceOf(ctx, req.RelayData.Paymaster)
	if err != nil {
		return nil, err
	}
	if paymasterBalance.Cmp(maxCharge) < 0 {
		return nil, i18n.NewError(ctx, msgs.MsgPaymasterBalanceLow, maxCharge, paymasterBalance)
	}

	// 9. View call.
	accepted, revertReason, err := p.simulateRelayCall(ctx, req, limits.AcceptanceBudget, maxPossibleGas)
	if err != nil {
		return nil, err
	}
	if !accepted {
		return nil, i18n.NewError(ctx, msgs.MsgPaymasterRejected, revertReason)
	}

	data := p.encodeRelayCall(req, limits.AcceptanceBudget, maxPossibleGas)
	txHash, raw, err := p.txManager.SendTransaction(ctx, &txmgr.SendDetails{
		Signer:              p.workerSigner,
		Action:              ethtx.ActionRelayCall,
		To:                  addrPtr(p.hub),
		Value:               big.NewInt(0),
		GasLimit:            maxPossibleGas.Uint64(),
		GasPrice:            req.RelayData.GasPrice,
		Data:                data,
		CreationBlockNumber: currentBlock,
	})
	if err != nil {
		return nil, err
	}
	log.L(ctx).Infof("Admission %s: submitted relay call tx %s", correlationID, txHash)

	if hashes, rerr := p.readiness.ReplenishNow(ctx, currentBlock); rerr != nil {
		log.L(ctx).Warnf("Admission %s: post-submit replenish check failed: %s", correlationID, rerr)
	} else if len(hashes) > 0 {
		log.L(ctx).Infof("Admission %s: post-submit replenish submitted %d tx(es)", correlationID, len(hashes))
	}

	if p.readiness.IsAlerted() {
		p.sleepAlertedDelay(ctx)
	}

	return &Result{SignedTx: raw, TxHash: txHash}, nil
}

// validateShape checks that every required field is present. Decoding
// into the typed RelayTransactionRequest already enforces JSON shape;
// this checks the semantic non-zero invariants decoding alone cannot.
func (p *Pipeline) validateShape(ctx context.Context, req *RelayTransactionRequest) error {
	switch {
	case req.Request.From.IsZero():
		return i18n.NewError(ctx, msgs.MsgInvalidRequest, "request.from is required")
	case req.Request.To.IsZero():
		return i18n.NewError(ctx, msgs.MsgInvalidRequest, "request.to is required")
	case req.RelayData.Paymaster.IsZero():
		return i18n.NewError(ctx, msgs.MsgInvalidRequest, "relayData.paymaster is required")
	case req.RelayData.GasPrice == nil:
		return i18n.NewError(ctx, msgs.MsgInvalidRequest, "relayData.gasPrice is required")
	case req.RelayData.PctRelayFee == nil || req.RelayData.BaseRelayFee == nil:
		return i18n.NewError(ctx, msgs.MsgInvalidRequest, "relayData fee fields are required")
	case req.Metadata.RelayMaxNonce == 0:
		return i18n.NewError(ctx, msgs.MsgInvalidRequest, "metadata.relayMaxNonce is required")
	}
	return nil
}

// paymasterGasLimits returns the cached or freshly queried getGasLimits()
// result for paymaster. Trust (and therefore TTL-vs-never-expire caching)
// is decided by the cache itself from its own trusted-address set, so the
// caller doesn't need to thread that decision through.
func (p *Pipeline) paymasterGasLimits(ctx context.Context, paymaster ethtx.Address) (*gasLimits, error) {
	if cached := p.cache.get(paymaster); cached != nil {
		return cached, nil
	}
	data := hubabi.Call("getGasLimits()")
	result, err := p.chainAccess.CallViewMethod(ctx, chain.CallRequest{To: paymaster, Data: data})
	if err != nil {
		return nil, err
	}
	limits := gasLimits{
		AcceptanceBudget: big.NewInt(0),
		PreRelayedGas:    big.NewInt(0),
		PostRelayedGas:   big.NewInt(0),
	}
	if len(result) >= 96 {
		limits.AcceptanceBudget = hubabi.DecodeUint256(result[0:32])
		limits.PreRelayedGas = hubabi.DecodeUint256(result[32:64])
		limits.PostRelayedGas = hubabi.DecodeUint256(result[64:96])
	}
	p.cache.put(paymaster, limits)
	return &limits, nil
}

// calculateCharge queries the hub's own fee-calculation view method rather
// than reimplementing its (pctRelayFee, baseRelayFee) arithmetic locally -
// the hub contract is the single source of truth for what it will actually
// charge.
func (p *Pipeline) calculateCharge(ctx context.Context, maxPossibleGas, gasPrice *big.Int) (*big.Int, error) {
	data := hubabi.Call("calculateCharge(uint256,uint256)", hubabi.EncodeUint256(maxPossibleGas), hubabi.EncodeUint256(gasPrice))
	result, err := p.chainAccess.CallViewMethod(ctx, chain.CallRequest{To: p.hub, Data: data})
	if err != nil {
		return nil, err
	}
	return hubabi.DecodeUint256(result), nil
}

// hubBalanceOf mirrors the reconciliation loop's replenish.go helper of the
// same name: the hub's internal balanceOf(address) view, here queried for
// the paymaster rather than the manager.
func (p *Pipeline) hubBalanceOf(ctx context.Context, addr ethtx.Address) (*big.Int, error) {
	data := hubabi.Call("balanceOf(address)", hubabi.EncodeAddress(addr))
	result, err := p.chainAccess.CallViewMethod(ctx, chain.CallRequest{To: p.hub, Data: data})
	if err != nil {
		return nil, err
	}
	return hubabi.DecodeUint256(result), nil
}

// simulateRelayCall dry-runs relayCall from the worker and requires
// paymasterAccepted=true. The view call's return data is decoded as a
// single leading bool word; a revert reason string (if the node surfaces
// one in err) is threaded through for the rejection message.
func (p *Pipeline) simulateRelayCall(ctx context.Context, req *RelayTransactionRequest, acceptanceBudget, maxPossibleGas *big.Int) (accepted bool, reason string, err error) {
	data := p.encodeRelayCall(req, acceptanceBudget, maxPossibleGas)
	result, callErr := p.chainAccess.CallViewMethod(ctx, chain.CallRequest{From: p.workerSigner, To: p.hub, Data: data})
	if callErr != nil {
		return false, callErr.Error(), nil
	}
	if len(result) < 32 {
		return false, "empty relayCall simulation result", nil
	}
	return hubabi.DecodeUint256(result[0:32]).Sign() != 0, "", nil
}

// encodeRelayCall builds the fixed-shape relayCall(...) call data this
// repository supports: acceptanceBudget, the forwarder request's
// (from,to,value,gas,nonce) and the relay's maxPossibleGas, without
// attempting the full nested RelayData/ForwarderRequest tuple ABI
// encoding; a production ChainAccess implementation would use a real ABI
// encoder (e.g. go-ethereum's accounts/abi) fed the full struct.
func (p *Pipeline) encodeRelayCall(req *RelayTransactionRequest, acceptanceBudget, maxPossibleGas *big.Int) ethtx.HexBytes {
	return hubabi.Call("relayCall(uint256,address,address,uint256,uint256,uint256)",
		hubabi.EncodeUint256(acceptanceBudget),
		hubabi.EncodeAddress(req.Request.From),
		hubabi.EncodeAddress(req.Request.To),
		hubabi.EncodeUint256(req.Request.Value),
		hubabi.EncodeUint256(new(big.Int).SetUint64(req.Request.Gas)),
		hubabi.EncodeUint256(maxPossibleGas),
	)
}

// sleepAlertedDelay blocks for a uniformly random duration in
// [minAlertedDelayMS, maxAlertedDelayMS], seeded from a CSPRNG - a
// predictable PRNG would let an adversary infer the throttling window and
// route around it.
func (p *Pipeline) sleepAlertedDelay(ctx context.Context) {
	min, max := p.readiness.AlertedDelayBounds()
	if max <= min {
		time.Sleep(time.Duration(min) * time.Millisecond)
		return
	}
	span := big.NewInt(int64(max - min + 1))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		time.Sleep(time.Duration(min) * time.Millisecond)
		return
	}
	delay := time.Duration(min+int(n.Int64())) * time.Millisecond
	log.L(ctx).Debugf("Alerted state active: sleeping %s before responding", delay)
	time.Sleep(delay)
}

func addrPtr(a ethtx.Address) *ethtx.Address { return &a }
