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

// Package reconcile drives the single cooperative tick: refresh gas price
// and manager balance, feed chain events to the RegistrationManager,
// boost/prune transactions, replenish the worker, and update the
// server's readiness flag with hysteresis. Grounded on the teacher's
// ticker-plus-channel engine loop in
// publictxmgr/transaction_manager_loop.go, generalized from orchestrating
// in-flight transaction stages to the relay's reconciliation contract.
package reconcile

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/kaleido-io/gsnrelay/internal/chain"
	"github.com/kaleido-io/gsnrelay/internal/confutil"
	"github.com/kaleido-io/gsnrelay/internal/ethtx"
	"github.com/kaleido-io/gsnrelay/internal/msgs"
	"github.com/kaleido-io/gsnrelay/internal/registration"
	"github.com/kaleido-io/gsnrelay/internal/requirement"
	"github.com/kaleido-io/gsnrelay/internal/txmgr"
	"github.com/kaleido-io/gsnrelay/pkg/log"
)

// Event is an out-of-band signal the loop publishes onto its event feed,
// for subscribers (the server facade, monitoring) to observe independently
// of Tick's return value.
type Event struct {
	Name   string
	Detail map[string]interface{}
}

// Event names published on the loop's feed.
const (
	EventFundingNeeded = "fundingNeeded"
	EventTickError     = "error"
)

// Loop is the ReconciliationLoop.
type Loop struct {
	chainAccess chain.Access
	txManager   txmgr.Manager
	registration *registration.Manager

	hub           ethtx.Address
	managerSigner ethtx.Address
	workerSigner  ethtx.Address

	checkInterval             time.Duration
	readyTimeout              time.Duration
	refreshStateTimeoutBlocks uint64
	successfulRoundsForReady  int
	gasPriceFactor            *big.Float

	managerTargetBalance    *big.Int
	minHubWithdrawalBalance *big.Int
	workerMinBalance        *big.Int
	workerTargetBalance     *big.Int
	managerMinBalanceVal    *big.Int

	alertedBlockDelay uint64
	minAlertedDelayMS int
	maxAlertedDelayMS int

	mu                sync.Mutex
	inProgress        bool
	lastScannedBlock  uint64
	lastRefreshBlock  uint64
	gasPrice          *big.Int
	ready             bool
	successfulRounds  int
	alerted           bool
	alertedBlock      uint64
	tickStartedAt     time.Time
	workerBalance     *requirement.AmountRequired

	stopCh chan struct{}
	doneCh chan struct{}

	events event.Feed
}

// Events subscribes ch to the loop's fundingNeeded/error signals. The
// returned Subscription must be released with Unsubscribe by the caller
// when no longer interested.
func (l *Loop) Events(ch chan<- Event) event.Subscription {
	return l.events.Subscribe(ch)
}

// New constructs a ReconciliationLoop. managerMinBalance is shared with the
// RegistrationManager's balance requirement.
func New(
	conf *Config,
	chainAccess chain.Access,
	txManager txmgr.Manager,
	reg *registration.Manager,
	hub, managerSigner, workerSigner ethtx.Address,
	managerMinBalance *big.Int,
) *Loop {
	factor, _, err := big.ParseFloat(confutil.StringNotEmpty(conf.GasPriceFactor, *DefaultConfig.GasPriceFactor), 10, 64, big.ToNearestEven)
	if err != nil {
		factor = big.NewFloat(1.0)
	}
	l := &Loop{
		chainAccess:  chainAccess,
		txManager:    txManager,
		registration: reg,

		hub:           hub,
		managerSigner: managerSigner,
		workerSigner:  workerSigner,

		checkInterval:             time.Duration(confutil.IntMin(conf.CheckIntervalMS, 100, *DefaultConfig.CheckIntervalMS)) * time.Millisecond,
		readyTimeout:              time.Duration(confutil.IntMin(conf.ReadyTimeoutMS, 1000, *DefaultConfig.ReadyTimeoutMS)) * time.Millisecond,
		refreshStateTimeoutBlocks: uint64(confutil.IntMin(conf.RefreshStateTimeoutBlocks, 0, *DefaultConfig.RefreshStateTimeoutBlocks)),
		successfulRoundsForReady:  confutil.IntMin(conf.SuccessfulRoundsForReady, 1, *DefaultConfig.SuccessfulRoundsForReady),
		gasPriceFactor:            factor,

		managerTargetBalance:    confutil.BigIntMin(conf.ManagerTargetBalance, big.NewInt(0), *DefaultConfig.ManagerTargetBalance),
		minHubWithdrawalBalance: confutil.BigIntMin(conf.MinHubWithdrawalBalance, big.NewInt(0), *DefaultConfig.MinHubWithdrawalBalance),
		workerMinBalance:        confutil.BigIntMin(conf.WorkerMinBalance, big.NewInt(0), *DefaultConfig.WorkerMinBalance),
		workerTargetBalance:     confutil.BigIntMin(conf.WorkerTargetBalance, big.NewInt(0), *DefaultConfig.WorkerTargetBalance),
		managerMinBalanceVal:    managerMinBalance,

		alertedBlockDelay: uint64(confutil.IntMin(conf.AlertedBlockDelay, 0, *DefaultConfig.AlertedBlockDelay)),
		minAlertedDelayMS: confutil.IntMin(conf.MinAlertedDelayMS, 0, *DefaultConfig.MinAlertedDelayMS),
		maxAlertedDelayMS: confutil.IntMin(conf.MaxAlertedDelayMS, 0, *DefaultConfig.MaxAlertedDelayMS),

	}
	l.workerBalance = requirement.New("worker balance", l.workerMinBalance)
	return l
}

func (l *Loop) managerMinBalance() *big.Int { return l.managerMinBalanceVal }

// IsReady reports the debounced readiness flag external callers should see.
func (l *Loop) IsReady() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

// IsAlerted reports whether the relay is currently throttling admissions
// following a TransactionRejectedByPaymaster event.
func (l *Loop) IsAlerted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.alerted
}

// AlertedDelayBounds returns the [min,max] millisecond range the
// AdmissionPipeline should sleep for post-submission while alerted.
func (l *Loop) AlertedDelayBounds() (int, int) {
	return l.minAlertedDelayMS, l.maxAlertedDelayMS
}

// GasPrice returns the last-refreshed network gas price multiplied by
// gasPriceFactor, as used by admission's gas-price validation step.
func (l *Loop) GasPrice() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gasPrice == nil {
		return big.NewInt(0)
	}
	return l.gasPrice
}

// Start runs Tick on a time.Ticker(checkInterval) until ctx is canceled or
// Stop is called. Each Tick arms a readyTimeout watchdog that never forcibly
// cancels the running tick; on expiry it marks the server not-ready and
// zeroes the success-rounds counter.
func (l *Loop) Start(ctx context.Context) {
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	go l.run(ctx)
}

// Stop signals the loop to exit, stopping the interval and then draining
// any in-progress tick before returning.
func (l *Loop) Stop() {
	if l.stopCh == nil {
		return
	}
	close(l.stopCh)
	<-l.doneCh
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.doneCh)
	ticker := time.NewTicker(l.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			block, err := l.chainAccess.GetBlockNumber(ctx)
			if err != nil {
				log.L(ctx).Errorf("Failed to fetch latest block number: %s", err)
				continue
			}
			if err := l.Tick(ctx, block); err != nil {
				log.L(ctx).Errorf("Reconciliation tick failed: %s", err)
			}
		}
	}
}

// Tick runs exactly one round of the loop's eleven-step contract.
func (l *Loop) Tick(ctx context.Context, block uint64) error {
	l.mu.Lock()
	if l.inProgress {
		l.mu.Unlock()
		log.L(ctx).Warnf("Reconciliation tick already in progress, skipping block %d", block)
		return nil
	}
	if block <= l.lastScannedBlock {
		l.mu.Unlock()
		return nil
	}
	l.inProgress = true
	l.tickStartedAt = time.Now()
	l.mu.Unlock()

	// Soft-deadline watchdog timer: once readyTimeout expires while the tick
	// is still running, the server drops to not-ready and the success-rounds
	// counter is zeroed; the tick itself is left to run (no forced cancellation).
	watchdog := time.AfterFunc(l.readyTimeout, func() {
		l.mu.Lock()
		l.successfulRounds = 0
		l.ready = false
		l.mu.Unlock()
		log.L(ctx).Warnf("Reconciliation tick for block %d still running after readyTimeout, marking not ready", block)
	})
	defer watchdog.Stop()

	defer func() {
		l.mu.Lock()
		l.inProgress = false
		l.mu.Unlock()
	}()

	if err := l.tick(ctx, block); err != nil {
		l.mu.Lock()
		l.successfulRounds = 0
		l.ready = false
		l.mu.Unlock()
		l.events.Send(Event{Name: EventTickError, Detail: map[string]interface{}{"block": block, "error": err.Error()}})
		return err
	}

	// Soft-deadline watchdog: a tick that ran longer than readyTimeout does
	// not get to count toward readiness, even though it was allowed to run
	// to completion rather than being forcibly interrupted (no forced
	// cancellation).
	if time.Since(l.tickStartedAt) > l.readyTimeout {
		l.mu.Lock()
		l.successfulRounds = 0
		l.ready = false
		l.mu.Unlock()
		log.L(ctx).Warnf("Reconciliation tick for block %d exceeded readyTimeout, resetting readiness", block)
	}
	return nil
}

func (l *Loop) tick(ctx context.Context, block uint64) error {
	l.mu.Lock()
	alreadyReady := l.ready
	startBlock := l.lastScannedBlock
	skipRefresh := block-l.lastRefreshBlock < l.refreshStateTimeoutBlocks && alreadyReady
	l.mu.Unlock()

	boosted := 0
	pruned := 0
	var submitted []ethtx.Hash

	if !skipRefresh {
		networkGasPrice, err := l.chainAccess.GetGasPrice(ctx)
		if err != nil {
			return err
		}
		gasPriceF := new(big.Float).Mul(new(big.Float).SetInt(networkGasPrice), l.gasPriceFactor)
		gasPrice, _ := gasPriceF.Int(nil)
		if gasPrice.Sign() == 0 {
			return i18n.NewError(ctx, msgs.MsgGasPriceZero)
		}
		l.mu.Lock()
		l.gasPrice = gasPrice
		l.mu.Unlock()

		if err := l.registration.RefreshBalance(ctx); err != nil {
			return err
		}
		if !l.registration.BalanceRequired.IsSatisfied() {
			l.mu.Lock()
			l.ready = false
			l.successfulRounds = 0
			l.mu.Unlock()
			return nil
		}

		fromBlock := l.lastScannedBlock + 1
		events, err := l.chainAccess.GetPastEventsForHub(ctx, l.hub, []string{l.managerSigner.String()}, fromBlock, block)
		if err != nil {
			return err
		}
		shouldRegisterAgain := l.registration.ShouldRegisterAgain(block)
		hashes, err := l.registration.HandlePastEvents(ctx, events, fromBlock, block, shouldRegisterAgain)
		if err != nil {
			return err
		}
		submitted = append(submitted, hashes...)

		if err := l.txManager.MarkMinedTransactions(ctx, block, []ethtx.Address{l.managerSigner, l.workerSigner}); err != nil {
			log.L(ctx).Warnf("Failed to mark mined transactions: %s", err)
		}
		if err := l.txManager.RemoveConfirmedTransactions(ctx, block, []ethtx.Address{l.managerSigner, l.workerSigner}); err != nil {
			log.L(ctx).Warnf("Failed to remove confirmed transactions: %s", err)
		} else {
			pruned = 1
		}
		for _, signer := range []ethtx.Address{l.managerSigner, l.workerSigner} {
			hash, err := l.txManager.BoostOldestPendingTransactionForSigner(ctx, signer, block)
			if err != nil {
				log.L(ctx).Warnf("Failed to boost pending transaction for %s: %s", signer, err)
				continue
			}
			if hash != nil {
				boosted++
			}
		}

		l.handleAlertEvents(ctx, events, block)
		l.mu.Lock()
		l.lastRefreshBlock = block
		l.mu.Unlock()
	}

	replenished, err := l.replenish(ctx, block)
	if err != nil {
		log.L(ctx).Warnf("Replenishment failed: %s", err)
	}
	submitted = append(submitted, replenished...)

	l.mu.Lock()
	l.lastScannedBlock = block
	registered := l.registration.IsRegistered()
	workerReady := l.workerBalance.IsSatisfied()
	if registered && workerReady {
		l.successfulRounds++
		if l.successfulRounds >= l.successfulRoundsForReady {
			l.ready = true
		}
	} else {
		l.successfulRounds = 0
		l.ready = false
	}
	if l.alerted && l.alertedBlock+l.alertedBlockDelay < block {
		l.alerted = false
		log.L(ctx).Infof("Alerted state cleared at block %d", block)
	}
	ready := l.ready
	l.mu.Unlock()

	log.L(ctx).Infof("Tick at block %d: scannedFrom=%d boosted=%d pruned=%d submitted=%d ready=%t", block, startBlock+1, boosted, pruned, len(submitted), ready)
	return nil
}

// handleAlertEvents scans the tick's event batch for
// TransactionRejectedByPaymaster, entering the alerted state.
func (l *Loop) handleAlertEvents(ctx context.Context, events []chain.LogEvent, block uint64) {
	for _, ev := range events {
		// Same manager-scoping guard as registration.go's HandlePastEvents:
		// a shared hub can emit this event for another relay's manager.
		if !ev.Subject.IsZero() && !ev.Subject.Equal(l.managerSigner) {
			continue
		}
		if ev.Name == "TransactionRejectedByPaymaster" {
			l.mu.Lock()
			l.alerted = true
			l.alertedBlock = block
			l.mu.Unlock()
			log.L(ctx).Warnf("Entering alerted state at block %d: TransactionRejectedByPaymaster", block)
		}
	}
}

// ReplenishNow lets the AdmissionPipeline trigger an out-of-band
// worker-replenish check after a successful relay call submission,
// without granting admission direct access to the loop's internal state -
// the cyclic reference between the facade and its components is resolved
// by exposing this single read/write capability.
func (l *Loop) ReplenishNow(ctx context.Context, currentBlock uint64) ([]ethtx.Hash, error) {
	return l.replenish(ctx, currentBlock)
}
