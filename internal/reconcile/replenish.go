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

package reconcile

import (
	"context"
	"math/big"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/kaleido-io/gsnrelay/internal/chain"
	"github.com/kaleido-io/gsnrelay/internal/ethtx"
	"github.com/kaleido-io/gsnrelay/internal/hubabi"
	"github.com/kaleido-io/gsnrelay/internal/msgs"
	"github.com/kaleido-io/gsnrelay/internal/txmgr"
	"github.com/kaleido-io/gsnrelay/pkg/log"
)

// replenish tops up the manager and worker balances. Given the manager's
// on-chain ETH balance, its balance held inside the hub contract, and the
// worker's ETH balance, it submits at most a withdrawal (hub -> manager)
// and a value transfer (manager -> worker), each gated on no equivalent
// action already being in flight.
func (l *Loop) replenish(ctx context.Context, currentBlock uint64) ([]ethtx.Hash, error) {
	var hashes []ethtx.Hash

	managerEthBalance, err := l.chainAccess.GetBalance(ctx, l.managerSigner, chain.TagLatest)
	if err != nil {
		return hashes, err
	}

	if managerEthBalance.Cmp(l.managerTargetBalance) < 0 {
		managerHubBalance, err := l.hubBalanceOf(ctx, l.managerSigner)
		if err != nil {
			return hashes, err
		}
		if managerHubBalance.Cmp(l.minHubWithdrawalBalance) >= 0 {
			pending, err := l.txManager.IsActionPending(ctx, ethtx.ActionDepositWithdrawal, &l.managerSigner)
			if err != nil {
				return hashes, err
			}
			if !pending {
				data := hubabi.Call("withdraw(uint256,address)", hubabi.EncodeUint256(managerHubBalance), hubabi.EncodeAddress(l.managerSigner))
				hash, _, err := l.txManager.SendTransaction(ctx, &txmgr.SendDetails{
					Signer:              l.managerSigner,
					Action:              ethtx.ActionDepositWithdrawal,
					To:                  &l.hub,
					Value:               big.NewInt(0),
					Data:                data,
					CreationBlockNumber: currentBlock,
				})
				if err != nil {
					return hashes, err
				}
				log.L(ctx).Infof("Withdrew %s from hub balance of %s: tx %s", managerHubBalance, l.managerSigner, hash)
				hashes = append(hashes, hash)
			}
		}
	}

	// Recompute managerEthBalance: the withdrawal above, if submitted, has
	// not yet mined, so this only reflects a change if no withdrawal ran.
	managerEthBalance, err = l.chainAccess.GetBalance(ctx, l.managerSigner, chain.TagLatest)
	if err != nil {
		return hashes, err
	}

	workerBalance, err := l.chainAccess.GetBalance(ctx, l.workerSigner, chain.TagLatest)
	if err != nil {
		return hashes, err
	}
	l.workerBalance.SetCurrent(ctx, workerBalance)

	if workerBalance.Cmp(l.workerMinBalance) < 0 {
		pending, err := l.txManager.IsActionPending(ctx, ethtx.ActionValueTransfer, &l.managerSigner)
		if err != nil {
			return hashes, err
		}
		if !pending {
			refill := new(big.Int).Sub(l.workerTargetBalance, workerBalance)
			spare := new(big.Int).Sub(managerEthBalance, l.managerMinBalance())
			if refill.Cmp(spare) < 0 {
				hash, _, err := l.txManager.SendTransaction(ctx, &txmgr.SendDetails{
					Signer:              l.managerSigner,
					Action:              ethtx.ActionValueTransfer,
					To:                  &l.workerSigner,
					Value:               refill,
					CreationBlockNumber: currentBlock,
				})
				if err != nil {
					return hashes, err
				}
				log.L(ctx).Infof("Replenished worker %s with %s: tx %s", l.workerSigner, refill, hash)
				hashes = append(hashes, hash)
			} else {
				fundingErr := i18n.NewError(ctx, msgs.MsgFundingNeeded, l.workerSigner, refill)
				log.L(ctx).Error(fundingErr)
				l.events.Send(Event{Name: EventFundingNeeded, Detail: map[string]interface{}{
					"signer":    l.workerSigner.String(),
					"shortfall": new(big.Int).Sub(refill, spare).String(),
				}})
			}
		}
	}

	return hashes, nil
}

// hubBalanceOf queries the hub contract's internal balanceOf(address) view,
// the balance the relay can withdraw out to its manager EOA.
func (l *Loop) hubBalanceOf(ctx context.Context, addr ethtx.Address) (*big.Int, error) {
	data := hubabi.Call("balanceOf(address)", hubabi.EncodeAddress(addr))
	result, err := l.chainAccess.CallViewMethod(ctx, chain.CallRequest{To: l.hub, Data: data})
	if err != nil {
		return nil, err
	}
	return hubabi.DecodeUint256(result), nil
}
