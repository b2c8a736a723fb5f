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

package chainclient

import (
	"context"
	"math/big"
	"sync"

	"github.com/kaleido-io/gsnrelay/internal/chain"
	"github.com/kaleido-io/gsnrelay/internal/ethtx"
)

// ViewCallHandler answers one eth_call/eth_estimateGas against a
// particular contract address for the Fake.
type ViewCallHandler func(call chain.CallRequest) ([]byte, error)

// Fake is the in-memory ChainAccess double used across this repository's
// engine tests: every field is directly settable so a test can drive the
// reconciliation loop, registration manager or admission pipeline
// through a specific chain state without a live node.
type Fake struct {
	mu sync.Mutex

	BlockNumber uint64
	GasPriceVal *big.Int
	ChainIDVal  uint64
	NetworkID   uint64
	Balances    map[ethtx.Address]*big.Int
	Nonces      map[ethtx.Address]uint64
	Code        map[ethtx.Address][]byte
	Events      []chain.LogEvent
	ViewCalls   map[ethtx.Address]ViewCallHandler
	EstimateGasVal  uint64
	EstimateGasErr  error
	SendRawTxHash   ethtx.Hash
	SendRawTxErr    error
	SentRawTxs      [][]byte
}

// NewFake returns an empty Fake ready for a test to populate.
func NewFake() *Fake {
	return &Fake{
		GasPriceVal: big.NewInt(1),
		Balances:    map[ethtx.Address]*big.Int{},
		Nonces:      map[ethtx.Address]uint64{},
		Code:        map[ethtx.Address][]byte{},
		ViewCalls:   map[ethtx.Address]ViewCallHandler{},
	}
}

func (f *Fake) GetBlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.BlockNumber, nil
}

func (f *Fake) GetBlock(ctx context.Context, tag chain.BlockTag) (*chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &chain.Block{Number: f.BlockNumber}, nil
}

func (f *Fake) GetBalance(ctx context.Context, addr ethtx.Address, tag chain.BlockTag) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.Balances[addr]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *Fake) GetGasPrice(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.GasPriceVal, nil
}

func (f *Fake) GetChainID(ctx context.Context) (uint64, error) { return f.ChainIDVal, nil }
func (f *Fake) GetNetworkID(ctx context.Context) (uint64, error) { return f.NetworkID, nil }

func (f *Fake) GetCode(ctx context.Context, addr ethtx.Address) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Code[addr], nil
}

func (f *Fake) GetTransactionCount(ctx context.Context, addr ethtx.Address, tag chain.BlockTag) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Nonces[addr], nil
}

// GetPastEventsForHub mirrors the real client's topics[1]-is-the-manager
// filtering contract, so a test driving the engine against Fake exercises
// the same manager-scoping behavior a live node would apply.
func (f *Fake) GetPastEventsForHub(ctx context.Context, hub ethtx.Address, topics []string, fromBlock, toBlock uint64) ([]chain.LogEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var wanted map[ethtx.Address]bool
	if len(topics) > 0 {
		wanted = make(map[ethtx.Address]bool, len(topics))
		for _, t := range topics {
			addr, err := ethtx.ParseAddress(t)
			if err != nil {
				return nil, err
			}
			wanted[addr] = true
		}
	}
	var out []chain.LogEvent
	for _, ev := range f.Events {
		if ev.BlockNumber < fromBlock || ev.BlockNumber > toBlock {
			continue
		}
		if wanted != nil && !wanted[ev.Subject] {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (f *Fake) CallViewMethod(ctx context.Context, call chain.CallRequest) ([]byte, error) {
	f.mu.Lock()
	handler := f.ViewCalls[call.To]
	f.mu.Unlock()
	if handler == nil {
		return make([]byte, 32), nil
	}
	return handler(call)
}

func (f *Fake) EstimateGas(ctx context.Context, call chain.CallRequest) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EstimateGasErr != nil {
		return 0, f.EstimateGasErr
	}
	if f.EstimateGasVal == 0 {
		return 21000, nil
	}
	return f.EstimateGasVal, nil
}

func (f *Fake) SendRawTransaction(ctx context.Context, raw []byte) (ethtx.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SentRawTxs = append(f.SentRawTxs, raw)
	if f.SendRawTxErr != nil {
		return "", f.SendRawTxErr
	}
	if f.SendRawTxHash != "" {
		return f.SendRawTxHash, nil
	}
	return ethtx.Hash("0x" + "deadbeef" + "00000000000000000000000000000000000000000000000000000000"), nil
}

var _ chain.Access = (*Fake)(nil)
