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

// Package chain declares the ChainAccess port: everything the
// reconciliation engine and admission pipeline need from the chain,
// named as an interface so the engine's tests run against an in-memory
// fake rather than a live node. internal/chainclient provides the
// concrete JSON-RPC implementation.
package chain

import (
	"context"
	"math/big"

	"github.com/kaleido-io/gsnrelay/internal/ethtx"
)

// BlockTag selects "latest" or "pending" for balance/nonce queries.
type BlockTag string

const (
	TagLatest  BlockTag = "latest"
	TagPending BlockTag = "pending"
)

// Block is the subset of block header fields the engine consumes.
type Block struct {
	Number    uint64
	Hash      ethtx.Hash
	Timestamp int64
}

// CallRequest is an eth_call / eth_estimateGas request.
type CallRequest struct {
	From  ethtx.Address
	To    ethtx.Address
	Value *big.Int
	Data  ethtx.HexBytes
}

// LogEvent is a single decoded hub/paymaster event.
type LogEvent struct {
	Name        string
	Address     ethtx.Address
	BlockNumber uint64
	TxHash      ethtx.Hash
	Topics      []ethtx.Hash
	Data        ethtx.HexBytes
	// Args carries ABI-decoded named parameters (e.g. "newStake", "owner").
	Args map[string]interface{}
	// Subject is the indexed relayManager address every event this relay
	// reacts to carries as topics[1] - decoded so callers can tell their
	// own manager's events apart from another relay's on the same shared
	// hub/stake-manager contract, per spec.md §4.4's "topics matching the
	// manager address". Zero when the underlying log had no second topic.
	Subject ethtx.Address
}

// Access is the ChainAccess port.
type Access interface {
	GetBlockNumber(ctx context.Context) (uint64, error)
	GetBlock(ctx context.Context, tag BlockTag) (*Block, error)
	GetBalance(ctx context.Context, addr ethtx.Address, tag BlockTag) (*big.Int, error)
	GetGasPrice(ctx context.Context) (*big.Int, error)
	GetChainID(ctx context.Context) (uint64, error)
	GetNetworkID(ctx context.Context) (uint64, error)
	GetCode(ctx context.Context, addr ethtx.Address) ([]byte, error)
	GetTransactionCount(ctx context.Context, addr ethtx.Address, tag BlockTag) (uint64, error)
	GetPastEventsForHub(ctx context.Context, hub ethtx.Address, topics []string, fromBlock, toBlock uint64) ([]LogEvent, error)
	CallViewMethod(ctx context.Context, call CallRequest) ([]byte, error)
	EstimateGas(ctx context.Context, call CallRequest) (uint64, error)
	SendRawTransaction(ctx context.Context, raw []byte) (ethtx.Hash, error)
}
